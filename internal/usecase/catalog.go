package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"freetime/internal/domain"
	"freetime/internal/ports"
)

// MaxDailyGoal bounds the hours a daily goal may be set to.
const MaxDailyGoal = 24.0

// Catalog manages clients, projects, the daily goal and manual session
// edits on whichever backend is current. Every operation reports success
// as a flag; rejections and failures are logged, never returned.
type Catalog struct {
	backends BackendSource
	log      *slog.Logger
}

func NewCatalog(backends BackendSource, log *slog.Logger) *Catalog {
	return &Catalog{backends: backends, log: log}
}

func (c *Catalog) Clients() []string  { return c.backends.Current().Refs(domain.Clients) }
func (c *Catalog) Projects() []string { return c.backends.Current().Refs(domain.Projects) }
func (c *Catalog) DailyGoal() float64 { return c.backends.Current().DailyGoal() }

func (c *Catalog) AddClient(ctx context.Context, name string) bool {
	return c.addRef(ctx, domain.Clients, name)
}

func (c *Catalog) AddProject(ctx context.Context, name string) bool {
	return c.addRef(ctx, domain.Projects, name)
}

func (c *Catalog) DeleteClient(ctx context.Context, name string) bool {
	return c.deleteRef(ctx, domain.Clients, name)
}

func (c *Catalog) DeleteProject(ctx context.Context, name string) bool {
	return c.deleteRef(ctx, domain.Projects, name)
}

// RenameClient renames a client and rewrites the client label of every
// session that carried the old name.
func (c *Catalog) RenameClient(ctx context.Context, oldName, newName string) bool {
	return c.renameRef(ctx, domain.Clients, oldName, newName)
}

// RenameProject is RenameClient for projects.
func (c *Catalog) RenameProject(ctx context.Context, oldName, newName string) bool {
	return c.renameRef(ctx, domain.Projects, oldName, newName)
}

func (c *Catalog) addRef(ctx context.Context, kind domain.RefKind, name string) bool {
	name = strings.TrimSpace(name)
	b := c.backends.Current()
	if name == "" {
		c.reject("add", kind, "blank name")
		return false
	}
	if slices.Contains(b.Refs(kind), name) {
		c.reject("add", kind, "name exists", slog.String("name", name))
		return false
	}
	if err := b.AddRef(ctx, kind, name); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			c.reject("add", kind, "name exists", slog.String("name", name))
			return false
		}
		c.failed("add", kind, err)
		return false
	}
	return true
}

func (c *Catalog) deleteRef(ctx context.Context, kind domain.RefKind, name string) bool {
	b := c.backends.Current()
	if err := b.DeleteRef(ctx, kind, name); err != nil {
		c.failed("delete", kind, err, slog.String("name", name))
		return false
	}
	return true
}

func (c *Catalog) renameRef(ctx context.Context, kind domain.RefKind, oldName, newName string) bool {
	newName = strings.TrimSpace(newName)
	b := c.backends.Current()
	names := b.Refs(kind)
	switch {
	case oldName == "" || newName == "":
		c.reject("rename", kind, "blank name")
		return false
	case oldName == newName:
		c.reject("rename", kind, "name unchanged", slog.String("name", oldName))
		return false
	case !slices.Contains(names, oldName):
		c.reject("rename", kind, "unknown name", slog.String("name", oldName))
		return false
	case slices.Contains(names, newName):
		c.reject("rename", kind, "name exists", slog.String("name", newName))
		return false
	}
	if err := b.RenameRef(ctx, kind, oldName, newName); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			c.reject("rename", kind, "name exists", slog.String("name", newName))
			return false
		}
		c.failed("rename", kind, err, slog.String("from", oldName), slog.String("to", newName))
		return false
	}
	c.log.Info("reference renamed", slog.String("kind", string(kind)),
		slog.String("from", oldName), slog.String("to", newName), slog.String("backend", b.Name()))
	return true
}

// SetDailyGoal accepts hours in (0, 24].
func (c *Catalog) SetDailyGoal(ctx context.Context, hours float64) bool {
	if hours <= 0 || hours > MaxDailyGoal {
		c.log.Warn("daily goal rejected", slog.Float64("hours", hours))
		return false
	}
	if err := c.backends.Current().SetDailyGoal(ctx, hours); err != nil {
		c.log.Error("daily goal not saved", slog.String("error", err.Error()))
		return false
	}
	return true
}

// AddSession stores a manually entered session. The start time must be
// set and the duration non-negative.
func (c *Catalog) AddSession(ctx context.Context, s domain.Session) bool {
	if !s.Resolved() || s.Duration < 0 {
		c.log.Warn("manual session rejected",
			slog.Bool("hasStart", s.Resolved()), slog.Int64("duration", s.Duration))
		return false
	}
	s.ID = ""
	s.Task = orDefault(strings.TrimSpace(s.Task), domain.DefaultTask)
	s.Client = orDefault(s.Client, domain.DefaultClient)
	s.Project = orDefault(s.Project, domain.DefaultProject)
	s.Date = s.StartTime.Format(domain.DateLayout)
	if err := c.backends.Current().InsertSession(ctx, s); err != nil {
		c.log.Error("manual session not saved", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Catalog) DeleteSession(ctx context.Context, id string) bool {
	if err := c.backends.Current().DeleteSession(ctx, id); err != nil {
		lvl := slog.LevelError
		if errors.Is(err, ports.ErrNotFound) {
			lvl = slog.LevelWarn
		}
		c.log.Log(ctx, lvl, "session not deleted", slog.String("id", id), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Catalog) reject(op string, kind domain.RefKind, reason string, attrs ...any) {
	args := append([]any{slog.String("op", op), slog.String("kind", string(kind)), slog.String("reason", reason)}, attrs...)
	c.log.Warn("reference change rejected", args...)
}

func (c *Catalog) failed(op string, kind domain.RefKind, err error, attrs ...any) {
	args := append([]any{slog.String("op", op), slog.String("kind", string(kind)), slog.String("error", err.Error())}, attrs...)
	c.log.Error("reference change failed", args...)
}
