package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Placeholders used when a session is started without labels.
const (
	DefaultTask    = "Untitled task"
	DefaultClient  = "Default client"
	DefaultProject = "Default project"
)

// DateLayout is the day key stamped on stored sessions.
const DateLayout = "2006-01-02"

// Session represents one tracked interval of work.
type Session struct {
	ID        string     `json:"id"`
	Task      string     `json:"task"`
	Client    string     `json:"client"`
	Project   string     `json:"project"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Duration  int64      `json:"duration"` // seconds
	Date      string     `json:"date,omitempty"`

	// Remote-only stamps.
	UserID    string     `json:"userId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Resolved reports whether the start instant could be decoded.
func (s Session) Resolved() bool { return !s.StartTime.IsZero() }

// Seconds returns the duration clamped at zero.
func (s Session) Seconds() int64 {
	if s.Duration < 0 {
		return 0
	}
	return s.Duration
}

// SessionPatch carries the fields rewritten when a resumed session stops.
type SessionPatch struct {
	EndTime  time.Time
	Duration int64
}

// Apply returns s with the patch applied.
func (p SessionPatch) Apply(s Session) Session {
	end := p.EndTime
	s.EndTime = &end
	s.Duration = p.Duration
	return s
}

// SortSessionsByStart sorts newest first. The sort is stable so sessions
// sharing a start instant keep their delivery order.
func SortSessionsByStart(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
}

// RenameLabel rewrites the client or project label old to new and reports
// how many sessions changed. The input slice is not modified.
func RenameLabel(sessions []Session, kind RefKind, old, new string) ([]Session, int) {
	out := make([]Session, len(sessions))
	n := 0
	for i, s := range sessions {
		switch {
		case kind == Clients && s.Client == old:
			s.Client = new
			n++
		case kind == Projects && s.Project == old:
			s.Project = new
			n++
		}
		out[i] = s
	}
	return out, n
}

// rawSession mirrors the stored JSON with loosely typed time and duration
// fields; records written by older clients or exported from other stores
// do not agree on a representation.
type rawSession struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Client    string          `json:"client"`
	Project   string          `json:"project"`
	StartTime json.RawMessage `json:"startTime"`
	EndTime   json.RawMessage `json:"endTime"`
	Duration  json.RawMessage `json:"duration"`
	Date      string          `json:"date"`
	UserID    string          `json:"userId"`
	CreatedAt json.RawMessage `json:"createdAt"`
	UpdatedAt json.RawMessage `json:"updatedAt"`
}

// UnmarshalJSON never fails on a bad time or duration: an unparseable
// startTime decodes to the zero time and a non-numeric duration to 0.
func (s *Session) UnmarshalJSON(b []byte) error {
	var raw rawSession
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Session{
		ID:      raw.ID,
		Task:    raw.Task,
		Client:  raw.Client,
		Project: raw.Project,
		Date:    raw.Date,
		UserID:  raw.UserID,
	}
	if t, ok := ParseInstant(raw.StartTime); ok {
		s.StartTime = t
	}
	if t, ok := ParseInstant(raw.EndTime); ok {
		s.EndTime = &t
	}
	if t, ok := ParseInstant(raw.CreatedAt); ok {
		s.CreatedAt = &t
	}
	if t, ok := ParseInstant(raw.UpdatedAt); ok {
		s.UpdatedAt = &t
	}
	s.Duration = parseSeconds(raw.Duration)
	return nil
}

func parseSeconds(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}
