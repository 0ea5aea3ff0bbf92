package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"freetime/internal/domain"
	"freetime/internal/usecase"
)

// HTTPServer returns a configured http.Server exposing the timer, reference
// data and reports. Call ListenAndServe on the returned server in a
// goroutine and Shutdown it on exit.
func (a *App) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(a.log, a.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Info("http server configured", slog.String("addr", addr))
	return srv
}

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /timer", a.handleTimer)
	mux.HandleFunc("POST /timer/start", a.handleStart)
	mux.HandleFunc("POST /timer/resume", a.handleResume)
	mux.HandleFunc("POST /timer/stop", a.handleStop)

	mux.HandleFunc("GET /sessions", a.handleListSessions)
	mux.HandleFunc("POST /sessions", a.handleAddSession)
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !a.Catalog.DeleteSession(r.Context(), r.PathValue("id")) {
			writeError(w, http.StatusNotFound, "session not deleted")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	a.refRoutes(mux, "/clients", refOps{
		list: a.Catalog.Clients, add: a.Catalog.AddClient,
		rename: a.Catalog.RenameClient, remove: a.Catalog.DeleteClient,
	})
	a.refRoutes(mux, "/projects", refOps{
		list: a.Catalog.Projects, add: a.Catalog.AddProject,
		rename: a.Catalog.RenameProject, remove: a.Catalog.DeleteProject,
	})

	mux.HandleFunc("GET /goal", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, goalBody{DailyGoal: a.Catalog.DailyGoal()})
	})
	mux.HandleFunc("PUT /goal", func(w http.ResponseWriter, r *http.Request) {
		var body goalBody
		if !decodeBody(w, r, &body) {
			return
		}
		if !a.Catalog.SetDailyGoal(r.Context(), body.DailyGoal) {
			writeError(w, http.StatusBadRequest, "daily goal must be in (0, 24]")
			return
		}
		writeJSON(w, http.StatusOK, goalBody{DailyGoal: a.Catalog.DailyGoal()})
	})

	// /reports/summary?from=...&to=...
	// from/to accept RFC3339 or YYYY-MM-DD. If omitted, both default to today.
	mux.HandleFunc("GET /reports/summary", func(w http.ResponseWriter, r *http.Request) {
		from, to := a.rangeQuery(r)
		writeJSON(w, http.StatusOK, a.Reports.Summary(from, to))
	})

	mux.HandleFunc("GET /export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="freetime-export.json"`)
		if err := a.Export().WriteJSON(w); err != nil {
			a.log.Error("export failed", slog.String("error", err.Error()))
		}
	})

	mux.HandleFunc("DELETE /data", func(w http.ResponseWriter, r *http.Request) {
		a.ClearLocal(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"cleared": "local"})
	})

	mux.HandleFunc("POST /auth/identity", func(w http.ResponseWriter, r *http.Request) {
		var id domain.Identity
		if !decodeBody(w, r, &id) {
			return
		}
		if strings.TrimSpace(id.ID) == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		a.SignIn(id)
		writeJSON(w, http.StatusOK, map[string]string{"backend": a.Backend().Name()})
	})
	mux.HandleFunc("DELETE /auth/identity", func(w http.ResponseWriter, r *http.Request) {
		a.SignOut()
		writeJSON(w, http.StatusOK, map[string]string{"backend": a.Backend().Name()})
	})

	return mux
}

type startBody struct {
	Task    string `json:"task"`
	Client  string `json:"client"`
	Project string `json:"project"`
}

type resumeBody struct {
	SessionID string `json:"sessionId"`
}

type goalBody struct {
	DailyGoal float64 `json:"dailyGoal"`
}

type refBody struct {
	Name string `json:"name"`
}

type timerBody struct {
	usecase.Status
	TodayTotal   int64   `json:"todayTotal"`
	GoalProgress float64 `json:"goalProgress"`
}

func (a *App) timerView() timerBody {
	st := a.Timer.Status()
	now := a.Now()
	return timerBody{
		Status:       st,
		TodayTotal:   a.Reports.TodayTotal(now, st),
		GoalProgress: a.Reports.GoalProgress(now, st),
	}
}

func (a *App) handleTimer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.timerView())
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if !decodeBody(w, r, &body) {
		return
	}
	task := strings.TrimSpace(body.Task)
	if task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	if !a.Timer.Start(task, body.Client, body.Project) {
		writeError(w, http.StatusConflict, "timer already running")
		return
	}
	writeJSON(w, http.StatusOK, a.timerView())
}

func (a *App) handleResume(w http.ResponseWriter, r *http.Request) {
	var body resumeBody
	if !decodeBody(w, r, &body) {
		return
	}
	var found *domain.Session
	for _, s := range a.Backend().Sessions() {
		if s.ID == body.SessionID {
			found = &s
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if !a.Timer.Resume(*found) {
		writeError(w, http.StatusConflict, "timer already running")
		return
	}
	writeJSON(w, http.StatusOK, a.timerView())
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	// the session must be saved even if the client goes away
	s, ok := a.Timer.Stop(context.WithoutCancel(r.Context()))
	if !ok {
		writeError(w, http.StatusConflict, "timer not running")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") == "" && q.Get("to") == "" {
		sessions := a.Backend().Sessions()
		domain.SortSessionsByStart(sessions)
		writeJSON(w, http.StatusOK, sessions)
		return
	}
	from, to := a.rangeQuery(r)
	writeJSON(w, http.StatusOK, a.Reports.SessionsInRange(from, to))
}

func (a *App) handleAddSession(w http.ResponseWriter, r *http.Request) {
	var s domain.Session
	if !decodeBody(w, r, &s) {
		return
	}
	if !a.Catalog.AddSession(r.Context(), s) {
		writeError(w, http.StatusBadRequest, "session needs a start time and a non-negative duration")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type refOps struct {
	list   func() []string
	add    func(context.Context, string) bool
	rename func(ctx context.Context, oldName, newName string) bool
	remove func(context.Context, string) bool
}

func (a *App) refRoutes(mux *http.ServeMux, base string, ops refOps) {
	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ops.list())
	})
	mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		var body refBody
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		if !ops.add(r.Context(), body.Name) {
			writeError(w, http.StatusConflict, "name already exists")
			return
		}
		writeJSON(w, http.StatusCreated, ops.list())
	})
	mux.HandleFunc("PUT "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body refBody
		if !decodeBody(w, r, &body) {
			return
		}
		if !ops.rename(r.Context(), r.PathValue("name"), body.Name) {
			writeError(w, http.StatusConflict, "rename rejected")
			return
		}
		writeJSON(w, http.StatusOK, ops.list())
	})
	mux.HandleFunc("DELETE "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		if !ops.remove(r.Context(), r.PathValue("name")) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// rangeQuery reads from/to, defaulting both to today.
func (a *App) rangeQuery(r *http.Request) (time.Time, time.Time) {
	q := r.URL.Query()
	loc := a.Reports.Location()
	now := a.Now().In(loc)
	to := parseDayHTTP(q.Get("to"), now, loc)
	from := parseDayHTTP(q.Get("from"), to, loc)
	return from, to
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": "error", "error": msg})
}

// loggingMiddleware provides basic request logging.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("dur", time.Since(start)),
		)
	})
}

// parseDayHTTP parses a boundary that may be RFC3339 or YYYY-MM-DD, the
// latter read in loc. Reports widen it to whole days.
// If empty or invalid, defaultVal is returned.
func parseDayHTTP(val string, defaultVal time.Time, loc *time.Location) time.Time {
	if val == "" {
		return defaultVal
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t
	}
	if d, err := time.ParseInLocation(domain.DateLayout, val, loc); err == nil {
		return d
	}
	// On invalid input, fall back to default to avoid hard failures.
	return defaultVal
}
