package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"freetime/internal/backend"
	"freetime/internal/clock"
	"freetime/internal/domain"
)

// TickInterval is the period at which a running draft is republished.
const TickInterval = time.Second

// BackendSource yields the backend active right now.
type BackendSource interface {
	Current() backend.Backend
}

// Status is what presentation renders for the timer.
type Status struct {
	Running bool         `json:"running"`
	Elapsed string       `json:"elapsed"`
	Draft   domain.Draft `json:"draft"`
	// ResumedID is set when the draft continues a stored session.
	ResumedID string `json:"resumedSessionId,omitempty"`
}

// Timer is the single active-session state machine. While running, the
// draft duration is recomputed from the captured origin on every tick.
type Timer struct {
	clock    clock.Clock
	backends BackendSource
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	draft   domain.Draft
	origin  time.Time // draft.Duration == floor(now - origin)
	ticker  clock.Ticker
	halt    chan struct{}
	seq     uint64 // bumped for every state to be published

	subsMu    sync.Mutex
	subs      map[int]func(Status)
	nextID    int
	published uint64
}

// NewTimer returns an idle timer.
func NewTimer(c clock.Clock, backends BackendSource, log *slog.Logger) *Timer {
	return &Timer{
		clock:    c,
		backends: backends,
		log:      log,
		draft:    domain.EmptyDraft(),
		subs:     make(map[int]func(Status)),
	}
}

// Start begins a new session. It is a no-op returning false while a
// session is already running. Empty labels fall back to placeholders;
// rejecting a blank task is the caller's job.
func (t *Timer) Start(task, client, project string) bool {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.log.Debug("start ignored, timer already running")
		return false
	}
	now := t.clock.Now()
	t.draft = domain.Draft{
		Task:      orDefault(task, domain.DefaultTask),
		Client:    orDefault(client, domain.DefaultClient),
		Project:   orDefault(project, domain.DefaultProject),
		StartTime: now,
		Origin:    domain.NewSession{},
	}
	t.origin = now
	t.run()
	st, seq := t.snapshot()
	t.mu.Unlock()

	t.log.Info("timer started", slog.String("task", st.Draft.Task), slog.String("project", st.Draft.Project))
	t.publish(st, seq)
	return true
}

// Resume continues a stored session: elapsed time picks up from its
// duration while its original start time is kept.
func (t *Timer) Resume(existing domain.Session) bool {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.log.Debug("resume ignored, timer already running")
		return false
	}
	now := t.clock.Now()
	t.draft = domain.Draft{
		Task:      existing.Task,
		Client:    existing.Client,
		Project:   existing.Project,
		StartTime: existing.StartTime,
		Duration:  existing.Seconds(),
		Origin:    domain.Resuming{SourceID: existing.ID},
	}
	t.origin = now.Add(-time.Duration(existing.Seconds()) * time.Second)
	t.run()
	st, seq := t.snapshot()
	t.mu.Unlock()

	t.log.Info("timer resumed", slog.String("session", existing.ID), slog.Int64("offset", existing.Seconds()))
	t.publish(st, seq)
	return true
}

// Stop freezes the running session and persists it through the backend
// active at this moment: an update of the resumed record, or an insert.
// A stop while idle is a no-op returning false. The returned session is
// the payload handed to the backend.
func (t *Timer) Stop(ctx context.Context) (domain.Session, bool) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return domain.Session{}, false
	}
	t.stopTicking()
	now := t.clock.Now()
	t.draft.Duration = elapsed(t.origin, now)
	finished := t.draft
	t.running = false
	t.draft = domain.EmptyDraft()
	t.origin = time.Time{}
	st, seq := t.snapshot()
	t.mu.Unlock()

	t.publish(st, seq)

	payload := finished.Finish(now)
	b := t.backends.Current()
	var err error
	switch o := finished.Origin.(type) {
	case domain.Resuming:
		payload.ID = o.SourceID
		err = b.UpdateSession(ctx, o.SourceID, domain.SessionPatch{EndTime: now, Duration: payload.Duration})
	case domain.NewSession:
		err = b.InsertSession(ctx, payload)
	default:
		err = errors.New("unknown draft origin")
	}
	if err != nil {
		t.log.Error("stopped session not persisted",
			slog.String("backend", b.Name()), slog.String("error", err.Error()))
	} else {
		t.log.Info("timer stopped",
			slog.String("backend", b.Name()), slog.Int64("duration", payload.Duration))
	}
	return payload, true
}

// Close discards a running session without persisting anything and
// publishes the reset state.
func (t *Timer) Close() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.stopTicking()
	t.running = false
	t.draft = domain.EmptyDraft()
	t.origin = time.Time{}
	st, seq := t.snapshot()
	t.mu.Unlock()

	t.publish(st, seq)
	t.log.Info("running session discarded")
}

// Status returns the current state.
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

// Subscribe registers fn for every republish, including each tick. fn runs
// on the publishing goroutine and must not subscribe or cancel.
func (t *Timer) Subscribe(fn func(Status)) (cancel func()) {
	t.subsMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subsMu.Unlock()
	return func() {
		t.subsMu.Lock()
		delete(t.subs, id)
		t.subsMu.Unlock()
	}
}

// run starts the tick goroutine. Callers hold t.mu.
func (t *Timer) run() {
	t.running = true
	t.ticker = t.clock.NewTicker(TickInterval)
	t.halt = make(chan struct{})
	go t.tick(t.ticker, t.halt)
}

// stopTicking stops the ticker and its goroutine. Callers hold t.mu and must
// only call it while running, which makes it happen exactly once per run.
func (t *Timer) stopTicking() {
	t.ticker.Stop()
	close(t.halt)
	t.ticker = nil
}

func (t *Timer) tick(tk clock.Ticker, halt <-chan struct{}) {
	for {
		select {
		case <-halt:
			return
		case <-tk.C():
			t.mu.Lock()
			select {
			case <-halt:
				// stopped while this tick was waiting for the lock
				t.mu.Unlock()
				return
			default:
			}
			t.draft.Duration = elapsed(t.origin, t.clock.Now())
			st, seq := t.snapshot()
			t.mu.Unlock()
			t.publish(st, seq)
		}
	}
}

func (t *Timer) statusLocked() Status {
	st := Status{
		Running: t.running,
		Elapsed: domain.FormatElapsed(t.draft.Duration),
		Draft:   t.draft,
	}
	if id, ok := t.draft.ResumedID(); ok {
		st.ResumedID = id
	}
	return st
}

// snapshot captures the state for publishing. Callers hold t.mu.
func (t *Timer) snapshot() (Status, uint64) {
	t.seq++
	return t.statusLocked(), t.seq
}

// publish hands st to subscribers unless a newer state already went out,
// so a tick racing a stop can never republish a running draft.
func (t *Timer) publish(st Status, seq uint64) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	if seq <= t.published {
		return
	}
	t.published = seq
	for _, fn := range t.subs {
		fn(st)
	}
}

func elapsed(origin, now time.Time) int64 {
	d := now.Sub(origin)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
