package domain

import (
	"fmt"
	"time"
)

// Origin tells a running draft apart as either a brand new session or the
// continuation of a stored one. The set of implementations is closed.
type Origin interface {
	isOrigin()
}

// NewSession marks a draft that is inserted on stop.
type NewSession struct{}

// Resuming marks a draft that updates SourceID on stop.
type Resuming struct {
	SourceID string
}

func (NewSession) isOrigin() {}
func (Resuming) isOrigin()   {}

// Draft is the in-memory, not yet persisted running session.
type Draft struct {
	Task      string    `json:"task"`
	Client    string    `json:"client"`
	Project   string    `json:"project"`
	StartTime time.Time `json:"startTime"`
	Duration  int64     `json:"duration"`
	Origin    Origin    `json:"-"`
}

// EmptyDraft is the idle value.
func EmptyDraft() Draft {
	return Draft{Client: DefaultClient, Project: DefaultProject, Origin: NewSession{}}
}

// ResumedID returns the stored session id the draft continues, if any.
func (d Draft) ResumedID() (string, bool) {
	if r, ok := d.Origin.(Resuming); ok {
		return r.SourceID, true
	}
	return "", false
}

// Finish builds the stored form of the draft stopped at end.
func (d Draft) Finish(end time.Time) Session {
	return Session{
		Task:      d.Task,
		Client:    d.Client,
		Project:   d.Project,
		StartTime: d.StartTime,
		EndTime:   &end,
		Duration:  d.Duration,
		Date:      d.StartTime.Format(DateLayout),
	}
}

// FormatElapsed renders seconds as zero-padded HH:MM:SS. Hours are not
// wrapped at 24.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
