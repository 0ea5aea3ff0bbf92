package usecase

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"freetime/internal/domain"
)

// Snapshot is the full data set of the current backend.
type Snapshot struct {
	ExportedAt time.Time        `json:"exportedAt"`
	Backend    string           `json:"backend"`
	DailyGoal  float64          `json:"dailyGoal"`
	Clients    []string         `json:"clients"`
	Projects   []string         `json:"projects"`
	Sessions   []domain.Session `json:"sessions"`
}

// TakeSnapshot copies everything the current backend holds.
func TakeSnapshot(backends BackendSource, now time.Time) Snapshot {
	b := backends.Current()
	sessions := b.Sessions()
	domain.SortSessionsByStart(sessions)
	return Snapshot{
		ExportedAt: now,
		Backend:    b.Name(),
		DailyGoal:  b.DailyGoal(),
		Clients:    b.Refs(domain.Clients),
		Projects:   b.Refs(domain.Projects),
		Sessions:   sessions,
	}
}

// WriteJSON writes s as indented JSON.
func (s Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}
