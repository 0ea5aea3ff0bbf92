package domain

import "time"

// RefKind selects one of the two reference lists.
type RefKind string

const (
	Clients  RefKind = "clients"
	Projects RefKind = "projects"
)

// RefEntry is a named client or project as stored remotely.
type RefEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Names projects entries onto their names, preserving order.
func Names(entries []RefEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

// Settings are per-user preferences.
type Settings struct {
	DailyGoal float64 `json:"dailyGoal"` // hours per day
}

// DefaultDailyGoal is the goal used until a user sets one.
const DefaultDailyGoal = 8.0

// DefaultSettings returns the settings of a fresh profile.
func DefaultSettings() Settings {
	return Settings{DailyGoal: DefaultDailyGoal}
}

// Identity is the authenticated user as reported by the auth provider.
// A nil *Identity means anonymous.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Profile is the remote user record.
type Profile struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Settings    Settings  `json:"settings"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
