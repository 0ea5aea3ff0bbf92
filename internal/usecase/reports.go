package usecase

import (
	"cmp"
	"slices"
	"time"

	"freetime/internal/domain"
)

// ProjectTotal is one row of the project breakdown.
type ProjectTotal struct {
	Client   string `json:"client"`
	Project  string `json:"project"`
	Duration int64  `json:"duration"`
	Sessions int    `json:"sessions"`
}

// DayTotal is one row of the daily breakdown.
type DayTotal struct {
	Date         string `json:"date"`
	Duration     int64  `json:"duration"`
	Sessions     int    `json:"sessions"`
	GoalAchieved bool   `json:"goalAchieved"`
}

// Summary bundles the range reports rendered by the CLI and HTTP API.
type Summary struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Total     int64          `json:"total"`
	Sessions  int            `json:"sessions"`
	DailyGoal float64        `json:"dailyGoal"`
	Projects  []ProjectTotal `json:"projects"`
	Days      []DayTotal     `json:"days"`
}

// Reports answers read-only queries over the current backend's sessions.
// Day boundaries are taken in loc.
type Reports struct {
	backends BackendSource
	loc      *time.Location
}

func NewReports(backends BackendSource, loc *time.Location) *Reports {
	if loc == nil {
		loc = time.Local
	}
	return &Reports{backends: backends, loc: loc}
}

// Location returns the zone day boundaries are computed in.
func (r *Reports) Location() *time.Location { return r.loc }

// SessionsInRange returns the sessions whose start falls between the start
// of start's day and the end of end's day, inclusive. Sessions without a
// usable start time are left out.
func (r *Reports) SessionsInRange(start, end time.Time) []domain.Session {
	return inRange(r.backends.Current().Sessions(), r.startOfDay(start), r.endOfDay(end))
}

// TotalDuration sums durations in range; negative durations count as zero.
func (r *Reports) TotalDuration(start, end time.Time) int64 {
	var total int64
	for _, s := range r.SessionsInRange(start, end) {
		total += positive(s.Duration)
	}
	return total
}

// ProjectBreakdown groups the range by client and project, longest first.
// Equal durations are ordered by client, then project.
func (r *Reports) ProjectBreakdown(start, end time.Time) []ProjectTotal {
	type key struct{ client, project string }
	idx := map[key]int{}
	out := []ProjectTotal{}
	for _, s := range r.SessionsInRange(start, end) {
		k := key{s.Client, s.Project}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, ProjectTotal{Client: s.Client, Project: s.Project})
		}
		out[i].Duration += positive(s.Duration)
		out[i].Sessions++
	}
	slices.SortStableFunc(out, func(a, b ProjectTotal) int {
		return cmp.Or(
			cmp.Compare(b.Duration, a.Duration),
			cmp.Compare(a.Client, b.Client),
			cmp.Compare(a.Project, b.Project),
		)
	})
	return out
}

// DailyBreakdown totals each day that has sessions, oldest first, and
// flags days that reached goalHours.
func (r *Reports) DailyBreakdown(start, end time.Time, goalHours float64) []DayTotal {
	idx := map[string]int{}
	out := []DayTotal{}
	for _, s := range r.SessionsInRange(start, end) {
		day := s.StartTime.In(r.loc).Format(domain.DateLayout)
		i, ok := idx[day]
		if !ok {
			i = len(out)
			idx[day] = i
			out = append(out, DayTotal{Date: day})
		}
		out[i].Duration += positive(s.Duration)
		out[i].Sessions++
	}
	goal := int64(goalHours * 3600)
	for i := range out {
		out[i].GoalAchieved = out[i].Duration >= goal
	}
	slices.SortFunc(out, func(a, b DayTotal) int { return cmp.Compare(a.Date, b.Date) })
	return out
}

// TodayTotal is the time tracked on now's day plus the running draft. A
// resumed session is counted once, through the draft.
func (r *Reports) TodayTotal(now time.Time, st Status) int64 {
	resumed, isResume := "", false
	if st.Running {
		resumed, isResume = st.Draft.ResumedID()
	}
	var total int64
	for _, s := range r.SessionsInRange(now, now) {
		if isResume && s.ID == resumed {
			continue
		}
		total += positive(s.Duration)
	}
	if st.Running {
		total += positive(st.Draft.Duration)
	}
	return total
}

// GoalProgress is today's total as a percentage of the daily goal, capped
// at 100.
func (r *Reports) GoalProgress(now time.Time, st Status) float64 {
	goal := r.backends.Current().DailyGoal() * 3600
	if goal <= 0 {
		return 0
	}
	return min(float64(r.TodayTotal(now, st))/goal*100, 100)
}

// Summary gathers every range report at once.
func (r *Reports) Summary(start, end time.Time) Summary {
	goal := r.backends.Current().DailyGoal()
	sessions := r.SessionsInRange(start, end)
	var total int64
	for _, s := range sessions {
		total += positive(s.Duration)
	}
	return Summary{
		From:      r.startOfDay(start).Format(domain.DateLayout),
		To:        r.endOfDay(end).Format(domain.DateLayout),
		Total:     total,
		Sessions:  len(sessions),
		DailyGoal: goal,
		Projects:  r.ProjectBreakdown(start, end),
		Days:      r.DailyBreakdown(start, end, goal),
	}
}

func (r *Reports) startOfDay(t time.Time) time.Time {
	t = t.In(r.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
}

func (r *Reports) endOfDay(t time.Time) time.Time {
	return r.startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func inRange(sessions []domain.Session, from, to time.Time) []domain.Session {
	out := []domain.Session{}
	for _, s := range sessions {
		if !s.Resolved() {
			continue
		}
		if s.StartTime.Before(from) || s.StartTime.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func positive(d int64) int64 {
	return max(d, 0)
}
