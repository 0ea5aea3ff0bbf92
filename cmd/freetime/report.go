package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"

	"freetime/internal/domain"
	"freetime/internal/usecase"
)

var (
	heading = color.New(color.Bold, color.FgCyan)
	reached = color.New(color.FgGreen)
	missed  = color.New(color.FgYellow)
	faint   = color.New(color.Faint)
)

// renderSummary prints s as a plain table. Colour follows fatih/color's
// terminal detection.
func renderSummary(w io.Writer, s usecase.Summary) {
	heading.Fprintf(w, "Report %s .. %s\n", s.From, s.To)
	fmt.Fprintf(w, "Total %s in %d sessions, goal %sh per day\n",
		domain.FormatElapsed(s.Total), s.Sessions, strconv.FormatFloat(s.DailyGoal, 'f', -1, 64))

	if s.Sessions == 0 {
		faint.Fprintln(w, "No sessions in range.")
		return
	}

	fmt.Fprintln(w)
	heading.Fprintln(w, "Projects")
	for _, p := range s.Projects {
		fmt.Fprintf(w, "  %-20s %-20s %s  %3d\n", p.Client, p.Project, domain.FormatElapsed(p.Duration), p.Sessions)
	}

	fmt.Fprintln(w)
	heading.Fprintln(w, "Days")
	for _, d := range s.Days {
		fmt.Fprintf(w, "  %s  %s  ", d.Date, domain.FormatElapsed(d.Duration))
		if d.GoalAchieved {
			reached.Fprintln(w, "goal reached")
		} else {
			missed.Fprintln(w, "below goal")
		}
	}
}
