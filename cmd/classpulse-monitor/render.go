package main

import (
	"fmt"
	"io"
	"strings"

	"classpulse/pkg/client"
	"classpulse/pkg/types"
)

const barWidth = 20

// render writes one frame of the instructor view: who is connected, then
// each launched question with its score distribution.
func render(w io.Writer, sessionID int64, view client.InstructorView) {
	fmt.Fprintf(w, "Session %d: %d connected", sessionID, view.Users.Count)
	if len(view.Users.Names) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(view.Users.Names, ", "))
	}
	fmt.Fprintln(w)

	if len(view.Results) == 0 {
		fmt.Fprintln(w, "  no questions launched")
		return
	}

	open := 0
	for _, r := range view.Results {
		if r.Question.Status == types.QuestionStatusOpen {
			open++
		}
	}
	fmt.Fprintf(w, "  %d questions, %d open\n", len(view.Results), open)

	for _, r := range view.Results {
		q := r.Question
		fmt.Fprintf(w, "  #%d [%s] %s\n", q.ID, q.Status, q.Text)
		fmt.Fprintf(w, "     %d responses", r.Distribution.Total)
		if r.Distribution.Unbucketed > 0 {
			fmt.Fprintf(w, ", %d ungraded", r.Distribution.Unbucketed)
		}
		fmt.Fprintln(w)
		for _, b := range r.Distribution.Buckets {
			fmt.Fprintf(w, "     %d | %-*s %d\n", b.Score, barWidth, bar(b.HeightPercent), b.Count)
		}
	}
}

func bar(heightPercent float64) string {
	n := int(heightPercent / 100 * barWidth)
	if n < 1 {
		n = 1
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("#", n)
}
