package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/kitchensafe/internal/hazard"
)

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Frames      uint64
	Transitions int
	Into        map[hazard.Verdict]int
	TimeIn      map[hazard.Verdict]time.Duration
}

// Summarize counts transitions into each verdict and how long each entered
// verdict lasted, up to the next transition or end.
func Summarize(runID string, frames uint64, transitions []hazard.Transition, end time.Time) Summary {
	s := Summary{
		RunID:       runID,
		Frames:      frames,
		Transitions: len(transitions),
		Into:        make(map[hazard.Verdict]int),
		TimeIn:      make(map[hazard.Verdict]time.Duration),
	}

	for i, t := range transitions {
		s.Into[t.To]++

		until := end
		if i+1 < len(transitions) {
			until = transitions[i+1].At
		}
		if until.After(t.At) {
			s.TimeIn[t.To] += until.Sub(t.At)
		}
	}
	return s
}

// Summary summarizes the run so far. Loop goroutine only.
func (c *Controller) Summary(end time.Time) Summary {
	return Summarize(c.runID, c.frames, c.transitions, end)
}

func (s Summary) String() string {
	parts := make([]string, 0, len(hazard.Verdicts()))
	for _, v := range hazard.Verdicts() {
		parts = append(parts, fmt.Sprintf("%s=%d (%s)", v, s.Into[v], s.TimeIn[v].Round(time.Second)))
	}
	return fmt.Sprintf("%d frames, %d transitions: %s", s.Frames, s.Transitions, strings.Join(parts, ", "))
}
