package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StageTime is one recorded pipeline step.
type StageTime struct {
	Name     string
	Duration time.Duration
}

// Timer accumulates per-stage durations for a single run. It is owned by the
// pipeline and returned to the caller, not shared global state.
type Timer struct {
	start  time.Time
	last   time.Time
	stages []StageTime
}

// NewTimer starts a timer at the current instant.
func NewTimer() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// Update closes the current interval under the given stage name.
func (t *Timer) Update(name string) {
	now := time.Now()
	t.stages = append(t.stages, StageTime{Name: name, Duration: now.Sub(t.last)})
	t.last = now
}

// Stages returns the recorded intervals in order.
func (t *Timer) Stages() []StageTime {
	out := make([]StageTime, len(t.stages))
	copy(out, t.stages)
	return out
}

// Total returns elapsed time since the timer started.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Summary formats all stage durations on one line.
func (t *Timer) Summary() string {
	parts := make([]string, 0, len(t.stages))
	for _, s := range t.stages {
		parts = append(parts, fmt.Sprintf("%s=%s", s.Name, s.Duration.Round(time.Millisecond)))
	}
	return strings.Join(parts, " ")
}

// Print logs the recorded stages and the total under the given title.
func (t *Timer) Print(logger *slog.Logger, title string) {
	logger.Info(title,
		"stages", t.Summary(),
		"total", t.Total().Round(time.Millisecond).String(),
	)
}
