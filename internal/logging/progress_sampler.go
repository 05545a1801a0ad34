package logging

import (
	"math"
	"strings"
)

// ProgressSampler thins the progress log of one item. A line is due when the
// executor enters a new phase or progress passes the next step.
type ProgressSampler struct {
	step  float64
	phase string
	next  float64
}

// NewProgressSampler returns a sampler logging every step percent, 5 when
// step is not positive.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether progress in phase deserves a log line. Negative
// progress carries no value and only announces a phase change. A nil sampler
// logs everything.
func (s *ProgressSampler) ShouldLog(progress float64, phase string) bool {
	if s == nil {
		return true
	}
	due := false
	if phase = strings.TrimSpace(phase); phase != "" && phase != s.phase {
		s.phase = phase
		s.next = 0
		due = true
	}
	if progress >= 0 && progress >= s.next {
		s.next = (math.Floor(min(progress, 100)/s.step) + 1) * s.step
		due = true
	}
	return due
}
