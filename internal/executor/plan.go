package executor

import (
	"fmt"

	"tubemux/internal/job"
	"tubemux/internal/progress"
	"tubemux/internal/services"
)

// Plan is the stream layout of one attempt.
type Plan struct {
	Primary     job.Encoding
	Counterpart job.Encoding
	Merge       bool
}

// Weights returns the progress weighting for the plan.
func (p Plan) Weights() progress.Plan {
	if p.Merge {
		return progress.TwoStream()
	}
	return progress.SingleStream()
}

// PlanFor validates the selected encoding against info and picks an audio
// counterpart for video-only encodings.
func PlanFor(info *job.SourceInfo, selected job.EncodingID) (Plan, error) {
	if info == nil {
		return Plan{}, services.Wrap(services.ErrInvalidSource, "executor", "plan", "source info not resolved", nil)
	}
	if !selected.Set {
		return Plan{}, services.Wrap(services.ErrInvalidEncoding, "executor", "plan", "no encoding selected", nil)
	}
	primary, ok := info.Encoding(selected.Value)
	if !ok {
		return Plan{}, services.Wrap(services.ErrInvalidEncoding, "executor", "plan", fmt.Sprintf("encoding %q is not offered by the source", selected.Value), nil)
	}
	if primary.SelfContained() {
		return Plan{Primary: primary}, nil
	}
	counterpart, ok := info.AudioCounterpart()
	if !ok {
		return Plan{}, services.Wrap(services.ErrNoMatchingCounterpart, "executor", "plan", fmt.Sprintf("encoding %q has no audio and the source lists no audio-only encoding", primary.ID), nil)
	}
	return Plan{Primary: primary, Counterpart: counterpart, Merge: true}, nil
}
