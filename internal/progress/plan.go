package progress

// Phase names a progress-contributing sub-stage of an attempt.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseVideo    Phase = "video"
	PhaseAudio    Phase = "audio"
	PhaseMerge    Phase = "merge"
)

// Range is the slice of global progress a phase covers.
type Range struct {
	Lo float64
	Hi float64
}

// Plan weights the phases of one attempt.
type Plan struct {
	ranges map[Phase]Range
}

// SingleStream covers delivering one self-contained encoding.
func SingleStream() Plan {
	return Plan{ranges: map[Phase]Range{
		PhaseDownload: {Lo: 0, Hi: 100},
	}}
}

// TwoStream covers video download, audio download, then merge.
func TwoStream() Plan {
	return Plan{ranges: map[Phase]Range{
		PhaseVideo: {Lo: 0, Hi: 40},
		PhaseAudio: {Lo: 40, Hi: 70},
		PhaseMerge: {Lo: 70, Hi: 100},
	}}
}

// Range returns the range for phase.
func (p Plan) Range(phase Phase) (Range, bool) {
	r, ok := p.ranges[phase]
	return r, ok
}

// Global maps a stage-local fraction in [0,1] onto the global scale.
// Unknown phases map to 0.
func (p Plan) Global(phase Phase, fraction float64) float64 {
	r, ok := p.ranges[phase]
	if !ok {
		return 0
	}
	fraction = min(max(fraction, 0), 1)
	return r.Lo + (r.Hi-r.Lo)*fraction
}

// Value computes the global progress an event implies. ok is false when the
// event carries no usable signal and the previous value should be held.
func (p Plan) Value(ev Event) (float64, bool) {
	r, known := p.ranges[ev.Phase]
	if !known {
		return 0, false
	}
	if ev.Done {
		return r.Hi, true
	}
	if ev.Phase == PhaseMerge {
		if !ev.HasPercent {
			return 0, false
		}
		return p.Global(ev.Phase, ev.Percent/100), true
	}
	if ev.Total <= 0 {
		return r.Lo, true
	}
	return p.Global(ev.Phase, float64(ev.Bytes)/float64(ev.Total)), true
}
