package progress

import "testing"

func TestPlanGlobal(t *testing.T) {
	two := TwoStream()
	tests := []struct {
		name     string
		plan     Plan
		phase    Phase
		fraction float64
		want     float64
	}{
		{"video start", two, PhaseVideo, 0, 0},
		{"video half", two, PhaseVideo, 0.5, 20},
		{"audio half", two, PhaseAudio, 0.5, 55},
		{"merge end", two, PhaseMerge, 1, 100},
		{"clamped fraction", two, PhaseAudio, 3, 70},
		{"single quarter", SingleStream(), PhaseDownload, 0.25, 25},
		{"unknown phase", SingleStream(), PhaseMerge, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.plan.Global(tt.phase, tt.fraction); got != tt.want {
				t.Fatalf("Global = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanValue(t *testing.T) {
	plan := TwoStream()
	tests := []struct {
		name   string
		event  Event
		want   float64
		wantOK bool
	}{
		{"unknown total holds lower bound", Event{Phase: PhaseAudio, Bytes: 500}, 40, true},
		{"known total", Event{Phase: PhaseAudio, Bytes: 50, Total: 100}, 55, true},
		{"done snaps upper bound", Event{Phase: PhaseVideo, Bytes: 5, Done: true}, 40, true},
		{"merge percent", Event{Phase: PhaseMerge, Percent: 50, HasPercent: true}, 85, true},
		{"merge without percent holds", Event{Phase: PhaseMerge}, 0, false},
		{"phase outside plan", Event{Phase: PhaseDownload}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := plan.Value(tt.event)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("Value = %v %v, want %v %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
