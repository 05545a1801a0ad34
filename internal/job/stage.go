package job

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is the lifecycle position of a work item.
type Stage string

const (
	StagePending      Stage = "pending"
	StageFetchingInfo Stage = "fetching_info"
	StageReady        Stage = "ready"
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageMerging      Stage = "merging"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

var allStages = []Stage{
	StagePending,
	StageFetchingInfo,
	StageReady,
	StageQueued,
	StageDownloading,
	StageMerging,
	StageCompleted,
	StageFailed,
}

var stageTransitions = map[Stage][]Stage{
	StagePending:      {StageFetchingInfo, StageQueued, StageDownloading, StageFailed},
	StageFetchingInfo: {StageReady, StageFailed},
	StageReady:        {StageQueued, StageFailed},
	StageQueued:       {StageDownloading, StageFailed},
	StageDownloading:  {StageDownloading, StageMerging, StageCompleted, StageFailed, StageQueued},
	StageMerging:      {StageCompleted, StageFailed, StageQueued},
	StageFailed:       {StageQueued},
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range allStages {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// IsTerminal reports whether no executor will touch the item again.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsActive reports whether the item is admitted to or waiting for an executor.
func (s Stage) IsActive() bool {
	switch s {
	case StageQueued, StageDownloading, StageMerging:
		return true
	default:
		return false
	}
}

// Label renders the stage for humans, e.g. "Fetching Info".
func (s Stage) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Stage) CanTransition(next Stage) bool {
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
