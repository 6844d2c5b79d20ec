package governance

import (
	"sort"
	"strings"
	"time"
)

// Canonical pipeline stages, in pipeline order.
const (
	StagePlanning   = "PLANNING"
	StageExecution  = "EXECUTION"
	StageValidation = "VALIDATION"
	StageRelease    = "RELEASE"
)

var pipelineStages = []string{StagePlanning, StageExecution, StageValidation, StageRelease}

const (
	StagePending   = "PENDING"
	StageRunning   = "RUNNING"
	StageCompleted = "COMPLETED"
	StageError     = "ERROR"
)

// StageEvent is one raw event from the pipeline event log. Topic and
// Title are free text; Status is an optional explicit signal.
type StageEvent struct {
	CorrelationID string    `json:"correlation_id"`
	Topic         string    `json:"topic"`
	Status        string    `json:"status,omitempty"`
	Title         string    `json:"title,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// StageTimelineEntry is the reconstructed state of one canonical stage.
// Always recomputed on demand, never stored.
type StageTimelineEntry struct {
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorAt     *time.Time `json:"error_at,omitempty"`
}

// Stage keyword sets. Classification walks pipeline order in reverse so
// text plausibly matching two adjacent stages attributes to the later
// one ("deploy after test" is a release event, not a validation one).
var stageKeywords = map[string][]string{
	StagePlanning:   {"plan", "planning", "design", "scope", "spec", "proposal"},
	StageExecution:  {"execute", "execution", "implement", "build", "code", "develop"},
	StageValidation: {"validate", "validation", "test", "verify", "check", "review", "qa"},
	StageRelease:    {"release", "deploy", "rollout", "publish", "ship", "promote"},
}

var (
	completionSignals = []string{"completed", "complete", "finished", "done", "succeeded", "success", "passed"}
	errorSignals      = []string{"error", "failed", "failure", "fatal", "aborted", "crash"}
	runningSignals    = []string{"running", "started", "start", "in_progress", "progress", "executing"}
)

// ClassifyStage tags free text to a canonical stage, or "" when no
// stage keyword matches (the event is dropped from reconstruction).
func ClassifyStage(text string) string {
	lowered := strings.ToLower(text)
	for i := len(pipelineStages) - 1; i >= 0; i-- {
		stage := pipelineStages[i]
		for _, kw := range stageKeywords[stage] {
			if strings.Contains(lowered, kw) {
				return stage
			}
		}
	}
	return ""
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// BuildTimeline reconstructs the 4-stage timeline for one correlation
// id from an unordered event log. Events for other correlation ids and
// events matching no stage keyword are ignored.
func BuildTimeline(events []StageEvent, correlationID string) []StageTimelineEntry {
	byStage := make(map[string][]StageEvent, len(pipelineStages))
	for _, ev := range events {
		if correlationID != "" && ev.CorrelationID != correlationID {
			continue
		}
		stage := ClassifyStage(ev.Topic + " " + ev.Title)
		if stage == "" {
			continue
		}
		byStage[stage] = append(byStage[stage], ev)
	}

	timeline := make([]StageTimelineEntry, 0, len(pipelineStages))
	for _, stage := range pipelineStages {
		timeline = append(timeline, buildStageEntry(stage, byStage[stage]))
	}
	return timeline
}

func buildStageEntry(stage string, events []StageEvent) StageTimelineEntry {
	entry := StageTimelineEntry{Stage: stage, Status: StagePending}
	if len(events) == 0 {
		return entry
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	started := events[0].OccurredAt
	entry.StartedAt = &started

	var completedAt, errorAt *time.Time
	sawRunning := false
	for i := range events {
		ev := events[i]
		signal := strings.ToLower(ev.Status + " " + ev.Topic + " " + ev.Title)
		switch {
		case containsAny(signal, errorSignals):
			if errorAt == nil {
				t := ev.OccurredAt
				errorAt = &t
			}
		case containsAny(signal, completionSignals):
			t := ev.OccurredAt
			completedAt = &t
		case containsAny(signal, runningSignals):
			sawRunning = true
		}
	}

	// ERROR > COMPLETED > RUNNING > PENDING. An error is never
	// overwritten by a later completion signal.
	switch {
	case errorAt != nil:
		entry.Status = StageError
		entry.ErrorAt = errorAt
	case completedAt != nil:
		entry.Status = StageCompleted
		entry.CompletedAt = completedAt
	case sawRunning:
		entry.Status = StageRunning
	default:
		entry.Status = StageRunning
	}
	return entry
}
