package governance

import (
	"testing"
	"time"
)

func ts(minute int) time.Time {
	return time.Date(2025, 6, 1, 10, minute, 0, 0, time.UTC)
}

func entryFor(t *testing.T, timeline []StageTimelineEntry, stage string) StageTimelineEntry {
	t.Helper()
	for _, entry := range timeline {
		if entry.Stage == stage {
			return entry
		}
	}
	t.Fatalf("stage %s missing from timeline %+v", stage, timeline)
	return StageTimelineEntry{}
}

func TestClassifyStage_LaterStageWinsTies(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"deploy after test", StageRelease},
		{"test the build", StageValidation},
		{"build from plan", StageExecution},
		{"planning kickoff", StagePlanning},
		{"heartbeat", ""},
	}
	for _, tc := range cases {
		if got := ClassifyStage(tc.text); got != tc.want {
			t.Fatalf("ClassifyStage(%q)=%q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestBuildTimeline_FixedOrderAndPendingDefault(t *testing.T) {
	timeline := BuildTimeline(nil, "corr-1")
	if len(timeline) != 4 {
		t.Fatalf("timeline length %d, want 4", len(timeline))
	}
	wantOrder := []string{StagePlanning, StageExecution, StageValidation, StageRelease}
	for i, entry := range timeline {
		if entry.Stage != wantOrder[i] {
			t.Fatalf("stage[%d]=%s, want %s", i, entry.Stage, wantOrder[i])
		}
		if entry.Status != StagePending {
			t.Fatalf("stage %s status=%s, want PENDING", entry.Stage, entry.Status)
		}
		if entry.StartedAt != nil || entry.CompletedAt != nil || entry.ErrorAt != nil {
			t.Fatalf("empty stage %s must carry no timestamps: %+v", entry.Stage, entry)
		}
	}
}

func TestBuildTimeline_ErrorNeverOverwrittenByCompletion(t *testing.T) {
	events := []StageEvent{
		{CorrelationID: "corr-1", Topic: "validation started", OccurredAt: ts(0)},
		{CorrelationID: "corr-1", Topic: "test run failed", OccurredAt: ts(5)},
		{CorrelationID: "corr-1", Topic: "test run completed", OccurredAt: ts(10)},
	}
	entry := entryFor(t, BuildTimeline(events, "corr-1"), StageValidation)
	if entry.Status != StageError {
		t.Fatalf("status=%s, want ERROR (completion must not overwrite)", entry.Status)
	}
	if entry.ErrorAt == nil || !entry.ErrorAt.Equal(ts(5)) {
		t.Fatalf("errorAt=%v, want first error signal at %v", entry.ErrorAt, ts(5))
	}
	if entry.StartedAt == nil || !entry.StartedAt.Equal(ts(0)) {
		t.Fatalf("startedAt=%v, want earliest event %v", entry.StartedAt, ts(0))
	}
}

func TestBuildTimeline_CompletionTimestamps(t *testing.T) {
	events := []StageEvent{
		{CorrelationID: "corr-1", Topic: "build started", OccurredAt: ts(0)},
		{CorrelationID: "corr-1", Topic: "build succeeded", OccurredAt: ts(7)},
	}
	entry := entryFor(t, BuildTimeline(events, "corr-1"), StageExecution)
	if entry.Status != StageCompleted {
		t.Fatalf("status=%s, want COMPLETED", entry.Status)
	}
	if entry.CompletedAt == nil || !entry.CompletedAt.Equal(ts(7)) {
		t.Fatalf("completedAt=%v, want %v", entry.CompletedAt, ts(7))
	}
}

func TestBuildTimeline_RunningWithoutCompletion(t *testing.T) {
	events := []StageEvent{
		{CorrelationID: "corr-1", Topic: "deploy", Status: "running", OccurredAt: ts(3)},
	}
	entry := entryFor(t, BuildTimeline(events, "corr-1"), StageRelease)
	if entry.Status != StageRunning {
		t.Fatalf("status=%s, want RUNNING", entry.Status)
	}
	if entry.CompletedAt != nil || entry.ErrorAt != nil {
		t.Fatalf("running stage carries only startedAt: %+v", entry)
	}
}

func TestBuildTimeline_UnorderedEventsAreSorted(t *testing.T) {
	events := []StageEvent{
		{CorrelationID: "corr-1", Topic: "plan finished", OccurredAt: ts(9)},
		{CorrelationID: "corr-1", Topic: "planning kickoff", OccurredAt: ts(1)},
	}
	entry := entryFor(t, BuildTimeline(events, "corr-1"), StagePlanning)
	if entry.StartedAt == nil || !entry.StartedAt.Equal(ts(1)) {
		t.Fatalf("startedAt=%v, want earliest %v", entry.StartedAt, ts(1))
	}
	if entry.Status != StageCompleted {
		t.Fatalf("status=%s, want COMPLETED", entry.Status)
	}
}

func TestBuildTimeline_FiltersCorrelationAndUnclassified(t *testing.T) {
	events := []StageEvent{
		{CorrelationID: "other", Topic: "deploy completed", OccurredAt: ts(1)},
		{CorrelationID: "corr-1", Topic: "heartbeat", OccurredAt: ts(2)},
	}
	timeline := BuildTimeline(events, "corr-1")
	for _, entry := range timeline {
		if entry.Status != StagePending {
			t.Fatalf("stage %s status=%s, want PENDING (foreign and unclassified events dropped)", entry.Stage, entry.Status)
		}
	}
}
