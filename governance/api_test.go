package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exafyltd/vitana-governance/internal/governance"
	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

type fakeEvents struct {
	events []governance.StageEvent
	err    error
}

func (f fakeEvents) EventsFor(ctx context.Context, correlationID string) ([]governance.StageEvent, error) {
	return f.events, f.err
}

type fakeRules struct {
	rules []rulespec.Rule
	err   error
}

func (f fakeRules) ActiveRules(ctx context.Context, tenant string) ([]rulespec.Rule, error) {
	return f.rules, f.err
}

func newTestAPI(events stageEventSource, rules ruleLister) *governanceAPI {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := auditlog.NewEmitter(logger, auditlog.NopSink{}, time.Second)
	evaluator := governance.NewEvaluator(logger, rules, audit)
	return newGovernanceAPI(logger, events, evaluator, rules, audit)
}

func TestHandleEvaluateAction(t *testing.T) {
	api := newTestAPI(fakeEvents{}, fakeRules{})
	body := `{
		"kind": "deploy",
		"service": "portal",
		"deploy_method": "scripts/deploy/deploy-service.sh"
	}`
	req := httptest.NewRequest(http.MethodPost, "/actions/evaluate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var decision governance.EvaluationDecision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("decision=%+v, want allowed", decision)
	}
	if decision.CorrelationID == "" {
		t.Fatal("decision must carry a correlation id")
	}
}

func TestHandleEvaluateAction_Rejections(t *testing.T) {
	api := newTestAPI(fakeEvents{}, fakeRules{})
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid_json"},
		{"bad kind", `{"kind":"reboot","service":"portal"}`, "invalid_action_kind"},
		{"missing service", `{"kind":"deploy"}`, "service_required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/actions/evaluate", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			api.routes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.want) {
				t.Fatalf("body=%s, want %s", rec.Body.String(), tc.want)
			}
		})
	}
}

func TestHandleEvaluateAction_StoreDownStillDecides(t *testing.T) {
	api := newTestAPI(fakeEvents{}, fakeRules{err: errors.New("pg down")})
	body := `{"kind":"modify","service":"portal","files":["web/app.js"]}`
	req := httptest.NewRequest(http.MethodPost, "/actions/evaluate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 despite rule-store failure", rec.Code)
	}
	var decision governance.EvaluationDecision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed {
		t.Fatal("legacy path must still block while degraded")
	}
}

func TestHandleValidateTaskAnswer(t *testing.T) {
	api := newTestAPI(fakeEvents{}, fakeRules{})
	body := `{
		"source": "filesystem-scan",
		"discovery_op": "tasks.active_list",
		"tasks": [{"id": "VIT-1234", "status": "done"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/task-answers/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp taskAnswerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Valid || resp.Action != governance.TaskActionBlock {
		t.Fatalf("resp=%+v, want block", resp)
	}
	if resp.UserMessage != governance.BlockedAnswerMessage {
		t.Fatalf("user message %q, want the fixed message", resp.UserMessage)
	}
	// Internal codes stay out of the HTTP response body.
	if strings.Contains(rec.Body.String(), governance.ReasonSourceNotCanonical) {
		t.Fatalf("body leaks internal reason codes: %s", rec.Body.String())
	}
}

func TestHandleTimeline(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	api := newTestAPI(fakeEvents{events: []governance.StageEvent{
		{CorrelationID: "corr-1", Topic: "deploy completed", OccurredAt: now},
	}}, fakeRules{})

	req := httptest.NewRequest(http.MethodGet, "/timelines/corr-1", nil)
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CorrelationID string                          `json:"correlation_id"`
		Timeline      []governance.StageTimelineEntry `json:"timeline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Timeline) != 4 {
		t.Fatalf("timeline length=%d, want 4", len(resp.Timeline))
	}
	if resp.Timeline[3].Stage != governance.StageRelease || resp.Timeline[3].Status != governance.StageCompleted {
		t.Fatalf("release entry=%+v, want COMPLETED", resp.Timeline[3])
	}
}

func TestHandleTimeline_SourceFailure(t *testing.T) {
	api := newTestAPI(fakeEvents{err: errors.New("pg down")}, fakeRules{})
	req := httptest.NewRequest(http.MethodGet, "/timelines/corr-1", nil)
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func TestHandleListRules(t *testing.T) {
	api := newTestAPI(fakeEvents{}, fakeRules{rules: []rulespec.Rule{
		{ID: "r-1", Code: "VG-001", Name: "no friday deploys", Severity: rulespec.SeverityHigh, Active: true},
	}})
	req := httptest.NewRequest(http.MethodGet, "/rules?tenant=t1", nil)
	rec := httptest.NewRecorder()
	api.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "VG-001") {
		t.Fatalf("body=%s, want VG-001", rec.Body.String())
	}
}
