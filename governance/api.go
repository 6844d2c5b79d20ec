package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exafyltd/vitana-governance/internal/governance"
	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

type stageEventSource interface {
	EventsFor(ctx context.Context, correlationID string) ([]governance.StageEvent, error)
}

type ruleLister interface {
	ActiveRules(ctx context.Context, tenant string) ([]rulespec.Rule, error)
}

type governanceAPI struct {
	logger    *slog.Logger
	events    stageEventSource
	evaluator *governance.Evaluator
	rules     ruleLister
	audit     *auditlog.Emitter
}

func newGovernanceAPI(logger *slog.Logger, events stageEventSource, evaluator *governance.Evaluator, rules ruleLister, audit *auditlog.Emitter) *governanceAPI {
	return &governanceAPI{
		logger:    logger,
		events:    events,
		evaluator: evaluator,
		rules:     rules,
		audit:     audit,
	}
}

// stageEventStore reads raw pipeline events from Postgres.
type stageEventStore struct {
	db *sql.DB
}

func newStageEventStore(db *sql.DB) *stageEventStore {
	return &stageEventStore{db: db}
}

func (s *stageEventStore) EventsFor(ctx context.Context, correlationID string) ([]governance.StageEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT correlation_id, topic, status, title, occurred_at
		 FROM stage_events
		 WHERE correlation_id = $1
		 ORDER BY occurred_at`,
		correlationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []governance.StageEvent
	for rows.Next() {
		var (
			ev     governance.StageEvent
			status sql.NullString
			title  sql.NullString
		)
		if err := rows.Scan(&ev.CorrelationID, &ev.Topic, &status, &title, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Status = status.String
		ev.Title = title.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (api *governanceAPI) routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/actions/evaluate", api.handleEvaluateAction)
	r.Post("/task-answers/validate", api.handleValidateTaskAnswer)
	r.Get("/timelines/{correlation_id}", api.handleTimeline)
	r.Get("/rules", api.handleListRules)
	return r
}

func (api *governanceAPI) handleEvaluateAction(w http.ResponseWriter, r *http.Request) {
	var action governance.ProposedAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if !action.Kind.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_action_kind")
		return
	}
	if strings.TrimSpace(action.Service) == "" {
		writeError(w, r, http.StatusBadRequest, "service_required")
		return
	}

	decision := api.evaluator.Evaluate(r.Context(), action)
	writeJSON(w, http.StatusOK, decision)
}

type taskAnswerResponse struct {
	Valid       bool   `json:"valid"`
	Action      string `json:"action"`
	UserMessage string `json:"user_message,omitempty"`
	RetryHint   string `json:"retry_hint,omitempty"`
}

func (api *governanceAPI) handleValidateTaskAnswer(w http.ResponseWriter, r *http.Request) {
	var answer governance.TaskAnswer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	result := governance.ValidateTaskAnswer(answer)

	// Reason codes go to the audit trail only; the response carries the
	// fixed user-facing message.
	api.audit.Emit(auditlog.Record{
		OccurredAt:    time.Now().UTC(),
		Actor:         "system",
		Action:        "governance.task_answer.validate",
		ResourceType:  "task_answer",
		ResourceID:    answer.DiscoveryOp + "@" + answer.Source,
		CorrelationID: answer.CorrelationID,
		Decision:      result.Action,
		Payload: map[string]any{
			"reasons":    result.Reasons,
			"task_count": len(answer.Tasks),
		},
	})

	writeJSON(w, http.StatusOK, taskAnswerResponse{
		Valid:       result.Valid,
		Action:      result.Action,
		UserMessage: result.UserMessage,
		RetryHint:   result.RetryHint,
	})
}

func (api *governanceAPI) handleTimeline(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(chi.URLParam(r, "correlation_id"))
	if correlationID == "" {
		writeError(w, r, http.StatusBadRequest, "correlation_id_required")
		return
	}

	events, err := api.events.EventsFor(r.Context(), correlationID)
	if err != nil {
		api.logger.Error("load stage events failed", "correlation_id", correlationID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"correlation_id": correlationID,
		"timeline":       governance.BuildTimeline(events, correlationID),
	})
}

func (api *governanceAPI) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenant := strings.TrimSpace(r.URL.Query().Get("tenant"))
	rules, err := api.rules.ActiveRules(r.Context(), tenant)
	if err != nil {
		api.logger.Error("list rules failed", "tenant", tenant, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant": tenant,
		"rules":  rules,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
