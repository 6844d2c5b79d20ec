package governance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

// RuleSource yields the active rules for a tenant. The store behind it
// may be down; Evaluate treats that as a degraded, not failed, run.
type RuleSource interface {
	ActiveRules(ctx context.Context, tenant string) ([]rulespec.Rule, error)
}

type Evaluator struct {
	logger *slog.Logger
	rules  RuleSource
	audit  *auditlog.Emitter
	now    func() time.Time
}

func NewEvaluator(logger *slog.Logger, rules RuleSource, audit *auditlog.Emitter) *Evaluator {
	return &Evaluator{logger: logger, rules: rules, audit: audit, now: time.Now}
}

// scopesForKind maps an action kind to the rule scope tags it can
// trigger. A rule with no scopes applies to everything.
func scopesForKind(kind ActionKind) []string {
	switch kind {
	case ActionDeploy:
		return []string{"deploy", "release"}
	case ActionModify, ActionCreate, ActionDelete:
		return []string{"files", "content"}
	case ActionRouteChange:
		return []string{"routes", "api"}
	case ActionCSPChange:
		return []string{"csp", "security"}
	default:
		return nil
	}
}

func scopesIntersect(ruleScopes, actionScopes []string) bool {
	if len(ruleScopes) == 0 {
		return true
	}
	for _, rs := range ruleScopes {
		for _, as := range actionScopes {
			if strings.EqualFold(strings.TrimSpace(rs), as) {
				return true
			}
		}
	}
	return false
}

// Evaluate runs hardcoded checks and then the tenant's active rules
// against the action. It never returns an error: a rule-store failure
// degrades to hardcoded-only results, and the audit emission is
// fire-and-forget.
func (e *Evaluator) Evaluate(ctx context.Context, action ProposedAction) EvaluationDecision {
	correlationID := strings.TrimSpace(action.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	violations := RunHardcodedChecks(action)

	degraded := false
	if e.rules != nil {
		rules, err := e.rules.ActiveRules(ctx, action.Tenant)
		if err != nil {
			degraded = true
			e.logger.Warn("rule store unavailable, evaluating hardcoded checks only",
				"error", err,
				"tenant", action.Tenant,
				"correlation_id", correlationID,
			)
		} else {
			violations = append(violations, e.applyRules(rules, action)...)
		}
	}

	violations = dedupeViolations(violations)

	decision := EvaluationDecision{
		Violations:    violations,
		CorrelationID: correlationID,
		EvaluatedAt:   e.now().UTC(),
	}
	// Violations keep one entry per offending path; the id list carries
	// each rule id once, insertion order.
	seenIDs := make(map[string]struct{}, len(violations))
	for _, v := range violations {
		if v.RuleID == CheckNavigationReview {
			decision.ReviewRequired = true
			continue
		}
		if _, ok := seenIDs[v.RuleID]; ok {
			continue
		}
		seenIDs[v.RuleID] = struct{}{}
		decision.ViolatedRules = append(decision.ViolatedRules, v.RuleID)
		decision.Reasons = append(decision.Reasons, v.Message)
	}
	decision.Allowed = len(decision.ViolatedRules) == 0

	e.emitAudit(action, decision, degraded)
	return decision
}

func (e *Evaluator) applyRules(rules []rulespec.Rule, action ProposedAction) []Violation {
	actionScopes := scopesForKind(action.Kind)
	var out []Violation
	for _, rule := range rules {
		if !scopesIntersect(rule.Scopes, actionScopes) {
			continue
		}
		if rule.LogicError != "" {
			// Undecodable logic fails closed rather than silently passing.
			out = append(out, Violation{
				RuleID:   rule.ID,
				Code:     rule.Code,
				Severity: rule.Severity,
				Message:  rule.Name + " (rule logic unreadable, failing closed)",
			})
			continue
		}
		if rule.Logic == nil {
			continue
		}
		if rulespec.Match(*rule.Logic, action.Field) {
			msg := rule.Description
			if msg == "" {
				msg = rule.Name
			}
			out = append(out, Violation{
				RuleID:   rule.ID,
				Code:     rule.Code,
				Severity: rule.Severity,
				Message:  msg,
			})
		}
	}
	return out
}

// dedupeViolations keeps the first occurrence per rule id. Hardcoded
// per-path findings share a rule id but differ by path, so the path is
// part of the key; store-loaded rules carry no path and dedupe purely
// by id.
func dedupeViolations(in []Violation) []Violation {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		key := v.RuleID + "\x00" + v.Path
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (e *Evaluator) emitAudit(action ProposedAction, decision EvaluationDecision, degraded bool) {
	if e.audit == nil {
		return
	}
	verdict := "allow"
	if !decision.Allowed {
		verdict = "block"
	}
	actor := strings.TrimSpace(action.Author)
	if actor == "" {
		actor = "system"
	}
	e.audit.Emit(auditlog.Record{
		OccurredAt:    decision.EvaluatedAt,
		Actor:         actor,
		Action:        "governance.action.evaluate",
		ResourceType:  "action",
		ResourceID:    string(action.Kind) + ":" + action.Service,
		CorrelationID: decision.CorrelationID,
		Decision:      verdict,
		Payload: map[string]any{
			"kind":              string(action.Kind),
			"tenant":            action.Tenant,
			"service":           action.Service,
			"environment":       action.Environment,
			"violated_rule_ids": decision.ViolatedRules,
			"review_required":   decision.ReviewRequired,
			"degraded":          degraded,
			"file_count":        len(action.Files),
		},
	})
}
