// Package governance implements the deterministic governance gate: the
// action evaluator with its hardcoded invariant checks and dynamically
// loaded rules, the task-answer source validator, and the stage
// timeline reconstructor.
package governance

import (
	"strings"
	"time"

	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

type ActionKind string

const (
	ActionDeploy      ActionKind = "deploy"
	ActionModify      ActionKind = "modify"
	ActionDelete      ActionKind = "delete"
	ActionCreate      ActionKind = "create"
	ActionRouteChange ActionKind = "route_change"
	ActionCSPChange   ActionKind = "csp_change"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionDeploy, ActionModify, ActionDelete, ActionCreate, ActionRouteChange, ActionCSPChange:
		return true
	default:
		return false
	}
}

// ProposedAction is one platform action submitted for a governance
// decision. FileContents carries the post-change content for paths the
// caller wants content-scanned; paths without content are checked by
// path only.
type ProposedAction struct {
	Kind          ActionKind        `json:"kind"`
	Tenant        string            `json:"tenant,omitempty"`
	Service       string            `json:"service"`
	Environment   string            `json:"environment,omitempty"`
	Files         []string          `json:"files,omitempty"`
	DeployMethod  string            `json:"deploy_method,omitempty"`
	RoutePath     string            `json:"route_path,omitempty"`
	CSPDirectives map[string]string `json:"csp_directives,omitempty"`
	FileContents  map[string]string `json:"file_contents,omitempty"`
	Author        string            `json:"author,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Field resolves a dotted path for rule-logic evaluation.
func (a ProposedAction) Field(path string) (any, bool) {
	key := strings.ToLower(strings.TrimSpace(path))
	switch key {
	case "kind", "action", "action.kind":
		return string(a.Kind), strings.TrimSpace(string(a.Kind)) != ""
	case "tenant":
		return a.Tenant, strings.TrimSpace(a.Tenant) != ""
	case "service", "target", "target.service":
		return a.Service, strings.TrimSpace(a.Service) != ""
	case "environment", "env":
		return a.Environment, strings.TrimSpace(a.Environment) != ""
	case "files", "paths":
		return a.Files, len(a.Files) > 0
	case "deploy_method":
		return a.DeployMethod, strings.TrimSpace(a.DeployMethod) != ""
	case "route_path":
		return a.RoutePath, strings.TrimSpace(a.RoutePath) != ""
	case "author", "actor":
		return a.Author, strings.TrimSpace(a.Author) != ""
	case "correlation_id":
		return a.CorrelationID, strings.TrimSpace(a.CorrelationID) != ""
	}
	if rest, ok := strings.CutPrefix(key, "csp_directives."); ok {
		value, found := a.CSPDirectives[rest]
		return value, found
	}
	if rest, ok := strings.CutPrefix(key, "metadata."); ok {
		return rulespec.ResolveMapPath(a.Metadata, rest)
	}
	return nil, false
}

// Violation is one reason an action is not allowed. Hardcoded checks
// use stable CORE-* identifiers so they dedupe against themselves the
// same way store-loaded rules do.
type Violation struct {
	RuleID   string `json:"rule_id"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
}

// EvaluationDecision is the outcome of one evaluation. Created fresh
// per call and never persisted here; the audit sink gets a summary.
type EvaluationDecision struct {
	Allowed        bool        `json:"allowed"`
	Violations     []Violation `json:"violations"`
	ViolatedRules  []string    `json:"violated_rule_ids"`
	Reasons        []string    `json:"reasons"`
	ReviewRequired bool        `json:"review_required"`
	CorrelationID  string      `json:"correlation_id"`
	EvaluatedAt    time.Time   `json:"evaluated_at"`
}
