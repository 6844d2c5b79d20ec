package governance

import (
	"fmt"
	"regexp"
	"strings"
)

// Canonical system of record for task state. Answers sourced anywhere
// else (including filesystem inference) are blocked.
const (
	CanonicalTaskSource = "vitana-tasks"
	CanonicalTaskOp     = "tasks.active_list"
)

// BlockedAnswerMessage is the only text shown to the end user on a
// blocked answer. Internal reason codes travel in the audit payload
// only; the message must not leak them.
const BlockedAnswerMessage = "This answer could not be verified against the canonical task system and was blocked."

const (
	ReasonSourceNotCanonical = "SOURCE_NOT_CANONICAL"
	ReasonOpNotCanonical     = "DISCOVERY_OP_NOT_CANONICAL"
	ReasonTaskIDLegacy       = "TASK_ID_LEGACY"
	ReasonTaskIDMalformed    = "TASK_ID_MALFORMED"
	ReasonTaskStatusUnknown  = "TASK_STATUS_UNKNOWN"
	ReasonTaskSourceMismatch = "TASK_SOURCE_MISMATCH"
)

var (
	canonicalTaskIDRe = regexp.MustCompile(`^VIT-\d{4,5}$`)
	legacyTaskIDRe    = regexp.MustCompile(`^TASK-\d+$`)
)

var allowedTaskStatuses = map[string]struct{}{
	"pending":     {},
	"in_progress": {},
	"blocked":     {},
	"review":      {},
	"done":        {},
}

// TaskRecord is one task as it appears in a proposed answer.
type TaskRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Source string `json:"source"`
	Legacy bool   `json:"legacy,omitempty"`
}

// TaskAnswer is a task-state answer about to be shown to a user,
// together with the provenance of the data behind it.
type TaskAnswer struct {
	Source        string       `json:"source"`
	DiscoveryOp   string       `json:"discovery_op"`
	Tasks         []TaskRecord `json:"tasks"`
	Ignored       []TaskRecord `json:"ignored,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
}

// TaskValidationResult is the verdict. UserMessage is stable and
// non-leaking; Reasons are internal codes for the audit trail.
type TaskValidationResult struct {
	Valid       bool     `json:"valid"`
	Action      string   `json:"action"`
	Reasons     []string `json:"reasons,omitempty"`
	UserMessage string   `json:"user_message,omitempty"`
	RetryHint   string   `json:"retry_hint,omitempty"`
}

const (
	TaskActionPass  = "pass"
	TaskActionBlock = "block"
)

// ValidateTaskAnswer enforces single-source provenance and identifier
// hygiene on a task-state answer. Pure function, no I/O.
func ValidateTaskAnswer(answer TaskAnswer) TaskValidationResult {
	var reasons []string
	provenanceFailed := false

	if !strings.EqualFold(strings.TrimSpace(answer.Source), CanonicalTaskSource) {
		reasons = append(reasons, ReasonSourceNotCanonical)
		provenanceFailed = true
	}
	if strings.TrimSpace(answer.DiscoveryOp) != CanonicalTaskOp {
		reasons = append(reasons, ReasonOpNotCanonical)
		provenanceFailed = true
	}

	for _, task := range answer.Tasks {
		reasons = append(reasons, validateTask(task, false)...)
	}
	// Deprecated identifiers are tolerated here and only here.
	for _, task := range answer.Ignored {
		reasons = append(reasons, validateTask(task, true)...)
	}

	if len(reasons) == 0 {
		return TaskValidationResult{Valid: true, Action: TaskActionPass}
	}

	result := TaskValidationResult{
		Valid:       false,
		Action:      TaskActionBlock,
		Reasons:     dedupeStrings(reasons),
		UserMessage: BlockedAnswerMessage,
	}
	if provenanceFailed {
		result.RetryHint = fmt.Sprintf("re-run discovery via %s against %s", CanonicalTaskOp, CanonicalTaskSource)
	}
	return result
}

func validateTask(task TaskRecord, inIgnoredBucket bool) []string {
	var reasons []string
	id := strings.TrimSpace(task.ID)
	switch {
	case canonicalTaskIDRe.MatchString(id):
	case legacyTaskIDRe.MatchString(id):
		if !inIgnoredBucket {
			reasons = append(reasons, ReasonTaskIDLegacy)
		}
	default:
		reasons = append(reasons, ReasonTaskIDMalformed)
	}
	if _, ok := allowedTaskStatuses[strings.ToLower(strings.TrimSpace(task.Status))]; !ok {
		reasons = append(reasons, ReasonTaskStatusUnknown)
	}
	if source := strings.TrimSpace(task.Source); source != "" && !strings.EqualFold(source, CanonicalTaskSource) {
		reasons = append(reasons, ReasonTaskSourceMismatch)
	}
	return reasons
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
