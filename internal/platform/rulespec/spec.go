package rulespec

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const LogicSchemaV1 = "vitana.governance.rule_logic.v1"

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpMatches     = "matches"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

// Rule is one dynamically loaded governance rule. Rules are authored
// externally and read-only here; Logic is nil for metadata-only rules.
// LogicError carries a decode failure so one bad rule stays isolated
// instead of aborting a whole evaluation.
type Rule struct {
	ID          string   `json:"rule_id"`
	Tenant      string   `json:"tenant,omitempty"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Severity    string   `json:"severity"`
	Logic       *Logic   `json:"logic,omitempty"`
	Active      bool     `json:"active"`
	Scopes      []string `json:"scopes,omitempty"`
	Provenance  []string `json:"provenance,omitempty"`
	LogicError  string   `json:"logic_error,omitempty"`
}

// Logic is the declarative expression tree attached to a rule. A rule is
// violated when its tree matches the proposed action.
type Logic struct {
	Schema string         `json:"schema" yaml:"schema"`
	When   ConditionGroup `json:"when" yaml:"when"`
}

type ConditionGroup struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// ParseLogic decodes a YAML or JSON logic document and validates it.
func ParseLogic(input []byte) (Logic, error) {
	var logic Logic
	if err := yaml.Unmarshal(input, &logic); err != nil {
		return Logic{}, fmt.Errorf("decode logic: %w", err)
	}
	if err := logic.Validate(); err != nil {
		return Logic{}, err
	}
	return logic, nil
}

func (l Logic) Validate() error {
	if strings.TrimSpace(l.Schema) != LogicSchemaV1 {
		return fmt.Errorf("logic.schema must be %q", LogicSchemaV1)
	}
	if len(l.When.All) == 0 && len(l.When.Any) == 0 {
		return errors.New("logic.when must include all or any")
	}
	if err := validateConditions(l.When.All, "logic.when.all"); err != nil {
		return err
	}
	return validateConditions(l.When.Any, "logic.when.any")
}

func validateConditions(conds []Condition, prefix string) error {
	for i, cond := range conds {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("%s[%d].field is required", prefix, i)
		}
		op := strings.ToLower(strings.TrimSpace(cond.Op))
		if op == "" {
			return fmt.Errorf("%s[%d].op is required", prefix, i)
		}
		if !IsOpAllowed(op) {
			return fmt.Errorf("%s[%d].op unsupported: %q", prefix, i, cond.Op)
		}
		switch op {
		case OpExists, OpNotExists:
		default:
			if strings.TrimSpace(cond.Value) == "" {
				return fmt.Errorf("%s[%d].value is required for %s", prefix, i, op)
			}
		}
	}
	return nil
}

func IsOpAllowed(op string) bool {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpMatches, OpExists, OpNotExists:
		return true
	default:
		return false
	}
}

func IsSeverityAllowed(severity string) bool {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}
