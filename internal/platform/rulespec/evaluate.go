package rulespec

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldFunc resolves a dotted field path against the proposed action.
// The second return reports whether the path resolved to a value.
type FieldFunc func(path string) (any, bool)

// Match reports whether the logic tree matches the action, i.e. whether
// the rule is violated. Conditions with operators outside the fixed set
// match unconditionally: an unknown operator must fail closed, never
// silently pass the action through.
func Match(logic Logic, resolve FieldFunc) bool {
	all := logic.When.All
	any := logic.When.Any
	if len(all) == 0 && len(any) == 0 {
		return false
	}

	for _, cond := range all {
		if !conditionMatches(cond, resolve) {
			return false
		}
	}
	if len(any) > 0 {
		found := false
		for _, cond := range any {
			if conditionMatches(cond, resolve) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func conditionMatches(cond Condition, resolve FieldFunc) bool {
	value, ok := resolve(strings.TrimSpace(cond.Field))

	switch strings.ToLower(strings.TrimSpace(cond.Op)) {
	case OpExists:
		return ok
	case OpNotExists:
		return !ok
	case OpEquals:
		return ok && compareEqual(value, cond.Value)
	case OpNotEquals:
		return ok && !compareEqual(value, cond.Value)
	case OpContains:
		return ok && compareContains(value, cond.Value)
	case OpNotContains:
		return ok && !compareContains(value, cond.Value)
	case OpMatches:
		return ok && compareRegex(value, cond.Value)
	default:
		// Fail closed: a condition nobody understands counts as violated.
		return true
	}
}

func compareEqual(value any, target string) bool {
	target = normalize(target)
	switch typed := value.(type) {
	case string:
		return normalize(typed) == target
	case []string:
		for _, item := range typed {
			if normalize(item) == target {
				return true
			}
		}
		return false
	case []any:
		for _, item := range typed {
			if normalize(fmt.Sprint(item)) == target {
				return true
			}
		}
		return false
	default:
		return normalize(fmt.Sprint(value)) == target
	}
}

func compareContains(value any, target string) bool {
	target = normalize(target)
	if target == "" {
		return false
	}
	switch typed := value.(type) {
	case string:
		return strings.Contains(normalize(typed), target)
	case []string:
		for _, item := range typed {
			if strings.Contains(normalize(item), target) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range typed {
			if strings.Contains(normalize(fmt.Sprint(item)), target) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(normalize(fmt.Sprint(value)), target)
	}
}

func compareRegex(value any, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// An uncompilable pattern is a malformed condition; fail closed.
		return true
	}
	switch typed := value.(type) {
	case string:
		return re.MatchString(typed)
	case []string:
		for _, item := range typed {
			if re.MatchString(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range typed {
			if re.MatchString(fmt.Sprint(item)) {
				return true
			}
		}
		return false
	default:
		return re.MatchString(fmt.Sprint(value))
	}
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
