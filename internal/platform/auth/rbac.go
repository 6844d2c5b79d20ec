package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Governance role ladder. Auditors read rules and timelines, operators
// additionally submit decisions, admins cover everything else.
const (
	RoleAuditor  = "auditor"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var roleLevels = map[string]int{
	RoleAuditor:  1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Decision endpoints an operator may call. Everything else that writes
// is admin-only.
var operatorEndpoints = []string{
	"/actions/evaluate",
	"/task-answers/validate",
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest returns the minimum role for a request against
// the governance surface: reads need auditor, decision submissions need
// operator, any other write needs admin.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleAuditor
	case http.MethodPost:
		for _, suffix := range operatorEndpoints {
			if strings.HasSuffix(r.URL.Path, suffix) {
				return RoleOperator
			}
		}
		return RoleAdmin
	default:
		return RoleAdmin
	}
}
