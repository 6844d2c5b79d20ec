package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles    []string
		required string
		want     bool
	}{
		{[]string{"auditor"}, RoleAuditor, true},
		{[]string{"auditor"}, RoleOperator, false},
		{[]string{"operator"}, RoleAuditor, true},
		{[]string{"operator"}, RoleAdmin, false},
		{[]string{"admin"}, RoleOperator, true},
		{[]string{" Admin "}, RoleAdmin, true},
		{[]string{"intern", "operator"}, RoleOperator, true},
		{nil, RoleAuditor, false},
		{[]string{"admin"}, "superuser", false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.required); got != tc.want {
			t.Fatalf("HasAtLeast(%v, %q)=%v, want %v", tc.roles, tc.required, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/governance/rules", RoleAuditor},
		{http.MethodGet, "/api/v1/governance/timelines/corr-1", RoleAuditor},
		{http.MethodHead, "/api/v1/governance/rules", RoleAuditor},
		{http.MethodPost, "/api/v1/governance/actions/evaluate", RoleOperator},
		{http.MethodPost, "/api/v1/governance/task-answers/validate", RoleOperator},
		{http.MethodPost, "/api/v1/governance/rules", RoleAdmin},
		{http.MethodDelete, "/api/v1/governance/rules", RoleAdmin},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := RequiredRoleForRequest(req); got != tc.want {
			t.Fatalf("RequiredRoleForRequest(%s %s)=%q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}
