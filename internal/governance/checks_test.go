package governance

import "testing"

func TestFrontendContentFindings(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"event handler", "frontend/a.html", `<button onclick="doIt()">go</button>`, CheckCSPEventHandler},
		{"javascript uri", "frontend/b.html", `<a href="javascript:void(0)">x</a>`, CheckCSPJavascriptURI},
		{"blocked cdn", "frontend/c.html", `<link href="https://cdn.jsdelivr.net/npm/x.css">`, CheckCSPBlockedCDN},
		{"vue component", "frontend/d.vue", `<template><div onmouseover="x()"/></template>`, CheckCSPEventHandler},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violations := RunHardcodedChecks(ProposedAction{
				Kind:         ActionModify,
				Service:      "portal",
				Files:        []string{tc.file},
				FileContents: map[string]string{tc.file: tc.content},
			})
			if !hasViolation(violations, tc.want) {
				t.Fatalf("violations=%v, want %s", violationIDs(violations), tc.want)
			}
		})
	}
}

func TestContentScanSkipsNonMarkupAndMissingContent(t *testing.T) {
	violations := RunHardcodedChecks(ProposedAction{
		Kind:    ActionModify,
		Service: "portal",
		Files:   []string{"frontend/app.tsx", "frontend/raw.html"},
		FileContents: map[string]string{
			// Components render scripts by design; only markup is scanned.
			"frontend/app.tsx": `export const x = () => <script>boo</script>;`,
		},
	})
	if len(violations) != 0 {
		t.Fatalf("violations=%v, want none", violationIDs(violations))
	}
}

func TestGovernanceNamespaceAllowedForOwnService(t *testing.T) {
	violations := RunHardcodedChecks(ProposedAction{
		Kind:      ActionRouteChange,
		Service:   "governance",
		RoutePath: "/api/v1/governance/rules",
	})
	if len(violations) != 0 {
		t.Fatalf("violations=%v, want none for the governance service itself", violationIDs(violations))
	}
}

func TestLegacyDirectoryPerPathFindings(t *testing.T) {
	violations := RunHardcodedChecks(ProposedAction{
		Kind:    ActionModify,
		Service: "portal",
		Files:   []string{"web/a.js", "static/b.css", "frontend/ok.html"},
	})
	legacy := 0
	for _, v := range violations {
		if v.RuleID == CheckLegacyPath {
			legacy++
		}
	}
	if legacy != 2 {
		t.Fatalf("legacy findings=%d, want 2 (one per offending path)", legacy)
	}
}
