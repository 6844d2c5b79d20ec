package governance

import (
	"path"
	"regexp"
	"strings"

	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

// Hardcoded checks run on every evaluation, regardless of rule-store
// health, and are not overridable by store-loaded rules.
const (
	CheckCSPInlineScript   = "CORE-CSP-001"
	CheckCSPEventHandler   = "CORE-CSP-002"
	CheckCSPJavascriptURI  = "CORE-CSP-003"
	CheckCSPBlockedCDN     = "CORE-CSP-004"
	CheckCSPDirectiveValue = "CORE-CSP-010"
	CheckDeployMethod      = "CORE-DEPLOY-001"
	CheckLegacyPath        = "CORE-PATH-001"
	CheckNavigationReview  = "CORE-PATH-002"
	CheckAssetPlacement    = "CORE-ASSET-001"
	CheckRouteVersioning   = "CORE-ROUTE-001"
	CheckRouteNamespace    = "CORE-ROUTE-002"
)

// Canonical deployment invocations. Anything else on a deploy action is
// a violation, including an empty method.
var allowedDeployMethods = map[string]struct{}{
	"scripts/deploy/deploy-service.sh": {},
	"scripts/deploy/deploy-worker.sh":  {},
	"scripts/deploy/rollback.sh":       {},
}

// Frontend directories that were migrated away from. New writes under
// them reintroduce the split-brain the migration removed.
var legacyFrontendDirs = []string{
	"web/",
	"static/",
	"ui/legacy/",
	"frontend-old/",
}

var navigationConfigFiles = map[string]struct{}{
	"frontend/config/navigation.yaml": {},
	"frontend/config/navigation.json": {},
}

var blockedCDNHosts = []string{
	"cdn.jsdelivr.net",
	"unpkg.com",
	"cdnjs.cloudflare.com",
	"rawgit.com",
}

var forbiddenCSPValues = []string{
	"'unsafe-inline'",
	"'unsafe-eval'",
	"*",
}

var (
	inlineScriptRe  = regexp.MustCompile(`(?i)<script[\s>]`)
	eventHandlerRe  = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*["']`)
	javascriptURIRe = regexp.MustCompile(`(?i)(href|src|action)\s*=\s*["']\s*javascript:`)
)

// RunHardcodedChecks applies the fixed invariant checks to the action.
// Pure: no I/O, no logging. Violations carry the stable CORE-* ids.
func RunHardcodedChecks(action ProposedAction) []Violation {
	var out []Violation
	out = append(out, checkFrontendContent(action)...)
	out = append(out, checkDeployMethod(action)...)
	out = append(out, checkCanonicalPaths(action)...)
	out = append(out, checkAssetPlacement(action)...)
	out = append(out, checkRoutePath(action)...)
	out = append(out, checkCSPDirectives(action)...)
	return out
}

func isFrontendMarkup(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm", ".vue", ".svelte":
		return true
	default:
		return false
	}
}

func checkFrontendContent(action ProposedAction) []Violation {
	var out []Violation
	for _, file := range action.Files {
		content, ok := action.FileContents[file]
		if !ok || !isFrontendMarkup(file) {
			continue
		}
		if inlineScriptRe.MatchString(content) {
			out = append(out, Violation{
				RuleID:   CheckCSPInlineScript,
				Code:     CheckCSPInlineScript,
				Severity: rulespec.SeverityHigh,
				Message:  "inline <script> blocks are not permitted in frontend markup",
				Path:     file,
			})
		}
		if eventHandlerRe.MatchString(content) {
			out = append(out, Violation{
				RuleID:   CheckCSPEventHandler,
				Code:     CheckCSPEventHandler,
				Severity: rulespec.SeverityHigh,
				Message:  "inline event-handler attributes are not permitted in frontend markup",
				Path:     file,
			})
		}
		if javascriptURIRe.MatchString(content) {
			out = append(out, Violation{
				RuleID:   CheckCSPJavascriptURI,
				Code:     CheckCSPJavascriptURI,
				Severity: rulespec.SeverityHigh,
				Message:  "javascript: URIs are not permitted in frontend markup",
				Path:     file,
			})
		}
		for _, host := range blockedCDNHosts {
			if strings.Contains(strings.ToLower(content), host) {
				out = append(out, Violation{
					RuleID:   CheckCSPBlockedCDN,
					Code:     CheckCSPBlockedCDN,
					Severity: rulespec.SeverityMedium,
					Message:  "imports from " + host + " are not permitted; vendor the asset instead",
					Path:     file,
				})
				break
			}
		}
	}
	return out
}

func checkDeployMethod(action ProposedAction) []Violation {
	if action.Kind != ActionDeploy {
		return nil
	}
	method := strings.TrimSpace(action.DeployMethod)
	if _, ok := allowedDeployMethods[method]; ok {
		return nil
	}
	msg := "deploy actions must declare a canonical deployment script"
	if method != "" {
		msg = "deploy method " + method + " is not a canonical deployment script"
	}
	return []Violation{{
		RuleID:   CheckDeployMethod,
		Code:     CheckDeployMethod,
		Severity: rulespec.SeverityCritical,
		Message:  msg,
	}}
}

func checkCanonicalPaths(action ProposedAction) []Violation {
	var out []Violation
	for _, file := range action.Files {
		clean := strings.TrimPrefix(file, "./")
		for _, dir := range legacyFrontendDirs {
			if strings.HasPrefix(clean, dir) {
				out = append(out, Violation{
					RuleID:   CheckLegacyPath,
					Code:     CheckLegacyPath,
					Severity: rulespec.SeverityHigh,
					Message:  "path is under retired frontend directory " + dir + "; use frontend/ instead",
					Path:     file,
				})
				break
			}
		}
		if _, ok := navigationConfigFiles[clean]; ok {
			// Review flag only. Does not block on its own.
			out = append(out, Violation{
				RuleID:   CheckNavigationReview,
				Code:     CheckNavigationReview,
				Severity: rulespec.SeverityLow,
				Message:  "navigation configuration changes require platform review",
				Path:     file,
			})
		}
	}
	return out
}

func isStaticAsset(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".scss", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
		".woff", ".woff2", ".ttf", ".otf", ".eot":
		return true
	default:
		return false
	}
}

func checkAssetPlacement(action ProposedAction) []Violation {
	var out []Violation
	for _, file := range action.Files {
		clean := strings.TrimPrefix(file, "./")
		if !isStaticAsset(clean) {
			continue
		}
		if strings.HasPrefix(clean, "frontend/") || strings.HasPrefix(clean, "public/") {
			continue
		}
		out = append(out, Violation{
			RuleID:   CheckAssetPlacement,
			Code:     CheckAssetPlacement,
			Severity: rulespec.SeverityMedium,
			Message:  "static assets belong under frontend/ or public/",
			Path:     file,
		})
	}
	return out
}

// governanceNamespace is reserved for this service's own surface.
const governanceNamespace = "/api/v1/governance"

func checkRoutePath(action ProposedAction) []Violation {
	if action.Kind != ActionRouteChange {
		return nil
	}
	route := strings.TrimSpace(action.RoutePath)
	if route == "" || !strings.HasPrefix(route, "/api/v") {
		return []Violation{{
			RuleID:   CheckRouteVersioning,
			Code:     CheckRouteVersioning,
			Severity: rulespec.SeverityHigh,
			Message:  "route paths must use a versioned /api/v{n}/ prefix",
			Path:     route,
		}}
	}
	if strings.HasPrefix(route, governanceNamespace) && action.Service != "governance" {
		return []Violation{{
			RuleID:   CheckRouteNamespace,
			Code:     CheckRouteNamespace,
			Severity: rulespec.SeverityCritical,
			Message:  governanceNamespace + " is reserved for the governance service",
			Path:     route,
		}}
	}
	return nil
}

func checkCSPDirectives(action ProposedAction) []Violation {
	var out []Violation
	for directive, value := range action.CSPDirectives {
		for _, forbidden := range forbiddenCSPValues {
			if containsCSPValue(value, forbidden) {
				out = append(out, Violation{
					RuleID:   CheckCSPDirectiveValue,
					Code:     CheckCSPDirectiveValue,
					Severity: rulespec.SeverityCritical,
					Message:  "CSP directive " + directive + " must not include " + forbidden,
					Path:     directive,
				})
			}
		}
	}
	return out
}

func containsCSPValue(directiveValue, needle string) bool {
	for _, token := range strings.Fields(directiveValue) {
		if strings.EqualFold(token, needle) {
			return true
		}
	}
	return false
}
