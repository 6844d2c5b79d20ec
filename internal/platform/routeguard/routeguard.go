// Package routeguard enforces the process-lifetime "one endpoint = one
// handler" invariant. Every router mounted at boot passes through a
// Registry which claims each concrete METHOD+path pair; a second claim
// by a different owner either aborts startup or, under an explicit
// override, is tolerated loudly. Silent last-handler-wins precedence is
// exactly the bug class this exists to prevent.
package routeguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
)

const (
	EnvDev        = "dev"
	EnvTest       = "test"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

var ErrFrozen = errors.New("route registry is frozen")

type DuplicateRouteError struct {
	Key      string
	Owner    string
	Claimant string
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("duplicate route %q: already claimed by %q, re-claimed by %q", e.Key, e.Owner, e.Claimant)
}

type Claim struct {
	Owner        string
	RegisteredAt time.Time
}

type Config struct {
	// Environment is one of dev, test, staging, production.
	Environment string
	// TolerateDuplicates allows duplicate mounts outside dev/test. The
	// override never applies in dev/test: there a duplicate always aborts.
	TolerateDuplicates bool
}

// Registry is created once by the server bootstrap, written only while
// mounting, and frozen before the listener accepts traffic. It is never
// a package-level singleton.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	audit  *auditlog.Emitter
	claims map[string]Claim
	frozen bool
}

func New(cfg Config, logger *slog.Logger, audit *auditlog.Emitter) *Registry {
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = EnvDev
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		audit:  audit,
		claims: make(map[string]Claim),
	}
}

// Mount claims every concrete method/path pair the sub-router exposes,
// including nested routers, then mounts it on the parent. A pair already
// claimed by a different owner is a duplicate violation.
func (g *Registry) Mount(parent chi.Router, pattern string, sub chi.Router, owner string) error {
	if strings.TrimSpace(owner) == "" {
		return errors.New("owner is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}

	var firstDup *DuplicateRouteError
	err := chi.Walk(sub, func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		key := normalizeKey(method, joinPattern(pattern, route))
		existing, claimed := g.claims[key]
		if !claimed {
			g.claims[key] = Claim{Owner: owner, RegisteredAt: time.Now().UTC()}
			return nil
		}
		if existing.Owner == owner {
			return nil
		}

		tolerated := !g.fatalOnDuplicate()
		if g.logger != nil {
			g.logger.Error("duplicate route claim",
				"route", key,
				"existing_owner", existing.Owner,
				"claimant", owner,
				"tolerated", tolerated,
			)
		}
		g.auditDuplicate(key, existing, owner, tolerated)
		if !tolerated && firstDup == nil {
			firstDup = &DuplicateRouteError{Key: key, Owner: existing.Owner, Claimant: owner}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk routes: %w", err)
	}
	if firstDup != nil {
		return firstDup
	}

	parent.Mount(pattern, sub)
	return nil
}

// Freeze marks the registry immutable. Called once the route population
// is complete, before the listener starts.
func (g *Registry) Freeze() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen = true
}

// Reset clears the registry. Test configuration only.
func (g *Registry) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.Environment != EnvTest {
		return fmt.Errorf("route registry reset refused outside test configuration (env %q)", g.cfg.Environment)
	}
	g.claims = make(map[string]Claim)
	g.frozen = false
	return nil
}

// Claims returns a copy of the current claim table.
func (g *Registry) Claims() map[string]Claim {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Claim, len(g.claims))
	for k, v := range g.claims {
		out[k] = v
	}
	return out
}

func (g *Registry) fatalOnDuplicate() bool {
	switch g.cfg.Environment {
	case EnvDev, EnvTest:
		return true
	}
	return !g.cfg.TolerateDuplicates
}

func (g *Registry) auditDuplicate(key string, existing Claim, claimant string, tolerated bool) {
	decision := "abort"
	if tolerated {
		decision = "tolerate"
	}
	g.audit.EmitSync(context.Background(), auditlog.Record{
		OccurredAt:   time.Now().UTC(),
		Actor:        claimant,
		Action:       "governance.route.duplicate",
		ResourceType: "route",
		ResourceID:   key,
		Decision:     decision,
		Payload: map[string]any{
			"existing_owner": existing.Owner,
			"claimant":       claimant,
			"tolerated":      tolerated,
		},
	})
}

var paramSegment = regexp.MustCompile(`\{[^}]*\}`)

// normalizeKey produces the registry key for one method/path pair.
// Path parameters collapse to a stable placeholder so structurally
// identical routes with renamed parameters cannot evade detection.
func normalizeKey(method, path string) string {
	p := strings.TrimSpace(path)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	p = paramSegment.ReplaceAllString(p, "{}")
	return strings.ToUpper(strings.TrimSpace(method)) + " " + p
}

func joinPattern(mount, route string) string {
	mount = strings.TrimSuffix(strings.TrimSpace(mount), "/")
	if route == "" {
		route = "/"
	}
	if route[0] != '/' {
		route = "/" + route
	}
	return mount + route
}
