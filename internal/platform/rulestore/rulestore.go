// Package rulestore loads active governance rules for a tenant from
// Postgres, with a short-TTL Redis cache in front. The store may fail;
// the evaluator degrades to hardcoded-only checks when it does.
package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exafyltd/vitana-governance/internal/platform/rulespec"
)

var ErrCacheMiss = errors.New("rule cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisCache wraps go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Store struct {
	db     Queryer
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a Store. cache may be nil; every read then goes to the
// database.
func New(db Queryer, cache Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{db: db, cache: cache, ttl: ttl, logger: logger}
}

// ActiveRules returns the active rules scoped to the tenant, including
// tenant-agnostic rules. A rule whose logic fails to decode is returned
// with LogicError set so the caller can fail it closed without losing
// the rest of the batch.
func (s *Store) ActiveRules(ctx context.Context, tenant string) ([]rulespec.Rule, error) {
	tenant = strings.TrimSpace(tenant)
	cacheKey := "governance:rules:active:" + tenant

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			var rules []rulespec.Rule
			if err := json.Unmarshal([]byte(cached), &rules); err == nil {
				return rules, nil
			}
			// Poisoned cache entry; fall through to the database.
		case !errors.Is(err, ErrCacheMiss):
			if s.logger != nil {
				s.logger.Warn("rule cache read failed", "error", err)
			}
		}
	}

	rules, err := s.queryActiveRules(ctx, tenant)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(rules); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(encoded), s.ttl); err != nil && s.logger != nil {
				s.logger.Warn("rule cache write failed", "error", err)
			}
		}
	}
	return rules, nil
}

func (s *Store) queryActiveRules(ctx context.Context, tenant string) ([]rulespec.Rule, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT rule_id, tenant, code, name, description, severity, logic, scopes, provenance
		 FROM governance_rules
		 WHERE active AND (tenant = '' OR tenant = $1)
		 ORDER BY code, rule_id`,
		tenant,
	)
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	rules := make([]rulespec.Rule, 0, 16)
	for rows.Next() {
		var (
			rule          rulespec.Rule
			description   sql.NullString
			logicRaw      []byte
			scopesRaw     []byte
			provenanceRaw []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Tenant, &rule.Code, &rule.Name, &description, &rule.Severity, &logicRaw, &scopesRaw, &provenanceRaw); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Active = true
		rule.Description = description.String
		if len(scopesRaw) > 0 {
			_ = json.Unmarshal(scopesRaw, &rule.Scopes)
		}
		if len(provenanceRaw) > 0 {
			_ = json.Unmarshal(provenanceRaw, &rule.Provenance)
		}
		if len(logicRaw) > 0 {
			var logic rulespec.Logic
			if err := json.Unmarshal(logicRaw, &logic); err != nil {
				rule.LogicError = err.Error()
			} else {
				rule.Logic = &logic
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}
