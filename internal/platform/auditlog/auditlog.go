package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one append-only governance audit entry. The sink is for
// traceability, not correctness: a decision never waits on it.
type Record struct {
	OccurredAt    time.Time
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	Decision      string
	Payload       any
}

type Sink interface {
	Append(ctx context.Context, rec Record) error
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Record) Validate() error {
	if r.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(r.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(r.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(r.ResourceType) == "" {
		return errors.New("ResourceType is required")
	}
	if strings.TrimSpace(r.ResourceID) == "" {
		return errors.New("ResourceID is required")
	}
	return nil
}

// PostgresSink appends audit records to the audit_events table with an
// integrity hash over the canonical record.
type PostgresSink struct {
	db QueryRower
}

func NewPostgresSink(db QueryRower) (*PostgresSink, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(rec, payloadJSON)
	if err != nil {
		return err
	}

	var correlationID sql.NullString
	if strings.TrimSpace(rec.CorrelationID) != "" {
		correlationID = sql.NullString{String: strings.TrimSpace(rec.CorrelationID), Valid: true}
	}
	var decision sql.NullString
	if strings.TrimSpace(rec.Decision) != "" {
		decision = sql.NullString{String: strings.TrimSpace(rec.Decision), Valid: true}
	}

	var id int64
	err = s.db.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at,
			actor,
			action,
			resource_type,
			resource_id,
			correlation_id,
			decision,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING event_id`,
		rec.OccurredAt.UTC(),
		strings.TrimSpace(rec.Actor),
		strings.TrimSpace(rec.Action),
		strings.TrimSpace(rec.ResourceType),
		strings.TrimSpace(rec.ResourceID),
		correlationID,
		decision,
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func ComputeIntegritySHA256(rec Record, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt    time.Time       `json:"occurred_at"`
		Actor         string          `json:"actor"`
		Action        string          `json:"action"`
		ResourceType  string          `json:"resource_type"`
		ResourceID    string          `json:"resource_id"`
		CorrelationID string          `json:"correlation_id,omitempty"`
		Decision      string          `json:"decision,omitempty"`
		Payload       json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt:    rec.OccurredAt.UTC(),
		Actor:         strings.TrimSpace(rec.Actor),
		Action:        strings.TrimSpace(rec.Action),
		ResourceType:  strings.TrimSpace(rec.ResourceType),
		ResourceID:    strings.TrimSpace(rec.ResourceID),
		CorrelationID: strings.TrimSpace(rec.CorrelationID),
		Decision:      strings.TrimSpace(rec.Decision),
		Payload:       payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
