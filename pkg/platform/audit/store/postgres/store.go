package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "certledger/pkg/platform/audit"
	txcontext "certledger/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the caller's transaction when one
// is present, and published to Kafka by the outbox worker.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for proper deserialization by consumers.
type outboxPayload struct {
	ID                string `json:"ID"`
	Category          string `json:"Category"`
	Timestamp         string `json:"Timestamp"`
	SubjectID         string `json:"SubjectID,omitempty"`
	SubjectType       string `json:"SubjectType,omitempty"`
	CertificateID     string `json:"CertificateID,omitempty"`
	CertificateNumber string `json:"CertificateNumber,omitempty"`
	Action            string `json:"Action"`
	Reason            string `json:"Reason,omitempty"`
	Severity          string `json:"Severity,omitempty"`
	RequestID         string `json:"RequestID,omitempty"`
	ActorID           string `json:"ActorID,omitempty"`
	ClientIP          string `json:"ClientIP,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:                eventID.String(),
		Category:          string(category),
		Timestamp:         event.Timestamp.Format(time.RFC3339Nano),
		SubjectID:         event.SubjectID,
		SubjectType:       event.SubjectType,
		CertificateID:     event.CertificateID,
		CertificateNumber: event.CertificateNumber,
		Action:            event.Action,
		Reason:            event.Reason,
		Severity:          string(event.Severity),
		RequestID:         event.RequestID,
		ActorID:           event.ActorID,
		ClientIP:          event.ClientIP,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.SubjectID != "" {
		aggregateType = "subject"
		aggregateID = event.SubjectID
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		s.clock(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns a subject's events, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM outbox
		WHERE aggregate_type = 'subject' AND aggregate_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// FetchPending locks up to limit unpublished entries for the calling worker.
// SKIP LOCKED lets several workers drain the outbox without double-publishing.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var entry audit.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps entries as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox SET published_at = $2 WHERE id = ANY($1::uuid[])`
	if _, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query, pq.Array(ids), s.clock()); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// RunInTx runs fn with a transaction carried in ctx so FetchPending's row
// locks are held until MarkPublished commits.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox tx: %w", err)
	}
	return nil
}

func decodePayload(raw []byte) (audit.Event, error) {
	var payload outboxPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return audit.Event{
		Category:          audit.EventCategory(payload.Category),
		Timestamp:         ts,
		SubjectID:         payload.SubjectID,
		SubjectType:       payload.SubjectType,
		CertificateID:     payload.CertificateID,
		CertificateNumber: payload.CertificateNumber,
		Action:            payload.Action,
		Reason:            payload.Reason,
		Severity:          audit.Severity(payload.Severity),
		RequestID:         payload.RequestID,
		ActorID:           payload.ActorID,
		ClientIP:          payload.ClientIP,
	}, nil
}
