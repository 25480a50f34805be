// Package promptstore persists per-tenant agent prompts and ingestion
// bookkeeping in Postgres.
package promptstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomibot/ragserver/internal/log"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DocumentRecord is the audit row written after a document is indexed.
// It records that ingestion happened, independent of any prompt update.
type DocumentRecord struct {
	TenantID  string
	AgentID   string
	FileName  string
	ObjectKey string
}

// Failure is a dead-letter record for a failed document ingestion,
// kept for manual replay.
type Failure struct {
	TenantID  string
	AgentID   string
	ObjectKey string
	Stage     string
	Err       string
}

// Store reads and writes prompts and ingestion records.
type Store struct {
	db     DB
	logger log.Logger
}

// New creates a Store. logger may be nil.
func New(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// SavePrompt upserts the prompt for a tenant's agent, creating the parent
// client and agent rows when missing.
func (s *Store) SavePrompt(ctx context.Context, tenantID, agentID, prompt string) error {
	if err := s.ensureParents(ctx, tenantID, agentID); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO prompts (client_id, agent_id, prompt, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (client_id, agent_id) DO UPDATE SET prompt = EXCLUDED.prompt, updated_at = NOW()
	`, tenantID, agentID, prompt)
	if err != nil {
		return fmt.Errorf("saving prompt for %s/%s: %w", tenantID, agentID, err)
	}

	s.logger.Info("prompt saved", "client_id", tenantID, "agent_id", agentID)
	return nil
}

// GetPrompt returns the stored prompt and whether one exists. A missing
// prompt is not an error.
func (s *Store) GetPrompt(ctx context.Context, tenantID, agentID string) (string, bool, error) {
	var prompt string
	err := s.db.QueryRow(ctx,
		"SELECT prompt FROM prompts WHERE client_id = $1 AND agent_id = $2",
		tenantID, agentID).Scan(&prompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading prompt for %s/%s: %w", tenantID, agentID, err)
	}
	return prompt, true, nil
}

// SaveDocumentRecord records a completed document ingestion.
func (s *Store) SaveDocumentRecord(ctx context.Context, rec DocumentRecord) error {
	if err := s.ensureParents(ctx, rec.TenantID, rec.AgentID); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (id, client_id, agent_id, file_name, source_key)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), rec.TenantID, rec.AgentID, rec.FileName, rec.ObjectKey)
	if err != nil {
		return fmt.Errorf("recording document %q: %w", rec.FileName, err)
	}
	return nil
}

// SaveIngestionFailure writes a dead-letter row for a document that could
// not be ingested.
func (s *Store) SaveIngestionFailure(ctx context.Context, f Failure) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ingestion_failures (id, client_id, agent_id, object_key, stage, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), f.TenantID, f.AgentID, f.ObjectKey, f.Stage, f.Err)
	if err != nil {
		return fmt.Errorf("recording ingestion failure for %s/%s: %w", f.TenantID, f.AgentID, err)
	}

	s.logger.Warn("ingestion failure recorded",
		"client_id", f.TenantID, "agent_id", f.AgentID, "stage", f.Stage)
	return nil
}

func (s *Store) ensureParents(ctx context.Context, tenantID, agentID string) error {
	if _, err := s.db.Exec(ctx,
		"INSERT INTO clients (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", tenantID); err != nil {
		return fmt.Errorf("ensuring client %q: %w", tenantID, err)
	}
	if _, err := s.db.Exec(ctx,
		"INSERT INTO agents (client_id, id) VALUES ($1, $2) ON CONFLICT (client_id, id) DO NOTHING",
		tenantID, agentID); err != nil {
		return fmt.Errorf("ensuring agent %q/%q: %w", tenantID, agentID, err)
	}
	return nil
}
