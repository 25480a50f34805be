package promptstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	prompt string
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.prompt
	return nil
}

type fakeDB struct {
	execs    []string
	execArgs [][]any
	row      fakeRow
	execErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return f.row
}

func TestSavePromptEnsuresParentRows(t *testing.T) {
	db := &fakeDB{}
	s := New(db, nil)

	if err := s.SavePrompt(context.Background(), "acme", "support", "Answer politely."); err != nil {
		t.Fatalf("SavePrompt() error: %v", err)
	}

	if len(db.execs) != 3 {
		t.Fatalf("got %d exec calls, want 3: %v", len(db.execs), db.execs)
	}
	if !strings.Contains(db.execs[0], "INSERT INTO clients") {
		t.Errorf("exec 0 = %q", db.execs[0])
	}
	if !strings.Contains(db.execs[1], "INSERT INTO agents") {
		t.Errorf("exec 1 = %q", db.execs[1])
	}
	if !strings.Contains(db.execs[2], "ON CONFLICT (client_id, agent_id) DO UPDATE") {
		t.Errorf("exec 2 = %q", db.execs[2])
	}
	if got := db.execArgs[2]; got[0] != "acme" || got[1] != "support" || got[2] != "Answer politely." {
		t.Errorf("prompt args = %v", got)
	}
}

func TestGetPromptFound(t *testing.T) {
	db := &fakeDB{row: fakeRow{prompt: "Be brief."}}
	s := New(db, nil)

	prompt, ok, err := s.GetPrompt(context.Background(), "acme", "support")
	if err != nil {
		t.Fatalf("GetPrompt() error: %v", err)
	}
	if !ok || prompt != "Be brief." {
		t.Errorf("GetPrompt() = %q, %v", prompt, ok)
	}
}

func TestGetPromptMissingIsNotAnError(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	s := New(db, nil)

	prompt, ok, err := s.GetPrompt(context.Background(), "acme", "support")
	if err != nil {
		t.Fatalf("GetPrompt() error: %v", err)
	}
	if ok || prompt != "" {
		t.Errorf("GetPrompt() = %q, %v, want empty and false", prompt, ok)
	}
}

func TestGetPromptDatabaseError(t *testing.T) {
	dbErr := errors.New("connection reset")
	db := &fakeDB{row: fakeRow{err: dbErr}}
	s := New(db, nil)

	_, _, err := s.GetPrompt(context.Background(), "acme", "support")
	if !errors.Is(err, dbErr) {
		t.Fatalf("GetPrompt() error = %v, want wrapped %v", err, dbErr)
	}
}

func TestSaveDocumentRecord(t *testing.T) {
	db := &fakeDB{}
	s := New(db, nil)

	rec := DocumentRecord{TenantID: "acme", AgentID: "support", FileName: "fees.pdf", ObjectKey: "acme/support/1_fees.pdf"}
	if err := s.SaveDocumentRecord(context.Background(), rec); err != nil {
		t.Fatalf("SaveDocumentRecord() error: %v", err)
	}

	last := db.execs[len(db.execs)-1]
	if !strings.Contains(last, "INSERT INTO documents") {
		t.Errorf("last exec = %q", last)
	}
	args := db.execArgs[len(db.execArgs)-1]
	if args[1] != "acme" || args[3] != "fees.pdf" || args[4] != "acme/support/1_fees.pdf" {
		t.Errorf("document args = %v", args)
	}
	if id, ok := args[0].(string); !ok || id == "" {
		t.Errorf("document id = %v, want generated uuid", args[0])
	}
}

func TestSaveIngestionFailure(t *testing.T) {
	db := &fakeDB{}
	s := New(db, nil)

	f := Failure{TenantID: "acme", AgentID: "support", ObjectKey: "k", Stage: "embed", Err: "provider down"}
	if err := s.SaveIngestionFailure(context.Background(), f); err != nil {
		t.Fatalf("SaveIngestionFailure() error: %v", err)
	}

	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "ingestion_failures") {
		t.Errorf("execs = %v", db.execs)
	}
	args := db.execArgs[0]
	if args[4] != "embed" || args[5] != "provider down" {
		t.Errorf("failure args = %v", args)
	}
}
