package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/michaelbrown/sandboxer/internal/agent"
	"github.com/michaelbrown/sandboxer/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRun(t *testing.T, s *SQLiteStore, r *storage.Run) {
	t.Helper()
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun(%s): %v", r.ID, err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{
		ID:      "abc12345-0000-0000-0000-000000000000",
		Profile: "blog-post",
	}
	createRun(t, s, run)

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != storage.StatusRunning {
		t.Errorf("status = %q, want %q", got.Status, storage.StatusRunning)
	}
	if got.Profile != "blog-post" {
		t.Errorf("profile = %q, want %q", got.Profile, "blog-post")
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	createRun(t, s, &storage.Run{ID: "abc12345-0000-0000-0000-000000000000"})
	createRun(t, s, &storage.Run{ID: "abd00000-0000-0000-0000-000000000000"})

	got, err := s.GetRun(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if got.ID != "abc12345-0000-0000-0000-000000000000" {
		t.Errorf("got ID %q", got.ID)
	}

	if _, err := s.GetRun(ctx, "ab"); err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ambiguous prefix: got %v, want ambiguity error", err)
	}
	if _, err := s.GetRun(ctx, "zzz"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown prefix: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetRun(ctx, "%"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("wildcard prefix: got %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"aaa", "bbb", "ccc"} {
		createRun(t, s, &storage.Run{ID: id})
	}
	done := &storage.Run{ID: "ddd", Status: storage.StatusCompleted}
	createRun(t, s, done)

	runs, err := s.ListRuns(ctx, storage.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("got %d runs, want 4", len(runs))
	}
	if runs[0].ID != "ddd" {
		t.Errorf("newest run first: got %q, want %q", runs[0].ID, "ddd")
	}

	completed, err := s.ListRuns(ctx, storage.RunListOptions{Status: storage.StatusCompleted})
	if err != nil {
		t.Fatalf("ListRuns(status): %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "ddd" {
		t.Errorf("completed runs = %+v", completed)
	}

	page, err := s.ListRuns(ctx, storage.RunListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns(page): %v", err)
	}
	if len(page) != 2 || page[0].ID != "ccc" {
		t.Errorf("page = %+v", page)
	}
}

func TestUpdateRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{ID: "run-1"}
	createRun(t, s, run)

	run.Status = storage.StatusFailed
	run.State = "stopped_failed"
	run.SandboxID = "sbx_1"
	run.Error = "Installing Claude Code CLI failed"
	run.Title = "CLI install"
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != storage.StatusFailed || got.SandboxID != "sbx_1" || got.Error != run.Error || got.State != "stopped_failed" {
		t.Errorf("updated run = %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.UpdateRun(ctx, &storage.Run{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateRun(missing) = %v, want ErrNotFound", err)
	}
}

func TestMessagesAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	createRun(t, s, &storage.Run{ID: "run-msg-0001"})

	msgs, err := s.LoadMessages(ctx, "run-msg-0001")
	if err != nil {
		t.Fatalf("LoadMessages(empty): %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("new run has %d messages", len(msgs))
	}

	want := []agent.Message{
		{Type: agent.TypeSystem, Data: json.RawMessage(`{"subtype":"init"}`)},
		{Type: agent.TypeResult, Data: json.RawMessage(`{"is_error":false,"result":"done"}`)},
	}
	if err := s.SaveMessages(ctx, "run-msg-0001", want); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	got, err := s.LoadMessages(ctx, "run-msg-0001")
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got) != 2 || got[1].ResultText() != "done" {
		t.Errorf("messages = %+v", got)
	}

	if err := s.DeleteRun(ctx, "run-msg"); err != nil {
		t.Fatalf("DeleteRun by prefix: %v", err)
	}
	if _, err := s.GetRun(ctx, "run-msg-0001"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRun after delete = %v", err)
	}
	msgs, err = s.LoadMessages(ctx, "run-msg-0001")
	if err != nil || msgs != nil {
		t.Errorf("messages after delete = %v, %v", msgs, err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	createRun(t, s, &storage.Run{ID: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != schemaVersion() {
		t.Errorf("schema version = %d, want %d", version, schemaVersion())
	}
	if _, err := s.GetRun(context.Background(), "persisted"); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
}
