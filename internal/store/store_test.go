package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/nugget/easync/internal/sync"
)

type testRecord struct {
	Subject string `json:"subject"`
}

func decodeTestRecord(data []byte) (any, error) {
	var r testRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "easync-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	s, err := NewStore(tmpFile.Name(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	s.RegisterCollection("Email", decodeTestRecord)
	return s
}

func TestApplyBatchAddThenPendingChangesEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := sync.Collection{Class: "Email", ServerID: "1"}

	batch := &sync.ChangeBatch{
		Collection: col,
		Entries: []sync.ChangeEntry{
			{Op: sync.OpAdd, ServerID: "srv1", Data: &testRecord{Subject: "hello"}},
		},
	}
	if err := s.ApplyBatch(ctx, batch); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	pending, err := s.PendingChanges(ctx, col)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	if len(pending.Entries) != 0 {
		t.Errorf("expected no pending changes after ApplyBatch, got %d", len(pending.Entries))
	}
}

func TestStageProducesPendingAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := sync.Collection{Class: "Email", ServerID: "1"}

	clientID := sync.NewClientID()
	if err := s.Stage(ctx, "Email", sync.OpAdd, "", clientID, &testRecord{Subject: "draft"}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	pending, err := s.PendingChanges(ctx, col)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	if len(pending.Entries) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending.Entries))
	}
	entry := pending.Entries[0]
	if entry.Op != sync.OpAdd {
		t.Errorf("Op = %v, want OpAdd", entry.Op)
	}
	if entry.ClientID != clientID {
		t.Errorf("ClientID = %q, want %q", entry.ClientID, clientID)
	}
	rec, ok := entry.Data.(*testRecord)
	if !ok {
		t.Fatalf("Data type = %T, want *testRecord", entry.Data)
	}
	if rec.Subject != "draft" {
		t.Errorf("Subject = %q, want draft", rec.Subject)
	}
}

func TestApplyBatchResolvesClientIDOnAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := sync.Collection{Class: "Email", ServerID: "1"}

	clientID := sync.NewClientID()
	if err := s.Stage(ctx, "Email", sync.OpAdd, "", clientID, &testRecord{Subject: "draft"}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	batch := &sync.ChangeBatch{
		Collection: col,
		Entries: []sync.ChangeEntry{
			{Op: sync.OpAdd, ServerID: "srv42", ClientID: clientID, Data: &testRecord{Subject: "draft"}},
		},
	}
	if err := s.ApplyBatch(ctx, batch); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	pending, err := s.PendingChanges(ctx, col)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	if len(pending.Entries) != 0 {
		t.Fatalf("expected the resolved row to no longer be dirty, got %d pending", len(pending.Entries))
	}
}

func TestMarkSyncedClearsDirtyAndDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	col := sync.Collection{Class: "Email", ServerID: "1"}

	add := &sync.ChangeBatch{
		Collection: col,
		Entries: []sync.ChangeEntry{
			{Op: sync.OpAdd, ServerID: "srv1", Data: &testRecord{Subject: "hello"}},
		},
	}
	if err := s.ApplyBatch(ctx, add); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	if err := s.Stage(ctx, "Email", sync.OpDelete, "srv1", "", &testRecord{Subject: "hello"}); err != nil {
		t.Fatalf("Stage(delete) error = %v", err)
	}

	pending, err := s.PendingChanges(ctx, col)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	if len(pending.Entries) != 1 || pending.Entries[0].Op != sync.OpDelete {
		t.Fatalf("expected one pending delete, got %+v", pending.Entries)
	}

	if err := s.MarkSynced(ctx, pending); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	after, err := s.PendingChanges(ctx, col)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	if len(after.Entries) != 0 {
		t.Errorf("expected no pending entries after MarkSynced, got %d", len(after.Entries))
	}
}

func TestPendingChangesUnregisteredClass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PendingChanges(ctx, sync.Collection{Class: "Calendar"})
	if err == nil {
		t.Fatal("expected error for unregistered collection class")
	}
}

func TestWipeDeletesOnlyMatchingClass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.RegisterCollection("Contacts", decodeTestRecord)

	batch := &sync.ChangeBatch{
		Collection: sync.Collection{Class: "Email"},
		Entries: []sync.ChangeEntry{
			{Op: sync.OpAdd, ServerID: "srv1", Data: &testRecord{Subject: "hello"}},
		},
	}
	if err := s.ApplyBatch(ctx, batch); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}
	other := &sync.ChangeBatch{
		Collection: sync.Collection{Class: "Contacts"},
		Entries: []sync.ChangeEntry{
			{Op: sync.OpAdd, ServerID: "srv2", Data: &testRecord{Subject: "keep me"}},
		},
	}
	if err := s.ApplyBatch(ctx, other); err != nil {
		t.Fatalf("ApplyBatch() error = %v", err)
	}

	if err := s.Wipe(ctx, sync.Collection{Class: "Email"}); err != nil {
		t.Fatalf("Wipe() error = %v", err)
	}

	if rec, err := s.LookupRecord(ctx, "Email", "srv1"); err != nil || rec != nil {
		t.Errorf("LookupRecord(Email, srv1) = %v, %v, want nil, nil after Wipe", rec, err)
	}
	if rec, err := s.LookupRecord(ctx, "Contacts", "srv2"); err != nil || rec == nil {
		t.Errorf("LookupRecord(Contacts, srv2) = %v, %v, want a surviving record", rec, err)
	}
}

func TestLookupRecordMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.LookupRecord(ctx, "Email", "nonexistent")
	if err != nil {
		t.Fatalf("LookupRecord() error = %v", err)
	}
	if rec != nil {
		t.Errorf("LookupRecord() = %v, want nil for a missing row", rec)
	}
}

func TestLookupRecordUnregisteredClass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LookupRecord(ctx, "Calendar", "srv1")
	if err == nil {
		t.Fatal("expected error for unregistered collection class")
	}
}
