package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), &Config{Path: filepath.Join(dir, "relayer.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndFetchRequest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateNewRequest(ctx, json.RawMessage(`{"amount":{"$bigint":"1000000000000000000"}}`))
	if err != nil {
		t.Fatalf("CreateNewRequest: %v", err)
	}
	if rec.Status != StatusReceived {
		t.Fatalf("expected RECEIVED, got %s", rec.Status)
	}

	fetched, err := s.GetRequest(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if fetched.ID != rec.ID || fetched.Status != StatusReceived {
		t.Fatalf("mismatched record: %+v", fetched)
	}
}

func TestRequestLifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.CreateNewRequest(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("CreateNewRequest: %v", err)
	}

	if err := s.UpdateBroadcastedRequest(ctx, rec.ID, "0xabc"); err != nil {
		t.Fatalf("UpdateBroadcastedRequest: %v", err)
	}

	fetched, err := s.GetRequest(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if fetched.Status != StatusBroadcasted || fetched.TxHash != "0xabc" {
		t.Fatalf("unexpected record after broadcast: %+v", fetched)
	}
}

func TestUpdateUnknownRequestFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpdateFailedRequest(ctx, "does-not-exist", "boom"); err == nil {
		t.Fatal("expected error updating unknown request")
	}
}
