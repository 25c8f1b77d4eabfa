package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/facturas/internal/core"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("set TEST_DATABASE_URL to run postgres-backed history tests")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, url, 2)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := uuid.NewString()
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	entries := []core.HistoryEntry{
		{SessionID: session, Kind: core.HistoryIngest, FileName: "a.csv", Phase: "complete", Total: 10, Succeeded: 8, Failed: 2, ClientIP: "10.0.0.1"},
		{SessionID: session, Kind: core.HistoryUpload, FileName: "a.csv", Phase: "cancelled", Total: 8, Succeeded: 3, Error: "upload cancelled"},
	}
	for i, e := range entries {
		e.StartedAt = base.Add(time.Duration(i) * time.Minute)
		e.CompletedAt = e.StartedAt.Add(time.Second)
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Kind != core.HistoryUpload || got[0].Error != "upload cancelled" || got[0].ClientIP != "" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].Kind != core.HistoryIngest || got[1].Succeeded != 8 || got[1].ClientIP != "10.0.0.1" {
		t.Errorf("older = %+v", got[1])
	}
	if !got[1].StartedAt.Equal(base) {
		t.Errorf("started_at = %v, want %v", got[1].StartedAt, base)
	}
}
