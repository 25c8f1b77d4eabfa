package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/facturas/internal/core"
)

func newSQLiteStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := New("sqlite", filepath.Join(t.TempDir(), "history.db"), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHistoryStore_SQLite(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []core.HistoryKind{core.HistoryIngest, core.HistoryUpload, core.HistoryIngest} {
		err := store.Record(ctx, core.HistoryEntry{
			SessionID:   "s-1",
			Kind:        kind,
			FileName:    "facturas.csv",
			Phase:       "complete",
			Total:       10 + i,
			Succeeded:   9,
			Failed:      1 + i,
			ClientIP:    "192.168.1.5",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}

	newest := got[0]
	if newest.Total != 12 || newest.Failed != 3 || newest.Kind != core.HistoryIngest {
		t.Errorf("newest = %+v", newest)
	}
	if !newest.StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("started_at = %v", newest.StartedAt)
	}
	if got[1].Kind != core.HistoryUpload || got[1].ID == 0 || got[1].ClientIP != "192.168.1.5" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestHistoryStore_EmptyIsNotNil(t *testing.T) {
	store := newSQLiteStore(t)
	got, err := store.Recent(context.Background(), core.DefaultHistoryLimit)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty slice", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		dsn    string
	}{
		{"empty dsn", "sqlite", ""},
		{"unknown driver", "oracle", "x"},
		{"bad mysql dsn", "mysql", "::not a dsn::"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if db, err := Open(tt.driver, tt.dsn, 0); err == nil {
				db.Close()
				t.Error("Open succeeded, want error")
			}
		})
	}

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "x.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := Migrate(db, "oracle"); err == nil {
		t.Error("Migrate with unknown driver succeeded")
	}
}
