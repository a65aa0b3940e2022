package persistence

import (
	"path/filepath"
	"testing"

	"graphsub/internal/infra/persistence/memory"
	"graphsub/internal/infra/persistence/sqlite"
)

func TestOpenMemoryDriver(t *testing.T) {
	t.Setenv("GRAPHSUB_STORAGE_DRIVER", "memory")
	store, err := Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	t.Setenv("GRAPHSUB_STORAGE_DRIVER", "")
	t.Setenv("GRAPHSUB_SQLITE_PATH", filepath.Join(t.TempDir(), "graphsub.db"))
	store, err := Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	_ = s.Close()
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("GRAPHSUB_STORAGE_DRIVER", "oracle")
	if _, err := Open(); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
