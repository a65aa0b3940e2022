package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"graphsub/internal/infra/persistence/postgres/testutil"
	"graphsub/pkg/domain"
)

var ctx = context.Background()

func stubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	s, err := NewStore("postgres://stub/graphsub")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, conn
}

func TestNewStoreCreatesTable(t *testing.T) {
	_, conn := stubStore(t)
	found := false
	for _, q := range conn.Execs {
		if strings.Contains(q, "CREATE TABLE IF NOT EXISTS state") {
			found = true
		}
	}
	if !found {
		t.Fatalf("state table not ensured: %v", conn.Execs)
	}
}

func TestCommitSnapshotsAllBuckets(t *testing.T) {
	s, conn := stubStore(t)
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	node := domain.Node{ID: "n-1", Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-1"}
	if err := tx.UpsertNode(ctx, node); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, bucket := range []string{"nodes", "edges", "projects", "transaction_logs"} {
		if _, ok := conn.Buckets[bucket]; !ok {
			t.Errorf("bucket %s not written", bucket)
		}
	}
	var nodes []domain.Node
	if err := json.Unmarshal(conn.Buckets["nodes"], &nodes); err != nil {
		t.Fatalf("decode nodes bucket: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "n-1" {
		t.Fatalf("nodes bucket content: %v", nodes)
	}
}

func TestNewStoreHydratesFromSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	nodes, _ := json.Marshal([]domain.Node{
		{ID: "n-1", Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-1"},
	})
	conn.Buckets["nodes"] = nodes
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	s, err := NewStore("postgres://stub/graphsub")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tx, _ := s.Begin(ctx)
	defer func() { _ = tx.Rollback(ctx) }()
	got, found, err := tx.GetNodeByID(ctx, "n-1")
	if err != nil || !found {
		t.Fatalf("node not hydrated: %v", err)
	}
	if got.Type != "analyte" {
		t.Fatalf("node fields lost: %+v", got)
	}
	key := domain.BusinessKey{Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-1"}
	if _, found, _ := tx.GetNodeByBusinessKey(ctx, key); !found {
		t.Fatal("business key index not rebuilt")
	}
}

func TestTransactionLogsPersistImmediately(t *testing.T) {
	s, conn := stubStore(t)
	log := domain.TransactionLog{ID: "t-1", Program: "CGCI", Project: "BLGSP", State: domain.TxLogPending}
	if err := s.AppendTransactionLog(ctx, log); err != nil {
		t.Fatalf("append: %v", err)
	}
	var logs []domain.TransactionLog
	if err := json.Unmarshal(conn.Buckets["transaction_logs"], &logs); err != nil {
		t.Fatalf("decode logs bucket: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "t-1" {
		t.Fatalf("logs bucket content: %v", logs)
	}
}

func TestOpenErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, fmt.Errorf("refused")
	})
	defer restore()
	if _, err := NewStore(""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("open failure not surfaced: %v", err)
	}
}

func TestPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("postgres://stub/graphsub"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("ping failure not surfaced: %v", err)
	}
}

func TestBucketWriteFailureAbortsCommit(t *testing.T) {
	s, conn := stubStore(t)
	conn.FailBuckets = map[string]bool{"edges": true}
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, domain.Node{ID: "n-1", Type: "analyte", ProjectID: "P", SubmitterID: "a"})
	if err := tx.Commit(ctx); err == nil || !strings.Contains(err.Error(), "upsert edges") {
		t.Fatalf("bucket failure not surfaced: %v", err)
	}
}
