package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"graphsub/pkg/domain"
)

var ctx = context.Background()

func testNode(id, sid string) domain.Node {
	return domain.Node{
		ID: id, Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: sid,
		Properties: map[string]any{"analyte_type": "DNA"},
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func mustCommit(t *testing.T, tx domain.Tx) {
	t.Helper()
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCommitMakesWritesVisible(t *testing.T) {
	s := NewStore()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.UpsertNode(ctx, testNode("n-1", "a-1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Not visible to a parallel transaction before commit.
	other, _ := s.Begin(ctx)
	if _, found, _ := other.GetNodeByID(ctx, "n-1"); found {
		t.Fatal("uncommitted write visible to another transaction")
	}
	_ = other.Rollback(ctx)

	mustCommit(t, tx)
	after, _ := s.Begin(ctx)
	defer func() { _ = after.Rollback(ctx) }()
	node, found, err := after.GetNodeByID(ctx, "n-1")
	if err != nil || !found {
		t.Fatalf("committed node missing: %v", err)
	}
	if node.SubmitterID != "a-1" {
		t.Fatalf("node fields lost: %+v", node)
	}
	key := domain.BusinessKey{Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-1"}
	if _, found, _ := after.GetNodeByBusinessKey(ctx, key); !found {
		t.Fatal("business key index not maintained")
	}
}

func TestRollbackDiscardsJournal(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if s.CountNodes("") != 0 {
		t.Fatal("rolled-back write reached canonical state")
	}
}

func TestRacingCommitsSurfaceConflict(t *testing.T) {
	s := NewStore()
	tx1, _ := s.Begin(ctx)
	tx2, _ := s.Begin(ctx)

	// Same business key, different ids, from two snapshots of empty state.
	if err := tx1.UpsertNode(ctx, testNode("n-1", "a-1")); err != nil {
		t.Fatalf("tx1 upsert: %v", err)
	}
	if err := tx2.UpsertNode(ctx, testNode("n-2", "a-1")); err != nil {
		t.Fatalf("tx2 upsert: %v", err)
	}
	mustCommit(t, tx1)
	err := tx2.Commit(ctx)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if s.CountNodes("") != 1 {
		t.Fatalf("expected exactly the first writer's node, got %d", s.CountNodes(""))
	}
}

func TestUpsertSameNodeKeepsKey(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	mustCommit(t, tx)

	// Re-upserting the same node under its own key is not a conflict.
	tx2, _ := s.Begin(ctx)
	updated := testNode("n-1", "a-1")
	updated.Properties["analyte_type"] = "RNA"
	if err := tx2.UpsertNode(ctx, updated); err != nil {
		t.Fatalf("self upsert: %v", err)
	}
	mustCommit(t, tx2)

	// Changing the submitter id moves the key index.
	tx3, _ := s.Begin(ctx)
	moved := testNode("n-1", "a-2")
	if err := tx3.UpsertNode(ctx, moved); err != nil {
		t.Fatalf("move key: %v", err)
	}
	mustCommit(t, tx3)
	tx4, _ := s.Begin(ctx)
	defer func() { _ = tx4.Rollback(ctx) }()
	oldKey := domain.BusinessKey{Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-1"}
	if _, found, _ := tx4.GetNodeByBusinessKey(ctx, oldKey); found {
		t.Fatal("stale business key still indexed")
	}
}

func TestEdgesAndDeletes(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, testNode("parent", "a-1"))
	_ = tx.UpsertNode(ctx, testNode("child", "a-2"))
	_ = tx.UpsertNode(ctx, testNode("other", "a-3"))
	for _, e := range []domain.Edge{
		{Label: "derived_from", SrcID: "child", DstID: "parent"},
		{Label: "related_to", SrcID: "child", DstID: "other"},
	} {
		if err := tx.UpsertEdge(ctx, e); err != nil {
			t.Fatalf("upsert edge: %v", err)
		}
	}

	in, _ := tx.EdgesIn(ctx, "parent")
	if len(in) != 1 || in[0].SrcID != "child" {
		t.Fatalf("edges in: %v", in)
	}
	out, _ := tx.EdgesOut(ctx, "child")
	if len(out) != 2 {
		t.Fatalf("edges out: %v", out)
	}

	// Label-scoped delete keeps the other label.
	if err := tx.DeleteEdgesFrom(ctx, "child", "derived_from"); err != nil {
		t.Fatalf("delete edges from: %v", err)
	}
	out, _ = tx.EdgesOut(ctx, "child")
	if len(out) != 1 || out[0].Label != "related_to" {
		t.Fatalf("label-scoped delete wrong: %v", out)
	}

	// Touch-delete clears both directions, then the node goes.
	if err := tx.DeleteEdgesTouching(ctx, "child"); err != nil {
		t.Fatalf("delete edges touching: %v", err)
	}
	if err := tx.DeleteNode(ctx, "child"); err != nil {
		t.Fatalf("delete node: %v", err)
	}
	mustCommit(t, tx)

	if s.CountNodes("") != 2 || s.CountEdges() != 0 {
		t.Fatalf("state after delete: nodes=%d edges=%d", s.CountNodes(""), s.CountEdges())
	}
}

func TestUpsertEdgeRequiresEndpoints(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	defer func() { _ = tx.Rollback(ctx) }()
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	if err := tx.UpsertEdge(ctx, domain.Edge{Label: "x", SrcID: "n-1", DstID: "ghost"}); err == nil {
		t.Fatal("edge to missing node accepted")
	}
	if err := tx.UpsertEdge(ctx, domain.Edge{Label: "x", SrcID: "ghost", DstID: "n-1"}); err == nil {
		t.Fatal("edge from missing node accepted")
	}
}

func TestProjectsAndNodeStates(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	project := domain.Project{Program: "CGCI", Code: "BLGSP", State: domain.ProjectOpen}
	if err := tx.UpsertProject(ctx, project); err != nil {
		t.Fatalf("upsert project: %v", err)
	}
	if err := tx.UpsertProject(ctx, domain.Project{Code: "X"}); err == nil {
		t.Fatal("project without program accepted")
	}
	n := testNode("n-1", "a-1")
	n.State = "validated"
	_ = tx.UpsertNode(ctx, n)
	mustCommit(t, tx)

	tx2, _ := s.Begin(ctx)
	defer func() { _ = tx2.Rollback(ctx) }()
	p, found, _ := tx2.GetProject(ctx, "CGCI", "BLGSP")
	if !found || p.State != domain.ProjectOpen {
		t.Fatalf("project not persisted: %+v", p)
	}
	nodes, _ := tx2.NodesByProjectState(ctx, "CGCI-BLGSP", "validated")
	if len(nodes) != 1 || nodes[0].ID != "n-1" {
		t.Fatalf("nodes by state: %v", nodes)
	}
}

func TestTransactionLogsSurviveRollback(t *testing.T) {
	s := NewStore()
	log := domain.TransactionLog{ID: "t-1", Program: "CGCI", Project: "BLGSP", State: domain.TxLogPending}
	if err := s.AppendTransactionLog(ctx, log); err != nil {
		t.Fatalf("append: %v", err)
	}

	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	_ = tx.Rollback(ctx)

	err := s.UpdateTransactionLog(ctx, "t-1", func(l *domain.TransactionLog) error {
		l.State = domain.TxLogFailed
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, found, _ := s.GetTransactionLog(ctx, "t-1")
	if !found || got.State != domain.TxLogFailed {
		t.Fatalf("log not updated: %+v", got)
	}
	if err := s.UpdateTransactionLog(ctx, "ghost", func(*domain.TransactionLog) error { return nil }); !errors.Is(err, domain.ErrNoTransactionLog) {
		t.Fatalf("unknown log id: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertProject(ctx, domain.Project{Program: "CGCI", Code: "BLGSP", State: domain.ProjectOpen})
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	_ = tx.UpsertNode(ctx, testNode("n-2", "a-2"))
	_ = tx.UpsertEdge(ctx, domain.Edge{Label: "derived_from", SrcID: "n-2", DstID: "n-1"})
	mustCommit(t, tx)
	_ = s.AppendTransactionLog(ctx, domain.TransactionLog{ID: "t-1", State: domain.TxLogSucceeded})

	snap := s.ExportState()
	if len(snap.Nodes) != 2 || len(snap.Edges) != 1 || len(snap.Projects) != 1 || len(snap.Logs) != 1 {
		t.Fatalf("snapshot shape: %+v", snap)
	}
	if snap.Nodes[0].ID != "n-1" || snap.Nodes[1].ID != "n-2" {
		t.Fatalf("nodes not sorted: %v", snap.Nodes)
	}

	restored := NewStore()
	restored.ImportState(snap)
	if restored.CountNodes("") != 2 || restored.CountEdges() != 1 {
		t.Fatalf("restore counts: nodes=%d edges=%d", restored.CountNodes(""), restored.CountEdges())
	}
	tx2, _ := restored.Begin(ctx)
	defer func() { _ = tx2.Rollback(ctx) }()
	key := domain.BusinessKey{Type: "analyte", ProjectID: "CGCI-BLGSP", SubmitterID: "a-2"}
	node, found, _ := tx2.GetNodeByBusinessKey(ctx, key)
	if !found || node.ID != "n-2" {
		t.Fatal("business key index not rebuilt on import")
	}
	if _, found, _ := restored.GetTransactionLog(ctx, "t-1"); !found {
		t.Fatal("logs not restored")
	}
}

func TestCommitTwiceRejected(t *testing.T) {
	s := NewStore()
	tx, _ := s.Begin(ctx)
	_ = tx.UpsertNode(ctx, testNode("n-1", "a-1"))
	mustCommit(t, tx)
	if err := tx.Commit(ctx); err == nil {
		t.Fatal("second commit accepted")
	}
}
