package domain

import (
	"context"
	"errors"
)

// ErrConflict is returned by storage when a write would violate the
// (type, project_id, submitter_id) uniqueness constraint. The coordinator
// maps it to a transactional conflict, never a crash.
var ErrConflict = errors.New("business key conflict")

// ErrNoTransactionLog is returned when a transaction log id is unknown.
var ErrNoTransactionLog = errors.New("transaction log not found")

// Tx is one logical storage transaction. All graph reads and writes issued
// by a coordinator happen through a single Tx; nothing is visible outside
// it until Commit.
type Tx interface {
	GetNodeByID(ctx context.Context, id string) (Node, bool, error)
	GetNodeByBusinessKey(ctx context.Context, key BusinessKey) (Node, bool, error)
	// EdgesIn returns edges whose destination is id (the node's dependents
	// point at it through these).
	EdgesIn(ctx context.Context, id string) ([]Edge, error)
	// EdgesOut returns edges whose source is id.
	EdgesOut(ctx context.Context, id string) ([]Edge, error)
	GetProject(ctx context.Context, program, code string) (Project, bool, error)
	UpsertProject(ctx context.Context, project Project) error
	UpsertNode(ctx context.Context, node Node) error
	UpsertEdge(ctx context.Context, edge Edge) error
	DeleteNode(ctx context.Context, id string) error
	// DeleteEdgesTouching removes every edge with id as source or
	// destination; used when deleting a node.
	DeleteEdgesTouching(ctx context.Context, id string) error
	// DeleteEdgesFrom removes every edge with the given source and label;
	// used when an update replaces a single-target link.
	DeleteEdgesFrom(ctx context.Context, srcID, label string) error
	// NodesByProjectState lists node ids in a project filtered by node
	// state; used by the release flow.
	NodesByProjectState(ctx context.Context, projectID, state string) ([]Node, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Storage is the persistent graph store contract. Transaction logs live
// beside the graph but are written through their own methods so audit
// records survive rollbacks of the graph transaction they describe.
type Storage interface {
	Begin(ctx context.Context) (Tx, error)
	AppendTransactionLog(ctx context.Context, log TransactionLog) error
	UpdateTransactionLog(ctx context.Context, id string, mutate func(*TransactionLog) error) error
	GetTransactionLog(ctx context.Context, id string) (TransactionLog, bool, error)
}

// Submitter is the authenticated identity driving a transaction, with the
// roles it holds per project. The engine trusts this value; deriving it is
// the service layer's concern.
type Submitter struct {
	Name  string
	Roles map[string][]Role
}

// Allowed reports whether the submitter holds role for projectID.
func (s Submitter) Allowed(projectID string, role Role) bool {
	for _, r := range s.Roles[projectID] {
		if r == role {
			return true
		}
	}
	return false
}
