// Package memory provides the canonical in-memory graph store. Transactions
// read from a cloned snapshot and journal their writes; commit replays the
// journal onto the canonical state under lock, re-checking the business-key
// unique constraint so racing transactions surface as conflicts instead of
// silent overwrites. Durable backends wrap this store and snapshot its
// committed state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"graphsub/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Storage = (*Store)(nil)
	_ domain.Tx      = (*memTx)(nil)
)

type graphState struct {
	nodes    map[string]domain.Node
	byKey    map[domain.BusinessKey]string
	edges    map[string]domain.Edge
	projects map[string]domain.Project
}

func newGraphState() graphState {
	return graphState{
		nodes:    make(map[string]domain.Node),
		byKey:    make(map[domain.BusinessKey]string),
		edges:    make(map[string]domain.Edge),
		projects: make(map[string]domain.Project),
	}
}

func (g graphState) clone() graphState {
	cloned := newGraphState()
	for id, n := range g.nodes {
		cloned.nodes[id] = n.Clone()
	}
	for k, id := range g.byKey {
		cloned.byKey[k] = id
	}
	for k, e := range g.edges {
		cloned.edges[k] = e
	}
	for k, p := range g.projects {
		cloned.projects[k] = p
	}
	return cloned
}

func edgeKey(e domain.Edge) string {
	return e.Label + "|" + e.SrcID + "|" + e.DstID
}

// Store is the in-memory transactional graph store.
type Store struct {
	mu    sync.RWMutex
	state graphState

	logMu sync.RWMutex
	logs  map[string]domain.TransactionLog
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: newGraphState(),
		logs:  make(map[string]domain.TransactionLog),
	}
}

// Begin opens a transaction over a snapshot of the current state.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()
	return &memTx{store: s, work: work}, nil
}

type journalKind int

const (
	opUpsertNode journalKind = iota
	opDeleteNode
	opUpsertEdge
	opDeleteEdgesTouching
	opDeleteEdgesFrom
	opUpsertProject
)

type journalEntry struct {
	kind    journalKind
	node    domain.Node
	edge    domain.Edge
	id      string
	label   string
	project domain.Project
}

type memTx struct {
	store   *Store
	work    graphState
	journal []journalEntry
	done    bool
}

func (tx *memTx) GetNodeByID(_ context.Context, id string) (domain.Node, bool, error) {
	n, ok := tx.work.nodes[id]
	if !ok {
		return domain.Node{}, false, nil
	}
	return n.Clone(), true, nil
}

func (tx *memTx) GetNodeByBusinessKey(_ context.Context, key domain.BusinessKey) (domain.Node, bool, error) {
	id, ok := tx.work.byKey[key]
	if !ok {
		return domain.Node{}, false, nil
	}
	return tx.work.nodes[id].Clone(), true, nil
}

func (tx *memTx) EdgesIn(_ context.Context, id string) ([]domain.Edge, error) {
	return tx.scanEdges(func(e domain.Edge) bool { return e.DstID == id }), nil
}

func (tx *memTx) EdgesOut(_ context.Context, id string) ([]domain.Edge, error) {
	return tx.scanEdges(func(e domain.Edge) bool { return e.SrcID == id }), nil
}

func (tx *memTx) scanEdges(keep func(domain.Edge) bool) []domain.Edge {
	var out []domain.Edge
	for _, e := range tx.work.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return edgeKey(out[i]) < edgeKey(out[j]) })
	return out
}

func (tx *memTx) GetProject(_ context.Context, program, code string) (domain.Project, bool, error) {
	p, ok := tx.work.projects[domain.ProjectID(program, code)]
	return p, ok, nil
}

func (tx *memTx) UpsertProject(_ context.Context, project domain.Project) error {
	if project.Program == "" || project.Code == "" {
		return fmt.Errorf("project requires program and code")
	}
	tx.work.projects[project.ID()] = project
	tx.journal = append(tx.journal, journalEntry{kind: opUpsertProject, project: project})
	return nil
}

func (tx *memTx) UpsertNode(_ context.Context, node domain.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node of type %q has no id", node.Type)
	}
	if err := upsertNodeInto(&tx.work, node); err != nil {
		return err
	}
	tx.journal = append(tx.journal, journalEntry{kind: opUpsertNode, node: node.Clone()})
	return nil
}

func (tx *memTx) UpsertEdge(_ context.Context, edge domain.Edge) error {
	if _, ok := tx.work.nodes[edge.SrcID]; !ok {
		return fmt.Errorf("edge %s: source node %q not found", edge.Label, edge.SrcID)
	}
	if _, ok := tx.work.nodes[edge.DstID]; !ok {
		return fmt.Errorf("edge %s: destination node %q not found", edge.Label, edge.DstID)
	}
	tx.work.edges[edgeKey(edge)] = edge
	tx.journal = append(tx.journal, journalEntry{kind: opUpsertEdge, edge: edge})
	return nil
}

func (tx *memTx) DeleteNode(_ context.Context, id string) error {
	node, ok := tx.work.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not found", id)
	}
	delete(tx.work.nodes, id)
	delete(tx.work.byKey, node.BusinessKey())
	tx.journal = append(tx.journal, journalEntry{kind: opDeleteNode, id: id})
	return nil
}

func (tx *memTx) DeleteEdgesTouching(_ context.Context, id string) error {
	for key, e := range tx.work.edges {
		if e.SrcID == id || e.DstID == id {
			delete(tx.work.edges, key)
		}
	}
	tx.journal = append(tx.journal, journalEntry{kind: opDeleteEdgesTouching, id: id})
	return nil
}

func (tx *memTx) DeleteEdgesFrom(_ context.Context, srcID, label string) error {
	for key, e := range tx.work.edges {
		if e.SrcID == srcID && e.Label == label {
			delete(tx.work.edges, key)
		}
	}
	tx.journal = append(tx.journal, journalEntry{kind: opDeleteEdgesFrom, id: srcID, label: label})
	return nil
}

func (tx *memTx) NodesByProjectState(_ context.Context, projectID, state string) ([]domain.Node, error) {
	var out []domain.Node
	for _, n := range tx.work.nodes {
		if n.ProjectID == projectID && n.State == state {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit replays the journal onto the canonical state. Unique-constraint
// checks run again here because another transaction may have committed a
// conflicting business key since this one began.
func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	for _, entry := range tx.journal {
		switch entry.kind {
		case opUpsertNode:
			if err := upsertNodeInto(&next, entry.node); err != nil {
				return err
			}
		case opDeleteNode:
			if node, ok := next.nodes[entry.id]; ok {
				delete(next.nodes, entry.id)
				delete(next.byKey, node.BusinessKey())
			}
		case opUpsertEdge:
			next.edges[edgeKey(entry.edge)] = entry.edge
		case opDeleteEdgesTouching:
			for key, e := range next.edges {
				if e.SrcID == entry.id || e.DstID == entry.id {
					delete(next.edges, key)
				}
			}
		case opDeleteEdgesFrom:
			for key, e := range next.edges {
				if e.SrcID == entry.id && e.Label == entry.label {
					delete(next.edges, key)
				}
			}
		case opUpsertProject:
			next.projects[entry.project.ID()] = entry.project
		}
	}
	s.state = next
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.done = true
	tx.journal = nil
	return nil
}

// upsertNodeInto writes node into st, maintaining the business-key index
// and returning ErrConflict when the key already belongs to another node.
func upsertNodeInto(st *graphState, node domain.Node) error {
	key := node.BusinessKey()
	if key.IsComplete() {
		if otherID, taken := st.byKey[key]; taken && otherID != node.ID {
			return fmt.Errorf("%s held by node %q: %w", key, otherID, domain.ErrConflict)
		}
	}
	if existing, ok := st.nodes[node.ID]; ok {
		if oldKey := existing.BusinessKey(); oldKey != key {
			delete(st.byKey, oldKey)
		}
	}
	st.nodes[node.ID] = node.Clone()
	if key.IsComplete() {
		st.byKey[key] = node.ID
	}
	return nil
}

// Transaction log methods run in their own session so audit records survive
// graph rollbacks.

func (s *Store) AppendTransactionLog(_ context.Context, log domain.TransactionLog) error {
	if log.ID == "" {
		return fmt.Errorf("transaction log has no id")
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.logs[log.ID] = log
	return nil
}

func (s *Store) UpdateTransactionLog(_ context.Context, id string, mutate func(*domain.TransactionLog) error) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("transaction log %q: %w", id, domain.ErrNoTransactionLog)
	}
	if err := mutate(&log); err != nil {
		return err
	}
	log.ID = id
	s.logs[id] = log
	return nil
}

func (s *Store) GetTransactionLog(_ context.Context, id string) (domain.TransactionLog, bool, error) {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	log, ok := s.logs[id]
	return log, ok, nil
}

// CountNodes returns the number of committed nodes, filtered by type when
// typeName is non-empty. Used by tests and durable wrappers.
func (s *Store) CountNodes(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if typeName == "" {
		return len(s.state.nodes)
	}
	n := 0
	for _, node := range s.state.nodes {
		if node.Type == typeName {
			n++
		}
	}
	return n
}

// CountEdges returns the number of committed edges.
func (s *Store) CountEdges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.edges)
}
