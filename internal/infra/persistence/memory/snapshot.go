package memory

import (
	"sort"

	"graphsub/pkg/domain"
)

// Snapshot is the serializable committed state used by the durable backends.
// Slices are sorted so identical states marshal identically.
type Snapshot struct {
	Nodes    []domain.Node           `json:"nodes"`
	Edges    []domain.Edge           `json:"edges"`
	Projects []domain.Project        `json:"projects"`
	Logs     []domain.TransactionLog `json:"transaction_logs"`
}

// ExportState captures the committed state for snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	st := s.state.clone()
	s.mu.RUnlock()

	snap := Snapshot{}
	for _, n := range st.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range st.edges {
		snap.Edges = append(snap.Edges, e)
	}
	for _, p := range st.projects {
		snap.Projects = append(snap.Projects, p)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return edgeKey(snap.Edges[i]) < edgeKey(snap.Edges[j]) })
	sort.Slice(snap.Projects, func(i, j int) bool { return snap.Projects[i].ID() < snap.Projects[j].ID() })

	s.logMu.RLock()
	for _, l := range s.logs {
		snap.Logs = append(snap.Logs, l)
	}
	s.logMu.RUnlock()
	sort.Slice(snap.Logs, func(i, j int) bool { return snap.Logs[i].ID < snap.Logs[j].ID })
	return snap
}

// ImportState replaces the committed state from a snapshot, rebuilding the
// business-key index.
func (s *Store) ImportState(snap Snapshot) {
	st := newGraphState()
	for _, n := range snap.Nodes {
		st.nodes[n.ID] = n.Clone()
		if key := n.BusinessKey(); key.IsComplete() {
			st.byKey[key] = n.ID
		}
	}
	for _, e := range snap.Edges {
		st.edges[edgeKey(e)] = e
	}
	for _, p := range snap.Projects {
		st.projects[p.ID()] = p
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.logMu.Lock()
	s.logs = make(map[string]domain.TransactionLog, len(snap.Logs))
	for _, l := range snap.Logs {
		s.logs[l.ID] = l
	}
	s.logMu.Unlock()
}
