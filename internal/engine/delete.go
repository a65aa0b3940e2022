package engine

import (
	"context"
	"fmt"

	"graphsub/pkg/domain"
)

// deleteEntities drives the delete role. Deletion refuses nodes that other
// nodes still depend on unless cascade is requested, in which case the
// dependent closure is deleted as a unit.
func (e *Engine) deleteEntities(ctx context.Context, req Request) (domain.Result, error) {
	projectID := req.ProjectID()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return domain.Result{}, domain.Fatal("begin transaction", err)
	}
	defer rollback(ctx, tx)

	if res, ok, err := e.gateSubmission(ctx, tx, req, projectID); err != nil {
		return domain.Result{}, err
	} else if !ok {
		return res, nil
	}
	if len(req.IDs) == 0 {
		return refusal(400, "Nothing to delete"), nil
	}

	logID, err := e.claimLog(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}

	// Load the requested nodes.
	var states []*entityState
	inSet := make(map[string]bool, len(req.IDs))
	for i, id := range req.IDs {
		st := &entityState{
			doc:    domain.NewDocument(i, map[string]any{domain.KeyID: id}),
			nodeID: id,
			action: domain.ActionDelete,
		}
		states = append(states, st)
		if inSet[id] {
			st.addError(domain.NewEntityError(domain.ErrNotUnique,
				fmt.Sprintf("id '%s' appears more than once in this transaction", id), domain.KeyID))
			continue
		}
		node, found, err := tx.GetNodeByID(ctx, id)
		if err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("lookup node by id", err)
		}
		if !found || node.ProjectID != projectID {
			st.addError(domain.NewEntityError(domain.ErrNotFound,
				fmt.Sprintf("No entity with id '%s' exists in project %s", id, projectID), domain.KeyID))
			continue
		}
		def, _ := e.dict.Get(node.Type)
		st.def = def
		st.node = node
		st.oldProps = node.Properties
		inSet[id] = true
	}

	// Cascade extends the delete set to the full dependent closure.
	if req.Cascade {
		queue := make([]string, 0, len(inSet))
		for _, st := range states {
			if !st.invalid() {
				queue = append(queue, st.nodeID)
			}
		}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			edges, err := tx.EdgesIn(ctx, id)
			if err != nil {
				e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
				return domain.Result{}, domain.Fatal("list dependents", err)
			}
			for _, edge := range edges {
				if inSet[edge.SrcID] {
					continue
				}
				node, found, err := tx.GetNodeByID(ctx, edge.SrcID)
				if err != nil {
					e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
					return domain.Result{}, domain.Fatal("lookup dependent", err)
				}
				if !found {
					continue
				}
				def, _ := e.dict.Get(node.Type)
				states = append(states, &entityState{
					doc:      domain.NewDocument(len(states), map[string]any{domain.KeyID: node.ID}),
					nodeID:   node.ID,
					action:   domain.ActionDelete,
					def:      def,
					node:     node,
					oldProps: node.Properties,
				})
				inSet[node.ID] = true
				queue = append(queue, node.ID)
			}
		}
	}

	// Refuse deletion while dependents outside the delete set remain.
	for _, st := range states {
		if st.invalid() {
			continue
		}
		edges, err := tx.EdgesIn(ctx, st.nodeID)
		if err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("list dependents", err)
		}
		external := 0
		for _, edge := range edges {
			if !inSet[edge.SrcID] {
				external++
			}
		}
		if external > 0 {
			st.addError(domain.NewEntityError(domain.ErrUncategorized,
				fmt.Sprintf("Unable to delete entity '%s': %d entities directly or indirectly depend on it", st.nodeID, external)))
		}
	}

	invalid := 0
	for _, st := range states {
		if st.invalid() {
			invalid++
		}
	}
	if invalid > 0 && (req.Mode == domain.CommitAtomic || invalid == len(states)) {
		res := assemble(logID, req, states, nil, false)
		e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
		return res, nil
	}

	snaps := make([]domain.NodeSnapshot, 0, len(states)-invalid)
	for _, st := range states {
		if st.invalid() {
			continue
		}
		if err := tx.DeleteEdgesTouching(ctx, st.nodeID); err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("delete edges", err)
		}
		if err := tx.DeleteNode(ctx, st.nodeID); err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("delete node", err)
		}
		snaps = append(snaps, domain.NodeSnapshot{ID: st.nodeID, Action: domain.ActionDelete, OldProps: st.oldProps})
	}

	if req.DryRun {
		res := assemble(logID, req, states, nil, true)
		e.finishLog(ctx, logID, domain.TxLogSucceeded, snaps, &res)
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
		return domain.Result{}, domain.Fatal("commit transaction", err)
	}

	// Tombstone index records for deleted file nodes.
	if e.index != nil {
		for _, st := range states {
			if st.invalid() || !st.def.Category.IsFile() {
				continue
			}
			if err := e.index.MarkDeleted(ctx, projectID, st.nodeID, e.now()); err != nil {
				e.log.WarnContext(ctx, "tombstone file index record",
					"node_id", st.nodeID, "error", err)
			}
		}
	}

	res := assemble(logID, req, states, nil, true)
	e.finishLog(ctx, logID, domain.TxLogSucceeded, snaps, &res)
	e.metrics.recordEntities(domain.ActionDelete, res.DeletedEntityCount)
	e.log.InfoContext(ctx, "entities deleted",
		"transaction_id", logID, "project", projectID,
		"deleted", res.DeletedEntityCount, "invalid", invalid)
	return res, nil
}
