package engine

import (
	"context"
	"errors"
	"fmt"

	"graphsub/internal/fileindex"
	"graphsub/internal/planner"
	"graphsub/internal/refresolver"
	"graphsub/internal/validator"
	"graphsub/pkg/domain"
)

// submitEntities drives the create and update roles: decode, validate,
// resolve, plan, apply, commit (or roll back for dry runs and failures).
func (e *Engine) submitEntities(ctx context.Context, req Request) (domain.Result, error) {
	projectID := req.ProjectID()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return domain.Result{}, domain.Fatal("begin transaction", err)
	}
	defer func() { rollback(ctx, tx) }()

	if res, ok, err := e.gateSubmission(ctx, tx, req, projectID); err != nil {
		return domain.Result{}, err
	} else if !ok {
		return res, nil
	}

	docs, err := domain.DecodeBatch(req.Body)
	if err != nil {
		return refusal(400, err.Error()), nil
	}
	if len(docs) == 0 {
		return refusal(400, "Nothing to submit"), nil
	}

	logID, err := e.claimLog(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}

	// Validation and identity resolution, one state per document.
	states := make([]*entityState, len(docs))
	for i, doc := range docs {
		st := &entityState{doc: doc}
		states[i] = st
		if errs := validator.Validate(doc, e.dict); len(errs) > 0 {
			st.errors = errs
			continue
		}
		def, _ := e.dict.Get(doc.Type())
		st.def = def
		if err := e.instantiate(ctx, tx, st, req.Role, projectID); err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, err
		}
	}

	// Reference resolution against the batch and persisted state.
	candidates := collectCandidates(states)
	for _, st := range states {
		if st.invalid() {
			continue
		}
		bindings, errs, err := refresolver.Resolve(ctx, st.doc, st.def, projectID, candidates, tx, e.dict)
		if err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("resolve references", err)
		}
		st.errors = append(st.errors, errs...)
		st.bindings = bindings
	}

	// Exclusive-cardinality targets may only be claimed once, counting both
	// persisted edges and the rest of the batch.
	if err := checkExclusiveTargets(ctx, tx, states); err != nil {
		e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
		return domain.Result{}, domain.Fatal("check link exclusivity", err)
	}

	if req.Mode == domain.CommitPartial {
		dropDependentsOfInvalid(states)
	}
	invalid := 0
	for _, st := range states {
		if st.invalid() {
			invalid++
		}
	}
	if invalid > 0 && req.Mode == domain.CommitAtomic {
		res := assemble(logID, req, states, nil, false)
		e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
		return res, nil
	}
	if invalid == len(states) {
		res := assemble(logID, req, states, nil, false)
		e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
		return res, nil
	}

	// Plan and apply. A storage-level conflict during apply means the staged
	// business key is already held in persisted state: a concurrent writer
	// claimed it, or an update claims another node's key. Atomic mode fails
	// the whole batch; partial mode excludes the entity and its dependents
	// and retries the survivors against a fresh snapshot.
	for {
		inputs := make([]planner.Input, 0, len(states)-invalid)
		for _, st := range states {
			if st.invalid() {
				continue
			}
			inputs = append(inputs, planner.Input{
				Index:    st.doc.Index,
				Doc:      st.doc,
				Def:      st.def,
				Action:   st.action,
				NodeID:   st.nodeID,
				Existing: st.existing,
				Bindings: st.bindings,
			})
		}
		plan, terrs := planner.Build(inputs, projectID, e.now())
		if len(terrs) > 0 {
			res := assemble(logID, req, states, terrs, false)
			e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
			return res, nil
		}
		for _, pe := range plan.Entities {
			st := states[pe.Index]
			st.node = pe.Node
			st.oldProps = pe.OldProps
			st.warnings = pe.Warnings
		}

		conflicted := -1
		var conflictErr error
		for _, op := range plan.Ops {
			var applyErr error
			switch op.Kind {
			case planner.OpUpsertNode:
				applyErr = tx.UpsertNode(ctx, op.Node)
			case planner.OpReplaceEdges:
				applyErr = tx.DeleteEdgesFrom(ctx, op.SrcID, op.Label)
			case planner.OpUpsertEdge:
				applyErr = tx.UpsertEdge(ctx, op.Edge)
			}
			if applyErr == nil {
				continue
			}
			if errors.Is(applyErr, domain.ErrConflict) {
				conflicted = op.Index
				conflictErr = applyErr
				break
			}
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("apply mutation", applyErr)
		}
		if conflicted < 0 {
			break
		}

		states[conflicted].addError(domain.NewEntityError(domain.ErrNotUnique,
			conflictErr.Error(), domain.KeySubmitterID))
		if req.Mode == domain.CommitAtomic {
			res := assemble(logID, req, states, nil, false)
			e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
			return res, nil
		}
		dropDependentsOfInvalid(states)
		invalid = 0
		for _, st := range states {
			if st.invalid() {
				invalid++
			}
		}
		if invalid == len(states) {
			res := assemble(logID, req, states, nil, false)
			e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
			return res, nil
		}

		// The aborted attempt dirtied the working snapshot; start clean.
		_ = tx.Rollback(ctx)
		if tx, err = e.store.Begin(ctx); err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("begin transaction", err)
		}
	}

	snaps := make([]domain.NodeSnapshot, 0, len(states)-invalid)
	for _, st := range states {
		if st.invalid() {
			continue
		}
		snaps = append(snaps, domain.NodeSnapshot{
			ID:       st.nodeID,
			Action:   st.action,
			OldProps: st.oldProps,
			NewProps: st.node.Properties,
		})
	}

	if req.DryRun {
		res := assemble(logID, req, states, nil, true)
		e.finishLog(ctx, logID, domain.TxLogSucceeded, snaps, &res)
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			terr := []domain.TransactionalError{domain.NewTransactionalError(domain.ErrNotUnique,
				fmt.Sprintf("Entity is not unique, %v", err))}
			res := assemble(logID, req, states, terr, false)
			e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
			return res, nil
		}
		e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
		return domain.Result{}, domain.Fatal("commit transaction", err)
	}

	// Index records for committed file nodes. The graph is already durable;
	// an index write failure is logged and retried by the next update.
	if e.index != nil {
		for _, st := range states {
			if st.invalid() || !st.def.Category.IsFile() {
				continue
			}
			if err := e.index.Write(ctx, fileindex.RecordFromNode(st.node, e.now())); err != nil {
				e.log.WarnContext(ctx, "write file index record",
					"node_id", st.nodeID, "error", err)
			}
		}
	}

	res := assemble(logID, req, states, nil, true)
	e.finishLog(ctx, logID, domain.TxLogSucceeded, snaps, &res)
	e.metrics.recordEntities(domain.ActionCreate, res.CreatedEntityCount)
	e.metrics.recordEntities(domain.ActionUpdate, res.UpdatedEntityCount)
	e.log.InfoContext(ctx, "transaction committed",
		"transaction_id", logID, "project", projectID, "role", string(req.Role),
		"created", res.CreatedEntityCount, "updated", res.UpdatedEntityCount,
		"invalid", invalid)
	return res, nil
}

// gateSubmission enforces project existence, permission, and project state
// for submission roles. Returns ok=false with a refusal result when the
// request may not proceed.
func (e *Engine) gateSubmission(ctx context.Context, tx domain.Tx, req Request, projectID string) (domain.Result, bool, error) {
	project, found, err := tx.GetProject(ctx, req.Program, req.Project)
	if err != nil {
		return domain.Result{}, false, domain.Fatal("load project", err)
	}
	if !found {
		return refusal(404, fmt.Sprintf("Project %s not found", projectID)), false, nil
	}
	if !req.Submitter.Allowed(projectID, req.Role) {
		return refusal(403, fmt.Sprintf("You do not have '%s' permission on project %s", req.Role, projectID)), false, nil
	}
	if project.State != domain.ProjectOpen {
		return refusal(400, fmt.Sprintf("Project %s is in state '%s', which does not accept this transaction", projectID, project.State)), false, nil
	}
	return domain.Result{}, true, nil
}

// instantiate resolves the document to an existing node (update) or
// reserves a fresh identity (create). Ids are system-assigned: a document
// carrying an unknown id is an error, never an implicit create.
func (e *Engine) instantiate(ctx context.Context, tx domain.Tx, st *entityState, role domain.Role, projectID string) error {
	doc := st.doc
	if id := doc.ID(); id != "" {
		node, found, err := tx.GetNodeByID(ctx, id)
		if err != nil {
			return domain.Fatal("lookup node by id", err)
		}
		if !found || node.ProjectID != projectID {
			st.addError(domain.NewEntityError(domain.ErrNotFound,
				fmt.Sprintf("No entity with id '%s' exists in project %s", id, projectID), domain.KeyID))
			return nil
		}
		if node.Type != st.def.Name {
			st.addError(domain.NewEntityError(domain.ErrNotUnique,
				fmt.Sprintf("Entity with id '%s' is of type '%s', not '%s'", id, node.Type, st.def.Name),
				domain.KeyID, domain.KeyType))
			return nil
		}
		if role == domain.RoleCreate {
			st.addError(domain.NewEntityError(domain.ErrNotUnique,
				fmt.Sprintf("Entity with id '%s' already exists; use the update role to modify it", id),
				domain.KeyID))
			return nil
		}
		st.action = domain.ActionUpdate
		st.nodeID = id
		existing := node
		st.existing = &existing
		return nil
	}

	key := domain.BusinessKey{Type: st.def.Name, ProjectID: projectID, SubmitterID: doc.SubmitterID()}
	node, found, err := tx.GetNodeByBusinessKey(ctx, key)
	if err != nil {
		return domain.Fatal("lookup node by business key", err)
	}
	if found {
		if role == domain.RoleCreate {
			st.addError(domain.NewEntityError(domain.ErrNotUnique,
				fmt.Sprintf("Entity %s already exists; use the update role to modify it", key),
				domain.KeySubmitterID))
			return nil
		}
		st.action = domain.ActionUpdate
		st.nodeID = node.ID
		existing := node
		st.existing = &existing
		return nil
	}
	st.action = domain.ActionCreate
	st.nodeID = e.newID()
	return nil
}

func collectCandidates(states []*entityState) []refresolver.Candidate {
	out := make([]refresolver.Candidate, 0, len(states))
	for _, st := range states {
		if st.invalid() || st.nodeID == "" {
			continue
		}
		out = append(out, refresolver.Candidate{
			Index:       st.doc.Index,
			Type:        st.def.Name,
			NodeID:      st.nodeID,
			SubmitterID: st.doc.SubmitterID(),
		})
	}
	return out
}

// checkExclusiveTargets enforces the target side of exclusive link
// cardinalities: a one_to_one or one_to_many target may carry the labeled
// relationship from at most one source, counting persisted edges and the
// rest of the batch.
func checkExclusiveTargets(ctx context.Context, tx domain.Tx, states []*entityState) error {
	claimed := make(map[string]int) // label|target -> batch index of first claim
	for _, st := range states {
		if st.invalid() {
			continue
		}
		for _, b := range st.bindings {
			if st.def.Links[b.LinkName].Cardinality.MaxSources() != 1 {
				continue
			}
			key := b.Label + "|" + b.TargetID
			if first, ok := claimed[key]; ok && first != st.doc.Index {
				st.addError(domain.NewEntityError(domain.ErrInvalidLink,
					fmt.Sprintf("link '%s' target %s is exclusive and is already claimed by another entity in this transaction", b.LinkName, b.Ref),
					b.LinkName))
				continue
			}
			claimed[key] = st.doc.Index
			edges, err := tx.EdgesIn(ctx, b.TargetID)
			if err != nil {
				return err
			}
			for _, edge := range edges {
				if edge.Label == b.Label && edge.SrcID != st.nodeID {
					st.addError(domain.NewEntityError(domain.ErrInvalidLink,
						fmt.Sprintf("link '%s' target %s already has a '%s' relationship with another entity", b.LinkName, b.Ref, b.Label),
						b.LinkName))
					break
				}
			}
		}
	}
	return nil
}

// dropDependentsOfInvalid propagates failure through in-batch references in
// partial-commit mode: an entity bound to a dropped entity is dropped too,
// so the committed subset is closed under dependencies.
func dropDependentsOfInvalid(states []*entityState) {
	for {
		changed := false
		for _, st := range states {
			if st.invalid() {
				continue
			}
			for _, b := range st.bindings {
				if b.TargetIndex < 0 || !states[b.TargetIndex].invalid() {
					continue
				}
				st.addError(domain.NewEntityError(domain.ErrInvalidLink,
					fmt.Sprintf("link '%s' targets an entity in this transaction that was not committed", b.LinkName),
					b.LinkName))
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}
