package engine

import (
	"context"
	"fmt"

	"graphsub/pkg/domain"
)

// Node states driven by the project lifecycle.
const (
	nodeStateValidated = "validated"
	nodeStateReview    = "review"
	nodeStateReleased  = "released"
)

// transitionProject drives the review, open (reopen), and release roles.
// These transactions mutate the project record and flip node states rather
// than submitting entities.
func (e *Engine) transitionProject(ctx context.Context, req Request) (domain.Result, error) {
	projectID := req.ProjectID()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return domain.Result{}, domain.Fatal("begin transaction", err)
	}
	defer rollback(ctx, tx)

	project, found, err := tx.GetProject(ctx, req.Program, req.Project)
	if err != nil {
		return domain.Result{}, domain.Fatal("load project", err)
	}
	if !found {
		return refusal(404, fmt.Sprintf("Project %s not found", projectID)), nil
	}
	if !req.Submitter.Allowed(projectID, req.Role) {
		return refusal(403, fmt.Sprintf("You do not have '%s' permission on project %s", req.Role, projectID)), nil
	}

	logID, err := e.claimLog(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}

	var gateErr string
	var flips [][2]string // node state transitions [from, to]
	switch req.Role {
	case domain.RoleReview:
		if project.State != domain.ProjectOpen {
			gateErr = fmt.Sprintf("Project %s is in state '%s'; only open projects can be marked for review", projectID, project.State)
			break
		}
		project.State = domain.ProjectReview
		flips = append(flips, [2]string{nodeStateValidated, nodeStateReview})
	case domain.RoleOpen:
		if project.State != domain.ProjectReview {
			gateErr = fmt.Sprintf("Project %s is in state '%s'; only projects under review can be reopened", projectID, project.State)
			break
		}
		project.State = domain.ProjectOpen
		flips = append(flips, [2]string{nodeStateReview, nodeStateValidated})
	case domain.RoleRelease:
		if project.Released {
			gateErr = fmt.Sprintf("Project %s has already been released", projectID)
			break
		}
		if project.State == domain.ProjectClosed {
			gateErr = fmt.Sprintf("Project %s is closed and cannot be released", projectID)
			break
		}
		project.Released = true
		flips = append(flips,
			[2]string{nodeStateValidated, nodeStateReleased},
			[2]string{nodeStateReview, nodeStateReleased})
	}
	if gateErr != "" {
		res := refusal(400, gateErr)
		res.TransactionID = logID
		e.finishLog(ctx, logID, domain.TxLogFailed, nil, &res)
		return res, nil
	}

	project.UpdatedAt = e.now()
	if err := tx.UpsertProject(ctx, project); err != nil {
		e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
		return domain.Result{}, domain.Fatal("update project", err)
	}
	var snaps []domain.NodeSnapshot
	for _, flip := range flips {
		nodes, err := tx.NodesByProjectState(ctx, projectID, flip[0])
		if err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("list nodes by state", err)
		}
		for _, node := range nodes {
			node.State = flip[1]
			node.UpdatedAt = e.now()
			if err := tx.UpsertNode(ctx, node); err != nil {
				e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
				return domain.Result{}, domain.Fatal("update node state", err)
			}
			snaps = append(snaps, domain.NodeSnapshot{ID: node.ID, Action: domain.ActionUpdate, NewProps: node.Properties})
		}
	}

	if !req.DryRun {
		if err := tx.Commit(ctx); err != nil {
			e.finishLog(ctx, logID, domain.TxLogErrored, nil, nil)
			return domain.Result{}, domain.Fatal("commit transaction", err)
		}
	}

	res := assemble(logID, req, nil, nil, true)
	e.finishLog(ctx, logID, domain.TxLogSucceeded, snaps, &res)
	e.log.InfoContext(ctx, "project transitioned",
		"transaction_id", logID, "project", projectID, "role", string(req.Role),
		"state", string(project.State), "released", project.Released)
	return res, nil
}

// closeTransaction marks a dry-run transaction log closed so it no longer
// counts against the project's pending dry runs. Closing is idempotent in
// effect but a second close is reported as an error.
func (e *Engine) closeTransaction(ctx context.Context, req Request) (domain.Result, error) {
	projectID := req.ProjectID()
	if !req.Submitter.Allowed(projectID, domain.RoleClose) {
		return refusal(403, fmt.Sprintf("You do not have '%s' permission on project %s", domain.RoleClose, projectID)), nil
	}
	log, found, err := e.store.GetTransactionLog(ctx, req.TransactionID)
	if err != nil {
		return domain.Result{}, domain.Fatal("load transaction log", err)
	}
	if !found || log.ProjectID() != projectID {
		return refusal(404, fmt.Sprintf("No transaction '%s' found in project %s", req.TransactionID, projectID)), nil
	}
	if !log.DryRun {
		return refusal(400, fmt.Sprintf("Transaction '%s' was not a dry run and cannot be closed", req.TransactionID)), nil
	}
	if log.Closed {
		return refusal(400, fmt.Sprintf("Transaction '%s' is already closed", req.TransactionID)), nil
	}
	err = e.store.UpdateTransactionLog(ctx, req.TransactionID, func(l *domain.TransactionLog) error {
		l.Closed = true
		return nil
	})
	if err != nil {
		return domain.Result{}, domain.Fatal("close transaction log", err)
	}
	e.log.InfoContext(ctx, "dry-run transaction closed",
		"transaction_id", req.TransactionID, "project", projectID)
	return domain.Result{
		TransactionID:       req.TransactionID,
		Code:                200,
		Success:             true,
		Message:             "Transaction closed.",
		TransactionalErrors: []domain.TransactionalError{},
		Entities:            []domain.EntityReport{},
	}, nil
}
