package engine

import (
	"fmt"

	"graphsub/internal/refresolver"
	"graphsub/pkg/domain"
)

// entityState tracks one batch member through the pipeline.
type entityState struct {
	doc      domain.SubmissionDocument
	def      domain.TypeDefinition
	action   domain.Action
	nodeID   string
	existing *domain.Node
	bindings []refresolver.Binding
	node     domain.Node // staged node after planning
	oldProps map[string]any
	errors   []domain.EntityError
	warnings []domain.EntityError
}

func (s *entityState) invalid() bool { return len(s.errors) > 0 }

func (s *entityState) addError(err domain.EntityError) {
	s.errors = append(s.errors, err)
}

// assemble builds the response document from the batch outcome. Counts are
// only reported when the transaction reached a (possibly dry-run) commit;
// failed transactions always report zero mutations.
func assemble(txID string, req Request, states []*entityState,
	terrs []domain.TransactionalError, committed bool,
) domain.Result {
	if terrs == nil {
		terrs = []domain.TransactionalError{}
	}
	reports := make([]domain.EntityReport, 0, len(states))
	entityErrs := 0
	var created, updated, deleted int
	for _, st := range states {
		rep := domain.EntityReport{
			ID:          st.nodeID,
			SubmitterID: st.doc.SubmitterID(),
			Type:        st.doc.Type(),
			Valid:       !st.invalid(),
			Errors:      st.errors,
			Warnings:    st.warnings,
		}
		if rep.Type == "" && st.def.Name != "" {
			rep.Type = st.def.Name
		}
		if rep.Errors == nil {
			rep.Errors = []domain.EntityError{}
		}
		if rep.Warnings == nil {
			rep.Warnings = []domain.EntityError{}
		}
		entityErrs += len(st.errors)
		if committed && !st.invalid() {
			rep.Action = st.action
			switch st.action {
			case domain.ActionCreate:
				created++
			case domain.ActionUpdate:
				updated++
			case domain.ActionDelete:
				deleted++
			}
		}
		reports = append(reports, rep)
	}

	success := committed && entityErrs == 0 && len(terrs) == 0
	res := domain.Result{
		TransactionID:           txID,
		Success:                 success,
		CreatedEntityCount:      created,
		UpdatedEntityCount:      updated,
		DeletedEntityCount:      deleted,
		EntityErrorCount:        entityErrs,
		TransactionalErrorCount: len(terrs),
		TransactionalErrors:     terrs,
		Entities:                reports,
	}
	res.Code = statusCode(req, success, states, terrs)
	res.Message = resultMessage(success, committed, req.DryRun, entityErrs+len(terrs))
	return res
}

// statusCode maps the outcome to an HTTP-style code. Uniqueness conflicts
// take precedence as 409; batches that failed purely on unresolved
// references report 404; everything else client-attributable is 400.
func statusCode(req Request, success bool, states []*entityState, terrs []domain.TransactionalError) int {
	if success {
		if req.Role == domain.RoleCreate && !req.DryRun {
			return 201
		}
		return 200
	}
	conflict := false
	notFoundOnly := len(terrs) == 0
	sawError := false
	for _, te := range terrs {
		if te.Type == domain.ErrNotUnique {
			conflict = true
		}
	}
	for _, st := range states {
		for _, e := range st.errors {
			sawError = true
			switch e.Type {
			case domain.ErrNotUnique:
				conflict = true
			case domain.ErrNotFound:
			default:
				notFoundOnly = false
			}
		}
	}
	switch {
	case conflict:
		return 409
	case sawError && notFoundOnly:
		return 404
	default:
		return 400
	}
}

func resultMessage(success, committed, dryRun bool, errCount int) string {
	switch {
	case success && dryRun:
		return "Transaction would have been successful. User selected dry run option, transaction aborted, no data written to the database."
	case success:
		return "Transaction successful."
	case committed:
		return fmt.Sprintf("Transaction partially successful: %d error(s) on discarded entities.", errCount)
	default:
		return fmt.Sprintf("Transaction aborted due to %d error(s).", errCount)
	}
}

// refusal is the response for requests rejected before entity processing:
// unknown project, missing permission, closed project, structural errors.
func refusal(code int, message string) domain.Result {
	return domain.Result{
		Code:                    code,
		Success:                 false,
		Message:                 message,
		TransactionalErrorCount: 1,
		TransactionalErrors:     []domain.TransactionalError{domain.NewTransactionalError("", message)},
		Entities:                []domain.EntityReport{},
	}
}
