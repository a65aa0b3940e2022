package domain

import "fmt"

// Role names the kind of transaction being executed.
type Role string

// Transaction roles.
const (
	RoleCreate  Role = "create"
	RoleUpdate  Role = "update"
	RoleDelete  Role = "delete"
	RoleReview  Role = "review"
	RoleOpen    Role = "open"
	RoleRelease Role = "release"
	RoleClose   Role = "close"
)

// Action records what a transaction did to one node.
type Action string

// Per-entity actions recorded in reports and snapshots.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// CommitMode selects all-or-nothing versus partial commit semantics.
type CommitMode int

// Commit modes. Atomic is the default: any error aborts every entity.
const (
	CommitAtomic CommitMode = iota
	CommitPartial
)

// EntityReport is the per-entity outcome record in the response document.
type EntityReport struct {
	ID          string        `json:"id"`
	SubmitterID string        `json:"submitter_id,omitempty"`
	Type        string        `json:"type"`
	Valid       bool          `json:"valid"`
	Action      Action        `json:"action,omitempty"`
	Errors      []EntityError `json:"errors"`
	Warnings    []EntityError `json:"warnings"`
}

// Result is the standardized response document for every transaction.
type Result struct {
	TransactionID            string               `json:"transaction_id"`
	Code                     int                  `json:"code"`
	Success                  bool                 `json:"success"`
	Message                  string               `json:"message"`
	CreatedEntityCount       int                  `json:"created_entity_count"`
	UpdatedEntityCount       int                  `json:"updated_entity_count"`
	DeletedEntityCount       int                  `json:"deleted_entity_count,omitempty"`
	EntityErrorCount         int                  `json:"entity_error_count"`
	TransactionalErrorCount  int                  `json:"transactional_error_count"`
	TransactionalErrors      []TransactionalError `json:"transactional_errors"`
	Entities                 []EntityReport       `json:"entities"`
}

// HasEntityErrors reports whether any entity carries errors.
func (r Result) HasEntityErrors() bool { return r.EntityErrorCount > 0 }

// ErrorCount returns the total of entity and transactional errors.
func (r Result) ErrorCount() int {
	return r.EntityErrorCount + r.TransactionalErrorCount
}

func (r Result) String() string {
	return fmt.Sprintf("result{code=%d success=%t entities=%d errors=%d}",
		r.Code, r.Success, len(r.Entities), r.ErrorCount())
}
