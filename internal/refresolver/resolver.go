// Package refresolver binds the symbolic references in a document's links to
// concrete node identities. Lookups are two-tier: the current batch is
// searched first (bindings to pending, not-yet-committed identities), then
// persisted state. Batch-local resolution never performs I/O, so resolution
// is deterministic for a fixed batch ordering.
package refresolver

import (
	"context"
	"fmt"

	"graphsub/internal/dictionary"
	"graphsub/pkg/domain"
)

// Lookup is the subset of the storage transaction the resolver reads from.
type Lookup interface {
	GetNodeByID(ctx context.Context, id string) (domain.Node, bool, error)
	GetNodeByBusinessKey(ctx context.Context, key domain.BusinessKey) (domain.Node, bool, error)
}

// Candidate is a batch member that references may bind to: its identity has
// been reserved (create) or matched (update) but nothing is committed yet.
type Candidate struct {
	Index       int
	Type        string
	NodeID      string
	SubmitterID string
}

// Binding is one resolved reference: the edge to stage between the owning
// entity and its target.
type Binding struct {
	LinkName    string
	Label       string
	Ref         domain.Reference
	TargetID    string
	TargetIndex int // batch index of an in-batch target, -1 when persisted
}

// Resolve binds every reference in doc's links. Unresolvable or ambiguous
// references come back as entity errors attributed to the link key; the
// error return is reserved for storage faults.
func Resolve(ctx context.Context, doc domain.SubmissionDocument, def domain.TypeDefinition,
	projectID string, batch []Candidate, store Lookup, dict *dictionary.Dictionary,
) ([]Binding, []domain.EntityError, error) {
	var bindings []Binding
	var errs []domain.EntityError

	for name, link := range def.Links {
		refs, err := doc.References(name)
		if err != nil || len(refs) == 0 {
			continue // malformed links were reported during validation
		}
		for _, ref := range refs {
			binding, entityErr, err := resolveOne(ctx, doc.Index, name, link, ref, projectID, batch, store, dict)
			if err != nil {
				return nil, nil, err
			}
			if entityErr != nil {
				errs = append(errs, *entityErr)
				continue
			}
			bindings = append(bindings, binding)
		}
	}
	return bindings, errs, nil
}

func resolveOne(ctx context.Context, selfIndex int, name string, link domain.LinkDefinition,
	ref domain.Reference, projectID string, batch []Candidate, store Lookup, dict *dictionary.Dictionary,
) (Binding, *domain.EntityError, error) {
	label := link.Label
	if label == "" {
		label = name
	}

	// Tier one: the batch itself, excluding the referencing entity. A
	// document may not bind to itself.
	var matches []Candidate
	for _, c := range batch {
		if c.Index == selfIndex || c.Type != link.TargetType {
			continue
		}
		if (ref.ID != "" && c.NodeID == ref.ID) ||
			(ref.ID == "" && ref.SubmitterID != "" && c.SubmitterID == ref.SubmitterID) {
			matches = append(matches, c)
		}
	}
	if len(matches) > 1 {
		e := domain.NewEntityError(domain.ErrInvalidLink,
			fmt.Sprintf("more than one entity in this transaction matches %s for link '%s'", ref, name), name)
		return Binding{}, &e, nil
	}
	if len(matches) == 1 {
		return Binding{LinkName: name, Label: label, Ref: ref,
			TargetID: matches[0].NodeID, TargetIndex: matches[0].Index}, nil, nil
	}

	// Tier two: persisted state, scoped to the project.
	node, found, err := lookupPersisted(ctx, link.TargetType, ref, projectID, store)
	if err != nil {
		return Binding{}, nil, err
	}
	if !found {
		e := domain.NewEntityError(domain.ErrNotFound,
			fmt.Sprintf("no entity of type '%s' found for link '%s' with %s", link.TargetType, name, ref), name)
		return Binding{}, &e, nil
	}
	if node.Type != link.TargetType {
		e := domain.NewEntityError(domain.ErrInvalidLink,
			fmt.Sprintf("link '%s' target %s is a '%s', expected '%s'", name, ref, node.Type, link.TargetType), name)
		return Binding{}, &e, nil
	}
	if !projectScopedOK(node, projectID, dict) {
		e := domain.NewEntityError(domain.ErrInvalidLink,
			fmt.Sprintf("relationship to %s '%s' in project '%s' not allowed", node.Type, node.ID, node.ProjectID), name)
		return Binding{}, &e, nil
	}
	return Binding{LinkName: name, Label: label, Ref: ref, TargetID: node.ID, TargetIndex: -1}, nil, nil
}

func lookupPersisted(ctx context.Context, targetType string, ref domain.Reference,
	projectID string, store Lookup,
) (domain.Node, bool, error) {
	if ref.ID != "" {
		node, found, err := store.GetNodeByID(ctx, ref.ID)
		if err != nil {
			return domain.Node{}, false, err
		}
		return node, found, nil
	}
	key := domain.BusinessKey{Type: targetType, ProjectID: projectID, SubmitterID: ref.SubmitterID}
	node, found, err := store.GetNodeByBusinessKey(ctx, key)
	if err != nil {
		return domain.Node{}, false, err
	}
	return node, found, nil
}

// Administrative containers (programs, projects) are the only legal
// cross-project link targets.
func projectScopedOK(node domain.Node, projectID string, dict *dictionary.Dictionary) bool {
	if node.ProjectID == "" || node.ProjectID == projectID {
		return true
	}
	def, ok := dict.Get(node.Type)
	return ok && def.Category == domain.CategoryAdministrative
}
