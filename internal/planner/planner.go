// Package planner turns validated entities with resolved references into an
// ordered list of graph mutations. It detects in-batch business-key
// conflicts, builds the dependency graph among batch members, orders node
// writes so that dependencies are written before dependents, and merges
// update property bags against persisted state.
package planner

import (
	"fmt"
	"sort"
	"time"

	"graphsub/internal/refresolver"
	"graphsub/pkg/domain"
)

// OpKind discriminates planned mutations.
type OpKind int

// Planned mutation kinds, applied in plan order.
const (
	OpUpsertNode OpKind = iota
	OpReplaceEdges
	OpUpsertEdge
)

// Op is one planned mutation, tagged with the batch index it originated
// from for error attribution.
type Op struct {
	Kind  OpKind
	Index int
	Node  domain.Node
	Edge  domain.Edge
	// Label and SrcID select the edge set replaced by OpReplaceEdges.
	Label string
	SrcID string
}

// Input is one batch entity entering planning: identity already reserved
// (create) or matched (update), references already bound.
type Input struct {
	Index    int
	Doc      domain.SubmissionDocument
	Def      domain.TypeDefinition
	Action   domain.Action
	NodeID   string
	Existing *domain.Node // persisted version when Action is update
	Bindings []refresolver.Binding
}

// Planned carries the staged node and any planning warnings per entity.
type Planned struct {
	Index    int
	Node     domain.Node
	OldProps map[string]any
	Warnings []domain.EntityError
}

// Plan is the ordered mutation list for one transaction.
type Plan struct {
	Ops      []Op
	Entities []Planned
}

// Build computes the plan for a batch. Transactional errors (in-batch
// uniqueness conflicts, required-link cycles) abort the whole batch and are
// not attributable to a single entity.
func Build(inputs []Input, projectID string, now time.Time) (Plan, []domain.TransactionalError) {
	if errs := findConflicts(inputs, projectID); len(errs) > 0 {
		return Plan{}, errs
	}
	order, errs := dependencyOrder(inputs)
	if len(errs) > 0 {
		return Plan{}, errs
	}

	plan := Plan{Entities: make([]Planned, 0, len(inputs))}
	byIndex := make(map[int]Input, len(inputs))
	for _, in := range inputs {
		byIndex[in.Index] = in
	}

	// Nodes first, in dependency order; edges after every endpoint exists.
	var edgeOps []Op
	for _, idx := range order {
		in := byIndex[idx]
		staged := stageNode(in, projectID, now)
		plan.Entities = append(plan.Entities, staged)
		plan.Ops = append(plan.Ops, Op{Kind: OpUpsertNode, Index: in.Index, Node: staged.Node})
		edgeOps = append(edgeOps, stageEdges(in)...)
	}
	plan.Ops = append(plan.Ops, edgeOps...)

	// Reports are assembled by batch index regardless of apply order.
	sort.Slice(plan.Entities, func(i, j int) bool {
		return plan.Entities[i].Index < plan.Entities[j].Index
	})
	return plan, nil
}

// findConflicts rejects batches where two documents claim the same business
// key or the same system id.
func findConflicts(inputs []Input, projectID string) []domain.TransactionalError {
	var errs []domain.TransactionalError
	seenKeys := make(map[domain.BusinessKey]bool)
	seenIDs := make(map[string]bool)
	for _, in := range inputs {
		key := domain.BusinessKey{Type: in.Def.Name, ProjectID: projectID, SubmitterID: in.Doc.SubmitterID()}
		if key.IsComplete() {
			if seenKeys[key] {
				errs = append(errs, domain.NewTransactionalError(domain.ErrNotUnique,
					fmt.Sprintf("Entity is not unique, %s appears more than once in this transaction", key)))
			}
			seenKeys[key] = true
		}
		if in.NodeID != "" {
			if seenIDs[in.NodeID] {
				errs = append(errs, domain.NewTransactionalError(domain.ErrNotUnique,
					fmt.Sprintf("Entity is not unique, id '%s' appears more than once in this transaction", in.NodeID)))
			}
			seenIDs[in.NodeID] = true
		}
	}
	return errs
}

// dependencyOrder runs Kahn's algorithm over in-batch bindings. A cycle
// through required links can never be satisfied and fails the batch; a
// cycle through optional links only constrains edges, which are applied
// after all nodes, so the cyclic group falls back to batch order.
func dependencyOrder(inputs []Input) ([]int, []domain.TransactionalError) {
	indices := make([]int, 0, len(inputs))
	indegree := make(map[int]int, len(inputs))
	dependents := make(map[int][]int, len(inputs))
	required := make(map[[2]int]bool)

	for _, in := range inputs {
		indices = append(indices, in.Index)
		indegree[in.Index] += 0
	}
	sort.Ints(indices)

	for _, in := range inputs {
		for _, b := range in.Bindings {
			if b.TargetIndex < 0 {
				continue // persisted targets impose no ordering
			}
			dependents[b.TargetIndex] = append(dependents[b.TargetIndex], in.Index)
			indegree[in.Index]++
			if in.Def.Links[b.LinkName].Required {
				required[[2]int{in.Index, b.TargetIndex}] = true
			}
		}
	}

	var order []int
	ready := make([]int, 0, len(indices))
	for _, idx := range indices {
		if indegree[idx] == 0 {
			ready = append(ready, idx)
		}
	}
	for len(ready) > 0 {
		sort.Ints(ready) // batch order among independent entities
		idx := ready[0]
		ready = ready[1:]
		order = append(order, idx)
		for _, dep := range dependents[idx] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) == len(indices) {
		return order, nil
	}

	// Leftovers are cyclic. Required-link cycles are fatal to the batch.
	inOrder := make(map[int]bool, len(order))
	for _, idx := range order {
		inOrder[idx] = true
	}
	var leftover []int
	for _, idx := range indices {
		if !inOrder[idx] {
			leftover = append(leftover, idx)
		}
	}
	for edge := range required {
		if !inOrder[edge[0]] && !inOrder[edge[1]] {
			return nil, []domain.TransactionalError{domain.NewTransactionalError(domain.ErrInvalidLink,
				"entities form a dependency cycle through required links and cannot be created")}
		}
	}
	order = append(order, leftover...)
	return order, nil
}

// stageNode builds the node to write for one entity, merging against the
// persisted version for updates: absent keys stay untouched, explicit nulls
// clear, and system properties cannot be changed by the submitter.
func stageNode(in Input, projectID string, now time.Time) Planned {
	staged := Planned{Index: in.Index}

	var node domain.Node
	if in.Action == domain.ActionUpdate && in.Existing != nil {
		node = in.Existing.Clone()
		staged.OldProps = in.Existing.Clone().Properties
	} else {
		node = domain.Node{
			ID:         in.NodeID,
			Type:       in.Def.Name,
			ProjectID:  projectID,
			CreatedAt:  now,
			Properties: map[string]any{},
		}
		for key, prop := range in.Def.Properties {
			if prop.Default != nil {
				node.Properties[key] = prop.Default
			}
		}
	}
	node.UpdatedAt = now
	if sid := in.Doc.SubmitterID(); sid != "" {
		node.SubmitterID = sid
	}
	// An updated node is a draft again until the project is re-reviewed.
	if node.State == "" {
		node.State = "validated"
	}

	for key, value := range in.Doc.Body {
		if isReserved(key) {
			continue
		}
		if _, isLink := in.Def.Links[key]; isLink {
			continue
		}
		if in.Def.IsSystemProperty(key) {
			if in.Action == domain.ActionUpdate && node.Properties[key] != nil && !equalValue(node.Properties[key], value) {
				staged.Warnings = append(staged.Warnings, domain.NewEntityError(domain.ErrInvalidProperty,
					fmt.Sprintf("Property '%s' is a system property and will be ignored", key), key))
			}
			if node.Properties[key] == nil && value != nil {
				node.Properties[key] = value
			}
			continue
		}
		if value == nil {
			delete(node.Properties, key)
			continue
		}
		node.Properties[key] = value
	}

	staged.Node = node
	return staged
}

// stageEdges emits the edge mutations for one entity. Single-target links
// replace any previous edge under the same label; multi-target links
// accumulate.
func stageEdges(in Input) []Op {
	byLink := make(map[string][]refresolver.Binding)
	var linkNames []string
	for _, b := range in.Bindings {
		if _, seen := byLink[b.LinkName]; !seen {
			linkNames = append(linkNames, b.LinkName)
		}
		byLink[b.LinkName] = append(byLink[b.LinkName], b)
	}
	sort.Strings(linkNames)

	var ops []Op
	for _, name := range linkNames {
		bindings := byLink[name]
		link := in.Def.Links[name]
		if in.Action == domain.ActionUpdate && link.Cardinality.MaxReferences() == 1 {
			ops = append(ops, Op{Kind: OpReplaceEdges, Index: in.Index, SrcID: in.NodeID, Label: bindings[0].Label})
		}
		for _, b := range bindings {
			ops = append(ops, Op{Kind: OpUpsertEdge, Index: in.Index,
				Edge: domain.Edge{Label: b.Label, SrcID: in.NodeID, DstID: b.TargetID}})
		}
	}
	return ops
}

func isReserved(key string) bool {
	switch key {
	case domain.KeyType, domain.KeyID, domain.KeySubmitterID,
		domain.KeyProjectID, domain.KeyCreatedDatetime, domain.KeyUpdatedDatetime:
		return true
	}
	return false
}

func equalValue(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
