package planner

import (
	"strings"
	"testing"
	"time"

	"graphsub/internal/refresolver"
	"graphsub/pkg/domain"
)

var (
	now     = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	project = "CGCI-BLGSP"
)

var analyteDef = domain.TypeDefinition{
	Name:       "analyte",
	Category:   domain.CategoryBiospecimen,
	Properties: map[string]domain.PropertyDefinition{"analyte_type": {Kind: domain.KindString}},
}

var aliquotDef = domain.TypeDefinition{
	Name:       "aliquot",
	Category:   domain.CategoryBiospecimen,
	Properties: map[string]domain.PropertyDefinition{},
	Links: map[string]domain.LinkDefinition{
		"analytes": {Name: "analytes", TargetType: "analyte", Label: "derived_from",
			Cardinality: domain.ManyToOne, Required: true},
	},
}

func analyteInput(index int, sid, nodeID string) Input {
	return Input{
		Index:  index,
		Doc:    domain.NewDocument(index, map[string]any{"type": "analyte", "submitter_id": sid}),
		Def:    analyteDef,
		Action: domain.ActionCreate,
		NodeID: nodeID,
	}
}

func aliquotInput(index int, sid, nodeID string, bindings ...refresolver.Binding) Input {
	return Input{
		Index:    index,
		Doc:      domain.NewDocument(index, map[string]any{"type": "aliquot", "submitter_id": sid}),
		Def:      aliquotDef,
		Action:   domain.ActionCreate,
		NodeID:   nodeID,
		Bindings: bindings,
	}
}

func nodeOrder(plan Plan) []string {
	var ids []string
	for _, op := range plan.Ops {
		if op.Kind == OpUpsertNode {
			ids = append(ids, op.Node.ID)
		}
	}
	return ids
}

func TestDependencyOrderIndependentOfBatchOrder(t *testing.T) {
	binding := refresolver.Binding{LinkName: "analytes", Label: "derived_from",
		TargetID: "analyte-1", TargetIndex: 1}

	// Dependent listed first; it must still be written after its target.
	plan, terrs := Build([]Input{
		aliquotInput(0, "q-1", "aliquot-1", binding),
		analyteInput(1, "a-1", "analyte-1"),
	}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("unexpected transactional errors: %v", terrs)
	}
	ids := nodeOrder(plan)
	if len(ids) != 2 || ids[0] != "analyte-1" || ids[1] != "aliquot-1" {
		t.Fatalf("node write order wrong: %v", ids)
	}

	// Same batch with the natural order produces the same write order.
	binding.TargetIndex = 0
	plan, terrs = Build([]Input{
		analyteInput(0, "a-1", "analyte-1"),
		aliquotInput(1, "q-1", "aliquot-1", binding),
	}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("unexpected transactional errors: %v", terrs)
	}
	ids = nodeOrder(plan)
	if len(ids) != 2 || ids[0] != "analyte-1" || ids[1] != "aliquot-1" {
		t.Fatalf("node write order wrong: %v", ids)
	}

	// Edges always follow every node write.
	lastNode, firstEdge := -1, -1
	for i, op := range plan.Ops {
		switch op.Kind {
		case OpUpsertNode:
			lastNode = i
		case OpUpsertEdge:
			if firstEdge == -1 {
				firstEdge = i
			}
		}
	}
	if firstEdge != -1 && firstEdge < lastNode {
		t.Fatalf("edge op before final node op: %v", plan.Ops)
	}
}

func TestDuplicateBusinessKeyIsTransactional(t *testing.T) {
	_, terrs := Build([]Input{
		analyteInput(0, "a-1", "n-1"),
		analyteInput(1, "a-1", "n-2"),
	}, project, now)
	if len(terrs) != 1 || !strings.Contains(terrs[0].Message, "not unique") {
		t.Fatalf("duplicate business key not rejected: %v", terrs)
	}
	if terrs[0].Type != domain.ErrNotUnique {
		t.Fatalf("conflict not classified: %+v", terrs[0])
	}
}

func TestDuplicateNodeIDIsTransactional(t *testing.T) {
	_, terrs := Build([]Input{
		analyteInput(0, "a-1", "n-1"),
		analyteInput(1, "a-2", "n-1"),
	}, project, now)
	if len(terrs) != 1 || !strings.Contains(terrs[0].Message, "id 'n-1'") {
		t.Fatalf("duplicate id not rejected: %v", terrs)
	}
	if terrs[0].Type != domain.ErrNotUnique {
		t.Fatalf("conflict not classified: %+v", terrs[0])
	}
}

func TestRequiredLinkCycleFailsBatch(t *testing.T) {
	a := aliquotInput(0, "q-1", "n-1",
		refresolver.Binding{LinkName: "analytes", Label: "derived_from", TargetID: "n-2", TargetIndex: 1})
	b := aliquotInput(1, "q-2", "n-2",
		refresolver.Binding{LinkName: "analytes", Label: "derived_from", TargetID: "n-1", TargetIndex: 0})
	_, terrs := Build([]Input{a, b}, project, now)
	if len(terrs) != 1 || !strings.Contains(terrs[0].Message, "cycle") {
		t.Fatalf("required cycle not rejected: %v", terrs)
	}
}

func TestOptionalLinkCycleFallsBackToBatchOrder(t *testing.T) {
	optDef := aliquotDef
	optDef.Links = map[string]domain.LinkDefinition{
		"analytes": {Name: "analytes", TargetType: "aliquot", Label: "related_to",
			Cardinality: domain.ManyToMany, Required: false},
	}
	mk := func(index int, sid, nodeID, target string, targetIdx int) Input {
		in := aliquotInput(index, sid, nodeID,
			refresolver.Binding{LinkName: "analytes", Label: "related_to", TargetID: target, TargetIndex: targetIdx})
		in.Def = optDef
		return in
	}
	plan, terrs := Build([]Input{
		mk(0, "q-1", "n-1", "n-2", 1),
		mk(1, "q-2", "n-2", "n-1", 0),
	}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("optional cycle should not fail: %v", terrs)
	}
	ids := nodeOrder(plan)
	if len(ids) != 2 || ids[0] != "n-1" || ids[1] != "n-2" {
		t.Fatalf("batch-order fallback wrong: %v", ids)
	}
}

func TestStageNodeCreateAppliesDefaults(t *testing.T) {
	def := analyteDef
	def.Properties = map[string]domain.PropertyDefinition{
		"analyte_type": {Kind: domain.KindString},
		"state_flag":   {Kind: domain.KindString, Default: "fresh"},
	}
	in := Input{
		Index: 0,
		Doc: domain.NewDocument(0, map[string]any{
			"type": "analyte", "submitter_id": "a-1", "analyte_type": "DNA",
		}),
		Def:    def,
		Action: domain.ActionCreate,
		NodeID: "n-1",
	}
	plan, terrs := Build([]Input{in}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("build: %v", terrs)
	}
	node := plan.Entities[0].Node
	if node.Properties["state_flag"] != "fresh" {
		t.Fatalf("default not applied: %v", node.Properties)
	}
	if node.Properties["analyte_type"] != "DNA" {
		t.Fatalf("submitted value missing: %v", node.Properties)
	}
	if node.CreatedAt != now || node.UpdatedAt != now {
		t.Fatalf("timestamps not stamped: %v / %v", node.CreatedAt, node.UpdatedAt)
	}
	if node.State != "validated" {
		t.Fatalf("new node state: %q", node.State)
	}
}

func TestStageNodeUpdateMergesAgainstExisting(t *testing.T) {
	created := now.Add(-24 * time.Hour)
	existing := domain.Node{
		ID: "n-1", Type: "analyte", ProjectID: project, SubmitterID: "a-1",
		State:     "validated",
		CreatedAt: created, UpdatedAt: created,
		Properties: map[string]any{
			"analyte_type":  "DNA",
			"concentration": 4.5,
			"notes":         "keep me",
		},
	}
	def := analyteDef
	def.Properties = map[string]domain.PropertyDefinition{
		"analyte_type":  {Kind: domain.KindString},
		"concentration": {Kind: domain.KindNumber},
		"notes":         {Kind: domain.KindString},
	}
	in := Input{
		Index: 0,
		Doc: domain.NewDocument(0, map[string]any{
			"type": "analyte", "submitter_id": "a-1",
			"analyte_type":  "RNA", // changed
			"concentration": nil,   // cleared
			// notes absent: untouched
		}),
		Def:      def,
		Action:   domain.ActionUpdate,
		NodeID:   "n-1",
		Existing: &existing,
	}
	plan, terrs := Build([]Input{in}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("build: %v", terrs)
	}
	staged := plan.Entities[0]
	if staged.Node.Properties["analyte_type"] != "RNA" {
		t.Fatalf("changed value not applied: %v", staged.Node.Properties)
	}
	if _, present := staged.Node.Properties["concentration"]; present {
		t.Fatalf("null did not clear property: %v", staged.Node.Properties)
	}
	if staged.Node.Properties["notes"] != "keep me" {
		t.Fatalf("absent key was touched: %v", staged.Node.Properties)
	}
	if staged.Node.CreatedAt != created {
		t.Fatal("creation time rewritten on update")
	}
	if staged.Node.UpdatedAt != now {
		t.Fatal("update time not stamped")
	}
	if staged.OldProps["analyte_type"] != "DNA" {
		t.Fatalf("old properties not captured: %v", staged.OldProps)
	}
}

func TestStageNodeSystemPropertyWarning(t *testing.T) {
	def := analyteDef
	def.Properties = map[string]domain.PropertyDefinition{"batch_id": {Kind: domain.KindString}}
	def.SystemProperties = []string{"batch_id"}
	existing := domain.Node{
		ID: "n-1", Type: "analyte", ProjectID: project, SubmitterID: "a-1",
		Properties: map[string]any{"batch_id": "B-1"},
	}
	in := Input{
		Index: 0,
		Doc: domain.NewDocument(0, map[string]any{
			"type": "analyte", "submitter_id": "a-1", "batch_id": "B-2",
		}),
		Def:      def,
		Action:   domain.ActionUpdate,
		NodeID:   "n-1",
		Existing: &existing,
	}
	plan, terrs := Build([]Input{in}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("build: %v", terrs)
	}
	staged := plan.Entities[0]
	if staged.Node.Properties["batch_id"] != "B-1" {
		t.Fatalf("system property overwritten: %v", staged.Node.Properties)
	}
	if len(staged.Warnings) != 1 || !strings.Contains(staged.Warnings[0].Message, "system property") {
		t.Fatalf("expected system property warning, got %v", staged.Warnings)
	}
}

func TestUpdateReplacesSingleTargetEdges(t *testing.T) {
	existing := domain.Node{
		ID: "aliquot-1", Type: "aliquot", ProjectID: project, SubmitterID: "q-1",
		Properties: map[string]any{},
	}
	in := aliquotInput(0, "q-1", "aliquot-1",
		refresolver.Binding{LinkName: "analytes", Label: "derived_from", TargetID: "analyte-2", TargetIndex: -1})
	in.Action = domain.ActionUpdate
	in.Existing = &existing
	plan, terrs := Build([]Input{in}, project, now)
	if len(terrs) != 0 {
		t.Fatalf("build: %v", terrs)
	}
	var replace, upsert int
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpReplaceEdges:
			replace++
			if op.SrcID != "aliquot-1" || op.Label != "derived_from" {
				t.Fatalf("replace op wrong: %+v", op)
			}
		case OpUpsertEdge:
			upsert++
			if op.Edge.DstID != "analyte-2" {
				t.Fatalf("edge op wrong: %+v", op)
			}
		}
	}
	if replace != 1 || upsert != 1 {
		t.Fatalf("expected replace+upsert, got replace=%d upsert=%d", replace, upsert)
	}
}
