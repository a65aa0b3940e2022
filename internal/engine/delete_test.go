package engine

import (
	"strings"
	"testing"

	"graphsub/pkg/domain"
)

// seedChain creates analyte -> aliquot -> read_group and returns their ids.
func seedChain(h *harness) (analyteID, aliquotID, readGroupID string) {
	res := h.submit(domain.RoleCreate, `[
	  {"type": "analyte", "submitter_id": "a-1", "analyte_type": "DNA"},
	  {"type": "aliquot", "submitter_id": "q-1", "analytes": {"submitter_id": "a-1"}},
	  {"type": "read_group", "submitter_id": "r-1", "aliquots": {"submitter_id": "q-1"}}
	]`)
	if !res.Success {
		h.t.Fatalf("seed chain failed: %+v", res)
	}
	for _, rep := range res.Entities {
		switch rep.Type {
		case "analyte":
			analyteID = rep.ID
		case "aliquot":
			aliquotID = rep.ID
		case "read_group":
			readGroupID = rep.ID
		}
	}
	return analyteID, aliquotID, readGroupID
}

func (h *harness) deleteRequest(ids []string, cascade bool) Request {
	return Request{
		Program: testProgram, Project: testProject,
		Role: domain.RoleDelete, Submitter: h.submitter(),
		IDs: ids, Cascade: cascade,
	}
}

func TestDeleteLeafEntity(t *testing.T) {
	h := newHarness(t)
	_, _, readGroupID := seedChain(h)

	res, err := h.eng.Submit(ctx, h.deleteRequest([]string{readGroupID}, false))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res.Success || res.Code != 200 || res.DeletedEntityCount != 1 {
		t.Fatalf("delete result: %+v", res)
	}
	if h.store.CountNodes("") != 2 {
		t.Fatalf("expected 2 nodes after leaf delete, got %d", h.store.CountNodes(""))
	}
	if h.store.CountEdges() != 1 {
		t.Fatalf("edges touching the deleted node must go: %d", h.store.CountEdges())
	}
	log := h.log(res.TransactionID)
	if log.State != domain.TxLogSucceeded || len(log.Snapshots) != 1 {
		t.Fatalf("log: %+v", log)
	}
	if log.Snapshots[0].Action != domain.ActionDelete || log.Snapshots[0].OldProps == nil {
		t.Fatalf("snapshot must capture the deleted properties: %+v", log.Snapshots[0])
	}
}

func TestDeleteBlockedByDependents(t *testing.T) {
	h := newHarness(t)
	analyteID, _, _ := seedChain(h)

	res, err := h.eng.Submit(ctx, h.deleteRequest([]string{analyteID}, false))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Success || res.DeletedEntityCount != 0 {
		t.Fatalf("blocked delete reported success: %+v", res)
	}
	errs := res.Entities[0].Errors
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "depend on it") {
		t.Fatalf("dependency refusal missing: %v", errs)
	}
	if h.store.CountNodes("") != 3 {
		t.Fatal("blocked delete mutated the graph")
	}
}

func TestCascadeDeleteRemovesClosure(t *testing.T) {
	h := newHarness(t)
	analyteID, _, _ := seedChain(h)

	res, err := h.eng.Submit(ctx, h.deleteRequest([]string{analyteID}, true))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res.Success || res.DeletedEntityCount != 3 {
		t.Fatalf("cascade result: %+v", res)
	}
	if h.store.CountNodes("") != 0 || h.store.CountEdges() != 0 {
		t.Fatalf("cascade left data: nodes=%d edges=%d", h.store.CountNodes(""), h.store.CountEdges())
	}
	// Every deleted entity is reported.
	if len(res.Entities) != 3 {
		t.Fatalf("entity reports: %+v", res.Entities)
	}
}

func TestDeleteUnknownID(t *testing.T) {
	h := newHarness(t)
	res, err := h.eng.Submit(ctx, h.deleteRequest([]string{"ghost"}, false))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Success || res.Code != 404 {
		t.Fatalf("expected 404, got %+v", res)
	}
	if res.Entities[0].Errors[0].Type != domain.ErrNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", res.Entities[0].Errors)
	}
}

func TestDeleteDuplicateIDs(t *testing.T) {
	h := newHarness(t)
	_, _, readGroupID := seedChain(h)
	res, err := h.eng.Submit(ctx, h.deleteRequest([]string{readGroupID, readGroupID}, false))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Success {
		t.Fatalf("duplicate ids accepted: %+v", res)
	}
	found := false
	for _, rep := range res.Entities {
		for _, e := range rep.Errors {
			if e.Type == domain.ErrNotUnique {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("NOT_UNIQUE missing: %+v", res.Entities)
	}
}

func TestDeleteDryRun(t *testing.T) {
	h := newHarness(t)
	_, _, readGroupID := seedChain(h)
	req := h.deleteRequest([]string{readGroupID}, false)
	req.DryRun = true
	res, err := h.eng.Submit(ctx, req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !res.Success || res.DeletedEntityCount != 1 {
		t.Fatalf("dry-run delete result: %+v", res)
	}
	if h.store.CountNodes("") != 3 {
		t.Fatal("dry-run delete mutated the graph")
	}
}

func TestDeleteNothing(t *testing.T) {
	h := newHarness(t)
	res, err := h.eng.Submit(ctx, h.deleteRequest(nil, false))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Code != 400 || !strings.Contains(res.Message, "Nothing to delete") {
		t.Fatalf("empty delete: %+v", res)
	}
}
