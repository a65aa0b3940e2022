package engine

import (
	"strings"
	"testing"

	"graphsub/pkg/domain"
)

const imageI1 = `{"type": "sample_image", "submitter_id": "i-1", "analytes": {"submitter_id": "a-1"}}`

func TestExclusiveLinkTargetAlreadyClaimed(t *testing.T) {
	h := newHarness(t)
	if res := h.submit(domain.RoleCreate, "["+analyteA1+","+imageI1+"]"); !res.Success {
		t.Fatalf("seed: %+v", res)
	}

	// The analyte already carries an image_of edge; a second image may not
	// claim it.
	res := h.submit(domain.RoleCreate,
		`{"type": "sample_image", "submitter_id": "i-2", "analytes": {"submitter_id": "a-1"}}`)
	if res.Success || res.Code != 400 {
		t.Fatalf("expected 400 refusal, got %+v", res)
	}
	errs := res.Entities[0].Errors
	if len(errs) != 1 || errs[0].Type != domain.ErrInvalidLink {
		t.Fatalf("expected INVALID_LINK, got %v", errs)
	}
	if !strings.Contains(errs[0].Message, "already has a 'image_of' relationship") {
		t.Fatalf("message: %s", errs[0].Message)
	}
	if h.store.CountNodes("sample_image") != 1 {
		t.Fatal("refused entity was committed")
	}
}

func TestExclusiveLinkHolderMayResubmit(t *testing.T) {
	h := newHarness(t)
	if res := h.submit(domain.RoleCreate, "["+analyteA1+","+imageI1+"]"); !res.Success {
		t.Fatalf("seed: %+v", res)
	}

	// The edge holder re-submitting its own link is an update, not a second
	// claim.
	res := h.submit(domain.RoleUpdate, imageI1)
	if !res.Success || res.UpdatedEntityCount != 1 {
		t.Fatalf("holder update refused: %+v", res)
	}
	if h.store.CountEdges() != 1 {
		t.Fatalf("edge count after re-submit: %d", h.store.CountEdges())
	}
}

func TestExclusiveLinkTargetClaimedTwiceInBatch(t *testing.T) {
	h := newHarness(t)
	body := "[" + analyteA1 + "," + imageI1 + `,
	  {"type": "sample_image", "submitter_id": "i-2", "analytes": {"submitter_id": "a-1"}}]`
	res := h.submit(domain.RoleCreate, body)
	if res.Success {
		t.Fatalf("double claim accepted: %+v", res)
	}
	errs := res.Entities[2].Errors
	if len(errs) != 1 || errs[0].Type != domain.ErrInvalidLink ||
		!strings.Contains(errs[0].Message, "already claimed by another entity in this transaction") {
		t.Fatalf("second claimant not rejected: %v", errs)
	}
	if h.store.CountNodes("") != 0 {
		t.Fatal("conflicting batch mutated the graph")
	}
}
