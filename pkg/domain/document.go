package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved document keys that are neither properties nor links.
const (
	KeyType            = "type"
	KeyID              = "id"
	KeySubmitterID     = "submitter_id"
	KeyCreatedDatetime = "created_datetime"
	KeyUpdatedDatetime = "updated_datetime"
	KeyProjectID       = "project_id"
)

// Reference identifies another entity either by system id or by its
// submitter id within the same project.
type Reference struct {
	ID          string `json:"id,omitempty"`
	SubmitterID string `json:"submitter_id,omitempty"`
}

// IsZero reports whether the reference carries no identity at all.
func (r Reference) IsZero() bool { return r.ID == "" && r.SubmitterID == "" }

func (r Reference) String() string {
	if r.ID != "" {
		return fmt.Sprintf("id=%q", r.ID)
	}
	return fmt.Sprintf("submitter_id=%q", r.SubmitterID)
}

// SubmissionDocument is one entity document within a transaction batch. The
// raw key/value body is retained so that validation can attribute errors to
// the exact submitted keys; explicit JSON nulls survive as nil values, which
// update planning treats as "clear" rather than "absent".
type SubmissionDocument struct {
	Index int            `json:"-"`
	Body  map[string]any `json:"-"`
}

// Type returns the declared entity type, or "" when missing.
func (d SubmissionDocument) Type() string { return d.stringField(KeyType) }

// ID returns the declared system id, or "".
func (d SubmissionDocument) ID() string { return d.stringField(KeyID) }

// SubmitterID returns the declared submitter id, or "".
func (d SubmissionDocument) SubmitterID() string { return d.stringField(KeySubmitterID) }

func (d SubmissionDocument) stringField(key string) string {
	v, ok := d.Body[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// References extracts the reference list stored under a link key. A single
// object and a list of objects are both accepted, matching the wire format
// of the submission API.
func (d SubmissionDocument) References(linkName string) ([]Reference, error) {
	raw, ok := d.Body[linkName]
	if !ok || raw == nil {
		return nil, nil
	}
	var items []any
	switch v := raw.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("link %q must be an object or a list of objects", linkName)
	}
	refs := make([]Reference, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("link %q entries must be objects", linkName)
		}
		var ref Reference
		if id, ok := obj[KeyID].(string); ok {
			ref.ID = id
		}
		if sid, ok := obj[KeySubmitterID].(string); ok {
			ref.SubmitterID = sid
		}
		if ref.IsZero() {
			return nil, fmt.Errorf("link %q entry carries neither id nor submitter_id", linkName)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DecodeBatch parses a request body into an ordered batch of documents. The
// body may be a single JSON object or an array of objects; anything else is
// a structural error that aborts the transaction before per-entity
// processing. Keys prefixed with '*' (the dictionary's required-property
// marker, which some exporters leave in place) are normalized.
func DecodeBatch(body []byte) ([]SubmissionDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	var items []any
	switch v := raw.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("request body must be a JSON object or array of objects")
	}
	docs := make([]SubmissionDocument, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entity document at index %d must be an object", i)
		}
		docs = append(docs, NewDocument(i, normalizeKeys(obj)))
	}
	return docs, nil
}

// NewDocument wraps an already-decoded body as a batch document.
func NewDocument(index int, body map[string]any) SubmissionDocument {
	return SubmissionDocument{Index: index, Body: normalizeKeys(body)}
}

func normalizeKeys(body map[string]any) map[string]any {
	clean := make(map[string]any, len(body))
	for k, v := range body {
		clean[strings.TrimLeft(k, "*")] = v
	}
	return clean
}
