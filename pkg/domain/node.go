package domain

import (
	"fmt"
	"time"
)

// Node is a persisted typed vertex in the submission graph.
type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	ProjectID   string         `json:"project_id"`
	SubmitterID string         `json:"submitter_id,omitempty"`
	State       string         `json:"state,omitempty"`
	Properties  map[string]any `json:"properties"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BusinessKey returns the (type, project, submitter_id) key identifying the
// node independently of its system id.
func (n Node) BusinessKey() BusinessKey {
	return BusinessKey{Type: n.Type, ProjectID: n.ProjectID, SubmitterID: n.SubmitterID}
}

// Clone returns a deep copy safe to hand outside a transaction boundary.
func (n Node) Clone() Node {
	cp := n
	if n.Properties != nil {
		cp.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

// BusinessKey identifies a node by type and submitter id within a project.
type BusinessKey struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	SubmitterID string `json:"submitter_id"`
}

func (k BusinessKey) String() string {
	return fmt.Sprintf("(%s, %s, %s)", k.Type, k.ProjectID, k.SubmitterID)
}

// IsComplete reports whether the key can identify a node at all.
func (k BusinessKey) IsComplete() bool {
	return k.Type != "" && k.ProjectID != "" && k.SubmitterID != ""
}

// Edge is a directed, labeled relationship between two persisted nodes.
type Edge struct {
	Label string `json:"label"`
	SrcID string `json:"src_id"`
	DstID string `json:"dst_id"`
}

// ProjectState gates which transaction roles a project currently accepts.
type ProjectState string

// Project lifecycle states.
const (
	ProjectOpen       ProjectState = "open"
	ProjectReview     ProjectState = "review"
	ProjectSubmitted  ProjectState = "submitted"
	ProjectProcessing ProjectState = "processing"
	ProjectClosed     ProjectState = "closed"
)

// Project is the container record that scopes submissions.
type Project struct {
	Program    string       `json:"program"`
	Code       string       `json:"code"`
	State      ProjectState `json:"state"`
	Released   bool         `json:"released"`
	Releasable bool         `json:"releasable"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ID returns the composite project identifier used on nodes.
func (p Project) ID() string { return ProjectID(p.Program, p.Code) }

// ProjectID builds the composite project identifier from its parts.
func ProjectID(program, code string) string {
	return program + "-" + code
}
