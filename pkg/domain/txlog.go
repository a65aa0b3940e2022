package domain

import "time"

// TxLogState tracks the lifecycle of a transaction log record.
type TxLogState string

// Transaction log states. A log is claimed PENDING before any entity work
// begins and always reaches a terminal state, win or lose.
const (
	TxLogPending   TxLogState = "PENDING"
	TxLogSucceeded TxLogState = "SUCCEEDED"
	TxLogFailed    TxLogState = "FAILED"
	TxLogErrored   TxLogState = "ERRORED"
)

// NodeSnapshot captures one node's before/after property bags for audit.
type NodeSnapshot struct {
	ID       string         `json:"id"`
	Action   Action         `json:"action"`
	OldProps map[string]any `json:"old_props,omitempty"`
	NewProps map[string]any `json:"new_props,omitempty"`
}

// TransactionLog summarizes an executed transaction. Logs are written in a
// separate storage session from the mutations they describe so that a
// rolled-back transaction still leaves its audit trail.
type TransactionLog struct {
	ID          string         `json:"id"`
	Program     string         `json:"program"`
	Project     string         `json:"project"`
	Role        Role           `json:"role"`
	DryRun      bool           `json:"is_dry_run"`
	Closed      bool           `json:"closed"`
	CommittedBy string         `json:"committed_by,omitempty"`
	Submitter   string         `json:"submitter,omitempty"`
	State       TxLogState     `json:"state"`
	Timestamp   time.Time      `json:"timestamp"`
	Snapshots   []NodeSnapshot `json:"entities"`
	Response    *Result        `json:"response,omitempty"`
}

// ProjectID returns the composite project identifier the log belongs to.
func (l TransactionLog) ProjectID() string { return ProjectID(l.Program, l.Project) }
