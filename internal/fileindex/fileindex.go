// Package fileindex maintains object-store index records for file-category
// nodes and archives transaction logs. Records live in the blob store under
// a per-project prefix, one JSON document per node.
package fileindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"graphsub/internal/infra/blob/core"
	"graphsub/pkg/domain"
)

// Record is the index document written for one file node.
type Record struct {
	NodeID      string    `json:"node_id"`
	Type        string    `json:"type"`
	ProjectID   string    `json:"project_id"`
	SubmitterID string    `json:"submitter_id,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	MD5Sum      string    `json:"md5sum,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// Service writes and reads index records through a blob store.
type Service struct {
	store core.Store
}

// New returns a file index over the given blob store.
func New(store core.Store) *Service { return &Service{store: store} }

func recordKey(projectID, nodeID string) string {
	return fmt.Sprintf("index/%s/%s.json", projectID, nodeID)
}

func logKey(projectID, logID string) string {
	return fmt.Sprintf("txlogs/%s/%s.json", projectID, logID)
}

// RecordFromNode extracts the index record for a file node, pulling the
// well-known file properties out of the property bag when present.
func RecordFromNode(node domain.Node, now time.Time) Record {
	rec := Record{
		NodeID:      node.ID,
		Type:        node.Type,
		ProjectID:   node.ProjectID,
		SubmitterID: node.SubmitterID,
		UpdatedAt:   now,
	}
	if v, ok := node.Properties["file_name"].(string); ok {
		rec.FileName = v
	}
	if v, ok := node.Properties["md5sum"].(string); ok {
		rec.MD5Sum = v
	}
	switch v := node.Properties["file_size"].(type) {
	case json.Number:
		rec.FileSize, _ = v.Int64()
	case float64:
		rec.FileSize = int64(v)
	case int64:
		rec.FileSize = v
	case int:
		rec.FileSize = int64(v)
	}
	return rec
}

// Write stores (or rewrites) the index record for a file node.
func (s *Service) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode index record: %w", err)
	}
	_, err = s.store.Put(ctx, recordKey(rec.ProjectID, rec.NodeID), bytes.NewReader(data),
		core.PutOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("write index record for %s: %w", rec.NodeID, err)
	}
	return nil
}

// MarkDeleted flags the index record for a deleted file node. A missing
// record gets a minimal tombstone so downstream indexers see the deletion.
func (s *Service) MarkDeleted(ctx context.Context, projectID, nodeID string, now time.Time) error {
	rec, ok, err := s.Get(ctx, projectID, nodeID)
	if err != nil {
		return err
	}
	if !ok {
		rec = Record{NodeID: nodeID, ProjectID: projectID}
	}
	rec.Deleted = true
	rec.UpdatedAt = now
	return s.Write(ctx, rec)
}

// Get reads the index record for one node.
func (s *Service) Get(ctx context.Context, projectID, nodeID string) (Record, bool, error) {
	_, r, err := s.store.Get(ctx, recordKey(projectID, nodeID))
	if err != nil {
		return Record{}, false, nil // absence is not an error for callers
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return Record{}, false, fmt.Errorf("read index record for %s: %w", nodeID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode index record for %s: %w", nodeID, err)
	}
	return rec, true, nil
}

// List returns every index record for a project.
func (s *Service) List(ctx context.Context, projectID string) ([]Record, error) {
	infos, err := s.store.List(ctx, fmt.Sprintf("index/%s/", projectID))
	if err != nil {
		return nil, fmt.Errorf("list index records: %w", err)
	}
	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		_, r, err := s.store.Get(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", info.Key, err)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", info.Key, err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", info.Key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ArchiveLog stores a finished transaction log beside the index records so
// audit trails survive storage resets.
func (s *Service) ArchiveLog(ctx context.Context, log domain.TransactionLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode transaction log: %w", err)
	}
	_, err = s.store.Put(ctx, logKey(log.ProjectID(), log.ID), bytes.NewReader(data),
		core.PutOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive transaction log %s: %w", log.ID, err)
	}
	return nil
}
