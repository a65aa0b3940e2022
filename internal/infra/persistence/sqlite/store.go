// Package sqlite provides a SQLite-backed durable store. It reuses the
// in-memory graph semantics and snapshots the full committed state to a
// single bucketed table after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"graphsub/internal/infra/persistence/memory"
	"graphsub/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Storage = (*Store)(nil)

const defaultPath = "graphsub.db"

var sqliteBuckets = []string{"nodes", "edges", "projects", "transaction_logs"}

// Store persists the in-memory state to SQLite as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the
// in-memory store from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if err := decodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func decodeBucket(snapshot *memory.Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "nodes":
		target = &snapshot.Nodes
	case "edges":
		target = &snapshot.Edges
	case "projects":
		target = &snapshot.Projects
	case "transaction_logs":
		target = &snapshot.Logs
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func encodeBucket(snapshot memory.Snapshot, bucket string) ([]byte, error) {
	switch bucket {
	case "nodes":
		return json.Marshal(snapshot.Nodes)
	case "edges":
		return json.Marshal(snapshot.Edges)
	case "projects":
		return json.Marshal(snapshot.Projects)
	case "transaction_logs":
		return json.Marshal(snapshot.Logs)
	}
	return nil, fmt.Errorf("unknown bucket %q", bucket)
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		data, err := encodeBucket(snapshot, bucket)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// Begin wraps the in-memory transaction so a successful commit snapshots the
// new state to disk.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	inner, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &durableTx{Tx: inner, persist: s.persist}, nil
}

// AppendTransactionLog writes the audit record and snapshots immediately:
// audit records must survive even when the graph transaction rolls back.
func (s *Store) AppendTransactionLog(ctx context.Context, log domain.TransactionLog) error {
	if err := s.Store.AppendTransactionLog(ctx, log); err != nil {
		return err
	}
	return s.persist()
}

// UpdateTransactionLog mutates the audit record and snapshots.
func (s *Store) UpdateTransactionLog(ctx context.Context, id string, mutate func(*domain.TransactionLog) error) error {
	if err := s.Store.UpdateTransactionLog(ctx, id, mutate); err != nil {
		return err
	}
	return s.persist()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type durableTx struct {
	domain.Tx
	persist func() error
}

func (t *durableTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	return t.persist()
}
