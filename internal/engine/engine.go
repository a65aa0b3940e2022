// Package engine implements the transaction coordinator: it drives a
// submission batch through validation, reference resolution, mutation
// planning, and atomic or partial commit against graph storage, emitting a
// standardized response document and an audit transaction log for every
// attempt.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"graphsub/internal/dictionary"
	"graphsub/internal/fileindex"
	"graphsub/pkg/domain"
)

// Engine coordinates transactions against one dictionary and one store.
type Engine struct {
	dict    *dictionary.Dictionary
	store   domain.Storage
	index   *fileindex.Service
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFileIndex attaches the object-store file index. Without it, file
// category nodes commit without index records and logs are not archived.
func WithFileIndex(idx *fileindex.Service) Option {
	return func(e *Engine) { e.index = idx }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides node and transaction id generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New constructs an engine over the given dictionary and storage.
func New(dict *dictionary.Dictionary, store domain.Storage, opts ...Option) *Engine {
	e := &Engine{
		dict:  dict,
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes one transaction to execute.
type Request struct {
	Program string
	Project string
	Role    domain.Role
	Mode    domain.CommitMode
	// DryRun executes the full pipeline but rolls back instead of
	// committing. The transaction log records the outcome either way.
	DryRun    bool
	Submitter domain.Submitter

	// Body carries the JSON entity batch for create and update roles.
	Body []byte

	// IDs lists the node ids to delete; Cascade extends deletion to
	// dependent nodes instead of refusing.
	IDs     []string
	Cascade bool

	// TransactionID selects the dry-run log to close for the close role.
	TransactionID string
}

// ProjectID returns the composite project identifier for the request.
func (r Request) ProjectID() string { return domain.ProjectID(r.Program, r.Project) }

// Submit executes one transaction. The returned Result is the response
// document; a non-nil error is a fault (storage down, bad configuration),
// never a client-attributable failure.
func (e *Engine) Submit(ctx context.Context, req Request) (domain.Result, error) {
	start := e.now()
	var res domain.Result
	var err error
	switch req.Role {
	case domain.RoleCreate, domain.RoleUpdate:
		res, err = e.submitEntities(ctx, req)
	case domain.RoleDelete:
		res, err = e.deleteEntities(ctx, req)
	case domain.RoleReview, domain.RoleOpen, domain.RoleRelease:
		res, err = e.transitionProject(ctx, req)
	case domain.RoleClose:
		res, err = e.closeTransaction(ctx, req)
	default:
		return domain.Result{}, fmt.Errorf("unknown transaction role %q", req.Role)
	}

	state := domain.TxLogSucceeded
	switch {
	case err != nil:
		state = domain.TxLogErrored
	case !res.Success:
		state = domain.TxLogFailed
	}
	e.metrics.recordTransaction(req.Role, state, e.now().Sub(start))
	return res, err
}

// claimLog writes the PENDING audit record before any entity work begins.
func (e *Engine) claimLog(ctx context.Context, req Request) (string, error) {
	id := e.newID()
	log := domain.TransactionLog{
		ID:        id,
		Program:   req.Program,
		Project:   req.Project,
		Role:      req.Role,
		DryRun:    req.DryRun,
		Submitter: req.Submitter.Name,
		State:     domain.TxLogPending,
		Timestamp: e.now(),
	}
	if err := e.store.AppendTransactionLog(ctx, log); err != nil {
		return "", domain.Fatal("claim transaction log", err)
	}
	return id, nil
}

// finishLog moves the audit record to its terminal state and archives it.
// The response is already determined at this point, so failures here are
// logged rather than surfaced.
func (e *Engine) finishLog(ctx context.Context, id string, state domain.TxLogState,
	snaps []domain.NodeSnapshot, res *domain.Result,
) {
	err := e.store.UpdateTransactionLog(ctx, id, func(l *domain.TransactionLog) error {
		l.State = state
		l.Snapshots = snaps
		l.Response = res
		return nil
	})
	if err != nil {
		e.log.ErrorContext(ctx, "finish transaction log", "transaction_id", id, "error", err)
		return
	}
	if e.index == nil {
		return
	}
	log, ok, err := e.store.GetTransactionLog(ctx, id)
	if err != nil || !ok {
		e.log.ErrorContext(ctx, "reload transaction log for archive", "transaction_id", id, "error", err)
		return
	}
	if err := e.index.ArchiveLog(ctx, log); err != nil {
		e.log.WarnContext(ctx, "archive transaction log", "transaction_id", id, "error", err)
	}
}

func rollback(ctx context.Context, tx domain.Tx) {
	_ = tx.Rollback(ctx)
}
