package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Connectivity reports the device's current online flag.
type Connectivity interface {
	Online() bool
}

// Registrar asks the platform scheduler to wake a tagged sync later, even if
// this process is gone by then.
type Registrar interface {
	Register(ctx context.Context, tag string) error
}

// DrainLeaseTTL bounds how long a crashed drainer can block the others.
const DrainLeaseTTL = 2 * time.Minute

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Queue struct {
	repo      *localstore.Repository
	conn      Connectivity
	client    Doer
	baseURL   string
	registrar Registrar
	now       func() time.Time
	holder    string

	mu     sync.Mutex
	lastID int64
	seeded bool
}

type Option func(*Queue)

func WithRegistrar(r Registrar) Option {
	return func(q *Queue) { q.registrar = r }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(repo *localstore.Repository, conn Connectivity, client Doer, baseURL string, opts ...Option) *Queue {
	q := &Queue{
		repo:    repo,
		conn:    conn,
		client:  client,
		baseURL: baseURL,
		now:     time.Now,
		holder:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records a mutation that failed while offline. It refuses with
// ErrQueueOnline when the device is online: failures seen while online are
// not attributable to connectivity and must not be replayed blindly.
func (q *Queue) Enqueue(ctx context.Context, path, method string, body any) (*models.PendingOperation, error) {
	tracer := otel.Tracer("pending-queue")
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("path", path), attribute.String("method", method))

	if q.conn.Online() {
		slog.Debug("skipping queue while online", "path", path, "method", method)
		return nil, pkgerrors.ErrQueueOnline
	}

	snapshot, err := snapshotBody(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	id, err := q.nextID(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to allocate id")
		return nil, err
	}
	op := &models.PendingOperation{
		ID:        id,
		URL:       path,
		Method:    method,
		Body:      snapshot,
		Timestamp: time.Unix(0, id).UTC(),
	}
	if err := q.repo.PutPendingOperation(ctx, op); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist pending operation")
		slog.Error("failed to enqueue operation", "path", path, "method", method, "error", err)
		return nil, err
	}
	slog.Info("operation queued for sync", "id", op.ID, "path", path, "method", method)
	q.refreshDepth(ctx)

	if tag := op.Feature().SyncTag(); tag != "" && q.registrar != nil {
		if err := q.registrar.Register(ctx, tag); err != nil {
			slog.Error("background sync could not be registered", "tag", tag, "error", err)
		}
	}
	return op, nil
}

// nextID derives the id from the current time, bumped past the last id so
// enqueue order survives clock ties.
func (q *Queue) nextID(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.seeded {
		ops, err := q.repo.PendingOperations(ctx)
		if err != nil {
			return 0, err
		}
		if n := len(ops); n > 0 {
			q.lastID = ops[n-1].ID
		}
		q.seeded = true
	}

	id := q.now().UnixNano()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id
	return id, nil
}

func snapshotBody(body any) (json.RawMessage, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), b...), nil
	case []byte:
		return append(json.RawMessage(nil), b...), nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot request body: %w", err)
	}
	return raw, nil
}

type FeatureCounts struct {
	Attempted int
	Synced    int
	Retained  int
}

// DrainReport summarizes one pass. It is consumed by the sync engine only;
// callers of the optimistic write path never see replay outcomes.
type DrainReport struct {
	Attempted int
	Synced    int
	Retained  int
	Features  map[models.Feature]FeatureCounts
}

func (r *DrainReport) add(f models.Feature, synced bool) {
	if r.Features == nil {
		r.Features = make(map[models.Feature]FeatureCounts)
	}
	fc := r.Features[f]
	fc.Attempted++
	r.Attempted++
	if synced {
		fc.Synced++
		r.Synced++
	} else {
		fc.Retained++
		r.Retained++
	}
	r.Features[f] = fc
}

// Drain is one best-effort FIFO pass over a snapshot of the queue. FeatureUnknown
// drains everything; otherwise only that feature's entries are replayed.
// The pass holds the store's drain lease, so queues in other processes sharing
// the store wait their turn; a held lease yields ErrDrainInProgress.
func (q *Queue) Drain(ctx context.Context, feature models.Feature) (DrainReport, error) {
	tracer := otel.Tracer("pending-queue")
	ctx, span := tracer.Start(ctx, "Drain")
	defer span.End()

	var report DrainReport
	acquired, err := q.repo.AcquireDrainLease(ctx, q.holder, q.now(), DrainLeaseTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire drain lease")
		slog.Error("failed to acquire drain lease", "holder", q.holder, "error", err)
		return report, err
	}
	if !acquired {
		slog.Debug("drain lease held elsewhere", "holder", q.holder)
		return report, pkgerrors.ErrDrainInProgress
	}
	defer func() {
		if err := q.repo.ReleaseDrainLease(context.WithoutCancel(ctx), q.holder); err != nil {
			slog.Error("failed to release drain lease", "holder", q.holder, "error", err)
		}
	}()

	ops, err := q.repo.PendingOperations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read queue")
		slog.Error("failed to read pending operations", "error", err)
		return report, err
	}

	for i := range ops {
		op := &ops[i]
		if feature != models.FeatureUnknown && op.Feature() != feature {
			continue
		}
		// продлеваем аренду; потеряли её - останавливаем проход
		if ok, err := q.repo.AcquireDrainLease(ctx, q.holder, q.now(), DrainLeaseTTL); err != nil || !ok {
			slog.Warn("drain lease lost, stopping pass", "holder", q.holder, "id", op.ID, "error", err)
			break
		}

		replayErr := q.replay(ctx, op)
		if replayErr == nil {
			if err := q.repo.DeletePendingOperation(ctx, op.ID); err != nil {
				// запись останется и будет отправлена повторно: доставка at-least-once
				slog.Error("failed to dequeue synced operation", "id", op.ID, "error", err)
			}
			observability.SyncReplays.WithLabelValues("success").Inc()
			slog.Info("synced pending operation", "id", op.ID, "path", op.URL, "method", op.Method)
			report.add(op.Feature(), true)
			continue
		}

		observability.SyncReplays.WithLabelValues("failed").Inc()
		slog.Error("failed to sync pending operation", "id", op.ID, "path", op.URL, "method", op.Method, "attempts", op.Attempts+1, "error", replayErr)
		at := q.now().UTC()
		op.Attempts++
		op.LastError = replayErr.Error()
		op.LastAttemptAt = &at
		if err := q.repo.PutPendingOperation(ctx, op); err != nil {
			slog.Error("failed to record replay attempt", "id", op.ID, "error", err)
		}
		report.add(op.Feature(), false)
	}

	span.SetAttributes(
		attribute.Int("attempted", report.Attempted),
		attribute.Int("synced", report.Synced),
		attribute.Int("retained", report.Retained),
	)
	q.refreshDepth(ctx)
	return report, nil
}

func (q *Queue) replay(ctx context.Context, op *models.PendingOperation) error {
	var body io.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, q.baseURL+op.URL, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", pkgerrors.ErrSyncReplayFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", pkgerrors.ErrSyncReplayFailed, pkgerrors.ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", pkgerrors.ErrSyncReplayFailed, resp.StatusCode)
	}
	return nil
}

// Pending lists every queued entry, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]models.PendingOperation, error) {
	return q.repo.PendingOperations(ctx)
}

func (q *Queue) Depth(ctx context.Context) (int, error) {
	ops, err := q.repo.PendingOperations(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Stuck lists entries that have failed replay at least minAttempts times.
// Entries are never discarded; this is the diagnostics view of them.
func (q *Queue) Stuck(ctx context.Context, minAttempts int) ([]models.PendingOperation, error) {
	ops, err := q.repo.PendingOperations(ctx)
	if err != nil {
		return nil, err
	}
	var stuck []models.PendingOperation
	for _, op := range ops {
		if op.Attempts >= minAttempts {
			stuck = append(stuck, op)
		}
	}
	return stuck, nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	depth, err := q.Depth(ctx)
	if err != nil {
		return
	}
	observability.PendingOperations.Set(float64(depth))
}
