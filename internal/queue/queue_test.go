package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flag struct{ online atomic.Bool }

func (f *flag) Online() bool { return f.online.Load() }

type registrar struct {
	mu   sync.Mutex
	tags []string
}

func (r *registrar) Register(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return nil
}

type recorded struct {
	method string
	path   string
	body   string
}

type api struct {
	mu       sync.Mutex
	requests []recorded
	status   func(path string) int
}

func (a *api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.requests = append(a.requests, recorded{r.Method, r.URL.Path, string(body)})
	a.mu.Unlock()
	code := http.StatusCreated
	if a.status != nil {
		code = a.status(r.URL.Path)
	}
	w.WriteHeader(code)
}

func (a *api) paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.requests {
		out = append(out, r.method+" "+r.path)
	}
	return out
}

func setup(t *testing.T, a *api) (*Queue, *flag, *registrar, *localstore.Repository) {
	t.Helper()
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)

	store := localstore.NewMemoryStore()
	require.NoError(t, store.Initialize(context.Background()))
	repo := localstore.NewRepository(store)
	conn := &flag{}
	reg := &registrar{}
	q := New(repo, conn, srv.Client(), srv.URL, WithRegistrar(reg))
	return q, conn, reg, repo
}

func TestEnqueue_RefusedWhileOnline(t *testing.T) {
	q, conn, reg, _ := setup(t, &api{})
	conn.online.Store(true)

	op, err := q.Enqueue(context.Background(), "/api/transactions", http.MethodPost, map[string]string{"to": "Ravi"})
	assert.ErrorIs(t, err, pkgerrors.ErrQueueOnline)
	assert.Nil(t, op)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Empty(t, reg.tags)
}

func TestEnqueue_SnapshotsBodyAndRegistersTag(t *testing.T) {
	q, _, reg, _ := setup(t, &api{})
	ctx := context.Background()

	body := map[string]any{"type": "give", "amount": "500", "to": "Ravi"}
	op, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, body)
	require.NoError(t, err)
	body["to"] = "changed"

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
	assert.JSONEq(t, `{"type":"give","amount":"500","to":"Ravi"}`, string(pending[0].Body))
	assert.Equal(t, []string{"sync-transactions"}, reg.tags)

	_, err = q.Enqueue(ctx, "/api/reminders/3/status", http.MethodPatch, json.RawMessage(`{"status":"completed"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"sync-transactions", "sync-reminders"}, reg.tags)
}

func TestEnqueue_IDsStayOrderedOnClockTies(t *testing.T) {
	a := &api{}
	q, _, _, _ := setup(t, a)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		op, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]int{"n": i})
		require.NoError(t, err)
		ids = append(ids, op.ID)
	}
	assert.Equal(t, ids[0]+1, ids[1])
	assert.Equal(t, ids[1]+1, ids[2])
}

func TestDrain_ReplaysInOrderAndEmptiesQueue(t *testing.T) {
	a := &api{}
	q, conn, _, _ := setup(t, a)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "A"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "/api/reminders", http.MethodPost, map[string]string{"title": "B"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "C"})
	require.NoError(t, err)

	conn.online.Store(true)
	report, err := q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, 2, report.Features[models.FeatureTransactions].Synced)
	assert.Equal(t, 1, report.Features[models.FeatureReminders].Synced)
	assert.Equal(t, []string{
		"POST /api/transactions",
		"POST /api/reminders",
		"POST /api/transactions",
	}, a.paths())
	assert.Equal(t, `{"to":"A"}`, a.requests[0].body)

	// второй проход ничего не отправляет
	report, err = q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Len(t, a.paths(), 3)
}

func TestDrain_KeepsFailedEntries(t *testing.T) {
	a := &api{status: func(path string) int {
		if path == "/api/reminders" {
			return http.StatusInternalServerError
		}
		return http.StatusCreated
	}}
	q, conn, _, _ := setup(t, a)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "/api/reminders", http.MethodPost, map[string]string{"title": "rent"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "A"})
	require.NoError(t, err)

	conn.online.Store(true)
	report, err := q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Retained)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "/api/reminders", pending[0].URL)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "status 500")
	assert.NotNil(t, pending[0].LastAttemptAt)

	_, err = q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	stuck, err := q.Stuck(ctx, 2)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, 2, stuck[0].Attempts)
}

func TestDrain_NetworkFailureRetainsEverything(t *testing.T) {
	a := &api{}
	q, _, _, _ := setup(t, a)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "A"})
	require.NoError(t, err)
	q.baseURL = "http://127.0.0.1:1"

	report, err := q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retained)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, pkgerrors.ErrNetworkUnreachable.Error())
}

func TestDrain_FeatureFilter(t *testing.T) {
	a := &api{}
	q, _, _, _ := setup(t, a)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "A"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "/api/reminders", http.MethodPost, map[string]string{"title": "B"})
	require.NoError(t, err)

	report, err := q.Drain(ctx, models.FeatureReminders)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, []string{"POST /api/reminders"}, a.paths())

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestDrain_StorageUnavailable(t *testing.T) {
	a := &api{}
	q, _, _, repo := setup(t, a)
	repo.Store().(*localstore.MemoryStore).Fail(pkgerrors.ErrStorageUnavailable)

	_, err := q.Drain(context.Background(), models.FeatureUnknown)
	assert.ErrorIs(t, err, pkgerrors.ErrStorageUnavailable)
	assert.Empty(t, a.paths())
}

func TestDrain_LeaseHeldElsewhere(t *testing.T) {
	a := &api{}
	q, _, _, repo := setup(t, a)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "Ravi"})
	require.NoError(t, err)

	ok, err := repo.AcquireDrainLease(ctx, "other-process", time.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = q.Drain(ctx, models.FeatureUnknown)
	assert.ErrorIs(t, err, pkgerrors.ErrDrainInProgress)
	assert.Empty(t, a.paths())

	require.NoError(t, repo.ReleaseDrainLease(ctx, "other-process"))
	report, err := q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, []string{"POST /api/transactions"}, a.paths())
}

func TestDrain_ExpiredLeaseIsTakenOver(t *testing.T) {
	a := &api{}
	q, _, _, repo := setup(t, a)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "/api/reminders", http.MethodPost, map[string]string{"fromPerson": "Ravi"})
	require.NoError(t, err)

	ok, err := repo.AcquireDrainLease(ctx, "crashed-process", time.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := q.Drain(ctx, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
}
