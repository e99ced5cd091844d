package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/queue"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingDrainer struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	report  queue.DrainReport
	err     error
}

func (d *blockingDrainer) Drain(ctx context.Context, feature models.Feature) (queue.DrainReport, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.release != nil {
		<-d.release
	}
	return d.report, d.err
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.SyncComplete
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, e events.SyncComplete) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func TestTrigger_CoalescesConcurrentTriggers(t *testing.T) {
	d := &blockingDrainer{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := New(d, nil)

	assert.True(t, e.TriggerAsync(context.Background(), ReasonOnline, models.FeatureUnknown))
	<-d.started
	assert.Equal(t, Draining, e.State())

	ran, err := e.Trigger(context.Background(), ReasonBackgroundSync, models.FeatureTransactions)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, e.TriggerAsync(context.Background(), ReasonManual, models.FeatureUnknown))

	close(d.release)
	e.Wait()
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 1, d.calls)

	d.started = nil
	ran, err = e.Trigger(context.Background(), ReasonManual, models.FeatureUnknown)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, d.calls)
}

func TestTrigger_BroadcastsOnlyFeaturesWithSuccesses(t *testing.T) {
	d := &blockingDrainer{report: queue.DrainReport{
		Attempted: 3,
		Synced:    2,
		Retained:  1,
		Features: map[models.Feature]queue.FeatureCounts{
			models.FeatureTransactions: {Attempted: 2, Synced: 2},
			models.FeatureReminders:    {Attempted: 1, Retained: 1},
		},
	}}
	b := &recordingBroadcaster{}
	e := New(d, b)

	ran, err := e.Trigger(context.Background(), ReasonOnline, models.FeatureUnknown)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []events.SyncComplete{{Feature: models.FeatureTransactions, Synced: 2}}, b.events)
}

func TestTrigger_EmptyQueueBroadcastsNothing(t *testing.T) {
	b := &recordingBroadcaster{}
	e := New(&blockingDrainer{}, b)

	_, err := e.Trigger(context.Background(), ReasonOnline, models.FeatureUnknown)
	require.NoError(t, err)
	assert.Empty(t, b.events)
}

func TestTrigger_StorageFailureReturnsToIdle(t *testing.T) {
	e := New(&blockingDrainer{err: pkgerrors.ErrStorageUnavailable}, nil)

	ran, err := e.Trigger(context.Background(), ReasonManual, models.FeatureUnknown)
	assert.True(t, ran)
	assert.ErrorIs(t, err, pkgerrors.ErrStorageUnavailable)
	assert.Equal(t, Idle, e.State())
}

func TestTrigger_CancelledCallerDoesNotAbortPass(t *testing.T) {
	d := &blockingDrainer{}
	e := New(d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran, err := e.Trigger(ctx, ReasonManual, models.FeatureUnknown)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, d.calls)
}

type offline struct{}

func (offline) Online() bool { return false }

func TestRun_BackgroundSyncDrainsTaggedFeature(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := localstore.NewMemoryStore()
	require.NoError(t, store.Initialize(context.Background()))
	q := queue.New(localstore.NewRepository(store), offline{}, srv.Client(), srv.URL)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "Ravi"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "/api/reminders", http.MethodPost, map[string]string{"title": "rent"})
	require.NoError(t, err)

	bus := events.NewDispatcher[events.SyncComplete]()
	done, cancelSub := bus.Subscribe()
	defer cancelSub()
	e := New(q, NewEventBroadcaster(bus))

	wakeups := make(chan events.BackgroundSync, 2)
	wakeups <- events.BackgroundSync{Tag: "sync-unknown"}
	wakeups <- events.BackgroundSync{Tag: "sync-reminders"}
	runCtx, stop := context.WithCancel(ctx)
	go e.Run(runCtx, wakeups)
	defer stop()

	select {
	case ev := <-done:
		assert.Equal(t, models.FeatureReminders, ev.Feature)
		assert.Equal(t, 1, ev.Synced)
	case <-time.After(2 * time.Second):
		t.Fatal("sync completion was not broadcast")
	}

	mu.Lock()
	assert.Equal(t, []string{"POST /api/reminders"}, seen)
	mu.Unlock()
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestMultiBroadcaster(t *testing.T) {
	a, b := &recordingBroadcaster{}, &recordingBroadcaster{}
	m := MultiBroadcaster{a, b}
	require.NoError(t, m.Broadcast(context.Background(), events.SyncComplete{Feature: models.FeatureReminders}))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestTrigger_EnginesSharingOneFileReplayOnce(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()
	appStore, workerStore := localstore.NewSQLiteStore(path), localstore.NewSQLiteStore(path)
	defer appStore.Close()
	defer workerStore.Close()
	require.NoError(t, appStore.Initialize(ctx))
	require.NoError(t, workerStore.Initialize(ctx))

	appQueue := queue.New(localstore.NewRepository(appStore), offline{}, srv.Client(), srv.URL)
	workerQueue := queue.New(localstore.NewRepository(workerStore), offline{}, srv.Client(), srv.URL)
	_, err := appQueue.Enqueue(ctx, "/api/transactions", http.MethodPost, map[string]string{"to": "Ravi"})
	require.NoError(t, err)

	app, worker := New(appQueue, nil), New(workerQueue, nil)
	var wg sync.WaitGroup
	for _, run := range []func(){
		func() { _, err := app.Trigger(ctx, ReasonOnline, models.FeatureUnknown); assert.NoError(t, err) },
		func() { _, err := worker.Trigger(ctx, ReasonBackgroundSync, models.FeatureTransactions); assert.NoError(t, err) },
		func() { _, err := worker.Trigger(ctx, ReasonOnline, models.FeatureUnknown); assert.NoError(t, err) },
	} {
		wg.Add(1)
		go func(run func()) {
			defer wg.Done()
			run()
		}(run)
	}
	wg.Wait()

	assert.Equal(t, int32(1), posts.Load())
	depth, err := workerQueue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestTrigger_LeaseHeldElsewhereIsCoalesced(t *testing.T) {
	b := &recordingBroadcaster{}
	e := New(&blockingDrainer{err: pkgerrors.ErrDrainInProgress}, b)

	ran, err := e.Trigger(context.Background(), ReasonOnline, models.FeatureUnknown)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, Idle, e.State())
	assert.Empty(t, b.events)
}
