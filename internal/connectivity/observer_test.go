package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncer struct{ calls atomic.Int32 }

func (s *syncer) TriggerAsync(_ context.Context, reason syncengine.Reason, _ models.Feature) bool {
	s.calls.Add(1)
	return reason == syncengine.ReasonOnline
}

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

type staticProber struct{ online atomic.Bool }

func (p *staticProber) Probe(context.Context) bool { return p.online.Load() }

func TestSet_OnlineEdgeTriggersSyncOnce(t *testing.T) {
	s, r := &syncer{}, &registrar{}
	bus := events.NewDispatcher[events.ConnectivityChanged]()
	ch, cancel := bus.Subscribe()
	defer cancel()
	o := NewObserver(false, s, r, bus)
	ctx := context.Background()

	o.Set(ctx, true)
	o.Set(ctx, true)
	assert.True(t, o.Online())
	assert.Equal(t, int32(1), s.calls.Load())
	assert.Equal(t, []string{"sync-transactions", "sync-reminders"}, r.tags)

	o.Set(ctx, false)
	assert.False(t, o.Online())
	assert.Equal(t, int32(1), s.calls.Load())

	first, second := <-ch, <-ch
	assert.True(t, first.Online)
	assert.False(t, second.Online)
}

func TestWatch_FollowsProbe(t *testing.T) {
	s := &syncer{}
	o := NewObserver(false, s, nil, nil)
	p := &staticProber{}
	p.online.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Watch(ctx, p, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, o.Online, time.Second, 5*time.Millisecond)
	p.online.Store(false)
	require.Eventually(t, func() bool { return !o.Online() }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	p := NewHTTPProber(srv.Client(), srv.URL)
	// любой HTTP-ответ, даже 500, означает что сеть есть
	assert.True(t, p.Probe(context.Background()))

	srv.Close()
	assert.False(t, p.Probe(context.Background()))
}

func TestSetSyncer_AttachedAfterConstruction(t *testing.T) {
	o := NewObserver(false, nil, nil, nil)
	ctx := context.Background()

	o.Set(ctx, true)
	o.Set(ctx, false)

	s := &syncer{}
	o.SetSyncer(s)
	o.Set(ctx, true)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestSet_ConcurrentFlipsPublishInOrder(t *testing.T) {
	bus := events.NewDispatcher[events.ConnectivityChanged]()
	ch, cancel := bus.Subscribe()
	o := NewObserver(false, &syncer{}, nil, bus)
	ctx := context.Background()

	var got []bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			got = append(got, ev.Online)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); o.Set(ctx, true) }()
		go func() { defer wg.Done(); o.Set(ctx, false) }()
	}
	wg.Wait()
	cancel()
	<-done

	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i], "event %d repeats the previous state", i)
	}
	assert.True(t, got[0])
	assert.Equal(t, o.Online(), got[len(got)-1])
}
