package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/syncengine"
)

type Syncer interface {
	TriggerAsync(ctx context.Context, reason syncengine.Reason, feature models.Feature) bool
}

type Registrar interface {
	Register(ctx context.Context, tag string) error
}

type Prober interface {
	Probe(ctx context.Context) bool
}

// Observer holds the online flag the rest of the app reads. Transitions are
// serialized with their side effects, so an offline→online edge fires exactly
// once and change events arrive in the order the flag changed.
type Observer struct {
	transition sync.Mutex
	mu         sync.RWMutex
	online     bool
	syncer     Syncer
	registrar  Registrar
	bus        *events.Dispatcher[events.ConnectivityChanged]
	now        func() time.Time
}

func NewObserver(initial bool, syncer Syncer, registrar Registrar, bus *events.Dispatcher[events.ConnectivityChanged]) *Observer {
	return &Observer{
		online:    initial,
		syncer:    syncer,
		registrar: registrar,
		bus:       bus,
		now:       time.Now,
	}
}

// SetSyncer attaches the engine after construction; the engine's queue
// reads this observer, so the two cannot be built in one step.
func (o *Observer) SetSyncer(s Syncer) {
	o.mu.Lock()
	o.syncer = s
	o.mu.Unlock()
}

func (o *Observer) Online() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.online
}

// Set applies a platform online/offline signal. Repeated signals with the
// same value are ignored.
func (o *Observer) Set(ctx context.Context, online bool) {
	o.transition.Lock()
	defer o.transition.Unlock()

	o.mu.Lock()
	if o.online == online {
		o.mu.Unlock()
		return
	}
	o.online = online
	syncer := o.syncer
	o.mu.Unlock()

	if online {
		slog.Info("connection restored")
	} else {
		slog.Warn("connection lost, working offline")
	}

	if o.bus != nil {
		if err := o.bus.Publish(ctx, events.ConnectivityChanged{Online: online, At: o.now()}); err != nil {
			slog.Error("failed to publish connectivity change", "online", online, "error", err)
		}
	}
	if !online {
		return
	}

	if syncer != nil {
		syncer.TriggerAsync(ctx, syncengine.ReasonOnline, models.FeatureUnknown)
	}
	if o.registrar == nil {
		return
	}
	for _, f := range []models.Feature{models.FeatureTransactions, models.FeatureReminders} {
		if err := o.registrar.Register(ctx, f.SyncTag()); err != nil {
			slog.Error("background sync could not be registered", "tag", f.SyncTag(), "error", err)
		}
	}
}

// Watch probes on every interval tick, starting immediately, until ctx ends.
func (o *Observer) Watch(ctx context.Context, prober Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.Set(ctx, prober.Probe(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HTTPProber treats any HTTP answer as online; only a transport failure
// means offline.
type HTTPProber struct {
	client *http.Client
	url    string
}

func NewHTTPProber(client *http.Client, url string) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProber{client: client, url: url}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Error("failed to build probe request", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("probe failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}
