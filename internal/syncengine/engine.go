package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/queue"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type State int32

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

type Reason string

const (
	ReasonOnline         Reason = "online"
	ReasonBackgroundSync Reason = "background-sync"
	ReasonManual         Reason = "manual"
)

type Drainer interface {
	Drain(ctx context.Context, feature models.Feature) (queue.DrainReport, error)
}

// Broadcaster delivers SyncComplete to every open UI surface.
type Broadcaster interface {
	Broadcast(ctx context.Context, event events.SyncComplete) error
}

// Engine owns the Idle/Draining state. At most one pass runs at a time even
// though the UI connectivity hook and background-sync wake-ups may both fire.
type Engine struct {
	drainer     Drainer
	broadcaster Broadcaster
	state       atomic.Int32
	wg          sync.WaitGroup
}

func New(drainer Drainer, broadcaster Broadcaster) *Engine {
	return &Engine{drainer: drainer, broadcaster: broadcaster}
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Trigger runs one drain pass in the caller's goroutine. It returns false
// when a pass is already in flight; the running pass covers the trigger.
func (e *Engine) Trigger(ctx context.Context, reason Reason, feature models.Feature) (bool, error) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Draining)) {
		observability.SyncDrains.WithLabelValues(string(reason), "coalesced").Inc()
		slog.Debug("sync already in progress", "reason", reason, "feature", feature)
		return false, nil
	}
	defer e.state.Store(int32(Idle))
	return true, e.pass(ctx, reason, feature)
}

// TriggerAsync starts a pass in the background and reports whether it did.
func (e *Engine) TriggerAsync(ctx context.Context, reason Reason, feature models.Feature) bool {
	if !e.state.CompareAndSwap(int32(Idle), int32(Draining)) {
		observability.SyncDrains.WithLabelValues(string(reason), "coalesced").Inc()
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.state.Store(int32(Idle))
		e.pass(ctx, reason, feature)
	}()
	return true
}

// Wait blocks until background passes started by TriggerAsync have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) pass(ctx context.Context, reason Reason, feature models.Feature) error {
	tracer := otel.Tracer("sync-engine")
	// проход не прерывается отменой вызывающего
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "Drain")
	defer span.End()
	span.SetAttributes(attribute.String("reason", string(reason)), attribute.String("feature", string(feature)))

	slog.Info("sync started", "reason", reason, "feature", feature)
	report, err := e.drainer.Drain(ctx, feature)
	if errors.Is(err, pkgerrors.ErrDrainInProgress) {
		// проход другого процесса покрывает этот триггер
		observability.SyncDrains.WithLabelValues(string(reason), "coalesced").Inc()
		slog.Info("sync covered by another process", "reason", reason, "feature", feature)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		observability.SyncDrains.WithLabelValues(string(reason), "failed").Inc()
		slog.Error("failed to drain pending operations", "reason", reason, "error", err)
		return err
	}
	observability.SyncDrains.WithLabelValues(string(reason), "completed").Inc()
	slog.Info("sync finished",
		"reason", reason,
		"attempted", report.Attempted,
		"synced", report.Synced,
		"retained", report.Retained)

	features := make([]models.Feature, 0, len(report.Features))
	for f := range report.Features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

	for _, f := range features {
		counts := report.Features[f]
		if f == models.FeatureUnknown || counts.Synced == 0 {
			continue
		}
		if e.broadcaster == nil {
			continue
		}
		if err := e.broadcaster.Broadcast(ctx, events.SyncComplete{Feature: f, Synced: counts.Synced}); err != nil {
			slog.Error("failed to broadcast sync completion", "feature", f, "error", err)
		}
	}
	return nil
}

// Run consumes background-sync wake-ups until ctx ends. Unknown tags are
// ignored.
func (e *Engine) Run(ctx context.Context, wakeups <-chan events.BackgroundSync) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-wakeups:
			if !ok {
				return
			}
			feature := models.FeatureForTag(w.Tag)
			if feature == models.FeatureUnknown {
				slog.Warn("unknown background sync tag", "tag", w.Tag)
				continue
			}
			if _, err := e.Trigger(ctx, ReasonBackgroundSync, feature); err != nil {
				slog.Error("background sync failed", "tag", w.Tag, "error", err)
			}
		}
	}
}

// EventBroadcaster publishes completions on an in-process dispatcher.
type EventBroadcaster struct {
	bus *events.Dispatcher[events.SyncComplete]
}

func NewEventBroadcaster(bus *events.Dispatcher[events.SyncComplete]) *EventBroadcaster {
	return &EventBroadcaster{bus: bus}
}

func (b *EventBroadcaster) Broadcast(ctx context.Context, event events.SyncComplete) error {
	return b.bus.Publish(ctx, event)
}

// MultiBroadcaster fans out to several broadcasters and returns the first error.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(ctx context.Context, event events.SyncComplete) error {
	var first error
	for _, b := range m {
		if err := b.Broadcast(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
