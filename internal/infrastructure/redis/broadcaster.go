package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/honeynil/paisa-tracker/internal/events"
)

const SyncCompleteChannel = "sync-complete"

// SyncBroadcaster carries SyncComplete from the worker to app processes.
type SyncBroadcaster struct {
	client  RedisClient
	channel string
}

func NewSyncBroadcaster(client RedisClient) *SyncBroadcaster {
	return &SyncBroadcaster{client: client, channel: SyncCompleteChannel}
}

func (b *SyncBroadcaster) Broadcast(ctx context.Context, event events.SyncComplete) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode sync-complete: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, string(raw)); err != nil {
		slog.Error("failed to publish sync-complete", "feature", event.Feature, "error", err)
		return fmt.Errorf("failed to publish sync-complete: %w", err)
	}
	return nil
}

// Relay republishes remote SyncComplete messages on bus until ctx ends.
func (b *SyncBroadcaster) Relay(ctx context.Context, bus *events.Dispatcher[events.SyncComplete]) {
	msgs, closeSub := b.client.Subscribe(ctx, b.channel)
	defer closeSub()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			var ev events.SyncComplete
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				slog.Warn("invalid sync-complete message", "payload", payload, "error", err)
				continue
			}
			if err := bus.Publish(ctx, ev); err != nil {
				return
			}
			slog.Debug("sync-complete relayed", "feature", ev.Feature, "synced", ev.Synced)
		}
	}
}
