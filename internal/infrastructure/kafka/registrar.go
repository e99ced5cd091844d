package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/honeynil/paisa-tracker/internal/events"
)

// SyncRegistrar schedules a background-sync wake-up by publishing its tag.
// The message outlives the app process; the worker picks it up later.
type SyncRegistrar struct {
	producer KafkaProducer
}

func NewSyncRegistrar(producer KafkaProducer) *SyncRegistrar {
	return &SyncRegistrar{producer: producer}
}

func (r *SyncRegistrar) Register(ctx context.Context, tag string) error {
	if tag == "" {
		return fmt.Errorf("empty sync tag")
	}
	raw, err := json.Marshal(events.BackgroundSync{Tag: tag})
	if err != nil {
		return fmt.Errorf("failed to encode sync tag: %w", err)
	}
	// ключ = тег, чтобы пробуждения одного тега шли по порядку
	if err := r.producer.Send(ctx, BackgroundSyncTopic, tag, raw); err != nil {
		return fmt.Errorf("failed to register background sync %s: %w", tag, err)
	}
	return nil
}
