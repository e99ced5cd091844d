package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/notify"
	"github.com/segmentio/kafka-go"
)

// Handler processes one message. A returned error is logged and the message
// is still committed; nothing here is worth redelivering forever.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader *kafka.Reader
	handle Handler
}

func NewConsumer(brokers []string, topic, groupID string, handle Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		handle: handle,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	topic := c.reader.Config().Topic
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("Kafka consumer stopped", "topic", topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", topic, "error", err)
			continue
		}

		slog.Debug("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)
		if err := c.handle(ctx, msg); err != nil {
			slog.Error("failed to handle Kafka message", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// BackgroundSyncHandler turns background-sync messages into wake-up events.
func BackgroundSyncHandler(bus *events.Dispatcher[events.BackgroundSync]) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev events.BackgroundSync
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("failed to decode background-sync message: %w", err)
		}
		if models.FeatureForTag(ev.Tag) == models.FeatureUnknown {
			return fmt.Errorf("unknown sync tag %q", ev.Tag)
		}
		return bus.Publish(ctx, ev)
	}
}

// PushHandler shows each push message through the notification bridge.
func PushHandler(bridge *notify.Bridge) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		payload, err := notify.DecodePush(msg.Value)
		if err != nil {
			return err
		}
		n, err := bridge.HandlePush(ctx, payload)
		if err != nil {
			return err
		}
		if n != nil {
			slog.Info("push notification shown", "id", n.ID, "title", n.Title)
		}
		return nil
	}
}
