package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/honeynil/paisa-tracker/internal/notify"
)

const NotificationsChannel = "notifications"

// Notifier publishes notifications for whatever surface renders them.
type Notifier struct {
	client     RedisClient
	permission notify.Permission
}

func NewNotifier(client RedisClient, permission notify.Permission) *Notifier {
	return &Notifier{client: client, permission: permission}
}

func (n *Notifier) Permission(context.Context) notify.Permission {
	return n.permission
}

func (n *Notifier) Show(ctx context.Context, note *notify.Notification) error {
	raw, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, NotificationsChannel, string(raw)); err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", note.ID, err)
	}
	return nil
}
