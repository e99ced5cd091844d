package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

//go:generate mockgen -source=notifier.go -destination=mocks/mock_notifier.go -package=mocks

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type Data struct {
	URL string `json:"url"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	Sound     string    `json:"sound,omitempty"`
	Vibrate   []int     `json:"vibrate"`
	Data      Data      `json:"data"`
	Actions   []Action  `json:"actions"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier is the platform surface that displays notifications.
type Notifier interface {
	Permission(ctx context.Context) Permission
	Show(ctx context.Context, n *Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	permission Permission
}

func NewLogNotifier(permission Permission) *LogNotifier {
	return &LogNotifier{permission: permission}
}

func (l *LogNotifier) Permission(context.Context) Permission {
	return l.permission
}

func (l *LogNotifier) Show(_ context.Context, n *Notification) error {
	slog.Info("notification shown", "id", n.ID, "title", n.Title, "body", n.Body, "url", n.Data.URL)
	return nil
}

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

func DecodePush(raw []byte) (PushPayload, error) {
	var p PushPayload
	if len(raw) == 0 {
		return p, fmt.Errorf("empty push payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to decode push payload: %w", err)
	}
	return p, nil
}
