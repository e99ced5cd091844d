package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/icon-72x72.png"
	DefaultSound = "/sounds/notification.mp3"
	DefaultURL   = "/"
)

var defaultVibrate = []int{100, 50, 100}

var errWindowClosed = errors.New("window is closed")

// Bridge turns push messages into notifications and routes clicks back to
// an application window.
type Bridge struct {
	notifier Notifier
	windows  WindowClients
	now      func() time.Time
}

func NewBridge(notifier Notifier, windows WindowClients) *Bridge {
	return &Bridge{notifier: notifier, windows: windows, now: time.Now}
}

func (b *Bridge) build(title, body, url string, actions []Action) *Notification {
	if url == "" {
		url = DefaultURL
	}
	if actions == nil {
		actions = []Action{}
	}
	return &Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Icon:      DefaultIcon,
		Badge:     DefaultBadge,
		Vibrate:   append([]int(nil), defaultVibrate...),
		Data:      Data{URL: url},
		Actions:   actions,
		CreatedAt: b.now().UTC(),
	}
}

// HandlePush shows the notification for an incoming push message. It
// returns nil without error when permission is not granted.
func (b *Bridge) HandlePush(ctx context.Context, p PushPayload) (*Notification, error) {
	n := b.build(p.Title, p.Body, p.URL, p.Actions)
	if err := b.show(ctx, n); err != nil {
		if errors.Is(err, pkgerrors.ErrPermissionDenied) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

func (b *Bridge) show(ctx context.Context, n *Notification) error {
	if perm := b.notifier.Permission(ctx); perm != PermissionGranted {
		observability.Notifications.WithLabelValues("denied").Inc()
		slog.Debug("notification skipped", "title", n.Title, "permission", perm, "error", pkgerrors.ErrPermissionDenied)
		return pkgerrors.ErrPermissionDenied
	}
	if err := b.notifier.Show(ctx, n); err != nil {
		observability.Notifications.WithLabelValues("failed").Inc()
		slog.Error("failed to show notification", "title", n.Title, "error", err)
		return fmt.Errorf("failed to show notification: %w", err)
	}
	observability.Notifications.WithLabelValues("shown").Inc()
	return nil
}

// HandleClick focuses an open window already at the notification URL, or
// opens a new one.
func (b *Bridge) HandleClick(ctx context.Context, n *Notification) (Window, error) {
	url := n.Data.URL
	if url == "" {
		url = DefaultURL
	}

	windows, err := b.windows.Windows(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("failed to list windows: %w", err)
	}
	for _, w := range windows {
		if w.URL != url {
			continue
		}
		focused, err := b.windows.Focus(ctx, w.ID)
		if err == nil {
			return focused, nil
		}
		slog.Warn("failed to focus window", "window_id", w.ID, "error", err)
	}

	opened, err := b.windows.Open(ctx, url)
	if err != nil {
		return Window{}, fmt.Errorf("failed to open window: %w", err)
	}
	slog.Info("window opened from notification", "window_id", opened.ID, "url", url)
	return opened, nil
}
