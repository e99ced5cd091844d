package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	ReminderTitle = "Payment reminder"
	RemindersURL  = "/reminders"
)

type ReminderSource interface {
	RemindersByStatus(ctx context.Context, status models.ReminderStatus) ([]models.Reminder, error)
}

// DueWatcher raises one summary notification for pending reminders that are
// overdue or due today. A reminder is announced at most once per watcher.
type DueWatcher struct {
	bridge *Bridge
	now    func() time.Time
	loc    *time.Location

	mu       sync.Mutex
	notified map[int64]bool
}

type WatcherOption func(*DueWatcher)

func WithClock(now func() time.Time) WatcherOption {
	return func(w *DueWatcher) { w.now = now }
}

func NewDueWatcher(bridge *Bridge, loc *time.Location, opts ...WatcherOption) *DueWatcher {
	if loc == nil {
		loc = time.Local
	}
	w := &DueWatcher{
		bridge:   bridge,
		now:      time.Now,
		loc:      loc,
		notified: make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Due selects pending reminders past their due time or due on today's date.
func Due(reminders []models.Reminder, now time.Time) []models.Reminder {
	y, m, d := now.Date()
	var due []models.Reminder
	for _, r := range reminders {
		if r.Status != models.StatusPending {
			continue
		}
		dy, dm, dd := r.DueDate.In(now.Location()).Date()
		if now.After(r.DueDate) || (dy == y && dm == m && dd == d) {
			due = append(due, r)
		}
	}
	return due
}

// Check notifies about reminders not announced yet and returns them. The
// ids are remembered even when permission is denied.
func (w *DueWatcher) Check(ctx context.Context, reminders []models.Reminder) ([]models.Reminder, error) {
	due := Due(reminders, w.now().In(w.loc))

	w.mu.Lock()
	var fresh []models.Reminder
	for _, r := range due {
		if w.notified[r.ID] {
			continue
		}
		w.notified[r.ID] = true
		fresh = append(fresh, r)
	}
	w.mu.Unlock()

	if len(fresh) == 0 {
		return nil, nil
	}

	total := decimal.Zero
	for _, r := range fresh {
		total = total.Add(r.Amount)
	}
	n := w.bridge.build(ReminderTitle,
		fmt.Sprintf("You have %d pending payments, total ₹%s", len(fresh), total.String()),
		RemindersURL, nil)
	n.Sound = DefaultSound

	if err := w.bridge.show(ctx, n); err != nil {
		if errors.Is(err, pkgerrors.ErrPermissionDenied) {
			return fresh, nil
		}
		return fresh, err
	}
	slog.Info("reminder notification sent", "count", len(fresh), "total", total.String())
	return fresh, nil
}

// Poll reads pending reminders from source and checks them once.
func (w *DueWatcher) Poll(ctx context.Context, source ReminderSource) ([]models.Reminder, error) {
	reminders, err := source.RemindersByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load reminders: %w", err)
	}
	return w.Check(ctx, reminders)
}

// Run re-reads pending reminders from source on every tick until ctx ends.
func (w *DueWatcher) Run(ctx context.Context, source ReminderSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx, source); err != nil {
			slog.Error("failed to check due reminders", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
