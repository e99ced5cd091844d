package localstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

// Repository gives typed access to the collections of a Store. It holds an
// explicit store handle; nothing here is process-global.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Store() Store {
	return r.store
}

func (r *Repository) AddTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	id, err := r.store.Put(ctx, Transactions, Record{
		Key:     tx.ID,
		Value:   value,
		Indexes: map[Index]string{ByDate: DateKey(tx.Date)},
	})
	if err != nil {
		return err
	}
	tx.ID = id
	slog.Debug("transaction stored locally", "id", id, "type", tx.Type)
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	rec, err := r.store.Get(ctx, Transactions, id)
	if stderrors.Is(err, pkgerrors.ErrNotFound) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTransaction(rec)
}

// ListTransactions returns all local transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	recs, err := r.store.GetAllByIndex(ctx, Transactions, ByDate, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		tx, err := decodeTransaction(recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id int64) error {
	return r.store.Delete(ctx, Transactions, id)
}

func (r *Repository) AddReminder(ctx context.Context, rem *models.Reminder) error {
	if rem == nil {
		return pkgerrors.ErrNilReminder
	}
	if rem.Status == "" {
		rem.Status = models.StatusPending
	}
	id, err := r.putReminder(ctx, rem)
	if err != nil {
		return err
	}
	rem.ID = id
	return nil
}

func (r *Repository) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	rec, err := r.store.Get(ctx, Reminders, id)
	if stderrors.Is(err, pkgerrors.ErrNotFound) {
		return nil, pkgerrors.ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReminder(rec)
}

// ListReminders returns all local reminders ordered by due date.
func (r *Repository) ListReminders(ctx context.Context) ([]models.Reminder, error) {
	recs, err := r.store.GetAllByIndex(ctx, Reminders, ByDate, "")
	if err != nil {
		return nil, err
	}
	return decodeReminders(recs)
}

func (r *Repository) RemindersByStatus(ctx context.Context, status models.ReminderStatus) ([]models.Reminder, error) {
	recs, err := r.store.GetAllByIndex(ctx, Reminders, ByStatus, string(status))
	if err != nil {
		return nil, err
	}
	return decodeReminders(recs)
}

func (r *Repository) UpdateReminderStatus(ctx context.Context, id int64, status models.ReminderStatus, rescheduledDate *time.Time) (*models.Reminder, error) {
	rem, err := r.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rem.Transition(status, rescheduledDate); err != nil {
		return nil, err
	}
	if _, err := r.putReminder(ctx, rem); err != nil {
		return nil, err
	}
	return rem, nil
}

func (r *Repository) putReminder(ctx context.Context, rem *models.Reminder) (int64, error) {
	value, err := json.Marshal(rem)
	if err != nil {
		return 0, fmt.Errorf("failed to encode reminder: %w", err)
	}
	return r.store.Put(ctx, Reminders, Record{
		Key:   rem.ID,
		Value: value,
		Indexes: map[Index]string{
			ByDate:   DateKey(rem.DueDate),
			ByStatus: string(rem.Status),
		},
	})
}

// SaveUser overwrites the current-user slot; nil records a logged-out state.
func (r *Repository) SaveUser(ctx context.Context, u *models.User) error {
	value, err := json.Marshal(models.NewCachedUser(u))
	if err != nil {
		return fmt.Errorf("failed to encode cached user: %w", err)
	}
	_, err = r.store.Put(ctx, User, Record{Key: CurrentUserKey, Value: value})
	return err
}

// CurrentUser returns the cached slot, or an unauthenticated value when the
// slot was never written.
func (r *Repository) CurrentUser(ctx context.Context) (models.CachedUser, error) {
	rec, err := r.store.Get(ctx, User, CurrentUserKey)
	if stderrors.Is(err, pkgerrors.ErrNotFound) {
		return models.NewCachedUser(nil), nil
	}
	if err != nil {
		return models.CachedUser{}, err
	}
	var cu models.CachedUser
	if err := json.Unmarshal(rec.Value, &cu); err != nil {
		return models.CachedUser{}, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return models.NewCachedUser(cu.UserData), nil
}

func (r *Repository) PutPendingOperation(ctx context.Context, op *models.PendingOperation) error {
	if op.ID == 0 {
		return pkgerrors.Invalid("pending operation requires an id")
	}
	value, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode pending operation: %w", err)
	}
	_, err = r.store.Put(ctx, PendingOperations, Record{Key: op.ID, Value: value})
	return err
}

// PendingOperations returns the queue in enqueue order, oldest first.
func (r *Repository) PendingOperations(ctx context.Context) ([]models.PendingOperation, error) {
	recs, err := r.store.GetAll(ctx, PendingOperations)
	if err != nil {
		return nil, err
	}
	ops := make([]models.PendingOperation, 0, len(recs))
	for _, rec := range recs {
		var op models.PendingOperation
		if err := json.Unmarshal(rec.Value, &op); err != nil {
			return nil, fmt.Errorf("failed to decode pending operation %d: %w", rec.Key, err)
		}
		op.ID = rec.Key
		ops = append(ops, op)
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops, nil
}

// DrainLease is the store-wide lease a queue drain holds while replaying.
const DrainLease = "pending-drain"

func (r *Repository) AcquireDrainLease(ctx context.Context, holder string, now time.Time, ttl time.Duration) (bool, error) {
	return r.store.AcquireLease(ctx, DrainLease, holder, now, now.Add(ttl))
}

func (r *Repository) ReleaseDrainLease(ctx context.Context, holder string) error {
	return r.store.ReleaseLease(ctx, DrainLease, holder)
}

func (r *Repository) DeletePendingOperation(ctx context.Context, id int64) error {
	return r.store.Delete(ctx, PendingOperations, id)
}

func decodeTransaction(rec Record) (*models.Transaction, error) {
	var tx models.Transaction
	if err := json.Unmarshal(rec.Value, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction %d: %w", rec.Key, err)
	}
	tx.ID = rec.Key
	return &tx, nil
}

func decodeReminder(rec Record) (*models.Reminder, error) {
	var rem models.Reminder
	if err := json.Unmarshal(rec.Value, &rem); err != nil {
		return nil, fmt.Errorf("failed to decode reminder %d: %w", rec.Key, err)
	}
	rem.ID = rec.Key
	return &rem, nil
}

func decodeReminders(recs []Record) ([]models.Reminder, error) {
	out := make([]models.Reminder, 0, len(recs))
	for _, rec := range recs {
		rem, err := decodeReminder(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *rem)
	}
	return out, nil
}
