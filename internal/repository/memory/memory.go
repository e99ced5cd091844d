// Package memory keeps server records in process memory. It backs the API
// when no POSTGRES_DSN is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

type TransactionRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]models.Transaction
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{nextID: 1, items: make(map[int64]models.Transaction)}
}

func (r *TransactionRepository) Create(_ context.Context, tx *models.Transaction) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.ErrNilTransaction
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = r.nextID
	r.nextID++
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	r.items[tx.ID] = *tx
	return tx.ID, nil
}

func (r *TransactionRepository) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.items[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *TransactionRepository) List(_ context.Context) ([]models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Transaction, 0, len(r.items))
	for _, tx := range r.items {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

// Delete is idempotent: removing an unknown id succeeds.
func (r *TransactionRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type ReminderRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]models.Reminder
}

func NewReminderRepository() *ReminderRepository {
	return &ReminderRepository{nextID: 1, items: make(map[int64]models.Reminder)}
}

func (r *ReminderRepository) Create(_ context.Context, rem *models.Reminder) (int64, error) {
	if rem == nil {
		return 0, pkgerrors.ErrNilReminder
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rem.ID = r.nextID
	r.nextID++
	if rem.Status == "" {
		rem.Status = models.StatusPending
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now().UTC()
	}
	r.items[rem.ID] = *rem
	return rem.ID, nil
}

func (r *ReminderRepository) GetByID(_ context.Context, id int64) (*models.Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.items[id]
	if !ok {
		return nil, pkgerrors.ErrReminderNotFound
	}
	return &rem, nil
}

func (r *ReminderRepository) List(_ context.Context) ([]models.Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Reminder, 0, len(r.items))
	for _, rem := range r.items {
		out = append(out, rem)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (r *ReminderRepository) Update(_ context.Context, rem *models.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[rem.ID]; !ok {
		return pkgerrors.ErrReminderNotFound
	}
	r.items[rem.ID] = *rem
	return nil
}

type UserRepository struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]models.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{nextID: 1, items: make(map[int64]models.User)}
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.items {
		if strings.EqualFold(u.Username, user.Username) {
			return pkgerrors.ErrUsernameExists
		}
	}
	user.ID = r.nextID
	r.nextID++
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.items[user.ID] = *user
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.items[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.items {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}
