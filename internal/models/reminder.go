package models

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
)

type ReminderStatus string

const (
	StatusPending     ReminderStatus = "pending"
	StatusCompleted   ReminderStatus = "completed"
	StatusRescheduled ReminderStatus = "rescheduled"
)

type Reminder struct {
	ID              int64           `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	FromPerson      string          `json:"fromPerson"`
	DueDate         time.Time       `json:"dueDate"`
	Status          ReminderStatus  `json:"status"`
	Notes           *string         `json:"notes"`
	RescheduledDate *time.Time      `json:"rescheduledDate"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Transition moves a reminder out of pending. A reminder never re-enters
// pending, and RescheduledDate is set exactly when the status is rescheduled.
func (r *Reminder) Transition(status ReminderStatus, rescheduledDate *time.Time) error {
	switch status {
	case StatusCompleted:
		r.Status = status
		r.RescheduledDate = nil
		return nil
	case StatusRescheduled:
		if rescheduledDate == nil {
			return fmt.Errorf("%w: rescheduled status requires a date", pkgerrors.ErrInvalidStatusTransition)
		}
		if r.Status == StatusCompleted {
			return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, r.Status, status)
		}
		d := *rescheduledDate
		r.Status = status
		r.RescheduledDate = &d
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, r.Status, status)
	}
}

// Consistent reports whether rescheduledDate agrees with status.
func (r *Reminder) Consistent() bool {
	return (r.Status == StatusRescheduled) == (r.RescheduledDate != nil)
}

type CreateReminderRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	FromPerson string          `json:"fromPerson"`
	DueDate    time.Time       `json:"dueDate"`
	Notes      *string         `json:"notes,omitempty"`
}

func (r *CreateReminderRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return pkgerrors.Invalid("amount must be positive")
	}
	if strings.TrimSpace(r.FromPerson) == "" {
		return pkgerrors.Invalid("fromPerson is required")
	}
	if r.DueDate.IsZero() {
		return pkgerrors.Invalid("invalid or missing dueDate field")
	}
	return nil
}

func (r *CreateReminderRequest) ToReminder(at time.Time) *Reminder {
	return &Reminder{
		Amount:     r.Amount,
		FromPerson: r.FromPerson,
		DueDate:    r.DueDate,
		Status:     StatusPending,
		Notes:      r.Notes,
		CreatedAt:  at,
	}
}

type UpdateReminderStatusRequest struct {
	Status          ReminderStatus `json:"status"`
	RescheduledDate *time.Time     `json:"rescheduledDate,omitempty"`
}

func (r *UpdateReminderStatusRequest) Validate() error {
	if r.Status != StatusCompleted && r.Status != StatusRescheduled {
		return pkgerrors.Invalid("invalid status")
	}
	if r.Status == StatusRescheduled && r.RescheduledDate == nil {
		return pkgerrors.Invalid("rescheduledDate is required for rescheduled status")
	}
	return nil
}
