package repository

import (
	"context"

	"github.com/honeynil/paisa-tracker/internal/models"
)

//go:generate mockgen -source=reminder_repository.go -destination=mocks/mock_reminder_repository.go -package=mocks

type ReminderRepository interface {
	Create(ctx context.Context, rem *models.Reminder) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Reminder, error)
	// List returns reminders by ascending due date.
	List(ctx context.Context) ([]models.Reminder, error)
	Update(ctx context.Context, rem *models.Reminder) error
}
