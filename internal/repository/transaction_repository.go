package repository

import (
	"context"

	"github.com/honeynil/paisa-tracker/internal/models"
)

//go:generate mockgen -source=transaction_repository.go -destination=mocks/mock_transaction_repository.go -package=mocks

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	// List returns transactions newest first.
	List(ctx context.Context) ([]models.Transaction, error)
	Delete(ctx context.Context, id int64) error
}
