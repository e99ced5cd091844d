package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// observe starts a span and returns the deferred metrics recorder used by
// every repository method.
func observe(ctx context.Context, tracerName, method string) (context.Context, trace.Span, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	start := time.Now()
	return ctx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveCall(method, start, err)
		span.End()
	}
}

const transactionColumns = `id, type, amount, category, description, date, payment_method, to_person, notes, reminder_id, user_id`

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (id int64, err error) {
	ctx, span, done := observe(ctx, "transaction-repository", "CreateTransaction")
	defer func() { done(err) }()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}
	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type, "error", err)
		return 0, err
	}
	if !tx.Amount.IsPositive() {
		err = fmt.Errorf("%w: amount must be positive", pkgerrors.ErrInvalidInput)
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount, "error", err)
		return 0, err
	}

	span.SetAttributes(
		attribute.String("type", string(tx.Type)),
		attribute.String("category", string(tx.Category)),
		attribute.String("amount", tx.Amount.String()),
	)

	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	query := `INSERT INTO transactions (type, amount, category, description, date, payment_method, to_person, notes, reminder_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	err = r.db.QueryRowContext(ctx, query,
		tx.Type, tx.Amount, tx.Category, tx.Description, tx.Date, tx.PaymentMethod,
		tx.To, tx.Notes, tx.ReminderID, tx.UserID,
	).Scan(&tx.ID)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "type", tx.Type, "to", tx.To, "error", err)
		err = fmt.Errorf("failed to create transaction: %w", err)
		return 0, err
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "type", tx.Type, "amount", tx.Amount.String())
	return tx.ID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*models.Transaction, error) {
	var tx models.Transaction
	var notes sql.NullString
	var reminderID, userID sql.NullInt64
	if err := s.Scan(&tx.ID, &tx.Type, &tx.Amount, &tx.Category, &tx.Description, &tx.Date,
		&tx.PaymentMethod, &tx.To, &notes, &reminderID, &userID); err != nil {
		return nil, err
	}
	if notes.Valid {
		tx.Notes = &notes.String
	}
	if reminderID.Valid {
		tx.ReminderID = &reminderID.Int64
	}
	if userID.Valid {
		tx.UserID = &userID.Int64
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, span, done := observe(ctx, "transaction-repository", "GetTransactionByID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int64("transaction_id", id))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("transaction not found", "method", "GetByID", "transaction_id", id)
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		err = fmt.Errorf("failed to get transaction by id: %w", err)
		return nil, err
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) List(ctx context.Context) (list []models.Transaction, err error) {
	ctx, _, done := observe(ctx, "transaction-repository", "ListTransactions")
	defer func() { done(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("failed to list transactions", "method", "List", "error", err)
		err = fmt.Errorf("failed to list transactions: %w", err)
		return nil, err
	}
	defer rows.Close()

	list = []models.Transaction{}
	for rows.Next() {
		var tx *models.Transaction
		tx, err = scanTransaction(rows)
		if err != nil {
			slog.Error("failed to scan transaction", "method", "List", "error", err)
			err = fmt.Errorf("failed to scan transaction: %w", err)
			return nil, err
		}
		list = append(list, *tx)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list transactions: %w", err)
		return nil, err
	}
	return list, nil
}

func (r *PostgresTransactionRepository) Delete(ctx context.Context, id int64) (err error) {
	ctx, span, done := observe(ctx, "transaction-repository", "DeleteTransaction")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int64("transaction_id", id))

	if _, err = r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		slog.Error("failed to delete transaction", "method", "Delete", "transaction_id", id, "error", err)
		err = fmt.Errorf("failed to delete transaction: %w", err)
		return err
	}
	slog.Info("transaction deleted", "method", "Delete", "transaction_id", id)
	return nil
}
