package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresReminderRepository struct {
	db *sql.DB
}

func NewPostgresReminderRepository(db *sql.DB) *PostgresReminderRepository {
	return &PostgresReminderRepository{db: db}
}

const reminderColumns = `id, amount, from_person, due_date, status, notes, rescheduled_date, created_at`

func (r *PostgresReminderRepository) Create(ctx context.Context, rem *models.Reminder) (id int64, err error) {
	ctx, span, done := observe(ctx, "reminder-repository", "CreateReminder")
	defer func() { done(err) }()

	if rem == nil {
		err = pkgerrors.ErrNilReminder
		slog.Error("failed to create reminder", "method", "Create", "error", err)
		return 0, err
	}
	if rem.Status == "" {
		rem.Status = models.StatusPending
	}
	if !rem.Consistent() {
		err = fmt.Errorf("%w: rescheduledDate does not match status %s", pkgerrors.ErrInvalidInput, rem.Status)
		slog.Error("inconsistent reminder", "method", "Create", "status", rem.Status, "error", err)
		return 0, err
	}
	span.SetAttributes(attribute.String("amount", rem.Amount.String()), attribute.String("status", string(rem.Status)))

	query := `INSERT INTO reminders (amount, from_person, due_date, status, notes, rescheduled_date)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query,
		rem.Amount, rem.FromPerson, rem.DueDate, rem.Status, rem.Notes, rem.RescheduledDate,
	).Scan(&rem.ID, &rem.CreatedAt)
	if err != nil {
		slog.Error("failed to create reminder", "method", "Create", "from_person", rem.FromPerson, "error", err)
		err = fmt.Errorf("failed to create reminder: %w", err)
		return 0, err
	}

	slog.Info("reminder created", "method", "Create", "id", rem.ID, "due_date", rem.DueDate)
	return rem.ID, nil
}

func scanReminder(s scanner) (*models.Reminder, error) {
	var rem models.Reminder
	var notes sql.NullString
	var rescheduled sql.NullTime
	if err := s.Scan(&rem.ID, &rem.Amount, &rem.FromPerson, &rem.DueDate, &rem.Status,
		&notes, &rescheduled, &rem.CreatedAt); err != nil {
		return nil, err
	}
	if notes.Valid {
		rem.Notes = &notes.String
	}
	if rescheduled.Valid {
		t := rescheduled.Time
		rem.RescheduledDate = &t
	}
	return &rem, nil
}

func (r *PostgresReminderRepository) GetByID(ctx context.Context, id int64) (rem *models.Reminder, err error) {
	ctx, span, done := observe(ctx, "reminder-repository", "GetReminderByID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int64("reminder_id", id))

	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`
	rem, err = scanReminder(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("reminder not found", "method", "GetByID", "reminder_id", id)
		err = pkgerrors.ErrReminderNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get reminder by id", "method", "GetByID", "reminder_id", id, "error", err)
		err = fmt.Errorf("failed to get reminder by id: %w", err)
		return nil, err
	}
	return rem, nil
}

func (r *PostgresReminderRepository) List(ctx context.Context) (list []models.Reminder, err error) {
	ctx, _, done := observe(ctx, "reminder-repository", "ListReminders")
	defer func() { done(err) }()

	query := `SELECT ` + reminderColumns + ` FROM reminders ORDER BY due_date ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("failed to list reminders", "method", "List", "error", err)
		err = fmt.Errorf("failed to list reminders: %w", err)
		return nil, err
	}
	defer rows.Close()

	list = []models.Reminder{}
	for rows.Next() {
		var rem *models.Reminder
		rem, err = scanReminder(rows)
		if err != nil {
			err = fmt.Errorf("failed to scan reminder: %w", err)
			return nil, err
		}
		list = append(list, *rem)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list reminders: %w", err)
		return nil, err
	}
	return list, nil
}

func (r *PostgresReminderRepository) Update(ctx context.Context, rem *models.Reminder) (err error) {
	ctx, span, done := observe(ctx, "reminder-repository", "UpdateReminder")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int64("reminder_id", rem.ID), attribute.String("status", string(rem.Status)))

	res, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET status = $1, rescheduled_date = $2 WHERE id = $3`,
		rem.Status, rem.RescheduledDate, rem.ID)
	if err != nil {
		slog.Error("failed to update reminder", "method", "Update", "reminder_id", rem.ID, "error", err)
		err = fmt.Errorf("failed to update reminder: %w", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to update reminder: %w", err)
		return err
	}
	if n == 0 {
		err = pkgerrors.ErrReminderNotFound
		return err
	}
	slog.Info("reminder updated", "method", "Update", "reminder_id", rem.ID, "status", rem.Status)
	return nil
}
