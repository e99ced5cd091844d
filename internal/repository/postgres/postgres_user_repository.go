package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/paisa-tracker/internal/models"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (err error) {
	ctx, span, done := observe(ctx, "user-repository", "CreateUser")
	defer func() { done(err) }()

	if user == nil {
		err = fmt.Errorf("%w: user is nil", pkgerrors.ErrInvalidInput)
		return err
	}
	if user.Username == "" || user.PasswordHash == "" {
		err = fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidInput)
		return err
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	span.SetAttributes(attribute.String("username", user.Username))

	query := `INSERT INTO users (username, password_hash, full_name, role) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, user.Username, user.PasswordHash, user.FullName, user.Role).
		Scan(&user.ID, &user.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		err = pkgerrors.ErrUsernameExists
		slog.Warn("username already exists", "method", "Create", "username", user.Username)
		return err
	}
	if err != nil {
		slog.Error("failed to create user", "method", "Create", "username", user.Username, "error", err)
		err = fmt.Errorf("failed to create user: %w", err)
		return err
	}
	slog.Info("user created", "method", "Create", "user_id", user.ID, "username", user.Username)
	return nil
}

func (r *PostgresUserRepository) scanOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	var fullName sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&fullName,
		&user.Role,
		&user.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, err
	}
	if fullName.Valid {
		user.FullName = &fullName.String
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, _, done := observe(ctx, "user-repository", "GetUserByID")
	defer func() { done(err) }()

	user, err = r.scanOne(ctx, `SELECT id, username, password_hash, full_name, role, created_at FROM users WHERE id = $1`, id)
	if err != nil && !errors.Is(err, pkgerrors.ErrUserNotFound) {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		err = fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, err
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (user *models.User, err error) {
	ctx, _, done := observe(ctx, "user-repository", "GetUserByUsername")
	defer func() { done(err) }()

	if username == "" {
		err = fmt.Errorf("%w: username cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	user, err = r.scanOne(ctx, `SELECT id, username, password_hash, full_name, role, created_at FROM users WHERE username = $1`, username)
	if err != nil && !errors.Is(err, pkgerrors.ErrUserNotFound) {
		slog.Error("failed to get user by username", "method", "GetByUsername", "username", username, "error", err)
		err = fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, err
}
