package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/paisa-tracker/internal/infrastructure/auth"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/redis"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/repository"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
)

type FinanceService interface {
	CreateTransaction(ctx context.Context, req models.CreateTransactionRequest, userID *int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context) ([]models.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	CreateReminder(ctx context.Context, req models.CreateReminderRequest) (*models.Reminder, error)
	ListReminders(ctx context.Context) ([]models.Reminder, error)
	UpdateReminderStatus(ctx context.Context, id int64, req models.UpdateReminderStatusRequest) error
	Register(ctx context.Context, creds models.Credentials) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	Logout(ctx context.Context, userID int64) error
	CurrentUser(ctx context.Context, userID int64) (*models.User, error)
}

type financeService struct {
	transactionRepo repository.TransactionRepository
	reminderRepo    repository.ReminderRepository
	userRepo        repository.UserRepository
	redisClient     redis.RedisClient
	tokens          *auth.TokenService
	now             func() time.Time
}

func NewFinanceService(
	transactionRepo repository.TransactionRepository,
	reminderRepo repository.ReminderRepository,
	userRepo repository.UserRepository,
	redisClient redis.RedisClient,
	tokens *auth.TokenService,
) *financeService {
	return &financeService{
		transactionRepo: transactionRepo,
		reminderRepo:    reminderRepo,
		userRepo:        userRepo,
		redisClient:     redisClient,
		tokens:          tokens,
		now:             time.Now,
	}
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

func (s *financeService) CreateTransaction(ctx context.Context, req models.CreateTransactionRequest, userID *int64) (*models.Transaction, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	if err := req.Validate(); err != nil {
		slog.Warn("transaction rejected", "method", "CreateTransaction", "error", err)
		return nil, fail(span, err, "validation failed")
	}

	tx := req.ToTransaction(s.now().UTC())
	tx.UserID = userID
	if _, err := s.transactionRepo.Create(ctx, tx); err != nil {
		slog.Error("failed to create transaction", "method", "CreateTransaction", "error", err)
		return nil, fail(span, err, "transaction creation failed")
	}
	span.SetAttributes(attribute.Int64("transaction_id", tx.ID))
	return tx, nil
}

func (s *financeService) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	list, err := s.transactionRepo.List(ctx)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListTransactions", "error", err)
		return nil, fail(span, err, "list failed")
	}
	return list, nil
}

func (s *financeService) DeleteTransaction(ctx context.Context, id int64) error {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "DeleteTransaction")
	defer span.End()

	if id <= 0 {
		return fail(span, pkgerrors.Invalid("invalid id"), "invalid id")
	}
	if err := s.transactionRepo.Delete(ctx, id); err != nil {
		slog.Error("failed to delete transaction", "method", "DeleteTransaction", "transaction_id", id, "error", err)
		return fail(span, err, "delete failed")
	}
	return nil
}

func (s *financeService) CreateReminder(ctx context.Context, req models.CreateReminderRequest) (*models.Reminder, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "CreateReminder")
	defer span.End()

	if err := req.Validate(); err != nil {
		slog.Warn("reminder rejected", "method", "CreateReminder", "error", err)
		return nil, fail(span, err, "validation failed")
	}

	rem := req.ToReminder(s.now().UTC())
	if _, err := s.reminderRepo.Create(ctx, rem); err != nil {
		slog.Error("failed to create reminder", "method", "CreateReminder", "error", err)
		return nil, fail(span, err, "reminder creation failed")
	}
	return rem, nil
}

func (s *financeService) ListReminders(ctx context.Context) ([]models.Reminder, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "ListReminders")
	defer span.End()

	list, err := s.reminderRepo.List(ctx)
	if err != nil {
		slog.Error("failed to list reminders", "method", "ListReminders", "error", err)
		return nil, fail(span, err, "list failed")
	}
	return list, nil
}

func (s *financeService) UpdateReminderStatus(ctx context.Context, id int64, req models.UpdateReminderStatusRequest) error {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "UpdateReminderStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("reminder_id", id), attribute.String("status", string(req.Status)))

	if id <= 0 {
		return fail(span, pkgerrors.Invalid("invalid id"), "invalid id")
	}
	if err := req.Validate(); err != nil {
		return fail(span, err, "validation failed")
	}

	rem, err := s.reminderRepo.GetByID(ctx, id)
	if err != nil {
		slog.Error("failed to load reminder", "method", "UpdateReminderStatus", "reminder_id", id, "error", err)
		return fail(span, err, "reminder lookup failed")
	}
	if err := rem.Transition(req.Status, req.RescheduledDate); err != nil {
		slog.Warn("reminder transition rejected", "reminder_id", id, "from", rem.Status, "to", req.Status)
		return fail(span, err, "invalid transition")
	}
	if err := s.reminderRepo.Update(ctx, rem); err != nil {
		slog.Error("failed to update reminder", "method", "UpdateReminderStatus", "reminder_id", id, "error", err)
		return fail(span, err, "update failed")
	}
	return nil
}

func (s *financeService) Register(ctx context.Context, creds models.Credentials) (*models.User, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	username := strings.TrimSpace(creds.Username)
	if username == "" || creds.Password == "" {
		span.SetStatus(codes.Error, "empty username or password")
		return nil, pkgerrors.Invalid("username and password are required")
	}

	existingUser, err := s.userRepo.GetByUsername(ctx, username)
	if existingUser != nil {
		span.SetStatus(codes.Error, "username already exists")
		slog.Warn("username already exists", "username", username, "existing_id", existingUser.ID)
		return nil, pkgerrors.ErrUsernameExists
	}
	if err != nil && !stderrors.Is(err, pkgerrors.ErrUserNotFound) {
		slog.Error("failed to check user existence", "username", username, "error", err)
		return nil, fail(span, fmt.Errorf("%w: failed to check user existence", pkgerrors.ErrInternal), "user check failed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "username", username, "error", err)
		return nil, fail(span, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal), "password hashing failed")
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		FullName:     creds.FullName,
		Role:         models.RoleUser,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUsernameExists) {
			return nil, fail(span, err, "username already exists")
		}
		slog.Error("failed to create user in DB", "username", username, "error", err)
		return nil, fail(span, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal), "user creation failed")
	}

	slog.Info("user registered successfully", "user_id", user.ID, "username", username)
	return user, nil
}

func (s *financeService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		slog.Error("failed to login", "username", username, "error", err)
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "username", username)
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	tokenString, _, err := s.tokens.Generate(user.ID)
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", nil, fail(span, fmt.Errorf("failed to generate token: %w", err), "token generation failed")
	}

	// без записи в Redis сессия не пройдёт проверку, поэтому это ошибка
	if err := s.redisClient.Set(ctx, auth.TokenKey(user.ID), tokenString, s.tokens.TTL()); err != nil {
		slog.Error("failed to cache JWT", "user_id", user.ID, "error", err)
		return "", nil, fail(span, fmt.Errorf("%w: failed to store session", pkgerrors.ErrInternal), "session store failed")
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	return tokenString, user, nil
}

func (s *financeService) Logout(ctx context.Context, userID int64) error {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "Logout")
	defer span.End()

	if err := s.redisClient.Del(ctx, auth.TokenKey(userID)); err != nil {
		slog.Error("failed to revoke token", "user_id", userID, "error", err)
		return fail(span, err, "revoke failed")
	}
	slog.Info("user logged out", "user_id", userID)
	return nil
}

func (s *financeService) CurrentUser(ctx context.Context, userID int64) (*models.User, error) {
	tracer := otel.Tracer("finance-service")
	ctx, span := tracer.Start(ctx, "CurrentUser")
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fail(span, err, "user lookup failed")
	}
	return user, nil
}
