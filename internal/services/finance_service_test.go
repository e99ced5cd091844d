package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/auth"
	redismocks "github.com/honeynil/paisa-tracker/internal/infrastructure/redis/mocks"
	"github.com/honeynil/paisa-tracker/internal/models"
	repositorymocks "github.com/honeynil/paisa-tracker/internal/repository/mocks"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	transactionRepo *repositorymocks.MockTransactionRepository
	reminderRepo    *repositorymocks.MockReminderRepository
	userRepo        *repositorymocks.MockUserRepository
	redisClient     *redismocks.MockRedisClient
	service         *financeService
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		transactionRepo: repositorymocks.NewMockTransactionRepository(ctrl),
		reminderRepo:    repositorymocks.NewMockReminderRepository(ctrl),
		userRepo:        repositorymocks.NewMockUserRepository(ctrl),
		redisClient:     redismocks.NewMockRedisClient(ctrl),
	}
	f.service = NewFinanceService(f.transactionRepo, f.reminderRepo, f.userRepo, f.redisClient, auth.NewTokenService("secret", time.Hour))
	f.service.now = func() time.Time { return time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) }
	return f
}

func lunch() models.CreateTransactionRequest {
	return models.CreateTransactionRequest{
		Type:          models.TypeGive,
		Amount:        decimal.NewFromInt(500),
		Category:      models.CategoryFood,
		Description:   "lunch",
		PaymentMethod: models.PaymentCash,
		To:            "Raju",
	}
}

func TestFinanceService_CreateTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("successful create", func(t *testing.T) {
		userID := int64(2)
		f.transactionRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tx *models.Transaction) (int64, error) {
				assert.Equal(t, "Raju", tx.To)
				assert.Equal(t, &userID, tx.UserID)
				tx.ID = 1
				return 1, nil
			})

		tx, err := f.service.CreateTransaction(ctx, lunch(), &userID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tx.ID)
		assert.Equal(t, time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC), tx.Date)
	})

	t.Run("validation never reaches the repository", func(t *testing.T) {
		req := lunch()
		req.Amount = decimal.NewFromInt(-1)

		tx, err := f.service.CreateTransaction(ctx, req, nil)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestFinanceService_DeleteTransaction(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.service.DeleteTransaction(context.Background(), 0), pkgerrors.ErrInvalidInput)

	f.transactionRepo.EXPECT().Delete(gomock.Any(), int64(4)).Return(nil)
	assert.NoError(t, f.service.DeleteTransaction(context.Background(), 4))
}

func TestFinanceService_UpdateReminderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	later := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	t.Run("reschedule", func(t *testing.T) {
		f.reminderRepo.EXPECT().GetByID(gomock.Any(), int64(3)).Return(&models.Reminder{ID: 3, Status: models.StatusPending}, nil)
		f.reminderRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rem *models.Reminder) error {
			assert.Equal(t, models.StatusRescheduled, rem.Status)
			assert.Equal(t, later, *rem.RescheduledDate)
			return nil
		})

		err := f.service.UpdateReminderStatus(ctx, 3, models.UpdateReminderStatusRequest{Status: models.StatusRescheduled, RescheduledDate: &later})
		assert.NoError(t, err)
	})

	t.Run("completed reminders stay completed", func(t *testing.T) {
		f.reminderRepo.EXPECT().GetByID(gomock.Any(), int64(5)).Return(&models.Reminder{ID: 5, Status: models.StatusCompleted}, nil)

		err := f.service.UpdateReminderStatus(ctx, 5, models.UpdateReminderStatusRequest{Status: models.StatusRescheduled, RescheduledDate: &later})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatusTransition)
	})

	t.Run("invalid status", func(t *testing.T) {
		err := f.service.UpdateReminderStatus(ctx, 5, models.UpdateReminderStatusRequest{Status: models.StatusPending})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("missing reminder", func(t *testing.T) {
		f.reminderRepo.EXPECT().GetByID(gomock.Any(), int64(9)).Return(nil, pkgerrors.ErrReminderNotFound)

		err := f.service.UpdateReminderStatus(ctx, 9, models.UpdateReminderStatusRequest{Status: models.StatusCompleted})
		assert.ErrorIs(t, err, pkgerrors.ErrReminderNotFound)
	})
}

func TestFinanceService_CreateReminder(t *testing.T) {
	f := newFixture(t)

	f.reminderRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rem *models.Reminder) (int64, error) {
		assert.Equal(t, models.StatusPending, rem.Status)
		rem.ID = 8
		return 8, nil
	})

	rem, err := f.service.CreateReminder(context.Background(), models.CreateReminderRequest{
		Amount:     decimal.NewFromInt(1200),
		FromPerson: "Ravi",
		DueDate:    time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), rem.ID)

	_, err = f.service.CreateReminder(context.Background(), models.CreateReminderRequest{Amount: decimal.NewFromInt(1), FromPerson: "Ravi"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
}

func TestFinanceService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("successful login", func(t *testing.T) {
		username := "testuser"
		password := "testpass"
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		user := &models.User{
			ID:           1,
			Username:     username,
			PasswordHash: string(hashedPassword),
		}

		f.userRepo.EXPECT().GetByUsername(gomock.Any(), username).Return(user, nil)
		f.redisClient.EXPECT().Set(gomock.Any(), "user:1:token", gomock.Any(), time.Hour).Return(nil)

		token, got, err := f.service.Login(ctx, username, password)
		assert.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, user, got)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "testuser").Return(nil, pkgerrors.ErrUserNotFound)

		token, _, err := f.service.Login(ctx, "testuser", "wrongpass")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
		assert.Empty(t, token)
	})

	t.Run("session store down", func(t *testing.T) {
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "asha").Return(&models.User{ID: 2, Username: "asha", PasswordHash: string(hashedPassword)}, nil)
		f.redisClient.EXPECT().Set(gomock.Any(), "user:2:token", gomock.Any(), time.Hour).Return(errors.New("redis down"))

		_, _, err := f.service.Login(ctx, "asha", "pw")
		assert.ErrorIs(t, err, pkgerrors.ErrInternal)
	})
}

func TestFinanceService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("username taken", func(t *testing.T) {
		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "asha").Return(&models.User{ID: 1, Username: "asha"}, nil)

		_, err := f.service.Register(ctx, models.Credentials{Username: "asha", Password: "pw"})
		assert.ErrorIs(t, err, pkgerrors.ErrUsernameExists)
	})

	t.Run("hashes password", func(t *testing.T) {
		f.userRepo.EXPECT().GetByUsername(gomock.Any(), "ravi").Return(nil, pkgerrors.ErrUserNotFound)
		f.userRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("pw")))
			u.ID = 5
			return nil
		})

		user, err := f.service.Register(ctx, models.Credentials{Username: " ravi ", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), user.ID)
		assert.Equal(t, models.RoleUser, user.Role)
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := f.service.Register(ctx, models.Credentials{Username: "x"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestFinanceService_Logout(t *testing.T) {
	f := newFixture(t)
	f.redisClient.EXPECT().Del(gomock.Any(), "user:4:token").Return(nil)
	assert.NoError(t, f.service.Logout(context.Background(), 4))
}
