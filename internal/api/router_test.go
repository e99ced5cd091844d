package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/paisa-tracker/internal/handler"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/auth"
	redismocks "github.com/honeynil/paisa-tracker/internal/infrastructure/redis/mocks"
	"github.com/honeynil/paisa-tracker/internal/repository/memory"
	service "github.com/honeynil/paisa-tracker/internal/services"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetupRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokens := auth.NewTokenService("secret", time.Hour)
	redisClient := redismocks.NewMockRedisClient(ctrl)
	svc := service.NewFinanceService(memory.NewTransactionRepository(), memory.NewReminderRepository(), memory.NewUserRepository(), redisClient, tokens)
	router := SetupRouter(handler.NewHandler(svc, tokens.TTL()), redisClient, tokens)

	before := testutil.ToFloat64(RequestCounter.WithLabelValues(http.MethodDelete, "/api/transactions/{id}", "204"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/transactions/42", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestCounter.WithLabelValues(http.MethodDelete, "/api/transactions/{id}", "204")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
