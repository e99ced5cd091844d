package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/paisa-tracker/internal/api"
	"github.com/honeynil/paisa-tracker/internal/config"
	"github.com/honeynil/paisa-tracker/internal/handler"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/auth"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/redis"
	"github.com/honeynil/paisa-tracker/internal/observability"
	"github.com/honeynil/paisa-tracker/internal/repository"
	"github.com/honeynil/paisa-tracker/internal/repository/memory"
	"github.com/honeynil/paisa-tracker/internal/repository/postgres"
	service "github.com/honeynil/paisa-tracker/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdown, _ := observability.Setup("paisa-api", cfg)
	defer shutdown(context.Background())

	// Хранилище: Postgres если задан DSN, иначе память процесса
	var (
		txRepo   repository.TransactionRepository
		remRepo  repository.ReminderRepository
		userRepo repository.UserRepository
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = postgres.Migrate(migrateCtx, db)
		cancel()
		if err != nil {
			log.Fatalf("Failed to migrate Postgres schema: %v", err)
		}
		txRepo = postgres.NewPostgresTransactionRepository(db)
		remRepo = postgres.NewPostgresReminderRepository(db)
		userRepo = postgres.NewPostgresUserRepository(db)
	} else {
		slog.Warn("POSTGRES_DSN not set, using in-memory storage")
		txRepo = memory.NewTransactionRepository()
		remRepo = memory.NewReminderRepository()
		userRepo = memory.NewUserRepository()
	}

	// Redis хранит токены сессий
	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	tokens := auth.NewTokenService(cfg.JWTSecret, auth.DefaultSessionTTL)

	// Инициализируем сервис
	svc := service.NewFinanceService(txRepo, remRepo, userRepo, redisClient, tokens)

	// Настраиваем роутер
	router := api.SetupRouter(handler.NewHandler(svc, tokens.TTL()), redisClient, tokens)

	// Запускаем сервер
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	slog.Info("server stopped")
}
