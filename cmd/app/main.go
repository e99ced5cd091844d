package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/paisa-tracker/internal/client"
	"github.com/honeynil/paisa-tracker/internal/config"
	"github.com/honeynil/paisa-tracker/internal/connectivity"
	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/kafka"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/redis"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/models"
	"github.com/honeynil/paisa-tracker/internal/notify"
	"github.com/honeynil/paisa-tracker/internal/observability"
	"github.com/honeynil/paisa-tracker/internal/queue"
	"github.com/honeynil/paisa-tracker/internal/syncengine"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("paisa-app", cfg)
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := localstore.NewSQLiteStore(cfg.LocalStorePath)
	if err := store.Initialize(ctx); err != nil {
		slog.Error("local store unavailable, running degraded", "path", cfg.LocalStorePath, "error", err)
	}
	defer store.Close()
	repo := localstore.NewRepository(store)

	// Регистрация фоновой синхронизации через Kafka
	var (
		registrar  connectivity.Registrar
		queueOpts  []queue.Option
		syncBus    = events.NewDispatcher[events.SyncComplete]()
		connBus    = events.NewDispatcher[events.ConnectivityChanged]()
		httpClient = &http.Client{Timeout: 15 * time.Second}
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		r := kafka.NewSyncRegistrar(producer)
		registrar = r
		queueOpts = append(queueOpts, queue.WithRegistrar(r))
	} else {
		slog.Warn("KAFKA_BROKER not set, background sync registration disabled")
	}

	// все запросы приложения идут через прокси воркера
	observer := connectivity.NewObserver(false, nil, registrar, connBus)
	q := queue.New(repo, observer, httpClient, cfg.AppAPIURL, queueOpts...)
	engine := syncengine.New(q, syncengine.NewEventBroadcaster(syncBus))
	observer.SetSyncer(engine)

	api := client.New(httpClient, cfg.AppAPIURL, repo, q, observer)

	var notifier notify.Notifier = notify.NewLogNotifier(notify.PermissionGranted)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.RedisAddr != "" {
		redisClient, err := redis.NewClient(cfg.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, worker broadcasts will not reach the app", "error", err)
		} else {
			defer redisClient.Close()
			notifier = redis.NewNotifier(redisClient, notify.PermissionGranted)
			// события о синхронизации от воркера
			g.Go(func() error {
				redis.NewSyncBroadcaster(redisClient).Relay(gctx, syncBus)
				return nil
			})
		}
	}

	changes, cancelChanges := connBus.Subscribe()
	defer cancelChanges()
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case c, ok := <-changes:
				if !ok {
					return nil
				}
				slog.Info("connectivity changed", "online", c.Online, "at", c.At)
			}
		}
	})

	// напоминания проверяются по данным сервера, офлайн по локальным
	watcher := notify.NewDueWatcher(notify.NewBridge(notifier, notify.NewWindowRegistry()), time.Local)
	g.Go(func() error {
		watcher.Run(gctx, api, cfg.ReminderCheckInterval)
		return nil
	})
	completions, cancelCompletions := syncBus.Subscribe()
	defer cancelCompletions()
	g.Go(func() error {
		refetch(gctx, api, watcher, completions)
		return nil
	})
	g.Go(func() error {
		observer.Watch(gctx, connectivity.NewHTTPProber(nil, cfg.APIBaseURL+"/api/user"), cfg.ProbeInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("app stopped with error", "error", err)
	}
	engine.Wait()
	slog.Info("app stopped")
}

// refetch reloads the data views named by each completion event. Refreshed
// reminders go straight to the due-date check.
func refetch(ctx context.Context, api *client.Client, watcher *notify.DueWatcher, completions <-chan events.SyncComplete) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-completions:
			if !ok {
				return
			}
			switch ev.Feature {
			case models.FeatureTransactions:
				txs, err := api.Transactions(ctx)
				if err != nil {
					slog.Error("failed to refetch transactions", "error", err)
					continue
				}
				slog.Info("transactions refreshed", "synced", ev.Synced, "count", len(txs))
			case models.FeatureReminders:
				rems, err := api.Reminders(ctx)
				if err != nil {
					slog.Error("failed to refetch reminders", "error", err)
					continue
				}
				slog.Info("reminders refreshed", "synced", ev.Synced, "count", len(rems))
				if _, err := watcher.Check(ctx, rems); err != nil {
					slog.Error("failed to check due reminders", "error", err)
				}
			}
		}
	}
}
