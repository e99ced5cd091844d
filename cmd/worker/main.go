package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/paisa-tracker/internal/config"
	"github.com/honeynil/paisa-tracker/internal/connectivity"
	"github.com/honeynil/paisa-tracker/internal/events"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/kafka"
	"github.com/honeynil/paisa-tracker/internal/infrastructure/redis"
	"github.com/honeynil/paisa-tracker/internal/interceptor"
	"github.com/honeynil/paisa-tracker/internal/localstore"
	"github.com/honeynil/paisa-tracker/internal/notify"
	"github.com/honeynil/paisa-tracker/internal/observability"
	"github.com/honeynil/paisa-tracker/internal/queue"
	"github.com/honeynil/paisa-tracker/internal/syncengine"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	shutdown, _ := observability.Setup("paisa-worker", cfg)
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Общий с приложением файл SQLite
	store := localstore.NewSQLiteStore(cfg.LocalStorePath)
	if err := store.Initialize(ctx); err != nil {
		slog.Error("local store unavailable, running degraded", "path", cfg.LocalStorePath, "error", err)
	}
	defer store.Close()
	repo := localstore.NewRepository(store)

	// Кэш ответов и рассылка о завершении синхронизации
	var (
		cache       interceptor.CacheStorage = interceptor.NewMemoryCache()
		broadcaster syncengine.Broadcaster   = syncengine.NewEventBroadcaster(events.NewDispatcher[events.SyncComplete]())
		notifier    notify.Notifier          = notify.NewLogNotifier(notify.PermissionGranted)
	)
	if cfg.RedisAddr != "" {
		redisClient, err := redis.NewClient(cfg.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, using in-process cache", "error", err)
		} else {
			defer redisClient.Close()
			cache = redis.NewResponseCache(redisClient)
			broadcaster = redis.NewSyncBroadcaster(redisClient)
			notifier = redis.NewNotifier(redisClient, notify.PermissionGranted)
		}
	}

	controller := events.NewDispatcher[events.ControllerChange]()
	claims, cancelClaims := controller.Subscribe()
	defer cancelClaims()
	ic, err := interceptor.New(http.DefaultTransport, cfg.APIBaseURL, cache, cfg.CacheVersion,
		interceptor.WithControllerEvents(controller))
	if err != nil {
		log.Fatalf("Failed to create interceptor: %v", err)
	}
	if err := ic.Install(ctx); err != nil {
		// без прекэша работаем только сетью, активация всё равно нужна
		slog.Error("precache failed", "namespace", ic.Namespace(), "error", err)
	}
	if err := ic.Activate(ctx); err != nil {
		log.Fatalf("Failed to activate interceptor: %v", err)
	}

	target, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		log.Fatalf("Invalid API_BASE_URL: %v", err)
	}
	proxy := &http.Server{
		Addr:    cfg.ProxyAddr,
		Handler: ic.Proxy(target),
	}

	observer := connectivity.NewObserver(true, nil, nil, nil)
	q := queue.New(repo, observer, &http.Client{Timeout: 15 * time.Second}, cfg.APIBaseURL)
	engine := syncengine.New(q, broadcaster)
	observer.SetSyncer(engine)

	wakeups := events.NewDispatcher[events.BackgroundSync]()
	bridge := notify.NewBridge(notifier, notify.NewWindowRegistry())

	g, gctx := errgroup.WithContext(ctx)
	// активация публикуется до старта горутины, событие ждёт в буфере
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case c, ok := <-claims:
				if !ok {
					return nil
				}
				slog.Info("interceptor controls requests", "version", c.Version, "proxy", cfg.ProxyAddr)
			}
		}
	})
	g.Go(func() error {
		slog.Info("starting proxy", "addr", cfg.ProxyAddr, "origin", cfg.APIBaseURL)
		if err := proxy.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return proxy.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		observer.Watch(gctx, connectivity.NewHTTPProber(nil, cfg.APIBaseURL+"/api/user"), cfg.ProbeInterval)
		return nil
	})

	ch, cancelWakeups := wakeups.Subscribe()
	defer cancelWakeups()
	g.Go(func() error {
		engine.Run(gctx, ch)
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		syncConsumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.BackgroundSyncTopic, "paisa-worker-sync", kafka.BackgroundSyncHandler(wakeups))
		pushConsumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.PushTopic, "paisa-worker-push", kafka.PushHandler(bridge))
		defer syncConsumer.Close()
		defer pushConsumer.Close()
		g.Go(func() error {
			syncConsumer.Consume(gctx)
			return nil
		})
		g.Go(func() error {
			pushConsumer.Consume(gctx)
			return nil
		})
	} else {
		slog.Warn("KAFKA_BROKER not set, background sync and push disabled")
	}

	if err := g.Wait(); err != nil {
		slog.Error("worker stopped with error", "error", err)
	}
	// дожидаемся текущего прохода синхронизации
	engine.Wait()
	slog.Info("worker stopped")
}
