package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/freightbank/internal/api"
	"github.com/punchamoorthee/freightbank/internal/config"
	"github.com/punchamoorthee/freightbank/internal/lock"
	"github.com/punchamoorthee/freightbank/internal/logging"
	"github.com/punchamoorthee/freightbank/internal/notify"
	"github.com/punchamoorthee/freightbank/internal/provider"
	"github.com/punchamoorthee/freightbank/internal/service"
	"github.com/punchamoorthee/freightbank/internal/store"
	"github.com/punchamoorthee/freightbank/internal/webhook"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		slog.Error("failed to initialise logging", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(cfg.DBSource)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	notifier := newNotifier(cfg, logger)
	if k, ok := notifier.(*notify.Kafka); ok {
		defer k.Close()
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	orchestrator := service.NewOrchestrator(db, db, gateway, locker, notifier, logger.With("component", "orchestrator"))
	processor := webhook.NewProcessor(db, db, orchestrator, locker, logger.With("component", "webhooks"))
	banking := service.NewBanking(db, db, db, gateway, logger.With("component", "banking"))
	poller := service.NewPoller(db, orchestrator, processor, db, gateway, service.PollerConfig{
		Interval: cfg.PollInterval,
		Delay:    cfg.PollDelay,
	}, logger.With("component", "poller"))

	handler := api.NewHandler(orchestrator, banking, processor, cfg.WebhookBaseURL, logger.With("component", "http"))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port, "environment", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		poller.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		orchestrator.Wait()
		processor.Wait()
		logger.Info("server stopped")
		return err
	})
	return g.Wait()
}

func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}
	l := lock.NewRedis(client, "freightbank:lock:", 30*time.Second)
	l.OnLost(func(key string, err error) {
		logger.Warn("distributed lock lost before release", "key", key, "error", err)
	})
	logger.Info("using redis locks", "addr", cfg.RedisAddr)
	return l, func() { client.Close() }, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if len(cfg.KafkaBrokers) == 0 {
		return notify.NewLog(logger.With("component", "notify"))
	}
	return notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaNotificationTopic, logger.With("component", "notify"))
}

func newGateway(cfg *config.Config, logger *slog.Logger) (*provider.Gateway, error) {
	key, err := provider.ParsePrivateKey(cfg.Provider.PrivateKey)
	if err != nil {
		return nil, err
	}
	signer, err := provider.NewSigner(provider.Credentials{
		ClientID:   cfg.Provider.ClientID,
		KeyID:      cfg.Provider.KeyID,
		Audience:   cfg.Provider.Audience,
		Scope:      cfg.Provider.Scopes,
		PrivateKey: key,
	})
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	var tokens provider.TokenSource = provider.NewAssertionSource(signer)
	if cfg.Provider.AuthMode == provider.AuthModeExchange {
		tokens = provider.NewExchangeSource(signer, cfg.Provider.TokenURL, httpClient)
	}

	client := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.Provider.BaseURL,
		Timeout:     cfg.Provider.Timeout,
		MaxAttempts: cfg.Provider.MaxAttempts,
		HTTPClient:  httpClient,
	}, tokens, logger.With("component", "provider"))
	return provider.NewGateway(client), nil
}
