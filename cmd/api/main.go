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

	"github.com/joho/godotenv"

	"github.com/mirelon-dev/halodesk/internal/config"
	"github.com/mirelon-dev/halodesk/internal/events"
	"github.com/mirelon-dev/halodesk/internal/handler"
	"github.com/mirelon-dev/halodesk/internal/metrics"
	"github.com/mirelon-dev/halodesk/internal/service/assist"
	chatService "github.com/mirelon-dev/halodesk/internal/service/chat"
	"github.com/mirelon-dev/halodesk/internal/store"
	memoryStore "github.com/mirelon-dev/halodesk/internal/store/memory"
	postgresStore "github.com/mirelon-dev/halodesk/internal/store/postgres"
	redisStore "github.com/mirelon-dev/halodesk/internal/store/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	metrics.Init()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()
	log.Info("store ready", slog.String("driver", cfg.Store.Driver))

	publisher := events.NewNop()
	if cfg.Events.Enabled() {
		publisher, err = events.NewRabbit(ctx, events.RabbitConfig{
			URL:           cfg.Events.URL,
			Exchange:      cfg.Events.Exchange,
			RetryAttempts: cfg.Events.RetryAttempts,
			RetryDelay:    cfg.Events.RetryDelay,
		}, log)
		if err != nil {
			log.Error("failed to connect event publisher", slog.Any("error", err))
			os.Exit(1)
		}
		log.Info("event publisher ready", slog.String("exchange", cfg.Events.Exchange))
	} else {
		log.Info("AMQP_URL not set, lifecycle events disabled")
	}
	defer publisher.Close()

	chatSvc := chatService.NewService(st,
		chatService.WithLogger(log),
		chatService.WithPublisher(publisher),
	)

	var assistSvc *assist.Service
	if cfg.Assist.Enabled() {
		assistSvc = assist.New(assist.Config{
			APIKey:  cfg.Assist.APIKey,
			BaseURL: cfg.Assist.BaseURL,
			Model:   cfg.Assist.Model,
		}, log)
		log.Info("reply suggestions enabled")
	} else {
		log.Info("OPENAI_API_KEY not set, reply suggestions disabled")
	}

	router := handler.NewRouter(chatSvc, assistSvc)
	startServer(ctx, log, cfg.Server, router)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		return postgresStore.Open(ctx, cfg.PostgresDSN)
	case config.StoreRedis:
		return redisStore.Open(ctx, redisStore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return memoryStore.New(), nil
	}
}

func startServer(ctx context.Context, log *slog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("halodesk api listening", slog.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		log.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
