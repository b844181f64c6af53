package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pulsechat/pulsechat/internal/chat"
	"github.com/pulsechat/pulsechat/internal/config"
	"github.com/pulsechat/pulsechat/internal/db"
	"github.com/pulsechat/pulsechat/internal/httpapi"
	"github.com/pulsechat/pulsechat/internal/httpapi/handlers"
	"github.com/pulsechat/pulsechat/internal/llm"
	"github.com/pulsechat/pulsechat/internal/outbox"
	"github.com/pulsechat/pulsechat/internal/store/rabbitmq"
	"github.com/pulsechat/pulsechat/internal/store/redisstore"
	"github.com/pulsechat/pulsechat/internal/vitals"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, config.ParseLevel(cfg.LogLevel))
	defer cleanup()
	slog.SetDefault(logger)

	gdb := db.Connect(cfg.DBDSN)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// redis dashboard cache; optional
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, dashboard cache disabled", "addr", cfg.RedisAddr, "error", err)
		rds = nil
	}
	cancel()
	if rds != nil {
		defer rds.Close()
	}

	// rabbit vitals ingest; optional, handler falls back to direct inserts
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Warn("rabbitmq unavailable, vitals will be written directly", "error", err)
		pub = nil
	}
	if pub != nil {
		defer pub.Close()
	}

	// telemetry outbox
	queue := outbox.NewQueue(gdb)
	probe := outbox.NewHTTPProbe(cfg.CollectorBaseURL)
	dispatcher := outbox.NewDispatcher(queue, nil, probe, logger, outbox.Options{
		DrainInterval: cfg.DrainInterval,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxAttempts:   cfg.MaxRetryAttempts,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// provider registry, routed by configured provider name
	reg := llm.NewRegistry()
	mock := llm.NewMockProvider()
	reg.Register("mock", func(ctx context.Context, model string) (llm.Provider, error) {
		return mock, nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (llm.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, reg, mock, cfg.LLMProvider, cfg.OllamaModel, cfg.ChatContextWindowSize, logger)
	if cfg.CollectorBaseURL != "" {
		svc.SetTelemetryExport(dispatcher, cfg.CollectorBaseURL)
	}

	h := handlers.NewHandler(cfg, svc, repo, vitals.NewRepo(gdb), rds, pub, logger)
	if cfg.CollectorBaseURL != "" {
		h.SetTelemetryExport(dispatcher, cfg.CollectorBaseURL)
	}
	router := httpapi.NewRouter(h)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
