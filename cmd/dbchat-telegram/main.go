package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/dbchat/dbchat/internal/assistant"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/llm"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/schema"
	"github.com/dbchat/dbchat/internal/telegram"
)

func main() {
	cfg, err := config.LoadFromEnv("dbchat-telegram")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logOutput, logCloser := observability.LogWriter(cfg, os.Stdout)
	defer func() { _ = logCloser.Close() }()
	logger := observability.NewLogger(cfg, logOutput)

	if cfg.Telegram.Token == "" {
		logger.Error("DBCHAT_TELEGRAM_TOKEN is required")
		os.Exit(1)
	}
	database, err := chat.SettingsFromConfig(cfg.Database)
	if err != nil {
		logger.Error("invalid default database settings", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.NewTelemetry(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}
	model, err := llm.NewInstrumented(provider, cfg.LLM.Provider, telemetry)
	if err != nil {
		logger.Error("failed to instrument llm client", slog.Any("error", err))
		os.Exit(1)
	}

	store := chat.NewStore()
	defer func() { _ = store.Close() }()
	go func() {
		_ = (&chat.Reaper{
			Store:       store,
			IdleTimeout: cfg.Session.IdleTimeout,
			Interval:    cfg.Session.ReapInterval,
			Logger:      logger,
		}).Run(ctx)
	}()

	handler := &telegram.Handler{
		Store: store,
		Assistant: assistant.New(model, assistant.Config{
			RowLimit:          cfg.Query.RowLimit,
			MaxResultRows:     cfg.Prompt.MaxResultRows,
			MaxQuestionLength: cfg.Session.MaxQuestionLength,
			Temperature:       cfg.LLM.Temperature,
		}, logger, telemetry.Tracer),
		Connector: chat.SQLConnector{
			QueryTimeout: cfg.Query.Timeout,
			Schema: schema.Options{
				SampleRows:    cfg.Schema.SampleRows,
				IncludeTables: cfg.Schema.IncludeTables,
			},
		},
		Database: database,
		Logger:   logger,
	}

	b, err := bot.New(cfg.Telegram.Token, bot.WithDefaultHandler(func(context.Context, *bot.Bot, *models.Update) {}))
	if err != nil {
		logger.Error("failed to create telegram bot", slog.Any("error", err))
		os.Exit(1)
	}
	handler.Register(b)

	logger.Info("starting telegram bot",
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("database", database.Summary()),
	)
	b.Start(ctx)
	logger.Info("telegram bot stopped")
}
