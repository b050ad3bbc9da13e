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

	"github.com/dbchat/dbchat/internal/api"
	"github.com/dbchat/dbchat/internal/api/uistatic"
	"github.com/dbchat/dbchat/internal/assistant"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/export"
	"github.com/dbchat/dbchat/internal/llm"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query/sqldb"
	"github.com/dbchat/dbchat/internal/schema"
	"github.com/dbchat/dbchat/internal/storage"
	s3store "github.com/dbchat/dbchat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("dbchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logOutput, logCloser := observability.LogWriter(cfg, os.Stdout)
	defer func() { _ = logCloser.Close() }()
	logger := observability.NewLogger(cfg, logOutput)

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
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.Any("error", err))
		}
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

	connector := chat.SQLConnector{
		QueryTimeout: cfg.Query.Timeout,
		Schema: schema.Options{
			SampleRows:    cfg.Schema.SampleRows,
			IncludeTables: cfg.Schema.IncludeTables,
		},
	}
	assist := assistant.New(model, assistant.Config{
		RowLimit:          cfg.Query.RowLimit,
		MaxResultRows:     cfg.Prompt.MaxResultRows,
		MaxQuestionLength: cfg.Session.MaxQuestionLength,
		Temperature:       cfg.LLM.Temperature,
	}, logger, telemetry.Tracer)

	var defaultDatabase *sqldb.Settings
	if cfg.Database.AutoConnect {
		settings, err := chat.SettingsFromConfig(cfg.Database)
		if err != nil {
			logger.Error("invalid default database settings", slog.Any("error", err))
			os.Exit(1)
		}
		defaultDatabase = &settings
	}

	var objectStore storage.ObjectStore
	var exporter *export.Exporter
	if cfg.Export.Enabled {
		s3, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = s3
		exporter = export.NewExporter(objectStore)
	}

	reaper := &chat.Reaper{
		Store:       store,
		IdleTimeout: cfg.Session.IdleTimeout,
		Interval:    cfg.Session.ReapInterval,
		Logger:      logger,
	}
	go func() {
		_ = reaper.Run(ctx)
	}()

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:          logger,
		Store:           store,
		Connector:       connector,
		Assistant:       assist,
		Exporter:        exporter,
		DefaultDatabase: defaultDatabase,
		UI:              uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckLLMConfig(cfg),
			api.CheckExportStore(objectStore),
		),
		DependencyTimeout: 2 * time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", cfg.LLM.Provider),
			slog.Bool("export_enabled", cfg.Export.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}
