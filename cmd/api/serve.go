package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"teamulate/api/internal/app"
	"teamulate/api/internal/blob"
	"teamulate/api/internal/config"
	"teamulate/api/internal/email"
	"teamulate/api/internal/logging"
	"teamulate/api/internal/realtime"
	"teamulate/api/internal/search"
	"teamulate/api/internal/session"
	"teamulate/api/internal/store"
)

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel)
	reporter, err := logging.NewReporter(logger, cfg.SentryDSN, cfg.Environment)
	if err != nil {
		logger.Warn("sentry disabled", "error", err)
	}
	defer reporter.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := app.Dependencies{Reporter: reporter, Logger: logger}

	var db *sql.DB
	if isMemoryDatabase(cfg.DatabaseURL) {
		logger.Warn("using the in-memory store; data is lost on restart")
		deps.Store = store.NewMemoryStore()
	} else {
		db, err = store.Open(ctx, cfg.DatabaseURL, store.DefaultPool)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		deps.Store = store.NewPostgresStore(db)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer sessions.Close()
		logger.Info("refresh sessions stored in redis")
		deps.Sessions = sessions
	}

	registry := realtime.NewRegistry(logger)
	closeBackplane, err := attachBackplane(ctx, registry, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackplane()
	deps.Broadcaster = registry

	if deps.Blobs, err = openBlobStore(ctx, cfg.Blob); err != nil {
		return err
	}
	logger.Info("blob storage ready", "driver", cfg.Blob.Driver, "bucket", cfg.Blob.Bucket)

	var pg *search.PgSearch
	if db != nil {
		pg = search.NewPgSearch(db)
	}
	var meili *search.Meili
	if url := strings.TrimSpace(cfg.MeiliURL); url != "" {
		meili = search.NewMeili(url, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pg, logger)
	go searchService.ReindexAllFromPG(ctx)
	deps.Search = searchService

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured; invite mail disabled")
	}
	deps.Mailer = mailer

	service := app.New(cfg, deps)
	registry.UseAudience(service)
	sockets := realtime.NewHandler(registry, service, logger)
	// No read or write timeouts: they would stay on hijacked websocket conns.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, sockets).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Teamulate API listening", "addr", cfg.Addr, "backplane", cfg.Backplane)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		service.Close()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	service.Close()
	if err := registry.Close(); err != nil {
		logger.Warn("close backplane", "error", err)
	}
	return nil
}

// attachBackplane connects the registry to the configured fan-out transport.
// The returned func releases the transport connection.
func attachBackplane(ctx context.Context, registry *realtime.Registry, cfg config.Config, logger *slog.Logger) (func(), error) {
	switch cfg.Backplane {
	case "", "local":
		return func() {}, nil
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, errors.New("BACKPLANE=redis needs REDIS_URL")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := registry.UseBackplane(ctx, realtime.NewRedisBackplane(client, logger)); err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("realtime fan-out over redis")
		return func() { _ = client.Close() }, nil
	case "nats":
		url := strings.TrimSpace(cfg.NATSURL)
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("teamulate-api"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("nats connection failed: %w", err)
		}
		if err := registry.UseBackplane(ctx, realtime.NewNATSBackplane(conn, logger)); err != nil {
			conn.Close()
			return nil, err
		}
		logger.Info("realtime fan-out over nats", "url", url)
		return func() { _ = conn.Drain() }, nil
	}
	return nil, fmt.Errorf("unknown BACKPLANE %q (local, redis or nats)", cfg.Backplane)
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return blob.NewMemoryStore(), nil
	case "minio":
		store, err := blob.NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		return blob.NewS3Store(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown BLOB_DRIVER %q (memory, minio or s3)", cfg.Driver)
}
