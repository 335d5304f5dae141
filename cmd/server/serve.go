package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rpattn/bulkingest/internal/config"
	"github.com/rpattn/bulkingest/internal/db"
	"github.com/rpattn/bulkingest/internal/export"
	"github.com/rpattn/bulkingest/internal/ingestion"
	"github.com/rpattn/bulkingest/internal/middleware"
	"github.com/rpattn/bulkingest/internal/ratelimit"
	"github.com/rpattn/bulkingest/internal/repository"
	"github.com/rpattn/bulkingest/internal/server"
)

func newServeCommand(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// stores bundles the repositories picked by STORE_DRIVER.
type stores struct {
	records repository.RecordRepository
	logs    repository.IngestionLogRepository
	ping    func(ctx context.Context) error
	close   func()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return stores{
			records: repository.NewMemoryRecordRepository(),
			logs:    repository.NewMemoryIngestionLogRepository(cfg.Store.LogCapacity),
			close:   func() {},
		}, nil

	case config.StorePostgres:
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return stores{}, err
		}
		conn, err := db.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return stores{}, err
		}
		return stores{
			records: repository.NewRecordRepository(conn),
			logs:    repository.NewIngestionLogRepository(conn.Pool),
			ping:    conn.Pool.Ping,
			close:   conn.Close,
		}, nil

	default:
		bolt := repository.NewBoltRecordRepository(cfg.Store.BoltPath)
		if err := bolt.Open(); err != nil {
			return stores{}, err
		}
		return stores{
			records: bolt,
			logs:    repository.NewMemoryIngestionLogRepository(cfg.Store.LogCapacity),
			ping: func(ctx context.Context) error {
				_, err := bolt.Count(ctx)
				return err
			},
			close: func() {
				if err := bolt.Close(); err != nil {
					logger.Error("failed to close bolt store", "error", err)
				}
			},
		}, nil
	}
}

func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit

	if rl.Backend == config.RateLimitRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     rl.RedisAddr,
			Password: rl.RedisPassword,
			DB:       rl.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", rl.RedisAddr, err)
		}
		store := ratelimit.NewRedisStore(client, ratelimit.WithKeyPrefix("bulkingest:ratelimit"))
		logger.Info("rate limiter using redis", "addr", rl.RedisAddr)
		return ratelimit.New(store, rl.Max, rl.Window), func() { _ = client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore(rl.Window)
	store.Start(ctx)
	return ratelimit.New(store, rl.Max, rl.Window), store.Stop, nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.close()

	limiter, stopLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopLimiter()

	opts := ingestion.Options{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		MaxRecords:       cfg.Upload.MaxRecords,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
		DefaultBatchSize: cfg.Upload.DefaultBatchSize,
		DefaultLimit:     cfg.Upload.DefaultLimit,
		DefaultOffset:    cfg.Upload.DefaultOffset,
	}

	handler := server.NewHandler(server.Deps{
		Ingestion:    ingestion.NewService(st.records, st.logs, opts, logger),
		Export:       export.NewService(st.records, export.WithLogger(logger)),
		Limiter:      limiter,
		KeyFn:        middleware.DefaultKeyFunc(cfg.TrustForwardedFor),
		APIKey:       cfg.Auth.APIKey,
		APIKeyHeader: cfg.Auth.Header,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		Ping:         st.ping,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// uploads of the maximum size need time on slow links
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"store", cfg.Store.Driver,
			"rateLimitBackend", cfg.RateLimit.Backend,
			"rateLimitMax", cfg.RateLimit.Max,
			"rateLimitWindow", cfg.RateLimit.Window,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
