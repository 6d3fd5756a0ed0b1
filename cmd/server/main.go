// Command server starts the posting API.
//
// It verifies provider-issued session tokens, rate-limits post creation in
// Redis, stores posts in PostgreSQL (or memory for local work) and assembles
// feeds by joining posts with directory profiles and cached image digests.
// Newly created posts are announced on Kafka so the warmer can precompute
// digests.
//
// Usage:
//
//	go run ./cmd/server [-config configs/development.yaml] [-profiles profiles.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	apimw "github.com/Adithya-Monish-Kumar-K/chirp/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/api/router"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/auth/session"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest"
	digestcache "github.com/Adithya-Monish-Kumar-K/chirp/internal/digest/cache"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/handler"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/service"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/store"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	profileclient "github.com/Adithya-Monish-Kumar-K/chirp/internal/profile/client"
	"github.com/Adithya-Monish-Kumar-K/chirp/migrations"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	profilesPath := flag.String("profiles", "", "YAML list of profiles served when directory.baseUrl is empty")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting chirp server",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		ms, err := metrics.Listen(cfg.Metrics.Port, prometheus.DefaultGatherer)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer ms.Shutdown(context.Background())
	}

	checker := health.NewChecker(cfg.Timeouts.Request)

	// Post store.
	var postStore store.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(context.Background(), migrations.FS); err != nil {
			slog.Error("failed to migrate postgres", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(db, true))
		postStore = store.NewPostgres(db)
		slog.Info("connected to postgres")
	default:
		slog.Warn("using in-memory post store, posts are lost on restart")
		postStore = store.NewMemory()
	}

	// Redis backs the rate limiter and the digest cache.
	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	checker.Register("redis", health.PingCheck(rdb, true))
	slog.Info("connected to redis")

	limiter := ratelimit.New(rdb, cfg.RateLimit, cfg.Timeouts.Limiter, m)

	directory, err := newDirectory(cfg, *profilesPath, m)
	if err != nil {
		slog.Error("failed to set up profile directory", "error", err)
		os.Exit(1)
	}

	computer := digest.NewComputer(cfg.Digest, cfg.Timeouts.Digest, m)
	digests := digestcache.New(rdb, computer, cfg.Digest, m)
	assembler := feed.New(directory, digests, cfg.Feed, cfg.Directory.MaxBatch, m)

	deps := service.Deps{
		Store:     postStore,
		Limiter:   limiter,
		Directory: directory,
		Assembler: assembler,
		Metrics:   m,
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PostCreated)
		defer producer.Close()
		checker.Register("kafka", health.PingCheck(producer, false))
		deps.Publisher = producer
	}

	svc := service.New(deps, service.Options{
		PageSize:     cfg.Feed.PageSize,
		StoreTimeout: cfg.Timeouts.Store,
		Tracing:      cfg.Tracing.Enabled,
	})

	verifier, err := session.NewVerifier(cfg.Auth)
	if err != nil {
		slog.Error("failed to set up session verification", "error", err)
		os.Exit(1)
	}

	chain := router.New(router.Deps{
		Handler:        handler.New(svc),
		Verifier:       verifier,
		Health:         checker,
		Metrics:        m,
		RequestTimeout: cfg.Timeouts.Request,
		CORS:           apimw.DefaultCORSConfig(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := svc.Drain(shutdownCtx); err != nil {
			slog.Warn("post events still in flight at shutdown", "error", err)
		}
	}()

	slog.Info("chirp server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-drained

	slog.Info("chirp server stopped")
}

// newDirectory returns the HTTP directory client, or a static directory
// loaded from profilesPath when no provider is configured.
func newDirectory(cfg *config.Config, profilesPath string, m *metrics.Metrics) (profile.Directory, error) {
	if cfg.Directory.BaseURL != "" {
		c := profileclient.New(cfg.Directory, cfg.Timeouts.Directory, m)
		return profile.Bounded(c, cfg.Timeouts.Directory), nil
	}

	slog.Warn("directory.baseUrl is empty, serving profiles from a static list", "path", profilesPath)
	if profilesPath == "" {
		return profile.NewStatic(), nil
	}
	data, err := os.ReadFile(profilesPath)
	if err != nil {
		return nil, fmt.Errorf("reading profiles %s: %w", profilesPath, err)
	}
	var list []profile.Profile
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing profiles %s: %w", profilesPath, err)
	}
	return profile.NewStatic(list...), nil
}
