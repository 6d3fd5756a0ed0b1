// Command warmer consumes post.created events and precomputes the author's
// image digest into Redis, so feed reads after a new post hit the cache.
//
// Usage:
//
//	go run ./cmd/warmer [-config configs/development.yaml] [-purge]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest"
	digestcache "github.com/Adithya-Monish-Kumar-K/chirp/internal/digest/cache"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/digest/warmer"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/profile"
	profileclient "github.com/Adithya-Monish-Kumar-K/chirp/internal/profile/client"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	purge := flag.Bool("purge", false, "drop every cached digest before consuming")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Kafka.Enabled {
		slog.Error("kafka is disabled, nothing to consume")
		os.Exit(1)
	}
	if cfg.Directory.BaseURL == "" {
		slog.Error("directory.baseUrl is required by the warmer")
		os.Exit(1)
	}
	slog.Info("starting digest warmer",
		"topic", cfg.Kafka.Topics.PostCreated,
		"group", cfg.Kafka.ConsumerGroup,
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

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	directory := profile.Bounded(
		profileclient.New(cfg.Directory, cfg.Timeouts.Directory, m),
		cfg.Timeouts.Directory,
	)
	computer := digest.NewComputer(cfg.Digest, cfg.Timeouts.Digest, m)
	digests := digestcache.New(rdb, computer, cfg.Digest, m)
	if *purge {
		if _, err := digests.Purge(context.Background()); err != nil {
			slog.Error("failed to purge digest cache", "error", err)
			os.Exit(1)
		}
	}
	w := warmer.New(directory, digests)

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.PostCreated, w.HandleMessage())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("digest warmer stopped")
}
