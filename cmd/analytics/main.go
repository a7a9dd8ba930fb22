// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search events and index events from Kafka, aggregates them in
// memory (total searches, latency percentiles, cache hit rate, zero-result
// and top queries, indexed reports) and serves them at GET /api/v1/analytics
// and GET /api/v1/trending. With store.driver postgres the aggregate is
// snapshotted periodically and restored on startup.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/analytics/aggregator"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/health"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
	"github.com/OnlineMo/DeepResearch-Web/pkg/logger"
	"github.com/OnlineMo/DeepResearch-Web/pkg/middleware"
	"github.com/OnlineMo/DeepResearch-Web/pkg/postgres"
)

const snapshotInterval = time.Minute

// main boots the analytics service: it restores the last snapshot when
// Postgres is configured, starts one consumer per topic, registers health
// checks and serves the HTTP API. Graceful shutdown is triggered by
// SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)
	if !cfg.Kafka.Enabled {
		slog.Warn("kafka is disabled, the analytics service will receive no events")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	if cfg.Store.Driver == "postgres" {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()

		snapshots := aggregator.NewStore(pg, aggregator.DefaultKeep)
		if err := snapshots.Migrate(ctx); err != nil {
			slog.Error("snapshot migration failed", "error", err)
			os.Exit(1)
		}
		if err := snapshots.Restore(ctx, agg); err != nil {
			slog.Warn("restoring analytics snapshot failed", "error", err)
		}
		snapshotsDone := make(chan struct{})
		go func() {
			defer close(snapshotsDone)
			aggregator.RunSnapshots(ctx, snapshots, agg.Stats, snapshotInterval)
		}()
		// Wait for the final snapshot before the client is closed.
		defer func() { <-snapshotsDone }()
		checker.Register("postgres", health.PingCheck(pg.Ping, false))
	}

	if cfg.Kafka.Enabled {
		for _, topic := range []string{cfg.Kafka.Topics.SearchEvents, cfg.Kafka.Topics.ReportsIndexed} {
			c := kafka.NewConsumer(cfg.Kafka, topic, cfg.Kafka.ConsumerGroup+"-analytics", analytics.HandleEvent(agg))
			go func(topic string) {
				if err := c.Start(ctx); err != nil {
					slog.Error("analytics consumer error", "topic", topic, "error", err)
				}
			}(topic)
			slog.Info("analytics consumer started", "topic", topic)
		}
		checker.Register("kafka", health.Static(health.StatusUp, "consumers active"))
	} else {
		checker.Register("kafka", health.Static(health.StatusDegraded, "disabled"))
	}

	mux := http.NewServeMux()
	analytics.NewHandler(agg).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins))(chain)
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
