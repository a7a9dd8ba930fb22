// Command indexer keeps the report store in step with the archive.
//
// It polls the archive revision; when it changes every listed report is
// read, saved to the store and announced on the reports.indexed topic so
// searchers can reload. With a local archive and local.watch set, edited
// files are refreshed as soon as they are written.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
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

	"github.com/OnlineMo/DeepResearch-Web/internal/app"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive/local"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/crawler"
	"github.com/OnlineMo/DeepResearch-Web/internal/store"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/health"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
	"github.com/OnlineMo/DeepResearch-Web/pkg/logger"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "archive", cfg.Archive.Kind, "store", cfg.Store.Driver)
	if cfg.Store.Driver == "none" {
		slog.Warn("store.driver is none, crawled reports live only as long as this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsServer, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer metricsServer.Shutdown(context.Background())
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open report store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	p, err := app.NewParser(cfg.Parser, m)
	if err != nil {
		slog.Error("invalid parser config", "error", err)
		os.Exit(1)
	}
	src, localSrc, err := app.OpenSource(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open archive", "error", err)
		os.Exit(1)
	}
	library := app.NewLibrary(src, cfg, p, m)
	go library.RunSweeper(ctx, cfg.Archive.ContentTTL)

	opts := []crawler.Option{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReportsIndexed)
		defer producer.Close()
		opts = append(opts, crawler.WithPublisher(producer))
		slog.Info("publishing index events", "topic", cfg.Kafka.Topics.ReportsIndexed)
	}
	c := crawler.New(library, st, opts...)

	last, err := st.Revision(ctx)
	if err != nil {
		slog.Warn("reading stored revision failed, starting with a full crawl", "error", err)
		last = archive.Revision{}
	}
	poller := archive.NewPoller(library.Source(), cfg.Archive.PollInterval, last)
	go poller.Run(ctx, c.Crawl)

	if localSrc != nil && cfg.Local.Watch {
		watcher, err := local.NewWatcher(localSrc, local.DefaultDebounce)
		if err != nil {
			slog.Error("failed to watch archive dir", "error", err)
			os.Exit(1)
		}
		go watcher.Run(ctx, func(ctx context.Context, paths []string) {
			if err := c.Refresh(ctx, paths); err != nil {
				slog.Error("refreshing changed reports failed", "error", err)
			}
		})
	}

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st.Ping, true))
	checker.Register("archive", app.ArchiveCheck(poller))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Indexer.Port),
		Handler:      middleware.RequestID(mux),
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

	slog.Info("indexer health endpoint listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("indexer service stopped")
}
