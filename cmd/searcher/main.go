// Command searcher serves the JSON API: search, suggestions, trending
// queries and the archive views.
//
// At startup the index is loaded from the report store. When Kafka is
// enabled and a shared store is configured, later changes arrive as
// reports.indexed events from the indexer service; otherwise the searcher
// polls the archive and crawls it in process.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/google/uuid"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/analytics/collector"
	"github.com/OnlineMo/DeepResearch-Web/internal/app"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive/local"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/consumer"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/crawler"
	"github.com/OnlineMo/DeepResearch-Web/internal/render"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/handler"
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

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"archive", cfg.Archive.Kind,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Backend,
	)

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

	engine := app.NewEngine(m)
	warm, err := st.All(ctx)
	if err != nil {
		slog.Warn("loading report snapshot failed", "error", err)
	}
	if len(warm) > 0 {
		engine.Build(warm)
		slog.Info("index warm-started from store", "reports", len(warm))
	}

	queryCache := app.NewCache(cfg, m)
	defer queryCache.Close()
	go queryCache.Run(ctx, cfg.Cache)

	aggregator := analytics.NewAggregator()
	recorders := []analytics.Recorder{aggregator}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		batch := collector.NewBatchCollector(producer, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
		batch.Start(ctx)
		defer batch.Close()
		recorders = append(recorders, batch)
		slog.Info("search events published", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	service := searcher.New(engine, app.NewExecutor(engine, cfg.Search),
		searcher.WithCache(queryCache.QueryCache),
		searcher.WithRecorder(analytics.Fanout(recorders...)),
		searcher.WithTrending(aggregator),
		searcher.WithMetrics(m),
	)

	// A shared store fed by the indexer service is followed through Kafka.
	// Without one this process crawls the archive itself.
	var poller *archive.Poller
	if cfg.Kafka.Enabled && cfg.Store.Driver != "none" {
		followIndexer(ctx, cfg, engine, st)
	} else {
		poller = crawlInProcess(ctx, cfg, library, localSrc, engine, st, len(warm) > 0)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if engine.State() == indexer.StateEmpty {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index not built yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d reports", engine.Len())}
	})
	checker.Register("store", health.PingCheck(st.Ping, true))
	if poller != nil {
		checker.Register("archive", app.ArchiveCheck(poller))
	} else {
		checker.Register("archive", health.Static(health.StatusUp, "following indexer"))
	}
	if client := queryCache.Redis(); client != nil {
		checker.Register("redis", health.PingCheck(client.Ping, false))
	}

	mux := http.NewServeMux()
	handler.New(service, library, render.New(),
		handler.WithMaxQueryLength(cfg.Search.MaxQueryLength),
		handler.WithEngine(engine),
	).Register(mux)
	analyticsH := analytics.NewHandler(aggregator)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
		go limiter.RunCleanup(ctx)
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins))(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

// followIndexer applies reports.indexed events. Every searcher instance
// joins its own consumer group so each one sees every event.
func followIndexer(ctx context.Context, cfg *config.Config, engine *indexer.Engine, st store.Store) {
	group := cfg.Kafka.ConsumerGroup + "-searcher-" + uuid.NewString()
	kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ReportsIndexed, group, consumer.HandleMessage(engine, st))
	ic := consumer.New(kc)
	go func() {
		if err := ic.Start(ctx); err != nil {
			slog.Error("index consumer error", "error", err)
		}
	}()
	slog.Info("following indexer", "topic", cfg.Kafka.Topics.ReportsIndexed, "group", group)
}

// crawlInProcess polls the archive and crawls it on every new revision. A
// warm index skips the crawl for the revision it was saved at.
func crawlInProcess(ctx context.Context, cfg *config.Config, library *archive.Library, localSrc *local.Source,
	engine *indexer.Engine, st store.Store, warm bool) *archive.Poller {
	c := crawler.New(library, st, crawler.WithEngine(engine))

	var last archive.Revision
	if warm {
		rev, err := st.Revision(ctx)
		if err != nil {
			slog.Warn("reading stored revision failed", "error", err)
		}
		last = rev
	}
	poller := archive.NewPoller(library.Source(), cfg.Archive.PollInterval, last)
	go poller.Run(ctx, c.Crawl)

	if localSrc != nil && cfg.Local.Watch {
		watcher, err := local.NewWatcher(localSrc, local.DefaultDebounce)
		if err != nil {
			slog.Error("failed to watch archive dir", "error", err)
			return poller
		}
		go watcher.Run(ctx, func(ctx context.Context, paths []string) {
			if err := c.Refresh(ctx, paths); err != nil {
				slog.Error("refreshing changed reports failed", "error", err)
			}
		})
	}
	slog.Info("crawling archive in process", "poll_interval", cfg.Archive.PollInterval)
	return poller
}
