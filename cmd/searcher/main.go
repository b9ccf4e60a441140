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

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/payload"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/spell"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/summary"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/study-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting study search service",
		"port", cfg.Server.Port,
		"corpus_source", cfg.Corpus.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsStopped := m.StartServer(ctx, cfg.Metrics.Port)
		defer func() { <-metricsStopped }()
	}

	checker := health.NewChecker()

	var source corpus.Source
	switch cfg.Corpus.Source {
	case "postgres":
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db, health.StatusDegraded))
		source = corpus.NewPostgresSource(db, cfg.Corpus.Table)
	default:
		source = corpus.NewFileSource(cfg.Corpus.Path)
	}

	var store cache.Store
	if cfg.Cache.RedisEnabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, cache mirror disabled", "error", err)
		} else {
			defer redisClient.Close()
			store = cache.NewRedisStore(redisClient, cfg.Cache.RedisTTL, cfg.Cache.MaxEntries)
			checker.Register("redis", health.PingCheck(redisClient, health.StatusDegraded))
			slog.Info("cache mirror enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.RedisTTL)
		}
	}
	queryCache := cache.New[payload.Payload](cfg.Cache, store, m)

	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer
	}
	collector := analytics.NewCollector(publisher, aggregator, 0)
	collector.Start(ctx)
	defer collector.Close()

	engine := indexer.NewEngine(source, indexer.BuildOptions{
		Workers: cfg.Corpus.BuildWorkers,
		Spell:   spell.OptionsFromConfig(cfg.Spell),
	}, m)
	engine.OnPublish(func(snap *indexer.Snapshot) {
		if err := queryCache.Invalidate(context.Background()); err != nil {
			slog.Warn("cache invalidation after publish failed", "error", err)
		}
		collector.Track(analytics.SnapshotEvent{
			Type:      analytics.EventSnapshot,
			Version:   snap.Version,
			Source:    snap.Source,
			Records:   snap.Stats.Records,
			Tokens:    snap.Stats.Tokens,
			Skipped:   snap.Stats.Skipped,
			Timestamp: snap.BuiltAt,
		})
	})

	err = resilience.Retry(ctx, "initial-corpus-load", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func() error {
		_, err := engine.Reload(ctx)
		return err
	})
	if err != nil {
		slog.Error("initial corpus load failed", "error", err)
		os.Exit(1)
	}

	if cfg.Corpus.Watch && cfg.Corpus.Source == "file" {
		watcher := corpus.NewWatcher(cfg.Corpus.Path, func(ctx context.Context) {
			if _, err := engine.Reload(ctx); err != nil {
				slog.Error("reload after corpus change failed", "error", err)
			}
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				slog.Error("corpus watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Kafka.Enabled {
		// Every replica rebuilds, so each joins its own group.
		reloadCfg := cfg.Kafka
		host, _ := os.Hostname()
		reloadCfg.ConsumerGroup = fmt.Sprintf("%s-reload-%s", cfg.Kafka.ConsumerGroup, host)
		reloads := consumer.New(kafka.NewConsumer(reloadCfg, cfg.Kafka.Topics.CorpusReload, consumer.HandleMessage(engine)))
		go func() {
			if err := reloads.Start(ctx); err != nil {
				slog.Error("reload consumer stopped", "error", err)
			}
		}()
	}

	exec := executor.New(cfg.Search, m)
	builder := payload.NewBuilder(exec, summary.Heuristic{}, queryCache, cfg.Search, m)
	h := handler.New(engine, builder, queryCache, collector)
	checker.Register("snapshot", h.SnapshotCheck)
	analyticsH := analytics.NewHandler(aggregator, nil)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
		limiter.StartCleanup(ctx, 5*time.Minute)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
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

	slog.Info("study search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("study search service stopped")
}
