// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and snapshot events from Kafka, aggregates them in
// memory (query volume, latency percentiles, cache hit rate, zero-result
// queries, fallback usage) and serves them at GET /api/v1/analytics. With
// analytics.persist set, stats are also snapshotted to PostgreSQL and served
// at GET /api/v1/analytics/history.
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

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/postgres"
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
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("aggregator", func(ctx context.Context) health.ComponentHealth {
		st := agg.Stats()
		return health.ComponentHealth{
			Status: health.StatusUp,
			Details: map[string]any{
				"total_searches":  st.TotalSearches,
				"snapshots_seen":  st.SnapshotsSeen,
				"last_snapshot":   st.LastSnapshot,
				"zero_result_pct": zeroResultPct(st),
			},
		}
	})

	var history analytics.History
	storeDone := make(chan struct{})
	if cfg.Analytics.Persist {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := aggregator.NewStore(db, cfg.Analytics.Table, cfg.Analytics.Retention)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare analytics table", "error", err)
			os.Exit(1)
		}
		if last, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not read previous analytics snapshot", "error", err)
		} else if last != nil {
			slog.Info("previous analytics snapshot found",
				"total_searches", last.TotalSearches,
				"last_corpus_snapshot", last.LastSnapshot,
			)
		}
		go func() {
			defer close(storeDone)
			store.Run(ctx, agg, cfg.Analytics.SaveInterval)
		}()
		history = store
		checker.Register("postgres", health.PingCheck(db, health.StatusDown))
	} else {
		close(storeDone)
	}

	analyticsHandler := analytics.NewHandler(agg, history)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-storeDone
	slog.Info("analytics service stopped")
}

func zeroResultPct(st analytics.AggregatedStats) float64 {
	if st.TotalSearches == 0 {
		return 0
	}
	return float64(st.ZeroResultCount) / float64(st.TotalSearches) * 100
}
