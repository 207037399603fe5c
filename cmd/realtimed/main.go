// realtimed keeps live connections to the workflow gateway for a set of
// workflows and mirrors their events into the in-memory store, the query
// cache and, when enabled, the PostgreSQL event journal.
//
// Usage: realtimed --config configs/realtimed.yaml [--workflow wf-1 ...]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/workflow-realtime/internal/auth"
	"github.com/rickgao/workflow-realtime/internal/cache"
	"github.com/rickgao/workflow-realtime/internal/config"
	"github.com/rickgao/workflow-realtime/internal/connection"
	"github.com/rickgao/workflow-realtime/internal/database"
	"github.com/rickgao/workflow-realtime/internal/journal"
	"github.com/rickgao/workflow-realtime/internal/metrics"
	"github.com/rickgao/workflow-realtime/internal/router"
	"github.com/rickgao/workflow-realtime/internal/store"
	"github.com/rickgao/workflow-realtime/internal/version"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/realtimed.yaml", "path to config file")
	workflows := pflag.StringSliceP("workflow", "w", nil, "workflow to connect at startup (repeatable)")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting realtimed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, *workflows, logger); err != nil {
		logger.Error("realtimed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("realtimed stopped")
}

func run(cfg *config.RealtimeConfig, extraWorkflows []string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"origin", cfg.Gateway.Origin,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr := metrics.New(reg)

	creds, err := auth.LoadCredentials(cfg.Gateway.Token, cfg.Gateway.TokenFile)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return fmt.Errorf("load gateway credentials: %w", err)
	}
	if creds == nil {
		logger.Warn("no gateway token configured, connecting anonymously")
	}

	// State store
	mem := store.NewMemory(store.MemoryConfig{
		HistoryLimit:     cfg.Store.HistoryLimit,
		SubscriberBuffer: cfg.Store.SubscriberBuffer,
	}, logger)
	defer mem.Close()

	dispatcher := store.Fanout{mem}

	// Event journal
	var pool *pgxpool.Pool
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
		jw = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		dispatcher = append(dispatcher, jw)
	}

	// Query cache
	lru, err := cache.NewLRU(cfg.Cache.Size, reg)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}
	invalidator := cache.Multi{lru}

	var nc *nats.Conn
	if cfg.Cache.NATS.URL != "" {
		nc, err = nats.Connect(cfg.Cache.NATS.URL,
			nats.Name("realtimed-"+cfg.Instance.ID),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()

		if _, err := cache.SubscribeInvalidations(nc, cfg.Cache.NATS.Subject, cfg.Instance.ID, lru, logger); err != nil {
			return err
		}
		invalidator = append(invalidator, cache.NewNATSInvalidator(nc, cfg.Cache.NATS.Subject, cfg.Instance.ID, logger))
		logger.Info("cross-instance invalidation enabled", "subject", cfg.Cache.NATS.Subject)
	}

	// Connection manager and router
	dialer := connection.NewWSDialer(dialerConfig(cfg.Gateway, creds), logger)
	mgr := connection.NewManager(managerConfig(cfg), dispatcher,
		connection.WithLogger(logger),
		connection.WithMetrics(mtr),
		connection.WithDialer(dialer),
	)
	rtr := router.NewRouter(dispatcher, invalidator, mgr,
		router.WithLogger(logger),
		router.WithMetrics(mtr),
	)
	mgr.SetHandler(rtr)

	deps := handlerDeps{
		manager:     mgr,
		router:      rtr,
		store:       mem,
		journal:     jw,
		gatherer:    reg,
		metricsPath: cfg.Metrics.Path,
	}
	if pool != nil {
		deps.pool = pool
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if jw != nil {
		if err := jw.Start(gctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	g.Go(func() error {
		logger.Info("starting http server", "addr", srv.Addr, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, id := range startupWorkflows(cfg.Workflows, extraWorkflows) {
		if err := mgr.Connect(id); err != nil {
			logger.Error("connect failed", "workflow_id", id, "error", err)
		}
	}

	logger.Info("realtimed running",
		"instance_id", cfg.Instance.ID,
		"workflows", mgr.Stats().Workflows,
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := mgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection manager stop", "error", err)
		}
		if jw != nil {
			if err := jw.Stop(shutdownCtx); err != nil {
				logger.Warn("journal stop", "error", err)
			}
		}
		if nc != nil {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats drain", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
