// streamtest connects one workflow to the realtime gateway and prints every
// store event it produces to the console.
// Usage: go run ./cmd/streamtest --config configs/realtimed.local.yaml --workflow wf-123
//
// The gateway token is read from the config (gateway.token or
// gateway.token_file); ${VAR} references are expanded from the environment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/workflow-realtime/internal/auth"
	"github.com/rickgao/workflow-realtime/internal/config"
	"github.com/rickgao/workflow-realtime/internal/connection"
	"github.com/rickgao/workflow-realtime/internal/router"
	"github.com/rickgao/workflow-realtime/internal/store"
)

func main() {
	configPath := pflag.String("config", "configs/realtimed.example.yaml", "path to config file")
	workflowID := pflag.String("workflow", "", "workflow to connect (required)")
	duration := pflag.Duration("duration", 0, "stop after this long (0 = until Ctrl+C)")
	verbose := pflag.Bool("verbose", false, "print full event JSON")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *workflowID == "" {
		logger.Error("--workflow is required")
		os.Exit(2)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *duration)
		defer stop()
	}

	creds, err := auth.LoadCredentials(cfg.Gateway.Token, cfg.Gateway.TokenFile)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}

	mem := store.NewMemory(store.DefaultMemoryConfig(), logger)
	defer mem.Close()
	events := mem.Subscribe(*workflowID)

	dialerCfg := connection.DefaultDialerConfig()
	dialerCfg.Header = creds.Header()

	connCfg := connection.DefaultManagerConfig()
	connCfg.Origin = cfg.Gateway.Origin
	connCfg.PathTemplate = cfg.Gateway.PathTemplate
	connCfg.Subprotocols = cfg.Gateway.Subprotocols

	connMgr := connection.NewManager(connCfg, mem,
		connection.WithLogger(logger),
		connection.WithDialer(connection.NewWSDialer(dialerCfg, logger)),
	)
	rtr := router.NewRouter(mem, nil, connMgr, router.WithLogger(logger))
	connMgr.SetHandler(rtr)

	if err := connMgr.Connect(*workflowID); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				state, _ := connMgr.State(*workflowID)
				logger.Info("stats",
					"status", connMgr.Status(*workflowID),
					"reconnect_attempts", state.ReconnectAttempts,
					"queued", state.Queued,
					"router_received", routerStats.MessagesReceived,
					"router_routed", routerStats.MessagesRouted,
					"parse_errors", routerStats.ParseErrors,
					"unknown", routerStats.UnknownMessages,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "workflow_id", *workflowID)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-events:
			if !ok {
				break loop
			}
			if ev, ok := msg.(store.Event); ok {
				printEvent(ev, *verbose)
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := connMgr.Stop(shutdownCtx); err != nil {
		logger.Warn("stop connection manager", "error", err)
	}
	go func() {
		for range events {
		}
	}()

	logger.Info("shutdown complete")
}

func printEvent(ev store.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", ev.Type(), data)
		return
	}

	switch e := ev.(type) {
	case store.ConnectionEstablished:
		fmt.Printf("[CONNECTED] workflow=%s connection=%s\n", e.WorkflowID, e.ConnectionID)
	case store.ConnectionLost:
		fmt.Printf("[LOST] workflow=%s code=%d clean=%t reason=%q\n", e.WorkflowID, e.Code, e.WasClean, e.Reason)
	case store.ConnectionError:
		fmt.Printf("[ERROR] workflow=%s retryable=%t error=%q\n", e.WorkflowID, e.Retryable, e.Error)
	case store.ReconnectScheduled:
		fmt.Printf("[RECONNECT] workflow=%s attempt=%d delay=%s\n", e.WorkflowID, e.Attempt, e.Delay)
	case store.AgentStatusUpdated:
		fmt.Printf("[AGENT] workflow=%s agent=%s status=%s\n", e.WorkflowID, e.AgentID, e.Status)
	case store.WorkflowStatusChanged:
		fmt.Printf("[WORKFLOW] workflow=%s status=%s previous=%s\n", e.WorkflowID, e.Status, e.PreviousStatus)
	case store.LiveUpdateReceived:
		// Printed through the typed event that follows it.
	default:
		fmt.Printf("[%s] workflow=%s\n", ev.Type(), ev.Workflow())
	}
}
