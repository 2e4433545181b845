// Package main is the entry point for the DevSwarm office daemon.
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

	"github.com/devswarm/devswarm/internal/bridge"
	"github.com/devswarm/devswarm/internal/buildinfo"
	"github.com/devswarm/devswarm/internal/config"
	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/dispatcher"
	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/httpapi"
	"github.com/devswarm/devswarm/internal/hub"
	"github.com/devswarm/devswarm/internal/orchestration"
	"github.com/devswarm/devswarm/internal/snapshot"
	"github.com/devswarm/devswarm/internal/store"
	"github.com/devswarm/devswarm/internal/taskqueue"
	"github.com/devswarm/devswarm/internal/wsconn"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("starting devswarmd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(*configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		logger.Info("config loaded", "path", cfgPath)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		logger.Error("failed to open store", "dsn", cfg.StoreDSN, "error", err)
		os.Exit(1)
	}
	defer s.Close()
	logger.Info("store opened", "dsn", cfg.StoreDSN)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.SeedRoster(ctx); err != nil {
		logger.Error("failed to seed agent roster", "error", err)
		os.Exit(1)
	}
	logger.Info("agent roster seeded", "count", len(store.DefaultRoster))

	var bus eventbus.Bus
	if cfg.EventBusConfigured() {
		mqttBus, err := eventbus.NewMQTTBus(ctx, cfg.EventBusURL, "devswarmd", logger)
		if err != nil {
			logger.Error("failed to connect event bus, falling back to in-process bus", "url", cfg.EventBusURL, "error", err)
			bus = eventbus.NewMemBus()
		} else {
			bus = mqttBus
			logger.Info("event bus connected", "url", cfg.EventBusURL)
		}
	} else {
		bus = eventbus.NewMemBus()
		logger.Info("event bus: in-process (no event_bus_url configured)")
	}
	defer bus.Close()

	assembler := snapshot.New(s, cfg.SnapshotMessagesLimit)
	publisher := delta.New(bus, logger)
	h := hub.New(cfg.HubSendBuffer, logger)

	br := bridge.New(assembler, bus, h, cfg.HeartbeatInterval, logger)
	go br.Run(ctx)

	var proxy http.Handler
	var orchestrator taskqueue.Orchestrator
	var executor dispatcher.Executor
	if cfg.OrchestrationConfigured() {
		client := orchestration.NewClient(cfg.ExternalOrchestrationBaseURL, nil, logger)
		orchestrator, executor = client, client
		proxy, err = orchestration.NewProxy(cfg.ExternalOrchestrationBaseURL, logger)
		if err != nil {
			logger.Error("failed to build orchestration proxy", "error", err)
			os.Exit(1)
		}
		logger.Info("orchestration collaborator configured", "base_url", cfg.ExternalOrchestrationBaseURL)
	} else {
		unavailable := orchestration.NewUnavailable()
		orchestrator, executor = unavailable, unavailable
		logger.Warn("no external_orchestration_base_url configured - proxy routes and task/dispatch execution will answer upstream_unavailable")
	}

	tq := taskqueue.New(s, orchestrator, taskqueue.DefaultGroup, 0, logger)
	if err := tq.Start(ctx); err != nil {
		logger.Error("failed to start task queue worker", "error", err)
		os.Exit(1)
	}
	defer tq.Stop()

	disp := dispatcher.New(s, executor, publisher, cfg.DispatcherInterval, logger)
	if err := disp.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	defer disp.Stop()

	httpCfg := httpapi.Config{
		BearerToken: cfg.BearerToken,
		CORSOrigins: cfg.CORSOrigins,
		WSOptions: wsconn.Options{
			WriteWait:  cfg.WriteDeadline,
			PongWait:   cfg.PongDeadline,
			PingPeriod: cfg.PingPeriod,
		},
	}
	server := httpapi.New(httpCfg, s, assembler, publisher, h, proxy, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		_ = server.Shutdown(context.Background())
	}()

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("devswarmd stopped")
}
