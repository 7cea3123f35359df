package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
	"github.com/nextlevelbuilder/clawbridge/internal/bridge"
	"github.com/nextlevelbuilder/clawbridge/internal/bus"
	"github.com/nextlevelbuilder/clawbridge/internal/channels"
	"github.com/nextlevelbuilder/clawbridge/internal/channels/telegram"
	"github.com/nextlevelbuilder/clawbridge/internal/channels/web"
	"github.com/nextlevelbuilder/clawbridge/internal/config"
	"github.com/nextlevelbuilder/clawbridge/internal/cron"
	"github.com/nextlevelbuilder/clawbridge/internal/mcpserver"
	"github.com/nextlevelbuilder/clawbridge/internal/memory"
	"github.com/nextlevelbuilder/clawbridge/internal/scheduler"
	"github.com/nextlevelbuilder/clawbridge/internal/sessions"
	"github.com/nextlevelbuilder/clawbridge/internal/store"
	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

// runGateway wires the full stack and blocks until SIGINT/SIGTERM.
func runGateway() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	workspace, err := filepath.Abs(cfg.WorkspacePath())
	if err != nil {
		slog.Error("resolve workspace path failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("create workspace failed", "path", workspace, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Adapter registry: builtins plus *.yaml manifest overrides.
	adaptersDir := config.ExpandHome(cfg.AdaptersDir)
	registry, err := adapters.LoadRegistry(adaptersDir)
	if err != nil {
		slog.Error("adapter registry load failed", "error", err)
		os.Exit(1)
	}
	stopWatch, err := adapters.WatchManifestDir(ctx, adaptersDir)
	if err != nil {
		slog.Warn("adapter manifest watcher unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	// Persistent stores under <workspace>/.state.
	resume, err := store.OpenResumeStore(workspace)
	if err != nil {
		slog.Error("resume store open failed", "error", err)
		os.Exit(1)
	}
	sessionLog, err := store.NewSessionLog(workspace)
	if err != nil {
		slog.Error("session log open failed", "error", err)
		os.Exit(1)
	}
	sessStore := sessions.NewStore()
	subs := subagents.NewRegistry(filepath.Join(workspace, ".state", subagents.SnapshotFile))

	lanes := scheduler.DefaultLanes()
	if cfg.Scheduler.MainWidth > 0 {
		lanes[scheduler.LaneMain] = cfg.Scheduler.MainWidth
	}
	if cfg.Scheduler.SubagentWidth > 0 {
		lanes[scheduler.LaneSubagent] = cfg.Scheduler.SubagentWidth
	}
	if cfg.Scheduler.CronWidth > 0 {
		lanes[scheduler.LaneCron] = cfg.Scheduler.CronWidth
	}
	sched := scheduler.New(lanes)

	// Cron service. Handlers are bound after the bridge exists (the bridge
	// needs the service, the handlers need the bridge); Start comes last, so
	// the indirection is never observed unset.
	var cronSvc *cron.Service
	var cronHandlers cron.Handlers
	if cfg.Cron.IsEnabled() {
		cronDir := config.ExpandHome(cfg.Cron.Dir)
		if cronDir == "" {
			cronDir = filepath.Join(workspace, ".state")
		}
		cronStore, err := cron.OpenStore(cronDir)
		if err != nil {
			slog.Error("cron store open failed", "error", err)
			os.Exit(1)
		}
		cronSvc = cron.NewService(cronStore, cron.Handlers{
			OnDue: func(job cron.Job) {
				if cronHandlers.OnDue != nil {
					cronHandlers.OnDue(job)
				}
			},
			OnIsolated: func(job cron.Job, rec cron.RunRecord) {
				if cronHandlers.OnIsolated != nil {
					cronHandlers.OnIsolated(job, rec)
				}
			},
		})
	}

	var mem bridge.Memory
	var memStore *memory.Store
	if cfg.Memory.IsEnabled() {
		memPath := config.ExpandHome(cfg.Memory.Path)
		if memPath == "" {
			memPath = filepath.Join(workspace, ".state", "memory.db")
		}
		memStore, err = memory.Open(memPath)
		if err != nil {
			slog.Warn("memory store unavailable, continuing without recall", "path", memPath, "error", err)
		} else {
			mem = memStore
			defer memStore.Close()
		}
	}

	// Transports.
	msgBus := bus.New()
	channelMgr := channels.NewManager()
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, workspace)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
			os.Exit(1)
		}
		channelMgr.Register(tg)
	}
	if cfg.Channels.Web.Enabled {
		channelMgr.Register(web.New(cfg.Channels.Web.Listen, msgBus))
	}

	b := bridge.New(bridge.Options{
		Registry:        registry,
		Resume:          resume,
		SessionLog:      sessionLog,
		Sessions:        sessStore,
		Subagents:       subs,
		Scheduler:       sched,
		Cron:            cronSvc,
		Sink:            channelMgr.Sink(),
		Memory:          mem,
		DefaultCLI:      cfg.DefaultCLI,
		AdapterFallback: cfg.AdapterFallback,
		Workdir:         workspace,
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("channel start failed", "error", err)
		os.Exit(1)
	}
	if cronSvc != nil {
		cronHandlers = b.CronHandlers()
		cronSvc.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			msg, ok := msgBus.ConsumeInbound(gctx)
			if !ok {
				return nil
			}
			b.HandleInbound(msg)
		}
	})
	if cfg.MCP.Enabled {
		srv := mcpserver.New(b, Version)
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	slog.Info("clawbridge gateway started",
		"version", Version,
		"workspace", workspace,
		"default_cli", cfg.DefaultCLI,
		"adapters", registry.Names(),
		"telegram", cfg.Channels.Telegram.Enabled,
		"web", cfg.Channels.Web.Enabled,
		"mcp", cfg.MCP.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-gctx.Done():
		slog.Info("shutting down", "reason", gctx.Err())
	}

	cancel()
	if cronSvc != nil {
		cronSvc.Stop()
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	channelMgr.StopAll(stopCtx)
	b.Close()
	sched.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("background worker error", "error", err)
	}
	slog.Info("clawbridge gateway stopped")
}
