// dstatus - Monitoring Daemon Entry Point
//
// This is the main entry point for the dstatus monitoring daemon. The daemon
// runs as a systemd service on a central host, responsible for:
//   - Polling registered server agents for live CPU/memory/network stats
//   - Accounting network traffic into rolling day/hour/month ledgers
//   - Recording per-minute and hourly load history
//   - Serving the dashboard API and websocket push feed
//   - Sending offline/recovery notices via webhook and/or NATS
//
// Configuration is loaded from /etc/dstatus/config.yaml (or path specified
// by -config flag).
//
// Lifecycle:
//  1. Load configuration from YAML file
//  2. Setup structured JSON logger
//  3. Open the bbolt database
//  4. Wire engine, poller, accumulator, rollups and scheduler
//  5. Notify systemd that service is ready (Type=notify)
//  6. Start watchdog goroutine if systemd provides WatchdogSec
//  7. Serve HTTP until shutdown signal (SIGTERM/SIGINT)
//  8. Notify systemd that service is stopping
//  9. Coordinated shutdown with timeout
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QAQ5555/dstatus/internal/config"
	"github.com/QAQ5555/dstatus/internal/logging"
	"github.com/QAQ5555/dstatus/internal/notify"
	"github.com/QAQ5555/dstatus/internal/push"
	"github.com/QAQ5555/dstatus/internal/server"
	"github.com/QAQ5555/dstatus/internal/shutdown"
	"github.com/QAQ5555/dstatus/internal/stats"
	"github.com/QAQ5555/dstatus/internal/store"
	"github.com/QAQ5555/dstatus/internal/systemd"
	"github.com/QAQ5555/dstatus/internal/version"
)

// Default shutdown timeout - how long to wait for graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultServerConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		// Use basic stderr logging before logger is configured
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	logger.Info("dstatus starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("build_time", version.BuildTime),
		slog.String("config_path", *configPath),
		slog.String("listen", cfg.Listen),
		slog.String("db_path", cfg.DBPath),
		slog.Int("poll_interval_ms", cfg.PollIntervalMS),
		slog.Int("offline_threshold", cfg.OfflineThreshold),
	)

	// Create shutdown context that listens for SIGTERM and SIGINT
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	coordinator := shutdown.NewCoordinator(logger)

	// Registered first so the LIFO coordinator closes it last, after every
	// component above has stopped writing to it.
	coordinator.Register("store", st)

	// Assemble the notifier chain: webhook and NATS are both optional and
	// can run side by side.
	var notifiers notify.Multi
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, logger))
		logger.Info("webhook notifier enabled")
	}
	var natsNotifier *notify.NATS
	if cfg.NATS.Servers != "" {
		natsNotifier, err = notify.ConnectNATS(notify.NATSConfig{
			Servers:       cfg.NATS.Servers,
			NKeySeed:      cfg.NATS.NKeySeed,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
		if err != nil {
			logger.Warn("NATS connection failed, continuing without it",
				slog.String("error", err.Error()),
			)
		} else {
			notifiers = append(notifiers, natsNotifier)
			coordinator.Register("nats", natsNotifier)
			logger.Info("NATS notifier enabled",
				slog.String("servers", cfg.NATS.Servers),
			)
		}
	}
	var notifier notify.Notifier = notify.Nop{}
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	engine := stats.NewEngine(st, logger)

	pollInterval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	agentTimeout := time.Duration(cfg.AgentTimeout) * time.Second
	poller := stats.NewPoller(engine, notifier, agentTimeout, cfg.OfflineThreshold, logger)
	accumulator := stats.NewAccumulator(engine, logger)
	rollups := stats.NewRollups(engine, logger)

	scheduler, err := stats.NewScheduler(poller, accumulator, rollups, pollInterval, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	coordinator.Register("scheduler", scheduler)

	// Websocket push: hub fans broadcast frames out to dashboard clients,
	// the broadcaster samples the engine at the poll cadence.
	hub := push.NewHub(logger)
	var publisher push.SnapshotPublisher
	if natsNotifier != nil {
		publisher = natsNotifier
	}
	broadcaster := push.NewBroadcaster(engine, hub, publisher, pollInterval, logger)

	httpSrv := server.New(cfg.Listen, engine, hub, cfg.AdminKey, logger)
	coordinator.Register("http", httpSrv)

	systemd.NotifyReady()
	logger.Info("dstatus ready")

	// Health check: the scheduler is the heart of the daemon, a wedged
	// cron or poll loop should trip the watchdog.
	systemd.StartWatchdog(ctx, func() bool {
		return scheduler.IsHealthy()
	})

	go scheduler.Run(ctx)
	go hub.Run(ctx)
	go broadcaster.Run(ctx)

	go func() {
		if err := httpSrv.Run(); err != nil {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, starting graceful shutdown")

	systemd.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
