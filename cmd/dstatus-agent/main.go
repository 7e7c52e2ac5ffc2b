// dstatus-agent - Node Agent Entry Point
//
// The agent runs on each monitored host. It samples CPU, memory and
// network counters once per second and serves the latest sample on
// GET /stat, authenticated by a shared key. The monitoring daemon polls
// this endpoint; the agent keeps no history and needs no outbound
// connectivity.
//
// Configuration is loaded from /etc/dstatus/agent.yaml (or path specified
// by -config flag).
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

	"github.com/QAQ5555/dstatus/internal/agent"
	"github.com/QAQ5555/dstatus/internal/config"
	"github.com/QAQ5555/dstatus/internal/logging"
	"github.com/QAQ5555/dstatus/internal/shutdown"
	"github.com/QAQ5555/dstatus/internal/systemd"
	"github.com/QAQ5555/dstatus/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultAgentConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	logger.Info("agent starting",
		slog.String("version", version.Version),
		slog.String("config_path", *configPath),
		slog.String("listen", cfg.Listen),
	)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sampler := agent.NewSampler(logger)
	srv := agent.NewServer(logger, sampler, cfg.Listen, cfg.Key)

	coordinator := shutdown.NewCoordinator(logger)
	coordinator.Register("api", srv)

	systemd.NotifyReady()
	logger.Info("agent ready")

	systemd.StartWatchdog(ctx, func() bool {
		_, ok := sampler.Snapshot()
		return ok
	})

	go sampler.Run(ctx)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	systemd.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
