// Package systemd integrates the daemon with systemd service management.
//
// The dstatus unit uses Type=notify, so the daemon must tell systemd when
// initialization is complete and when shutdown begins. When WatchdogSec is
// configured, a background goroutine pings the watchdog as long as the
// health check passes. All calls degrade to no-ops outside systemd.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends sd_notify READY=1. Safe to call when not running under
// systemd; returns true if the notification was actually sent.
func NotifyReady() bool {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		slog.Warn("failed to send systemd ready notification", "error", err)
		return false
	}
	return sent
}

// NotifyStopping sends sd_notify STOPPING=1 so systemd waits for the process
// to exit instead of killing it.
func NotifyStopping() bool {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		slog.Warn("failed to send systemd stopping notification", "error", err)
		return false
	}
	return sent
}

// HealthCheckFunc reports whether the service is healthy. StartWatchdog
// skips the ping when it returns false, letting systemd restart the unit.
type HealthCheckFunc func() bool

// StartWatchdog starts a goroutine that pings the systemd watchdog every
// half WatchdogSec interval, as the systemd documentation recommends.
// Returns immediately when the watchdog is not enabled. The goroutine exits
// when the context is cancelled.
func StartWatchdog(ctx context.Context, healthCheck HealthCheckFunc) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		slog.Debug("systemd watchdog not enabled")
		return
	}

	pingInterval := interval / 2
	slog.Info("systemd watchdog enabled",
		slog.Duration("interval", interval),
		slog.Duration("ping_interval", pingInterval),
	)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if healthCheck != nil && !healthCheck() {
					slog.Warn("health check failed, skipping watchdog ping")
					continue
				}
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("watchdog ping failed", "error", err)
				}
			}
		}
	}()
}
