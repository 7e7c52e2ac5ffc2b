package stats

import (
	"log/slog"
	"sync"

	"github.com/QAQ5555/dstatus/internal/store"
)

// Engine owns the in-memory stats cache: the latest normalized snapshot per
// server, keyed by sid. The poller is the only writer of stat values; the
// accumulator and the usage job write the traffic bookkeeping fields; the
// query surface and the push broadcaster read. The cache is never
// persisted; it is rebuilt from live polls after a restart.
type Engine struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Snapshot
}

// NewEngine creates an engine bound to the given store.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger.With(slog.String("component", "stats")),
		cache:  make(map[string]*Snapshot),
	}
}

// Store exposes the engine's backing store to the jobs that share it.
func (e *Engine) Store() *store.Store { return e.store }

// Snapshot returns a copy of the cached snapshot for sid. Readers must
// treat a missing entry as "skip": the server may have been disabled or
// deleted between the registry read and this call.
func (e *Engine) Snapshot(sid string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.cache[sid]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// SetLive installs a successful poll result for a server. The stat itself
// is replaced wholesale; the traffic accounting fields the accumulator owns
// (TrafficUsed, CalibrationBaseTraffic) carry over from the previous entry,
// while quota configuration is refreshed from the registry record.
// Returns true when this poll recovered the server from the offline state.
func (e *Engine) SetLive(server *store.ServerRecord, cs *CanonicalStat) (recovered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cache[server.SID]
	if prev != nil && prev.Stat.State == StateOffline {
		recovered = true
	}

	snap := &Snapshot{
		Name:             server.Name,
		Stat:             LiveStat(cs),
		ExpireTime:       server.ExpireTime,
		TrafficLimit:     server.TrafficLimit,
		TrafficResetDay:  resetDayOrDefault(server.TrafficResetDay),
		CalibrationDate:  server.TrafficCalibrationDate,
		CalibrationValue: server.TrafficCalibrationValue,
	}
	if prev != nil {
		snap.TrafficUsed = prev.TrafficUsed
		snap.CalibrationBaseTraffic = prev.CalibrationBaseTraffic
	} else {
		// First entry after a restart: seed from the figure the usage job
		// last wrote back.
		snap.TrafficUsed = server.TrafficUsed
	}
	e.cache[server.SID] = snap
	return recovered
}

// MarkOffline replaces a server's snapshot with the offline state,
// preserving the accumulated traffic figure. Returns true when the server
// was live before, i.e. this call is the offline edge.
func (e *Engine) MarkOffline(server *store.ServerRecord) (wentOffline bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cache[server.SID]
	if prev != nil && prev.Stat.State == StateLive {
		wentOffline = true
	}

	snap := &Snapshot{
		Name:       server.Name,
		Stat:       Stat{State: StateOffline},
		ExpireTime: server.ExpireTime,
	}
	if prev != nil {
		snap.TrafficUsed = prev.TrafficUsed
		snap.TrafficLimit = prev.TrafficLimit
		snap.TrafficResetDay = prev.TrafficResetDay
		snap.CalibrationDate = prev.CalibrationDate
		snap.CalibrationValue = prev.CalibrationValue
		snap.CalibrationBaseTraffic = prev.CalibrationBaseTraffic
	}
	e.cache[server.SID] = snap
	return wentOffline
}

// Remove drops a server's cache entry (server disabled or deleted).
func (e *Engine) Remove(sid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, sid)
}

// Prune drops every cache entry whose sid is not in the active set. Called
// once per poll cycle so deleted servers disappear from the dashboard.
func (e *Engine) Prune(active map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sid := range e.cache {
		if _, ok := active[sid]; !ok {
			delete(e.cache, sid)
		}
	}
}

// SetTrafficUsed records the recomputed billing-period traffic for sid.
// Missing entries are skipped.
func (e *Engine) SetTrafficUsed(sid string, used uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap, ok := e.cache[sid]; ok {
		snap.TrafficUsed = used
	}
}

// ReceiveExternalUpdate is the push intake for agents that report instead
// of being polled: the payload goes through the same normalization as a
// poll result. Unknown or disabled servers are rejected.
func (e *Engine) ReceiveExternalUpdate(sid string, raw *RawStat) bool {
	server, err := e.store.Servers.Get(sid)
	if err != nil {
		e.logger.Warn("external update lookup failed",
			slog.String("sid", sid),
			slog.String("error", err.Error()),
		)
		return false
	}
	if server == nil || server.Status <= store.StatusDisabled {
		return false
	}
	e.SetLive(server, Normalize(raw, server.Data.Device))
	return true
}

func resetDayOrDefault(day int) int {
	if day < 1 || day > 31 {
		return 1
	}
	return day
}
