package stats

import (
	"log/slog"
)

// Accumulator turns the cumulative byte counters reported by agents into
// incremental traffic records. It runs every 30 seconds over all servers
// with a live snapshot and must never double-count (counters are
// overwritten, not appended) and never lose a cycle's delta across an agent
// restart (a counter regression is absorbed as "counting restarted from
// zero" rather than producing a negative delta).
type Accumulator struct {
	engine *Engine
	logger *slog.Logger
}

// NewAccumulator creates the traffic accumulation job.
func NewAccumulator(engine *Engine, logger *slog.Logger) *Accumulator {
	return &Accumulator{
		engine: engine,
		logger: logger.With(slog.String("component", "accumulator")),
	}
}

// Run executes one accumulation pass. Per-server failures are logged and
// skipped; the next cycle retries naturally.
func (a *Accumulator) Run() {
	st := a.engine.Store()
	servers, err := st.Servers.All()
	if err != nil {
		a.logger.Error("registry scan failed", slog.String("error", err.Error()))
		return
	}

	for _, server := range servers {
		snap, ok := a.engine.Snapshot(server.SID)
		if !ok || snap.Stat.State != StateLive {
			continue
		}
		if err := a.accumulate(server.SID, snap.Stat.Live.Net.Total); err != nil {
			a.logger.Error("traffic accumulation failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// accumulate records the delta between the polled cumulative totals and the
// last stored counters, then overwrites the counters with the new totals.
func (a *Accumulator) accumulate(sid string, total NetIO) error {
	st := a.engine.Store()

	last, err := st.Counters.Get(sid)
	if err != nil {
		return err
	}
	if last == nil {
		if last, err = st.Counters.Ins(sid); err != nil {
			return err
		}
	}

	deltaIn := absorbDelta(total.In, last.TotalIn)
	deltaOut := absorbDelta(total.Out, last.TotalOut)
	if total.In < last.TotalIn || total.Out < last.TotalOut {
		// Counter regression: the agent restarted or its counters
		// wrapped. Absorbed, not an error.
		a.logger.Info("counter reset absorbed",
			slog.String("sid", sid),
			slog.Uint64("last_in", last.TotalIn),
			slog.Uint64("last_out", last.TotalOut),
			slog.Uint64("new_in", total.In),
			slog.Uint64("new_out", total.Out),
		)
	}

	if err := st.Counters.Set(sid, total.In, total.Out); err != nil {
		return err
	}
	return st.Traffic.Add(sid, deltaIn, deltaOut)
}

// absorbDelta computes the per-cycle traffic delta. A current value below
// the last observed one means the agent restarted: the new cumulative value
// itself becomes the delta ("restart implies counting from zero"). This
// under-counts in the rare case where an agent restarts and climbs past its
// pre-restart total within one cycle; billing downstream depends on this
// approximation, so it is kept as-is.
func absorbDelta(cur, last uint64) uint64 {
	if cur < last {
		return cur
	}
	return cur - last
}
