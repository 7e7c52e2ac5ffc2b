package stats

import (
	"log/slog"
	"time"

	"github.com/QAQ5555/dstatus/internal/store"
)

// Rollups holds the scheduled history jobs: the minute load snapshot, the
// hourly load/traffic rollup, the daily and monthly ledger shifts and the
// hourly billing-usage recomputation. Each job is a stateless transform
// over stored data; a failing server is logged and skipped so one bad row
// never aborts the loop over the rest.
type Rollups struct {
	engine *Engine
	logger *slog.Logger
}

// NewRollups creates the rollup job set.
func NewRollups(engine *Engine, logger *slog.Logger) *Rollups {
	return &Rollups{
		engine: engine,
		logger: logger.With(slog.String("component", "rollup")),
	}
}

// MinuteSnapshot records one load_m slot per server at the top of every
// minute. Servers without a live snapshot get an all -1 row: the dashboard
// renders those as gaps, not zeros.
func (r *Rollups) MinuteSnapshot() {
	st := r.engine.Store()
	servers, err := st.Servers.All()
	if err != nil {
		r.logger.Error("registry scan failed", slog.String("error", err.Error()))
		return
	}

	for _, server := range servers {
		sample := store.NoDataSample()
		if snap, ok := r.engine.Snapshot(server.SID); ok && snap.Stat.State == StateLive {
			live := snap.Stat.Live
			sample = store.LoadSample{
				CPU:  live.CPU.Multi * 100,
				Mem:  live.Mem.Virtual.UsedPercent,
				Swap: live.Mem.Swap.UsedPercent,
				IBW:  float64(live.Net.Delta.In),
				OBW:  float64(live.Net.Delta.Out),
			}
		}
		if err := st.LoadM.Shift(server.SID, sample); err != nil {
			r.logger.Error("minute snapshot failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// HourlyRollup runs at minute 0 second 1, after the hour's last minute
// snapshot: it opens a fresh hour bucket in the traffic ledger, then folds
// the minute rows into one load_h slot per server by averaging the slots
// that hold data. An hour with no valid samples rolls up to -1 across the
// board.
func (r *Rollups) HourlyRollup() {
	st := r.engine.Store()
	if err := st.Traffic.ShiftHS(); err != nil {
		r.logger.Error("hour series shift failed", slog.String("error", err.Error()))
	}

	servers, err := st.Servers.All()
	if err != nil {
		r.logger.Error("registry scan failed", slog.String("error", err.Error()))
		return
	}

	for _, server := range servers {
		rows, err := st.LoadM.Select(server.SID)
		if err != nil {
			r.logger.Error("minute history read failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := st.LoadH.Shift(server.SID, AverageLoad(rows)); err != nil {
			r.logger.Error("hour history shift failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// AverageLoad folds minute samples into one hourly sample, ignoring -1
// slots. With zero valid samples the result is all -1.
func AverageLoad(rows []store.LoadSample) store.LoadSample {
	var sum store.LoadSample
	count := 0
	for _, row := range rows {
		if row.CPU == store.NoData {
			continue
		}
		count++
		sum.CPU += row.CPU
		sum.Mem += row.Mem
		sum.Swap += row.Swap
		sum.IBW += row.IBW
		sum.OBW += row.OBW
	}
	if count == 0 {
		return store.NoDataSample()
	}
	n := float64(count)
	return store.LoadSample{
		CPU:  sum.CPU / n,
		Mem:  sum.Mem / n,
		Swap: sum.Swap / n,
		IBW:  sum.IBW / n,
		OBW:  sum.OBW / n,
	}
}

// DailyShift archives the completed day bucket at 04:00:02.
func (r *Rollups) DailyShift() {
	if err := r.engine.Store().Traffic.ShiftDS(); err != nil {
		r.logger.Error("day series shift failed", slog.String("error", err.Error()))
	}
}

// MonthlyShift archives the completed month bucket on the 1st at 04:00:03.
func (r *Rollups) MonthlyShift() {
	if err := r.engine.Store().Traffic.ShiftMS(); err != nil {
		r.logger.Error("month series shift failed", slog.String("error", err.Error()))
	}
}

// RecomputeUsage refreshes each active server's billing-period traffic
// figure from the ledger: the reset-day anchored day-bucket sum, overridden
// by the calibration value when a calibration postdates the boundary.
func (r *Rollups) RecomputeUsage() {
	st := r.engine.Store()
	servers, err := st.Servers.All()
	if err != nil {
		r.logger.Error("registry scan failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	for _, server := range servers {
		if server.Status <= store.StatusDisabled {
			continue
		}
		ledger, err := st.Traffic.Get(server.SID)
		if err != nil {
			r.logger.Error("ledger read failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
			continue
		}
		used := ledger.Used(now, server.TrafficResetDay, server.TrafficCalibrationDate, server.TrafficCalibrationValue)
		r.engine.SetTrafficUsed(server.SID, used)
		if err := st.Servers.SetTrafficUsed(server.SID, used); err != nil {
			r.logger.Error("usage write-back failed",
				slog.String("sid", server.SID),
				slog.String("error", err.Error()),
			)
		}
	}
}
