// Package stats implements the monitoring core of dstatus: the in-memory
// stats cache fed by the agent poller, the traffic accounting pipeline, the
// minute/hour load rollups and the query surface the dashboard reads.
package stats

import "encoding/json"

// CPUStat is the normalized CPU section of an agent snapshot. Multi is the
// all-core utilization as a 0..1 fraction; Single holds per-core fractions.
type CPUStat struct {
	Multi  float64   `json:"multi"`
	Single []float64 `json:"single"`
}

// MemInfo describes one memory pool in bytes plus a derived percentage.
type MemInfo struct {
	Used        uint64  `json:"used"`
	Total       uint64  `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
}

// MemStat is the normalized memory section.
type MemStat struct {
	Virtual MemInfo `json:"virtual"`
	Swap    MemInfo `json:"swap"`
}

// NetIO is a pair of byte counts for the in and out directions.
type NetIO struct {
	In  uint64 `json:"in"`
	Out uint64 `json:"out"`
}

// NetStat is the normalized network section: Delta holds bytes transferred
// during the agent's last sample interval, Total the cumulative counters
// since the agent (or its counters) started.
type NetStat struct {
	Delta NetIO `json:"delta"`
	Total NetIO `json:"total"`
}

// CanonicalStat is the normalized snapshot shape every consumer can rely
// on: all numeric fields are non-negative and the memory totals are never
// zero, so derived percentages are always safe to compute.
type CanonicalStat struct {
	CPU     CPUStat `json:"cpu"`
	Mem     MemStat `json:"mem"`
	Net     NetStat `json:"net"`
	Offline bool    `json:"offline"`
}

// placeholderStat returns the zero-valued stat used for servers that are
// offline or have never been polled, shaped so consumers need no branching.
func placeholderStat(offline bool) *CanonicalStat {
	return &CanonicalStat{
		CPU:     CPUStat{Single: []float64{0}},
		Mem:     MemStat{Virtual: MemInfo{Total: 1}, Swap: MemInfo{Total: 1}},
		Offline: offline,
	}
}

// State identifies the three poll states of a cached snapshot.
type State int

const (
	// StateUnpolled means no poll has completed for this server yet.
	StateUnpolled State = iota
	// StateOffline means the consecutive-failure threshold was exceeded.
	StateOffline
	// StateLive means the last poll succeeded and Live holds the stat.
	StateLive
)

// Stat is a tagged three-state snapshot value. On the wire it keeps the
// dashboard's historical encoding: -1 for unpolled, 0 for offline, and the
// full stat object when live.
type Stat struct {
	State State
	Live  *CanonicalStat
}

// LiveStat wraps a canonical stat in a live-state Stat.
func LiveStat(cs *CanonicalStat) Stat {
	return Stat{State: StateLive, Live: cs}
}

// MarshalJSON encodes the three states as -1 | 0 | object.
func (s Stat) MarshalJSON() ([]byte, error) {
	switch s.State {
	case StateLive:
		return json.Marshal(s.Live)
	case StateOffline:
		return []byte("0"), nil
	default:
		return []byte("-1"), nil
	}
}

// Snapshot is one in-memory cache entry: the latest normalized stat for a
// server plus the traffic bookkeeping fields owned by the accumulator.
// Entries live from a server's first poll until it is disabled or deleted
// and are overwritten on every poll cycle.
type Snapshot struct {
	Name       string
	Stat       Stat
	ExpireTime int64

	TrafficUsed      uint64
	TrafficLimit     uint64
	TrafficResetDay  int
	CalibrationDate  int64
	CalibrationValue uint64

	// CalibrationBaseTraffic is the ledger sum at calibration time, set
	// when an admin calibrates; nil when never calibrated.
	CalibrationBaseTraffic *uint64
}
