package stats

import (
	"github.com/QAQ5555/dstatus/internal/store"
)

// SummaryView is one dashboard entry of the query surface. The JSON field
// names match what the web frontend has always consumed.
type SummaryView struct {
	Name       string `json:"name"`
	Stat       Stat   `json:"stat"`
	ExpireTime int64  `json:"expire_time"`
	GroupID    string `json:"group_id"`
	Top        int    `json:"top"`

	TrafficUsed             uint64  `json:"traffic_used"`
	TrafficLimit            uint64  `json:"traffic_limit"`
	TrafficResetDay         int     `json:"traffic_reset_day"`
	TrafficCalibrationDate  int64   `json:"traffic_calibration_date"`
	TrafficCalibrationValue uint64  `json:"traffic_calibration_value"`
	CalibrationBaseTraffic  *uint64 `json:"calibration_base_traffic"`

	// Data is the connection/config blob; admin-only, see GetStatsData.
	Data *store.ServerData `json:"data,omitempty"`
}

// GetStats returns the summary map for every visible server: active
// servers always, hidden servers only for admins. Servers never polled get
// the unpolled stat, servers past the failure threshold the offline stat.
// Pure read over cache and registry; safe to call concurrently and on every
// push tick.
func (e *Engine) GetStats(isAdmin bool) (map[string]*SummaryView, error) {
	servers, err := e.store.Servers.All()
	if err != nil {
		return nil, err
	}

	views := make(map[string]*SummaryView)
	for _, server := range servers {
		if server.Status != store.StatusActive && !(server.Status == store.StatusHidden && isAdmin) {
			continue
		}

		view := &SummaryView{
			Name:                    server.Name,
			Stat:                    Stat{State: StateUnpolled},
			TrafficUsed:             server.TrafficUsed,
			ExpireTime:              server.ExpireTime,
			GroupID:                 server.GroupID,
			Top:                     server.Top,
			TrafficLimit:            server.TrafficLimit,
			TrafficResetDay:         resetDayOrDefault(server.TrafficResetDay),
			TrafficCalibrationDate:  server.TrafficCalibrationDate,
			TrafficCalibrationValue: server.TrafficCalibrationValue,
		}
		data := server.Data
		view.Data = &data

		if snap, ok := e.Snapshot(server.SID); ok {
			view.Stat = snap.Stat
			view.TrafficUsed = snap.TrafficUsed
			view.CalibrationBaseTraffic = snap.CalibrationBaseTraffic
		}
		views[server.SID] = view
	}
	return views, nil
}

// GetStatsData wraps GetStats and guarantees every entry's stat is a fully
// populated object (placeholder zeros with the offline flag for unpolled
// and offline servers), so consumers never branch on the stat's type. When
// shouldFilter is set and the reader is not an admin, the sensitive Data
// blob is stripped, keeping only the display location.
func (e *Engine) GetStatsData(isAdmin, shouldFilter bool) (map[string]*SummaryView, error) {
	views, err := e.GetStats(isAdmin)
	if err != nil {
		return nil, err
	}

	for _, view := range views {
		if view.Stat.State != StateLive {
			view.Stat = LiveStat(placeholderStat(true))
		}
		if !isAdmin && shouldFilter && view.Data != nil {
			if view.Data.Location != "" {
				view.Data = &store.ServerData{Location: view.Data.Location}
			} else {
				view.Data = nil
			}
		}
	}
	return views, nil
}
