package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Series depths of the traffic ledger. The day series covers a full month
// of daily buckets, the hour series one day, the month series one year.
const (
	DSSlots = 31
	HSSlots = 24
	MSSlots = 12
)

// TrafficPoint is one bucket of incremental traffic in bytes. Day-series
// points carry the epoch timestamp of the day they cover; hour and month
// points rely on their position only.
type TrafficPoint struct {
	In        uint64 `json:"in"`
	Out       uint64 `json:"out"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// TrafficLedger holds the per-server bucketed traffic history. The last
// slot of each series is the bucket currently being filled; shifts drop the
// oldest slot and open a fresh one.
type TrafficLedger struct {
	DS []TrafficPoint `json:"ds"`
	HS []TrafficPoint `json:"hs"`
	MS []TrafficPoint `json:"ms"`
}

func newLedger(now time.Time) *TrafficLedger {
	l := &TrafficLedger{
		DS: make([]TrafficPoint, DSSlots),
		HS: make([]TrafficPoint, HSSlots),
		MS: make([]TrafficPoint, MSSlots),
	}
	l.DS[DSSlots-1].Timestamp = dayStart(now).Unix()
	return l
}

// normalize repairs a ledger loaded from disk so every series has its full
// depth, padding missing leading slots with zeros.
func (l *TrafficLedger) normalize() {
	l.DS = padSeries(l.DS, DSSlots)
	l.HS = padSeries(l.HS, HSSlots)
	l.MS = padSeries(l.MS, MSSlots)
}

func padSeries(s []TrafficPoint, depth int) []TrafficPoint {
	if len(s) == depth {
		return s
	}
	if len(s) > depth {
		return s[len(s)-depth:]
	}
	out := make([]TrafficPoint, depth-len(s), depth)
	return append(out, s...)
}

func (l *TrafficLedger) add(in, out uint64) {
	l.DS[DSSlots-1].In += in
	l.DS[DSSlots-1].Out += out
	l.HS[HSSlots-1].In += in
	l.HS[HSSlots-1].Out += out
	l.MS[MSSlots-1].In += in
	l.MS[MSSlots-1].Out += out
}

func (l *TrafficLedger) shiftHS() {
	l.HS = append(l.HS[1:], TrafficPoint{})
}

func (l *TrafficLedger) shiftDS(now time.Time) {
	l.DS = append(l.DS[1:], TrafficPoint{Timestamp: dayStart(now).Unix()})
}

func (l *TrafficLedger) shiftMS() {
	l.MS = append(l.MS[1:], TrafficPoint{})
}

// Used computes the billing-period traffic in bytes: the sum of day buckets
// since the last reset boundary, or, when a calibration point postdates that
// boundary, the calibration value plus the buckets recorded after it.
func (l *TrafficLedger) Used(now time.Time, resetDay int, calDate int64, calValue uint64) uint64 {
	lastReset := LastResetTime(now, resetDay).Unix()
	if calDate > lastReset {
		used := calValue
		for _, p := range l.DS {
			if p.Timestamp > calDate {
				used += p.In + p.Out
			}
		}
		return used
	}
	var used uint64
	for _, p := range l.DS {
		if p.Timestamp >= lastReset {
			used += p.In + p.Out
		}
	}
	return used
}

// LastResetTime returns the most recent traffic reset boundary at or before
// now for the given day-of-month. Reset days beyond the length of a month
// clamp to that month's last day.
func LastResetTime(now time.Time, resetDay int) time.Time {
	if resetDay < 1 {
		resetDay = 1
	}
	year, month, _ := now.Date()
	boundary := monthResetDate(year, month, resetDay, now.Location())
	if boundary.After(now) {
		prev := now.AddDate(0, -1, -now.Day()+1) // some day in the previous month
		boundary = monthResetDate(prev.Year(), prev.Month(), resetDay, now.Location())
	}
	return boundary
}

func monthResetDate(year int, month time.Month, resetDay int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if resetDay > last {
		resetDay = last
	}
	return time.Date(year, month, resetDay, 0, 0, 0, 0, loc)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TrafficStore persists one TrafficLedger per server.
type TrafficStore struct {
	db *bolt.DB
}

// Get returns the ledger for sid, or a zeroed ledger if none exists yet.
func (t *TrafficStore) Get(sid string) (*TrafficLedger, error) {
	var ledger *TrafficLedger
	err := t.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTraffic).Get([]byte(sid))
		if data == nil {
			return nil
		}
		var l TrafficLedger
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		ledger = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = newLedger(time.Now())
	}
	ledger.normalize()
	return ledger, nil
}

// Add accumulates a traffic delta into the current day, hour and month
// buckets of sid's ledger, creating the ledger on first use.
func (t *TrafficStore) Add(sid string, in, out uint64) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraffic)
		ledger := newLedger(time.Now())
		if data := b.Get([]byte(sid)); data != nil {
			var l TrafficLedger
			if err := json.Unmarshal(data, &l); err == nil {
				l.normalize()
				ledger = &l
			}
		}
		ledger.add(in, out)
		data, err := json.Marshal(ledger)
		if err != nil {
			return err
		}
		return b.Put([]byte(sid), data)
	})
}

// ShiftHS rolls the hour series of every ledger: the oldest hour drops off
// and a fresh zero bucket opens.
func (t *TrafficStore) ShiftHS() error {
	return t.shiftAll(func(l *TrafficLedger) { l.shiftHS() })
}

// ShiftDS rolls the day series of every ledger, stamping the fresh bucket
// with the new day.
func (t *TrafficStore) ShiftDS() error {
	now := time.Now()
	return t.shiftAll(func(l *TrafficLedger) { l.shiftDS(now) })
}

// ShiftMS rolls the month series of every ledger.
func (t *TrafficStore) ShiftMS() error {
	return t.shiftAll(func(l *TrafficLedger) { l.shiftMS() })
}

func (t *TrafficStore) shiftAll(shift func(*TrafficLedger)) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTraffic)
		type row struct {
			key    []byte
			ledger *TrafficLedger
		}
		var rows []row
		err := b.ForEach(func(k, v []byte) error {
			var l TrafficLedger
			if err := json.Unmarshal(v, &l); err != nil {
				return nil // skip invalid entries
			}
			l.normalize()
			shift(&l)
			rows = append(rows, row{key: append([]byte(nil), k...), ledger: &l})
			return nil
		})
		if err != nil {
			return err
		}
		for _, r := range rows {
			data, err := json.Marshal(r.ledger)
			if err != nil {
				return err
			}
			if err := b.Put(r.key, data); err != nil {
				return err
			}
		}
		return nil
	})
}
