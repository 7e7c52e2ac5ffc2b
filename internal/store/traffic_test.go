package store

import (
	"testing"
	"time"
)

func TestPadSeries(t *testing.T) {
	t.Run("pads short series at the front", func(t *testing.T) {
		s := padSeries([]TrafficPoint{{In: 1}, {In: 2}}, 5)
		if len(s) != 5 {
			t.Fatalf("expected 5 slots, got %d", len(s))
		}
		if s[0].In != 0 || s[3].In != 1 || s[4].In != 2 {
			t.Errorf("unexpected padding: %+v", s)
		}
	})

	t.Run("keeps full-depth series", func(t *testing.T) {
		in := []TrafficPoint{{In: 1}, {In: 2}, {In: 3}}
		s := padSeries(in, 3)
		if len(s) != 3 || s[0].In != 1 {
			t.Errorf("full-depth series modified: %+v", s)
		}
	})

	t.Run("truncates oversized series at the front", func(t *testing.T) {
		s := padSeries([]TrafficPoint{{In: 1}, {In: 2}, {In: 3}, {In: 4}}, 2)
		if len(s) != 2 || s[0].In != 3 || s[1].In != 4 {
			t.Errorf("unexpected truncation: %+v", s)
		}
	})
}

func TestLedgerAddAndShift(t *testing.T) {
	now := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	l := newLedger(now)

	t.Run("new ledger has full depth", func(t *testing.T) {
		if len(l.DS) != DSSlots || len(l.HS) != HSSlots || len(l.MS) != MSSlots {
			t.Fatalf("unexpected depths: %d/%d/%d", len(l.DS), len(l.HS), len(l.MS))
		}
	})

	t.Run("current day bucket is stamped", func(t *testing.T) {
		want := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC).Unix()
		if l.DS[DSSlots-1].Timestamp != want {
			t.Errorf("expected timestamp %d, got %d", want, l.DS[DSSlots-1].Timestamp)
		}
	})

	t.Run("add accumulates into the current bucket of every series", func(t *testing.T) {
		l.add(100, 50)
		l.add(20, 10)
		for _, series := range [][]TrafficPoint{l.DS, l.HS, l.MS} {
			tail := series[len(series)-1]
			if tail.In != 120 || tail.Out != 60 {
				t.Errorf("unexpected tail bucket: %+v", tail)
			}
			if series[0].In != 0 {
				t.Errorf("add leaked into old buckets: %+v", series[0])
			}
		}
	})

	t.Run("hour shift retires the bucket and opens a fresh one", func(t *testing.T) {
		l.shiftHS()
		if got := l.HS[HSSlots-1]; got.In != 0 || got.Out != 0 {
			t.Errorf("fresh bucket not empty: %+v", got)
		}
		if got := l.HS[HSSlots-2]; got.In != 120 || got.Out != 60 {
			t.Errorf("retired bucket lost: %+v", got)
		}
		if len(l.HS) != HSSlots {
			t.Errorf("shift changed depth: %d", len(l.HS))
		}
	})

	t.Run("day shift stamps the new day", func(t *testing.T) {
		next := now.AddDate(0, 0, 1)
		l.shiftDS(next)
		want := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC).Unix()
		if l.DS[DSSlots-1].Timestamp != want {
			t.Errorf("expected timestamp %d, got %d", want, l.DS[DSSlots-1].Timestamp)
		}
		if got := l.DS[DSSlots-2]; got.In != 120 {
			t.Errorf("previous day lost: %+v", got)
		}
	})
}

func TestLastResetTime(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		resetDay int
		want     time.Time
	}{
		{
			name:     "reset day already passed this month",
			now:      time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			resetDay: 15,
			want:     time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "reset day still ahead falls back a month",
			now:      time.Date(2026, 8, 10, 10, 0, 0, 0, time.UTC),
			resetDay: 15,
			want:     time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "same day counts as reset",
			now:      time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
			resetDay: 15,
			want:     time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "day 31 clamps in short months",
			now:      time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
			resetDay: 31,
			want:     time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "zero reset day treated as first",
			now:      time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
			resetDay: 0,
			want:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LastResetTime(tt.now, tt.resetDay)
			if !got.Equal(tt.want) {
				t.Errorf("LastResetTime(%v, %d) = %v, want %v", tt.now, tt.resetDay, got, tt.want)
			}
		})
	}
}

func TestUsed(t *testing.T) {
	// Billing window: reset day 15, now Aug 20 -> last reset Aug 15.
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	day := func(d int) int64 {
		return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC).Unix()
	}

	l := newLedger(now)
	l.DS[DSSlots-4] = TrafficPoint{In: 60, Out: 40, Timestamp: day(14)}
	l.DS[DSSlots-3] = TrafficPoint{In: 150, Out: 50, Timestamp: day(15)}
	l.DS[DSSlots-2] = TrafficPoint{In: 200, Out: 100, Timestamp: day(18)}
	l.DS[DSSlots-1] = TrafficPoint{In: 0, Out: 0, Timestamp: day(20)}

	t.Run("sums buckets since last reset", func(t *testing.T) {
		// Aug 15 + Aug 18 + Aug 20; the Aug 14 bucket is out of window.
		if got := l.Used(now, 15, 0, 0); got != 500 {
			t.Errorf("Used = %d, want 500", got)
		}
	})

	t.Run("calibration after reset overrides the window", func(t *testing.T) {
		cal := time.Date(2026, 8, 16, 8, 0, 0, 0, time.UTC).Unix()
		// 1000 from calibration plus the Aug 18 and Aug 20 buckets.
		if got := l.Used(now, 15, cal, 1000); got != 1300 {
			t.Errorf("Used = %d, want 1300", got)
		}
	})

	t.Run("calibration before reset is ignored", func(t *testing.T) {
		cal := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC).Unix()
		if got := l.Used(now, 15, cal, 9999); got != 500 {
			t.Errorf("Used = %d, want 500", got)
		}
	})
}

func TestTrafficStore(t *testing.T) {
	s := openTestStore(t)

	t.Run("get missing returns zeroed ledger", func(t *testing.T) {
		l, err := s.Traffic.Get("fresh")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(l.DS) != DSSlots || len(l.HS) != HSSlots || len(l.MS) != MSSlots {
			t.Errorf("unexpected depths: %d/%d/%d", len(l.DS), len(l.HS), len(l.MS))
		}
	})

	t.Run("add persists and accumulates", func(t *testing.T) {
		if err := s.Traffic.Add("srv", 100, 50); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := s.Traffic.Add("srv", 25, 25); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		l, _ := s.Traffic.Get("srv")
		if tail := l.HS[HSSlots-1]; tail.In != 125 || tail.Out != 75 {
			t.Errorf("unexpected hour bucket: %+v", tail)
		}
	})

	t.Run("shift rolls every ledger", func(t *testing.T) {
		if err := s.Traffic.Add("other", 7, 3); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := s.Traffic.ShiftHS(); err != nil {
			t.Fatalf("ShiftHS failed: %v", err)
		}
		for _, sid := range []string{"srv", "other"} {
			l, _ := s.Traffic.Get(sid)
			if tail := l.HS[HSSlots-1]; tail.In != 0 || tail.Out != 0 {
				t.Errorf("%s: fresh hour bucket not empty: %+v", sid, tail)
			}
			if prev := l.HS[HSSlots-2]; prev.In == 0 {
				t.Errorf("%s: retired hour bucket lost: %+v", sid, prev)
			}
		}
	})
}
