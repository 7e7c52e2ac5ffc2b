package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// Depths of the load history rows: 60 minute slots (one hour) and
// 24 hour slots (one day).
const (
	LoadMDepth = 60
	LoadHDepth = 24
)

// NoData marks a load history slot for which no valid agent sample existed.
// Rollups and graphs treat it as a gap, never as a zero reading.
const NoData = -1

// LoadSample is one slot of a server's load history. CPU, Mem and Swap are
// percentages, IBW and OBW are bytes-per-interval bandwidth figures.
type LoadSample struct {
	CPU  float64 `json:"cpu"`
	Mem  float64 `json:"mem"`
	Swap float64 `json:"swap"`
	IBW  float64 `json:"ibw"`
	OBW  float64 `json:"obw"`
}

// NoDataSample returns a sample with every metric set to NoData.
func NoDataSample() LoadSample {
	return LoadSample{CPU: NoData, Mem: NoData, Swap: NoData, IBW: NoData, OBW: NoData}
}

// LoadStore persists a fixed-depth FIFO of load samples per server.
// Two instances back the minute and hour tables.
type LoadStore struct {
	db     *bolt.DB
	bucket []byte
	depth  int
}

// Select returns the stored samples for sid, oldest first. Servers that
// have never been sampled get an empty slice.
func (l *LoadStore) Select(sid string) ([]LoadSample, error) {
	var samples []LoadSample
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(l.bucket).Get([]byte(sid))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &samples)
	})
	return samples, err
}

// Shift pushes a new sample onto sid's row, dropping the oldest slot once
// the row is at full depth.
func (l *LoadStore) Shift(sid string, sample LoadSample) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		var samples []LoadSample
		if data := b.Get([]byte(sid)); data != nil {
			if err := json.Unmarshal(data, &samples); err != nil {
				samples = nil
			}
		}
		samples = append(samples, sample)
		if len(samples) > l.depth {
			samples = samples[len(samples)-l.depth:]
		}
		data, err := json.Marshal(samples)
		if err != nil {
			return err
		}
		return b.Put([]byte(sid), data)
	})
}
