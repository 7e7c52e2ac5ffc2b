package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// CounterRecord holds the last cumulative byte counters observed from a
// server's agent. The traffic accumulator compares each new poll against
// these to detect counter resets before recording deltas.
type CounterRecord struct {
	TotalIn  uint64 `json:"total_in"`
	TotalOut uint64 `json:"total_out"`
}

// CounterStore is the "last totals" table.
type CounterStore struct {
	db *bolt.DB
}

// Get returns the counter record for sid, or nil if none exists yet.
func (c *CounterStore) Get(sid string) (*CounterRecord, error) {
	var rec CounterRecord
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCounters).Get([]byte(sid))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// Ins creates a zeroed counter record for sid if absent and returns the
// stored record either way. A fresh server therefore accounts its first
// observed totals entirely as delta traffic.
func (c *CounterStore) Ins(sid string) (*CounterRecord, error) {
	var rec CounterRecord
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		data := b.Get([]byte(sid))
		if data != nil {
			return json.Unmarshal(data, &rec)
		}
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(sid), out)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Set overwrites the counter record for sid with the given totals.
func (c *CounterStore) Set(sid string, totalIn, totalOut uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		rec := CounterRecord{TotalIn: totalIn, TotalOut: totalOut}
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCounters).Put([]byte(sid), data)
	})
}
