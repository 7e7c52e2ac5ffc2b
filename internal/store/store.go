// Package store provides the durable state of the dstatus daemon on top of
// a single bbolt database: the server registry, the last-seen traffic
// counters, the bucketed traffic ledger and the minute/hour load history.
//
// Values are JSON-encoded and keyed by server id, one bucket per table.
// Everything in here is written by the stats engine's scheduled jobs and
// read by the query surface; per-table serialization is provided by bbolt's
// single-writer transactions.
package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per table.
var (
	bucketServers  = []byte("servers")
	bucketCounters = []byte("last_totals")
	bucketTraffic  = []byte("traffic")
	bucketLoadM    = []byte("load_m")
	bucketLoadH    = []byte("load_h")
)

// Store owns the bbolt database and exposes one sub-store per table.
type Store struct {
	db *bolt.DB

	Servers  *ServerStore
	Counters *CounterStore
	Traffic  *TrafficStore
	LoadM    *LoadStore
	LoadH    *LoadStore
}

// Open opens or creates the database at path and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketServers, bucketCounters, bucketTraffic, bucketLoadM, bucketLoadH} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Store{db: db}
	s.Servers = &ServerStore{db: db}
	s.Counters = &CounterStore{db: db}
	s.Traffic = &TrafficStore{db: db}
	s.LoadM = &LoadStore{db: db, bucket: bucketLoadM, depth: LoadMDepth}
	s.LoadH = &LoadStore{db: db, bucket: bucketLoadH, depth: LoadHDepth}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Shutdown implements the shutdown.Shutdowner interface.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.Close()
}
