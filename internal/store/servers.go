package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ServerStatus is the registry visibility state of a monitored server.
type ServerStatus int

const (
	// StatusDisabled servers are not polled and drop out of the cache.
	StatusDisabled ServerStatus = 0
	// StatusActive servers are polled and visible to everyone.
	StatusActive ServerStatus = 1
	// StatusHidden servers are polled but only visible to admins.
	StatusHidden ServerStatus = 2
)

// ServerData is the connection/config blob of a server. It is considered
// sensitive: the query surface strips it for non-admin readers, keeping only
// Location.
type ServerData struct {
	// Host and Port locate the node agent's stat endpoint.
	Host string `json:"host"`
	Port int    `json:"port"`

	// Key is the shared secret sent in the "key" header on every poll.
	Key string `json:"key"`

	// Device optionally names the billed network interface on multi-NIC
	// hosts. Empty means the agent's aggregate counters are used.
	Device string `json:"device,omitempty"`

	// Location is a display label (e.g. country code) safe for public view.
	Location string `json:"location,omitempty"`
}

// ServerRecord is one row of the server registry.
type ServerRecord struct {
	SID        string       `json:"sid"`
	Name       string       `json:"name"`
	Status     ServerStatus `json:"status"`
	Top        int          `json:"top"`
	GroupID    string       `json:"group_id"`
	ExpireTime int64        `json:"expire_time"`

	// Traffic quota configuration. TrafficLimit is bytes per billing
	// period (0 = unlimited); TrafficResetDay is the day of month the
	// period restarts on.
	TrafficLimit    uint64 `json:"traffic_limit"`
	TrafficResetDay int    `json:"traffic_reset_day"`

	// Manual calibration: an admin-supplied used-traffic override (bytes)
	// taking effect at the given epoch timestamp. Date 0 means unset.
	TrafficCalibrationDate  int64  `json:"traffic_calibration_date"`
	TrafficCalibrationValue uint64 `json:"traffic_calibration_value"`

	// TrafficUsed is the last computed billing-period figure, written back
	// by the hourly usage job so it survives restarts.
	TrafficUsed uint64 `json:"traffic_used"`

	Data ServerData `json:"data"`
}

// ServerStore is the server registry.
type ServerStore struct {
	db *bolt.DB
}

// All returns every registered server.
func (s *ServerStore) All() ([]*ServerRecord, error) {
	var servers []*ServerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var rec ServerRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip invalid entries
			}
			servers = append(servers, &rec)
			return nil
		})
	})
	return servers, err
}

// Get returns the server with the given id, or nil if it does not exist.
func (s *ServerStore) Get(sid string) (*ServerRecord, error) {
	var rec ServerRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServers).Get([]byte(sid))
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

// Put stores or updates a server record. New records get a default reset
// day of 1 so the billing window is always anchored.
func (s *ServerStore) Put(rec *ServerRecord) error {
	if rec.SID == "" {
		return fmt.Errorf("server record missing sid")
	}
	if rec.TrafficResetDay < 1 || rec.TrafficResetDay > 31 {
		rec.TrafficResetDay = 1
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServers).Put([]byte(rec.SID), data)
	})
}

// Delete removes a server and all of its derived state: counters, traffic
// ledger and load history rows go with it.
func (s *ServerStore) Delete(sid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(sid)
		for _, name := range [][]byte{bucketServers, bucketCounters, bucketTraffic, bucketLoadM, bucketLoadH} {
			if err := tx.Bucket(name).Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateData replaces the connection/config blob of a server, leaving the
// rest of the record untouched.
func (s *ServerStore) UpdateData(sid string, data ServerData) error {
	return s.update(sid, func(rec *ServerRecord) {
		rec.Data = data
	})
}

// SetTrafficUsed writes the computed billing-period figure back onto the
// record.
func (s *ServerStore) SetTrafficUsed(sid string, used uint64) error {
	return s.update(sid, func(rec *ServerRecord) {
		rec.TrafficUsed = used
	})
}

// SetCalibration records a manual traffic calibration point.
func (s *ServerStore) SetCalibration(sid string, date int64, value uint64) error {
	return s.update(sid, func(rec *ServerRecord) {
		rec.TrafficCalibrationDate = date
		rec.TrafficCalibrationValue = value
	})
}

// update applies fn to an existing record inside one write transaction.
func (s *ServerStore) update(sid string, fn func(*ServerRecord)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data := b.Get([]byte(sid))
		if data == nil {
			return fmt.Errorf("server %s not found", sid)
		}
		var rec ServerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		fn(&rec)
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(sid), out)
	})
}
