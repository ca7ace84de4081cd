// Package history keeps the small cross-session records the console
// reads back on reconnect: which device fingerprints have been seen, and
// which packages were returned (re-enabled) per fingerprint.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	fingerprintsBucket = []byte("fingerprints")
	returnsBucket      = []byte("returns")
)

type deviceRecord struct {
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Visits    int       `json:"visits"`
}

type Store struct {
	db *bolt.DB
}

func NewStore(db *bolt.DB) (*Store, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, createError := tx.CreateBucketIfNotExists(fingerprintsBucket); createError != nil {
			return createError
		}
		_, createError := tx.CreateBucketIfNotExists(returnsBucket)
		return createError
	}); err != nil {
		return nil, fmt.Errorf("create history buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// MarkSeen records a device visit and reports whether the fingerprint was
// already known, i.e. a returning device.
func (store *Store) MarkSeen(fingerprint string) (bool, error) {
	returning := false
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fingerprintsBucket)
		record := deviceRecord{FirstSeen: time.Now()}
		if raw := bucket.Get([]byte(fingerprint)); raw != nil {
			if decodeError := json.Unmarshal(raw, &record); decodeError == nil {
				returning = true
			}
		}
		record.LastSeen = time.Now()
		record.Visits++
		payload, marshalError := json.Marshal(record)
		if marshalError != nil {
			return marshalError
		}
		return bucket.Put([]byte(fingerprint), payload)
	})
	return returning, err
}

// RecordReturn notes that a package was returned to its enabled state on
// the device with the given fingerprint.
func (store *Store) RecordReturn(fingerprint string, packageName string) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(returnsBucket)
		key := []byte(fingerprint)
		returned := map[string]time.Time{}
		if raw := bucket.Get(key); raw != nil {
			_ = json.Unmarshal(raw, &returned)
		}
		returned[packageName] = time.Now()
		payload, marshalError := json.Marshal(returned)
		if marshalError != nil {
			return marshalError
		}
		return bucket.Put(key, payload)
	})
}

// ReturnedPackages lists package names previously returned on the device.
func (store *Store) ReturnedPackages(fingerprint string) ([]string, error) {
	names := []string{}
	err := store.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(returnsBucket).Get([]byte(fingerprint))
		if raw == nil {
			return nil
		}
		returned := map[string]time.Time{}
		if decodeError := json.Unmarshal(raw, &returned); decodeError != nil {
			return decodeError
		}
		for name := range returned {
			names = append(names, name)
		}
		return nil
	})
	return names, err
}
