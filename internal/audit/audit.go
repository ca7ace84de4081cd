// Package audit is the passive per-command observability sink. Entries
// are append-only; a past entry is never rewritten except to resolve its
// pending status.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Entry struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var auditBucket = []byte("audit")

// Log keeps the append-only command trail in memory, mirrors it to bolt,
// and fans every append out to live subscribers.
type Log struct {
	mu          sync.Mutex
	db          *bolt.DB
	entries     []Entry
	byID        map[string]int
	subscribers map[chan Entry]struct{}
}

// NewLog prepares the audit bucket in an already-open database. A nil db
// keeps the log memory-only, which the tests and demo mode use.
func NewLog(db *bolt.DB) (*Log, error) {
	log := &Log{
		byID:        map[string]int{},
		subscribers: map[chan Entry]struct{}{},
		db:          db,
	}
	if db != nil {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, createError := tx.CreateBucketIfNotExists(auditBucket)
			return createError
		}); err != nil {
			return nil, fmt.Errorf("create audit bucket: %w", err)
		}
	}
	return log, nil
}

// Begin appends a pending entry for a command about to be issued.
func (log *Log) Begin(command string) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    StatusPending,
		Timestamp: time.Now(),
	}

	log.mu.Lock()
	log.byID[entry.ID] = len(log.entries)
	log.entries = append(log.entries, entry)
	log.mu.Unlock()

	log.persist(entry)
	log.publish(entry)
	return entry
}

// Resolve settles a pending entry. Resolving an unknown id is a no-op.
func (log *Log) Resolve(id string, status Status, message string) {
	log.mu.Lock()
	index, known := log.byID[id]
	if !known {
		log.mu.Unlock()
		return
	}
	log.entries[index].Status = status
	log.entries[index].Message = message
	entry := log.entries[index]
	log.mu.Unlock()

	log.persist(entry)
	log.publish(entry)
}

// Record appends an already-settled entry in one step.
func (log *Log) Record(command string, status Status, message string) Entry {
	entry := log.Begin(command)
	log.Resolve(entry.ID, status, message)
	entry.Status = status
	entry.Message = message
	return entry
}

// Entries returns up to limit most recent entries, oldest first.
func (log *Log) Entries(limit int) []Entry {
	log.mu.Lock()
	defer log.mu.Unlock()
	if limit <= 0 || limit > len(log.entries) {
		limit = len(log.entries)
	}
	recent := make([]Entry, limit)
	copy(recent, log.entries[len(log.entries)-limit:])
	return recent
}

// Subscribe registers a live feed of appends and resolutions. Slow
// subscribers drop entries rather than block the orchestration path.
func (log *Log) Subscribe() chan Entry {
	feed := make(chan Entry, 64)
	log.mu.Lock()
	log.subscribers[feed] = struct{}{}
	log.mu.Unlock()
	return feed
}

func (log *Log) Unsubscribe(feed chan Entry) {
	log.mu.Lock()
	if _, subscribed := log.subscribers[feed]; subscribed {
		delete(log.subscribers, feed)
		close(feed)
	}
	log.mu.Unlock()
}

func (log *Log) publish(entry Entry) {
	log.mu.Lock()
	defer log.mu.Unlock()
	for feed := range log.subscribers {
		select {
		case feed <- entry:
		default:
		}
	}
}

func (log *Log) persist(entry Entry) {
	if log.db == nil {
		return
	}
	_ = log.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(auditBucket)
		payload, marshalError := json.Marshal(entry)
		if marshalError != nil {
			return marshalError
		}
		sequence, sequenceError := bucket.NextSequence()
		if sequenceError != nil {
			return sequenceError
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, sequence)
		return bucket.Put(key, payload)
	})
}
