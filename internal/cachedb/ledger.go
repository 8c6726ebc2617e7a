// Package cachedb tracks cache torrent usage in a bbolt database so the
// cache can be listed and pruned by age and hit count.
package cachedb

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const entriesBucket = "entries"

// ErrEntryNotFound is returned when a cache entry cannot be found.
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry records one cache torrent.
type Entry struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Pieces    int       `json:"pieces"`
	CreatedAt time.Time `json:"created_at"`
	LastHitAt time.Time `json:"last_hit_at"`
	Hits      int       `json:"hits"`
}

// Ledger is a bbolt-backed store of cache entries keyed by the cache
// torrent's semantic hash.
type Ledger struct {
	db *bbolt.DB
}

// Open opens or creates the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create entries bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores a freshly written cache entry. An existing entry for
// the same key is replaced but keeps its original creation time.
func (l *Ledger) Record(entry Entry) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))

		now := time.Now()
		entry.CreatedAt = now
		entry.LastHitAt = now
		if data := bucket.Get([]byte(entry.Key)); data != nil {
			var existing Entry
			if err := json.Unmarshal(data, &existing); err == nil {
				entry.CreatedAt = existing.CreatedAt
				entry.Hits = existing.Hits
			}
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		return bucket.Put([]byte(entry.Key), data)
	})
}

// Touch registers a cache hit for key.
func (l *Ledger) Touch(key string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))

		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrEntryNotFound
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal cache entry: %w", err)
		}
		entry.Hits++
		entry.LastHitAt = time.Now()

		updated, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		return bucket.Put([]byte(key), updated)
	})
}

// Get returns the entry for key, or ErrEntryNotFound.
func (l *Ledger) Get(key string) (*Entry, error) {
	var entry Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(entriesBucket)).Get([]byte(key))
		if data == nil {
			return ErrEntryNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns all entries, newest first.
func (l *Ledger) List() ([]Entry, error) {
	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).ForEach(func(_, data []byte) error {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				// skip corrupt entries rather than failing the listing
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastHitAt.After(entries[j].LastHitAt)
	})
	return entries, nil
}

// Delete removes the entry for key. Deleting an absent key is not an
// error.
func (l *Ledger) Delete(key string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Delete([]byte(key))
	})
}
