package remote

import (
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const locationBucket = "locations"

// LocationCache remembers remote ids by a local key
type LocationCache interface {
	// Get returns the cached id for key
	Get(key string) (string, bool, error)
	// Put stores id under key
	Put(key, id string) error
	// Delete removes key
	Delete(key string) error
}

// BoltCache implements LocationCache using BoltDB
type BoltCache struct {
	db *bbolt.DB
}

// NewBoltCache opens or creates the cache file at path
func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(locationBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Get returns the cached id for key
func (b *BoltCache) Get(key string) (string, bool, error) {
	var id string
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(locationBucket)).Get([]byte(key))
		if data != nil {
			id = string(data)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return id, id != "", nil
}

// Put stores id under key
func (b *BoltCache) Put(key, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(locationBucket)).Put([]byte(key), []byte(id))
	})
}

// Delete removes key
func (b *BoltCache) Delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(locationBucket)).Delete([]byte(key))
	})
}

// Close closes the database connection
func (b *BoltCache) Close() error {
	return b.db.Close()
}

// MemoryCache is a process-local LocationCache
type MemoryCache struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{ids: make(map[string]string)}
}

func (m *MemoryCache) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[key]
	return id, ok, nil
}

func (m *MemoryCache) Put(key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[key] = id
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, key)
	return nil
}
