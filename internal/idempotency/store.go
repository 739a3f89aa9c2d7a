// Package idempotency caches responses to externally retried requests.
// A replayed key within the retention window gets the original response;
// a replayed key with a different payload is a conflict, not a replay.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrKeyConflict is returned when an idempotency key is replayed with a
// different request body.
var ErrKeyConflict = errors.New("idempotency key reused with different payload")

// Record holds a stored response plus the hash of the request that
// produced it.
type Record struct {
	RequestHash string    `json:"requestHash"`
	StatusCode  int       `json:"statusCode"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store abstracts idempotency persistence.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// HashRequest fingerprints a request body for replay detection.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Check looks up key and classifies the result: a matching record is a
// replay, a record with a different request hash is a conflict.
func Check(ctx context.Context, s Store, key string, requestHash string) (*Record, error) {
	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.RequestHash != "" && rec.RequestHash != requestHash {
		return nil, ErrKeyConflict
	}
	return rec, nil
}

// MemoryStore is the in-process backend, used in tests and when the
// service runs without Postgres.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}
