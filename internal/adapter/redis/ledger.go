// Package redis persists the dedup ledger as a single JSON document in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// LedgerStore implements pipeline.LedgerStore. The document has the shape
// {"ids": [...], "capacity": 50}.
type LedgerStore struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewLedgerStore stores the ledger under key. capacity applies when the
// document is missing or carries none.
func NewLedgerStore(client *redis.Client, key string, capacity int) *LedgerStore {
	return &LedgerStore{client: client, key: key, capacity: capacity}
}

// Load returns the stored ledger, or an empty one when the key does not exist.
func (s *LedgerStore) Load(ctx context.Context) (domain.Ledger, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewLedger(s.capacity), nil
	}
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("%w: get %s: %w", domain.ErrLedgerUnavailable, s.key, err)
	}
	return decodeLedger(data, s.capacity)
}

// Save overwrites the document. The ledger has no expiry.
func (s *LedgerStore) Save(ctx context.Context, ledger domain.Ledger) error {
	data, err := encodeLedger(ledger)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", domain.ErrLedgerUnavailable, s.key, err)
	}
	return nil
}

func decodeLedger(data []byte, capacity int) (domain.Ledger, error) {
	var l domain.Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Ledger{}, fmt.Errorf("%w: decode ledger: %w", domain.ErrLedgerUnavailable, err)
	}
	if l.Capacity <= 0 {
		l.Capacity = capacity
	}
	return l.Normalize(l.Capacity), nil
}

func encodeLedger(l domain.Ledger) ([]byte, error) {
	if l.IDs == nil {
		l.IDs = []string{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}
