package memory

import (
	"context"
	"sync"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// LedgerStore keeps the dedup ledger in process memory. History is lost on
// restart, so the first cycle after a restart may repeat recent alerts.
type LedgerStore struct {
	mu     sync.Mutex
	ledger domain.Ledger
}

// NewLedgerStore creates an empty store with the given capacity.
func NewLedgerStore(capacity int) *LedgerStore {
	return &LedgerStore{ledger: domain.NewLedger(capacity)}
}

func (s *LedgerStore) Load(_ context.Context) (domain.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyLedger(s.ledger), nil
}

func (s *LedgerStore) Save(_ context.Context, ledger domain.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = copyLedger(ledger)
	return nil
}

func copyLedger(l domain.Ledger) domain.Ledger {
	return domain.Ledger{IDs: append([]string{}, l.IDs...), Capacity: l.Capacity}
}
