package domain

// DefaultLedgerCapacity is how many event ids are remembered between cycles.
const DefaultLedgerCapacity = 50

// Ledger is the bounded, ordered history of processed event ids, oldest
// first. It never holds duplicates. Values are treated as immutable: Merge
// returns a new Ledger.
type Ledger struct {
	IDs      []string `json:"ids"`
	Capacity int      `json:"capacity"`
}

// NewLedger returns an empty ledger with the given capacity. Non-positive
// capacities fall back to DefaultLedgerCapacity.
func NewLedger(capacity int) Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return Ledger{IDs: []string{}, Capacity: capacity}
}

// Normalize drops duplicate ids (keeping the first), enforces the capacity,
// and fills in a missing capacity. Stores call it on everything they load.
func (l Ledger) Normalize(capacity int) Ledger {
	if capacity <= 0 {
		capacity = l.Capacity
	}
	return NewLedger(capacity).Merge(l.IDs...)
}

// Contains reports whether id was processed in a remembered cycle.
func (l Ledger) Contains(id string) bool {
	for _, v := range l.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// FilterNew returns the events whose ids are not in the ledger, in feed
// order. When the feed repeats an id, only the first occurrence is returned.
// The ledger itself is not modified.
func (l Ledger) FilterNew(events []Event) []Event {
	seen := make(map[string]struct{}, len(l.IDs)+len(events))
	for _, id := range l.IDs {
		seen[id] = struct{}{}
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Merge appends ids in arrival order, skipping ones already present, and
// evicts the oldest entries beyond capacity.
func (l Ledger) Merge(ids ...string) Ledger {
	capacity := l.Capacity
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}

	merged := make([]string, 0, len(l.IDs)+len(ids))
	seen := make(map[string]struct{}, len(l.IDs)+len(ids))
	for _, list := range [][]string{l.IDs, ids} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}

	if len(merged) > capacity {
		merged = merged[len(merged)-capacity:]
	}
	return Ledger{IDs: merged, Capacity: capacity}
}
