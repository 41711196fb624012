package domain

import "errors"

// Failure classes of a poll cycle. Adapters wrap these so the orchestrator can
// decide with errors.Is whether to abort, skip, or record.
var (
	// ErrFeedUnavailable aborts the cycle before the ledger is touched.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrEnrichmentUnavailable is recovered locally with placeholder text.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
	// ErrDirectoryUnavailable leaves the event out of the ledger so it is retried.
	ErrDirectoryUnavailable = errors.New("subscriber directory unavailable")
	// ErrDeliveryFailed marks a single recipient's failed send.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrMalformedEvent marks a report that cannot be alerted on.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrLedgerUnavailable means the dedup ledger could not be read or written.
	ErrLedgerUnavailable = errors.New("dedup ledger unavailable")
)
