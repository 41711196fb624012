package domain

import "time"

// Disposition is what a cycle did with one new event.
type Disposition string

const (
	// DispositionDispatched means the alert was sent to every resolved recipient
	// (individual sends may still have failed).
	DispositionDispatched Disposition = "dispatched"
	// DispositionNoRecipients means the event qualified but nobody follows its regions.
	DispositionNoRecipients Disposition = "no_recipients"
	// DispositionIgnored means the intensity was below the local threshold.
	DispositionIgnored Disposition = "ignored"
	// DispositionMalformed means the report could not be alerted on.
	DispositionMalformed Disposition = "malformed"
	// DispositionDeferred means subscriber resolution failed; the event is
	// left out of the ledger and retried next cycle.
	DispositionDeferred Disposition = "deferred"
)

// Ledgered reports whether the event counts as processed.
func (d Disposition) Ledgered() bool { return d != DispositionDeferred }

// DeliveryFailure records one recipient that did not receive an alert.
type DeliveryFailure struct {
	SubscriberID string `json:"subscriber_id"`
	Reason       string `json:"reason"`
}

// EventOutcome is the per-event record of a cycle, also published to the
// alert journal.
type EventOutcome struct {
	CycleID       string            `json:"cycle_id"`
	EventID       string            `json:"event_id"`
	Disposition   Disposition       `json:"disposition"`
	Tier          string            `json:"tier,omitempty"`
	IntensityCode int               `json:"intensity_code"`
	Regions       []string          `json:"regions,omitempty"`
	Recipients    int               `json:"recipients"`
	Sent          int               `json:"sent"`
	Failed        []DeliveryFailure `json:"failed,omitempty"`
	NewsAvailable bool              `json:"news_available"`
	Error         string            `json:"error,omitempty"`
	ProcessedAt   time.Time         `json:"processed_at"`
}

// NewOutcome starts an outcome for event, stamped with the package clock.
func NewOutcome(cycleID string, event Event) EventOutcome {
	return EventOutcome{
		CycleID:       cycleID,
		EventID:       event.ID,
		IntensityCode: event.IntensityCode,
		ProcessedAt:   Now(),
	}
}
