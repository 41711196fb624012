package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// Channel delivers a rendered alert to a single recipient.
type Channel interface {
	Send(ctx context.Context, recipientID, text string) error
}

// DispatchSummary aggregates the per-recipient attempts of one alert.
// Sent + len(Failed) always equals the number of recipients.
type DispatchSummary struct {
	Sent   int
	Failed []domain.DeliveryFailure
}

// DispatcherOptions bounds fan-out. Zero values fall back to the defaults.
type DispatcherOptions struct {
	Concurrency int
	Rate        float64 // sends per second shared by all alerts
	Timeout     time.Duration
}

const (
	defaultDispatchConcurrency = 8
	defaultDispatchRate        = 25
	defaultDeliveryTimeout     = 10 * time.Second
)

// Dispatcher fans a message out to recipients over a Channel. Each attempt is
// independent and never retried.
type Dispatcher struct {
	channel     Channel
	limiter     *rate.Limiter
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewDispatcher creates a Dispatcher. Sends are spaced evenly at opts.Rate
// with no burst; the limiter is shared across concurrent Dispatch calls so
// parallel events respect one send budget.
func NewDispatcher(channel Channel, opts DispatcherOptions, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultDispatchConcurrency
	}
	if opts.Rate <= 0 {
		opts.Rate = defaultDispatchRate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDeliveryTimeout
	}
	return &Dispatcher{
		channel:     channel,
		limiter:     rate.NewLimiter(rate.Limit(opts.Rate), 1),
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Dispatch attempts delivery to every recipient and reports the outcome.
// Cancelling ctx stops waiting for the limiter; recipients not yet attempted
// are reported as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []string, msg domain.Message) DispatchSummary {
	text := msg.Markdown()

	var (
		mu      sync.Mutex
		summary = DispatchSummary{Failed: []domain.DeliveryFailure{}}
	)
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			summary.Sent++
			d.metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
			return
		}
		summary.Failed = append(summary.Failed, domain.DeliveryFailure{SubscriberID: id, Reason: err.Error()})
		d.metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("delivery failed",
			"event_id", msg.EventID,
			"subscriber_id", id,
			"error", err,
		)
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, id := range recipients {
		g.Go(func() error {
			record(id, d.deliver(ctx, id, text))
			return nil
		})
	}
	_ = g.Wait()

	return summary
}

func (d *Dispatcher) deliver(ctx context.Context, recipientID, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: not attempted: %w", domain.ErrDeliveryFailed, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.channel.Send(sendCtx, recipientID, text)
	d.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDeliveryFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
}
