package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// ErrCycleInProgress is returned when a cycle is triggered while another one runs.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// FeedSource fetches the most recent earthquake reports, newest first.
type FeedSource interface {
	FetchRecent(ctx context.Context) ([]domain.RawQuakeRecord, error)
}

// LedgerStore loads and saves the dedup ledger document.
type LedgerStore interface {
	Load(ctx context.Context) (domain.Ledger, error)
	Save(ctx context.Context, ledger domain.Ledger) error
}

// HeadlineSource returns up to limit recent news headlines.
type HeadlineSource interface {
	Latest(ctx context.Context, limit int) ([]domain.Headline, error)
}

// Journal publishes the per-event outcomes of a cycle.
type Journal interface {
	Publish(ctx context.Context, outcomes []domain.EventOutcome) error
}

// Stages are the collaborators of a Pipeline. Journal may be nil.
type Stages struct {
	Feed      FeedSource
	Ledger    LedgerStore
	Directory Directory
	Headlines HeadlineSource
	Channel   Channel
	Localizer Localizer
	Journal   Journal
}

// Options tunes a Pipeline. Zero values fall back to defaults.
type Options struct {
	Classifier       *domain.Classifier
	Regions          *domain.RegionIndex
	LedgerCapacity   int
	EventConcurrency int
	CycleTimeout     time.Duration
	Dispatch         DispatcherOptions

	// SaveBackoff is the first delay between ledger save attempts.
	SaveBackoff time.Duration
}

const (
	defaultEventConcurrency = 4
	saveAttempts            = 4
	maxSaveBackoff          = 5 * time.Second
	journalTimeout          = 10 * time.Second
)

// CycleSummary is the result of one poll cycle.
type CycleSummary struct {
	CycleID    string                `json:"cycle_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Fetched    int                   `json:"fetched"`
	New        int                   `json:"new"`
	Outcomes   []domain.EventOutcome `json:"outcomes"`
	AlertsSent int                   `json:"alerts_sent"`
	LedgerSize int                   `json:"ledger_size"`
}

// Malformed counts new events that could not be alerted on.
func (s CycleSummary) Malformed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Disposition == domain.DispositionMalformed {
			n++
		}
	}
	return n
}

// Pipeline orchestrates fetch, dedup, classify, resolve, compose, dispatch
// and persist. Cycles never overlap.
type Pipeline struct {
	stages      Stages
	resolver    *Resolver
	dispatcher  *Dispatcher
	classifier  domain.Classifier
	regions     *domain.RegionIndex
	capacity    int
	concurrency int
	timeout     time.Duration
	saveBackoff time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
	running     sync.Mutex
	ready       atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	classifier, _ := domain.NewClassifier(domain.DefaultMinLocalShindo, domain.DefaultMinGlobalShindo)
	if opts.Classifier != nil {
		classifier = *opts.Classifier
	}
	if opts.Regions == nil {
		opts.Regions = domain.NewRegionIndex(domain.DefaultRegionGroups)
	}
	if opts.LedgerCapacity <= 0 {
		opts.LedgerCapacity = domain.DefaultLedgerCapacity
	}
	if opts.EventConcurrency <= 0 {
		opts.EventConcurrency = defaultEventConcurrency
	}
	if opts.SaveBackoff <= 0 {
		opts.SaveBackoff = 200 * time.Millisecond
	}
	if stages.Localizer == nil {
		stages.Localizer = NewLocalizer(nil, logger)
	}
	return &Pipeline{
		stages:      stages,
		resolver:    NewResolver(stages.Directory),
		dispatcher:  NewDispatcher(stages.Channel, opts.Dispatch, logger, metrics),
		classifier:  classifier,
		regions:     opts.Regions,
		capacity:    opts.LedgerCapacity,
		concurrency: opts.EventConcurrency,
		timeout:     opts.CycleTimeout,
		saveBackoff: opts.SaveBackoff,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once a cycle has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no poll cycle has completed yet")
	}
	return nil
}

// RunCycle runs one poll cycle. A feed or ledger-load failure aborts before
// anything is sent or persisted. Otherwise every new event is processed,
// all dispatches are joined, and the ledger is written exactly once. The
// returned error is non-nil only for aborted cycles or a failed ledger save;
// per-event and per-recipient failures are reported in the summary.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !p.running.TryLock() {
		p.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return CycleSummary{}, ErrCycleInProgress
	}
	defer p.running.Unlock()

	summary := CycleSummary{CycleID: uuid.NewString(), StartedAt: domain.Now()}
	logger := p.logger.With("cycle_id", summary.CycleID)
	start := time.Now()
	defer func() {
		p.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	records, err := p.stages.Feed.FetchRecent(ctx)
	if err != nil {
		p.metrics.CyclesTotal.WithLabelValues("fetch_failed").Inc()
		logger.Error("fetch feed failed", "error", err)
		return p.finish(summary), fmt.Errorf("fetch feed: %w", err)
	}
	summary.Fetched = len(records)
	p.metrics.EventsFetched.Add(float64(len(records)))

	previous, err := p.stages.Ledger.Load(ctx)
	if err != nil {
		p.metrics.CyclesTotal.WithLabelValues("ledger_failed").Inc()
		logger.Error("load ledger failed", "error", err)
		return p.finish(summary), fmt.Errorf("load ledger: %w", err)
	}
	previous = previous.Normalize(p.capacity)

	events, malformed := p.parse(records, logger)
	fresh := previous.FilterNew(events)
	summary.New = len(fresh)
	p.metrics.EventsNew.Add(float64(len(fresh)))

	summary.Outcomes = p.processAll(ctx, summary.CycleID, fresh, malformed, logger)

	processed := make([]string, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		summary.AlertsSent += o.Sent
		if o.Disposition.Ledgered() {
			processed = append(processed, o.EventID)
		}
	}

	// The ledger must be written even when the cycle deadline has passed.
	persistCtx := context.WithoutCancel(ctx)
	next := previous.Merge(processed...)
	if err := p.saveLedger(persistCtx, next, logger); err != nil {
		p.metrics.CyclesTotal.WithLabelValues("ledger_failed").Inc()
		return p.finish(summary), fmt.Errorf("save ledger: %w", err)
	}
	summary.LedgerSize = len(next.IDs)
	p.metrics.LedgerSize.Set(float64(len(next.IDs)))

	p.publish(persistCtx, summary.Outcomes, logger)

	p.metrics.CyclesTotal.WithLabelValues("done").Inc()
	p.metrics.LastSuccessTime.Set(float64(domain.Now().Unix()))
	p.metrics.PipelineReady.Set(1)
	p.ready.Store(true)

	summary = p.finish(summary)
	logger.Info("poll cycle complete",
		"fetched", summary.Fetched,
		"new", summary.New,
		"alerts_sent", summary.AlertsSent,
		"ledger_size", summary.LedgerSize,
	)
	return summary, nil
}

func (p *Pipeline) finish(s CycleSummary) CycleSummary {
	s.FinishedAt = domain.Now()
	return s
}

// parse converts feed records into events. Records without an id cannot be
// deduplicated and are dropped. For the remaining malformed records the
// returned map holds the parse error of the first occurrence of each id.
func (p *Pipeline) parse(records []domain.RawQuakeRecord, logger *slog.Logger) ([]domain.Event, map[string]error) {
	events := make([]domain.Event, 0, len(records))
	malformed := make(map[string]error)
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		event, err := domain.ParseQuakeRecord(rec)
		if err != nil && event.ID == "" {
			p.metrics.EventsMalformed.Inc()
			logger.Warn("dropping report without id", "error", err)
			continue
		}
		if _, dup := seen[event.ID]; dup {
			continue
		}
		seen[event.ID] = struct{}{}
		if err != nil {
			malformed[event.ID] = err
		}
		events = append(events, event)
	}
	return events, malformed
}

// processAll runs processEvent for each event with bounded concurrency and
// returns the outcomes in feed order.
func (p *Pipeline) processAll(ctx context.Context, cycleID string, events []domain.Event, malformed map[string]error, logger *slog.Logger) []domain.EventOutcome {
	outcomes := make([]domain.EventOutcome, len(events))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, event := range events {
		g.Go(func() error {
			outcomes[i] = p.processEvent(ctx, cycleID, event, malformed[event.ID], logger)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// processEvent classifies, resolves, composes and dispatches a single event.
func (p *Pipeline) processEvent(ctx context.Context, cycleID string, event domain.Event, parseErr error, logger *slog.Logger) domain.EventOutcome {
	out := domain.NewOutcome(cycleID, event)
	logger = logger.With("event_id", event.ID)

	if parseErr != nil {
		p.metrics.EventsMalformed.Inc()
		logger.Warn("skipping malformed report", "error", parseErr)
		out.Disposition = domain.DispositionMalformed
		out.Error = parseErr.Error()
		return out
	}

	tier := p.classifier.Classify(event.IntensityCode)
	out.Tier = tier.String()
	p.metrics.EventsByTier.WithLabelValues(tier.String()).Inc()
	if tier == domain.TierIgnore {
		logger.Debug("below alert threshold", "intensity_code", event.IntensityCode)
		out.Disposition = domain.DispositionIgnored
		return out
	}

	out.Regions = p.regions.RegionsFor(event.AffectedAreas)
	recipients, err := p.resolver.Resolve(ctx, tier, out.Regions)
	if err != nil {
		p.metrics.ResolveErrors.Inc()
		logger.Error("resolve subscribers failed, will retry next cycle", "error", err)
		out.Disposition = domain.DispositionDeferred
		out.Error = err.Error()
		return out
	}
	out.Recipients = len(recipients)
	if len(recipients) == 0 {
		logger.Info("no subscribers for regions", "tier", out.Tier, "regions", out.Regions)
		out.Disposition = domain.DispositionNoRecipients
		return out
	}

	event = p.stages.Localizer.Localize(ctx, event)
	msg := domain.Compose(event, domain.EnglishAreas(event.AffectedAreas), p.headlines(ctx, logger))
	out.NewsAvailable = msg.NewsAvailable()

	result := p.dispatcher.Dispatch(ctx, recipients, msg)
	out.Disposition = domain.DispositionDispatched
	out.Sent = result.Sent
	out.Failed = result.Failed
	logger.Info("alert dispatched",
		"tier", out.Tier,
		"recipients", out.Recipients,
		"sent", out.Sent,
		"failed", len(out.Failed),
	)
	return out
}

// headlines returns recent news or nil when enrichment fails. Failures never
// propagate; the composer renders a placeholder instead.
func (p *Pipeline) headlines(ctx context.Context, logger *slog.Logger) []domain.Headline {
	if p.stages.Headlines == nil {
		return nil
	}
	items, err := p.stages.Headlines.Latest(ctx, domain.MaxHeadlines)
	if err != nil {
		logger.Warn("news enrichment unavailable", "error", err)
		return nil
	}
	return items
}

// saveLedger writes the ledger, retrying with exponential backoff.
func (p *Pipeline) saveLedger(ctx context.Context, ledger domain.Ledger, logger *slog.Logger) error {
	backoff := p.saveBackoff
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = p.stages.Ledger.Save(ctx, ledger); err == nil {
			return nil
		}
		logger.Warn("save ledger failed", "attempt", attempt, "error", err)
		if attempt == saveAttempts {
			break
		}
		if !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxSaveBackoff)
	}
	logger.Error("ledger not persisted, duplicates may be sent next cycle", "error", err)
	return err
}

// publish sends outcomes to the journal. Failures are logged and counted only.
func (p *Pipeline) publish(ctx context.Context, outcomes []domain.EventOutcome, logger *slog.Logger) {
	if p.stages.Journal == nil || len(outcomes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := p.stages.Journal.Publish(ctx, outcomes); err != nil {
		p.metrics.JournalErrors.Inc()
		logger.Warn("publish alert journal failed", "error", err, "outcomes", len(outcomes))
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
