package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
)

// --- mocks ---

type mockFeed struct {
	records []domain.RawQuakeRecord
	err     error
	block   chan struct{} // when set, FetchRecent waits for it to close
	calls   atomic.Int64
}

func (m *mockFeed) FetchRecent(ctx context.Context) ([]domain.RawQuakeRecord, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.records, nil
}

type mockLedgerStore struct {
	mu       sync.Mutex
	ledger   domain.Ledger
	loadErr  error
	saveErrs []error // consumed one per Save call; nil entries succeed
	saves    int
}

func (m *mockLedgerStore) Load(_ context.Context) (domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Ledger{}, m.loadErr
	}
	return m.ledger, nil
}

func (m *mockLedgerStore) Save(_ context.Context, l domain.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	m.ledger = l
	return nil
}

func (m *mockLedgerStore) snapshot() (domain.Ledger, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger, m.saves
}

type mockDirectory struct {
	subs  []domain.Subscriber
	err   error
	calls atomic.Int64
}

func (m *mockDirectory) ListSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.subs, nil
}

type mockHeadlines struct {
	items []domain.Headline
	err   error
}

func (m *mockHeadlines) Latest(_ context.Context, limit int) ([]domain.Headline, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.items) > limit {
		return m.items[:limit], nil
	}
	return m.items, nil
}

type sentMessage struct {
	recipient string
	text      string
}

type mockChannel struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[string]error
}

func (m *mockChannel) Send(_ context.Context, recipientID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[recipientID]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMessage{recipient: recipientID, text: text})
	return nil
}

func (m *mockChannel) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.recipient)
	}
	sort.Strings(out)
	return out
}

type mockJournal struct {
	mu       sync.Mutex
	outcomes []domain.EventOutcome
	err      error
}

func (m *mockJournal) Publish(_ context.Context, outcomes []domain.EventOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outcomes = append(m.outcomes, outcomes...)
	return nil
}

type harness struct {
	feed      *mockFeed
	ledger    *mockLedgerStore
	directory *mockDirectory
	headlines *mockHeadlines
	channel   *mockChannel
	journal   *mockJournal
	opts      pipeline.Options
}

func newHarness(records ...domain.RawQuakeRecord) *harness {
	return &harness{
		feed:   &mockFeed{records: records},
		ledger: &mockLedgerStore{ledger: domain.NewLedger(domain.DefaultLedgerCapacity)},
		directory: &mockDirectory{subs: []domain.Subscriber{
			{ID: "tokyo-chat", InterestedRegions: []string{"Kanto"}},
			{ID: "fukuoka-chat", InterestedRegions: []string{"Kyushu"}},
			{ID: "sendai-chat", InterestedRegions: []string{"Tohoku", "Kanto"}},
		}},
		headlines: &mockHeadlines{items: []domain.Headline{
			{Title: "Strong quake shakes Tokyo", URL: "https://news.example/1"},
		}},
		channel: &mockChannel{},
		journal: &mockJournal{},
		opts: pipeline.Options{
			SaveBackoff: time.Millisecond,
			Dispatch:    pipeline.DispatcherOptions{Rate: 1000},
		},
	}
}

func (h *harness) build() *pipeline.Pipeline {
	return pipeline.New(pipeline.Stages{
		Feed:      h.feed,
		Ledger:    h.ledger,
		Directory: h.directory,
		Headlines: h.headlines,
		Channel:   h.channel,
		Journal:   h.journal,
	}, h.opts, discardLogger(), newTestMetrics())
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestPipeline_RunCycle_HappyPath(t *testing.T) {
	h := newHarness(
		quake("q-global", 55, "宮城県"),
		quake("q-local", 40, "東京都", "千葉県"),
		quake("q-ignore", 30, "東京都"),
	)
	h.ledger.ledger = domain.Ledger{IDs: []string{"old-1"}, Capacity: 50}
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	// Global reaches all three chats; local reaches the two following Kanto.
	assert.Equal(t, 5, summary.AlertsSent)
	assert.Equal(t, 3, summary.Fetched)
	assert.Equal(t, 3, summary.New)
	assert.Equal(t, []string{"fukuoka-chat", "sendai-chat", "sendai-chat", "tokyo-chat", "tokyo-chat"}, h.channel.recipients())

	ledger, saves := h.ledger.snapshot()
	assert.Equal(t, 1, saves)
	assert.Equal(t, []string{"old-1", "q-global", "q-local", "q-ignore"}, ledger.IDs)
	assert.Equal(t, 4, summary.LedgerSize)

	got := dispositions(summary.Outcomes)
	want := map[string]domain.Disposition{
		"q-global": domain.DispositionDispatched,
		"q-local":  domain.DispositionDispatched,
		"q-ignore": domain.DispositionIgnored,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dispositions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "global", summary.Outcomes[0].Tier)
	assert.Equal(t, []string{"Tohoku"}, summary.Outcomes[0].Regions)
	assert.Equal(t, []string{"Kanto"}, summary.Outcomes[1].Regions)
	assert.NotEmpty(t, summary.CycleID)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunCycle_MessageContent(t *testing.T) {
	rec := quake("q-1", 45, "東京都", "千葉県", "東京都")
	rec.Earthquake.Hypocenter = &domain.RawHypocenter{Name: "千葉県北西部", Magnitude: ptr(5.1), Depth: ptr(60.0)}
	h := newHarness(rec)
	p := h.build()

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, h.channel.sent)
	text := h.channel.sent[0].text
	assert.Contains(t, text, "*Location:* Chiba北西部")
	assert.Contains(t, text, "*Affected Areas:* Chiba, Tokyo\n")
	assert.Contains(t, text, "*Max Intensity:* 4.5 (Shindo 5-Lower)")
	assert.Contains(t, text, "*Magnitude:* 5.1")
	assert.Contains(t, text, "*Depth:* 60km")
	assert.Contains(t, text, "[Strong quake shakes Tokyo](https://news.example/1)")
	assert.NotContains(t, text, domain.NewsUnavailableText)
}

func TestPipeline_RunCycle_SkipsLedgeredEvents(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"), quake("q-2", 70, "東京都"))
	h.ledger.ledger = domain.Ledger{IDs: []string{"q-1"}, Capacity: 50}
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "q-2", summary.Outcomes[0].EventID)

	// A second cycle over the same feed sends nothing.
	h.channel.sent = nil
	summary, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.New)
	assert.Zero(t, summary.AlertsSent)
	assert.Empty(t, h.channel.sent)
}

func TestPipeline_RunCycle_DuplicateIDsInFetch(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"), quake("q-1", 70, "東京都"))
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 3, summary.AlertsSent)

	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
}

func TestPipeline_RunCycle_FeedFailure(t *testing.T) {
	h := newHarness()
	h.feed.err = fmt.Errorf("%w: status 503", domain.ErrFeedUnavailable)
	p := h.build()

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)

	_, saves := h.ledger.snapshot()
	assert.Zero(t, saves)
	assert.Empty(t, h.channel.sent)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_RunCycle_LedgerLoadFailure(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"))
	h.ledger.loadErr = fmt.Errorf("%w: connection refused", domain.ErrLedgerUnavailable)
	p := h.build()

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Empty(t, h.channel.sent)
	_, saves := h.ledger.snapshot()
	assert.Zero(t, saves)
}

func TestPipeline_RunCycle_DirectoryFailureDefersEvent(t *testing.T) {
	h := newHarness(quake("q-local", 40, "東京都"), quake("q-ignore", 10, "東京都"))
	h.directory.err = errors.New("connection reset")
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.channel.sent)

	got := dispositions(summary.Outcomes)
	assert.Equal(t, domain.DispositionDeferred, got["q-local"])
	assert.Equal(t, domain.DispositionIgnored, got["q-ignore"])
	assert.Contains(t, summary.Outcomes[0].Error, domain.ErrDirectoryUnavailable.Error())

	// The deferred event is retried next cycle; the ignored one is not.
	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-ignore"}, ledger.IDs)

	h.directory.err = nil
	summary, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 2, summary.AlertsSent)
}

func TestPipeline_RunCycle_IgnoreNeverQueriesDirectory(t *testing.T) {
	h := newHarness(quake("q-1", 20, "東京都"), quake("q-unknown", -1))
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.directory.calls.Load())
	assert.Zero(t, summary.AlertsSent)

	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1", "q-unknown"}, ledger.IDs)
}

func TestPipeline_RunCycle_PartialDeliveryFailure(t *testing.T) {
	h := newHarness(quake("q-1", 60, "福岡県"))
	h.channel.failOn = map[string]error{"tokyo-chat": errors.New("chat not found")}
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 1)

	out := summary.Outcomes[0]
	assert.Equal(t, domain.DispositionDispatched, out.Disposition)
	assert.Equal(t, 3, out.Recipients)
	assert.Equal(t, 2, out.Sent)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, "tokyo-chat", out.Failed[0].SubscriberID)
	assert.Contains(t, out.Failed[0].Reason, "chat not found")

	// Failed deliveries are a permanent miss; the event is still ledgered.
	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
}

func TestPipeline_RunCycle_NewsUnavailable(t *testing.T) {
	h := newHarness(quake("q-1", 50, "東京都"))
	h.headlines.err = fmt.Errorf("%w: timeout", domain.ErrEnrichmentUnavailable)
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.AlertsSent)
	assert.False(t, summary.Outcomes[0].NewsAvailable)
	for _, s := range h.channel.sent {
		assert.Contains(t, s.text, "📰 *Latest News:*\n"+domain.NewsUnavailableText)
	}
}

func TestPipeline_RunCycle_MalformedReports(t *testing.T) {
	noScale := quake("q-noscale", 0)
	noScale.Earthquake.MaxScale = nil
	noID := quake("", 70, "東京都")
	h := newHarness(noScale, noID, quake("q-ok", 70, "東京都"))
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Malformed())
	assert.Equal(t, 3, summary.AlertsSent)

	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-noscale", "q-ok"}, ledger.IDs)
}

func TestPipeline_RunCycle_UndecodableReportIsLedgered(t *testing.T) {
	records, recErrs, err := domain.ParseFeed([]byte(
		`[{"id":"bad-1","earthquake":{"maxScale":"45"}},{"id":"ok-1","earthquake":{"maxScale":10}}]`,
	))
	require.NoError(t, err)
	require.Empty(t, recErrs)

	h := newHarness(records...)
	p := h.build()

	first, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.New)
	assert.Equal(t, 1, first.Malformed())
	assert.Equal(t, domain.DispositionMalformed, dispositions(first.Outcomes)["bad-1"])

	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"bad-1", "ok-1"}, ledger.IDs)

	second, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 0, second.Malformed())
}

// blockingChannel holds every send until its context ends.
type blockingChannel struct {
	calls atomic.Int64
}

func (b *blockingChannel) Send(ctx context.Context, _, _ string) error {
	b.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestPipeline_RunCycle_CycleTimeout(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"))
	h.opts.CycleTimeout = 50 * time.Millisecond
	h.opts.Dispatch = pipeline.DispatcherOptions{Rate: 1000, Timeout: time.Minute}
	channel := &blockingChannel{}

	p := pipeline.New(pipeline.Stages{
		Feed:      h.feed,
		Ledger:    h.ledger,
		Directory: h.directory,
		Headlines: h.headlines,
		Channel:   channel,
	}, h.opts, discardLogger(), newTestMetrics())

	start := time.Now()
	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, summary.Outcomes, 1)
	out := summary.Outcomes[0]
	assert.Equal(t, domain.DispositionDispatched, out.Disposition)
	assert.Equal(t, 3, out.Recipients)
	assert.Equal(t, 0, out.Sent)
	assert.Len(t, out.Failed, 3)
	assert.Equal(t, 0, summary.AlertsSent)

	ledger, saves := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
	assert.Equal(t, 1, saves)
}

func TestPipeline_RunCycle_LedgerEviction(t *testing.T) {
	h := newHarness(quake("q-3", 10), quake("q-4", 10))
	h.ledger.ledger = domain.Ledger{IDs: []string{"q-0", "q-1", "q-2"}, Capacity: 3}
	h.opts.LedgerCapacity = 3
	p := h.build()

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-2", "q-3", "q-4"}, ledger.IDs)
	assert.Equal(t, 3, ledger.Capacity)
}

func TestPipeline_RunCycle_SaveRetriedWithBackoff(t *testing.T) {
	h := newHarness(quake("q-1", 10))
	h.ledger.saveErrs = []error{errors.New("timeout"), errors.New("timeout")}
	p := h.build()

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	ledger, saves := h.ledger.snapshot()
	assert.Equal(t, 3, saves)
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
}

func TestPipeline_RunCycle_SaveFailureReported(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"))
	saveErr := fmt.Errorf("%w: read-only replica", domain.ErrLedgerUnavailable)
	h.ledger.saveErrs = []error{saveErr, saveErr, saveErr, saveErr}
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Equal(t, 3, summary.AlertsSent)

	_, saves := h.ledger.snapshot()
	assert.Equal(t, 4, saves)
	assert.Empty(t, h.journal.outcomes)
}

func TestPipeline_RunCycle_RejectsConcurrentCycle(t *testing.T) {
	h := newHarness(quake("q-1", 10))
	h.feed.block = make(chan struct{})
	p := h.build()

	done := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return h.feed.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := p.RunCycle(context.Background())
	require.ErrorIs(t, err, pipeline.ErrCycleInProgress)

	close(h.feed.block)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), h.feed.calls.Load())
}

func TestPipeline_RunCycle_JournalsOutcomes(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 7, 10, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(quake("q-1", 70, "東京都"), quake("q-2", 10))
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.journal.outcomes, 2)
	for _, o := range h.journal.outcomes {
		assert.Equal(t, summary.CycleID, o.CycleID)
		assert.Equal(t, fakeClock.Now().UTC(), o.ProcessedAt)
	}
	assert.Equal(t, fakeClock.Now().UTC(), summary.StartedAt)
}

func TestPipeline_RunCycle_JournalFailureDoesNotFailCycle(t *testing.T) {
	h := newHarness(quake("q-1", 70, "東京都"))
	h.journal.err = errors.New("broker down")
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.AlertsSent)
	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
}

func TestPipeline_RunCycle_CustomThresholds(t *testing.T) {
	classifier, err := domain.NewClassifier(30, 60)
	require.NoError(t, err)

	h := newHarness(quake("q-1", 30, "福岡県"), quake("q-2", 55, "東京都"))
	h.opts.Classifier = &classifier
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", summary.Outcomes[0].Tier)
	assert.Equal(t, "local", summary.Outcomes[1].Tier)
	// fukuoka-chat for q-1, tokyo-chat and sendai-chat for q-2.
	assert.Equal(t, 3, summary.AlertsSent)
}

func TestPipeline_RunCycle_NoRecipients(t *testing.T) {
	h := newHarness(quake("q-1", 40, "北海道"))
	p := h.build()

	summary, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionNoRecipients, summary.Outcomes[0].Disposition)
	assert.Empty(t, h.channel.sent)
	ledger, _ := h.ledger.snapshot()
	assert.Equal(t, []string{"q-1"}, ledger.IDs)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	p := newHarness().build()
	require.Error(t, p.CheckReadiness(context.Background()))

	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

// --- helpers ---

func quake(id string, scale int, prefs ...string) domain.RawQuakeRecord {
	points := make([]domain.RawPoint, 0, len(prefs))
	for _, p := range prefs {
		points = append(points, domain.RawPoint{Pref: p})
	}
	return domain.RawQuakeRecord{
		ID:   id,
		Code: 551,
		Time: "2024/01/01 16:10:30.123",
		Earthquake: &domain.RawEarthquake{
			Time:     "2024/01/01 16:10:00",
			MaxScale: &scale,
			Hypocenter: &domain.RawHypocenter{
				Name:      "石川県能登地方",
				Magnitude: ptr(7.6),
				Depth:     ptr(10.0),
			},
		},
		Points: points,
	}
}

func ptr[T any](v T) *T { return &v }

func dispositions(outcomes []domain.EventOutcome) map[string]domain.Disposition {
	out := make(map[string]domain.Disposition, len(outcomes))
	for _, o := range outcomes {
		out[o.EventID] = o.Disposition
	}
	return out
}
