// Package p2pquake fetches earthquake reports from the P2PQuake JSON API.
package p2pquake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// maxBodyBytes bounds the history response; ten reports are a few hundred KB at most.
const maxBodyBytes = 8 << 20

// Client implements pipeline.FeedSource over the P2PQuake history endpoint.
type Client struct {
	feedURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client for feedURL, typically
// https://api.p2pquake.net/v2/history?codes=551&limit=10.
func NewClient(feedURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// FetchRecent returns the decodable reports, most recent first. Any
// transport, status or top-level decoding failure is ErrFeedUnavailable.
// Individual elements that fail to decode are logged and dropped.
func (c *Client) FetchRecent(ctx context.Context) ([]domain.RawQuakeRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrFeedUnavailable, resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrFeedUnavailable, err)
	}

	records, recErrs, err := domain.ParseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedUnavailable, err)
	}
	for _, recErr := range recErrs {
		c.metrics.EventsMalformed.Inc()
		c.logger.Warn("dropping undecodable report", "error", recErr)
	}
	return records, nil
}
