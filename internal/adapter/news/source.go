// Package news supplies recent headlines from an RSS or Atom feed to enrich alerts.
package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// FeedSource implements pipeline.HeadlineSource over a syndication feed.
type FeedSource struct {
	feedURL string
	parser  *gofeed.Parser
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewFeedSource creates a headline source for feedURL. RSS and Atom are both accepted.
func NewFeedSource(feedURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *FeedSource {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	return &FeedSource{
		feedURL: feedURL,
		parser:  parser,
		metrics: metrics,
		logger:  logger,
	}
}

// Latest returns the first limit items that carry a title. Any fetch or
// parse failure is ErrEnrichmentUnavailable, as is a feed with no usable items.
func (s *FeedSource) Latest(ctx context.Context, limit int) ([]domain.Headline, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		s.metrics.HeadlineFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrEnrichmentUnavailable, err)
	}

	headlines := make([]domain.Headline, 0, limit)
	for _, item := range feed.Items {
		if len(headlines) == limit {
			break
		}
		if item == nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		headlines = append(headlines, domain.Headline{Title: title, URL: strings.TrimSpace(item.Link)})
	}

	if len(headlines) == 0 {
		s.metrics.HeadlineFetches.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("%w: feed has no items", domain.ErrEnrichmentUnavailable)
	}
	s.metrics.HeadlineFetches.WithLabelValues("success").Inc()
	s.logger.Debug("fetched headlines", "count", len(headlines), "feed", feed.Title)
	return headlines, nil
}
