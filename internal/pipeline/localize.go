package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Localizer renders the place names of an event in English.
type Localizer interface {
	Localize(ctx context.Context, event domain.Event) domain.Event
}

// QuakeLocalizer implements Localizer with the prefecture table and an
// optional reverse geocoder for epicenters the table does not know.
type QuakeLocalizer struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewLocalizer creates a QuakeLocalizer. Pass a nil geocoder to disable
// reverse geocoding.
func NewLocalizer(geocoder domain.Geocoder, logger *slog.Logger) *QuakeLocalizer {
	return &QuakeLocalizer{
		geocoder: geocoder,
		logger:   logger,
	}
}

// Localize translates the epicenter name. Affected areas keep their raw
// names so region matching stays exact; they are translated at compose time.
func (l *QuakeLocalizer) Localize(ctx context.Context, event domain.Event) domain.Event {
	return domain.LocalizeEpicenter(ctx, event, l.geocoder, l.logger)
}
