package domain

import (
	"context"
	"log/slog"
)

// LocalizeEpicenter returns the event with an English epicenter name where one
// can be found. The prefecture table is tried first; when it has no match and
// a geocoder is configured, the epicenter coordinates are reverse geocoded.
// Any failure keeps the name as reported (graceful degradation).
func LocalizeEpicenter(ctx context.Context, event Event, geocoder Geocoder, logger *slog.Logger) Event {
	if name, ok := TransliterateName(event.EpicenterName); ok {
		event.EpicenterName = name
		return event
	}
	if geocoder == nil || event.Epicenter == nil {
		return event
	}

	result, err := geocoder.ReverseGeocode(ctx, event.Epicenter.Lat, event.Epicenter.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"event_id", event.ID,
			"lat", event.Epicenter.Lat,
			"lon", event.Epicenter.Lon,
			"error", err,
		)
		return event
	}
	if result.PlaceName == "" {
		return event
	}

	place := result.PlaceName
	if result.FormattedAddress != "" {
		place = result.FormattedAddress
	}
	event.EpicenterName = place + " (" + event.EpicenterName + ")"
	return event
}
