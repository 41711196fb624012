package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// feedTimeLayout is the P2PQuake timestamp layout. Fractional seconds are
// accepted by time.Parse even though the layout omits them.
const feedTimeLayout = "2006/01/02 15:04:05"

// jst is Japan Standard Time. A fixed zone avoids depending on tzdata.
var jst = time.FixedZone("JST", 9*60*60)

// unknownScale is the P2PQuake sentinel for "intensity not yet known".
const unknownScale = -1

// ParseFeed decodes a history response body. The body itself must be a JSON
// array; each element is decoded on its own so that one bad record does not
// hide the rest. An element that fails to decode but still carries an id is
// returned as a record with DecodeErr set, so it can be marked processed.
// Elements without a recoverable id are returned as errors, in feed order.
func ParseFeed(body []byte) ([]RawQuakeRecord, []error, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, nil, fmt.Errorf("decode feed: %w", err)
	}

	records := make([]RawQuakeRecord, 0, len(elems))
	var recErrs []error
	for i, elem := range elems {
		var rec RawQuakeRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			if id := recoverID(elem); id != "" {
				records = append(records, RawQuakeRecord{ID: id, DecodeErr: err})
				continue
			}
			recErrs = append(recErrs, fmt.Errorf("%w: record %d: %v", ErrMalformedEvent, i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, recErrs, nil
}

// recoverID pulls just the id out of an element whose full decode failed.
func recoverID(elem json.RawMessage) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(elem, &partial); err != nil {
		return ""
	}
	return strings.TrimSpace(partial.ID)
}

// ParseQuakeRecord converts a raw record into an Event. A record without an
// id cannot be deduplicated and a record without an intensity cannot be
// classified; both return ErrMalformedEvent. When the id is present, the
// returned Event still carries it so the caller can mark it processed.
func ParseQuakeRecord(rec RawQuakeRecord) (Event, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return Event{}, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}

	event := Event{ID: id}
	if rec.DecodeErr != nil {
		return event, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, id, rec.DecodeErr)
	}
	if rec.Earthquake == nil {
		return event, fmt.Errorf("%w: %s: missing earthquake block", ErrMalformedEvent, id)
	}
	if rec.Earthquake.MaxScale == nil {
		return event, fmt.Errorf("%w: %s: missing maxScale", ErrMalformedEvent, id)
	}

	event.IntensityCode = *rec.Earthquake.MaxScale
	event.OccurredAt = parseFeedTime(firstNonEmpty(rec.Earthquake.Time, rec.Time))
	event.EpicenterName = "Unknown Location"
	event.Magnitude = UnknownMeasure()
	event.DepthKm = UnknownMeasure()

	if h := rec.Earthquake.Hypocenter; h != nil {
		if name := strings.TrimSpace(h.Name); name != "" {
			event.EpicenterName = name
		}
		event.Magnitude = measureOrUnknown(h.Magnitude)
		event.DepthKm = measureOrUnknown(h.Depth)
		event.Epicenter = validCoordinates(h.Latitude, h.Longitude)
	}

	areas := make([]string, 0, len(rec.Points))
	for _, p := range rec.Points {
		if pref := strings.TrimSpace(p.Pref); pref != "" {
			areas = append(areas, pref)
		}
	}
	event.AffectedAreas = areas

	return event, nil
}

// IntensityKnown reports whether the feed has published an intensity yet.
func (e Event) IntensityKnown() bool { return e.IntensityCode != unknownScale }

func parseFeedTime(s string) OccurredAt {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(feedTimeLayout, s, jst)
	if err != nil {
		return RawText(s)
	}
	return ParsedTime(t)
}

// measureOrUnknown treats a missing value or any negative value as unknown.
// P2PQuake uses -1 for both magnitude and depth.
func measureOrUnknown(v *float64) Measure {
	if v == nil || *v < 0 {
		return UnknownMeasure()
	}
	return KnownMeasure(*v)
}

func validCoordinates(lat, lon *float64) *Coordinates {
	if lat == nil || lon == nil {
		return nil
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return nil
	}
	return &Coordinates{Lat: *lat, Lon: *lon}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
