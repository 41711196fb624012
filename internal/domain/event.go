package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawQuakeRecord is one element of the P2PQuake history array. Only the
// fields the alerting path reads are declared.
type RawQuakeRecord struct {
	ID         string         `json:"id"`
	Code       int            `json:"code"`
	Time       string         `json:"time"`
	Earthquake *RawEarthquake `json:"earthquake"`
	Points     []RawPoint     `json:"points"`

	// DecodeErr is set when only the id could be recovered from the element.
	DecodeErr error `json:"-"`
}

// RawEarthquake is the nested earthquake block of a report.
type RawEarthquake struct {
	Time       string         `json:"time"`
	MaxScale   *int           `json:"maxScale"`
	Hypocenter *RawHypocenter `json:"hypocenter"`
}

// RawHypocenter describes the epicenter as reported by JMA.
type RawHypocenter struct {
	Name      string   `json:"name"`
	Magnitude *float64 `json:"magnitude"`
	Depth     *float64 `json:"depth"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// RawPoint is a single observation point. Pref is the prefecture name in Japanese.
type RawPoint struct {
	Pref  string `json:"pref"`
	Addr  string `json:"addr,omitempty"`
	Scale int    `json:"scale,omitempty"`
}

// OccurredAt is either a parsed timestamp or the raw text the feed sent when
// it could not be parsed. Callers must check Parsed before using Time.
type OccurredAt struct {
	time   time.Time
	raw    string
	parsed bool
}

// ParsedTime wraps a successfully parsed timestamp.
func ParsedTime(t time.Time) OccurredAt {
	return OccurredAt{time: t, raw: t.Format(feedTimeLayout), parsed: true}
}

// RawText wraps a timestamp string that could not be parsed.
func RawText(s string) OccurredAt {
	return OccurredAt{raw: s}
}

// Time returns the parsed timestamp and whether parsing succeeded.
func (o OccurredAt) Time() (time.Time, bool) { return o.time, o.parsed }

// Raw returns the text as received from the feed.
func (o OccurredAt) Raw() string { return o.raw }

// Parsed reports whether the timestamp was understood.
func (o OccurredAt) Parsed() bool { return o.parsed }

func (o OccurredAt) String() string {
	if o.parsed {
		return o.time.Format("2006-01-02 15:04:05 MST")
	}
	if o.raw == "" {
		return "Unknown"
	}
	return o.raw
}

// Measure is a decimal quantity that may be unknown.
type Measure struct {
	Value decimal.Decimal
	Known bool
}

// KnownMeasure builds a Measure from a reported value.
func KnownMeasure(v float64) Measure {
	return Measure{Value: decimal.NewFromFloat(v), Known: true}
}

// UnknownMeasure is the zero Measure, reported as "Unknown".
func UnknownMeasure() Measure { return Measure{} }

func (m Measure) String() string {
	if !m.Known {
		return "Unknown"
	}
	return m.Value.String()
}

// Coordinates is a validated WGS-84 position.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Event is a parsed, immutable earthquake report.
type Event struct {
	ID            string
	OccurredAt    OccurredAt
	EpicenterName string
	Magnitude     Measure
	DepthKm       Measure
	IntensityCode int
	AffectedAreas []string
	Epicenter     *Coordinates
}

// Subscriber is a delivery address plus the region groups it follows.
type Subscriber struct {
	ID                string   `json:"id"`
	InterestedRegions []string `json:"regions"`
}

// Headline is a single news item used to enrich an alert.
type Headline struct {
	Title string
	URL   string
}
