package domain

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxHeadlines caps how many news items an alert carries.
	MaxHeadlines = 3

	// NewsUnavailableText replaces the news section when enrichment failed or was empty.
	NewsUnavailableText = "Unable to fetch news."
)

// Link is a titled URL rendered in an alert.
type Link struct {
	Title string
	URL   string
}

// ReferenceLinks are attached to every alert.
var ReferenceLinks = []Link{
	{Title: "JMA Seismic Map", URL: "https://www.data.jma.go.jp/multi/quake/index.html"},
	{Title: "P2P Quake", URL: "https://www.p2pquake.net/web/"},
}

// Message is the structured alert payload. Its shape does not depend on
// whether news enrichment succeeded.
type Message struct {
	EventID        string
	Location       string
	OccurredAt     string
	AffectedAreas  string
	Magnitude      string
	Depth          string
	Intensity      string
	IntensityLabel string
	Links          []Link
	Headlines      []Headline
}

// Compose builds the alert for an event. areasEnglish are the translated
// affected areas; they are deduplicated and sorted here regardless of input
// order. headlines may be nil when enrichment failed.
func Compose(event Event, areasEnglish []string, headlines []Headline) Message {
	areas := dedupeSorted(areasEnglish)

	depth := event.DepthKm.String()
	if event.DepthKm.Known {
		depth += "km"
	}

	msg := Message{
		EventID:        event.ID,
		Location:       event.EpicenterName,
		OccurredAt:     event.OccurredAt.String(),
		AffectedAreas:  strings.Join(areas, ", "),
		Magnitude:      event.Magnitude.String(),
		Depth:          depth,
		Intensity:      IntensityValue(event.IntensityCode),
		IntensityLabel: ShindoLabel(event.IntensityCode),
		Links:          append([]Link(nil), ReferenceLinks...),
	}

	for _, h := range headlines {
		if len(msg.Headlines) == MaxHeadlines {
			break
		}
		if strings.TrimSpace(h.Title) == "" {
			continue
		}
		msg.Headlines = append(msg.Headlines, h)
	}
	return msg
}

// NewsAvailable reports whether the message carries at least one headline.
func (m Message) NewsAvailable() bool { return len(m.Headlines) > 0 }

// Markdown renders the message in Telegram's legacy Markdown dialect.
func (m Message) Markdown() string {
	var b strings.Builder
	b.WriteString("🚨 *Earthquake Alert* 🚨\n\n")
	fmt.Fprintf(&b, "*Location:* %s\n", escapeMarkdown(m.Location))
	fmt.Fprintf(&b, "*Time:* %s\n", escapeMarkdown(m.OccurredAt))
	fmt.Fprintf(&b, "*Affected Areas:* %s\n", escapeMarkdown(m.AffectedAreas))
	fmt.Fprintf(&b, "*Max Intensity:* %s (Shindo %s)\n", m.Intensity, m.IntensityLabel)
	fmt.Fprintf(&b, "*Magnitude:* %s\n", m.Magnitude)
	fmt.Fprintf(&b, "*Depth:* %s\n\n", m.Depth)

	for _, l := range m.Links {
		fmt.Fprintf(&b, "🔗 [%s](%s)\n\n", escapeMarkdown(l.Title), l.URL)
	}

	b.WriteString("📰 *Latest News:*\n")
	if !m.NewsAvailable() {
		b.WriteString(NewsUnavailableText)
		return b.String()
	}
	lines := make([]string, 0, len(m.Headlines))
	for _, h := range m.Headlines {
		if h.URL == "" {
			lines = append(lines, "- "+escapeMarkdown(h.Title))
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s](%s)", escapeMarkdown(h.Title), h.URL))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
