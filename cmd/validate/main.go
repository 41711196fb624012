// Command validate checks a saved P2PQuake history document and a subscriber
// file offline. It reports records the pipeline would treat as malformed,
// place names with no English rendering, and subscriber entries that can never
// match a region group, then prints the alert plan for every event.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -feed testdata/history.json \
//	  -subscribers subscribers.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/quake-alert-service/internal/adapter/memory"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	feedPath := flag.String("feed", "", "path to a saved P2PQuake history JSON array")
	subscribersPath := flag.String("subscribers", "", "path to a subscribers JSON file")
	minLocal := flag.Int("min-local", domain.DefaultMinLocalShindo, "minimum intensity code for local alerts")
	minGlobal := flag.Int("min-global", domain.DefaultMinGlobalShindo, "minimum intensity code for global alerts")
	flag.Parse()

	if *feedPath == "" || *subscribersPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*feedPath, *subscribersPath, *minLocal, *minGlobal); code != 0 {
		os.Exit(code)
	}
}

func run(feedPath, subscribersPath string, minLocal, minGlobal int) int {
	ctx := context.Background()

	fmt.Println("=== Quake Alert Data Validation ===")
	fmt.Println()

	classifier, err := domain.NewClassifier(minLocal, minGlobal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	body, err := os.ReadFile(feedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read feed: %v\n", err)
		return 1
	}
	records, decodeErrs, err := domain.ParseFeed(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse feed: %v\n", err)
		return 1
	}

	directory := memory.NewFileDirectory(subscribersPath)
	subs, err := directory.ListSubscribers(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load subscribers: %v\n", err)
		return 1
	}

	regions := domain.NewRegionIndex(domain.DefaultRegionGroups)
	feedPhase, events := validateFeed(records, decodeErrs)

	phases := []*phase{
		feedPhase,
		validateTranslations(events),
		validateSubscribers(subs, regions),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d feed elements, %d parsed events, %d subscribers\n",
		len(records)+len(decodeErrs), len(events), len(subs))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  %d. %s\n", i+1, e)
		}
	}

	fmt.Println()
	fmt.Println("--- Alert plan ---")
	if err := printPlan(ctx, events, classifier, regions, pipeline.NewResolver(directory)); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: resolve recipients: %v\n", err)
		return 1
	}

	if !allPassed {
		return 1
	}
	return 0
}

func validateFeed(records []domain.RawQuakeRecord, decodeErrs []error) (*phase, []domain.Event) {
	p := &phase{name: "Feed records parse"}
	for _, err := range decodeErrs {
		p.errorf("undecodable element: %v", err)
	}

	events := make([]domain.Event, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			p.errorf("record %d: missing id", i)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			p.errorf("record %d: duplicate id %s", i, rec.ID)
			continue
		}
		seen[rec.ID] = struct{}{}

		event, err := domain.ParseQuakeRecord(rec)
		if err != nil {
			p.errorf("record %s: %v", rec.ID, err)
			continue
		}
		events = append(events, event)
	}
	return p, events
}

func validateTranslations(events []domain.Event) *phase {
	p := &phase{name: "English place names"}
	for _, e := range events {
		if e.EpicenterName != "" {
			if _, ok := domain.TransliterateName(e.EpicenterName); !ok {
				p.errorf("event %s: no transliteration for epicenter %q", e.ID, e.EpicenterName)
			}
		}
		for _, area := range e.AffectedAreas {
			if _, ok := domain.TranslatePrefecture(area); !ok {
				p.errorf("event %s: no translation for area %q", e.ID, area)
			}
		}
	}
	return p
}

func validateSubscribers(subs []domain.Subscriber, regions *domain.RegionIndex) *phase {
	p := &phase{name: "Subscriber directory"}
	known := make(map[string]struct{})
	for _, name := range regions.Names() {
		known[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(subs))
	for i, s := range subs {
		if s.ID == "" {
			p.errorf("subscriber %d: empty id", i)
			continue
		}
		if _, dup := seen[s.ID]; dup {
			p.errorf("subscriber %s: listed more than once", s.ID)
		}
		seen[s.ID] = struct{}{}
		for _, r := range s.InterestedRegions {
			if _, ok := known[r]; !ok {
				p.errorf("subscriber %s: unknown region %q", s.ID, r)
			}
		}
	}
	return p
}

func printPlan(ctx context.Context, events []domain.Event, classifier domain.Classifier, regions *domain.RegionIndex, resolver *pipeline.Resolver) error {
	for _, e := range events {
		tier := classifier.Classify(e.IntensityCode)
		groups := regions.RegionsFor(e.AffectedAreas)
		recipients, err := resolver.Resolve(ctx, tier, groups)
		if err != nil {
			return err
		}
		fmt.Printf("  %-26s shindo %-8s %-7s regions=[%s] recipients=%d\n",
			e.ID, domain.ShindoLabel(e.IntensityCode), tier, strings.Join(groups, ","), len(recipients))
	}
	return nil
}
