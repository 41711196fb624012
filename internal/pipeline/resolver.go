package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Directory lists every subscriber with the region groups they follow.
type Directory interface {
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// Resolver maps a severity tier and a set of region groups to recipients.
type Resolver struct {
	directory Directory
}

// NewResolver creates a Resolver backed by directory.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the subscriber ids that should receive an alert, in
// directory order. Ignore never queries the directory. Global selects every
// subscriber; Local selects subscribers following at least one of regions.
// A directory failure is returned as ErrDirectoryUnavailable, never as an
// empty result.
func (r *Resolver) Resolve(ctx context.Context, tier domain.Tier, regions []string) ([]string, error) {
	if tier == domain.TierIgnore {
		return []string{}, nil
	}

	subs, err := r.directory.ListSubscribers(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDirectoryUnavailable) {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		return nil, fmt.Errorf("list subscribers: %w: %w", domain.ErrDirectoryUnavailable, err)
	}

	wanted := make(map[string]struct{}, len(regions))
	for _, region := range regions {
		wanted[region] = struct{}{}
	}

	ids := make([]string, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		if sub.ID == "" {
			continue
		}
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		if tier == domain.TierLocal && !follows(sub, wanted) {
			continue
		}
		seen[sub.ID] = struct{}{}
		ids = append(ids, sub.ID)
	}
	return ids, nil
}

func follows(sub domain.Subscriber, regions map[string]struct{}) bool {
	for _, r := range sub.InterestedRegions {
		if _, ok := regions[r]; ok {
			return true
		}
	}
	return false
}
