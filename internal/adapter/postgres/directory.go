package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Directory implements pipeline.Directory over the subscribers table.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a Directory using pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// ListSubscribers returns every active subscriber in sign-up order.
func (d *Directory) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := d.pool.Query(ctx, `
        SELECT id, regions
        FROM subscribers
        WHERE active
        ORDER BY created_at, id
    `)
	if err != nil {
		return nil, fmt.Errorf("%w: query subscribers: %w", domain.ErrDirectoryUnavailable, err)
	}
	defer rows.Close()

	subs := make([]domain.Subscriber, 0)
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ID, &sub.InterestedRegions); err != nil {
			return nil, fmt.Errorf("%w: scan subscriber: %w", domain.ErrDirectoryUnavailable, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate subscribers: %w", domain.ErrDirectoryUnavailable, err)
	}
	return subs, nil
}
