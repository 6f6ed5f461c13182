// Package quota keeps the on-device store within its storage budget by
// dropping the local blobs of photos the server already has.
package quota

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const DefaultThreshold = 0.9

// Estimator reports how many bytes the store currently occupies.
type Estimator interface {
	Usage(ctx context.Context) (int64, error)
}

// SQLiteEstimator measures live pages of a SQLite database.
type SQLiteEstimator struct {
	db dbx.DBTX
}

func NewSQLiteEstimator(db dbx.DBTX) *SQLiteEstimator {
	return &SQLiteEstimator{db: db}
}

func (e *SQLiteEstimator) Usage(ctx context.Context) (int64, error) {
	var pages, free, size int64
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, fmt.Errorf("read page_count: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&free); err != nil {
		return 0, fmt.Errorf("read freelist_count: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&size); err != nil {
		return 0, fmt.Errorf("read page_size: %w", err)
	}
	return (pages - free) * size, nil
}

// PhotoStore is the part of the photo repository the guard needs.
type PhotoStore interface {
	ListPurgeable(ctx context.Context) ([]*models.Photo, error)
	PurgeBlob(ctx context.Context, id string) error
}

// Guard admits new photos only while the store stays within quota.
type Guard struct {
	est       Estimator
	photos    PhotoStore
	quota     int64
	threshold float64
	log       logging.Logger
}

// NewGuard returns a guard for a budget of quota bytes. A quota of zero or
// less disables the guard.
func NewGuard(est Estimator, photos PhotoStore, quota int64, threshold float64, log logging.Logger) *Guard {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Guard{est: est, photos: photos, quota: quota, threshold: threshold, log: log}
}

// Usage returns the current estimate and the configured quota.
func (g *Guard) Usage(ctx context.Context) (usage, quota int64, err error) {
	usage, err = g.est.Usage(ctx)
	return usage, g.quota, err
}

// Admit makes room for incoming bytes. When usage is at or above the
// threshold it purges synced photo blobs, oldest first, until usage drops
// below it. It fails with common.ErrQuotaExceeded if the write still would
// not fit.
func (g *Guard) Admit(ctx context.Context, incoming int64) error {
	if g.quota <= 0 {
		return nil
	}

	usage, err := g.est.Usage(ctx)
	if err != nil {
		return fmt.Errorf("estimate storage: %w", err)
	}

	if g.over(usage) {
		usage, err = g.cleanup(ctx, usage)
		if err != nil {
			return err
		}
	}

	if usage+incoming > g.quota {
		g.log.Warn(ctx, "photo rejected, storage quota exhausted",
			"usage", usage, "incoming", incoming, "quota", g.quota)
		return fmt.Errorf("%w: %d of %d bytes used, %d requested", common.ErrQuotaExceeded, usage, g.quota, incoming)
	}
	return nil
}

func (g *Guard) over(usage int64) bool {
	return float64(usage)/float64(g.quota) >= g.threshold
}

func (g *Guard) cleanup(ctx context.Context, usage int64) (int64, error) {
	candidates, err := g.photos.ListPurgeable(ctx)
	if err != nil {
		return usage, fmt.Errorf("list purgeable photos: %w", err)
	}

	purged := 0
	for _, p := range candidates {
		if !g.over(usage) {
			break
		}
		if err := g.photos.PurgeBlob(ctx, p.ID); err != nil {
			g.log.Warn(ctx, "failed to purge photo blob", "photo", p.ID, "error", err)
			continue
		}
		purged++
		if usage, err = g.est.Usage(ctx); err != nil {
			return usage, fmt.Errorf("estimate storage: %w", err)
		}
	}

	g.log.Info(ctx, "storage cleanup finished", "purged", purged, "usage", usage, "quota", g.quota)
	return usage, nil
}
