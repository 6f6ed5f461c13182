package entries

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

type Repository interface {
	// InsertIfMissing stores e unless a row with the same id exists and
	// reports whether it was inserted.
	InsertIfMissing(ctx context.Context, e *models.RemoteEntry) (bool, error)

	// Put upserts e.
	Put(ctx context.Context, e *models.RemoteEntry) error

	// Get returns the entry or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.RemoteEntry, error)

	// List returns entries newest first, limited to limit rows when limit > 0.
	List(ctx context.Context, limit int) ([]*models.RemoteEntry, error)

	// Delete removes the entry; missing ids are ignored.
	Delete(ctx context.Context, id string) error
}
