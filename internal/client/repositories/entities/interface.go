package entities

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Secondary indexes accepted by ListByIndex.
const (
	IndexParentID   = "parent_id"
	IndexSyncStatus = "sync_status"
	IndexServerID   = "server_id"
	IndexOfflineID  = "offline_id"
)

// Repository stores hierarchy entities, one container per entity type.
type Repository interface {
	// Put upserts e by its local id, overwriting every field, and returns the id.
	Put(ctx context.Context, e *models.Entity) (string, error)

	// Get returns the entity or common.ErrNotFound.
	Get(ctx context.Context, t models.EntityType, id string) (*models.Entity, error)

	// List returns every entity of type t.
	List(ctx context.Context, t models.EntityType) ([]*models.Entity, error)

	// ListByIndex returns entities whose index attribute equals value.
	// Unknown index names fail with common.ErrUnknownIndex.
	ListByIndex(ctx context.Context, t models.EntityType, index string, value any) ([]*models.Entity, error)

	// Delete removes the entity; deleting a missing id is not an error.
	Delete(ctx context.Context, t models.EntityType, id string) error

	// CountPending returns the number of entities of type t awaiting sync.
	CountPending(ctx context.Context, t models.EntityType) (int, error)
}
