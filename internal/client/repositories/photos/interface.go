package photos

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Secondary indexes of the photo_metadata container.
const (
	IndexFolderID     = "folder_id"
	IndexHouseID      = "house_id"
	IndexVillageID    = "village_id"
	IndexSubVillageID = "sub_village_id"
	IndexSurveyID     = "survey_id"
)

// Repository describes storage of captured photos and their metadata.
type Repository interface {
	// Put upserts the photo by id and returns the id.
	Put(ctx context.Context, p *models.Photo) (string, error)

	// Get returns the photo or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Photo, error)

	// List returns all photos, oldest first.
	List(ctx context.Context) ([]*models.Photo, error)

	// ListByStatus returns photos in the given sync state, oldest first.
	ListByStatus(ctx context.Context, status models.PhotoStatus) ([]*models.Photo, error)

	// ListIDsByStatus returns the ids of photos in the given sync state,
	// oldest first. Blobs are not loaded.
	ListIDsByStatus(ctx context.Context, status models.PhotoStatus) ([]string, error)

	// Transition moves a single photo from state from to state to. It
	// reports false when the photo is gone or no longer in state from.
	Transition(ctx context.Context, id string, from, to models.PhotoStatus) (bool, error)

	// SaveSyncResult stores the outcome of an upload on a photo that is
	// still syncing. It reports false when the photo was deleted or moved
	// out of syncing meanwhile.
	SaveSyncResult(ctx context.Context, p *models.Photo) (bool, error)

	// Delete removes the photo and its metadata. Missing ids are ignored.
	Delete(ctx context.Context, id string) error

	// PutMetadata upserts metadata keyed by photo id.
	PutMetadata(ctx context.Context, md *models.PhotoMetadata) error

	// GetMetadata returns metadata for a photo or common.ErrNotFound.
	GetMetadata(ctx context.Context, photoID string) (*models.PhotoMetadata, error)

	// ListMetadataByIndex returns metadata rows whose index attribute equals value.
	ListMetadataByIndex(ctx context.Context, index string, value any) ([]*models.PhotoMetadata, error)

	// ResetStatus moves every photo in state from to state to and returns
	// the number of photos changed.
	ResetStatus(ctx context.Context, from, to models.PhotoStatus) (int64, error)

	// ListPurgeable returns synced photos that still hold their blob, oldest
	// first. Blobs are not loaded.
	ListPurgeable(ctx context.Context) ([]*models.Photo, error)

	// PurgeBlob drops the local bytes of a synced photo.
	PurgeBlob(ctx context.Context, id string) error

	// CountByStatus counts photos in the given state.
	CountByStatus(ctx context.Context, status models.PhotoStatus) (int, error)

	// Stats summarises photo storage.
	Stats(ctx context.Context) (models.PhotoStats, error)
}
