package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Entity is the wire form of a hierarchy record. Ids are server ids.
type Entity struct {
	ID         int64             `json:"id,omitempty"`
	OfflineID  string            `json:"offlineId,omitempty"`
	ParentID   int64             `json:"parentId,omitempty"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	UpdatedAt  int64             `json:"updatedAt,omitempty"`
}

// FromModel converts a local record to its wire form. parentID is the
// server id of the record's parent, zero for root types.
func FromModel(e *models.Entity, parentID int64) Entity {
	return Entity{
		ID:         e.ServerID,
		OfflineID:  e.OfflineID,
		ParentID:   parentID,
		Name:       e.Name,
		Attributes: e.Attributes,
		UpdatedAt:  e.UpdatedAt.UnixMilli(),
	}
}

// UploadRequest carries a photo blob and the form fields sent with it.
type UploadRequest struct {
	PhotoID     string
	Blob        []byte
	Location    string
	Description string
	Timestamp   time.Time
	FolderID    int64
}

type UploadResult struct {
	URL string `json:"url"`
}

// Entry is a survey entry; one is created per synced photo.
type Entry struct {
	ID        int64           `json:"id,omitempty"`
	SurveyID  int64           `json:"surveyId"`
	FolderID  int64           `json:"folderId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	OfflineID string          `json:"offlineId,omitempty"`
	IsSynced  bool            `json:"isSynced"`
	CreatedAt int64           `json:"createdAt,omitempty"`
}

// PhotoRecord links an uploaded blob to an entry and, optionally, a house.
type PhotoRecord struct {
	ID        int64  `json:"id,omitempty"`
	EntryID   int64  `json:"entryId"`
	HouseID   int64  `json:"houseId,omitempty"`
	URL       string `json:"url"`
	OfflineID string `json:"offlineId,omitempty"`
}

// Client is the remote API used by the mutation layer and the sync engine.
type Client interface {
	// Health probes reachability with HEAD /health.
	Health(ctx context.Context) error

	// ListEntities lists records of type t; parentID filters children when non-zero.
	ListEntities(ctx context.Context, t models.EntityType, parentID int64) ([]Entity, error)
	// CreateEntity is idempotent by e.OfflineID.
	CreateEntity(ctx context.Context, t models.EntityType, e Entity) (*Entity, error)
	UpdateEntity(ctx context.Context, t models.EntityType, id int64, e Entity) (*Entity, error)
	DeleteEntity(ctx context.Context, t models.EntityType, id int64) error

	// UploadPhoto posts the blob as multipart form data and returns its URL.
	UploadPhoto(ctx context.Context, req UploadRequest) (string, error)

	// ListEntries returns entries created after since (all when since is zero).
	ListEntries(ctx context.Context, since time.Time) ([]Entry, error)
	CreateEntry(ctx context.Context, e Entry) (*Entry, error)
	CreatePhotoRecord(ctx context.Context, p PhotoRecord) (*PhotoRecord, error)
}
