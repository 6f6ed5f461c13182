package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

var ErrParentNotFound = errors.New("parent not found")

// EntityInput is the user-editable part of an entity.
type EntityInput struct {
	Name       string
	ParentID   string
	Attributes map[string]string
}

// PhotoLinks is the part of photo storage that references hierarchy records.
type PhotoLinks interface {
	ListMetadataByIndex(ctx context.Context, index string, value any) ([]*models.PhotoMetadata, error)
	PutMetadata(ctx context.Context, md *models.PhotoMetadata) error
}

// photoIndex maps a record type to the metadata attribute that points at it.
var photoIndex = map[models.EntityType]string{
	models.EntityFolder:     photos.IndexFolderID,
	models.EntityVillage:    photos.IndexVillageID,
	models.EntitySubVillage: photos.IndexSubVillageID,
	models.EntityHouse:      photos.IndexHouseID,
}

// EntityService creates, edits and deletes hierarchy records.
type EntityService struct {
	base
	entities entities.Repository
	queue    queue.Repository
	photos   PhotoLinks
	ids      *models.IDGenerator
}

// NewEntityService builds the service. pl may be nil, in which case deletes
// leave photo metadata untouched.
func NewEntityService(er entities.Repository, qr queue.Repository, pl PhotoLinks, ids *models.IDGenerator, opts ...Option) *EntityService {
	s := &EntityService{base: newBase(opts), entities: er, queue: qr, photos: pl, ids: ids}
	if s.ids == nil {
		s.ids = models.NewIDGenerator(s.now)
	}
	return s
}

// Create stores a new record and returns it. The returned record is synced
// when the server accepted it right away and pending otherwise.
func (s *EntityService) Create(ctx context.Context, t models.EntityType, in EntityInput) (*models.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownEntityType, t)
	}
	parent, err := s.parentOf(ctx, t, in.ParentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := s.ids.Next(t)
	e := &models.Entity{
		ID:         id,
		Type:       t,
		OfflineID:  id,
		ParentID:   in.ParentID,
		Name:       in.Name,
		Attributes: in.Attributes,
		SyncStatus: models.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.isOnline() && (parent == nil || parent.Synced()) {
		remote, err := s.remote.CreateEntity(ctx, t, toWire(e, parent))
		if err == nil {
			e.ServerID = remote.ID
			e.SyncStatus = models.SyncSynced
			if _, err := s.entities.Put(ctx, e); err != nil {
				return nil, err
			}
			s.log.Debug(ctx, "created online", "type", t, "id", e.ID, "server_id", e.ServerID)
			return e, nil
		}
		s.log.Info(ctx, "remote create failed, staging offline", "type", t, "id", e.ID, "error", err)
	}

	if err := s.stage(ctx, e, models.OpCreate); err != nil {
		return nil, err
	}
	return e, nil
}

// Update replaces the editable fields of an existing record.
func (s *EntityService) Update(ctx context.Context, t models.EntityType, id string, in EntityInput) (*models.Entity, error) {
	e, err := s.entities.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if in.ParentID == "" {
		in.ParentID = e.ParentID
	}
	parent, err := s.parentOf(ctx, t, in.ParentID)
	if err != nil {
		return nil, err
	}

	e.Name = in.Name
	e.ParentID = in.ParentID
	if in.Attributes != nil {
		e.Attributes = in.Attributes
	}
	e.UpdatedAt = s.now()

	if e.Synced() && s.isOnline() && (parent == nil || parent.Synced()) {
		_, err := s.remote.UpdateEntity(ctx, t, e.ServerID, toWire(e, parent))
		if err == nil {
			if _, err := s.entities.Put(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		}
		s.log.Info(ctx, "remote update failed, staging offline", "type", t, "id", e.ID, "error", err)
	}

	e.SyncStatus = models.SyncPending
	if err := s.stage(ctx, e, models.OpUpdate); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes a record and, locally, all of its descendants. Deleting a
// missing record is a no-op.
func (s *EntityService) Delete(ctx context.Context, t models.EntityType, id string) error {
	e, err := s.entities.Get(ctx, t, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.deleteChildren(ctx, e); err != nil {
		return err
	}
	if err := s.unlinkPhotos(ctx, t, id); err != nil {
		return err
	}

	// Intents for this record are superseded by the delete.
	if _, err := s.queue.DeleteByEntity(ctx, t, id); err != nil {
		return err
	}

	if e.ServerID != 0 {
		remoteDone := false
		if s.isOnline() {
			err := s.remote.DeleteEntity(ctx, t, e.ServerID)
			if err == nil || errors.Is(err, common.ErrNotFound) {
				remoteDone = true
			} else {
				s.log.Info(ctx, "remote delete failed, queueing", "type", t, "id", id, "error", err)
			}
		}
		if !remoteDone {
			if err := s.enqueue(ctx, e, models.OpDelete); err != nil {
				return err
			}
			s.kick()
		}
	}

	return s.entities.Delete(ctx, t, id)
}

func (s *EntityService) deleteChildren(ctx context.Context, e *models.Entity) error {
	ct, ok := e.Type.Child()
	if !ok {
		return nil
	}
	kids, err := s.entities.ListByIndex(ctx, ct, entities.IndexParentID, e.ID)
	if err != nil {
		return err
	}
	for _, k := range kids {
		if err := s.deleteChildren(ctx, k); err != nil {
			return err
		}
		if _, err := s.queue.DeleteByEntity(ctx, ct, k.ID); err != nil {
			return err
		}
		if err := s.unlinkPhotos(ctx, ct, k.ID); err != nil {
			return err
		}
		if err := s.entities.Delete(ctx, ct, k.ID); err != nil {
			return err
		}
	}
	return nil
}

// unlinkPhotos drops references to a removed record from photo metadata so
// the photos can still be sent without it.
func (s *EntityService) unlinkPhotos(ctx context.Context, t models.EntityType, id string) error {
	index, ok := photoIndex[t]
	if s.photos == nil || !ok {
		return nil
	}
	linked, err := s.photos.ListMetadataByIndex(ctx, index, id)
	if err != nil {
		return err
	}
	for _, md := range linked {
		switch t {
		case models.EntityFolder:
			md.FolderID = ""
		case models.EntityVillage:
			md.VillageID = ""
		case models.EntitySubVillage:
			md.SubVillageID = ""
		case models.EntityHouse:
			md.HouseID = ""
		}
		if err := s.photos.PutMetadata(ctx, md); err != nil {
			return err
		}
	}
	if len(linked) > 0 {
		s.log.Info(ctx, "photos unlinked from deleted record", "type", t, "id", id, "count", len(linked))
	}
	return nil
}

func (s *EntityService) Get(ctx context.Context, t models.EntityType, id string) (*models.Entity, error) {
	return s.entities.Get(ctx, t, id)
}

func (s *EntityService) List(ctx context.Context, t models.EntityType) ([]*models.Entity, error) {
	return s.entities.List(ctx, t)
}

// ListChildren returns the direct children of parentID.
func (s *EntityService) ListChildren(ctx context.Context, t models.EntityType, parentID string) ([]*models.Entity, error) {
	ct, ok := t.Child()
	if !ok {
		return []*models.Entity{}, nil
	}
	return s.entities.ListByIndex(ctx, ct, entities.IndexParentID, parentID)
}

// stage writes e as pending and records the remote intent.
func (s *EntityService) stage(ctx context.Context, e *models.Entity, op models.Operation) error {
	if _, err := s.entities.Put(ctx, e); err != nil {
		return err
	}
	// Folders are reconciled from their pending state by the sync engine.
	if e.Type != models.EntityFolder {
		if err := s.enqueue(ctx, e, op); err != nil {
			return err
		}
	}
	s.kick()
	return nil
}

// enqueue adds an intent unless an equivalent one is already waiting.
func (s *EntityService) enqueue(ctx context.Context, e *models.Entity, op models.Operation) error {
	if op != models.OpDelete {
		queued, err := s.queue.ListByEntity(ctx, e.Type, e.ID)
		if err != nil {
			return err
		}
		for _, q := range queued {
			if q.Status == models.QueuePending || q.Status == models.QueueSyncing {
				// The payload is read from the record when the entry runs.
				return nil
			}
		}
	}
	_, err := s.queue.Enqueue(ctx, &models.QueueEntry{
		Operation:  op,
		EntityType: e.Type,
		EntityID:   e.ID,
		ServerID:   e.ServerID,
		Status:     models.QueuePending,
		CreatedAt:  s.now(),
	})
	return err
}

func (s *EntityService) parentOf(ctx context.Context, t models.EntityType, parentID string) (*models.Entity, error) {
	pt, ok := t.Parent()
	if !ok {
		return nil, nil
	}
	if parentID == "" {
		return nil, fmt.Errorf("%w: %s requires a %s", common.ErrInvalidRecord, t.Singular(), pt.Singular())
	}
	p, err := s.entities.Get(ctx, pt, parentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrParentNotFound, pt.Singular(), parentID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func toWire(e *models.Entity, parent *models.Entity) client.Entity {
	var pid int64
	if parent != nil {
		pid = parent.ServerID
	}
	return client.FromModel(e, pid)
}
