package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
)

// DefaultMaxPhotoSize is the largest blob accepted by Capture.
const DefaultMaxPhotoSize int64 = 10 << 20

// CaptureInput describes a newly taken photo. Hierarchy ids are local ids;
// missing village and sub-village ids are filled from the house.
type CaptureInput struct {
	Blob         []byte
	Timestamp    time.Time
	Location     string
	Description  string
	FolderID     string
	HouseID      string
	VillageID    string
	SubVillageID string
}

// PhotoService stages photos on the device for later upload.
type PhotoService struct {
	base
	photos   photos.Repository
	entities entities.Repository
	queue    queue.Repository
	guard    Admitter
	maxSize  int64
	surveyID int64
}

func NewPhotoService(pr photos.Repository, er entities.Repository, qr queue.Repository, guard Admitter, maxSize, surveyID int64, opts ...Option) *PhotoService {
	if maxSize <= 0 {
		maxSize = DefaultMaxPhotoSize
	}
	return &PhotoService{
		base:     newBase(opts),
		photos:   pr,
		entities: er,
		queue:    qr,
		guard:    guard,
		maxSize:  maxSize,
		surveyID: surveyID,
	}
}

// Capture stores the photo as pending and returns it. A sync is requested
// when the server is reachable.
func (s *PhotoService) Capture(ctx context.Context, in CaptureInput) (*models.Photo, error) {
	size := int64(len(in.Blob))
	if size == 0 {
		return nil, fmt.Errorf("%w: empty photo", common.ErrInvalidRecord)
	}
	if size > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", common.ErrPhotoTooLarge, size, s.maxSize)
	}
	if s.guard != nil {
		if err := s.guard.Admit(ctx, size); err != nil {
			return nil, err
		}
	}

	md := &models.PhotoMetadata{
		Location:     in.Location,
		Description:  in.Description,
		FolderID:     in.FolderID,
		HouseID:      in.HouseID,
		VillageID:    in.VillageID,
		SubVillageID: in.SubVillageID,
		SurveyID:     s.surveyID,
	}
	if err := s.resolveHierarchy(ctx, md); err != nil {
		return nil, err
	}

	now := s.now()
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	p := &models.Photo{
		ID:         uuid.NewString(),
		Blob:       in.Blob,
		Checksum:   cryptox.Checksum(in.Blob),
		Size:       size,
		Timestamp:  ts,
		SyncStatus: models.PhotoPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	md.PhotoID = p.ID

	if _, err := s.photos.Put(ctx, p); err != nil {
		return nil, err
	}
	if err := s.photos.PutMetadata(ctx, md); err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "photo captured", "id", p.ID, "size", size)

	s.kick()
	return p, nil
}

// resolveHierarchy checks referenced records exist and fills the village and
// sub-village of a house.
func (s *PhotoService) resolveHierarchy(ctx context.Context, md *models.PhotoMetadata) error {
	if md.FolderID != "" {
		if _, err := s.lookup(ctx, models.EntityFolder, md.FolderID); err != nil {
			return err
		}
	}
	if md.HouseID == "" {
		return nil
	}
	h, err := s.lookup(ctx, models.EntityHouse, md.HouseID)
	if err != nil {
		return err
	}
	if md.SubVillageID == "" {
		md.SubVillageID = h.ParentID
	}
	if md.VillageID == "" && md.SubVillageID != "" {
		sv, err := s.lookup(ctx, models.EntitySubVillage, md.SubVillageID)
		if err != nil {
			return err
		}
		md.VillageID = sv.ParentID
	}
	return nil
}

func (s *PhotoService) lookup(ctx context.Context, t models.EntityType, id string) (*models.Entity, error) {
	e, err := s.entities.Get(ctx, t, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrParentNotFound, t.Singular(), id)
	}
	return e, err
}

func (s *PhotoService) Get(ctx context.Context, id string) (*models.Photo, error) {
	return s.photos.Get(ctx, id)
}

func (s *PhotoService) GetMetadata(ctx context.Context, id string) (*models.PhotoMetadata, error) {
	return s.photos.GetMetadata(ctx, id)
}

func (s *PhotoService) List(ctx context.Context) ([]*models.Photo, error) {
	return s.photos.List(ctx)
}

func (s *PhotoService) ListByStatus(ctx context.Context, st models.PhotoStatus) ([]*models.Photo, error) {
	return s.photos.ListByStatus(ctx, st)
}

// ListByFolder returns metadata of photos filed under a local folder id.
func (s *PhotoService) ListByFolder(ctx context.Context, folderID string) ([]*models.PhotoMetadata, error) {
	return s.photos.ListMetadataByIndex(ctx, photos.IndexFolderID, folderID)
}

// Delete removes a photo from the device. Synced photos stay on the server.
func (s *PhotoService) Delete(ctx context.Context, id string) error {
	p, err := s.photos.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.SyncStatus == models.PhotoSyncing {
		return fmt.Errorf("photo %s is being uploaded", id)
	}
	return s.photos.Delete(ctx, id)
}

// RetryFailed returns failed photos and failed queue entries to pending and
// requests a sync. It reports how many of each were reset.
func (s *PhotoService) RetryFailed(ctx context.Context) (photosReset, queueReset int64, err error) {
	photosReset, err = s.photos.ResetStatus(ctx, models.PhotoFailed, models.PhotoPending)
	if err != nil {
		return 0, 0, err
	}
	if s.queue != nil {
		queueReset, err = s.queue.ResetFailed(ctx)
		if err != nil {
			return photosReset, 0, err
		}
	}
	if photosReset+queueReset > 0 {
		s.log.Info(ctx, "failed items reset", "photos", photosReset, "queue", queueReset)
		s.kick()
	}
	return photosReset, queueReset, nil
}

func (s *PhotoService) Stats(ctx context.Context) (models.PhotoStats, error) {
	return s.photos.Stats(ctx)
}
