package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
)

// entryData is the payload of the entry created for each photo.
type entryData struct {
	PhotoID      string `json:"photoId"`
	URL          string `json:"url"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	HouseID      int64  `json:"houseId,omitempty"`
	VillageID    int64  `json:"villageId,omitempty"`
	SubVillageID int64  `json:"subVillageId,omitempty"`
}

// photoPass carries per-pass lookups.
type photoPass struct {
	folders map[string]int64
}

// pushPhotos uploads every pending photo. A failing photo is marked failed
// and the rest continue; nothing is retried within the pass. Photos are
// loaded one at a time, and each is claimed before upload so that a photo
// deleted after the listing is skipped.
func (o *Orchestrator) pushPhotos(ctx context.Context, res *Result) error {
	ids, err := o.repos.Photos.ListIDsByStatus(ctx, models.PhotoPending)
	if err != nil {
		return fmt.Errorf("list pending photos: %w", err)
	}

	pass := &photoPass{folders: map[string]int64{}}
	for _, id := range ids {
		p, err := o.claimPhoto(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}

		if err := o.pushPhoto(ctx, pass, p); err != nil {
			res.PhotosFailed++
			res.errorf("photo %s: %v", p.ID, err)
			o.log.Warn(ctx, "photo push failed", "id", p.ID, "error", err)
			p.SyncStatus = models.PhotoFailed
			p.LastError = err.Error()
		} else {
			res.PhotosSynced++
			p.SyncStatus = models.PhotoSynced
			p.LastError = ""
		}
		p.UpdatedAt = o.now()
		saved, err := o.repos.Photos.SaveSyncResult(ctx, p)
		if err != nil {
			return err
		}
		if !saved {
			o.log.Info(ctx, "photo removed during upload", "id", p.ID, "status", p.SyncStatus)
		}
	}
	return nil
}

// claimPhoto moves a pending photo to syncing and loads it. It returns nil
// when the photo was deleted or changed state since it was listed.
func (o *Orchestrator) claimPhoto(ctx context.Context, id string) (*models.Photo, error) {
	ok, err := o.repos.Photos.Transition(ctx, id, models.PhotoPending, models.PhotoSyncing)
	if err != nil {
		return nil, err
	}
	if !ok {
		o.log.Debug(ctx, "photo no longer pending, skipped", "id", id)
		return nil, nil
	}
	p, err := o.repos.Photos.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) pushPhoto(ctx context.Context, pass *photoPass, p *models.Photo) error {
	if err := o.checkPhoto(p); err != nil {
		return err
	}

	md, err := o.repos.Photos.GetMetadata(ctx, p.ID)
	if errors.Is(err, common.ErrNotFound) {
		return errors.New("photo metadata is missing")
	}
	if err != nil {
		return err
	}

	folderID, err := o.folderServerID(ctx, pass, md.FolderID)
	if err != nil {
		return err
	}
	house, err := o.serverID(ctx, models.EntityHouse, md.HouseID)
	if err != nil {
		return err
	}

	url, err := o.uploader.Upload(ctx, client.UploadRequest{
		PhotoID:     p.ID,
		Blob:        p.Blob,
		Location:    md.Location,
		Description: md.Description,
		Timestamp:   p.Timestamp,
		FolderID:    folderID,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	p.URL = url

	data := entryData{
		PhotoID:     p.ID,
		URL:         url,
		Location:    md.Location,
		Description: md.Description,
		Timestamp:   p.Timestamp.UnixMilli(),
		HouseID:     house,
	}
	// Village and sub-village links are informational; unsynced ones are left out.
	data.VillageID, _ = o.serverID(ctx, models.EntityVillage, md.VillageID)
	data.SubVillageID, _ = o.serverID(ctx, models.EntitySubVillage, md.SubVillageID)
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	surveyID := md.SurveyID
	if surveyID == 0 {
		surveyID = o.cfg.SurveyID
	}
	entry, err := o.remote.CreateEntry(ctx, client.Entry{
		SurveyID:  surveyID,
		FolderID:  folderID,
		Data:      raw,
		OfflineID: p.ID,
		IsSynced:  true,
		CreatedAt: p.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	p.ServerEntryID = entry.ID

	rec, err := o.remote.CreatePhotoRecord(ctx, client.PhotoRecord{
		EntryID:   entry.ID,
		HouseID:   house,
		URL:       url,
		OfflineID: p.ID,
	})
	if err != nil {
		return fmt.Errorf("create photo record: %w", err)
	}
	p.ServerPhotoID = rec.ID
	return nil
}

// checkPhoto rejects photos that can never be sent.
func (o *Orchestrator) checkPhoto(p *models.Photo) error {
	if p.BlobPurged || len(p.Blob) == 0 {
		return errors.New("photo has no local data")
	}
	if int64(len(p.Blob)) > o.cfg.MaxPhotoSize {
		return fmt.Errorf("%w: %d bytes", common.ErrPhotoTooLarge, len(p.Blob))
	}
	if !cryptox.Verify(p.Blob, p.Checksum) {
		return common.ErrChecksumFailed
	}
	return nil
}

func (o *Orchestrator) folderServerID(ctx context.Context, pass *photoPass, id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	if sid, ok := pass.folders[id]; ok {
		return sid, nil
	}
	sid, err := o.serverID(ctx, models.EntityFolder, id)
	if err != nil {
		return 0, err
	}
	pass.folders[id] = sid
	return sid, nil
}

// serverID resolves a local reference. Empty ids resolve to zero.
func (o *Orchestrator) serverID(ctx context.Context, t models.EntityType, id string) (int64, error) {
	if id == "" {
		return 0, nil
	}
	e, err := o.repos.Entities.Get(ctx, t, id)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", t.Singular(), id, err)
	}
	if e.ServerID == 0 {
		return 0, fmt.Errorf("%s %s not synced yet", t.Singular(), id)
	}
	return e.ServerID, nil
}

