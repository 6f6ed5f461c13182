package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// pushFolders reconciles every pending folder with the server. Failures are
// isolated per folder.
func (o *Orchestrator) pushFolders(ctx context.Context, res *Result) error {
	pending, err := o.repos.Entities.ListByIndex(ctx, models.EntityFolder, entities.IndexSyncStatus, string(models.SyncPending))
	if err != nil {
		return fmt.Errorf("list pending folders: %w", err)
	}

	for _, f := range pending {
		err := retry.Do(ctx, o.folderBackoff(), func(ctx context.Context) error {
			err := o.pushFolder(ctx, f.ID)
			if err != nil && client.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		})
		if err != nil {
			res.FoldersFailed++
			res.errorf("folder %s: %v", f.ID, err)
			o.log.Warn(ctx, "folder push failed", "id", f.ID, "error", err)
			continue
		}
		res.FoldersPushed++
	}
	return nil
}

func (o *Orchestrator) folderBackoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(o.cfg.FolderAttempts-1), retry.NewConstant(o.cfg.FolderDelay))
}

// pushFolder finds the server copy by offline id, then patches or creates it.
// The folder is re-read on every attempt so the latest local edit is sent.
func (o *Orchestrator) pushFolder(ctx context.Context, id string) error {
	f, err := o.repos.Entities.Get(ctx, models.EntityFolder, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.Synced() {
		return nil
	}

	remote, err := o.remote.ListEntities(ctx, models.EntityFolder, 0)
	if err != nil {
		return err
	}

	sent := f.UpdatedAt
	wire := client.FromModel(f, 0)
	var saved *client.Entity
	if sid := matchOffline(remote, f); sid != 0 {
		saved, err = o.remote.UpdateEntity(ctx, models.EntityFolder, sid, wire)
	} else {
		wire.ID = 0
		saved, err = o.remote.CreateEntity(ctx, models.EntityFolder, wire)
	}
	if err != nil {
		return err
	}

	return o.markFolderSynced(ctx, id, saved.ID, sent)
}

// markFolderSynced records the server id on the current local copy. A folder
// edited while the call was in flight stays pending for the next pass; one
// deleted meanwhile gets its server copy removed through the queue.
func (o *Orchestrator) markFolderSynced(ctx context.Context, id string, serverID int64, sent time.Time) error {
	cur, err := o.repos.Entities.Get(ctx, models.EntityFolder, id)
	if errors.Is(err, common.ErrNotFound) {
		o.log.Info(ctx, "folder deleted during push", "id", id, "server_id", serverID)
		_, err := o.repos.Queue.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpDelete,
			EntityType: models.EntityFolder,
			EntityID:   id,
			ServerID:   serverID,
			Status:     models.QueuePending,
			CreatedAt:  o.now(),
		})
		return err
	}
	if err != nil {
		return err
	}

	cur.ServerID = serverID
	if cur.UpdatedAt.Equal(sent) {
		cur.SyncStatus = models.SyncSynced
	} else {
		o.log.Debug(ctx, "folder edited during push, kept pending", "id", id)
	}
	_, err = o.repos.Entities.Put(ctx, cur)
	return err
}

func matchOffline(remote []client.Entity, e *models.Entity) int64 {
	for _, r := range remote {
		if r.OfflineID != "" && r.OfflineID == e.OfflineID {
			return r.ID
		}
	}
	if e.ServerID != 0 {
		for _, r := range remote {
			if r.ID == e.ServerID {
				return r.ID
			}
		}
	}
	return 0
}
