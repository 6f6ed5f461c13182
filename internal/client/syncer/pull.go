package syncer

import (
	"context"
	"errors"
	"strconv"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// pull inserts server records missing locally. Existing local records are
// never modified. Failures are logged and skipped.
func (o *Orchestrator) pull(ctx context.Context, res *Result) {
	for _, t := range models.EntityTypes {
		remote, err := o.remote.ListEntities(ctx, t, 0)
		if err != nil {
			o.log.Info(ctx, "pull skipped", "type", t, "error", err)
			continue
		}
		for _, r := range remote {
			inserted, err := o.mergeEntity(ctx, t, r)
			if err != nil {
				o.log.Debug(ctx, "pull record skipped", "type", t, "server_id", r.ID, "error", err)
				continue
			}
			if inserted {
				res.Pulled++
			}
		}
	}
	o.pullEntries(ctx, res)
}

// localKey is the offline id when the server knows one, else the server id.
func localKey(offlineID string, serverID int64) string {
	if offlineID != "" {
		return offlineID
	}
	return strconv.FormatInt(serverID, 10)
}

func (o *Orchestrator) mergeEntity(ctx context.Context, t models.EntityType, r client.Entity) (bool, error) {
	found, err := o.findLocal(ctx, t, r)
	if err != nil || found {
		return false, err
	}

	parentID := ""
	if pt, ok := t.Parent(); ok {
		// Unsynced local records share server id zero.
		if r.ParentID == 0 {
			return false, errors.New("server record has no parent")
		}
		parents, err := o.repos.Entities.ListByIndex(ctx, pt, entities.IndexServerID, r.ParentID)
		if err != nil {
			return false, err
		}
		if len(parents) == 0 {
			return false, errors.New("parent unknown locally")
		}
		parentID = parents[0].ID
	}

	updated := timex.FromMillis(r.UpdatedAt)
	if r.UpdatedAt == 0 {
		updated = o.now()
	}
	e := &models.Entity{
		ID:         localKey(r.OfflineID, r.ID),
		Type:       t,
		ServerID:   r.ID,
		OfflineID:  r.OfflineID,
		ParentID:   parentID,
		Name:       r.Name,
		Attributes: r.Attributes,
		SyncStatus: models.SyncSynced,
		CreatedAt:  updated,
		UpdatedAt:  updated,
	}
	if _, err := o.repos.Entities.Put(ctx, e); err != nil {
		return false, err
	}
	return true, nil
}

// findLocal applies the matching rule: a server offline id is authoritative;
// only records without one are matched by server id.
func (o *Orchestrator) findLocal(ctx context.Context, t models.EntityType, r client.Entity) (bool, error) {
	key := localKey(r.OfflineID, r.ID)
	_, err := o.repos.Entities.Get(ctx, t, key)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return false, err
	}

	index, value := entities.IndexServerID, any(r.ID)
	if r.OfflineID != "" {
		index, value = entities.IndexOfflineID, r.OfflineID
	}
	matches, err := o.repos.Entities.ListByIndex(ctx, t, index, value)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// pullEntries copies server entries created since the last pull cursor.
func (o *Orchestrator) pullEntries(ctx context.Context, res *Result) {
	since, err := o.repos.Settings.GetTime(ctx, settings.KeyPullCursor)
	if err != nil {
		o.log.Debug(ctx, "pull cursor unavailable", "error", err)
	}

	list, err := o.remote.ListEntries(ctx, since)
	if err != nil {
		o.log.Info(ctx, "entries pull skipped", "error", err)
		return
	}

	cursor := since
	for _, r := range list {
		created := timex.FromMillis(r.CreatedAt)
		ok, err := o.repos.Entries.InsertIfMissing(ctx, &models.RemoteEntry{
			ID:        localKey(r.OfflineID, r.ID),
			ServerID:  r.ID,
			OfflineID: r.OfflineID,
			SurveyID:  r.SurveyID,
			FolderID:  r.FolderID,
			Data:      r.Data,
			IsSynced:  r.IsSynced,
			CreatedAt: created,
		})
		if err != nil {
			o.log.Debug(ctx, "entry pull skipped", "server_id", r.ID, "error", err)
			continue
		}
		if ok {
			res.Pulled++
		}
		if created.After(cursor) {
			cursor = created
		}
	}

	if cursor.After(since) {
		if err := o.repos.Settings.SetTime(ctx, settings.KeyPullCursor, cursor); err != nil {
			o.log.Warn(ctx, "failed to store pull cursor", "error", err)
		}
	}
}
