package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/client/clienttest"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_VillageScenario(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	v, err := h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "Chongwe"})
	require.NoError(t, err)
	require.Equal(t, "v_1700000000000", v.ID)
	require.Equal(t, models.SyncPending, v.SyncStatus)

	h.srv.SetNextID(42)
	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.QueueCompleted)

	got := h.entity(t, models.EntityVillage, "v_1700000000000")
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Equal(t, int64(42), got.ServerID)
	assert.Empty(t, h.queued(t))

	_, err = h.orch.Sync(ctx)
	require.NoError(t, err)

	remote := h.srv.Entities(models.EntityVillage)
	require.Len(t, remote, 1)
	assert.Equal(t, int64(42), remote[0].ID)
	assert.Equal(t, "v_1700000000000", remote[0].OfflineID)
	assert.Equal(t, 1, h.srv.Calls(clienttest.RouteCreateEntity))

	all, err := h.entities.List(ctx, models.EntityVillage)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSync_OfflineToOnlineConvergence(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.srv.SetDown(true)

	f, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "Round 1"})
	require.NoError(t, err)
	v, err := h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "V"})
	require.NoError(t, err)
	sv, err := h.entities.Create(ctx, models.EntitySubVillage, services.EntityInput{Name: "SV", ParentID: v.ID})
	require.NoError(t, err)
	house, err := h.entities.Create(ctx, models.EntityHouse, services.EntityInput{Name: "H", ParentID: sv.ID})
	require.NoError(t, err)
	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg"), FolderID: f.ID, HouseID: house.ID})
	require.NoError(t, err)

	res, err := h.orch.Sync(ctx)
	require.ErrorIs(t, err, common.ErrOffline)
	assert.True(t, res.Skipped)
	assert.Equal(t, common.ErrOffline.Error(), h.bus.Current().LastError)

	h.srv.SetDown(false)
	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Failed(), res.Errors())
	assert.Equal(t, 1, res.FoldersPushed)
	assert.Equal(t, 3, res.QueueCompleted)
	assert.Equal(t, 1, res.PhotosSynced)

	pending, err := h.store.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	for _, typ := range models.EntityTypes {
		assert.Len(t, h.srv.Entities(typ), 1, typ)
	}
	serverHouse := h.entity(t, models.EntityHouse, house.ID).ServerID
	serverSV := h.entity(t, models.EntitySubVillage, sv.ID)
	assert.Equal(t, h.entity(t, models.EntityVillage, v.ID).ServerID, h.srv.Entities(models.EntitySubVillage)[0].ParentID)
	assert.Equal(t, serverSV.ServerID, h.srv.Entities(models.EntityHouse)[0].ParentID)

	entries := h.srv.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, p.ID, entries[0].OfflineID)
	assert.Equal(t, h.entity(t, models.EntityFolder, f.ID).ServerID, entries[0].FolderID)
	assert.Equal(t, int64(7), entries[0].SurveyID)

	recs := h.srv.Photos()
	require.Len(t, recs, 1)
	assert.Equal(t, serverHouse, recs[0].HouseID)
	assert.Equal(t, entries[0].ID, recs[0].EntryID)

	blob, ok := h.srv.Upload(p.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), blob)

	synced := h.photo(t, p.ID)
	assert.Equal(t, models.PhotoSynced, synced.SyncStatus)
	assert.Equal(t, recs[0].ID, synced.ServerPhotoID)
	assert.NotEmpty(t, synced.URL)

	st := h.bus.Current()
	assert.Empty(t, st.LastError)
	assert.False(t, st.IsSyncing)
	assert.Zero(t, st.TotalPending)
	assert.True(t, st.LastSyncTime.Equal(h.clock.Now()))
}

func TestSync_IdempotentCreate(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	v, err := h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "V"})
	require.NoError(t, err)

	// The server stored the village but the reply never arrived.
	seeded := h.srv.Seed(models.EntityVillage, client.Entity{OfflineID: v.ID, Name: "V"})

	_, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	_, err = h.orch.Sync(ctx)
	require.NoError(t, err)

	assert.Len(t, h.srv.Entities(models.EntityVillage), 1)
	got := h.entity(t, models.EntityVillage, v.ID)
	assert.Equal(t, seeded.ID, got.ServerID)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestSync_NoDuplicateEntriesAfterPartialFailure(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)

	h.srv.FailNext(clienttest.RouteCreatePhoto, 503, 1)
	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosFailed)

	failed := h.photo(t, p.ID)
	assert.Equal(t, models.PhotoFailed, failed.SyncStatus)
	assert.Contains(t, failed.LastError, "create photo record")
	assert.Len(t, h.srv.Entries(), 1)
	assert.Empty(t, h.srv.Photos())
	assert.Contains(t, h.bus.Current().LastError, "1 photo(s)")

	// Failed photos wait for an explicit retry.
	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.PhotosSynced+res.PhotosFailed)

	_, _, err = h.photos.RetryFailed(ctx)
	require.NoError(t, err)
	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosSynced)

	assert.Len(t, h.srv.Entries(), 1)
	assert.Len(t, h.srv.Photos(), 1)
	assert.Equal(t, models.PhotoSynced, h.photo(t, p.ID).SyncStatus)
}

func TestSync_EntryTimeoutThenRetry(t *testing.T) {
	h := newHarness(t, 300*time.Millisecond)
	ctx := context.Background()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)

	h.srv.Delay(clienttest.RouteCreateEntry, 2*time.Second)
	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosFailed)

	failed := h.photo(t, p.ID)
	assert.Equal(t, models.PhotoFailed, failed.SyncStatus)
	assert.Contains(t, failed.LastError, "create entry")
	assert.Empty(t, h.srv.Photos())

	h.srv.Delay(clienttest.RouteCreateEntry, 0)
	_, _, err = h.photos.RetryFailed(ctx)
	require.NoError(t, err)
	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosSynced)

	// The retry re-runs every step, upload included.
	assert.Equal(t, 2, h.srv.Calls(clienttest.RouteUpload))
	assert.Len(t, h.srv.Entries(), 1)
	assert.Len(t, h.srv.Photos(), 1)
}

func TestSync_CorruptPhotoFailsWithoutNetwork(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)
	p.Blob = []byte("JPEG")
	_, err = h.store.Repositories().Photos.Put(ctx, p)
	require.NoError(t, err)

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosFailed)
	assert.Zero(t, h.srv.Calls(clienttest.RouteUpload))
	assert.Zero(t, h.srv.Calls(clienttest.RouteCreateEntry))
	assert.Contains(t, h.photo(t, p.ID).LastError, common.ErrChecksumFailed.Error())
}

func TestSync_PhotoWaitsForHouse(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	h.srv.SetDown(true)

	v, err := h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "V"})
	require.NoError(t, err)
	sv, err := h.entities.Create(ctx, models.EntitySubVillage, services.EntityInput{Name: "SV", ParentID: v.ID})
	require.NoError(t, err)
	house, err := h.entities.Create(ctx, models.EntityHouse, services.EntityInput{Name: "H", ParentID: sv.ID})
	require.NoError(t, err)
	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg"), HouseID: house.ID})
	require.NoError(t, err)
	h.srv.SetDown(false)

	h.srv.FailNext(clienttest.RouteCreateEntity, 503, 1)
	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosFailed)
	assert.Contains(t, h.photo(t, p.ID).LastError, "not synced yet")
	assert.Zero(t, h.srv.Calls(clienttest.RouteUpload))
}

func TestSync_FolderMatchedByOfflineID(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	f, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "Renamed"})
	require.NoError(t, err)
	seeded := h.srv.Seed(models.EntityFolder, client.Entity{OfflineID: f.ID, Name: "Original"})

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FoldersPushed)
	assert.Zero(t, h.srv.Calls(clienttest.RouteCreateEntity))

	remote := h.srv.Entities(models.EntityFolder)
	require.Len(t, remote, 1)
	assert.Equal(t, "Renamed", remote[0].Name)

	got := h.entity(t, models.EntityFolder, f.ID)
	assert.Equal(t, seeded.ID, got.ServerID)
	assert.Equal(t, "Renamed", got.Name)
}

func TestSync_FolderRetries(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	ok, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "A"})
	require.NoError(t, err)

	h.srv.FailNext(clienttest.RouteCreateEntity, 503, 2)
	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FoldersPushed)
	assert.Equal(t, 3, h.srv.Calls(clienttest.RouteCreateEntity))
	assert.True(t, h.entity(t, models.EntityFolder, ok.ID).Synced())

	bad, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "B"})
	require.NoError(t, err)
	h.srv.FailNext(clienttest.RouteCreateEntity, 503, 3)
	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FoldersFailed)
	assert.False(t, h.entity(t, models.EntityFolder, bad.ID).Synced())
}

func TestSync_RejectsConcurrentPass(t *testing.T) {
	h := newHarness(t, 0)
	h.orch.running.Store(true)

	_, err := h.orch.Sync(context.Background())
	require.ErrorIs(t, err, common.ErrSyncInProgress)
}

func TestStart_RecoversInterruptedWork(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	repos := h.store.Repositories()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)
	p.SyncStatus = models.PhotoSyncing
	_, err = repos.Photos.Put(ctx, p)
	require.NoError(t, err)

	_, err = h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "V"})
	require.NoError(t, err)
	q := h.queued(t)[0]
	q.Status = models.QueueSyncing
	require.NoError(t, repos.Queue.Update(ctx, q))

	require.NoError(t, h.orch.Start(ctx))

	assert.Equal(t, models.PhotoPending, h.photo(t, p.ID).SyncStatus)
	assert.Equal(t, models.QueuePending, h.queued(t)[0].Status)
}

func TestStart_SyncsWhenMonitorGoesOnline(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.entities.Create(ctx, models.EntityVillage, services.EntityInput{Name: "V"})
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx))

	h.monitor.SetNetworkState(true)

	require.Eventually(t, func() bool {
		return len(h.srv.Entities(models.EntityVillage)) == 1 && !h.orch.Syncing()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSync_FolderRenamedDuringPushIsNotLost(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	f, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "A"})
	require.NoError(t, err)
	h.srv.Delay(clienttest.RouteCreateEntity, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls(clienttest.RouteCreateEntity) == 1
	}, 2*time.Second, 5*time.Millisecond)
	h.clock.Advance(time.Second)
	_, err = h.entities.Update(ctx, models.EntityFolder, f.ID, services.EntityInput{Name: "B"})
	require.NoError(t, err)
	require.NoError(t, <-done)

	got := h.entity(t, models.EntityFolder, f.ID)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, models.SyncPending, got.SyncStatus)
	require.NotZero(t, got.ServerID)

	h.srv.Delay(clienttest.RouteCreateEntity, 0)
	_, err = h.orch.Sync(ctx)
	require.NoError(t, err)

	remote := h.srv.Entities(models.EntityFolder)
	require.Len(t, remote, 1)
	assert.Equal(t, "B", remote[0].Name)
	assert.Equal(t, 1, h.srv.Calls(clienttest.RouteCreateEntity))
	assert.True(t, h.entity(t, models.EntityFolder, f.ID).Synced())
}

func TestSync_FolderDeletedDuringPushIsRemovedRemotely(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	f, err := h.entities.Create(ctx, models.EntityFolder, services.EntityInput{Name: "Scratch"})
	require.NoError(t, err)
	h.srv.Delay(clienttest.RouteCreateEntity, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls(clienttest.RouteCreateEntity) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.entities.Delete(ctx, models.EntityFolder, f.ID))
	require.NoError(t, <-done)

	_, err = h.store.Repositories().Entities.Get(ctx, models.EntityFolder, f.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	// The delete entry runs in the queue drain of the same pass.
	assert.Empty(t, h.srv.Entities(models.EntityFolder))
	assert.Empty(t, h.queued(t))
}

func TestSync_PhotoDeletedDuringPassIsNotUploaded(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	p1, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg-1")})
	require.NoError(t, err)
	p2, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg-2")})
	require.NoError(t, err)
	h.srv.Delay(clienttest.RouteUpload, 300*time.Millisecond)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.orch.Sync(ctx)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls(clienttest.RouteUpload) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Whichever photo is not being uploaded is still pending and deletable.
	first, other := p1, p2
	if h.photo(t, p1.ID).SyncStatus != models.PhotoSyncing {
		first, other = p2, p1
	}
	require.Equal(t, models.PhotoSyncing, h.photo(t, first.ID).SyncStatus)
	require.NoError(t, h.photos.Delete(ctx, other.ID))

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 1, out.res.PhotosSynced)
	assert.Zero(t, out.res.PhotosFailed)

	_, err = h.photos.Get(ctx, other.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, uploaded := h.srv.Upload(other.ID)
	assert.False(t, uploaded)
	assert.Equal(t, 1, h.srv.Calls(clienttest.RouteUpload))
	assert.Len(t, h.srv.Entries(), 1)
	assert.Equal(t, models.PhotoSynced, h.photo(t, first.ID).SyncStatus)
}

func TestSync_PhotoRemovedDuringUploadStaysRemoved(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	repos := h.store.Repositories()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)
	h.srv.Delay(clienttest.RouteUpload, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls(clienttest.RouteUpload) == 1
	}, 2*time.Second, 5*time.Millisecond)
	// The repository delete skips the service's syncing check.
	require.NoError(t, repos.Photos.Delete(ctx, p.ID))
	require.NoError(t, <-done)

	_, err = repos.Photos.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSync_PhotoWithoutMetadataFails(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	p, err := h.photos.Capture(ctx, services.CaptureInput{Blob: []byte("jpeg")})
	require.NoError(t, err)
	_, err = h.store.DB().ExecContext(ctx, `DELETE FROM photo_metadata WHERE photo_id = ?`, p.ID)
	require.NoError(t, err)

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PhotosFailed)
	assert.Zero(t, h.srv.Calls(clienttest.RouteUpload))
	assert.Contains(t, h.photo(t, p.ID).LastError, "metadata")
}

func TestTriggerSync_DuringPassRunsOneMore(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	require.NoError(t, h.orch.Start(ctx))

	h.srv.Delay(clienttest.RouteListEntities, 50*time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.Sync(ctx)
	}()

	require.Eventually(t, h.orch.Syncing, 2*time.Second, time.Millisecond)
	h.orch.TriggerSync()
	<-done

	require.Eventually(t, func() bool {
		return h.srv.Calls(clienttest.RouteHealth) >= 2 && !h.orch.Syncing()
	}, 5*time.Second, 10*time.Millisecond)
}
