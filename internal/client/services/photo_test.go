package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_StoresPendingWithMetadata(t *testing.T) {
	e := setup(t, false)
	ctx := context.Background()

	v, err := e.entities.Create(ctx, models.EntityVillage, EntityInput{Name: "V"})
	require.NoError(t, err)
	sv, err := e.entities.Create(ctx, models.EntitySubVillage, EntityInput{Name: "SV", ParentID: v.ID})
	require.NoError(t, err)
	h, err := e.entities.Create(ctx, models.EntityHouse, EntityInput{Name: "H", ParentID: sv.ID})
	require.NoError(t, err)

	blob := []byte("jpeg bytes")
	taken := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p, err := e.photos.Capture(ctx, CaptureInput{Blob: blob, Timestamp: taken, HouseID: h.ID, Description: "front"})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, models.PhotoPending, p.SyncStatus)
	assert.Equal(t, int64(len(blob)), p.Size)
	assert.True(t, cryptox.Verify(blob, p.Checksum))

	got, err := e.photos.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, blob, got.Blob)
	assert.True(t, got.Timestamp.Equal(taken))

	md, err := e.photos.GetMetadata(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, md.HouseID)
	assert.Equal(t, sv.ID, md.SubVillageID)
	assert.Equal(t, v.ID, md.VillageID)
	assert.Equal(t, int64(7), md.SurveyID)
	assert.Equal(t, "front", md.Description)

	assert.Zero(t, e.triggers.Load())
}

func TestCapture_TriggersSyncWhenOnline(t *testing.T) {
	e := setup(t, true)
	_, err := e.photos.Capture(context.Background(), CaptureInput{Blob: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, int32(1), e.triggers.Load())
}

func TestCapture_Rejections(t *testing.T) {
	e := setup(t, false)
	ctx := context.Background()

	_, err := e.photos.Capture(ctx, CaptureInput{Blob: bytes.Repeat([]byte{1}, int(DefaultMaxPhotoSize)+1)})
	require.ErrorIs(t, err, common.ErrPhotoTooLarge)

	_, err = e.photos.Capture(ctx, CaptureInput{})
	require.ErrorIs(t, err, common.ErrInvalidRecord)

	_, err = e.photos.Capture(ctx, CaptureInput{Blob: []byte("x"), FolderID: "f_1"})
	require.ErrorIs(t, err, ErrParentNotFound)

	e.photos.guard = fakeAdmitter{err: common.ErrQuotaExceeded}
	_, err = e.photos.Capture(ctx, CaptureInput{Blob: []byte("x")})
	require.ErrorIs(t, err, common.ErrQuotaExceeded)

	all, err := e.photos.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListByFolder(t *testing.T) {
	e := setup(t, false)
	ctx := context.Background()

	f, err := e.entities.Create(ctx, models.EntityFolder, EntityInput{Name: "Round 1"})
	require.NoError(t, err)

	_, err = e.photos.Capture(ctx, CaptureInput{Blob: []byte("a"), FolderID: f.ID})
	require.NoError(t, err)
	_, err = e.photos.Capture(ctx, CaptureInput{Blob: []byte("b")})
	require.NoError(t, err)

	in, err := e.photos.ListByFolder(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, in, 1)
}

func TestRetryFailed_ResetsPhotosAndQueue(t *testing.T) {
	e := setup(t, false)
	ctx := context.Background()
	repos := e.store.Repositories()

	p, err := e.photos.Capture(ctx, CaptureInput{Blob: []byte("x")})
	require.NoError(t, err)
	p.SyncStatus = models.PhotoFailed
	p.LastError = "upload: server unreachable"
	_, err = repos.Photos.Put(ctx, p)
	require.NoError(t, err)

	_, err = e.entities.Create(ctx, models.EntityVillage, EntityInput{Name: "V"})
	require.NoError(t, err)
	q := e.queued(t)[0]
	q.Status = models.QueueFailed
	q.RetryCount = 5
	require.NoError(t, repos.Queue.Update(ctx, q))

	e.online.v.Store(true)
	np, nq, err := e.photos.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), np)
	assert.Equal(t, int64(1), nq)
	assert.Equal(t, int32(1), e.triggers.Load())

	got, err := e.photos.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhotoPending, got.SyncStatus)
	assert.Empty(t, got.LastError)

	q, err = repos.Queue.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, q.Status)
	assert.Zero(t, q.RetryCount)
}

func TestDeleteAndStats(t *testing.T) {
	e := setup(t, false)
	ctx := context.Background()

	p, err := e.photos.Capture(ctx, CaptureInput{Blob: []byte("abc")})
	require.NoError(t, err)

	st, err := e.photos.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Counts[models.PhotoPending])
	assert.Equal(t, int64(3), st.BlobBytes)

	require.NoError(t, e.photos.Delete(ctx, p.ID))
	require.NoError(t, e.photos.Delete(ctx, p.ID))

	_, err = e.photos.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = e.photos.GetMetadata(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
}
