package entities

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/client/migrations"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T, files ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if len(files) == 0 {
		files = []string{"00004_folders.sql", "00005_villages.sql", "00006_sub_villages.sql", "00007_houses.sql"}
	}
	for _, f := range files {
		stmts, err := migrations.UpStatements(f)
		require.NoError(t, err)
		for _, s := range stmts {
			_, err := db.Exec(s)
			require.NoError(t, err)
		}
	}
	return db
}

func village(id string) *models.Entity {
	ts := time.UnixMilli(1700000000000).UTC()
	return &models.Entity{
		ID:         id,
		Type:       models.EntityVillage,
		OfflineID:  id,
		Name:       "Kibera",
		Attributes: map[string]string{"district": "Nairobi"},
		SyncStatus: models.SyncPending,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	in := village("v_1700000000000")
	id, err := r.Put(ctx, in)
	require.NoError(t, err)
	require.Equal(t, in.ID, id)

	got, err := r.Get(ctx, models.EntityVillage, id)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("entity mismatch (-want +got):\n%s", diff)
	}
}

func TestPut_OverwritesNotMerges(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	v := village("v_1")
	_, err := r.Put(ctx, v)
	require.NoError(t, err)

	v2 := village("v_1")
	v2.Attributes = map[string]string{"chief": "Otieno"}
	v2.ServerID = 42
	v2.SyncStatus = models.SyncSynced
	_, err = r.Put(ctx, v2)
	require.NoError(t, err)

	got, err := r.Get(ctx, models.EntityVillage, "v_1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"chief": "Otieno"}, got.Attributes)
	assert.Equal(t, int64(42), got.ServerID)
	assert.Equal(t, "v_1", got.ID, "local key is stable after sync")
}

func TestPut_RejectsSyncedWithoutServerID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	v := village("v_1")
	v.SyncStatus = models.SyncSynced
	_, err := r.Put(context.Background(), v)
	require.ErrorIs(t, err, common.ErrInvalidRecord)
}

func TestGet_Missing_ReturnsNotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.Get(context.Background(), models.EntityHouse, "h_404")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByIndex(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Put(ctx, village("v_1"))
	require.NoError(t, err)

	for _, id := range []string{"sv_1", "sv_2"} {
		_, err := r.Put(ctx, &models.Entity{ID: id, Type: models.EntitySubVillage, ParentID: "v_1", SyncStatus: models.SyncPending})
		require.NoError(t, err)
	}
	_, err = r.Put(ctx, &models.Entity{ID: "sv_3", Type: models.EntitySubVillage, ParentID: "v_9", ServerID: 7, SyncStatus: models.SyncSynced})
	require.NoError(t, err)

	kids, err := r.ListByIndex(ctx, models.EntitySubVillage, IndexParentID, "v_1")
	require.NoError(t, err)
	assert.Len(t, kids, 2)

	pending, err := r.ListByIndex(ctx, models.EntitySubVillage, IndexSyncStatus, models.SyncPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	bySrv, err := r.ListByIndex(ctx, models.EntitySubVillage, IndexServerID, int64(7))
	require.NoError(t, err)
	require.Len(t, bySrv, 1)
	assert.Equal(t, "sv_3", bySrv[0].ID)

	none, err := r.ListByIndex(ctx, models.EntitySubVillage, IndexOfflineID, "nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListByIndex_UnknownIndex(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.ListByIndex(context.Background(), models.EntityVillage, "name; DROP TABLE villages", "x")
	require.ErrorIs(t, err, common.ErrUnknownIndex)
}

func TestDelete_Idempotent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Put(ctx, village("v_1"))
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, models.EntityVillage, "v_1"))
	require.NoError(t, r.Delete(ctx, models.EntityVillage, "v_1"))

	_, err = r.Get(ctx, models.EntityVillage, "v_1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestCountPending(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Put(ctx, village("v_1"))
	require.NoError(t, err)
	synced := village("v_2")
	synced.ServerID, synced.SyncStatus = 2, models.SyncSynced
	_, err = r.Put(ctx, synced)
	require.NoError(t, err)

	n, err := r.CountPending(ctx, models.EntityVillage)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMissingContainer_ReadsEmptyWritesFail(t *testing.T) {
	// only folders exist
	r := NewSQLiteRepository(setupDB(t, "00004_folders.sql"))
	ctx := context.Background()

	list, err := r.List(ctx, models.EntityVillage)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = r.Get(ctx, models.EntityVillage, "v_1")
	require.ErrorIs(t, err, common.ErrNotFound)

	n, err := r.CountPending(ctx, models.EntityVillage)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.Put(ctx, village("v_1"))
	require.ErrorIs(t, err, common.ErrContainerMissing)

	err = r.Delete(ctx, models.EntityVillage, "v_1")
	require.ErrorIs(t, err, common.ErrContainerMissing)
}

func TestUnknownEntityType(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.List(context.Background(), models.EntityType("streets"))
	require.ErrorIs(t, err, models.ErrUnknownEntityType)
}

func TestPut_DriverErrorWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO villages").WillReturnError(errors.New("disk I/O error"))

	r := NewSQLiteRepository(db)
	_, err = r.Put(context.Background(), village("v_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to put villages[v_1]")
	assert.NotErrorIs(t, err, common.ErrContainerMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_ScanErrorWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("v_1")
	mock.ExpectQuery("SELECT (.+) FROM villages").WillReturnRows(rows)

	r := NewSQLiteRepository(db)
	_, err = r.List(context.Background(), models.EntityVillage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan villages row")
}
