package status

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type counter struct {
	n   atomic.Int64
	err error
}

func (c *counter) CountPending(ctx context.Context) (int, error) {
	return int(c.n.Load()), c.err
}

func settingsRepo(t *testing.T) *settings.SQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE settings (key TEXT PRIMARY KEY, value BLOB NOT NULL)`)
	require.NoError(t, err)
	return settings.NewSQLiteRepository(db)
}

func TestSubscribe_GetsSnapshotImmediately(t *testing.T) {
	c := &counter{}
	c.n.Store(3)
	b := NewBus(c, nil, time.Hour, nil)
	require.NoError(t, b.Load(context.Background()))

	var got Status
	unsub := b.Subscribe(func(s Status) { got = s })
	defer unsub()

	assert.Equal(t, 3, got.TotalPending)
}

func TestRefresh_RecomputesFromStore(t *testing.T) {
	c := &counter{}
	b := NewBus(c, nil, time.Hour, nil)

	var seen []int
	b.Subscribe(func(s Status) { seen = append(seen, s.TotalPending) })

	c.n.Store(2)
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)
	c.n.Store(0)
	_, err = b.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 0}, seen)
}

func TestRefresh_ErrorKeepsLastSnapshot(t *testing.T) {
	c := &counter{}
	c.n.Store(4)
	b := NewBus(c, nil, time.Hour, nil)
	_, err := b.Refresh(context.Background())
	require.NoError(t, err)

	c.err = errors.New("db closed")
	s, err := b.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 4, s.TotalPending)
}

func TestLastSyncTime_SurvivesRestart(t *testing.T) {
	repo := settingsRepo(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000).UTC()

	b := NewBus(&counter{}, repo, time.Hour, nil)
	b.SetLastError(ctx, "server unavailable")
	assert.Equal(t, "server unavailable", b.Current().LastError)
	b.RecordSuccess(ctx, at)

	restarted := NewBus(&counter{}, repo, time.Hour, nil)
	require.NoError(t, restarted.Load(ctx))
	assert.True(t, at.Equal(restarted.Current().LastSyncTime))
	assert.Empty(t, restarted.Current().LastError)
}

func TestLastError_Persisted(t *testing.T) {
	repo := settingsRepo(t)
	ctx := context.Background()

	b := NewBus(&counter{}, repo, time.Hour, nil)
	b.SetLastError(ctx, "rejected by server")

	restarted := NewBus(&counter{}, repo, time.Hour, nil)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, "rejected by server", restarted.Current().LastError)
}

func TestSetSyncing_Notifies(t *testing.T) {
	b := NewBus(nil, nil, time.Hour, nil)

	var mu sync.Mutex
	var flags []bool
	b.Subscribe(func(s Status) {
		mu.Lock()
		flags = append(flags, s.IsSyncing)
		mu.Unlock()
	})

	b.SetSyncing(true)
	b.SetSyncing(false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true, false}, flags)
}

func TestUnsubscribe_FullyDetaches(t *testing.T) {
	b := NewBus(nil, nil, time.Hour, nil)
	calls := 0
	unsub := b.Subscribe(func(Status) { calls++ })
	unsub()
	b.SetSyncing(true)
	assert.Equal(t, 1, calls)
}

func TestRun_RefreshesPeriodically(t *testing.T) {
	c := &counter{}
	b := NewBus(c, nil, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	c.n.Store(7)
	require.Eventually(t, func() bool { return b.Current().TotalPending == 7 }, time.Second, 5*time.Millisecond)
}
