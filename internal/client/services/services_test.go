package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/client/clienttest"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/stretchr/testify/require"
)

type onlineFlag struct{ v atomic.Bool }

func (o *onlineFlag) Online() bool { return o.v.Load() }

func newOnline(v bool) *onlineFlag {
	o := &onlineFlag{}
	o.v.Store(v)
	return o
}

type env struct {
	store    *store.Store
	srv      *clienttest.Server
	online   *onlineFlag
	triggers *atomic.Int32
	entities *EntityService
	photos   *PhotoService
}

type fakeAdmitter struct{ err error }

func (f fakeAdmitter) Admit(context.Context, int64) error { return f.err }

func setup(t *testing.T, online bool) *env {
	t.Helper()

	st, err := store.Open(context.Background(), ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := clienttest.NewServer()
	t.Cleanup(srv.Close)

	e := &env{store: st, srv: srv, online: newOnline(online), triggers: &atomic.Int32{}}
	repos := st.Repositories()
	clock := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	opts := []Option{
		WithRemote(client.NewHTTPClient(srv.URL, 2*time.Second)),
		WithOnlineChecker(e.online),
		WithClock(func() time.Time { return clock }),
		WithTrigger(func() { e.triggers.Add(1) }),
	}
	e.entities = NewEntityService(repos.Entities, repos.Queue, repos.Photos, nil, opts...)
	e.photos = NewPhotoService(repos.Photos, repos.Entities, repos.Queue, fakeAdmitter{}, 0, 7, opts...)
	return e
}

func (e *env) queued(t *testing.T) []*models.QueueEntry {
	t.Helper()
	q, err := e.store.Repositories().Queue.List(context.Background())
	require.NoError(t, err)
	return q
}
