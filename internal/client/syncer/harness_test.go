package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/client/clienttest"
	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/status"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return func() bool { return true }
}

func (s *fakeScheduler) last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.delays) == 0 {
		return -1
	}
	return s.delays[len(s.delays)-1]
}

type harness struct {
	store    *store.Store
	srv      *clienttest.Server
	monitor  *connectivity.Monitor
	bus      *status.Bus
	clock    *fakeClock
	sched    *fakeScheduler
	orch     *Orchestrator
	entities *services.EntityService
	photos   *services.PhotoService
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := clienttest.NewServer()
	t.Cleanup(srv.Close)

	if timeout == 0 {
		timeout = 2 * time.Second
	}
	remote := client.NewHTTPClient(srv.URL, timeout)

	h := &harness{
		store: st,
		srv:   srv,
		clock: &fakeClock{t: time.UnixMilli(1700000000000).UTC()},
		sched: &fakeScheduler{},
	}
	h.monitor = connectivity.New(remote, connectivity.WithInterfaceSource(func() bool { return false }))
	repos := st.Repositories()
	h.bus = status.NewBus(st, repos.Settings, time.Minute, nil)

	h.orch = New(repos, remote,
		WithMonitor(h.monitor),
		WithStatus(h.bus),
		WithClock(h.clock.Now),
		WithScheduler(h.sched),
		WithConfig(Config{FolderDelay: time.Millisecond, SurveyID: 7}),
	)
	t.Cleanup(h.orch.Stop)

	opts := []services.Option{
		services.WithRemote(remote),
		services.WithOnlineChecker(h.monitor),
		services.WithClock(h.clock.Now),
	}
	h.entities = services.NewEntityService(repos.Entities, repos.Queue, repos.Photos, nil, opts...)
	h.photos = services.NewPhotoService(repos.Photos, repos.Entities, repos.Queue, nil, 0, 7, opts...)
	return h
}

func (h *harness) entity(t *testing.T, typ models.EntityType, id string) *models.Entity {
	t.Helper()
	e, err := h.store.Repositories().Entities.Get(context.Background(), typ, id)
	require.NoError(t, err)
	return e
}

func (h *harness) photo(t *testing.T, id string) *models.Photo {
	t.Helper()
	p, err := h.store.Repositories().Photos.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) queued(t *testing.T) []*models.QueueEntry {
	t.Helper()
	q, err := h.store.Repositories().Queue.List(context.Background())
	require.NoError(t, err)
	return q
}
