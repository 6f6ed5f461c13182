package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	DefaultQueueAttempts  = 5
	DefaultQueueBaseDelay = time.Second
	DefaultQueueMaxDelay  = 30 * time.Second
)

var errParentUnsynced = errors.New("parent not synced yet")

// DrainResult counts what happened to the entries handled by one drain.
type DrainResult struct {
	Completed int
	Retried   int
	Failed    int
}

// Queue executes deferred entity mutations in creation order.
type Queue struct {
	queue    queue.Repository
	entities entities.Repository
	remote   client.Client

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	sched Scheduler
	now   func() time.Time
	log   logging.Logger

	mu     sync.Mutex
	stop   func() bool
	onDue  func()
	closed bool
}

// QueueConfig tunes retry behaviour. Zero values select the defaults.
type QueueConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func NewQueue(qr queue.Repository, er entities.Repository, remote client.Client, cfg QueueConfig, sched Scheduler, now func() time.Time, log logging.Logger) *Queue {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultQueueAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultQueueBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultQueueMaxDelay
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Queue{
		queue:     qr,
		entities:  er,
		remote:    remote,
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		sched:     sched,
		now:       now,
		log:       log,
	}
}

// OnDue sets the callback fired when a deferred entry becomes due.
func (q *Queue) OnDue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDue = fn
}

// Delay returns the wait before attempt n+1 after n failed attempts:
// base·2^(n-1), capped at the configured maximum.
func (q *Queue) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	b := retry.WithCappedDuration(q.maxDelay, retry.NewExponential(q.baseDelay))
	var d time.Duration
	for i := 0; i < n; i++ {
		d, _ = b.Next()
	}
	return d
}

// Drain runs every due entry once. Store errors abort the drain; remote
// errors are recorded on the entry.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	due, err := q.queue.ListDue(ctx, q.now())
	if err != nil {
		return res, fmt.Errorf("list due entries: %w", err)
	}

	for _, e := range due {
		e.Status = models.QueueSyncing
		if err := q.queue.Update(ctx, e); errors.Is(err, common.ErrNotFound) {
			// Superseded by a local delete since the listing.
			continue
		} else if err != nil {
			return res, err
		}

		err := q.execute(ctx, e)
		switch {
		case err == nil:
			e.Status = models.QueueCompleted
			e.LastError = ""
			res.Completed++
		case !q.transient(err):
			e.Status = models.QueueFailed
			e.LastError = err.Error()
			res.Failed++
			q.log.Warn(ctx, "queue entry rejected", "id", e.ID, "op", e.Operation, "entity", e.EntityID, "error", err)
		default:
			e.RetryCount++
			e.LastError = err.Error()
			if e.RetryCount >= q.attempts {
				e.Status = models.QueueFailed
				res.Failed++
				q.log.Warn(ctx, "queue entry gave up", "id", e.ID, "attempts", e.RetryCount, "error", err)
			} else {
				e.Status = models.QueuePending
				e.NextAttemptAt = q.now().Add(q.Delay(e.RetryCount))
				res.Retried++
				q.log.Debug(ctx, "queue entry deferred", "id", e.ID, "retry", e.RetryCount, "next", e.NextAttemptAt)
			}
		}
		if err := q.queue.Update(ctx, e); errors.Is(err, common.ErrNotFound) {
			q.log.Debug(ctx, "queue entry removed while running", "id", e.ID)
		} else if err != nil {
			return res, err
		}
	}

	if _, err := q.queue.DeleteCompleted(ctx); err != nil {
		q.log.Warn(ctx, "failed to drop completed queue entries", "error", err)
	}
	if err := q.reschedule(ctx); err != nil {
		q.log.Warn(ctx, "failed to schedule next drain", "error", err)
	}
	return res, nil
}

func (q *Queue) transient(err error) bool {
	if errors.Is(err, errParentUnsynced) {
		return true
	}
	return client.IsTransient(err)
}

// reschedule arms a single timer for the earliest pending entry.
func (q *Queue) reschedule(ctx context.Context) error {
	at, ok, err := q.queue.NextAttempt(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stop != nil {
		q.stop()
		q.stop = nil
	}
	if !ok || q.closed || q.onDue == nil {
		return nil
	}
	d := at.Sub(q.now())
	if d < 0 {
		d = 0
	}
	q.stop = q.sched.AfterFunc(d, q.onDue)
	return nil
}

// Close cancels the deferred drain, if any.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.stop != nil {
		q.stop()
		q.stop = nil
	}
}

func (q *Queue) execute(ctx context.Context, e *models.QueueEntry) error {
	switch e.Operation {
	case models.OpCreate, models.OpUpdate:
		return q.push(ctx, e)
	case models.OpDelete:
		if e.ServerID == 0 {
			return nil
		}
		err := q.remote.DeleteEntity(ctx, e.EntityType, e.ServerID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: unknown operation %q", client.ErrValidation, e.Operation)
}

// push sends the current local record. The payload is read at execution
// time, so edits made after the entry was queued go out with it.
func (q *Queue) push(ctx context.Context, qe *models.QueueEntry) error {
	e, err := q.entities.Get(ctx, qe.EntityType, qe.EntityID)
	if errors.Is(err, common.ErrNotFound) {
		// Deleted locally after it was queued.
		return nil
	}
	if err != nil {
		return err
	}
	if e.Synced() {
		return nil
	}

	parentID, err := q.parentServerID(ctx, e)
	if err != nil {
		return err
	}
	sent := e.UpdatedAt
	wire := client.FromModel(e, parentID)

	var remote *client.Entity
	if e.ServerID == 0 {
		remote, err = q.remote.CreateEntity(ctx, e.Type, wire)
		if err != nil {
			return err
		}
		// A repeated offline id returns the stored record unchanged.
		if remote.Name != e.Name || remote.ParentID != parentID {
			wire.ID = remote.ID
			if remote, err = q.remote.UpdateEntity(ctx, e.Type, wire.ID, wire); err != nil {
				return err
			}
		}
	} else {
		if remote, err = q.remote.UpdateEntity(ctx, e.Type, e.ServerID, wire); err != nil {
			return err
		}
	}

	return q.markSynced(ctx, e.Type, e.ID, remote.ID, sent)
}

// markSynced annotates the record with its server id. A record edited while
// the call was in flight stays pending and gets a fresh update entry; one
// deleted meanwhile gets a delete entry for its server copy.
func (q *Queue) markSynced(ctx context.Context, t models.EntityType, id string, serverID int64, sent time.Time) error {
	cur, err := q.entities.Get(ctx, t, id)
	if errors.Is(err, common.ErrNotFound) {
		_, err := q.queue.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpDelete,
			EntityType: t,
			EntityID:   id,
			ServerID:   serverID,
			Status:     models.QueuePending,
			CreatedAt:  q.now(),
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
		_, err := q.queue.Enqueue(ctx, &models.QueueEntry{
			Operation:  models.OpUpdate,
			EntityType: t,
			EntityID:   id,
			ServerID:   serverID,
			Status:     models.QueuePending,
			CreatedAt:  q.now(),
		})
		if err != nil {
			return err
		}
	}
	_, err = q.entities.Put(ctx, cur)
	return err
}

func (q *Queue) parentServerID(ctx context.Context, e *models.Entity) (int64, error) {
	pt, ok := e.Type.Parent()
	if !ok {
		return 0, nil
	}
	p, err := q.entities.Get(ctx, pt, e.ParentID)
	if errors.Is(err, common.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s %s is gone", client.ErrValidation, pt.Singular(), e.ParentID)
	}
	if err != nil {
		return 0, err
	}
	if p.ServerID == 0 {
		return 0, fmt.Errorf("%w: %s %s", errParentUnsynced, pt.Singular(), p.ID)
	}
	return p.ServerID, nil
}
