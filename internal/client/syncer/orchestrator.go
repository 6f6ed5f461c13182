package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/status"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	DefaultFolderAttempts = 3
	DefaultFolderDelay    = time.Second
	DefaultMaxPhotoSize   = 10 << 20
)

// Monitor is the connectivity state the orchestrator reacts to.
type Monitor interface {
	Check(ctx context.Context) bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// StatusSink receives pass progress.
type StatusSink interface {
	SetSyncing(syncing bool)
	SetLastError(ctx context.Context, msg string)
	RecordSuccess(ctx context.Context, at time.Time)
	Refresh(ctx context.Context) (status.Status, error)
}

type Config struct {
	FolderAttempts int
	FolderDelay    time.Duration
	Queue          QueueConfig
	MaxPhotoSize   int64
	SurveyID       int64
}

// Result summarises one pass.
type Result struct {
	Skipped        bool
	Pulled         int
	FoldersPushed  int
	FoldersFailed  int
	QueueCompleted int
	QueueRetried   int
	QueueFailed    int
	PhotosSynced   int
	PhotosFailed   int
	Duration       time.Duration

	errs []string
}

func (r *Result) errorf(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

// Errors lists per-item failures of the pass.
func (r *Result) Errors() []string { return r.errs }

// Failed reports whether any item failed.
func (r *Result) Failed() bool {
	return r.FoldersFailed+r.QueueFailed+r.PhotosFailed > 0
}

// Orchestrator runs sync passes.
type Orchestrator struct {
	repos    *store.Repositories
	remote   client.Client
	uploader client.BlobUploader
	queue    *Queue
	monitor  Monitor
	status   StatusSink
	sched    Scheduler
	cfg      Config
	now      func() time.Time
	log      logging.Logger

	running atomic.Bool
	// rerun is set when a trigger arrives during a pass.
	rerun atomic.Bool

	mu          sync.Mutex
	baseCtx     context.Context
	unsubscribe func()
	stopped     bool
	wg          sync.WaitGroup
}

type Option func(*Orchestrator)

func WithMonitor(m Monitor) Option { return func(o *Orchestrator) { o.monitor = m } }

func WithStatus(s StatusSink) Option { return func(o *Orchestrator) { o.status = s } }

func WithUploader(u client.BlobUploader) Option { return func(o *Orchestrator) { o.uploader = u } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithLogger(l logging.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithConfig(c Config) Option { return func(o *Orchestrator) { o.cfg = c } }

// WithScheduler replaces the timer used for deferred queue drains.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.sched = s }
}

func New(repos *store.Repositories, remote client.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repos:   repos,
		remote:  remote,
		now:     time.Now,
		log:     logging.Discard(),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.FolderAttempts <= 0 {
		o.cfg.FolderAttempts = DefaultFolderAttempts
	}
	if o.cfg.FolderDelay <= 0 {
		o.cfg.FolderDelay = DefaultFolderDelay
	}
	if o.cfg.MaxPhotoSize <= 0 {
		o.cfg.MaxPhotoSize = DefaultMaxPhotoSize
	}
	if o.uploader == nil {
		o.uploader = client.NewHTTPUploader(remote)
	}
	if o.status == nil {
		o.status = nopStatus{}
	}
	o.queue = NewQueue(repos.Queue, repos.Entities, remote, o.cfg.Queue, o.sched, o.now, o.log)
	o.queue.OnDue(o.TriggerSync)
	return o
}

// Queue exposes the mutation queue processor.
func (o *Orchestrator) Queue() *Queue { return o.queue }

// Recover returns photos and queue entries left in syncing by an interrupted
// pass to pending.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if n, err := o.repos.Photos.ResetStatus(ctx, models.PhotoSyncing, models.PhotoPending); err != nil {
		return fmt.Errorf("recover photos: %w", err)
	} else if n > 0 {
		o.log.Info(ctx, "recovered interrupted photo uploads", "count", n)
	}
	if n, err := o.repos.Queue.ResetSyncing(ctx); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	} else if n > 0 {
		o.log.Info(ctx, "recovered interrupted queue entries", "count", n)
	}
	return nil
}

// Start recovers state left by an interrupted pass and begins reacting to
// connectivity changes. Passes started by triggers use ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	if o.monitor != nil {
		var wasOnline atomic.Bool
		unsub := o.monitor.Subscribe(func(online bool) {
			if online && !wasOnline.Swap(true) {
				o.TriggerSync()
			}
			if !online {
				wasOnline.Store(false)
			}
		})
		o.mu.Lock()
		o.unsubscribe = unsub
		o.mu.Unlock()
	}
	return nil
}

// Stop detaches from the monitor, cancels the deferred drain and waits for
// triggered passes to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.stopped = true
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	o.queue.Close()
	o.wg.Wait()
}

// TriggerSync starts a pass in the background. A trigger arriving while a
// pass runs is remembered and starts one more pass when it ends, so changes
// made during a pass are not left waiting for the next trigger.
func (o *Orchestrator) TriggerSync() {
	if o.running.Load() {
		o.rerun.Store(true)
		return
	}
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	ctx := o.baseCtx
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if ctx.Err() != nil {
			return
		}
		_, err := o.Sync(ctx)
		switch {
		case errors.Is(err, common.ErrSyncInProgress):
			o.rerun.Store(true)
		case err != nil:
			o.log.Info(ctx, "triggered sync did not complete", "error", err)
		}
	}()
}

// Syncing reports whether a pass is running.
func (o *Orchestrator) Syncing() bool { return o.running.Load() }

// Sync runs one pass. It returns common.ErrSyncInProgress when another pass
// holds the flag and common.ErrOffline when the server is unreachable.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	o.rerun.Store(false)
	defer func() {
		o.running.Store(false)
		if o.rerun.Swap(false) {
			o.TriggerSync()
		}
	}()

	start := o.now()
	res := &Result{}

	o.status.SetSyncing(true)
	defer func() {
		o.status.SetSyncing(false)
		if _, err := o.status.Refresh(ctx); err != nil {
			o.log.Warn(ctx, "status refresh failed", "error", err)
		}
	}()

	if o.monitor != nil && !o.monitor.Check(ctx) {
		res.Skipped = true
		o.status.SetLastError(ctx, common.ErrOffline.Error())
		o.log.Info(ctx, "sync skipped, server unreachable")
		return res, common.ErrOffline
	}

	o.log.Info(ctx, "sync started")

	o.pull(ctx, res)

	if err := o.pushFolders(ctx, res); err != nil {
		return o.abort(ctx, res, start, err)
	}

	dr, err := o.queue.Drain(ctx)
	res.QueueCompleted, res.QueueRetried, res.QueueFailed = dr.Completed, dr.Retried, dr.Failed
	if err != nil {
		return o.abort(ctx, res, start, err)
	}

	if err := o.pushPhotos(ctx, res); err != nil {
		return o.abort(ctx, res, start, err)
	}

	res.Duration = o.now().Sub(start)
	o.status.RecordSuccess(ctx, o.now())
	if res.Failed() {
		o.status.SetLastError(ctx, summarize(res))
	}
	o.log.Info(ctx, "sync finished",
		"pulled", res.Pulled,
		"folders", res.FoldersPushed,
		"queue", res.QueueCompleted,
		"photos", res.PhotosSynced,
		"failed", res.FoldersFailed+res.QueueFailed+res.PhotosFailed,
		"duration", res.Duration,
	)
	return res, nil
}

// abort ends a pass on a local store error.
func (o *Orchestrator) abort(ctx context.Context, res *Result, start time.Time, err error) (*Result, error) {
	res.Duration = o.now().Sub(start)
	o.status.SetLastError(ctx, err.Error())
	o.log.Error(ctx, "sync aborted", "error", err)
	return res, err
}

func summarize(res *Result) string {
	var parts []string
	if res.FoldersFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d folder(s)", res.FoldersFailed))
	}
	if res.QueueFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d queued change(s)", res.QueueFailed))
	}
	if res.PhotosFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d photo(s)", res.PhotosFailed))
	}
	msg := "failed: " + strings.Join(parts, ", ")
	if len(res.errs) > 0 {
		msg += "; last: " + res.errs[len(res.errs)-1]
	}
	return msg
}

type nopStatus struct{}

func (nopStatus) SetSyncing(bool)                          {}
func (nopStatus) SetLastError(context.Context, string)     {}
func (nopStatus) RecordSuccess(context.Context, time.Time) {}

func (nopStatus) Refresh(context.Context) (status.Status, error) {
	return status.Status{}, nil
}
