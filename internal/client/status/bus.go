// Package status publishes the sync engine's shared status to any number
// of observers (CLI, local status API, inbox watcher).
package status

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/broadcast"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const DefaultInterval = 5 * time.Second

// Status is the snapshot delivered to subscribers.
type Status struct {
	TotalPending int       `json:"totalPending"`
	IsSyncing    bool      `json:"isSyncing"`
	LastSyncTime time.Time `json:"lastSyncTime"`
	LastError    string    `json:"lastError,omitempty"`
}

// PendingCounter counts records still waiting to reach the server.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Bus holds the current Status. TotalPending is recomputed from the store
// rather than tracked incrementally.
type Bus struct {
	counter  PendingCounter
	settings settings.Repository
	interval time.Duration
	log      logging.Logger

	state *broadcast.Broadcaster[Status]
}

func NewBus(counter PendingCounter, st settings.Repository, interval time.Duration, log logging.Logger) *Bus {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{
		counter:  counter,
		settings: st,
		interval: interval,
		log:      log,
		state:    broadcast.New(Status{}),
	}
}

// Load restores persisted fields and computes the pending count.
func (b *Bus) Load(ctx context.Context) error {
	if b.settings != nil {
		last, err := b.settings.GetTime(ctx, settings.KeyLastSyncTime)
		if err != nil {
			return err
		}
		var lastErr string
		if v, err := b.settings.Get(ctx, settings.KeyLastError); err == nil {
			lastErr = string(v)
		}
		b.state.Update(func(s Status) Status {
			s.LastSyncTime = last
			s.LastError = lastErr
			return s
		})
	}
	_, err := b.Refresh(ctx)
	return err
}

func (b *Bus) Current() Status {
	return b.state.Current()
}

// Subscribe delivers the current snapshot immediately and every later one.
func (b *Bus) Subscribe(fn func(Status)) (unsubscribe func()) {
	return b.state.Subscribe(fn)
}

// Refresh recounts pending records and notifies subscribers.
func (b *Bus) Refresh(ctx context.Context) (Status, error) {
	if b.counter == nil {
		return b.state.Current(), nil
	}
	n, err := b.counter.CountPending(ctx)
	if err != nil {
		return b.state.Current(), err
	}
	return b.state.Update(func(s Status) Status {
		s.TotalPending = n
		return s
	}), nil
}

func (b *Bus) SetSyncing(syncing bool) {
	b.state.Update(func(s Status) Status {
		s.IsSyncing = syncing
		return s
	})
}

// SetLastError records a failure message; an empty message clears it.
func (b *Bus) SetLastError(ctx context.Context, msg string) {
	b.state.Update(func(s Status) Status {
		s.LastError = msg
		return s
	})
	b.persistError(ctx, msg)
}

// RecordSuccess stores the time of a completed pass and clears LastError.
func (b *Bus) RecordSuccess(ctx context.Context, at time.Time) {
	b.state.Update(func(s Status) Status {
		s.LastSyncTime = at
		s.LastError = ""
		return s
	})
	if b.settings != nil {
		if err := b.settings.SetTime(ctx, settings.KeyLastSyncTime, at); err != nil {
			b.log.Warn(ctx, "failed to persist last sync time", "error", err)
		}
	}
	b.persistError(ctx, "")
}

func (b *Bus) persistError(ctx context.Context, msg string) {
	if b.settings == nil {
		return
	}
	var err error
	if msg == "" {
		err = b.settings.Delete(ctx, settings.KeyLastError)
	} else {
		err = b.settings.Set(ctx, settings.KeyLastError, []byte(msg))
	}
	if err != nil {
		b.log.Warn(ctx, "failed to persist last sync error", "error", err)
	}
}

// Run refreshes the pending count every interval until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	t := time.NewTicker(b.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := b.Refresh(ctx); err != nil {
				b.log.Warn(ctx, "status refresh failed", "error", err)
			}
		}
	}
}
