// Package services is the local mutation layer of the survey client.
//
// Every mutation is written through to the on-device store first, so a
// record is never lost because the network was down. When the server is
// believed reachable the remote call is attempted directly; any failure
// silently falls back to the offline path, which leaves the record pending
// and (for villages, sub-villages and houses) queues the remote intent for
// the sync engine.
package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// OnlineChecker exposes the cached connectivity state.
type OnlineChecker interface {
	Online() bool
}

// Admitter reserves storage for an incoming blob.
type Admitter interface {
	Admit(ctx context.Context, incoming int64) error
}

type offline struct{}

func (offline) Online() bool { return false }

type base struct {
	remote  client.Client
	online  OnlineChecker
	now     func() time.Time
	trigger func()
	log     logging.Logger
}

// Option configures a service.
type Option func(*base)

func WithRemote(c client.Client) Option { return func(b *base) { b.remote = c } }

func WithOnlineChecker(o OnlineChecker) Option { return func(b *base) { b.online = o } }

func WithClock(now func() time.Time) Option { return func(b *base) { b.now = now } }

func WithLogger(l logging.Logger) Option { return func(b *base) { b.log = l } }

// WithTrigger sets the function used to ask the sync engine for a pass.
func WithTrigger(fn func()) Option { return func(b *base) { b.trigger = fn } }

func newBase(opts []Option) base {
	b := base{
		online:  offline{},
		now:     time.Now,
		trigger: func() {},
		log:     logging.Discard(),
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) isOnline() bool {
	return b.remote != nil && b.online.Online()
}

// SetTrigger replaces the sync trigger; used when the engine is built after
// the services.
func (b *base) SetTrigger(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	b.trigger = fn
}

func (b *base) kick() {
	if b.online.Online() {
		b.trigger()
	}
}
