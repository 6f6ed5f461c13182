// Package connectivity tracks whether the survey server is reachable.
//
// The Monitor keeps a cached online flag. Coarse transitions come from the
// host's network interfaces (SetNetworkState, Run); Check performs an
// active HEAD /health probe and is the only thing that proves the server is
// actually reachable.
package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/broadcast"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultPollInterval = 10 * time.Second
)

// Prober performs the active reachability check.
type Prober interface {
	Health(ctx context.Context) error
}

// InterfaceSource reports the host's coarse network state.
type InterfaceSource func() bool

// HostOnline reports whether any non-loopback network interface is up.
func HostOnline() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

type Monitor struct {
	prober   Prober
	source   InterfaceSource
	timeout  time.Duration
	interval time.Duration
	log      logging.Logger

	state *broadcast.Broadcaster[bool]
}

type Option func(*Monitor)

func WithInterfaceSource(src InterfaceSource) Option {
	return func(m *Monitor) { m.source = src }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a Monitor whose cached state starts from the interface source.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		source:   HostOnline,
		timeout:  DefaultProbeTimeout,
		interval: DefaultPollInterval,
		log:      logging.Discard(),
	}
	for _, o := range opts {
		o(m)
	}
	m.state = broadcast.New(m.source())
	return m
}

func equal(a, b bool) bool { return a == b }

// Online returns the cached state without any network activity.
func (m *Monitor) Online() bool {
	return m.state.Current()
}

// SetNetworkState records a coarse online/offline transition. Subscribers
// are notified only when the value changes.
func (m *Monitor) SetNetworkState(online bool) {
	if m.state.PublishIfChanged(online, equal) {
		m.log.Info(context.Background(), "network state changed", "online", online)
	}
}

// Check probes the server and updates the cached state. It never returns an
// error: timeouts and failures simply yield false.
func (m *Monitor) Check(ctx context.Context) (online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(ctx, "health probe panicked", "panic", r)
			online = false
		}
		m.SetNetworkState(online)
	}()

	if m.prober == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.prober.Health(ctx); err != nil {
		m.log.Debug(ctx, "health probe failed", "error", err)
		return false
	}
	return true
}

// Subscribe calls fn with the current state right away and on every change.
// The returned function detaches fn and may be called more than once.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return m.state.Subscribe(fn)
}

// Run polls the interface source until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.SetNetworkState(m.source())
		}
	}
}
