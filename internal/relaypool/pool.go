// Package relaypool maintains one subscription per (group, relay)
// pair against a set of public relays. Relays are untrusted and
// unreliable: any subset may be down, and a publish is best-effort
// fan-out with no acknowledgment. Every link runs its own
// connect/subscribe/reconnect loop and funnels events into a single
// channel for the router.
package relaypool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Inbound is one event received on a group subscription.
type Inbound struct {
	GroupID string
	Relay   string
	Event   *nostr.Event
}

type Config struct {
	Relays         []string
	Kinds          []int
	Lookback       time.Duration // subscription since-window on (re)connect
	Reconnect      time.Duration // fixed delay between attempts
	ConnectTimeout time.Duration
}

type Pool struct {
	cfg    Config
	log    *zap.Logger
	events chan Inbound
	groups *xsync.MapOf[string, *groupWatch]
	closed atomic.Bool
	wg     sync.WaitGroup
}

type groupWatch struct {
	cancel context.CancelFunc
	links  *xsync.MapOf[string, *link]
}

type link struct {
	mu    sync.Mutex
	state State
	relay *nostr.Relay
}

func (l *link) set(st State, r *nostr.Relay) {
	l.mu.Lock()
	l.state = st
	l.relay = r
	l.mu.Unlock()
}

func (l *link) snapshot() (State, *nostr.Relay) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.relay
}

func New(cfg Config, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	return &Pool{
		cfg:    cfg,
		log:    log,
		events: make(chan Inbound, 256),
		groups: xsync.NewMapOf[*groupWatch](),
	}
}

// Events is the single funnel the router consumes. Processing is one
// event at a time by construction.
func (p *Pool) Events() <-chan Inbound { return p.events }

// Watch starts one link per configured relay for the group. Calling it
// again for the same group is a no-op.
func (p *Pool) Watch(groupID string) {
	if p.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	gw := &groupWatch{cancel: cancel, links: xsync.NewMapOf[*link]()}
	if _, loaded := p.groups.LoadOrStore(groupID, gw); loaded {
		cancel()
		return
	}
	for _, url := range p.cfg.Relays {
		l := &link{}
		gw.links.Store(url, l)
		p.wg.Add(1)
		go p.run(ctx, groupID, url, l)
	}
}

// Unwatch tears down every link for the group.
func (p *Pool) Unwatch(groupID string) {
	if gw, ok := p.groups.LoadAndDelete(groupID); ok {
		gw.cancel()
	}
}

// Connected reports whether at least one relay link for the group is
// up. Drives the status indicator, nothing else.
func (p *Pool) Connected(groupID string) bool {
	gw, ok := p.groups.Load(groupID)
	if !ok {
		return false
	}
	any := false
	gw.links.Range(func(_ string, l *link) bool {
		if st, _ := l.snapshot(); st == StateConnected {
			any = true
			return false
		}
		return true
	})
	return any
}

// Publish fans the signed event out to every open link for the group
// and returns how many relays accepted the write. Zero is not an
// error: the caller has already applied the event locally.
func (p *Pool) Publish(ctx context.Context, groupID string, ev *nostr.Event) int {
	gw, ok := p.groups.Load(groupID)
	if !ok {
		return 0
	}
	n := 0
	gw.links.Range(func(url string, l *link) bool {
		st, relay := l.snapshot()
		if st != StateConnected || relay == nil {
			return true
		}
		if err := relay.Publish(ctx, *ev); err != nil {
			p.log.Debug("publish failed", zap.String("relay", url), zap.Error(err))
			return true
		}
		n++
		return true
	})
	return n
}

func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.groups.Range(func(id string, gw *groupWatch) bool {
		gw.cancel()
		p.groups.Delete(id)
		return true
	})
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, groupID, url string, l *link) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			l.set(StateDisconnected, nil)
			return
		}
		l.set(StateConnecting, nil)
		connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		relay, err := nostr.RelayConnect(connectCtx, url)
		cancel()
		if err != nil {
			l.set(StateDisconnected, nil)
			p.log.Debug("relay connect failed",
				zap.String("relay", url), zap.String("group", groupID), zap.Error(err))
			if !sleepCtx(ctx, p.cfg.Reconnect) {
				return
			}
			continue
		}

		since := nostr.Timestamp(time.Now().Add(-p.cfg.Lookback).Unix())
		sub, err := relay.Subscribe(ctx, nostr.Filters{{
			Kinds: p.cfg.Kinds,
			Tags:  nostr.TagMap{"g": []string{groupID}},
			Since: &since,
		}})
		if err != nil {
			relay.Close()
			l.set(StateDisconnected, nil)
			p.log.Debug("subscribe failed", zap.String("relay", url), zap.Error(err))
			if !sleepCtx(ctx, p.cfg.Reconnect) {
				return
			}
			continue
		}
		l.set(StateConnected, relay)
		p.log.Info("relay link up", zap.String("relay", url), zap.String("group", groupID))

		p.pump(ctx, groupID, url, sub)

		sub.Unsub()
		relay.Close()
		l.set(StateDisconnected, nil)
		p.log.Info("relay link down", zap.String("relay", url), zap.String("group", groupID))
		if !sleepCtx(ctx, p.cfg.Reconnect) {
			return
		}
	}
}

func (p *Pool) pump(ctx context.Context, groupID, url string, sub *nostr.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev == nil {
				continue
			}
			select {
			case p.events <- Inbound{GroupID: groupID, Relay: url, Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
