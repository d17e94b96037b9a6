package relaypool

import (
	"context"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func newTestPool(relays []string) *Pool {
	return New(Config{
		Relays:         relays,
		Kinds:          []int{24242},
		Lookback:       time.Minute,
		Reconnect:      50 * time.Millisecond,
		ConnectTimeout: 100 * time.Millisecond,
	}, nil)
}

func TestWatchWithoutRelaysIsSilent(t *testing.T) {
	t.Parallel()
	p := newTestPool(nil)
	defer p.Close()

	p.Watch("ab12cd34ef56")
	if p.Connected("ab12cd34ef56") {
		t.Fatalf("no relays configured, nothing can be connected")
	}
	ev := &nostr.Event{Kind: 24242}
	if n := p.Publish(context.Background(), "ab12cd34ef56", ev); n != 0 {
		t.Fatalf("publish with no links wrote to %d relays", n)
	}
}

func TestPublishToUnknownGroupIsNoop(t *testing.T) {
	t.Parallel()
	p := newTestPool(nil)
	defer p.Close()

	if n := p.Publish(context.Background(), "never-watched", &nostr.Event{}); n != 0 {
		t.Fatalf("unexpected fan-out count %d", n)
	}
	if p.Connected("never-watched") {
		t.Fatalf("unknown group reported connected")
	}
}

func TestUnreachableRelayStaysDisconnected(t *testing.T) {
	t.Parallel()
	// Nothing listens on this port; the link must cycle through failed
	// attempts without ever reporting connected.
	p := newTestPool([]string{"ws://127.0.0.1:1"})
	defer p.Close()

	p.Watch("ab12cd34ef56")
	deadline := time.After(400 * time.Millisecond)
	for {
		select {
		case <-deadline:
			return
		case <-time.After(20 * time.Millisecond):
			if p.Connected("ab12cd34ef56") {
				t.Fatalf("link to dead port reported connected")
			}
		}
	}
}

func TestUnwatchStopsLinks(t *testing.T) {
	t.Parallel()
	p := newTestPool([]string{"ws://127.0.0.1:1"})
	defer p.Close()

	p.Watch("ab12cd34ef56")
	p.Unwatch("ab12cd34ef56")
	if p.Connected("ab12cd34ef56") {
		t.Fatalf("unwatched group still tracked")
	}
	// Double unwatch is harmless.
	p.Unwatch("ab12cd34ef56")
}

func TestWatchTwiceIsIdempotent(t *testing.T) {
	t.Parallel()
	p := newTestPool(nil)
	defer p.Close()
	p.Watch("ab12cd34ef56")
	p.Watch("ab12cd34ef56")
	p.Unwatch("ab12cd34ef56")
	if p.Connected("ab12cd34ef56") {
		t.Fatalf("group survived unwatch")
	}
}
