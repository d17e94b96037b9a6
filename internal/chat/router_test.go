package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sunmoonron/rinkchat/internal/groupcrypto"
	"github.com/sunmoonron/rinkchat/internal/identity"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

// directEvent builds a pairwise-encrypted DM event from sender to
// recipient inside the given group scope.
func directEvent(t *testing.T, groupID string, sender *identity.Identity, recipientPub, text string) *nostr.Event {
	t.Helper()
	p := wire.Payload{V: wire.PayloadVersion, Name: sender.DisplayName, Text: text, SentMs: 777}
	plain, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ct, err := groupcrypto.EncryptDirect(plain, sender.SecretKey, recipientPub)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ev, err := wire.Build(wire.KindDirect, groupID, ct, sender.SecretKey, nostr.Tag{"p", recipientPub})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return ev
}

func TestDirectMessageToUsOpensThread(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, _ := m.CreateGroup("crew", "")
	peer := newTestIdentity(t, "SwiftFox41")

	ev := directEvent(t, gid, peer, m.id.PublicKey, "meet at the back rink?")
	deliver(m, ev, gid)

	threads := m.Threads()
	if len(threads) != 1 {
		t.Fatalf("want one thread, got %d", len(threads))
	}
	th := threads[0]
	if th.PeerPubKey != peer.PublicKey || th.PeerName != "SwiftFox41" {
		t.Fatalf("thread misattributed: %+v", th)
	}
	if th.Unread != 1 {
		t.Fatalf("unread = %d, want 1", th.Unread)
	}
	msgs := m.ThreadMessages(peer.PublicKey)
	if len(msgs) != 1 || msgs[0].Text != "meet at the back rink?" || msgs[0].IsMine {
		t.Fatalf("bad thread messages: %+v", msgs)
	}
}

func TestDirectMessageBetweenOthersDropped(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, _ := m.CreateGroup("crew", "")
	a := newTestIdentity(t, "PolarLoon33")
	b := newTestIdentity(t, "QuietHawk19")

	ev := directEvent(t, gid, a, b.PublicKey, "not for us")
	deliver(m, ev, gid)

	if got := m.Threads(); len(got) != 0 {
		t.Fatalf("bystander stored someone else's DM: %+v", got)
	}
}

func TestDirectMessageEchoLandsInPeerThread(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, _ := m.CreateGroup("crew", "")
	peer := newTestIdentity(t, "SwiftFox41")

	// A relay replays our own send; we authored it, so the thread key
	// is the recipient, the message is ours, and nothing is unread.
	me := &identity.Identity{
		PublicKey:   m.id.PublicKey,
		SecretKey:   m.id.SecretKey,
		DisplayName: m.id.DisplayName,
	}
	ev := directEvent(t, gid, me, peer.PublicKey, "on my way")
	deliver(m, ev, gid)

	msgs := m.ThreadMessages(peer.PublicKey)
	if len(msgs) != 1 || !msgs[0].IsMine {
		t.Fatalf("echo not threaded under peer: %+v", msgs)
	}
	for _, th := range m.Threads() {
		if th.Unread != 0 {
			t.Fatalf("own echo raised unread: %+v", th)
		}
	}
}

func TestSendDirectValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	if _, _, err := m.CreateGroup("crew", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	peer := newTestIdentity(t, "SwiftFox41")

	if err := m.SendDirect("not-a-key", "x", "hi"); !errors.Is(err, ErrInvalidPeer) {
		t.Fatalf("bad peer key: %v", err)
	}
	if err := m.SendDirect(peer.PublicKey, "SwiftFox41", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank text: %v", err)
	}
	if err := m.SendDirect(peer.PublicKey, "SwiftFox41", "see you there"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := m.ThreadMessages(peer.PublicKey)
	if len(msgs) != 1 || !msgs[0].IsMine || msgs[0].Text != "see you there" {
		t.Fatalf("optimistic DM apply missing: %+v", msgs)
	}
}

func TestOpenDMClearsUnread(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, _ := m.CreateGroup("crew", "")
	peer := newTestIdentity(t, "SwiftFox41")

	deliver(m, directEvent(t, gid, peer, m.id.PublicKey, "ping"), gid)
	m.OpenDM(peer.PublicKey)
	for _, th := range m.Threads() {
		if th.PeerPubKey == peer.PublicKey && th.Unread != 0 {
			t.Fatalf("OpenDM did not clear unread")
		}
	}
}

func TestRedeliveryUnderForgedIDDropped(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, err := m.JoinPublicRoom("lobby")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	secret := m.groups[gid].Secret
	peer := newTestIdentity(t, "SwiftFox41")

	ev := remoteEvent(t, wire.KindChat, gid, secret, peer.SecretKey,
		wire.Payload{Name: "SwiftFox41", Text: "same puck, new wrapper", SentMs: 500})
	deliver(m, ev, gid)

	// A relay replays the captured event under fresh ids. The signature
	// still covers the canonical serialization; only the claimed id,
	// which dedupe keys on, has changed.
	for _, id := range []string{strings.Repeat("d", 64), strings.Repeat("e", 64)} {
		replay := *ev
		replay.ID = id
		deliver(m, &replay, gid)
	}

	chats := 0
	for _, msg := range m.GroupMessages(gid) {
		if msg.Kind == MsgChat {
			chats++
		}
	}
	if chats != 1 {
		t.Fatalf("forged-id replay stored %d copies, want 1", chats)
	}
}

func TestVoteRedeliveryUnderForgedIDDoesNotToggle(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, Config{})
	gid, _, err := m.JoinPublicRoom("schedule")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	secret := m.groups[gid].Secret
	peer := newTestIdentity(t, "SwiftFox41")

	ev := remoteEvent(t, wire.KindVote, gid, secret, peer.SecretKey,
		wire.Payload{Name: "SwiftFox41", Option: 2, SentMs: 500})
	deliver(m, ev, gid)

	replay := *ev
	replay.ID = strings.Repeat("a", 64)
	deliver(m, &replay, gid)

	votes := m.Votes(gid)
	if got := votes[2]; len(got) != 1 || got[0] != "SwiftFox41" {
		t.Fatalf("replay flipped the tally: %+v", votes)
	}
}

func TestSeenWindowEvictsOldest(t *testing.T) {
	t.Parallel()
	w := newSeenWindow(3)
	for i := 0; i < 3; i++ {
		w.Add(fmt.Sprintf("id-%d", i))
	}
	if !w.Has("id-0") {
		t.Fatalf("id-0 missing before eviction")
	}
	w.Add("id-3")
	if w.Has("id-0") {
		t.Fatalf("oldest id not evicted")
	}
	if !w.Has("id-1") || !w.Has("id-3") {
		t.Fatalf("window lost live ids: %v", w.IDs())
	}
	// Re-adding an id already present neither grows nor reorders.
	w.Add("id-3")
	if got := len(w.IDs()); got != 3 {
		t.Fatalf("window size %d, want 3", got)
	}
}
