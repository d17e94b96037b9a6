package chat

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sunmoonron/rinkchat/internal/groupcrypto"
	"github.com/sunmoonron/rinkchat/internal/relaypool"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

// runRouter is the single consumer of the relay funnel. One event at a
// time; no other goroutine mutates group state.
func (m *Manager) runRouter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-m.pool.Events():
			m.handleInbound(in)
		}
	}
}

// handleInbound runs the pipeline: dedupe, verify, decrypt, parse,
// dispatch, persist, notify. Most failures are steady-state noise on a
// shared broadcast network — other groups' ciphertext, replays,
// hostile junk — so everything short of dispatch drops silently.
func (m *Manager) handleInbound(in relaypool.Inbound) {
	ev := in.Event
	if ev == nil || ev.ID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stale delivery for a group we already left is a no-op.
	g, ok := m.groups[in.GroupID]
	if !ok || wire.GroupTag(ev) != g.ID {
		return
	}
	if g.seen.Has(ev.ID) {
		return
	}
	if !wire.Verify(ev) {
		return
	}

	if ev.Kind == wire.KindDirect {
		m.handleDirectLocked(g, ev)
		return
	}

	plain, err := groupcrypto.DecryptGroup(ev.Content, g.Secret)
	if err != nil {
		return
	}
	p, err := wire.Decode(ev.Kind, plain)
	if err != nil {
		return
	}
	g.seen.Add(ev.ID)

	ts := int64(ev.CreatedAt) * 1000
	if p.SentMs > 0 {
		ts = p.SentMs
	}
	mine := ev.PubKey == m.id.PublicKey

	switch ev.Kind {
	case wire.KindChat:
		m.touchMemberLocked(g, p.Name, ev.PubKey)
		m.insertMessageLocked(g, Message{
			ID: ev.ID, Kind: MsgChat, Text: p.Text,
			SenderName: p.Name, SenderPubKey: ev.PubKey,
			TimestampMs: ts, IsMine: mine,
		})
		if !mine && m.active != g.ID {
			g.Unread++
		}
	case wire.KindVote:
		m.touchMemberLocked(g, p.Name, ev.PubKey)
		toggleVote(g, p.Option, p.Name)
	case wire.KindShare:
		m.touchMemberLocked(g, p.Name, ev.PubKey)
		m.insertMessageLocked(g, Message{
			ID: ev.ID, Kind: MsgShare, Text: p.Prog.Title,
			SenderName: p.Name, SenderPubKey: ev.PubKey,
			TimestampMs: ts, IsMine: mine, Program: p.Prog,
		})
		if !mine && m.active != g.ID {
			g.Unread++
		}
	case wire.KindPresence:
		m.touchMemberLocked(g, p.Name, ev.PubKey)
		g.LastSeenMs[p.Name] = ts
	case wire.KindJoin:
		m.touchMemberLocked(g, p.Name, ev.PubKey)
		if !mine {
			m.insertMessageLocked(g, Message{
				ID: ev.ID, Kind: MsgSystem, Text: p.Name + " joined",
				SenderName: p.Name, SenderPubKey: ev.PubKey, TimestampMs: ts,
			})
		}
	case wire.KindLeave:
		delete(g.Members, p.Name)
		delete(g.LastSeenMs, p.Name)
		if !mine {
			m.insertMessageLocked(g, Message{
				ID: ev.ID, Kind: MsgSystem, Text: p.Name + " left",
				SenderName: p.Name, SenderPubKey: ev.PubKey, TimestampMs: ts,
			})
		}
	default:
		return
	}
	m.saveStateLocked()
}

// handleDirectLocked processes a direct-message event found on a group
// subscription. Only events we sent or that address us mutate state;
// everything else drops with no trace.
func (m *Manager) handleDirectLocked(g *Group, ev *nostr.Event) {
	recipient := wire.RecipientTag(ev)
	if recipient == "" {
		return
	}
	me := m.id.PublicKey
	var peer string
	switch {
	case ev.PubKey == me:
		peer = recipient // echo of our own send
	case recipient == me:
		peer = ev.PubKey
	default:
		return
	}
	plain, err := groupcrypto.DecryptDirect(ev.Content, m.id.SecretKey, peer)
	if err != nil {
		return
	}
	p, err := wire.Decode(wire.KindDirect, plain)
	if err != nil {
		return
	}
	g.seen.Add(ev.ID)

	th := m.threadLocked(peer, g.ID)
	if ev.PubKey == peer && p.Name != "" {
		th.PeerName = p.Name
	}
	ts := int64(ev.CreatedAt) * 1000
	if p.SentMs > 0 {
		ts = p.SentMs
	}
	mine := ev.PubKey == me
	th.Messages = insertBounded(th.Messages, Message{
		ID: ev.ID, Kind: MsgChat, Text: p.Text,
		SenderName: p.Name, SenderPubKey: ev.PubKey,
		TimestampMs: ts, IsMine: mine,
	}, m.cfg.MaxMessages)
	if !mine && m.activeDM != peer {
		th.Unread++
	}
	m.saveStateLocked()
}

func (m *Manager) threadLocked(peerPubKey, groupID string) *DMThread {
	th, ok := m.dms[peerPubKey]
	if !ok {
		th = &DMThread{PeerPubKey: peerPubKey, GroupID: groupID}
		m.dms[peerPubKey] = th
	}
	return th
}
