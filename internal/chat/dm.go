package chat

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sunmoonron/rinkchat/internal/groupcrypto"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

// SendDirect encrypts a message for one peer with the pairwise key and
// publishes it into the group context the peer was discovered in. The
// "p" tag routes it; the group tag only scopes the subscription.
func (m *Manager) SendDirect(peerPubKey, peerName, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !nostr.IsValidPublicKey(peerPubKey) {
		return ErrInvalidPeer
	}
	text, err := m.validateText(text)
	if err != nil {
		return err
	}

	th := m.threadLocked(peerPubKey, m.active)
	if th.GroupID == "" {
		th.GroupID = m.active
	}
	if th.PeerName == "" && strings.TrimSpace(peerName) != "" {
		th.PeerName = strings.TrimSpace(peerName)
	}
	gid := th.GroupID
	if _, ok := m.groups[gid]; !ok {
		return ErrUnknownGroup
	}

	p := wire.Payload{
		V:      wire.PayloadVersion,
		Name:   m.id.DisplayName,
		Text:   text,
		SentMs: nowMs(),
	}
	plain, err := p.Encode()
	if err != nil {
		return err
	}
	ct, err := groupcrypto.EncryptDirect(plain, m.id.SecretKey, peerPubKey)
	if err != nil {
		return err
	}
	ev, err := wire.Build(wire.KindDirect, gid, ct, m.id.SecretKey, nostr.Tag{"p", peerPubKey})
	if err != nil {
		return err
	}
	if g, ok := m.groups[gid]; ok {
		g.seen.Add(ev.ID)
	}
	m.publishAsync(gid, ev)

	th.Messages = insertBounded(th.Messages, Message{
		ID: ev.ID, Kind: MsgChat, Text: text,
		SenderName: m.id.DisplayName, SenderPubKey: m.id.PublicKey,
		TimestampMs: p.SentMs, IsMine: true,
	}, m.cfg.MaxMessages)
	m.saveStateLocked()
	return nil
}

// OpenDM focuses a thread and clears its unread counter. An empty key
// closes the focus.
func (m *Manager) OpenDM(peerPubKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeDM = peerPubKey
	if th, ok := m.dms[peerPubKey]; ok {
		th.Unread = 0
	}
	m.saveStateLocked()
}
