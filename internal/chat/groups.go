package chat

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/groupcrypto"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

func nowMs() int64 { return time.Now().UnixMilli() }

func (m *Manager) privateCountLocked() int {
	n := 0
	for _, g := range m.groups {
		if !g.Public {
			n++
		}
	}
	return n
}

func (m *Manager) newGroupLocked(id, secret, name string, passworded, public bool) *Group {
	g := &Group{
		ID:                id,
		Secret:            secret,
		DisplayName:       name,
		PasswordProtected: passworded,
		Public:            public,
		Members:           map[string]string{m.id.DisplayName: m.id.PublicKey},
		Votes:             map[int]map[string]bool{},
		LastSeenMs:        map[string]int64{m.id.DisplayName: nowMs()},
		seen:              newSeenWindow(m.cfg.DedupeWindow),
	}
	m.groups[id] = g
	return g
}

// CreateGroup starts a fresh group. With a password the secret is the
// password's hash, so the group is re-derivable; otherwise random.
func (m *Manager) CreateGroup(name, password string) (groupID, shareURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" || m.filter.Check(name) {
		return "", "", ErrInvalidName
	}
	secret, err := groupcrypto.DeriveGroupSecret(password)
	if err != nil {
		return "", "", err
	}
	id := groupcrypto.DeriveGroupID(secret)
	if _, exists := m.groups[id]; exists {
		m.setActiveLocked(id)
		m.saveStateLocked()
		return id, wire.ShareURL(m.cfg.BaseURL, secret, password != ""), nil
	}
	if m.privateCountLocked() >= m.cfg.MaxGroups {
		return "", "", ErrCapacity
	}
	g := m.newGroupLocked(id, secret, name, password != "", false)
	m.setActiveLocked(id)
	m.pool.Watch(id)
	m.startPresenceLocked(id)
	m.announceLocked(g, wire.KindJoin)
	m.saveStateLocked()
	return id, wire.ShareURL(m.cfg.BaseURL, secret, password != ""), nil
}

// JoinGroup joins via a shared secret or passphrase. Inputs that are
// not already canonical 64-hex secrets are hashed; a password takes
// precedence over the secret argument.
func (m *Manager) JoinGroup(secretOrPassphrase, password, displayName string) (groupID string, alreadyJoined bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var secret string
	if password != "" {
		secret, err = groupcrypto.DeriveGroupSecret(password)
		if err != nil {
			return "", false, err
		}
	} else {
		if strings.TrimSpace(secretOrPassphrase) == "" {
			return "", false, ErrInvalidName
		}
		secret = groupcrypto.NormalizeSecret(strings.TrimSpace(secretOrPassphrase))
	}
	id := groupcrypto.DeriveGroupID(secret)
	if _, exists := m.groups[id]; exists {
		m.setActiveLocked(id)
		m.saveStateLocked()
		return id, true, nil
	}
	if m.privateCountLocked() >= m.cfg.MaxGroups {
		return "", false, ErrCapacity
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "group-" + id[:6]
	} else if m.filter.Check(name) {
		return "", false, ErrInvalidName
	}
	g := m.newGroupLocked(id, secret, name, password != "", false)
	m.setActiveLocked(id)
	m.pool.Watch(id)
	m.startPresenceLocked(id)
	m.announceLocked(g, wire.KindJoin)
	m.saveStateLocked()
	return id, false, nil
}

// JoinPublicRoom joins a well-known community room. Rooms are exempt
// from the private group cap and never announce joins, so they stay
// low-noise.
func (m *Manager) JoinPublicRoom(roomKey string) (groupID string, alreadyJoined bool, err error) {
	room, ok := publicRooms[roomKey]
	if !ok {
		return "", false, ErrUnknownRoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	secret := groupcrypto.NormalizeSecret(room.Passphrase)
	id := groupcrypto.DeriveGroupID(secret)
	if _, exists := m.groups[id]; exists {
		m.setActiveLocked(id)
		m.saveStateLocked()
		return id, true, nil
	}
	m.newGroupLocked(id, secret, room.Name, false, true)
	m.setActiveLocked(id)
	m.pool.Watch(id)
	m.startPresenceLocked(id)
	m.saveStateLocked()
	return id, false, nil
}

// LeaveGroup announces the departure (private groups only), tears the
// transport down, and deletes local state. Nothing can be deleted
// remotely on a broadcast network.
func (m *Manager) LeaveGroup(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return ErrUnknownGroup
	}
	if !g.Public {
		m.announceLocked(g, wire.KindLeave)
	}
	m.stopPresenceLocked(groupID)
	m.pool.Unwatch(groupID)
	delete(m.groups, groupID)
	if m.active == groupID {
		m.active = m.pickActiveLocked()
	}
	m.saveStateLocked()
	return nil
}

// pickActiveLocked prefers a private group over a public room.
func (m *Manager) pickActiveLocked() string {
	best := ""
	for id, g := range m.groups {
		if !g.Public {
			return id
		}
		best = id
	}
	return best
}

func (m *Manager) setActiveLocked(groupID string) {
	m.active = groupID
	if g, ok := m.groups[groupID]; ok {
		g.Unread = 0
	}
}

// SwitchGroup changes focus and clears the group's unread counter.
func (m *Manager) SwitchGroup(groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrUnknownGroup
	}
	m.setActiveLocked(groupID)
	m.saveStateLocked()
	return nil
}

func (m *Manager) validateText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > m.cfg.MaxMessageLen {
		return "", ErrTooLong
	}
	if m.filter.Check(text) {
		return "", ErrProfane
	}
	return text, nil
}

// SendMessage broadcasts a chat message to the active group and
// applies it locally before any relay confirms — send-and-locally-
// apply, not send-and-wait.
func (m *Manager) SendMessage(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[m.active]
	if !ok {
		return ErrNoActive
	}
	text, err := m.validateText(text)
	if err != nil {
		return err
	}
	ev, err := m.publishGroupLocked(g, wire.KindChat, wire.Payload{Text: text})
	if err != nil {
		return err
	}
	m.insertMessageLocked(g, Message{
		ID:           ev.ID,
		Kind:         MsgChat,
		Text:         text,
		SenderName:   m.id.DisplayName,
		SenderPubKey: m.id.PublicKey,
		TimestampMs:  nowMs(),
		IsMine:       true,
	})
	m.saveStateLocked()
	return nil
}

// ShareProgram broadcasts a structured schedule entry.
func (m *Manager) ShareProgram(prog wire.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[m.active]
	if !ok {
		return ErrNoActive
	}
	if strings.TrimSpace(prog.Title) == "" {
		return ErrEmptyMessage
	}
	ev, err := m.publishGroupLocked(g, wire.KindShare, wire.Payload{Prog: &prog})
	if err != nil {
		return err
	}
	m.insertMessageLocked(g, Message{
		ID:           ev.ID,
		Kind:         MsgShare,
		Text:         prog.Title,
		SenderName:   m.id.DisplayName,
		SenderPubKey: m.id.PublicKey,
		TimestampMs:  nowMs(),
		IsMine:       true,
		Program:      &prog,
	})
	m.saveStateLocked()
	return nil
}

// VoteTime toggles our vote for a time option, optimistically flipping
// the local tally before the round trip confirms it.
func (m *Manager) VoteTime(option int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[m.active]
	if !ok {
		return ErrNoActive
	}
	if option < 0 {
		return ErrEmptyMessage
	}
	if _, err := m.publishGroupLocked(g, wire.KindVote, wire.Payload{Option: option}); err != nil {
		return err
	}
	toggleVote(g, option, m.id.DisplayName)
	m.saveStateLocked()
	return nil
}

// publishGroupLocked seals the payload, signs the envelope, marks our
// own event id as seen (so the relay echo is a no-op), and fans out in
// the background. Best-effort: zero reachable relays is not an error.
func (m *Manager) publishGroupLocked(g *Group, kind int, p wire.Payload) (*nostr.Event, error) {
	p.V = wire.PayloadVersion
	p.Name = m.id.DisplayName
	if p.SentMs == 0 {
		p.SentMs = nowMs()
	}
	plain, err := p.Encode()
	if err != nil {
		return nil, err
	}
	ct, err := groupcrypto.EncryptGroup(plain, g.Secret)
	if err != nil {
		return nil, err
	}
	ev, err := wire.Build(kind, g.ID, ct, m.id.SecretKey)
	if err != nil {
		return nil, err
	}
	g.seen.Add(ev.ID)
	m.publishAsync(g.ID, ev)
	return ev, nil
}

func (m *Manager) publishAsync(groupID string, ev *nostr.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Zero relays reached is expected steady-state when offline.
		n := m.pool.Publish(ctx, groupID, ev)
		m.log.Debug("event fan-out", zap.String("group", groupID), zap.Int("relays", n))
	}()
}

// announceLocked broadcasts a join/leave system event. Only a join
// gets a local notice: the leave announcement goes out just before the
// group record is discarded, so there is nowhere left to render one.
func (m *Manager) announceLocked(g *Group, kind int) {
	ev, err := m.publishGroupLocked(g, kind, wire.Payload{})
	if err != nil {
		m.log.Warn("announce failed", zap.Error(err))
		return
	}
	if kind != wire.KindJoin {
		return
	}
	m.insertMessageLocked(g, Message{
		ID:           ev.ID,
		Kind:         MsgSystem,
		Text:         m.id.DisplayName + " joined",
		SenderName:   m.id.DisplayName,
		SenderPubKey: m.id.PublicKey,
		TimestampMs:  nowMs(),
		IsMine:       true,
	})
}

// insertMessageLocked inserts, re-sorts by claimed timestamp, and
// evicts oldest-first past the retention cap. Receipt order is
// irrelevant: relays deliver out of order and from backfill.
func (m *Manager) insertMessageLocked(g *Group, msg Message) {
	g.Messages = insertBounded(g.Messages, msg, m.cfg.MaxMessages)
}

func insertBounded(msgs []Message, msg Message, max int) []Message {
	msgs = append(msgs, msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].TimestampMs != msgs[j].TimestampMs {
			return msgs[i].TimestampMs < msgs[j].TimestampMs
		}
		return msgs[i].ID < msgs[j].ID
	})
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs
}

func toggleVote(g *Group, option int, voter string) {
	set := g.Votes[option]
	if set == nil {
		set = map[string]bool{}
		g.Votes[option] = set
	}
	if set[voter] {
		delete(set, voter)
	} else {
		set[voter] = true
	}
}

func (m *Manager) touchMemberLocked(g *Group, name, pubkey string) {
	if name == "" {
		return
	}
	g.Members[name] = pubkey
}
