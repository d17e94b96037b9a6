// Package chat is the synchronization engine: group registry, event
// router, direct messages, presence, and local persistence, all owned
// by a single Manager constructed at startup. Relays only ever see
// ciphertext; every accepted inbound event funnels through one router
// goroutine before any state changes.
package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/identity"
	"github.com/sunmoonron/rinkchat/internal/relaypool"
	"github.com/sunmoonron/rinkchat/internal/wire"
	"github.com/sunmoonron/rinkchat/internal/wordfilter"
)

type Manager struct {
	mu  sync.RWMutex
	cfg Config
	log *zap.Logger

	id     *identity.Identity
	filter *wordfilter.Filter
	pool   *relaypool.Pool

	groups   map[string]*Group
	dms      map[string]*DMThread // keyed by peer pubkey
	active   string               // active group id, "" = none
	activeDM string               // open DM peer pubkey, "" = none

	listeners      map[int]chan string
	nextListenerID int

	presence map[string]context.CancelFunc
	cancel   context.CancelFunc
}

func NewManager(cfg Config, id *identity.Identity, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}
	m := &Manager{
		cfg:       cfg,
		log:       log,
		id:        id,
		filter:    wordfilter.New(),
		groups:    map[string]*Group{},
		dms:       map[string]*DMThread{},
		listeners: map[int]chan string{},
		presence:  map[string]context.CancelFunc{},
	}
	m.pool = relaypool.New(relaypool.Config{
		Relays:    cfg.Relays,
		Kinds:     wire.Kinds(),
		Lookback:  cfg.Lookback,
		Reconnect: cfg.Reconnect,
	}, log.Named("relaypool"))

	if err := m.loadState(); err != nil && !os.IsNotExist(err) {
		log.Warn("state not restored", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.runRouter(ctx)

	m.mu.Lock()
	for gid := range m.groups {
		m.pool.Watch(gid)
		m.startPresenceLocked(gid)
	}
	m.mu.Unlock()
	return m, nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	for gid, stop := range m.presence {
		stop()
		delete(m.presence, gid)
	}
	m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.pool.Close()
}

// SubscribeEvents registers a state-change listener. Every mutation
// publishes a tag on the channel; slow consumers drop notifications
// rather than block the router.
func (m *Manager) SubscribeEvents() (<-chan string, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListenerID
	m.nextListenerID++
	ch := make(chan string, 64)
	m.listeners[id] = ch
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.listeners[id]; ok {
			delete(m.listeners, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Manager) emitLocked(event string) {
	for _, ch := range m.listeners {
		select {
		case ch <- event:
		default:
		}
	}
}

// Clean masks listed words for display. Storage is never rewritten;
// moderation policy can change without touching history.
func (m *Manager) Clean(text string) string { return m.filter.Clean(text) }

func (m *Manager) Identity() identity.Identity { return *m.id }

// ───────────────────────── views ─────────────────────────

func (m *Manager) Groups() []GroupSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GroupSummary, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, GroupSummary{
			ID:          g.ID,
			DisplayName: g.DisplayName,
			Public:      g.Public,
			Unread:      g.Unread,
			Connected:   m.pool.Connected(g.ID),
			Members:     len(g.Members),
			Active:      g.ID == m.active,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Public != out[j].Public {
			return !out[i].Public
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

func (m *Manager) ActiveGroupID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Manager) GroupMessages(groupID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	return append([]Message(nil), g.Messages...)
}

// Votes returns the tally as sorted voter names per option.
func (m *Manager) Votes(groupID string) map[int][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	out := map[int][]string{}
	for opt, voters := range g.Votes {
		names := make([]string, 0, len(voters))
		for name, on := range voters {
			if on {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		out[opt] = names
	}
	return out
}

func (m *Manager) Members(groupID string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	cp := make(map[string]string, len(g.Members))
	for k, v := range g.Members {
		cp[k] = v
	}
	return cp
}

func (m *Manager) Threads() []ThreadSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ThreadSummary, 0, len(m.dms))
	for _, th := range m.dms {
		out = append(out, ThreadSummary{
			PeerPubKey: th.PeerPubKey,
			PeerName:   th.PeerName,
			GroupID:    th.GroupID,
			Unread:     th.Unread,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerName < out[j].PeerName })
	return out
}

func (m *Manager) ThreadMessages(peerPubKey string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	th, ok := m.dms[peerPubKey]
	if !ok {
		return nil
	}
	return append([]Message(nil), th.Messages...)
}

// Snapshot is the whole-state view served to the UI layer.
func (m *Manager) Snapshot() map[string]any {
	groups := m.Groups()
	threads := m.Threads()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"identity": map[string]string{
			"public_key":   m.id.PublicKey,
			"display_name": m.id.DisplayName,
		},
		"active":    m.active,
		"active_dm": m.activeDM,
		"groups":    groups,
		"threads":   threads,
	}
}

// ───────────────────────── persistence ─────────────────────────

type persistedState struct {
	Groups   map[string]*persistedGroup `json:"groups"`
	DMs      map[string]*DMThread       `json:"dms"`
	Active   string                     `json:"active"`
	ActiveDM string                     `json:"active_dm"`
}

type persistedGroup struct {
	Group
	SeenIDs []string `json:"seen_ids"`
}

func (m *Manager) stateFile() string { return filepath.Join(m.cfg.DataDir, "state.json") }

func (m *Manager) loadState() error {
	if m.cfg.DataDir == "" {
		return nil
	}
	b, err := os.ReadFile(m.stateFile())
	if err != nil {
		return err
	}
	var ps persistedState
	if err := json.Unmarshal(b, &ps); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for gid, pg := range ps.Groups {
		g := pg.Group
		if g.Members == nil {
			g.Members = map[string]string{}
		}
		if g.Votes == nil {
			g.Votes = map[int]map[string]bool{}
		}
		if g.LastSeenMs == nil {
			g.LastSeenMs = map[string]int64{}
		}
		g.seen = newSeenWindow(m.cfg.DedupeWindow)
		for _, id := range pg.SeenIDs {
			g.seen.Add(id)
		}
		m.groups[gid] = &g
	}
	if ps.DMs != nil {
		m.dms = ps.DMs
	}
	m.active = ps.Active
	m.activeDM = ps.ActiveDM
	return nil
}

// saveStateLocked persists the whole record and notifies listeners.
// A write failure is logged, never surfaced: in-memory state stays
// authoritative for the session.
func (m *Manager) saveStateLocked() {
	defer m.emitLocked("state")
	if m.cfg.DataDir == "" {
		return
	}
	ps := persistedState{
		Groups:   map[string]*persistedGroup{},
		DMs:      m.dms,
		Active:   m.active,
		ActiveDM: m.activeDM,
	}
	for gid, g := range m.groups {
		ps.Groups[gid] = &persistedGroup{Group: *g, SeenIDs: g.seen.IDs()}
	}
	b, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		m.log.Warn("state not serialized", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.stateFile(), b, 0o600); err != nil {
		m.log.Warn("state not persisted", zap.Error(err))
	}
}
