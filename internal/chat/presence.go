package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sunmoonron/rinkchat/internal/wire"
)

// startPresenceLocked begins the liveness broadcast for a group: one
// immediate ping, then one per interval until the group is left.
func (m *Manager) startPresenceLocked(groupID string) {
	if _, running := m.presence[groupID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.presence[groupID] = cancel
	go m.presenceLoop(ctx, groupID)
}

func (m *Manager) stopPresenceLocked(groupID string) {
	if cancel, ok := m.presence[groupID]; ok {
		cancel()
		delete(m.presence, groupID)
	}
}

func (m *Manager) presenceLoop(ctx context.Context, groupID string) {
	m.broadcastPresence(groupID)
	ticker := time.NewTicker(m.cfg.PresenceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcastPresence(groupID)
		}
	}
}

func (m *Manager) broadcastPresence(groupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return
	}
	if _, err := m.publishGroupLocked(g, wire.KindPresence, wire.Payload{}); err != nil {
		m.log.Debug("presence not sent", zap.String("group", groupID), zap.Error(err))
		return
	}
	g.LastSeenMs[m.id.DisplayName] = nowMs()
}
