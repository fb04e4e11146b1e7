package manager

import (
	"context"

	"github.com/jellydator/ttlcache/v3"
)

// touchIdle (re)starts the idle countdown for a model.
func (m *Manager) touchIdle(modelID string) {
	if m.idle == nil {
		return
	}
	m.idle.Set(modelID, struct{}{}, ttlcache.DefaultTTL)
}

// pauseIdle stops the countdown while a request holds the model.
func (m *Manager) pauseIdle(modelID string) {
	if m.idle == nil {
		return
	}
	m.idle.Delete(modelID)
}

// onIdleExpired runs under the cache's lock, so the work is handed off.
func (m *Manager) onIdleExpired(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
	if reason != ttlcache.EvictionReasonExpired {
		return
	}
	go m.expireIdle(item.Key())
}

func (m *Manager) expireIdle(id string) {
	m.mu.RLock()
	inst := m.instances[id]
	m.mu.RUnlock()
	if inst == nil {
		return
	}
	if inst.busy() {
		// a request is queued but has not paused the timer yet
		m.touchIdle(id)
		return
	}
	logger.Info().Str("event", "idle_unload").Str("model", id).Dur("idle", m.idleTTL).Msg("unloading idle model")
	if err := m.unload(id, "idle"); err != nil {
		logger.Warn().Err(err).Str("model", id).Msg("idle unload failed")
		return
	}
	m.idleUnloadsTotal.Add(1)
}
