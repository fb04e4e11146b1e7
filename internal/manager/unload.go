package manager

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Unload drains a model instance and frees it.
//   - Sets instance state to draining to reject new enqueues.
//   - Waits up to drainTimeout for in-flight and queued requests to finish.
//   - Frees the decoding context and the model, then removes the entry.
//
// If requests are still running at the deadline, the instance is left
// loaded (and usable again) and an error is returned: freeing a context in
// use would crash the engine.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	return m.unload(modelID, "request")
}

func (m *Manager) unload(modelID, reason string) error {
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	if inst.State != StateReady {
		m.mu.Unlock()
		return tooBusyError{modelID: modelID}
	}
	inst.State = StateDraining
	m.mu.Unlock()
	m.pauseIdle(modelID)
	m.publish("unload_start", modelID, map[string]any{"reason": reason})

	deadline := time.Now().Add(m.drainTimeout)
	for inst.busy() {
		if time.Now().After(deadline) {
			qlen, inflight := len(inst.queueCh), len(inst.genCh)
			m.publish("unload_timeout", modelID, map[string]any{"inflight": inflight, "queue": qlen})
			m.mu.Lock()
			inst.State = StateReady
			m.mu.Unlock()
			m.touchIdle(modelID)
			return fmt.Errorf("unload %s: %d in flight, %d queued after %s: %w",
				modelID, inflight, qlen, m.drainTimeout, tooBusyError{modelID: modelID})
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	delete(m.instances, modelID)
	if m.cur != nil && m.cur.ID == modelID {
		m.cur = nil
	}
	m.mu.Unlock()

	if err := inst.close(); err != nil {
		logger.Warn().Err(err).Str("model", modelID).Msg("closing model")
	}
	logger.Info().Str("event", "unload_done").Str("model", modelID).Str("reason", reason).Msg("model unloaded")
	m.publish("unload_done", modelID, map[string]any{"reason": reason})
	return nil
}

// close frees the runtime's context and then the model it borrowed.
func (i *Instance) close() error {
	var err error
	if i.rt != nil {
		err = multierr.Append(err, i.rt.Close())
		i.rt = nil
	}
	if i.model != nil {
		err = multierr.Append(err, i.model.Close())
		i.model = nil
	}
	return err
}
