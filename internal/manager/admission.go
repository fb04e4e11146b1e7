package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context, modelID string) (func(), error) {
	m.mu.RLock()
	inst := m.instances[modelID]
	var st State
	if inst != nil {
		st = inst.State
	}
	m.mu.RUnlock()
	if inst == nil {
		return func() {}, modelNotFoundError{id: modelID}
	}
	// If draining, reject new work to allow graceful shutdown/unload
	if st == StateDraining {
		return func() {}, tooBusyError{modelID: modelID}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{modelID: modelID}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-inst.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case inst.genCh <- struct{}{}:
		// the instance may have started draining while we queued
		m.mu.Lock()
		if inst.State != StateReady {
			m.mu.Unlock()
			<-inst.genCh
			return func() {}, tooBusyError{modelID: modelID}
		}
		acquired = true
		inst.LastUsed = time.Now()
		m.mu.Unlock()
		m.pauseIdle(modelID)
		return func() {
			<-inst.genCh
			<-inst.queueCh
			m.touchIdle(modelID)
		}, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, tooBusyError{modelID: modelID}
	}
}
