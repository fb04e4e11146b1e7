package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stepllm/internal/engine"
	"stepllm/internal/llm"
)

// EnsureInstance loads modelID (or the default model) unless it is already
// loaded. Concurrent callers for the same model wait for one load. When the
// instance cap is reached, least recently used idle models are unloaded
// first.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	startTs := time.Now()
	if modelID == "" {
		// If unspecified, use default if present; else no-op
		modelID = m.defaultModel
		if modelID == "" {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if inst := m.instances[modelID]; inst != nil {
		switch inst.State {
		case StateReady:
			inst.LastUsed = time.Now()
			m.mu.Unlock()
			return nil
		case StateLoading:
			loaded := inst.loaded
			m.mu.Unlock()
			select {
			case <-loaded:
				return inst.loadErr
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			m.mu.Unlock()
			return tooBusyError{modelID: modelID}
		}
	}
	m.mu.Unlock()

	mdl, ok := m.getModelByID(modelID)
	if !ok {
		logger.Info().Str("event", "ensure_model_not_found").Str("model", modelID).Msg("model not in registry")
		m.publish("ensure_model_not_found", modelID, nil)
		return ErrModelNotFound(modelID)
	}
	if err := m.backend.Available(); err != nil {
		m.publish("ensure_unavailable", modelID, map[string]any{"error": err.Error()})
		return ErrDependencyUnavailable(err.Error())
	}

	m.mu.Lock()
	if m.instances[modelID] != nil {
		// another caller won the race; wait on its load
		m.mu.Unlock()
		return m.EnsureInstance(ctx, modelID)
	}
	inst := newInstance(modelID, m.maxQueueDepth)
	inst.Format = mdl.ChatFormat
	m.instances[modelID] = inst
	m.state = StateLoading
	m.err = ""
	victims := m.pickEvictionsLocked(modelID)
	m.mu.Unlock()

	logger.Info().Str("event", "ensure_start").Str("model", modelID).Str("path", mdl.Path).Msg("loading model")
	m.publish("ensure_start", modelID, map[string]any{"path": mdl.Path})

	for _, id := range victims {
		if err := m.unload(id, "evict"); err != nil {
			logger.Warn().Err(err).Str("model", id).Msg("eviction failed")
			continue
		}
		m.evictionsTotal.Add(1)
		m.publish("evicted", id, map[string]any{"for": modelID})
	}

	model, rt, err := m.load(mdl.Path)
	m.mu.Lock()
	if err != nil {
		inst.loadErr = err
		delete(m.instances, modelID)
		m.state = StateError
		m.err = err.Error()
		close(inst.loaded)
		m.mu.Unlock()
		logger.Error().Err(err).Str("event", "ensure_error").Str("model", modelID).Msg("model load failed")
		m.publish("ensure_error", modelID, map[string]any{"error": err.Error()})
		return err
	}
	inst.model = model
	inst.rt = rt
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.cur = &ModelInfo{ID: mdl.ID, Name: mdl.Name, Path: mdl.Path, Quant: mdl.Quant, Family: mdl.Family}
	m.state = StateReady
	m.err = ""
	close(inst.loaded)
	m.mu.Unlock()

	m.loadsTotal.Add(1)
	m.touchIdle(modelID)
	dur := time.Since(startTs)
	logger.Info().Str("event", "ensure_ready").Str("model", modelID).
		Int("n_ctx", rt.ContextSize()).Int("n_batch", rt.BatchSize()).
		Dur("dur", dur).Msg("model ready")
	m.publish("ensure_ready", modelID, map[string]any{"dur_ms": int(dur / time.Millisecond)})
	return nil
}

// load opens the model file and creates its decoding context.
func (m *Manager) load(path string) (engine.Model, *llm.Runtime, error) {
	model, err := m.backend.LoadModel(path)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return nil, nil, ErrDependencyUnavailable(err.Error())
		}
		return nil, nil, fmt.Errorf("%w: %s: %w", llm.ErrLoadFailure, path, err)
	}
	rt, err := llm.Init(m.backend, model, m.params)
	if err != nil {
		_ = model.Close()
		return nil, nil, err
	}
	return model, rt, nil
}
