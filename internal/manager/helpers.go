package manager

import (
	"stepllm/pkg/types"
)

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// resolveModelID applies the default model to an empty id.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel == "" {
		return "", modelNotFoundError{id: "(unspecified)"}
	}
	return m.defaultModel, nil
}
