package manager

import (
	"context"
	"strconv"
)

// Switch kicks off an async load of modelID and returns an operation ID.
// Progress is visible through Status() and the published events, which
// carry the op id. The load is detached from ctx so it outlives the request
// that asked for it.
func (m *Manager) Switch(ctx context.Context, modelID string) (string, error) {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return "", err
	}
	if _, ok := m.getModelByID(id); !ok {
		return "", ErrModelNotFound(id)
	}
	op := m.nextOpID()
	m.publish("switch_start", id, map[string]any{"op": op})
	go func(opID string) {
		if err := m.EnsureInstance(context.Background(), id); err != nil {
			m.publish("switch_error", id, map[string]any{"op": opID, "error": err.Error()})
			return
		}
		m.publish("switch_done", id, map[string]any{"op": opID})
	}(op)
	return op, nil
}

func (m *Manager) nextOpID() string {
	return "op-" + strconv.FormatUint(m.opSeq.Add(1), 10)
}
