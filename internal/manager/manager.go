package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"stepllm/internal/chat"
	"stepllm/internal/engine"
	"stepllm/internal/llm"
	"stepllm/pkg/types"
)

var logger = zerolog.Nop()

// SetLogger installs the logger used for manager lifecycle logs.
func SetLogger(l zerolog.Logger) { logger = l }

type Manager struct {
	mu            sync.RWMutex
	state         State
	cur           *ModelInfo
	err           string
	registry      []types.Model
	defaultModel  string
	defaultFormat chat.Style
	instances     map[string]*Instance
	backend       engine.Backend
	params        llm.Params
	publisher     EventPublisher

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	maxInstances  int

	// Idle unload; nil when disabled
	idle    *ttlcache.Cache[string, struct{}]
	idleTTL time.Duration

	startTime        time.Time
	opSeq            atomic.Uint64
	loadsTotal       atomic.Uint64
	evictionsTotal   atomic.Uint64
	idleUnloadsTotal atomic.Uint64
}

func New(reg []types.Model, defaultModel string, backend engine.Backend) *Manager {
	// Delegate to NewWithConfig to centralize defaults and option parsing
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		DefaultModel: defaultModel,
		Backend:      backend,
	})
}

// SetEventPublisher replaces the lifecycle event sink. Nil drops events.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(name, modelID string, fields map[string]any) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if fields == nil {
		fields = map[string]any{}
	}
	p.Publish(Event{Name: name, ModelID: modelID, Fields: fields})
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return false
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Close unloads every instance without waiting for in-flight requests and
// stops the idle timer.
func (m *Manager) Close() error {
	if m.idle != nil {
		m.idle.Stop()
	}
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for id, inst := range m.instances {
		insts = append(insts, inst)
		delete(m.instances, id)
	}
	m.cur = nil
	m.mu.Unlock()

	var err error
	for _, inst := range insts {
		err = multierr.Append(err, inst.close())
	}
	return err
}
