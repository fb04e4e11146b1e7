package manager

import (
	"time"

	"stepllm/internal/engine"
	"stepllm/internal/llm"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateDraining State = "draining"
	StateError    State = "error"
)

// ModelInfo is a minimal view of the current model.
type ModelInfo struct {
	ID     string
	Name   string
	Path   string
	Quant  string
	Family string
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel *ModelInfo
	Err          string
}

// Instance is a loaded model with its decoding context (one per model id).
type Instance struct {
	ID       string
	State    State
	LastUsed time.Time
	Format   string // preferred chat format from the registry
	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
	// loaded is closed once loading finished; loadErr is set on failure.
	loaded  chan struct{}
	loadErr error

	model engine.Model
	rt    *llm.Runtime
}

func newInstance(id string, queueDepth int) *Instance {
	return &Instance{
		ID:       id,
		State:    StateLoading,
		LastUsed: time.Now(),
		genCh:    make(chan struct{}, 1),
		queueCh:  make(chan struct{}, queueDepth),
		loaded:   make(chan struct{}),
	}
}

// busy reports whether requests are running or waiting on the instance.
func (i *Instance) busy() bool { return len(i.genCh) > 0 || len(i.queueCh) > 0 }
