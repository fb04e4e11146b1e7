package manager

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"stepllm/internal/chat"
	"stepllm/internal/engine"
	"stepllm/internal/llm"
	"stepllm/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second
	defaultMaxInstances  = 1
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry      []types.Model
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	// MaxInstances caps how many models stay loaded; the least recently
	// used idle one is unloaded to make room.
	MaxInstances int
	// IdleUnload unloads a model after this long without requests; 0 keeps
	// models loaded.
	IdleUnload time.Duration
	// ChatFormat is used for message requests that name no format and whose
	// model has no preferred one.
	ChatFormat string
	// Backend loads models. Nil selects the llama backend for this build.
	Backend engine.Backend
	// LibPath is passed to the llama backend when Backend is nil.
	LibPath string
	Params  llm.Params
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateLoading,
		registry:     cfg.Registry,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		backend:      cfg.Backend,
		params:       cfg.Params,
		publisher:    noopPublisher{},
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if cfg.MaxInstances <= 0 {
		m.maxInstances = defaultMaxInstances
	} else {
		m.maxInstances = cfg.MaxInstances
	}
	if m.params.BatchSize <= 0 {
		m.params = llm.DefaultParams()
	}
	m.defaultFormat = chat.StyleTurnMarker
	if cfg.ChatFormat != "" {
		if st, err := chat.ParseStyle(cfg.ChatFormat); err == nil {
			m.defaultFormat = st
		} else {
			logger.Warn().Str("format", cfg.ChatFormat).Msg("unknown chat format; using turn markers")
		}
	}
	if m.backend == nil {
		m.backend = engine.NewLlamaBackend(cfg.LibPath)
	}
	if cfg.IdleUnload > 0 {
		m.idleTTL = cfg.IdleUnload
		m.idle = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](cfg.IdleUnload),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
		m.idle.OnEviction(m.onIdleExpired)
		go m.idle.Start()
	}
	m.startTime = time.Now()
	return m
}
