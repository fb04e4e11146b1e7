// Package config loads the server and generation settings from a YAML, JSON
// or TOML file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"stepllm/internal/chat"
	"stepllm/internal/engine"
	"stepllm/internal/llm"
	"stepllm/pkg/types"
)

// Config holds runtime parameters for the service. Keys absent from a file
// keep their Defaults() value.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// LibPath points the llama backend at its shared libraries.
	LibPath string `json:"lib_path" yaml:"lib_path" toml:"lib_path"`
	// Models adds registry entries or overrides fields of scanned ones.
	Models []types.Model `json:"models" yaml:"models" toml:"models"`

	MaxQueueDepth     int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMs         int    `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	DrainTimeoutMs    int    `json:"drain_timeout_ms" yaml:"drain_timeout_ms" toml:"drain_timeout_ms"`
	MaxInstances      int    `json:"max_instances" yaml:"max_instances" toml:"max_instances"`
	IdleUnloadSeconds int    `json:"idle_unload_seconds" yaml:"idle_unload_seconds" toml:"idle_unload_seconds"`
	ChatFormat        string `json:"chat_format" yaml:"chat_format" toml:"chat_format"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// RequestLog is the per-request HTTP log level: off, error, info or debug.
	RequestLog          string `json:"request_log" yaml:"request_log" toml:"request_log"`
	MaxBodyBytes        int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	InferTimeoutSeconds int64  `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`

	CORS       CORS       `json:"cors" yaml:"cors" toml:"cors"`
	Generation Generation `json:"generation" yaml:"generation" toml:"generation"`
}

// CORS is opt-in cross-origin access for browser clients.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Generation configures every runtime the server creates.
type Generation struct {
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size"`
	BatchSize   int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	Threads     int `json:"threads" yaml:"threads" toml:"threads"`
	// Predict: -1 unbounded, -2 until the context is full, else a token count.
	Predict     int     `json:"predict" yaml:"predict" toml:"predict"`
	Temperature float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK        int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP        float32 `json:"top_p" yaml:"top_p" toml:"top_p"`
	// Seed < 0 picks a random seed per sampler.
	Seed             int64   `json:"seed" yaml:"seed" toml:"seed"`
	RepeatLastN      int     `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`
	RepeatPenalty    float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
	IgnoreEOS        bool    `json:"ignore_eos" yaml:"ignore_eos" toml:"ignore_eos"`
	Warmup           bool    `json:"warmup" yaml:"warmup" toml:"warmup"`
	// GPULayers is accepted for compatibility with llama.cpp configs and
	// ignored: device placement is left to the backend.
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	p := llm.DefaultParams()
	s := p.Sampling
	return Config{
		Addr:           ":8080",
		ModelsDir:      "~/models/llm",
		MaxQueueDepth:  32,
		MaxWaitMs:      30_000,
		DrainTimeoutMs: 5_000,
		MaxInstances:   1,
		ChatFormat:     "turn",
		LogLevel:       "info",
		LogFormat:      "console",
		RequestLog:     "info",
		MaxBodyBytes:   1 << 20,
		Generation: Generation{
			ContextSize:      p.ContextSize,
			BatchSize:        p.BatchSize,
			Predict:          p.Predict,
			Temperature:      s.Temperature,
			TopK:             s.TopK,
			TopP:             s.TopP,
			Seed:             -1,
			RepeatLastN:      s.RepeatLastN,
			RepeatPenalty:    s.RepeatPenalty,
			FrequencyPenalty: s.FrequencyPenalty,
			PresencePenalty:  s.PresencePenalty,
			Warmup:           true,
		},
	}
}

// Load reads a configuration file based on its extension on top of
// Defaults(). Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	g := c.Generation
	if g.BatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("generation.batch_size must be positive, got %d", g.BatchSize))
	}
	if g.ContextSize < 0 {
		err = multierr.Append(err, fmt.Errorf("generation.context_size must not be negative, got %d", g.ContextSize))
	}
	if g.Predict < llm.PredictUntilFull {
		err = multierr.Append(err, fmt.Errorf("generation.predict must be >= %d, got %d", llm.PredictUntilFull, g.Predict))
	}
	if g.Temperature < 0 || g.TopP < 0 || g.TopP > 1 {
		err = multierr.Append(err, errors.New("generation.temperature must be >= 0 and top_p within [0,1]"))
	}
	if c.MaxInstances < 0 || c.MaxQueueDepth < 0 {
		err = multierr.Append(err, errors.New("max_instances and max_queue_depth must not be negative"))
	}
	if c.ChatFormat != "" {
		if _, perr := chat.ParseStyle(c.ChatFormat); perr != nil {
			err = multierr.Append(err, fmt.Errorf("chat_format: %w", perr))
		}
	}
	for _, m := range c.Models {
		if m.ID == "" {
			err = multierr.Append(err, errors.New("models: entry without id"))
		}
	}
	return err
}

// GenerationParams converts the generation block into runtime parameters.
func (c Config) GenerationParams() llm.Params {
	g := c.Generation
	seed := uint32(engine.DefaultSeed)
	if g.Seed >= 0 {
		seed = uint32(g.Seed)
	}
	return llm.Params{
		ContextSize: g.ContextSize,
		BatchSize:   g.BatchSize,
		Threads:     g.Threads,
		Predict:     g.Predict,
		Warmup:      g.Warmup,
		Sampling: engine.SamplerParams{
			Temperature:      g.Temperature,
			TopK:             g.TopK,
			TopP:             g.TopP,
			Seed:             seed,
			RepeatLastN:      g.RepeatLastN,
			RepeatPenalty:    g.RepeatPenalty,
			FrequencyPenalty: g.FrequencyPenalty,
			PresencePenalty:  g.PresencePenalty,
			IgnoreEOS:        g.IgnoreEOS,
		},
	}
}

func (c Config) MaxWait() time.Duration      { return time.Duration(c.MaxWaitMs) * time.Millisecond }
func (c Config) DrainTimeout() time.Duration { return time.Duration(c.DrainTimeoutMs) * time.Millisecond }
func (c Config) IdleUnload() time.Duration {
	return time.Duration(c.IdleUnloadSeconds) * time.Second
}
