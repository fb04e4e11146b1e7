package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stepllm/internal/common/fsutil"
	"stepllm/internal/config"
	"stepllm/internal/engine"
	"stepllm/internal/httpapi"
	"stepllm/internal/llm"
	"stepllm/internal/manager"
	"stepllm/internal/registry"
	"stepllm/pkg/types"
)

// app carries state shared by all subcommands once the root has run.
type app struct {
	cfg config.Config
	log zerolog.Logger
	// backend overrides the llama backend; tests inject a scripted one.
	backend engine.Backend

	configPath string
	modelsDir  string
	libPath    string
	logLevel   string
	logFormat  string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "stepllm",
		Short:         "Step-wise LLM text generation server and CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", os.Getenv("STEPLLM_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&a.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	pf.StringVar(&a.libPath, "lib-path", "", "Directory holding the llama.cpp shared libraries")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: console|json")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.setup(cmd)
	}

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newChatCmd(a),
		newModelsCmd(a),
	)
	return root
}

// setup loads the config, applies flag overrides and installs loggers.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Defaults()
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("models-dir") {
		cfg.ModelsDir = a.modelsDir
	}
	if flags.Changed("lib-path") {
		cfg.LibPath = a.libPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = l
	engine.SetLogger(l.With().Str("component", "engine").Logger())
	llm.SetLogger(l.With().Str("component", "llm").Logger())
	manager.SetLogger(l.With().Str("component", "manager").Logger())
	httpapi.SetLogger(l.With().Str("component", "http").Logger())
	return nil
}

// newLogger builds the process logger. format is "console" or "json".
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func (a *app) engineBackend() engine.Backend {
	if a.backend != nil {
		return a.backend
	}
	return engine.NewLlamaBackend(a.cfg.LibPath)
}

// models scans the models dir and overlays configured entries. A missing
// dir leaves only the configured models.
func (a *app) models() ([]types.Model, error) {
	dir, err := fsutil.ResolvePath(a.cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	var scanned []types.Model
	if fsutil.PathExists(dir) {
		if scanned, err = registry.LoadDir(dir); err != nil {
			return nil, err
		}
	} else {
		a.log.Warn().Str("models_dir", dir).Msg("models dir not found")
	}
	return registry.Merge(scanned, a.cfg.Models), nil
}
