package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stepllm/internal/httpapi"
	"stepllm/internal/manager"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	addr         string
	defaultModel string
	maxInstances int
	idleUnload   int
	corsEnabled  bool
	corsOrigins  string
	corsMethods  string
	corsHeaders  string
	preload      bool
}

func newServeCmd(a *app) *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  stepllm serve --addr :8080 --models-dir ~/models/llm --default-model tinyllama.Q4_0.gguf",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.apply(cmd, a)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", a.cfg.Addr)
			if err != nil {
				return err
			}
			return a.serve(ctx, ln, o.preload)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":8080", "HTTP listen address (defaults STEPLLM_ADDR)")
	f.StringVar(&o.defaultModel, "default-model", "", "Default model id when a request omits model")
	f.IntVar(&o.maxInstances, "max-instances", 0, "Models kept loaded at once")
	f.IntVar(&o.idleUnload, "idle-unload", 0, "Unload a model after this many idle seconds (0 keeps it)")
	f.BoolVar(&o.corsEnabled, "cors", false, "Enable CORS")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed origins")
	f.StringVar(&o.corsMethods, "cors-methods", "", "Comma-separated allowed methods")
	f.StringVar(&o.corsHeaders, "cors-headers", "", "Comma-separated allowed headers")
	f.BoolVar(&o.preload, "preload", true, "Load the default model at startup")
	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (o *serveOptions) apply(cmd *cobra.Command, a *app) {
	f := cmd.Flags()
	if f.Changed("addr") {
		a.cfg.Addr = o.addr
	} else if v := os.Getenv("STEPLLM_ADDR"); v != "" {
		a.cfg.Addr = v
	}
	if f.Changed("default-model") {
		a.cfg.DefaultModel = o.defaultModel
	}
	if f.Changed("max-instances") {
		a.cfg.MaxInstances = o.maxInstances
	}
	if f.Changed("idle-unload") {
		a.cfg.IdleUnloadSeconds = o.idleUnload
	}
	if f.Changed("cors") {
		a.cfg.CORS.Enabled = o.corsEnabled
	}
	if f.Changed("cors-origins") {
		a.cfg.CORS.AllowedOrigins = splitCSV(o.corsOrigins)
	}
	if f.Changed("cors-methods") {
		a.cfg.CORS.AllowedMethods = splitCSV(o.corsMethods)
	}
	if f.Changed("cors-headers") {
		a.cfg.CORS.AllowedHeaders = splitCSV(o.corsHeaders)
	}
}

func (a *app) newManager() (*manager.Manager, error) {
	reg, err := a.models()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:      reg,
		DefaultModel:  cfg.DefaultModel,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		DrainTimeout:  cfg.DrainTimeout(),
		MaxInstances:  cfg.MaxInstances,
		IdleUnload:    cfg.IdleUnload(),
		ChatFormat:    cfg.ChatFormat,
		Backend:       a.backend,
		LibPath:       cfg.LibPath,
		Params:        cfg.GenerationParams(),
	})
	mgr.SetEventPublisher(manager.LogPublisher{L: a.log.With().Str("component", "events").Logger()})
	return mgr, nil
}

// serve runs the API on ln until ctx is done, then shuts down gracefully.
func (a *app) serve(ctx context.Context, ln net.Listener, preload bool) error {
	mgr, err := a.newManager()
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing models")
		}
	}()

	rep := mgr.SanityCheck()
	ev := a.log.Info()
	if !rep.Available {
		ev = a.log.Warn().Str("error", rep.Error)
	}
	ev.Str("backend", rep.Backend).Int("models", len(mgr.ListModels())).
		Strs("missing", rep.MissingModels).Msg("backend check")

	cfg := a.cfg
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSeconds)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	httpapi.SetRequestLogLevel(cfg.RequestLog)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", ln.Addr().String()).Str("models_dir", cfg.ModelsDir).Msg("stepllm listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown")
			return err
		}
		return nil
	})
	if preload && cfg.DefaultModel != "" && rep.Available {
		if op, err := mgr.Switch(gctx, ""); err != nil {
			a.log.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("preload")
		} else {
			a.log.Info().Str("op", op).Str("model", cfg.DefaultModel).Msg("preloading default model")
		}
	}
	return g.Wait()
}
