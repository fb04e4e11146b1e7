package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stepllm/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Infer(ctx context.Context, req types.InferRequest, w io.Writer, flush func()) error
	Ready() bool
	Switch(ctx context.Context, modelID string) (string, error)
	Unload(modelID string) error
}

type server struct {
	svc Service
}

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if c := corsMiddleware(); c != nil {
		r.Use(c)
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", s.handleModels)
	r.Get("/status", s.handleStatus)
	r.Post("/infer", s.handleInfer)
	r.Post("/switch", s.handleSwitch)
	r.Post("/unload", s.handleUnload)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// handleModels godoc
// @Summary      List models
// @Description  Models found in the registry.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

// handleStatus godoc
// @Summary      Server status
// @Description  Loaded instances, queues and lifecycle counters.
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// handleInfer godoc
// @Summary      Generate text
// @Description  Streams NDJSON: {"token": ...} lines when stream is set, then a final line with the full content, finish reason and usage.
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.InferRequest  true  "Prompt or chat messages"
// @Success      200      {object}  types.InferDone
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /infer [post]
func (s *server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	start := time.Now()
	sw := &streamWriter{w: w}
	writer := io.Writer(sw)
	lvl := requestLogLevel(r)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(sw, &loggingLineWriter{requestID: middleware.GetReqID(r.Context())})
	}
	requestEvent(r, lvl, LevelInfo).Str("model", req.Model).Bool("stream", req.Stream).Msg("infer start")

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if inferTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
		defer tcancel()
	}
	if err := s.svc.Infer(ctx, req, writer, flush); err != nil {
		// Client disconnect or shutdown: nobody is listening.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := writeServiceError(w, err, "queue", sw.started)
		requestEvent(r, lvl, LevelError).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("infer end")
		return
	}
	requestEvent(r, lvl, LevelInfo).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("infer end")
}

// handleSwitch godoc
// @Summary      Load a model in the background
// @Description  Returns an operation id; progress shows in /status.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        request  body      types.SwitchRequest  true  "Model to load"
// @Success      202      {object}  types.SwitchResponse
// @Failure      404      {object}  types.ErrorResponse
// @Router       /switch [post]
func (s *server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req types.SwitchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	op, err := s.svc.Switch(r.Context(), req.Model)
	if err != nil {
		writeServiceError(w, err, "switch", false)
		return
	}
	writeJSON(w, http.StatusAccepted, types.SwitchResponse{OpID: op})
}

// handleUnload godoc
// @Summary      Unload a model
// @Description  Drains in-flight requests, then frees the model.
// @Tags         models
// @Accept       json
// @Param        request  body  types.SwitchRequest  true  "Model to unload"
// @Success      204  "No Content"
// @Failure      404  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /unload [post]
func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	var req types.SwitchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.svc.Unload(req.Model); err != nil {
		writeServiceError(w, err, "unload", false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads a JSON request body into v. On failure it writes the
// error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// oversized bodies are reported the same way to avoid leaking the limit
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// streamWriter records whether any response bytes were written.
type streamWriter struct {
	w       io.Writer
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		s.started = true
	}
	return s.w.Write(p)
}
