package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"stepllm/internal/engine"
	"stepllm/internal/engine/enginetest"
	"stepllm/internal/httpapi"
	"stepllm/internal/manager"
	"stepllm/internal/registry"
	"stepllm/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with placeholder
// .gguf files and returns the directory path and the model IDs (file names).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// newServerForDir scans modelsDir and serves it through the real manager and
// router. cfg.Registry is replaced by the scan result.
func newServerForDir(t *testing.T, modelsDir string, cfg manager.ManagerConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.NewGGUFScanner().Scan(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	cfg.Registry = reg
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// readNDJSON splits an /infer body into its token lines and final line.
func readNDJSON(t *testing.T, body []byte) ([]string, types.InferDone) {
	t.Helper()
	var toks []string
	var done types.InferDone
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var line map[string]json.RawMessage
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("ndjson line %q: %v", sc.Text(), err)
		}
		if _, ok := line["done"]; ok {
			if err := json.Unmarshal(sc.Bytes(), &done); err != nil {
				t.Fatalf("final line: %v", err)
			}
			continue
		}
		var tl types.TokenLine
		if err := json.Unmarshal(sc.Bytes(), &tl); err != nil {
			t.Fatalf("token line: %v", err)
		}
		toks = append(toks, tl.Token)
	}
	return toks, done
}

// gatedBackend holds every decode until the gate is closed or receives.
type gatedBackend struct {
	*enginetest.Backend
	gate chan struct{}
}

func (b *gatedBackend) NewContext(m engine.Model, p engine.ContextParams) (engine.Context, error) {
	c, err := b.Backend.NewContext(m, p)
	if err != nil {
		return nil, err
	}
	return &gatedContext{Context: c, gate: b.gate}, nil
}

type gatedContext struct {
	engine.Context
	gate <-chan struct{}
}

func (c *gatedContext) Decode(tokens []engine.Token, pos int) error {
	<-c.gate
	return c.Context.Decode(tokens, pos)
}
