package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"stepllm/internal/engine/enginetest"
	"stepllm/internal/manager"
	"stepllm/pkg/types"
)

func TestE2E_Models_Infer_Ready_Status(t *testing.T) {
	dir, models := createTempModelsDir(t, "alpha.gguf", "beta.gguf")
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{
		DefaultModel: models[0],
		Backend:      enginetest.NewBackend(128, 8).Reply("Hello world"),
	})

	resp, body := httpGet(t, srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models status=%d body=%s", resp.StatusCode, body)
	}
	var modelsResp types.ModelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		t.Fatalf("/models json: %v body=%s", err, body)
	}
	if len(modelsResp.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(modelsResp.Models))
	}

	// nothing loaded yet
	resp, body = httpGet(t, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz expected 503, got %d body=%s", resp.StatusCode, body)
	}

	resp, body = httpPostJSON(t, srv.URL+"/infer", []byte(`{"prompt":"hello","stream":true}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/infer status=%d body=%s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("/infer content-type=%q", ct)
	}
	toks, done := readNDJSON(t, body)
	if got := strings.Join(toks, ""); got != "Hello world" {
		t.Fatalf("streamed %q", got)
	}
	if done.Content != "Hello world" || done.FinishReason != manager.FinishStop {
		t.Fatalf("final line %+v", done)
	}
	if done.Usage.CompletionTokens != len("Hello world") {
		t.Fatalf("usage %+v", done.Usage)
	}

	resp, _ = httpGet(t, srv.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz expected 200 after infer, got %d", resp.StatusCode)
	}

	resp, body = httpGet(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status status=%d body=%s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v body=%s", err, body)
	}
	if len(st.Instances) != 1 || st.Instances[0].ModelID != models[0] {
		t.Fatalf("/status instances=%+v", st.Instances)
	}
}

// TestE2E_Backpressure429 returns 429 when the per-model queue is full and
// the wait timeout elapses.
func TestE2E_Backpressure429(t *testing.T) {
	dir, models := createTempModelsDir(t, "alpha.gguf")
	b := &gatedBackend{Backend: enginetest.NewBackend(128, 8).Reply("ok"), gate: make(chan struct{})}
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{
		DefaultModel:  models[0],
		Backend:       b,
		MaxQueueDepth: 1,
		MaxWait:       20 * time.Millisecond,
	})

	// First request takes the only slot and parks in decode.
	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/infer", "application/json", strings.NewReader(`{"prompt":"hello"}`))
		if err != nil {
			first <- 0
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := mgr.Status()
		if len(st.Instances) == 1 && st.Instances[0].Inflight == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first request never admitted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := httpPostJSON(t, srv.URL+"/infer", []byte(`{"prompt":"hello"}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", resp.StatusCode, body)
	}

	close(b.gate)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first request status=%d", code)
	}
}

func TestE2E_SwitchThenUnload(t *testing.T) {
	dir, _ := createTempModelsDir(t, "alpha.gguf", "beta.gguf")
	srv, mgr := newServerForDir(t, dir, manager.ManagerConfig{
		Backend: enginetest.NewBackend(128, 8).Reply("hi"),
	})

	resp, body := httpPostJSON(t, srv.URL+"/switch", []byte(`{"model":"beta.gguf"}`))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("/switch status=%d body=%s", resp.StatusCode, body)
	}
	var sw types.SwitchResponse
	if err := json.Unmarshal(body, &sw); err != nil || sw.OpID == "" {
		t.Fatalf("/switch body=%s err=%v", body, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !mgr.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("beta.gguf never loaded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body = httpPostJSON(t, srv.URL+"/infer", []byte(`{"model":"beta.gguf","prompt":"x"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/infer status=%d body=%s", resp.StatusCode, body)
	}
	if _, done := readNDJSON(t, body); done.Content != "hi" {
		t.Fatalf("final line %+v", done)
	}

	resp, body = httpPostJSON(t, srv.URL+"/unload", []byte(`{"model":"beta.gguf"}`))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("/unload status=%d body=%s", resp.StatusCode, body)
	}
	if mgr.Ready() {
		t.Fatalf("manager still ready after unload")
	}
}

func TestE2E_ModelNotFound_404(t *testing.T) {
	dir, _ := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{
		Backend: enginetest.NewBackend(128, 8),
	})

	resp, body := httpPostJSON(t, srv.URL+"/infer", []byte(`{"model":"missing.gguf","prompt":"hi"}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, body)
	}
	// no default model and none requested
	resp, body = httpPostJSON(t, srv.URL+"/infer", []byte(`{"prompt":"hi"}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, body)
	}
}

func TestE2E_PromptTooLong_400(t *testing.T) {
	dir, models := createTempModelsDir(t, "alpha.gguf")
	srv, _ := newServerForDir(t, dir, manager.ManagerConfig{
		DefaultModel: models[0],
		Backend:      enginetest.NewBackend(32, 8),
	})
	payload, _ := json.Marshal(types.InferRequest{Prompt: strings.Repeat("x", 64)})
	resp, body := httpPostJSON(t, srv.URL+"/infer", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", resp.StatusCode, body)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || !strings.Contains(e.Error, "prompt too long") {
		t.Fatalf("error body=%s err=%v", body, err)
	}
}
