package manager

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	busy := fmt.Errorf("unload: %w", tooBusyError{modelID: "m"})
	if !IsTooBusy(busy) || IsModelNotFound(busy) {
		t.Fatalf("wrapped too busy not classified")
	}
	nf := fmt.Errorf("ensure: %w", ErrModelNotFound("x"))
	if !IsModelNotFound(nf) || nf.Error() != "ensure: model not found: x" {
		t.Fatalf("unexpected not found error: %v", nf)
	}
	dep := ErrDependencyUnavailable("no libllama")
	if !IsDependencyUnavailable(dep) || dep.Error() != "no libllama" {
		t.Fatalf("unexpected dependency error: %v", dep)
	}
	cause := errors.New("empty prompt")
	br := badRequestError{err: cause}
	if !IsBadRequest(br) || !errors.Is(br, cause) || br.StatusCode() != http.StatusBadRequest {
		t.Fatalf("unexpected bad request error: %v", br)
	}
	if IsBadRequest(cause) || IsTooBusy(nil) {
		t.Fatalf("plain errors must not classify")
	}
}
