package llm

import (
	"errors"
	"fmt"

	"stepllm/internal/chat"
)

// Terminal statuses. They end a generation stream and are not failures.
var (
	ErrDone        = errors.New("generation done")
	ErrContextFull = errors.New("context window full")
)

// User input errors. The session stays usable after any of these.
var (
	ErrEmptyPrompt   = errors.New("empty prompt")
	ErrPromptTooLong = errors.New("prompt too long")
	ErrNoPrompt      = errors.New("no prompt set")
)

// Engine errors. The session (and for init errors, the runtime) must be
// recreated.
var (
	ErrLoadFailure     = errors.New("model load failure")
	ErrContextCreation = errors.New("context creation failure")
	ErrSamplerInit     = errors.New("sampling context init failure")
	ErrDetokenize      = errors.New("detokenize failure")
)

// DecodeError reports a failed decode of one chunk. Chunks decoded before it
// stay committed: Pos is where the failing chunk started.
type DecodeError struct {
	Pos int
	N   int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d tokens at position %d: %v", e.N, e.Pos, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTerminal reports whether err is an expected end-of-stream status.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDone) || errors.Is(err, ErrContextFull)
}

// IsUserInput reports whether err was caused by the caller's input.
func IsUserInput(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrPromptTooLong) ||
		errors.Is(err, ErrNoPrompt) ||
		errors.Is(err, chat.ErrUnknownFormat) ||
		errors.Is(err, chat.ErrEmptyMessages)
}

// IsDecodeFailure reports whether err came from a failed decode.
func IsDecodeFailure(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
