package llm

import (
	"fmt"

	"stepllm/internal/engine"
)

// probeSize is the first buffer tried by Piece; most pieces fit.
const probeSize = 8

// TokenToBytes writes the text piece of tok into buf. It returns the number of
// bytes written, or the negated size needed when buf is too small.
func (r *Runtime) TokenToBytes(tok engine.Token, buf []byte) int32 {
	return r.model.TokenToPiece(tok, buf)
}

// Piece returns the bytes of tok, growing the buffer once if the probe was
// too small. The bytes may end inside a multi-byte UTF-8 sequence; see
// UTF8Assembler.
func (r *Runtime) Piece(tok engine.Token) ([]byte, error) {
	buf := make([]byte, probeSize)
	n := r.model.TokenToPiece(tok, buf)
	if n < 0 {
		buf = make([]byte, -n)
		n = r.model.TokenToPiece(tok, buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: token %d needs %d bytes", ErrDetokenize, tok, -n)
		}
	}
	return buf[:n], nil
}

var utf8Lens = [16]int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 3, 4}

// UTF8Len returns the length of the UTF-8 sequence introduced by the lead
// byte b. Continuation and invalid bytes count as 1.
func UTF8Len(b byte) int { return utf8Lens[b>>4] }

// UTF8Assembler joins token pieces into whole UTF-8 sequences. Pieces can
// split a code point; the assembler holds the incomplete tail until the rest
// arrives.
type UTF8Assembler struct {
	buf []byte
}

// Write appends p and returns the longest prefix of buffered bytes that ends
// on a sequence boundary.
func (a *UTF8Assembler) Write(p []byte) []byte {
	a.buf = append(a.buf, p...)
	i := 0
	for i < len(a.buf) {
		n := UTF8Len(a.buf[i])
		if i+n > len(a.buf) {
			break
		}
		i += n
	}
	out := make([]byte, i)
	copy(out, a.buf[:i])
	a.buf = append(a.buf[:0], a.buf[i:]...)
	return out
}

// Flush returns whatever is still buffered, complete or not, and empties
// the assembler.
func (a *UTF8Assembler) Flush() []byte {
	out := a.buf
	a.buf = nil
	return out
}

// Pending is the number of bytes held back.
func (a *UTF8Assembler) Pending() int { return len(a.buf) }
