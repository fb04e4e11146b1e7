package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"stepllm/internal/engine"
	"stepllm/internal/engine/enginetest"
)

func TestTokenToBytes_ProbeAndResize(t *testing.T) {
	rt, b := newTestRuntime(t, 32, 8, "")
	const long engine.Token = 7
	b.Models()[0].Pieces[long] = "a much longer piece"

	small := make([]byte, 8)
	n := rt.TokenToBytes(long, small)
	require.Equal(t, int32(-len("a much longer piece")), n)

	big := make([]byte, -n)
	n = rt.TokenToBytes(long, big)
	require.Equal(t, "a much longer piece", string(big[:n]))

	p, err := rt.Piece(long)
	require.NoError(t, err)
	require.Equal(t, "a much longer piece", string(p))

	p, err = rt.Piece(enginetest.ByteToken('z'))
	require.NoError(t, err)
	require.Equal(t, "z", string(p))

	p, err = rt.Piece(enginetest.EOS)
	require.NoError(t, err)
	require.Empty(t, p)
}

// stubbornModel reports a larger size on every call.
type stubbornModel struct{ *enginetest.Model }

func (m stubbornModel) TokenToPiece(tok engine.Token, buf []byte) int32 {
	return -int32(len(buf) + 1)
}

func TestPiece_SecondFailureIsDetokenizeError(t *testing.T) {
	b := enginetest.NewBackend(32, 8)
	rt, err := Init(b, stubbornModel{enginetest.NewModel(32)}, DefaultParams())
	require.NoError(t, err)
	_, err = rt.Piece(enginetest.ByteToken('a'))
	require.ErrorIs(t, err, ErrDetokenize)
}

func TestUTF8Len(t *testing.T) {
	cases := map[byte]int{
		'a':  1,
		0x7F: 1,
		0x80: 1, // continuation
		0xBF: 1,
		0xC3: 2,
		0xDF: 2,
		0xE6: 3,
		0xF0: 4,
		0xFF: 4,
	}
	for b, want := range cases {
		require.Equal(t, want, UTF8Len(b), "lead byte %#x", b)
	}
}

func TestUTF8Assembler(t *testing.T) {
	var a UTF8Assembler
	require.Equal(t, "ab", string(a.Write([]byte("ab"))))

	// "é" split across two pieces
	require.Empty(t, a.Write([]byte{0xC3}))
	require.Equal(t, 1, a.Pending())
	require.Equal(t, "é", string(a.Write([]byte{0xA9})))

	// "日" one byte at a time, followed by ASCII in the same piece
	require.Empty(t, a.Write([]byte{0xE6}))
	require.Empty(t, a.Write([]byte{0x97}))
	require.Equal(t, "日!", string(a.Write([]byte{0xA5, '!'})))
	require.Equal(t, 0, a.Pending())

	// a truncated sequence is handed back by Flush
	require.Equal(t, "x", string(a.Write([]byte{'x', 0xF0, 0x9F})))
	require.Equal(t, []byte{0xF0, 0x9F}, a.Flush())
	require.Empty(t, a.Flush())
}
