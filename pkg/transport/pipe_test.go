package transport

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := NewPipe()

	msg := []byte("hello across the link")
	_, err := a.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
}

// Reads may consume a written message in smaller pieces.
func TestPipePartialReads(t *testing.T) {
	a, b := NewPipe()

	_, err := a.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{1, 2}, buf)

	rest := make([]byte, 3)
	_, err = io.ReadFull(b, rest)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5}, rest)
}

func TestPipeWriterMayReuseBuffer(t *testing.T) {
	a, b := NewPipe()

	buf := []byte{0xaa}
	_, err := a.Write(buf)
	require.NoError(t, err)
	buf[0] = 0xbb

	got := make([]byte, 1)
	_, err = io.ReadFull(b, got)
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), got[0])
}

func TestPipeCloseSignalsEOF(t *testing.T) {
	a, b := NewPipe()

	_, err := a.Write([]byte{1})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close()) // idempotent

	buf := make([]byte, 1)
	_, err = b.Read(buf)
	require.NoError(t, err)

	_, err = b.Read(buf)
	assert.Equal(t, io.EOF, err)
}
