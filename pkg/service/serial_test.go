package service

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/purple-dfu/pkg/protocol"
	"github.com/anthropics/purple-dfu/pkg/transport"
)

func TestSerialRequest(t *testing.T) {
	near, far := transport.NewPipe()
	svc := NewSerial(near)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		var frame [protocol.FrameSize]byte
		if _, err := io.ReadFull(far, frame[:]); err != nil {
			done <- err
			return
		}
		status, err := protocol.DecodeStatus(frame[:])
		if err != nil {
			done <- err
			return
		}
		cmd := protocol.NewWrite([]byte("2"), status.Update.Offset, []byte{1, 2, 3}, nil)
		if _, err := protocol.EncodeCommand(frame[:], cmd); err != nil {
			done <- err
			return
		}
		_, err = far.Write(frame[:])
		done <- err
	}()

	status := protocol.NextStatus([]byte("1"), protocol.U32(256), 128, []byte("2"), nil)
	cmd, err := svc.Request(context.Background(), status)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, protocol.TagWrite, cmd.Tag)
	assert.Equal(t, uint32(128), cmd.Offset)
	assert.Equal(t, []byte{1, 2, 3}, []byte(cmd.Data))
}

func TestSerialRequestTransportError(t *testing.T) {
	near, far := transport.NewPipe()
	far.Close()
	// Drain the status frame so the read fails cleanly on EOF.
	go io.Copy(io.Discard, far)

	svc := NewSerial(near)
	_, err := svc.Request(context.Background(), protocol.FirstStatus([]byte("1"), nil, nil))
	require.Error(t, err)

	var serr *SerialError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SerialTransport, serr.Kind)
}

func TestSerialRequestCodecError(t *testing.T) {
	near, far := transport.NewPipe()
	svc := NewSerial(near)

	go func() {
		var frame [protocol.FrameSize]byte
		io.ReadFull(far, frame[:])
		// Reply with an unknown command tag.
		frame[0] = 0x7f
		far.Write(frame[:])
	}()

	_, err := svc.Request(context.Background(), protocol.FirstStatus([]byte("1"), nil, nil))
	require.Error(t, err)

	var serr *SerialError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, SerialCodec, serr.Kind)
}
