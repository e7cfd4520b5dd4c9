package service

import (
	"context"
	"fmt"
	"io"

	"github.com/anthropics/purple-dfu/pkg/protocol"
)

// SerialErrorKind classifies serial adapter failures.
type SerialErrorKind int

const (
	// SerialTransport marks an error in the underlying byte stream.
	SerialTransport SerialErrorKind = iota
	// SerialCodec marks an encode or decode failure.
	SerialCodec
)

// String returns the kind name.
func (k SerialErrorKind) String() string {
	switch k {
	case SerialTransport:
		return "transport error"
	case SerialCodec:
		return "codec error"
	default:
		return fmt.Sprintf("unknown serial error (%d)", int(k))
	}
}

// SerialError is an error from the serial service adapter.
type SerialError struct {
	Kind  SerialErrorKind
	Cause error
}

// Error implements the error interface.
func (e *SerialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind.String(), e.Cause)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *SerialError) Unwrap() error {
	return e.Cause
}

// Serial is an update service speaking the fixed-frame serial protocol over
// a reliable byte stream (TCP, UART, USB, an in-memory pipe). Each request
// writes one status frame and reads one command frame.
type Serial struct {
	transport io.ReadWriter
	buf       [protocol.FrameSize]byte
}

// NewSerial creates a serial update service over the given transport.
func NewSerial(transport io.ReadWriter) *Serial {
	return &Serial{transport: transport}
}

// Request implements update.Service. The returned command aliases the
// adapter's receive buffer and is only valid until the next request.
func (s *Serial) Request(ctx context.Context, status *protocol.Status) (*protocol.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := protocol.EncodeStatus(s.buf[:], status); err != nil {
		return nil, &SerialError{Kind: SerialCodec, Cause: err}
	}
	if _, err := s.transport.Write(s.buf[:]); err != nil {
		return nil, &SerialError{Kind: SerialTransport, Cause: err}
	}
	if _, err := io.ReadFull(s.transport, s.buf[:]); err != nil {
		return nil, &SerialError{Kind: SerialTransport, Cause: err}
	}
	cmd, err := protocol.DecodeCommand(s.buf[:])
	if err != nil {
		return nil, &SerialError{Kind: SerialCodec, Cause: err}
	}
	return cmd, nil
}
