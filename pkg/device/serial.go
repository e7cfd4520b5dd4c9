package device

import (
	"context"
	"fmt"
	"io"

	"github.com/anthropics/purple-dfu/pkg/protocol"
	"github.com/anthropics/purple-dfu/pkg/update"
)

// SerialMTU is the write payload size advertised by the serial adapter. A
// block of this size fits a frame next to the Write command's own encoding.
const SerialMTU = 968

// SerialErrorKind classifies serial adapter failures.
type SerialErrorKind int

const (
	// SerialTransport marks an error in the underlying byte stream.
	SerialTransport SerialErrorKind = iota
	// SerialCodec marks an encode or decode failure.
	SerialCodec
	// SerialOverflow marks a version that does not fit the adapter's
	// bounded version buffer.
	SerialOverflow
)

// String returns the kind name.
func (k SerialErrorKind) String() string {
	switch k {
	case SerialTransport:
		return "transport error"
	case SerialCodec:
		return "codec error"
	case SerialOverflow:
		return "version overflow"
	default:
		return fmt.Sprintf("unknown serial error (%d)", int(k))
	}
}

// SerialError is an error from the serial device adapter.
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

// Serial is a firmware device fronting a remote peer across a fixed-frame
// serial link. Reading the device status consumes a status frame sent by
// the peer; write, update and synced each emit the corresponding command
// frame. The adapter keeps the last status it saw so the device calls can
// be translated without a local image store.
type Serial struct {
	transport io.ReadWriter
	buf       [protocol.FrameSize]byte
	status    update.FirmwareStatus
}

// NewSerialDevice creates a serial device adapter over the given transport.
func NewSerialDevice(transport io.ReadWriter) *Serial {
	return &Serial{transport: transport}
}

// MTU implements update.Device.
func (s *Serial) MTU() uint32 {
	return SerialMTU
}

// Status implements update.Device. It blocks until the peer reports.
func (s *Serial) Status(ctx context.Context) (update.FirmwareStatus, error) {
	if err := ctx.Err(); err != nil {
		return update.FirmwareStatus{}, err
	}
	if _, err := io.ReadFull(s.transport, s.buf[:]); err != nil {
		return update.FirmwareStatus{}, &SerialError{Kind: SerialTransport, Cause: err}
	}
	status, err := protocol.DecodeStatus(s.buf[:])
	if err != nil {
		return update.FirmwareStatus{}, &SerialError{Kind: SerialCodec, Cause: err}
	}
	s.status.CurrentVersion, err = update.VersionFromSlice(status.Version)
	if err != nil {
		return update.FirmwareStatus{}, &SerialError{Kind: SerialOverflow, Cause: err}
	}
	if status.Update != nil {
		next, err := update.VersionFromSlice(status.Update.Version)
		if err != nil {
			return update.FirmwareStatus{}, &SerialError{Kind: SerialOverflow, Cause: err}
		}
		s.status.NextOffset = status.Update.Offset
		s.status.NextVersion = &next
	} else {
		s.status.NextOffset = 0
		s.status.NextVersion = nil
	}
	return s.status, nil
}

// Start implements update.Device. It only adjusts the local status mirror;
// the peer learns the new target from the first Write frame.
func (s *Serial) Start(ctx context.Context, version []byte) error {
	next, err := update.VersionFromSlice(version)
	if err != nil {
		return &SerialError{Kind: SerialOverflow, Cause: err}
	}
	s.status.NextOffset = 0
	s.status.NextVersion = &next
	return nil
}

// Write implements update.Device by forwarding the block as a Write frame.
func (s *Serial) Write(ctx context.Context, offset uint32, data []byte) error {
	if s.status.NextVersion == nil {
		return &SerialError{Kind: SerialCodec, Cause: fmt.Errorf("write before start")}
	}
	cmd := protocol.NewWrite(s.status.NextVersion.Bytes(), offset, data, nil)
	return s.send(ctx, cmd)
}

// Update implements update.Device by forwarding a Swap frame.
func (s *Serial) Update(ctx context.Context, version, checksum []byte) error {
	return s.send(ctx, protocol.NewSwap(version, checksum, nil))
}

// Synced implements update.Device by forwarding a Sync frame.
func (s *Serial) Synced(ctx context.Context) error {
	return s.send(ctx, protocol.NewSync(s.status.CurrentVersion.Bytes(), nil, nil))
}

func (s *Serial) send(ctx context.Context, cmd *protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := protocol.EncodeCommand(s.buf[:], cmd); err != nil {
		return &SerialError{Kind: SerialCodec, Cause: err}
	}
	if _, err := s.transport.Write(s.buf[:]); err != nil {
		return &SerialError{Kind: SerialTransport, Cause: err}
	}
	return nil
}
