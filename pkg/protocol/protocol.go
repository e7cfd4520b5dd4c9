// Package protocol implements the firmware update wire protocol spoken
// between a device and an update service. A device periodically reports a
// Status and the service answers with a Command telling the device what to
// do next: wait, confirm it is in sync, write a block of firmware, or swap
// to the newly written image.
//
// Two encodings of the same messages are provided: a compact fixed-layout
// binary codec for point-to-point framed links (see binary.go) and a CBOR
// profile for HTTP bodies (see cbor.go). Both agree on the Command variant
// tags.
package protocol

import "bytes"

// Command variant tags. The ordering is part of the wire format and must
// not change: peers using compact encodings identify variants by tag only.
const (
	TagWait uint8 = iota
	TagSync
	TagWrite
	TagSwap
)

// FrameSize is the fixed frame length used on framed-serial links. Each
// logical message occupies exactly one frame; shorter payloads leave the
// trailing bytes undefined and the receiver parses by message structure.
const FrameSize = 1024

// Bytes is a view of a byte string carried inside a protocol message.
// Decoded instances alias the receive buffer they were parsed from and are
// only valid until the buffer is reused for the next exchange.
type Bytes []byte

// Equal reports whether two byte strings have identical contents.
func (b Bytes) Equal(other []byte) bool {
	return bytes.Equal(b, other)
}

// Status reports the firmware state of a device to the update service.
type Status struct {
	// Version is the currently running firmware version.
	Version Bytes
	// MTU is the largest data payload the device accepts in a single
	// Write command. The service must not send larger blocks.
	MTU *uint32
	// CorrelationID is an opaque tag echoed back by the service in the
	// resulting Command, used by multiplexers to route responses.
	CorrelationID *uint32
	// Update describes in-progress write state, if any.
	Update *UpdateStatus
}

// UpdateStatus describes the firmware currently being written to a device.
type UpdateStatus struct {
	// Version of the firmware being written.
	Version Bytes
	// Offset is the next byte offset the device expects to receive.
	Offset uint32
}

// FirstStatus creates a status for a device with no write in progress.
func FirstStatus(version []byte, mtu, correlationID *uint32) *Status {
	return &Status{
		Version:       version,
		MTU:           mtu,
		CorrelationID: correlationID,
	}
}

// NextStatus creates a status for a device that has written firmware for
// version nextVersion up to (but not including) offset.
func NextStatus(version []byte, mtu *uint32, offset uint32, nextVersion []byte, correlationID *uint32) *Status {
	return &Status{
		Version:       version,
		MTU:           mtu,
		CorrelationID: correlationID,
		Update: &UpdateStatus{
			Version: nextVersion,
			Offset:  offset,
		},
	}
}

// Command is an instruction from the update service to a device. It is a
// tagged union: Tag selects the variant and determines which of the
// remaining fields are meaningful.
//
//	Wait:  CorrelationID, Poll
//	Sync:  Version, CorrelationID, Poll
//	Write: Version, CorrelationID, Offset, Data
//	Swap:  Version, CorrelationID, Checksum
type Command struct {
	Tag uint8
	// Version the command refers to. For Sync this is the version the
	// service believes the device is running; for Write and Swap it is
	// the target version being written.
	Version Bytes
	// CorrelationID echoes the id from the Status this command answers.
	CorrelationID *uint32
	// Poll is a hint, in seconds, for when the device should report its
	// status again. Wait and Sync only.
	Poll *uint32
	// Offset is the byte offset at which Data should be written. Write only.
	Offset uint32
	// Data is the firmware block to write. Write only.
	Data Bytes
	// Checksum covers the complete firmware image being swapped to. The
	// protocol transports it opaquely; verification is a device policy.
	// Swap only.
	Checksum Bytes
}

// NewWait creates a Wait command.
func NewWait(poll, correlationID *uint32) *Command {
	return &Command{Tag: TagWait, Poll: poll, CorrelationID: correlationID}
}

// NewSync creates a Sync command confirming the device runs version.
func NewSync(version []byte, poll, correlationID *uint32) *Command {
	return &Command{Tag: TagSync, Version: version, Poll: poll, CorrelationID: correlationID}
}

// NewWrite creates a Write command carrying a block of firmware data.
func NewWrite(version []byte, offset uint32, data []byte, correlationID *uint32) *Command {
	return &Command{Tag: TagWrite, Version: version, Offset: offset, Data: data, CorrelationID: correlationID}
}

// NewSwap creates a Swap command instructing the device to activate the
// firmware it has written.
func NewSwap(version, checksum []byte, correlationID *uint32) *Command {
	return &Command{Tag: TagSwap, Version: version, Checksum: checksum, CorrelationID: correlationID}
}

// U32 returns a pointer to v, for filling optional message fields.
func U32(v uint32) *uint32 {
	return &v
}
