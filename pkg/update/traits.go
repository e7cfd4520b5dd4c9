// Package update implements the firmware updater state machine and the
// capability interfaces it drives: a firmware device, an update service and
// a delay source. The updater repeatedly reports the device status to the
// service and applies the returned command until the device is either in
// sync or fully updated.
package update

import (
	"context"
	"fmt"

	"github.com/anthropics/purple-dfu/pkg/protocol"
)

// MaxVersionLen is the capacity of the bounded version buffer. Versions on
// the wire longer than this cannot be represented by a device.
const MaxVersionLen = 32

// Version is a bounded, fixed-capacity firmware version string.
type Version struct {
	data [MaxVersionLen]byte
	n    uint8
}

// VersionFromSlice copies data into a bounded Version. It fails if data is
// longer than MaxVersionLen.
func VersionFromSlice(data []byte) (Version, error) {
	var v Version
	if len(data) > MaxVersionLen {
		return v, fmt.Errorf("version length %d exceeds %d bytes", len(data), MaxVersionLen)
	}
	copy(v.data[:], data)
	v.n = uint8(len(data))
	return v, nil
}

// Bytes returns the version contents. The slice aliases the receiver's
// internal buffer.
func (v *Version) Bytes() []byte {
	return v.data[:v.n]
}

// Equal reports whether the version equals the given byte string.
func (v *Version) Equal(other []byte) bool {
	return protocol.Bytes(v.data[:v.n]).Equal(other)
}

// String renders the version for logs. Printable versions are shown as
// text, anything else as hex.
func (v *Version) String() string {
	b := v.Bytes()
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("%x", b)
		}
	}
	return string(b)
}

// FirmwareStatus is the persisted update progress reported by a device.
type FirmwareStatus struct {
	// CurrentVersion is the version of the running firmware.
	CurrentVersion Version
	// NextOffset is the next byte offset expected by an in-progress write.
	NextOffset uint32
	// NextVersion is the version being written, nil when no write is in
	// progress.
	NextVersion *Version
}

// Device is a firmware device that can be driven through an update.
//
// Implementations are expected to persist the values reported by Status so
// that an interrupted update resumes at the right offset after a restart.
type Device interface {
	// MTU returns the largest data payload the device accepts in a
	// single Write call.
	MTU() uint32

	// Status returns the current firmware status of the device.
	Status(ctx context.Context) (FirmwareStatus, error)

	// Start prepares the device for writing a new firmware version. Any
	// previously staged partial image is discarded.
	Start(ctx context.Context, version []byte) error

	// Write stores a block of firmware data at the given offset of the
	// staged image.
	Write(ctx context.Context, offset uint32, data []byte) error

	// Update finalizes the staged image and arms the device to boot it.
	// The checksum is verified according to device policy.
	Update(ctx context.Context, version, checksum []byte) error

	// Synced tells the device its running firmware is confirmed current.
	Synced(ctx context.Context) error
}

// Service performs one status/command exchange with the update service.
type Service interface {
	// Request sends the status to the service and returns the command it
	// answered with. The returned command is only valid until the next
	// call to Request.
	Request(ctx context.Context, status *protocol.Status) (*protocol.Command, error)
}

// Delay provides coarse-grained sleeps. Implementations must abandon the
// sleep without side effects when ctx is cancelled, and must be safe for
// concurrent use: the updater runs its request timer from a separate
// goroutine.
type Delay interface {
	DelayMs(ctx context.Context, ms uint32) error
	DelayUs(ctx context.Context, us uint32) error
}
