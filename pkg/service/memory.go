// Package service provides update service implementations: the in-memory
// reference service, a framed-serial adapter and the DFU HTTP client.
package service

import (
	"context"

	"github.com/anthropics/purple-dfu/pkg/protocol"
)

// DefaultMTU is the block size used when a status does not advertise one.
const DefaultMTU = 128

// swapChecksum is the opaque checksum the reference service attaches to
// Swap commands. Devices that verify image integrity treat an all-zero
// checksum as unverified.
var swapChecksum = make([]byte, 32)

// InMemory is an update service holding a single target firmware in memory.
// It defines the normative server-side behavior and doubles as the test
// oracle: any conforming service produces the same command for the same
// status and target.
type InMemory struct {
	expectedVersion  []byte
	expectedFirmware []byte
}

// NewInMemory creates an in-memory update service with a target version and
// firmware image.
func NewInMemory(expectedVersion, expectedFirmware []byte) *InMemory {
	return &InMemory{
		expectedVersion:  expectedVersion,
		expectedFirmware: expectedFirmware,
	}
}

// Request implements update.Service.
func (m *InMemory) Request(ctx context.Context, status *protocol.Status) (*protocol.Command, error) {
	if status.Version.Equal(m.expectedVersion) {
		return protocol.NewSync(m.expectedVersion, nil, status.CorrelationID), nil
	}
	mtu := uint32(DefaultMTU)
	if status.MTU != nil {
		mtu = *status.MTU
	}
	if status.Update != nil && status.Update.Version.Equal(m.expectedVersion) {
		if status.Update.Offset >= uint32(len(m.expectedFirmware)) {
			// All blocks received, instruct the device to swap.
			return protocol.NewSwap(m.expectedVersion, swapChecksum, status.CorrelationID), nil
		}
		offset := status.Update.Offset
		n := min(mtu, uint32(len(m.expectedFirmware))-offset)
		return protocol.NewWrite(m.expectedVersion, offset, m.expectedFirmware[offset:offset+n], status.CorrelationID), nil
	}
	// No update in progress, or one targeting a different version: start
	// over at offset 0.
	n := min(mtu, uint32(len(m.expectedFirmware)))
	return protocol.NewWrite(m.expectedVersion, 0, m.expectedFirmware[:n], status.CorrelationID), nil
}
