// Package device provides firmware device implementations: an in-memory
// simulator, a serial adapter fronting a remote peer, and a file-backed
// flash device with persistent update progress.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/purple-dfu/pkg/update"
)

// SimulatorMTU is the write block size advertised by the simulator.
const SimulatorMTU = 256

// DefaultSimulatorCapacity bounds the simulated staging area.
const DefaultSimulatorCapacity = 64 * 1024

// Simulator is an in-memory firmware device. It stages written blocks,
// enforces contiguous offsets and applies the new version on update, which
// makes it usable both as a stand-in device and as a test oracle.
type Simulator struct {
	mu          sync.Mutex
	version     update.Version
	capacity    uint32
	staged      []byte
	nextVersion *update.Version
	starts      int
	writes      int
	syncs       int
}

// NewSimulator creates a simulator running the given firmware version.
func NewSimulator(version []byte) *Simulator {
	v, err := update.VersionFromSlice(version)
	if err != nil {
		panic(err)
	}
	return &Simulator{version: v, capacity: DefaultSimulatorCapacity}
}

// Version returns the currently running firmware version.
func (s *Simulator) Version() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.version
	out := make([]byte, len(v.Bytes()))
	copy(out, v.Bytes())
	return out
}

// Staged returns a copy of the staged firmware image.
func (s *Simulator) Staged() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.staged))
	copy(out, s.staged)
	return out
}

// Counts returns the number of start, write and synced calls observed.
func (s *Simulator) Counts() (starts, writes, syncs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.writes, s.syncs
}

// MTU implements update.Device.
func (s *Simulator) MTU() uint32 {
	return SimulatorMTU
}

// Status implements update.Device.
func (s *Simulator) Status(ctx context.Context) (update.FirmwareStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := update.FirmwareStatus{CurrentVersion: s.version}
	if s.nextVersion != nil {
		v := *s.nextVersion
		st.NextVersion = &v
		st.NextOffset = uint32(len(s.staged))
	}
	return st, nil
}

// Start implements update.Device. Any previously staged image is discarded.
func (s *Simulator) Start(ctx context.Context, version []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := update.VersionFromSlice(version)
	if err != nil {
		return err
	}
	s.staged = s.staged[:0]
	s.nextVersion = &v
	s.starts++
	return nil
}

// Write implements update.Device. The offset must be the next expected one.
func (s *Simulator) Write(ctx context.Context, offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextVersion == nil {
		return fmt.Errorf("write before start")
	}
	if offset != uint32(len(s.staged)) {
		return fmt.Errorf("write at offset %d, expected %d", offset, len(s.staged))
	}
	if offset+uint32(len(data)) > s.capacity {
		return fmt.Errorf("write of %d bytes at offset %d exceeds capacity %d", len(data), offset, s.capacity)
	}
	s.staged = append(s.staged, data...)
	s.writes++
	return nil
}

// Update implements update.Device. The checksum is accepted unverified; the
// simulator has no notion of image integrity.
func (s *Simulator) Update(ctx context.Context, version, checksum []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := update.VersionFromSlice(version)
	if err != nil {
		return err
	}
	if s.nextVersion == nil || !s.nextVersion.Equal(version) {
		return fmt.Errorf("update for version %q does not match staged version", version)
	}
	s.version = v
	s.nextVersion = nil
	return nil
}

// Synced implements update.Device.
func (s *Simulator) Synced(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return nil
}
