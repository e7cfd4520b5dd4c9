// Package testutil provides fakes and helpers shared by the package tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anthropics/purple-dfu/pkg/protocol"
	"github.com/anthropics/purple-dfu/pkg/update"
)

// Reply is one scripted response of a ScriptedService.
type Reply struct {
	// Delay postpones the response, honoring context cancellation.
	Delay time.Duration
	// Command to return. Ignored when Err is set.
	Command *protocol.Command
	// Err to return instead of a command.
	Err error
}

// ScriptedService is an update service that replays a fixed list of
// replies and records every status it receives. When the script runs out
// it keeps returning the last reply.
type ScriptedService struct {
	mu       sync.Mutex
	replies  []Reply
	next     int
	statuses []protocol.Status
}

// NewScriptedService creates a service replaying the given replies.
func NewScriptedService(replies ...Reply) *ScriptedService {
	return &ScriptedService{replies: replies}
}

// Request implements update.Service.
func (s *ScriptedService) Request(ctx context.Context, status *protocol.Status) (*protocol.Command, error) {
	s.mu.Lock()
	if len(s.replies) == 0 {
		s.mu.Unlock()
		return nil, errors.New("scripted service has no replies")
	}
	s.statuses = append(s.statuses, cloneStatus(status))
	reply := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	s.mu.Unlock()

	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Command, nil
}

// Statuses returns the statuses received so far.
func (s *ScriptedService) Statuses() []protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Status, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// cloneStatus deep-copies a status whose byte fields alias a caller buffer.
func cloneStatus(s *protocol.Status) protocol.Status {
	out := protocol.Status{Version: append(protocol.Bytes(nil), s.Version...)}
	if s.MTU != nil {
		v := *s.MTU
		out.MTU = &v
	}
	if s.CorrelationID != nil {
		v := *s.CorrelationID
		out.CorrelationID = &v
	}
	if s.Update != nil {
		out.Update = &protocol.UpdateStatus{
			Version: append(protocol.Bytes(nil), s.Update.Version...),
			Offset:  s.Update.Offset,
		}
	}
	return out
}

// Call is one recorded device operation.
type Call struct {
	// Op is one of "status", "start", "write", "update", "synced".
	Op      string
	Version []byte
	Offset  uint32
	Data    []byte
}

// RecordingDevice is a firmware device that records every call made to it.
// The reported status and MTU are configurable, as are per-operation
// failures.
type RecordingDevice struct {
	mu           sync.Mutex
	mtu          uint32
	status       update.FirmwareStatus
	calls        []Call
	failOnStart  error
	failOnWrite  error
	failOnUpdate error
}

// NewRecordingDevice creates a recording device reporting the given
// firmware status.
func NewRecordingDevice(mtu uint32, status update.FirmwareStatus) *RecordingDevice {
	return &RecordingDevice{mtu: mtu, status: status}
}

// SetFailOnStart makes Start return err.
func (d *RecordingDevice) SetFailOnStart(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnStart = err
}

// SetFailOnWrite makes Write return err.
func (d *RecordingDevice) SetFailOnWrite(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnWrite = err
}

// SetFailOnUpdate makes Update return err.
func (d *RecordingDevice) SetFailOnUpdate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnUpdate = err
}

// Calls returns the operations recorded so far.
func (d *RecordingDevice) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsOf returns the recorded operations with the given name.
func (d *RecordingDevice) CallsOf(op string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MTU implements update.Device.
func (d *RecordingDevice) MTU() uint32 {
	return d.mtu
}

// Status implements update.Device.
func (d *RecordingDevice) Status(ctx context.Context) (update.FirmwareStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "status"})
	return d.status, nil
}

// Start implements update.Device.
func (d *RecordingDevice) Start(ctx context.Context, version []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "start", Version: append([]byte(nil), version...)})
	return d.failOnStart
}

// Write implements update.Device.
func (d *RecordingDevice) Write(ctx context.Context, offset uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "write", Offset: offset, Data: append([]byte(nil), data...)})
	return d.failOnWrite
}

// Update implements update.Device.
func (d *RecordingDevice) Update(ctx context.Context, version, checksum []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "update", Version: append([]byte(nil), version...), Data: append([]byte(nil), checksum...)})
	return d.failOnUpdate
}

// Synced implements update.Device.
func (d *RecordingDevice) Synced(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "synced"})
	return nil
}
