package update

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anthropics/purple-dfu/pkg/protocol"
)

// State is the outcome of an update run.
type State int

const (
	// Synced means the device firmware matches the service target.
	Synced State = iota
	// Updated means new firmware has been written and armed; the caller
	// is responsible for resetting the device to boot it.
	Updated
)

// String returns the outcome name.
func (s State) String() string {
	switch s {
	case Synced:
		return "synced"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// DeviceStatus is the device state as determined after running the updater.
type DeviceStatus struct {
	State State
	// Poll is the delay in seconds before running the updater again: the
	// service's hint when it gave a non-zero one, otherwise the configured
	// backoff in whole seconds. Only set for Synced.
	Poll *uint32
}

// Config holds the updater timing parameters.
type Config struct {
	// Timeout bounds each service request, including any transport
	// round-trip.
	Timeout time.Duration
	// Backoff is the delay between iterations when the service gave no
	// polling hint, and after transient failures. It is applied in whole
	// seconds; any fraction of a second is dropped.
	Backoff time.Duration
	// Logger receives debug output from the update loop. Defaults to the
	// standard logrus logger.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default updater configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		Backoff: 1 * time.Second,
	}
}

// Updater drives a device through the firmware update protocol against an
// update service. The updater owns the service; the device and delay are
// supplied per run.
type Updater struct {
	service Service
	timeout time.Duration
	backoff time.Duration
	log     logrus.FieldLogger
}

// New creates an updater for the given service.
func New(service Service, cfg Config) *Updater {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Updater{
		service: service,
		timeout: cfg.Timeout,
		backoff: cfg.Backoff,
		log:     log,
	}
}

// updaterState mirrors the device's update progress between iterations so
// successive status messages can be built without re-querying the device.
type updaterState struct {
	currentVersion Version
	nextOffset     uint32
	nextVersion    *Version
}

// Run executes the firmware update protocol until the device is in sync or
// updated. On Updated it is the caller's responsibility to reset the device
// so the new firmware boots.
//
// Transient failures (service errors and request timeouts) are absorbed:
// the updater backs off and retries with unchanged state. Any error returned
// by the service, including its own codec errors, counts as a service
// failure. Device, version decoding and delay failures abort the run.
func (u *Updater) Run(ctx context.Context, device Device, delay Delay) (DeviceStatus, error) {
	synced, poll, err := u.check(ctx, device, delay)
	if err != nil {
		return DeviceStatus{}, err
	}
	if synced {
		return DeviceStatus{State: Synced, Poll: poll}, nil
	}
	return DeviceStatus{State: Updated}, nil
}

func (u *Updater) check(ctx context.Context, device Device, delay Delay) (bool, *uint32, error) {
	initial, err := device.Status(ctx)
	if err != nil {
		return false, nil, NewErrorWithCause(KindDevice, "reading device status", err)
	}
	state := updaterState{
		currentVersion: initial.CurrentVersion,
		nextOffset:     initial.NextOffset,
		nextVersion:    initial.NextVersion,
	}
	mtu := device.MTU()

	for {
		var status *protocol.Status
		if state.nextVersion != nil {
			status = protocol.NextStatus(state.currentVersion.Bytes(), &mtu, state.nextOffset, state.nextVersion.Bytes(), nil)
		} else {
			status = protocol.FirstStatus(state.currentVersion.Bytes(), &mtu, nil)
		}
		u.log.WithFields(logrus.Fields{
			"version": state.currentVersion.String(),
			"offset":  state.nextOffset,
		}).Debug("sending status")

		next := state
		backoff := uint32(u.backoff / time.Second)
		pollOpt := &backoff

		cmd, err := u.exchange(ctx, delay, status)
		switch {
		case err == nil:
			switch cmd.Tag {
			case protocol.TagWrite:
				if cmd.Offset == 0 {
					u.log.WithFields(logrus.Fields{
						"from": state.currentVersion.String(),
						"to":   string(cmd.Version),
					}).Debug("starting firmware write")
					if err := device.Start(ctx, cmd.Version); err != nil {
						return false, nil, NewErrorWithCause(KindDevice, "starting firmware write", err)
					}
					next.nextOffset = 0
				}
				if err := device.Write(ctx, cmd.Offset, cmd.Data); err != nil {
					return false, nil, NewErrorWithCause(KindDevice, "writing firmware block", err)
				}
				next.nextOffset += uint32(len(cmd.Data))
				v, err := VersionFromSlice(cmd.Version)
				if err != nil {
					return false, nil, NewErrorWithCause(KindDecodeVersion, "decoding target version", err)
				}
				next.nextVersion = &v

			case protocol.TagSync:
				if len(cmd.Version) > 0 && !state.currentVersion.Equal(cmd.Version) {
					u.log.WithField("version", string(cmd.Version)).Debug("sync for foreign version, retrying")
					break
				}
				u.log.Debug("device firmware is up to date")
				if err := device.Synced(ctx); err != nil {
					return false, nil, NewErrorWithCause(KindDevice, "confirming sync", err)
				}
				if cmd.Poll != nil && *cmd.Poll > 0 {
					pollOpt = cmd.Poll
				}
				return true, pollOpt, nil

			case protocol.TagWait:
				u.log.WithField("poll", cmd.Poll).Debug("instructed to wait")
				if cmd.Poll != nil && *cmd.Poll > 0 {
					pollOpt = cmd.Poll
				}

			case protocol.TagSwap:
				u.log.Debug("swapping firmware")
				if err := device.Update(ctx, cmd.Version, cmd.Checksum); err != nil {
					return false, nil, NewErrorWithCause(KindDevice, "swapping firmware", err)
				}
				return false, nil, nil
			}

		case Transient(err):
			u.log.WithError(err).Debug("error reporting status")

		default:
			return false, nil, err
		}

		state = next
		if pollOpt != nil {
			if err := delay.DelayMs(ctx, *pollOpt*1000); err != nil {
				if ctx.Err() != nil {
					return false, nil, ctx.Err()
				}
				return false, nil, NewErrorWithCause(KindDelay, "waiting before next status", err)
			}
		}
	}
}

// exchange races the service request against the configured timeout. The
// loser is cancelled: a timed-out request has its context cancelled and its
// eventual result discarded, so it cannot commit any state.
func (u *Updater) exchange(ctx context.Context, delay Delay, status *protocol.Status) (*protocol.Command, error) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()
	timerCtx, cancelTimer := context.WithCancel(ctx)
	defer cancelTimer()

	type result struct {
		cmd *protocol.Command
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		cmd, err := u.service.Request(reqCtx, status)
		resCh <- result{cmd, err}
	}()

	timerCh := make(chan error, 1)
	go func() {
		timerCh <- delay.DelayMs(timerCtx, uint32(u.timeout/time.Millisecond))
	}()

	select {
	case r := <-resCh:
		cancelTimer()
		if r.err != nil {
			return nil, NewErrorWithCause(KindService, "requesting command", r.err)
		}
		return r.cmd, nil
	case terr := <-timerCh:
		cancelReq()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if terr != nil {
			return nil, NewErrorWithCause(KindDelay, "running request timer", terr)
		}
		return nil, NewError(KindTimeout, "requesting command")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
