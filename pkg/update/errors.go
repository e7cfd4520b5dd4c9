package update

import (
	"errors"
	"fmt"
)

// ErrorKind classifies updater failures.
type ErrorKind int

const (
	// KindCodec marks a malformed message on the wire.
	KindCodec ErrorKind = iota
	// KindDecodeVersion marks a received version that does not fit the
	// device's bounded version type.
	KindDecodeVersion
	// KindDevice marks a failure reported by the device back-end.
	KindDevice
	// KindService marks a failure reported by the update service.
	// Service failures are transient: the updater logs them, backs off
	// and retries.
	KindService
	// KindTimeout marks a service request that exceeded the configured
	// timeout. Transient, handled like a service failure.
	KindTimeout
	// KindDelay marks a failure to sleep.
	KindDelay
)

var kindMessages = map[ErrorKind]string{
	KindCodec:         "codec error",
	KindDecodeVersion: "version does not fit device version type",
	KindDevice:        "device error",
	KindService:       "service error",
	KindTimeout:       "service request timed out",
	KindDelay:         "delay error",
}

// String returns the human-readable kind message.
func (k ErrorKind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error kind (%d)", int(k))
}

// UpdateError is an error from the updater, tagged with the failure kind
// and preserving the underlying cause.
type UpdateError struct {
	Kind    ErrorKind
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	if e.Context != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Context, e.Kind.String(), e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Context, e.Kind.String())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind.String(), e.Cause)
	}
	return e.Kind.String()
}

// Unwrap returns the underlying cause.
func (e *UpdateError) Unwrap() error {
	return e.Cause
}

// Is matches errors with the same kind.
func (e *UpdateError) Is(target error) bool {
	var ue *UpdateError
	if errors.As(target, &ue) {
		return e.Kind == ue.Kind
	}
	return false
}

// NewError creates an UpdateError without a cause.
func NewError(kind ErrorKind, context string) *UpdateError {
	return &UpdateError{Kind: kind, Context: context}
}

// NewErrorWithCause creates an UpdateError wrapping a cause.
func NewErrorWithCause(kind ErrorKind, context string, cause error) *UpdateError {
	return &UpdateError{Kind: kind, Context: context, Cause: cause}
}

// Transient reports whether err is absorbed by the updater loop instead of
// aborting the run.
func Transient(err error) bool {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind == KindService || ue.Kind == KindTimeout
	}
	return false
}
