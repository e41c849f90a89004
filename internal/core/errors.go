package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error kinds, checkable with errors.Is. Concrete errors below unwrap to
// these sentinels so callers never need the struct types.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrDevice        = errors.New("device error")
	ErrTimeout       = errors.New("observation timeout")
	ErrInternal      = errors.New("internal error")
)

// ConfigurationError aggregates every device that failed validation at
// construction time. Construction is atomic: one failing device fails the
// whole environment.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration invalid: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Configf builds a single-problem ConfigurationError.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// DeviceError reports a rejected action or an unobtainable observation for
// one device. It is surfaced to the step/reset caller unmodified.
type DeviceError struct {
	Device string
	Reason string
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return e.Reason
	}
	return fmt.Sprintf("device %q: %s", e.Device, e.Reason)
}

func (e *DeviceError) Unwrap() error { return ErrDevice }

// Devicef builds a DeviceError for the named device.
func Devicef(device, format string, args ...any) error {
	return &DeviceError{Device: device, Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError is the DeviceError variant raised when a synchronization
// round's deadline expires. Outstanding lists exactly the devices still
// owed an observation.
type TimeoutError struct {
	Outstanding []string
	Wait        time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("observation timeout after %s: waiting for %s",
		e.Wait, strings.Join(e.Outstanding, ", "))
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrDevice, ErrTimeout} }

// InternalError marks a violated coordinator invariant: a bug, not a
// condition application code should handle.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "internal error: " + e.Reason }

func (e *InternalError) Unwrap() error { return ErrInternal }

// Internalf builds an InternalError.
func Internalf(format string, args ...any) error {
	return &InternalError{Reason: fmt.Sprintf(format, args...)}
}
