package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDeviceNotFound is matched by every DeviceNotFoundError.
	ErrDeviceNotFound = errors.New("camera not found")

	// ErrModeNotSupported is matched by every ModeError.
	ErrModeNotSupported = errors.New("no matching capture mode")

	// ErrFrameTimeout is matched by every TimeoutError. Callers treat it as
	// the disconnect signal.
	ErrFrameTimeout = errors.New("timed out waiting for frame")

	// ErrClosed is returned when a backend is used after Close.
	ErrClosed = errors.New("camera is closed")

	// ErrControlUnsupported is returned for controls the device does not expose.
	ErrControlUnsupported = errors.New("control not supported")

	// ErrUnsupportedFormat is returned for pixel layouts other than gray or BGR.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// DeviceNotFoundError reports that no connected device matched a CameraSpec.
type DeviceNotFoundError struct {
	Name string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("camera %q not found", e.Name)
}

// Is reports whether target is ErrDeviceNotFound.
func (e *DeviceNotFoundError) Is(target error) bool {
	return target == ErrDeviceNotFound
}

// ModeError reports that a device was found but advertises no mode equal to
// the requested width, height and frame rate.
type ModeError struct {
	Spec      CameraSpec
	Available []Mode
}

func (e *ModeError) Error() string {
	modes := make([]string, len(e.Available))
	for i, m := range e.Available {
		modes[i] = m.String()
	}
	return fmt.Sprintf("camera %q: none of the available modes matched %dx%d@%d: [%s]",
		e.Spec.Name, e.Spec.Width, e.Spec.Height, e.Spec.FPS, strings.Join(modes, ", "))
}

// Is reports whether target is ErrModeNotSupported.
func (e *ModeError) Is(target error) bool {
	return target == ErrModeNotSupported
}

// TimeoutError reports a GetFrame call that exceeded its deadline.
type TimeoutError struct {
	Name  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("camera %q: no frame within %s", e.Name, e.After)
}

// Is reports whether target is ErrFrameTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrFrameTimeout
}
