// Package camera wraps capture backends in the device-independent eye and
// scene camera API.
package camera

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/uvc"
	"github.com/ayusman/neonusb/internal/v4l"
)

// Opener constructs a backend for spec. It fails with a
// *capture.DeviceNotFoundError when no matching device is connected.
type Opener func(spec capture.CameraSpec) (capture.Backend, error)

// Backend kinds accepted by OpenerFor.
const (
	BackendUVC  = "uvc"
	BackendV4L2 = "v4l2"
)

// OpenerFor returns the opener for a backend kind.
func OpenerFor(kind string, timeout time.Duration, logger *log.Logger) (Opener, error) {
	switch kind {
	case BackendUVC, "":
		return func(spec capture.CameraSpec) (capture.Backend, error) {
			return uvc.Open(spec, uvc.Options{Timeout: timeout, Logger: logger})
		}, nil
	case BackendV4L2:
		return func(spec capture.CameraSpec) (capture.Backend, error) {
			return v4l.Open(spec, v4l.Options{Timeout: timeout, Logger: logger})
		}, nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", kind)
	}
}

// Camera forwards frame acquisition to its backend.
type Camera struct {
	spec    capture.CameraSpec
	backend capture.Backend
	logger  *log.Logger

	closed bool
	mu     sync.Mutex
}

// New opens a backend for spec.
func New(spec capture.CameraSpec, open Opener, logger *log.Logger) (*Camera, error) {
	if logger == nil {
		logger = log.Default()
	}
	backend, err := open(spec)
	if err != nil {
		return nil, err
	}
	return &Camera{spec: spec, backend: backend, logger: logger}, nil
}

// Spec returns the camera descriptor.
func (c *Camera) Spec() capture.CameraSpec {
	return c.spec
}

// Backend returns the underlying backend.
func (c *Camera) Backend() capture.Backend {
	return c.backend
}

// GetFrame blocks until the backend delivers a frame or times out.
// The caller owns the returned frame.
func (c *Camera) GetFrame() (*capture.Frame, error) {
	return c.backend.GetFrame()
}

// Close releases the backend. Closing twice is a no-op.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.backend.Close()
}
