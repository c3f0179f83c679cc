package camera

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/exposure"
)

// ErrNoSideExposure is returned by exposure calls on a backend without the
// per-side extension unit.
var ErrNoSideExposure = errors.New("backend has no per-side exposure control")

// EyeOptions configures NewEyeCamera. The zero value selects the Neon eye
// sensor with auto exposure.
type EyeOptions struct {
	Spec        capture.CameraSpec
	MaxExposure float64
	Mode        exposure.Mode

	// Manual disables the exposure loop entirely; SetExposure still works.
	Manual bool

	// OnExposure, if set, is called after every loop-driven write attempt
	// with the values sent to both sides.
	OnExposure func(timestamp float64, values [2]int)

	Logger *log.Logger
}

// EyeCamera is the combined left/right eye sensor. Every frame it returns
// is also fed to the auto-exposure controller, whose targets are written
// back to the sensor on a throttled cadence.
type EyeCamera struct {
	*Camera

	exposer    capture.SideExposer
	gainer     capture.SideGainer
	controller *exposure.Controller
	onExposure func(float64, [2]int)

	failures atomic.Int64
}

// NewEyeCamera opens the eye sensor.
func NewEyeCamera(open Opener, opts EyeOptions) (*EyeCamera, error) {
	spec := opts.Spec
	if spec.Name == "" {
		spec = capture.EyeCameraSpec
	}
	maxExposure := opts.MaxExposure
	if maxExposure <= 0 {
		maxExposure = exposure.DefaultMaxExposure
	}

	cam, err := New(spec, open, opts.Logger)
	if err != nil {
		return nil, err
	}

	e := &EyeCamera{Camera: cam, onExposure: opts.OnExposure}
	e.exposer, _ = cam.backend.(capture.SideExposer)
	e.gainer, _ = cam.backend.(capture.SideGainer)

	if !opts.Manual {
		if e.exposer == nil {
			cam.logger.Printf("%s: backend has no per-side exposure, auto exposure disabled", spec.Name)
		} else {
			e.controller = exposure.NewController(maxExposure, float64(spec.FPS), opts.Mode)
		}
	}
	return e, nil
}

// Controller returns the exposure controller, or nil in manual operation.
func (e *EyeCamera) Controller() *exposure.Controller {
	return e.controller
}

// GetFrame returns the next frame and runs one exposure loop step on it.
// Exposure write failures are logged and never fail the call.
func (e *EyeCamera) GetFrame() (*capture.Frame, error) {
	frame, err := e.Camera.GetFrame()
	if err != nil {
		return nil, err
	}
	if e.controller == nil {
		return frame, nil
	}

	gray, err := frame.Gray()
	if err != nil {
		e.logger.Printf("%s: exposure skipped for frame %d: %v", e.spec.Name, frame.Index, err)
		return frame, nil
	}
	values, ok := e.controller.Update(frame.Timestamp, gray)
	gray.Close()
	if !ok {
		return frame, nil
	}

	var written [2]int
	for _, side := range capture.Sides {
		written[side] = int(values[side])
		if err := e.writeExposure(side, written[side]); err != nil {
			e.logger.Printf("%s: %v (%d consecutive failures)", e.spec.Name, err, e.failures.Load())
		}
	}
	if e.onExposure != nil {
		e.onExposure(frame.Timestamp, written)
	}
	return frame, nil
}

// writeExposure sets one side and tracks consecutive failures.
func (e *EyeCamera) writeExposure(side capture.Side, value int) error {
	if e.exposer == nil {
		return ErrNoSideExposure
	}
	if err := e.exposer.SetSideExposure(side, value); err != nil {
		e.failures.Add(1)
		return fmt.Errorf("set exposure of side %d to %d: %w", side, value, err)
	}
	e.failures.Store(0)
	return nil
}

// ExposureFailures returns the number of consecutive failed exposure writes.
func (e *EyeCamera) ExposureFailures() int {
	return int(e.failures.Load())
}

// Exposure reads the current exposure of both sides. known[i] is false
// when side i could not be read.
func (e *EyeCamera) Exposure() (values [2]int, known [2]bool) {
	if e.exposer == nil {
		return values, known
	}
	for _, side := range capture.Sides {
		v, err := e.exposer.SideExposure(side)
		if err != nil {
			continue
		}
		values[side], known[side] = v, true
	}
	return values, known
}

// SetExposure writes value to both sides.
func (e *EyeCamera) SetExposure(value int) error {
	return e.SetExposurePair(value, value)
}

// SetExposurePair writes left and right exposure. Both writes are
// attempted even if the first fails.
func (e *EyeCamera) SetExposurePair(left, right int) error {
	return errors.Join(
		e.writeExposure(capture.SideLeft, left),
		e.writeExposure(capture.SideRight, right),
	)
}

// Gain reads the analog gain of both sides.
func (e *EyeCamera) Gain() (values [2]int, known [2]bool) {
	if e.gainer == nil {
		return values, known
	}
	for _, side := range capture.Sides {
		v, err := e.gainer.SideGain(side)
		if err != nil {
			continue
		}
		values[side], known[side] = v, true
	}
	return values, known
}

// SetGain writes left and right analog gain.
func (e *EyeCamera) SetGain(left, right int) error {
	if e.gainer == nil {
		return errors.New("backend has no per-side gain control")
	}
	return errors.Join(
		e.gainer.SetSideGain(capture.SideLeft, left),
		e.gainer.SetSideGain(capture.SideRight, right),
	)
}
