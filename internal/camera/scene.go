package camera

import (
	"errors"
	"log"

	"github.com/ayusman/neonusb/internal/calibration"
	"github.com/ayusman/neonusb/internal/capture"
)

// ControlSetting is one initial control value.
type ControlSetting struct {
	Kind  capture.ControlKind
	Value int
}

// DefaultSceneControls is applied to the scene camera on open.
var DefaultSceneControls = []ControlSetting{
	{capture.ControlBacklightCompensation, 2},
	{capture.ControlBrightness, 0},
	{capture.ControlContrast, 32},
	{capture.ControlGain, 64},
	{capture.ControlHue, 0},
	{capture.ControlSaturation, 64},
	{capture.ControlSharpness, 50},
	{capture.ControlGamma, 300},
	{capture.ControlAutoExposureMode, 1},
	{capture.ControlAbsoluteExposureTime, 250},
}

// SceneOptions configures NewSceneCamera. The zero value selects the Neon
// scene camera with DefaultSceneControls.
type SceneOptions struct {
	Spec     capture.CameraSpec
	Controls []ControlSetting

	// Calibration reads the module calibration for Intrinsics; nil reads it
	// from the connected Neon module.
	Calibration func() (*calibration.Calibration, error)

	Logger *log.Logger
}

// SceneCamera is the forward-facing camera. It has no exposure loop.
type SceneCamera struct {
	*Camera

	controls    capture.Controller
	calibration func() (*calibration.Calibration, error)
}

// NewSceneCamera opens the scene camera and applies its initial controls.
// Controls the device does not have are logged and skipped.
func NewSceneCamera(open Opener, opts SceneOptions) (*SceneCamera, error) {
	spec := opts.Spec
	if spec.Name == "" {
		spec = capture.SceneCameraSpec
	}
	settings := opts.Controls
	if settings == nil {
		settings = DefaultSceneControls
	}
	readCalibration := opts.Calibration
	if readCalibration == nil {
		readCalibration = func() (*calibration.Calibration, error) {
			return calibration.ReadDevice("Neon", capture.NeonVendorID, capture.NeonProductID)
		}
	}

	cam, err := New(spec, open, opts.Logger)
	if err != nil {
		return nil, err
	}

	s := &SceneCamera{Camera: cam, calibration: readCalibration}
	s.controls, _ = cam.backend.(capture.Controller)
	s.apply(settings)
	return s, nil
}

func (s *SceneCamera) apply(settings []ControlSetting) {
	if s.controls == nil {
		s.logger.Printf("%s: backend has no standard controls, initial settings skipped", s.spec.Name)
		return
	}
	for _, c := range settings {
		if !s.controls.SupportsControl(c.Kind) {
			s.logger.Printf("Setting %s to %d failed: unknown control", c.Kind, c.Value)
			continue
		}
		if err := s.controls.SetControl(c.Kind, c.Value); err != nil {
			s.logger.Printf("Setting %s to %d failed: %v", c.Kind, c.Value, err)
		}
	}
}

// Exposure returns the absolute exposure time control.
func (s *SceneCamera) Exposure() (int, error) {
	if s.controls == nil {
		return 0, capture.ErrControlUnsupported
	}
	return s.controls.Control(capture.ControlAbsoluteExposureTime)
}

// SetExposure writes the absolute exposure time control.
func (s *SceneCamera) SetExposure(value int) error {
	if s.controls == nil {
		return capture.ErrControlUnsupported
	}
	return s.controls.SetControl(capture.ControlAbsoluteExposureTime, value)
}

// Intrinsics returns the scene camera matrix and distortion coefficients
// from the module calibration.
func (s *SceneCamera) Intrinsics() (calibration.Intrinsics, error) {
	cal, err := s.calibration()
	if err != nil {
		return calibration.Intrinsics{}, err
	}
	if cal == nil {
		return calibration.Intrinsics{}, errors.New("no calibration")
	}
	return cal.SceneIntrinsics(), nil
}
