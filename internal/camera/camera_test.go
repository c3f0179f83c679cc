package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/neonusb/internal/calibration"
	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/exposure"
)

var quiet = log.New(io.Discard, "", 0)

func mockOpener(m *capture.MockBackend) Opener {
	return func(capture.CameraSpec) (capture.Backend, error) { return m, nil }
}

// splitFrame returns a 384x192 eye image with a bright left half and a
// dark right half.
func splitFrame() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 0, 0, 0), 192, 384, gocv.MatTypeCV8UC1)
	left := img.Region(image.Rect(0, 0, 192, 192))
	left.SetTo(gocv.NewScalar(240, 0, 0, 0))
	left.Close()
	return img
}

func timestamps(n int, step float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * step
	}
	return ts
}

func newEye(t *testing.T, m *capture.MockBackend, opts EyeOptions) *EyeCamera {
	t.Helper()
	opts.Logger = quiet
	eye, err := NewEyeCamera(mockOpener(m), opts)
	if err != nil {
		t.Fatalf("NewEyeCamera() error = %v", err)
	}
	return eye
}

func TestEyeCamera_ThrottledExposure(t *testing.T) {
	img := splitFrame()
	defer img.Close()

	m := capture.NewMockBackend(capture.EyeCameraSpec, []gocv.Mat{img}, true)
	m.SetTimestamps(timestamps(10, 0.005))

	var recomputations int
	eye := newEye(t, m, EyeOptions{
		Mode:       exposure.ModeAuto,
		OnExposure: func(float64, [2]int) { recomputations++ },
	})
	defer eye.Close()

	for i := 0; i < 10; i++ {
		f, err := eye.GetFrame()
		if err != nil {
			t.Fatalf("GetFrame() error = %v", err)
		}
		if f.Height() != 192 || f.Width() != 384 {
			t.Fatalf("frame = %dx%d, want 384x192", f.Width(), f.Height())
		}
		f.Close()
	}

	// frames at 35, 40 and 45 ms are past the first 33 ms check interval
	if recomputations < 3 {
		t.Errorf("recomputations = %d, want at least 3", recomputations)
	}
	if n := len(m.ExposureWrites()); n != 2*recomputations {
		t.Errorf("exposure writes = %d, want %d (one per side)", n, 2*recomputations)
	}

	got, known := eye.Exposure()
	if !known[0] || !known[1] {
		t.Fatalf("Exposure() known = %v", known)
	}
	if got[capture.SideLeft] == got[capture.SideRight] {
		t.Errorf("bright and dark side exposures should differ, both %d", got[capture.SideLeft])
	}
}

func TestEyeCamera_ExposureConverges(t *testing.T) {
	img := splitFrame()
	defer img.Close()

	m := capture.NewMockBackend(capture.EyeCameraSpec, []gocv.Mat{img}, true)
	m.SetTimestamps(timestamps(200, 0.005))

	var recomputations int
	eye := newEye(t, m, EyeOptions{
		Mode:       exposure.ModeAuto,
		OnExposure: func(float64, [2]int) { recomputations++ },
	})
	defer eye.Close()

	for i := 0; i < 200; i++ {
		f, err := eye.GetFrame()
		if err != nil {
			t.Fatalf("GetFrame() error = %v", err)
		}
		f.Close()
	}

	if recomputations < 3 {
		t.Fatalf("recomputations = %d, want at least 3", recomputations)
	}

	got, known := eye.Exposure()
	if !known[0] || !known[1] {
		t.Fatalf("Exposure() known = %v", known)
	}
	if got[capture.SideLeft] >= got[capture.SideRight] {
		t.Errorf("bright side exposure %d should be below dark side %d", got[capture.SideLeft], got[capture.SideRight])
	}
	if got[capture.SideRight] != 28 {
		t.Errorf("dark side exposure = %d, want the ceiling 28", got[capture.SideRight])
	}
}

func TestEyeCamera_ManualMode(t *testing.T) {
	img := splitFrame()
	defer img.Close()

	m := capture.NewMockBackend(capture.EyeCameraSpec, []gocv.Mat{img}, true)
	m.SetTimestamps(timestamps(20, 0.02))

	eye := newEye(t, m, EyeOptions{Mode: exposure.ModeManual})
	defer eye.Close()

	for i := 0; i < 20; i++ {
		f, err := eye.GetFrame()
		if err != nil {
			t.Fatalf("GetFrame() error = %v", err)
		}
		f.Close()
	}

	writes := m.ExposureWrites()
	if len(writes) == 0 {
		t.Fatal("manual mode issued no writes")
	}
	for _, w := range writes {
		if w.Value != 28 {
			t.Errorf("manual write %+v, want value 28", w)
		}
	}
}

func TestEyeCamera_WriteFailureIsNotFatal(t *testing.T) {
	img := splitFrame()
	defer img.Close()

	m := capture.NewMockBackend(capture.EyeCameraSpec, []gocv.Mat{img}, true)
	m.SetTimestamps(timestamps(30, 0.01))
	m.SetExposureError(errors.New("broken pipe"))

	var logs bytes.Buffer
	eye, err := NewEyeCamera(mockOpener(m), EyeOptions{Mode: exposure.ModeAuto, Logger: log.New(&logs, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	defer eye.Close()

	for i := 0; i < 30; i++ {
		f, err := eye.GetFrame()
		if err != nil {
			t.Fatalf("GetFrame() error = %v, exposure failures must not surface", err)
		}
		f.Close()
	}

	if eye.ExposureFailures() < 2 {
		t.Errorf("ExposureFailures() = %d, want consecutive failures counted", eye.ExposureFailures())
	}
	if !strings.Contains(logs.String(), "consecutive failures") {
		t.Errorf("failure not logged: %q", logs.String())
	}

	m.SetExposureError(nil)
	if err := eye.SetExposure(10); err != nil {
		t.Fatalf("SetExposure() error = %v", err)
	}
	if eye.ExposureFailures() != 0 {
		t.Errorf("ExposureFailures() = %d after a good write, want 0", eye.ExposureFailures())
	}
}

func TestEyeCamera_SetExposurePair(t *testing.T) {
	m := capture.NewMockBackend(capture.EyeCameraSpec, nil, false)
	eye := newEye(t, m, EyeOptions{Manual: true})
	defer eye.Close()

	if eye.Controller() != nil {
		t.Error("manual camera should have no controller")
	}
	if err := eye.SetExposurePair(12, 34); err != nil {
		t.Fatalf("SetExposurePair() error = %v", err)
	}
	got, known := eye.Exposure()
	if got != [2]int{12, 34} || known != [2]bool{true, true} {
		t.Errorf("Exposure() = %v %v, want [12 34]", got, known)
	}

	if err := eye.SetGain(5, 6); err != nil {
		t.Fatalf("SetGain() error = %v", err)
	}
	if g, _ := eye.Gain(); g != [2]int{5, 6} {
		t.Errorf("Gain() = %v, want [5 6]", g)
	}

	m.SetExposureError(errors.New("stall"))
	if _, known := eye.Exposure(); known[0] || known[1] {
		t.Error("failed reads should report unknown exposure")
	}
}

func TestEyeCamera_TimeoutPropagates(t *testing.T) {
	m := capture.NewMockBackend(capture.EyeCameraSpec, nil, false)
	m.SetFrameError(&capture.TimeoutError{Name: capture.EyeCameraSpec.Name, After: 2 * time.Second})
	eye := newEye(t, m, EyeOptions{})
	defer eye.Close()

	_, err := eye.GetFrame()
	if !IsDisconnect(err) {
		t.Errorf("GetFrame() error = %v, want a disconnect", err)
	}
}

func TestCamera_CloseIdempotent(t *testing.T) {
	m := capture.NewMockBackend(capture.EyeCameraSpec, nil, false)
	cam, err := New(capture.EyeCameraSpec, mockOpener(m), quiet)
	if err != nil {
		t.Fatal(err)
	}
	cam.Close()
	cam.Close()
	if m.CloseCount() != 1 {
		t.Errorf("backend closed %d times, want 1", m.CloseCount())
	}
}

func TestNew_DeviceNotFound(t *testing.T) {
	open := func(spec capture.CameraSpec) (capture.Backend, error) {
		return nil, &capture.DeviceNotFoundError{Name: spec.Name}
	}
	_, err := NewEyeCamera(open, EyeOptions{Logger: quiet})
	var nf *capture.DeviceNotFoundError
	if !errors.As(err, &nf) || nf.Name != capture.EyeCameraSpec.Name {
		t.Errorf("NewEyeCamera() error = %v, want DeviceNotFoundError with the eye camera name", err)
	}
}

func TestSceneCamera_InitialControls(t *testing.T) {
	m := capture.NewMockBackend(capture.SceneCameraSpec, nil, false)
	m.SetSupportedControls(
		capture.ControlBrightness, capture.ControlContrast, capture.ControlGain,
		capture.ControlGamma, capture.ControlAutoExposureMode, capture.ControlAbsoluteExposureTime,
	)

	var logs bytes.Buffer
	scene, err := NewSceneCamera(mockOpener(m), SceneOptions{Logger: log.New(&logs, "", 0)})
	if err != nil {
		t.Fatalf("NewSceneCamera() error = %v", err)
	}
	defer scene.Close()

	for _, c := range []ControlSetting{
		{capture.ControlContrast, 32},
		{capture.ControlGamma, 300},
		{capture.ControlAbsoluteExposureTime, 250},
	} {
		if got, _ := m.Control(c.Kind); got != c.Value {
			t.Errorf("%s = %d, want %d", c.Kind, got, c.Value)
		}
	}
	for _, name := range []string{"Backlight Compensation", "Hue", "Saturation", "Sharpness"} {
		if !strings.Contains(logs.String(), "Setting "+name) {
			t.Errorf("unsupported control %s not logged", name)
		}
	}

	if err := scene.SetExposure(500); err != nil {
		t.Fatalf("SetExposure() error = %v", err)
	}
	if got, _ := scene.Exposure(); got != 500 {
		t.Errorf("Exposure() = %d, want 500", got)
	}
}

func TestSceneCamera_Intrinsics(t *testing.T) {
	m := capture.NewMockBackend(capture.SceneCameraSpec, nil, false)
	want := calibration.Camera{
		CameraMatrix: [3][3]float64{{890, 0, 800}, {0, 890, 600}, {0, 0, 1}},
		Distortion:   [8]float64{0.1, -0.2, 0, 0, 0.05},
		Extrinsics:   [4][4]float64{{1, 0, 0, 0.01}, {0, 1, 0, -0.02}, {0, 0, 1, 0}, {0, 0, 0, 1}},
	}
	scene, err := NewSceneCamera(mockOpener(m), SceneOptions{
		Logger: quiet,
		Calibration: func() (*calibration.Calibration, error) {
			return &calibration.Calibration{Scene: want}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer scene.Close()

	in, err := scene.Intrinsics()
	if err != nil {
		t.Fatalf("Intrinsics() error = %v", err)
	}
	if in.CameraMatrix != want.CameraMatrix {
		t.Errorf("CameraMatrix = %v", in.CameraMatrix)
	}
	if in.Distortion != want.Distortion {
		t.Errorf("Distortion = %v", in.Distortion)
	}
	if in.Extrinsics != want.Extrinsics {
		t.Errorf("Extrinsics = %v", in.Extrinsics)
	}
}

func TestDevice_Lazy(t *testing.T) {
	opened := map[string]int{}
	open := func(spec capture.CameraSpec) (capture.Backend, error) {
		opened[spec.Name]++
		return capture.NewMockBackend(spec, nil, false), nil
	}

	d := NewDevice(open, EyeOptions{Logger: quiet}, SceneOptions{Logger: quiet})
	if len(opened) != 0 {
		t.Fatal("NewDevice opened cameras eagerly")
	}

	e1, _ := d.Eye()
	e2, _ := d.Eye()
	if e1 != e2 || opened[capture.EyeCameraSpec.Name] != 1 {
		t.Errorf("eye opened %d times, want 1 cached", opened[capture.EyeCameraSpec.Name])
	}
	if _, err := d.Scene(); err != nil {
		t.Fatal(err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	d.Eye()
	if opened[capture.EyeCameraSpec.Name] != 2 {
		t.Error("eye should reopen after Close")
	}
}

func TestReconnect(t *testing.T) {
	attempts := 0
	open := func() (int, error) {
		attempts++
		if attempts < 4 {
			return 0, &capture.DeviceNotFoundError{Name: "eye"}
		}
		return 42, nil
	}

	var retries []int
	got, err := Reconnect(context.Background(), time.Millisecond, open, func(n int, _ error) {
		retries = append(retries, n)
	})
	if err != nil || got != 42 {
		t.Fatalf("Reconnect() = %d, %v", got, err)
	}
	if len(retries) != 3 {
		t.Errorf("retries = %v, want 3", retries)
	}
}

func TestReconnect_FatalError(t *testing.T) {
	modeErr := &capture.ModeError{Spec: capture.EyeCameraSpec}
	attempts := 0
	_, err := Reconnect(context.Background(), time.Millisecond, func() (int, error) {
		attempts++
		return 0, modeErr
	}, nil)
	if !errors.Is(err, capture.ErrModeNotSupported) || attempts != 1 {
		t.Errorf("Reconnect() error = %v after %d attempts, want mode error after 1", err, attempts)
	}
}

func TestReconnect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Reconnect(ctx, 5*time.Millisecond, func() (int, error) {
		return 0, &capture.DeviceNotFoundError{Name: "eye"}
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Reconnect() error = %v, want DeadlineExceeded", err)
	}
}

func TestOpenerFor(t *testing.T) {
	for _, kind := range []string{"", BackendUVC, BackendV4L2} {
		if _, err := OpenerFor(kind, time.Second, quiet); err != nil {
			t.Errorf("OpenerFor(%q) error = %v", kind, err)
		}
	}
	if _, err := OpenerFor("gstreamer", time.Second, quiet); err == nil {
		t.Error("expected error for unknown backend")
	}
}
