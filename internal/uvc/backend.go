package uvc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/neonusb/internal/capture"
)

// DefaultTimeout is how long GetFrame waits for the device.
const DefaultTimeout = 2 * time.Second

// controlProps maps the standard controls onto OpenCV capture properties.
var controlProps = map[capture.ControlKind]gocv.VideoCaptureProperties{
	capture.ControlBacklightCompensation: gocv.VideoCaptureBacklight,
	capture.ControlBrightness:            gocv.VideoCaptureBrightness,
	capture.ControlContrast:              gocv.VideoCaptureContrast,
	capture.ControlGain:                  gocv.VideoCaptureGain,
	capture.ControlHue:                   gocv.VideoCaptureHue,
	capture.ControlSaturation:            gocv.VideoCaptureSaturation,
	capture.ControlSharpness:             gocv.VideoCaptureSharpness,
	capture.ControlGamma:                 gocv.VideoCaptureGamma,
	capture.ControlAutoExposureMode:      gocv.VideoCaptureAutoExposure,
	capture.ControlAbsoluteExposureTime:  gocv.VideoCaptureExposure,
}

// Options tunes Open. The zero value is usable.
type Options struct {
	// Timeout bounds each GetFrame; zero selects DefaultTimeout.
	Timeout time.Duration

	// Resolver locates the video node; nil selects DefaultResolver.
	Resolver *NodeResolver

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// frameReader is the part of capture.VideoCapture the backend drives.
type frameReader interface {
	Read(timeout time.Duration) (gocv.Mat, error)
	Set(prop gocv.VideoCaptureProperties, value float64) error
	Get(prop gocv.VideoCaptureProperties) (float64, error)
	Close() error
}

// Backend is the capture-library camera backend. The device is found by
// USB vendor and product id, its mode is negotiated against the modes in
// its configuration descriptor, and frames are read through OpenCV.
type Backend struct {
	spec    capture.CameraSpec
	mode    capture.Mode
	node    string
	timeout time.Duration
	logger  *log.Logger

	video    frameReader
	file     *os.File
	xu       *XU
	controls capture.ControlTable[gocv.VideoCaptureProperties]

	counter int64
	closed  atomic.Bool
	mu      sync.Mutex // serialises reads with Close
}

// Open finds, configures and starts the camera described by spec.
func Open(spec capture.CameraSpec, opts Options) (*Backend, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	resolver := DefaultResolver
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	dev, err := OpenDevice(spec.Name, spec.VendorID, spec.ProductID)
	if err != nil {
		return nil, err
	}
	modes, err := ReadModes(dev)
	dev.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	mode, err := capture.MatchMode(spec, modes)
	if err != nil {
		return nil, err
	}

	node, err := resolver.Resolve(spec.Name, spec.VendorID, spec.ProductID)
	if err != nil {
		return nil, err
	}

	video, err := capture.OpenVideoCapture(node, mode.Format, mode.Width, mode.Height, mode.FPS)
	if err != nil {
		return nil, fmt.Errorf("open %s on %s: %w", spec.Name, node, err)
	}

	file, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		video.Close()
		return nil, fmt.Errorf("open %s control node %s: %w", spec.Name, node, err)
	}

	b := &Backend{
		spec:    spec,
		mode:    mode,
		node:    node,
		timeout: timeout,
		logger:  logger,
		video:   video,
		file:    file,
		xu:      NewXU(NewIoctlQuerier(file.Fd())),
		counter: -1,
	}
	b.resolveControls()

	logger.Printf("Opened %s on %s (%s)", spec.Name, node, mode)
	return b, nil
}

// resolveControls records which standard controls the driver reports.
func (b *Backend) resolveControls() {
	for kind, prop := range controlProps {
		v, err := b.video.Get(prop)
		if err != nil || v == -1 {
			continue
		}
		b.controls.Set(kind, prop)
	}
}

func (b *Backend) Spec() capture.CameraSpec {
	return b.spec
}

// Mode returns the negotiated capture mode.
func (b *Backend) Mode() capture.Mode {
	return b.mode
}

// Node returns the /dev/videoN path in use.
func (b *Backend) Node() string {
	return b.node
}

func (b *Backend) GetFrame() (*capture.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, capture.ErrClosed
	}

	img, err := b.video.Read(b.timeout)
	if err != nil {
		if errors.Is(err, capture.ErrFrameTimeout) {
			return nil, &capture.TimeoutError{Name: b.spec.Name, After: b.timeout}
		}
		return nil, fmt.Errorf("%s: %w", b.spec.Name, err)
	}

	b.counter++
	return capture.NewFrame(b.shape(img), capture.Monotonic(), b.counter), nil
}

// shape restores the mode's geometry on raw GREY reads. With RGB conversion
// off, OpenCV hands back the driver buffer as a single row.
func (b *Backend) shape(img gocv.Mat) gocv.Mat {
	w, h := b.mode.Width, b.mode.Height
	if img.Rows() != 1 || h <= 1 || img.Channels() != 1 || img.Cols() != w*h {
		return img
	}
	view := img.Reshape(1, h)
	shaped := view.Clone()
	view.Close()
	img.Close()
	return shaped
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.video.Close()
	if b.file != nil {
		if ferr := b.file.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

func (b *Backend) SetSideExposure(side capture.Side, value int) error {
	if b.closed.Load() {
		return capture.ErrClosed
	}
	return b.xu.SetSideExposure(side, value)
}

func (b *Backend) SideExposure(side capture.Side) (int, error) {
	if b.closed.Load() {
		return 0, capture.ErrClosed
	}
	return b.xu.SideExposure(side)
}

func (b *Backend) SetSideGain(side capture.Side, value int) error {
	if b.closed.Load() {
		return capture.ErrClosed
	}
	return b.xu.SetSideGain(side, value)
}

func (b *Backend) SideGain(side capture.Side) (int, error) {
	if b.closed.Load() {
		return 0, capture.ErrClosed
	}
	return b.xu.SideGain(side)
}

func (b *Backend) SupportsControl(kind capture.ControlKind) bool {
	_, ok := b.controls.Lookup(kind)
	return ok
}

func (b *Backend) SetControl(kind capture.ControlKind, value int) error {
	prop, ok := b.controls.Lookup(kind)
	if !ok {
		return fmt.Errorf("%s: %w", kind, capture.ErrControlUnsupported)
	}
	return b.video.Set(prop, float64(value))
}

func (b *Backend) Control(kind capture.ControlKind) (int, error) {
	prop, ok := b.controls.Lookup(kind)
	if !ok {
		return 0, fmt.Errorf("%s: %w", kind, capture.ErrControlUnsupported)
	}
	v, err := b.video.Get(prop)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

var (
	_ capture.Backend     = (*Backend)(nil)
	_ capture.SideExposer = (*Backend)(nil)
	_ capture.SideGainer  = (*Backend)(nil)
	_ capture.Controller  = (*Backend)(nil)
)
