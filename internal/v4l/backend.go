package v4l

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
	"gocv.io/x/gocv"

	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/uvc"
)

// DefaultTimeout is the streaming wait before GetFrame reports a timeout.
const DefaultTimeout = 2 * time.Second

// V4L2 control ids for the standard controls.
var controlIDs = map[capture.ControlKind]webcam.ControlID{
	capture.ControlBrightness:            0x00980900,
	capture.ControlContrast:              0x00980901,
	capture.ControlSaturation:            0x00980902,
	capture.ControlHue:                   0x00980903,
	capture.ControlGamma:                 0x00980910,
	capture.ControlGain:                  0x00980913,
	capture.ControlSharpness:             0x0098091b,
	capture.ControlBacklightCompensation: 0x0098091c,
	capture.ControlAutoExposureMode:      0x009a0901,
	capture.ControlAbsoluteExposureTime:  0x009a0902,
}

// Options tunes Open. The zero value scans /dev with the real webcam
// driver.
type Options struct {
	// DevRoot is scanned for video* nodes; "" selects /dev.
	DevRoot string

	// Timeout is rounded up to whole seconds; zero selects DefaultTimeout.
	Timeout time.Duration

	// Open defaults to OpenWebcam.
	Open OpenFunc

	// OpenControl defaults to OpenIoctl.
	OpenControl ControlFunc

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Backend is the kernel-video camera backend. The device node is found by
// name, negotiated against its enumerated format, size and interval
// combinations, and streamed through V4L2 mmap buffers.
type Backend struct {
	spec    capture.CameraSpec
	path    string
	format  webcam.PixelFormat
	timeout time.Duration
	logger  *log.Logger

	cam          Device
	xu           *uvc.XU
	closeControl func() error
	controls     capture.ControlTable[webcam.ControlID]

	counter int64
	closed  atomic.Bool
	mu      sync.Mutex
}

// candidate is one (format, size, rate) a device offers.
type candidate struct {
	format webcam.PixelFormat
	width  uint32
	height uint32
	fps    int
}

// Open scans the video nodes for the first capture device whose name
// contains spec.Name and configures it for spec's exact mode.
func Open(spec capture.CameraSpec, opts Options) (*Backend, error) {
	if opts.DevRoot == "" {
		opts.DevRoot = "/dev"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Open == nil {
		opts.Open = OpenWebcam
	}
	if opts.OpenControl == nil {
		opts.OpenControl = OpenIoctl
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	paths, err := scanNodes(opts.DevRoot)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		cam, err := opts.Open(path)
		if err != nil {
			continue
		}
		name, err := cam.GetName()
		if err != nil || !strings.Contains(name, spec.Name) {
			cam.Close()
			continue
		}

		b, err := configure(cam, path, spec, opts, logger)
		if err != nil {
			cam.Close()
			return nil, err
		}
		return b, nil
	}

	return nil, &capture.DeviceNotFoundError{Name: spec.Name}
}

func configure(cam Device, path string, spec capture.CameraSpec, opts Options, logger *log.Logger) (*Backend, error) {
	candidates := enumerate(cam, spec)

	var chosen *candidate
	for i := range candidates {
		c := &candidates[i]
		if int(c.width) == spec.Width && int(c.height) == spec.Height && c.fps == spec.FPS {
			chosen = c
			break
		}
	}
	if chosen == nil {
		modes := make([]capture.Mode, len(candidates))
		for i, c := range candidates {
			modes[i] = capture.Mode{Format: fourcc(c.format), Width: int(c.width), Height: int(c.height), FPS: c.fps}
		}
		return nil, &capture.ModeError{Spec: spec, Available: modes}
	}

	format, w, h, err := cam.SetImageFormat(chosen.format, chosen.width, chosen.height)
	if err != nil {
		return nil, fmt.Errorf("%s: set format: %w", spec.Name, err)
	}
	if format != chosen.format || w != chosen.width || h != chosen.height {
		return nil, fmt.Errorf("%s: driver chose %s %dx%d", spec.Name, fourcc(format), w, h)
	}
	if err := cam.SetFramerate(float32(chosen.fps)); err != nil {
		return nil, fmt.Errorf("%s: set frame rate: %w", spec.Name, err)
	}
	if err := cam.StartStreaming(); err != nil {
		return nil, fmt.Errorf("%s: start streaming: %w", spec.Name, err)
	}

	q, closeControl, err := opts.OpenControl(path)
	if err != nil {
		cam.StopStreaming()
		return nil, fmt.Errorf("%s: open control channel: %w", spec.Name, err)
	}

	b := &Backend{
		spec:         spec,
		path:         path,
		format:       format,
		timeout:      opts.Timeout,
		logger:       logger,
		cam:          cam,
		xu:           uvc.NewXU(q),
		closeControl: closeControl,
		counter:      -1,
	}

	available := cam.GetControls()
	for kind, id := range controlIDs {
		if _, ok := available[id]; ok {
			b.controls.Set(kind, id)
		}
	}

	logger.Printf("Opened %s on %s (%s %dx%d@%d)", spec.Name, path, fourcc(format), w, h, chosen.fps)
	return b, nil
}

// enumerate lists every format x size x interval the device offers at the
// spec's size. Stepwise ranges are expanded only at that size.
func enumerate(cam Device, spec capture.CameraSpec) []candidate {
	formats := cam.GetSupportedFormats()
	pixfmts := make([]webcam.PixelFormat, 0, len(formats))
	for f := range formats {
		pixfmts = append(pixfmts, f)
	}
	// deterministic order: GREY first, then MJPEG, then the rest
	sortFormats(pixfmts)

	var out []candidate
	for _, f := range pixfmts {
		for _, size := range cam.GetSupportedFrameSizes(f) {
			for _, wh := range sizesFor(size, spec) {
				for _, rate := range cam.GetSupportedFramerates(f, wh[0], wh[1]) {
					for _, fps := range ratesFor(rate, spec.FPS) {
						out = append(out, candidate{format: f, width: wh[0], height: wh[1], fps: fps})
					}
				}
			}
		}
	}
	return out
}

func sizesFor(s webcam.FrameSize, spec capture.CameraSpec) [][2]uint32 {
	if s.MinWidth == s.MaxWidth && s.MinHeight == s.MaxHeight {
		return [][2]uint32{{s.MinWidth, s.MinHeight}}
	}
	w, h := uint32(spec.Width), uint32(spec.Height)
	if inRange(w, s.MinWidth, s.MaxWidth, s.StepWidth) && inRange(h, s.MinHeight, s.MaxHeight, s.StepHeight) {
		return [][2]uint32{{w, h}}
	}
	return nil
}

func ratesFor(r webcam.FrameRate, want int) []int {
	if r.MinNumerator == r.MaxNumerator && r.MinDenominator == r.MaxDenominator {
		if r.MinNumerator == 0 {
			return nil
		}
		return []int{intervalFPS(r.MinNumerator, r.MinDenominator)}
	}
	// stepwise interval: offer want if its interval lies inside the range
	if want <= 0 || r.MinNumerator == 0 || r.MaxNumerator == 0 {
		return nil
	}
	lo := float64(r.MinNumerator) / float64(r.MinDenominator)
	hi := float64(r.MaxNumerator) / float64(r.MaxDenominator)
	if iv := 1 / float64(want); iv >= lo && iv <= hi {
		return []int{want}
	}
	return nil
}

func intervalFPS(num, den uint32) int {
	return int(math.Round(float64(den) / float64(num)))
}

func inRange(v, lo, hi, step uint32) bool {
	if v < lo || v > hi {
		return false
	}
	return step == 0 || (v-lo)%step == 0
}

func sortFormats(fs []webcam.PixelFormat) {
	rank := func(f webcam.PixelFormat) int {
		switch f {
		case PixelFormatGREY:
			return 0
		case PixelFormatMJPEG:
			return 1
		default:
			return 2
		}
	}
	sort.Slice(fs, func(i, j int) bool {
		if ri, rj := rank(fs[i]), rank(fs[j]); ri != rj {
			return ri < rj
		}
		return fs[i] < fs[j]
	})
}

func fourcc(f webcam.PixelFormat) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

func (b *Backend) Spec() capture.CameraSpec {
	return b.spec
}

// Path returns the device node in use.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) GetFrame() (*capture.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, capture.ErrClosed
	}

	secs := uint32(math.Ceil(b.timeout.Seconds()))
	if err := b.cam.WaitForFrame(secs); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return nil, &capture.TimeoutError{Name: b.spec.Name, After: b.timeout}
		}
		return nil, fmt.Errorf("%s: wait for frame: %w", b.spec.Name, err)
	}

	buf, err := b.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%s: read frame: %w", b.spec.Name, err)
	}
	if len(buf) == 0 {
		return nil, &capture.TimeoutError{Name: b.spec.Name, After: b.timeout}
	}
	ts := capture.Monotonic()

	img, err := b.decode(buf)
	if err != nil {
		return nil, err
	}

	b.counter++
	return capture.NewFrame(img, ts, b.counter), nil
}

// decode turns a buffer into a Mat: GREY planes are reshaped to the CameraSpec's
// size, MJPEG payloads are decoded to BGR.
func (b *Backend) decode(buf []byte) (gocv.Mat, error) {
	switch b.format {
	case PixelFormatGREY:
		if len(buf) != b.spec.Width*b.spec.Height {
			return gocv.Mat{}, fmt.Errorf("%s: grey buffer is %d bytes, want %dx%d",
				b.spec.Name, len(buf), b.spec.Width, b.spec.Height)
		}
		view, err := gocv.NewMatFromBytes(b.spec.Height, b.spec.Width, gocv.MatTypeCV8UC1, buf)
		if err != nil {
			return gocv.Mat{}, err
		}
		defer view.Close()
		return view.Clone(), nil
	case PixelFormatMJPEG:
		img, err := gocv.IMDecode(buf, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("%s: decode mjpeg: %w", b.spec.Name, err)
		}
		if img.Empty() {
			img.Close()
			return gocv.Mat{}, fmt.Errorf("%s: decode mjpeg: empty image", b.spec.Name)
		}
		return img, nil
	default:
		return gocv.Mat{}, fmt.Errorf("%s: %s: %w", b.spec.Name, fourcc(b.format), capture.ErrUnsupportedFormat)
	}
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if err := b.cam.StopStreaming(); err != nil {
		errs = append(errs, err)
	}
	if err := b.cam.Close(); err != nil {
		errs = append(errs, err)
	}
	if b.closeControl != nil {
		if err := b.closeControl(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
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
	id, ok := b.controls.Lookup(kind)
	if !ok {
		return fmt.Errorf("%s: %w", kind, capture.ErrControlUnsupported)
	}
	if b.closed.Load() {
		return capture.ErrClosed
	}
	return b.cam.SetControl(id, int32(value))
}

func (b *Backend) Control(kind capture.ControlKind) (int, error) {
	id, ok := b.controls.Lookup(kind)
	if !ok {
		return 0, fmt.Errorf("%s: %w", kind, capture.ErrControlUnsupported)
	}
	if b.closed.Load() {
		return 0, capture.ErrClosed
	}
	v, err := b.cam.GetControl(id)
	return int(v), err
}

var (
	_ capture.Backend     = (*Backend)(nil)
	_ capture.SideExposer = (*Backend)(nil)
	_ capture.SideGainer  = (*Backend)(nil)
	_ capture.Controller  = (*Backend)(nil)
)
