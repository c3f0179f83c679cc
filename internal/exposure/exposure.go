// Package exposure implements the eye camera auto-exposure loop.
//
// The controller is fed every captured frame but only recomputes on a
// fixed cadence, so the exposure channel sees roughly 30 writes per second
// regardless of capture rate.
package exposure

import (
	"fmt"
	"image"
	"math"
	"strings"

	"gocv.io/x/gocv"
)

// Mode selects how the controller derives exposure targets.
type Mode int

const (
	// ModeAuto runs closed-loop brightness control per side.
	ModeAuto Mode = iota
	// ModeManual re-arms the maximum exposure on both sides every interval.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "manual" or "auto" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return ModeManual, nil
	case "auto":
		return ModeAuto, nil
	default:
		return 0, fmt.Errorf("unknown exposure mode %q", s)
	}
}

const (
	// MinExposure is the lower clamp for every side.
	MinExposure = 1.0

	// DefaultMaxExposure is the eye sensor's exposure ceiling.
	DefaultMaxExposure = 28.0

	// LowThreshold and HighThreshold bound the target luminance band.
	LowThreshold  = 90.0
	HighThreshold = 150.0

	// Smoothing is the fraction of the gap to the target covered per step.
	Smoothing = 1.0 / 3

	// CheckInterval is the minimum gap in seconds between recomputations.
	CheckInterval = 0.1 / 3
)

// windowSize is the side length of the analysis window.
const windowSize = 8

// window weights the image border above its center.
var window = [windowSize][windowSize]float64{
	{3, 1, 1, 1, 1, 1, 1, 3},
	{3, 1, 1, 1, 1, 1, 1, 3},
	{2, 1, 1, 1, 1, 1, 1, 2},
	{2, 1, 1, 1, 1, 1, 1, 2},
	{2, 1, 1, 1, 1, 1, 1, 2},
	{2, 1, 1, 1, 1, 1, 1, 2},
	{3, 1, 1, 1, 1, 1, 1, 3},
	{3, 1, 1, 1, 1, 1, 1, 3},
}

var windowTotal = func() float64 {
	var sum float64
	for _, row := range window {
		for _, w := range row {
			sum += w
		}
	}
	return sum
}()

// Controller is the per-camera exposure state. It is not safe for
// concurrent use; the producer goroutine that owns the camera drives it.
type Controller struct {
	mode     Mode
	min      float64
	max      float64
	last     [2]float64
	interval float64

	lastCheck float64
	started   bool
}

// NewController returns a controller whose ceiling is the smaller of
// maxExposure and the frame period (10000/frameRate, in exposure units).
// Both sides start at the ceiling.
func NewController(maxExposure, frameRate float64, mode Mode) *Controller {
	ceiling := maxExposure
	if frameRate > 0 {
		ceiling = math.Min(10000/frameRate, maxExposure)
	}
	ceiling = math.Max(ceiling, MinExposure)

	return &Controller{
		mode:     mode,
		min:      MinExposure,
		max:      ceiling,
		last:     [2]float64{ceiling, ceiling},
		interval: CheckInterval,
	}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	return c.mode
}

// SetMode switches between manual and auto. Per-side state is kept.
func (c *Controller) SetMode(mode Mode) {
	c.mode = mode
}

// Bounds returns the clamp range.
func (c *Controller) Bounds() (lo, hi float64) {
	return c.min, c.max
}

// Last returns the most recently computed exposure per side.
func (c *Controller) Last() [2]float64 {
	return c.last
}

// Update feeds one grayscale frame taken at timestamp (seconds). It returns
// new per-side exposures and true once more than the check interval has
// passed since the first frame, and false before that. The first call only
// starts the clock, which is never moved afterwards.
func (c *Controller) Update(timestamp float64, gray gocv.Mat) ([2]float64, bool) {
	if !c.started {
		c.lastCheck = timestamp
		c.started = true
	}
	if timestamp-c.lastCheck <= c.interval {
		return [2]float64{}, false
	}

	if c.mode == ModeManual {
		c.last = [2]float64{c.max, c.max}
		return c.last, true
	}

	half := gray.Cols() / 2
	for side := 0; side < 2; side++ {
		region := gray.Region(image.Rect(side*half, 0, (side+1)*half, gray.Rows()))
		lum := luminance(region)
		region.Close()
		c.last[side] = c.step(c.last[side], lum)
	}
	return c.last, true
}

// step moves last a smoothing fraction toward the exposure that would put
// lum inside the target band, then clamps.
func (c *Controller) step(last, lum float64) float64 {
	target := last
	switch {
	case lum < LowThreshold:
		target = last * LowThreshold / lum
	case lum > HighThreshold:
		target = last * HighThreshold / lum
	}
	next := last + (target-last)*Smoothing
	return math.Min(math.Max(next, c.min), c.max)
}

// luminance downsamples img to the analysis window and returns its
// weighted mean, floored at 1.
func luminance(img gocv.Mat) float64 {
	block := gocv.NewMat()
	defer block.Close()
	gocv.Resize(img, &block, image.Pt(windowSize, windowSize), 0, 0, gocv.InterpolationLinear)

	var cells [windowSize][windowSize]uint8
	for r := 0; r < windowSize; r++ {
		for col := 0; col < windowSize; col++ {
			cells[r][col] = block.GetUCharAt(r, col)
		}
	}
	return WeightedLuminance(cells)
}

// WeightedLuminance applies the analysis window to an 8x8 block and returns
// the normalised weighted mean, floored at 1.
func WeightedLuminance(block [windowSize][windowSize]uint8) float64 {
	var sum float64
	for r, row := range window {
		for col, w := range row {
			sum += w * float64(block[r][col])
		}
	}
	return math.Max(sum/windowTotal, 1)
}
