// Package capture provides the frame type, camera descriptors and backend
// contracts shared by the Neon eye and scene camera implementations.
package capture

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is a single image delivered by a camera backend.
//
// A Frame owns its Mat. Ownership moves with the Frame: from the backend to
// the caller, or into a queue and from there to the consumer that dequeues
// it. The last owner must call Close.
//
// Image, Timestamp and Index are set once by the backend that produces the
// Frame and are read-only afterwards. Consumers that need a modified image
// work on a copy such as the one returned by Gray or BGR.
type Frame struct {
	Image     gocv.Mat
	Timestamp float64 // seconds, monotonic within a session
	Index     int64

	closed bool
}

// NewFrame wraps img. The returned Frame takes ownership of img.
func NewFrame(img gocv.Mat, timestamp float64, index int64) *Frame {
	return &Frame{
		Image:     img,
		Timestamp: timestamp,
		Index:     index,
	}
}

// Width returns the image width in pixels.
func (f *Frame) Width() int {
	return f.Image.Cols()
}

// Height returns the image height in pixels.
func (f *Frame) Height() int {
	return f.Image.Rows()
}

// Channels returns 1 for grayscale frames and 3 for BGR frames.
func (f *Frame) Channels() int {
	return f.Image.Channels()
}

// Gray returns a single-channel copy of the image.
// The caller is responsible for closing the returned Mat.
func (f *Frame) Gray() (gocv.Mat, error) {
	switch f.Image.Channels() {
	case 1:
		return f.Image.Clone(), nil
	case 3:
		gray := gocv.NewMat()
		gocv.CvtColor(f.Image, &gray, gocv.ColorBGRToGray)
		return gray, nil
	default:
		return gocv.Mat{}, ErrUnsupportedFormat
	}
}

// BGR returns a 3-channel copy of the image.
// The caller is responsible for closing the returned Mat.
func (f *Frame) BGR() (gocv.Mat, error) {
	switch f.Image.Channels() {
	case 1:
		bgr := gocv.NewMat()
		gocv.CvtColor(f.Image, &bgr, gocv.ColorGrayToBGR)
		return bgr, nil
	case 3:
		return f.Image.Clone(), nil
	default:
		return gocv.Mat{}, ErrUnsupportedFormat
	}
}

// Close releases the pixel buffer. Closing twice is a no-op.
func (f *Frame) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.Image.Close()
}

var epoch = time.Now()

// Monotonic returns the seconds elapsed on the process monotonic clock.
// Backends without a device timestamp stamp frames with it.
func Monotonic() float64 {
	return time.Since(epoch).Seconds()
}
