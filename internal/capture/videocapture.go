package capture

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// closeGrace bounds how long Close waits for an in-flight read to return.
const closeGrace = 3 * time.Second

// ErrReadBusy is returned by Set while a timed-out read is still in flight.
var ErrReadBusy = errors.New("capture read in progress")

// VideoCapture is a V4L2-backed gocv capture with a bounded read.
//
// gocv's Read blocks without a deadline, so each read runs on a helper
// goroutine. A read that outlives its timeout stays pending and is collected
// by the next Read, which keeps at most one read outstanding on the device.
type VideoCapture struct {
	device  string
	capture *gocv.VideoCapture
	pending chan readResult
	mu      sync.Mutex
}

type readResult struct {
	mat gocv.Mat
	ok  bool
}

// OpenVideoCapture opens device (a /dev/videoN path) and requests the given
// FOURCC, resolution and frame rate.
func OpenVideoCapture(device, fourcc string, width, height, fps int) (*VideoCapture, error) {
	capture, err := gocv.OpenVideoCaptureWithAPI(device, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, err
	}

	if fourcc != "" {
		capture.Set(gocv.VideoCaptureFOURCC, capture.ToCodec(fourcc))
	}
	if fourcc == "GREY" {
		capture.Set(gocv.VideoCaptureConvertRGB, 0)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureFPS, float64(fps))

	return &VideoCapture{
		device:  device,
		capture: capture,
	}, nil
}

// Device returns the device path the capture was opened on.
func (c *VideoCapture) Device() string {
	return c.device
}

// Read returns the next frame, waiting at most timeout.
// The caller is responsible for closing the returned Mat.
func (c *VideoCapture) Read(timeout time.Duration) (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return gocv.Mat{}, ErrClosed
	}

	if c.pending == nil {
		done := make(chan readResult, 1)
		capture := c.capture
		go func() {
			mat := gocv.NewMat()
			ok := capture.Read(&mat)
			done <- readResult{mat: mat, ok: ok}
		}()
		c.pending = done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-c.pending:
		c.pending = nil
		if !res.ok {
			res.mat.Close()
			return gocv.Mat{}, errors.New("failed to read frame from camera")
		}
		if res.mat.Empty() {
			res.mat.Close()
			return gocv.Mat{}, errors.New("captured frame is empty")
		}
		return res.mat, nil
	case <-timer.C:
		return gocv.Mat{}, ErrFrameTimeout
	}
}

// Set writes a capture property. It refuses while a read is in flight.
func (c *VideoCapture) Set(prop gocv.VideoCaptureProperties, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return ErrClosed
	}
	if c.pending != nil {
		return ErrReadBusy
	}
	c.capture.Set(prop, value)
	return nil
}

// Get reads a capture property. OpenCV reports unsupported properties as -1.
func (c *VideoCapture) Get(prop gocv.VideoCaptureProperties) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return 0, ErrClosed
	}
	if c.pending != nil {
		return 0, ErrReadBusy
	}
	return c.capture.Get(prop), nil
}

// Close releases the capture. A read still blocked in the driver after
// closeGrace is abandoned together with its capture handle.
func (c *VideoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}

	if c.pending != nil {
		select {
		case res := <-c.pending:
			res.mat.Close()
		case <-time.After(closeGrace):
			c.pending = nil
			c.capture = nil
			return errors.New("capture read did not return; handle abandoned")
		}
		c.pending = nil
	}

	err := c.capture.Close()
	c.capture = nil
	return err
}
