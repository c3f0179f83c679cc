// Package imu defines the inertial sample stream of the Neon module.
// Decoding the device's IMU protocol lives behind Reader.
package imu

import (
	"errors"
	"sync"
	"time"

	"github.com/ayusman/neonusb/internal/stream"
)

// Sample is one IMU reading.
type Sample struct {
	Timestamp  float64    // unix seconds
	Gyro       [3]float64 // deg/s
	Accel      [3]float64 // g
	Quaternion [4]float64 // w, x, y, z
}

// Reader yields IMU samples. Read blocks until the next sample.
type Reader interface {
	Read() (Sample, error)
	Close() error
}

// NewProducer returns a producer that streams samples from the reader
// returned by open into q.
func NewProducer(open func() (Reader, error), q *stream.Queue[Sample]) *stream.Producer[Sample] {
	return &stream.Producer[Sample]{
		Name: "imu",
		Open: func() (stream.Source[Sample], error) {
			r, err := open()
			if err != nil {
				return nil, err
			}
			return source{r}, nil
		},
		Queue: q,
	}
}

type source struct {
	r Reader
}

func (s source) Next() (Sample, error) { return s.r.Read() }
func (s source) Close() error          { return s.r.Close() }

// ErrExhausted is returned by a Replay reader once every sample was read.
var ErrExhausted = errors.New("imu replay exhausted")

// Replay plays back recorded samples, optionally paced at their original
// spacing.
type Replay struct {
	samples []Sample
	pace    bool
	next    int
	last    time.Time
	mu      sync.Mutex
}

// NewReplay returns a reader over samples. When pace is set, Read sleeps so
// consecutive samples are delivered as far apart as their timestamps.
func NewReplay(samples []Sample, pace bool) *Replay {
	return &Replay{samples: samples, pace: pace}
}

func (r *Replay) Read() (Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.samples) {
		return Sample{}, ErrExhausted
	}
	s := r.samples[r.next]
	if r.pace && r.next > 0 {
		gap := time.Duration((s.Timestamp - r.samples[r.next-1].Timestamp) * float64(time.Second))
		if wait := gap - time.Since(r.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	r.next++
	r.last = time.Now()
	return s, nil
}

func (r *Replay) Close() error {
	return nil
}
