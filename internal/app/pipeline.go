package app

import (
	"context"
	"errors"

	"github.com/ayusman/neonusb/internal/camera"
	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/imu"
	"github.com/ayusman/neonusb/internal/stream"
)

// Session end reasons.
const (
	EndCancelled    = "cancelled"
	EndDisconnected = "disconnected"
	EndFailed       = "failed"
)

// cameraRun describes one camera producer.
type cameraRun struct {
	name    string
	backend string
	open    func() (stream.Source[*capture.Frame], error)
	queue   *stream.Queue[*capture.Frame]
	started *stream.Signal
	after   *stream.Signal
}

// runCamera streams one camera until ctx ends. The first open is not
// retried. With reconnection enabled, a camera that stops delivering frames
// is closed and reopened once it is found again; each streaming period is
// recorded as its own session.
func (a *App) runCamera(ctx context.Context, r cameraRun) error {
	src, err := r.open()
	if err != nil {
		return err
	}

	for {
		sess := a.recorder.begin(r.name, r.backend)
		before := r.queue.Stats()

		p := &stream.Producer[*capture.Frame]{
			Name:    r.name,
			Open:    func() (stream.Source[*capture.Frame], error) { return src, nil },
			Queue:   r.queue,
			Started: r.started,
			After:   r.after,
			Discard: closeFrame,
			Logger:  a.logger,
		}
		res := p.Run(ctx)

		after := r.queue.Stats()
		reason := endReason(res.Err)
		a.recorder.end(sess, res.Items, after.Dropped-before.Dropped, reason)
		a.logger.Printf("%s: session ended after %d frames (%d dropped): %s", r.name, res.Items, after.Dropped-before.Dropped, reason)

		if res.Err == nil {
			return nil
		}
		if !a.opts.Reconnect || reason != EndDisconnected {
			return res.Err
		}

		a.logger.Printf("%s: disconnected (%v), reconnecting", r.name, res.Err)
		src, err = a.reconnect(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// reconnect reopens a camera, retrying while it is not found.
func (a *App) reconnect(ctx context.Context, r cameraRun) (stream.Source[*capture.Frame], error) {
	attempts := 0
	src, err := camera.Reconnect(ctx, a.opts.ReconnectInterval, r.open, func(attempt int, err error) {
		attempts = attempt
		a.recorder.reconnect(r.name, attempt, err)
	})
	if err != nil {
		return nil, err
	}
	a.recorder.reconnect(r.name, attempts+1, nil)
	a.logger.Printf("%s: reconnected after %d attempts", r.name, attempts+1)
	return src, nil
}

func (a *App) runIMU(ctx context.Context) error {
	p := imu.NewProducer(a.opts.IMU, a.imuSamples)
	p.Logger = a.logger
	res := p.Run(ctx)
	if res.Err != nil && !errors.Is(res.Err, imu.ErrExhausted) {
		return res.Err
	}
	a.logger.Printf("imu: stopped after %d samples", res.Items)
	return nil
}

func endReason(err error) string {
	switch {
	case err == nil:
		return EndCancelled
	case camera.IsDisconnect(err):
		return EndDisconnected
	default:
		return EndFailed
	}
}
