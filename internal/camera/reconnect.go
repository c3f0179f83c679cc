package camera

import (
	"context"
	"errors"
	"time"

	"github.com/ayusman/neonusb/internal/capture"
)

// DefaultReconnectInterval is the pause between reconnection attempts.
const DefaultReconnectInterval = 500 * time.Millisecond

// Reconnect calls open until it succeeds, ctx ends, or it fails with an
// error other than device-not-found. onRetry, if set, is called after each
// device-not-found attempt with the attempt number.
func Reconnect[T any](ctx context.Context, interval time.Duration, open func() (T, error), onRetry func(attempt int, err error)) (T, error) {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		v, err := open()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, capture.ErrDeviceNotFound) {
			return v, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsDisconnect reports whether err from GetFrame means the device is gone.
func IsDisconnect(err error) bool {
	return errors.Is(err, capture.ErrFrameTimeout)
}
