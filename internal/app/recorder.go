package app

import (
	"log"
	"sync"

	"github.com/ayusman/neonusb/internal/store"
)

// exposureBatch is the number of exposure samples buffered before a write.
const exposureBatch = 64

// recorder writes capture statistics to the store. Every method is a no-op
// without a store, and write failures are logged, never returned.
type recorder struct {
	store  *store.Store
	logger *log.Logger

	eyeSession string
	pending    []store.ExposureSample
	mu         sync.Mutex
}

func newRecorder(st *store.Store, logger *log.Logger) *recorder {
	return &recorder{store: st, logger: logger}
}

// begin opens a session and returns its ID, or "" if none was recorded.
func (r *recorder) begin(cameraName, backend string) string {
	if r.store == nil {
		return ""
	}
	sess, err := r.store.Sessions().Start(cameraName, backend)
	if err != nil {
		r.logger.Printf("%s: failed to record session start: %v", cameraName, err)
		return ""
	}
	if cameraName == "eye" {
		r.mu.Lock()
		r.eyeSession = sess.ID
		r.mu.Unlock()
	}
	return sess.ID
}

// end flushes pending exposures and closes the session.
func (r *recorder) end(id string, frames, dropped int64, reason string) {
	if r.store == nil || id == "" {
		return
	}

	r.mu.Lock()
	if r.eyeSession == id {
		r.flushLocked()
		r.eyeSession = ""
	}
	r.mu.Unlock()

	if err := r.store.Sessions().Finish(id, frames, dropped, reason); err != nil {
		r.logger.Printf("failed to record session end: %v", err)
	}
}

// exposure buffers one applied exposure pair of the current eye session.
func (r *recorder) exposure(ts float64, values [2]int) {
	if r.store == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eyeSession == "" {
		return
	}
	r.pending = append(r.pending, store.ExposureSample{
		Timestamp: ts,
		Left:      values[0],
		Right:     values[1],
	})
	if len(r.pending) >= exposureBatch {
		r.flushLocked()
	}
}

func (r *recorder) flushLocked() {
	if len(r.pending) == 0 {
		return
	}
	if err := r.store.Exposures().Create(r.eyeSession, r.pending); err != nil {
		r.logger.Printf("failed to record %d exposure samples: %v", len(r.pending), err)
	}
	r.pending = r.pending[:0]
}

// reconnect records one reconnection attempt; err is nil on success.
func (r *recorder) reconnect(cameraName string, attempt int, err error) {
	if r.store == nil {
		return
	}
	e := &store.ReconnectEvent{Camera: cameraName, Attempt: attempt}
	if err != nil {
		e.Error = err.Error()
	}
	if err := r.store.Events().Create(e); err != nil {
		r.logger.Printf("%s: failed to record reconnect attempt: %v", cameraName, err)
	}
}
