package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ExposureWrite records one per-side exposure write seen by a MockBackend.
type ExposureWrite struct {
	Side  Side
	Value int
}

// MockBackend plays back pre-recorded frames for testing. It implements
// Backend, SideExposer, SideGainer and Controller.
type MockBackend struct {
	spec       CameraSpec
	frames     []gocv.Mat
	timestamps []float64
	index      int
	loop       bool
	counter    int64
	closed     bool
	closeCount int

	frameErr    error
	exposureErr error

	exposures [2]int
	gains     [2]int
	writes    []ExposureWrite
	controls  ControlTable[int]
	values    map[ControlKind]int

	mu sync.Mutex
}

// NewMockBackend returns a backend that replays frames in order. The
// backend does not take ownership of frames; each GetFrame returns a clone.
func NewMockBackend(spec CameraSpec, frames []gocv.Mat, loop bool) *MockBackend {
	return &MockBackend{
		spec:    spec,
		frames:  frames,
		loop:    loop,
		counter: -1,
		values:  make(map[ControlKind]int),
	}
}

// SetTimestamps overrides frame timestamps; the i-th delivered frame gets
// timestamps[i]. Without it frames are spaced 1/FPS apart.
func (m *MockBackend) SetTimestamps(timestamps []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps = timestamps
}

// SetFrameError makes every GetFrame fail with err until cleared with nil.
func (m *MockBackend) SetFrameError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameErr = err
}

// SetExposureError makes every exposure and gain write fail with err.
func (m *MockBackend) SetExposureError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposureErr = err
}

// SetSupportedControls declares which standard controls the device has.
func (m *MockBackend) SetSupportedControls(kinds ...ControlKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = ControlTable[int]{}
	for _, k := range kinds {
		m.controls.Set(k, int(k))
	}
}

func (m *MockBackend) Spec() CameraSpec {
	return m.spec
}

func (m *MockBackend) GetFrame() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.frameErr != nil {
		return nil, m.frameErr
	}
	if len(m.frames) == 0 {
		return nil, errors.New("no frames available")
	}
	if m.index >= len(m.frames) {
		if !m.loop {
			return nil, errors.New("no more frames")
		}
		m.index = 0
	}

	// Clone the frame so the original isn't modified
	img := m.frames[m.index].Clone()
	m.index++
	m.counter++

	ts := float64(m.counter) / float64(max(m.spec.FPS, 1))
	if int(m.counter) < len(m.timestamps) {
		ts = m.timestamps[m.counter]
	}

	return NewFrame(img, ts, m.counter), nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closeCount++
	}
	m.closed = true
	return nil
}

// CloseCount reports how many times Close actually released the backend.
func (m *MockBackend) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

func (m *MockBackend) SetSideExposure(side Side, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exposureErr != nil {
		return m.exposureErr
	}
	m.exposures[side] = value
	m.writes = append(m.writes, ExposureWrite{Side: side, Value: value})
	return nil
}

func (m *MockBackend) SideExposure(side Side) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exposureErr != nil {
		return 0, m.exposureErr
	}
	return m.exposures[side], nil
}

func (m *MockBackend) SetSideGain(side Side, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exposureErr != nil {
		return m.exposureErr
	}
	m.gains[side] = value
	return nil
}

func (m *MockBackend) SideGain(side Side) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exposureErr != nil {
		return 0, m.exposureErr
	}
	return m.gains[side], nil
}

// ExposureWrites returns a copy of every successful exposure write.
func (m *MockBackend) ExposureWrites() []ExposureWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExposureWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *MockBackend) SupportsControl(kind ControlKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.controls.Lookup(kind)
	return ok
}

func (m *MockBackend) SetControl(kind ControlKind, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.controls.Lookup(kind); !ok {
		return ErrControlUnsupported
	}
	m.values[kind] = value
	return nil
}

func (m *MockBackend) Control(kind ControlKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.controls.Lookup(kind); !ok {
		return 0, ErrControlUnsupported
	}
	return m.values[kind], nil
}
