package capture

// Backend owns one open device stream. It is not safe for concurrent use:
// exactly one Camera (and therefore one producer goroutine) drives it.
type Backend interface {
	// GetFrame blocks until the next frame arrives or the backend's read
	// timeout expires, in which case the error matches ErrFrameTimeout.
	GetFrame() (*Frame, error)

	// Close releases the device. Subsequent calls are no-ops.
	Close() error

	// Spec returns the descriptor the backend was opened with.
	Spec() CameraSpec
}

// Side selects one half of the combined eye sensor.
type Side int

const (
	SideLeft  Side = 0
	SideRight Side = 1
)

// Sides lists both eye sensor halves in image order.
var Sides = [2]Side{SideLeft, SideRight}

// SideExposer is implemented by backends that expose per-side exposure
// through the vendor extension unit.
type SideExposer interface {
	SetSideExposure(side Side, value int) error
	SideExposure(side Side) (int, error)
}

// SideGainer is implemented by backends that expose per-side analog gain.
type SideGainer interface {
	SetSideGain(side Side, value int) error
	SideGain(side Side) (int, error)
}

// Controller is implemented by backends with standard image controls.
type Controller interface {
	SupportsControl(kind ControlKind) bool
	SetControl(kind ControlKind, value int) error
	Control(kind ControlKind) (int, error)
}

// ControlKind enumerates the standard controls the scene camera configures.
type ControlKind int

const (
	ControlBacklightCompensation ControlKind = iota
	ControlBrightness
	ControlContrast
	ControlGain
	ControlHue
	ControlSaturation
	ControlSharpness
	ControlGamma
	ControlAutoExposureMode
	ControlAbsoluteExposureTime

	numControlKinds
)

var controlNames = [numControlKinds]string{
	"Backlight Compensation",
	"Brightness",
	"Contrast",
	"Gain",
	"Hue",
	"Saturation",
	"Sharpness",
	"Gamma",
	"Auto Exposure Mode",
	"Absolute Exposure Time",
}

func (k ControlKind) String() string {
	if k < 0 || k >= numControlKinds {
		return "Unknown Control"
	}
	return controlNames[k]
}

// ControlKinds returns every known control kind in declaration order.
func ControlKinds() []ControlKind {
	kinds := make([]ControlKind, numControlKinds)
	for i := range kinds {
		kinds[i] = ControlKind(i)
	}
	return kinds
}

// ControlTable maps control kinds to backend-specific identifiers. Backends
// fill it once at construction with the controls the device actually has.
type ControlTable[T any] struct {
	ids       [numControlKinds]T
	supported [numControlKinds]bool
}

// Set records id as the device identifier for kind.
func (t *ControlTable[T]) Set(kind ControlKind, id T) {
	if kind < 0 || kind >= numControlKinds {
		return
	}
	t.ids[kind] = id
	t.supported[kind] = true
}

// Lookup returns the identifier for kind, if the device supports it.
func (t *ControlTable[T]) Lookup(kind ControlKind) (T, bool) {
	var zero T
	if kind < 0 || kind >= numControlKinds || !t.supported[kind] {
		return zero, false
	}
	return t.ids[kind], true
}

// Supported lists the kinds present in the table.
func (t *ControlTable[T]) Supported() []ControlKind {
	var kinds []ControlKind
	for i, ok := range t.supported {
		if ok {
			kinds = append(kinds, ControlKind(i))
		}
	}
	return kinds
}
