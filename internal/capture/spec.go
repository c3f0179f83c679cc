package capture

import "fmt"

// CameraSpec identifies one physical camera class. It is used both to find
// the device and to negotiate its capture mode, and is never mutated.
type CameraSpec struct {
	Name            string
	VendorID        uint16
	ProductID       uint16
	Width           int
	Height          int
	FPS             int
	// BandwidthFactor is the isochronous bandwidth hint of the device
	// descriptor. Neither capture backend has a setting for it.
	BandwidthFactor float64
}

// Neon device identifiers.
const (
	NeonVendorID  uint16 = 0x16D0
	NeonProductID uint16 = 0x11D3
)

// EyeCameraSpec describes the combined left/right eye sensor.
var EyeCameraSpec = CameraSpec{
	Name:            "Neon Sensor Module v1",
	VendorID:        NeonVendorID,
	ProductID:       NeonProductID,
	Width:           384,
	Height:          192,
	FPS:             200,
	BandwidthFactor: 0,
}

// SceneCameraSpec describes the forward-facing scene camera.
var SceneCameraSpec = CameraSpec{
	Name:            "Neon Scene Camera v1",
	VendorID:        0x0BDA,
	ProductID:       0x3036,
	Width:           1600,
	Height:          1200,
	FPS:             30,
	BandwidthFactor: 1.2,
}

func (s CameraSpec) String() string {
	return fmt.Sprintf("%s [%04x:%04x] %dx%d@%d", s.Name, s.VendorID, s.ProductID, s.Width, s.Height, s.FPS)
}

// Mode is one capture mode advertised by a device.
type Mode struct {
	Format string
	Width  int
	Height int
	FPS    int
}

func (m Mode) String() string {
	if m.Format == "" {
		return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.FPS)
	}
	return fmt.Sprintf("%s %dx%d@%d", m.Format, m.Width, m.Height, m.FPS)
}

// Matches reports whether m has exactly the CameraSpec's width, height and rate.
func (m Mode) Matches(spec CameraSpec) bool {
	return m.Width == spec.Width && m.Height == spec.Height && m.FPS == spec.FPS
}

// MatchMode returns the first mode matching spec, or a ModeError listing
// every available mode.
func MatchMode(spec CameraSpec, modes []Mode) (Mode, error) {
	for _, m := range modes {
		if m.Matches(spec) {
			return m, nil
		}
	}
	return Mode{}, &ModeError{Spec: spec, Available: modes}
}
