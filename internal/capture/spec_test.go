package capture

import (
	"errors"
	"strings"
	"testing"
)

func TestMatchMode(t *testing.T) {
	tests := []struct {
		name    string
		spec    CameraSpec
		modes   []Mode
		want    Mode
		wantErr bool
	}{
		{
			name: "exact match",
			spec: EyeCameraSpec,
			modes: []Mode{
				{Format: "GREY", Width: 384, Height: 192, FPS: 100},
				{Format: "GREY", Width: 384, Height: 192, FPS: 200},
			},
			want: Mode{Format: "GREY", Width: 384, Height: 192, FPS: 200},
		},
		{
			name: "first of several matches",
			spec: SceneCameraSpec,
			modes: []Mode{
				{Format: "MJPG", Width: 1600, Height: 1200, FPS: 30},
				{Format: "YUYV", Width: 1600, Height: 1200, FPS: 30},
			},
			want: Mode{Format: "MJPG", Width: 1600, Height: 1200, FPS: 30},
		},
		{
			name:    "rate mismatch",
			spec:    EyeCameraSpec,
			modes:   []Mode{{Format: "GREY", Width: 384, Height: 192, FPS: 199}},
			wantErr: true,
		},
		{
			name:    "no modes",
			spec:    SceneCameraSpec,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchMode(tt.spec, tt.modes)
			if tt.wantErr {
				if !errors.Is(err, ErrModeNotSupported) {
					t.Fatalf("MatchMode() error = %v, want ErrModeNotSupported", err)
				}
				var me *ModeError
				if !errors.As(err, &me) || len(me.Available) != len(tt.modes) {
					t.Errorf("ModeError should list %d available modes", len(tt.modes))
				}
				return
			}
			if err != nil {
				t.Fatalf("MatchMode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModeError_ListsModes(t *testing.T) {
	err := &ModeError{
		Spec:      EyeCameraSpec,
		Available: []Mode{{Format: "GREY", Width: 192, Height: 192, FPS: 200}},
	}
	msg := err.Error()
	if !strings.Contains(msg, "GREY 192x192@200") {
		t.Errorf("error %q does not list available mode", msg)
	}
	if !strings.Contains(msg, "384x192@200") {
		t.Errorf("error %q does not name the requested mode", msg)
	}
}

func TestDeviceNotFoundError_Is(t *testing.T) {
	err := error(&DeviceNotFoundError{Name: EyeCameraSpec.Name})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Error("DeviceNotFoundError should match ErrDeviceNotFound")
	}
	if errors.Is(err, ErrFrameTimeout) {
		t.Error("DeviceNotFoundError should not match ErrFrameTimeout")
	}
}

func TestControlTable(t *testing.T) {
	var table ControlTable[uint32]
	table.Set(ControlGamma, 0x00980910)
	table.Set(ControlKind(99), 1)

	if id, ok := table.Lookup(ControlGamma); !ok || id != 0x00980910 {
		t.Errorf("Lookup(Gamma) = %#x, %v", id, ok)
	}
	if _, ok := table.Lookup(ControlHue); ok {
		t.Error("Lookup(Hue) should report unsupported")
	}
	if got := table.Supported(); len(got) != 1 || got[0] != ControlGamma {
		t.Errorf("Supported() = %v, want [Gamma]", got)
	}
}

func TestControlKind_String(t *testing.T) {
	if got := ControlAbsoluteExposureTime.String(); got != "Absolute Exposure Time" {
		t.Errorf("String() = %q", got)
	}
	if got := len(ControlKinds()); got != 10 {
		t.Errorf("ControlKinds() has %d entries, want 10", got)
	}
}
