package exposure

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

// uniform returns a 384x192 grayscale image filled with v.
func uniform(v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, 0, 0, 0), 192, 384, gocv.MatTypeCV8UC1)
}

// split returns an image whose left half is left and right half is right.
func split(left, right float64) gocv.Mat {
	img := uniform(right)
	half := img.Region(image.Rect(0, 0, 192, 192))
	half.SetTo(gocv.NewScalar(left, 0, 0, 0))
	half.Close()
	return img
}

func TestNewController_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		max       float64
		frameRate float64
		wantHi    float64
	}{
		{name: "eye camera", max: 28, frameRate: 200, wantHi: 28},
		{name: "frame period limited", max: 100, frameRate: 200, wantHi: 50},
		{name: "max exposure limited", max: 10, frameRate: 30, wantHi: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.max, tt.frameRate, ModeAuto)
			lo, hi := c.Bounds()
			if lo != 1 || hi != tt.wantHi {
				t.Errorf("Bounds() = (%v, %v), want (1, %v)", lo, hi, tt.wantHi)
			}
			if last := c.Last(); last[0] != tt.wantHi || last[1] != tt.wantHi {
				t.Errorf("Last() = %v, want both %v", last, tt.wantHi)
			}
		})
	}
}

func TestController_Throttle(t *testing.T) {
	img := uniform(0)
	defer img.Close()

	c := NewController(DefaultMaxExposure, 200, ModeAuto)

	if _, ok := c.Update(1.0, img); ok {
		t.Fatal("first call should only start the clock")
	}
	if _, ok := c.Update(1.02, img); ok {
		t.Error("call inside the check interval should not update")
	}
	if _, ok := c.Update(1.04, img); !ok {
		t.Error("call after the check interval should update")
	}
	if _, ok := c.Update(1.045, img); !ok {
		t.Error("every call after the first interval should update")
	}
	if _, ok := c.Update(1.05, img); !ok {
		t.Error("every call after the first interval should update")
	}
}

func TestController_ThrottleAt200Hz(t *testing.T) {
	img := uniform(120)
	defer img.Close()

	c := NewController(DefaultMaxExposure, 200, ModeAuto)
	updates := 0
	for i := 0; i < 200; i++ {
		if _, ok := c.Update(float64(i)*0.005, img); ok {
			updates++
		}
	}
	// 1 s of frames at 200 Hz; frames 0..6 fall inside the first interval.
	if updates != 193 {
		t.Errorf("updates = %d, want 193", updates)
	}
}

func TestController_Manual(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{name: "black", value: 0},
		{name: "mid", value: 120},
		{name: "white", value: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := uniform(tt.value)
			defer img.Close()

			c := NewController(DefaultMaxExposure, 200, ModeManual)
			c.Update(0, img)
			for i := 1; i <= 5; i++ {
				got, ok := c.Update(float64(i)*0.05, img)
				if !ok {
					t.Fatalf("step %d: expected update", i)
				}
				if got != [2]float64{28, 28} {
					t.Errorf("step %d: got %v, want [28 28]", i, got)
				}
			}
		})
	}
}

func TestController_WhiteDrivesDown(t *testing.T) {
	img := uniform(255)
	defer img.Close()

	c := NewController(DefaultMaxExposure, 200, ModeAuto)
	c.Update(0, img)

	prev := [2]float64{28, 28}
	for i := 1; i <= 40; i++ {
		got, ok := c.Update(float64(i)*0.05, img)
		if !ok {
			t.Fatalf("step %d: expected update", i)
		}
		for side := 0; side < 2; side++ {
			if got[side] > prev[side] {
				t.Fatalf("step %d side %d: %v > %v, not monotonic", i, side, got[side], prev[side])
			}
		}
		prev = got
	}
	if prev != [2]float64{1, 1} {
		t.Errorf("final exposure = %v, want lower bound [1 1]", prev)
	}
}

func TestController_BlackDrivesUp(t *testing.T) {
	white := uniform(255)
	defer white.Close()
	black := uniform(0)
	defer black.Close()

	c := NewController(DefaultMaxExposure, 200, ModeAuto)
	c.Update(0, white)
	ts := 0.0
	for i := 0; i < 10; i++ {
		ts += 0.05
		c.Update(ts, white)
	}

	prev := c.Last()
	for i := 0; i < 10; i++ {
		ts += 0.05
		got, ok := c.Update(ts, black)
		if !ok {
			t.Fatalf("step %d: expected update", i)
		}
		if got[0] < prev[0] || got[1] < prev[1] {
			t.Fatalf("step %d: %v dropped below %v", i, got, prev)
		}
		prev = got
	}
	if prev != [2]float64{28, 28} {
		t.Errorf("final exposure = %v, want upper bound [28 28]", prev)
	}
}

func TestController_AtThreshold(t *testing.T) {
	for _, v := range []float64{LowThreshold, HighThreshold} {
		img := uniform(v)

		c := NewController(DefaultMaxExposure, 200, ModeAuto)
		c.Update(0, img)
		got, ok := c.Update(0.05, img)
		if !ok {
			t.Fatalf("luminance %v: expected update", v)
		}
		if got != [2]float64{28, 28} {
			t.Errorf("luminance %v: got %v, want unchanged [28 28]", v, got)
		}
		img.Close()
	}
}

func TestController_SidesIndependent(t *testing.T) {
	img := split(255, 100)
	defer img.Close()

	c := NewController(DefaultMaxExposure, 200, ModeAuto)
	c.Update(0, img)
	got, ok := c.Update(0.05, img)
	if !ok {
		t.Fatal("expected update")
	}
	if got[0] >= 28 {
		t.Errorf("bright left side = %v, want below 28", got[0])
	}
	if got[1] != 28 {
		t.Errorf("in-band right side = %v, want 28", got[1])
	}
}

func TestWeightedLuminance(t *testing.T) {
	var zero [8][8]uint8
	if got := WeightedLuminance(zero); got != 1 {
		t.Errorf("black block = %v, want floor 1", got)
	}

	var flat [8][8]uint8
	for r := range flat {
		for c := range flat[r] {
			flat[r][c] = 200
		}
	}
	if got := WeightedLuminance(flat); math.Abs(got-200) > 1e-9 {
		t.Errorf("flat block = %v, want 200", got)
	}

	// Border columns carry 40 of the 88 total weight.
	var border [8][8]uint8
	for r := range border {
		border[r][0] = 88
		border[r][7] = 88
	}
	if got := WeightedLuminance(border); math.Abs(got-40) > 1e-9 {
		t.Errorf("border block = %v, want 40", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "auto", want: ModeAuto},
		{in: "Manual", want: ModeManual},
		{in: "off", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
