package imu

import (
	"context"
	"errors"
	"testing"

	"github.com/ayusman/neonusb/internal/stream"
)

func TestProducer_StreamsSamples(t *testing.T) {
	samples := []Sample{
		{Timestamp: 1.000, Accel: [3]float64{0, 0, 1}},
		{Timestamp: 1.005, Accel: [3]float64{0, 0.1, 1}},
		{Timestamp: 1.010, Accel: [3]float64{0, 0.2, 1}},
	}
	q := stream.NewQueue[Sample](10)
	p := NewProducer(func() (Reader, error) { return NewReplay(samples, false), nil }, q)

	res := p.Run(context.Background())
	if !errors.Is(res.Err, ErrExhausted) {
		t.Fatalf("Run() error = %v, want ErrExhausted", res.Err)
	}

	got, err := q.DrainAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(samples) {
		t.Fatalf("drained %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %+v, want %+v", i, got[i], samples[i])
		}
	}
}

func TestProducer_OpenError(t *testing.T) {
	boom := errors.New("no imu")
	p := NewProducer(func() (Reader, error) { return nil, boom }, stream.NewQueue[Sample](1))
	if res := p.Run(context.Background()); !errors.Is(res.Err, boom) {
		t.Errorf("Run() error = %v, want %v", res.Err, boom)
	}
}
