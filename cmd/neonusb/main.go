package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayusman/neonusb/internal/app"
	"github.com/ayusman/neonusb/internal/calibration"
	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/config"
	"github.com/ayusman/neonusb/internal/store"
)

const usage = `Usage: neonusb [flags] <command>

Commands:
  collect       stream eye and scene frames and report their frame rates (default)
  calibration   print the module calibration
  sessions      list recorded capture sessions

Flags:
`

func main() {
	var (
		configPath   = flag.String("config", "", "YAML configuration file")
		frames       = flag.Int("frames", 2000, "eye frames to collect before reporting")
		exposureMode = flag.String("exposure", "", "eye exposure mode: auto or manual")
		eyeBackend   = flag.String("eye-backend", "", "eye camera backend: uvc or v4l2")
		sceneBackend = flag.String("scene-backend", "", "scene camera backend: uvc or v4l2")
		noScene      = flag.Bool("no-scene", false, "do not open the scene camera")
		reconnect    = flag.Bool("reconnect", true, "reopen cameras after a disconnect")
		dbPath       = flag.String("db", "", "statistics database path; \"-\" disables recording")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *exposureMode != "" {
		cfg.Eye.ExposureMode = *exposureMode
	}
	if *eyeBackend != "" {
		cfg.Eye.Backend = *eyeBackend
	}
	if *sceneBackend != "" {
		cfg.Scene.Backend = *sceneBackend
	}
	if *noScene {
		cfg.Scene.Enabled = false
	}
	cfg.Reconnect.Enabled = *reconnect
	switch *dbPath {
	case "":
	case "-":
		cfg.Store.Path = ""
	default:
		cfg.Store.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	command := flag.Arg(0)
	if command == "" {
		command = "collect"
	}

	switch command {
	case "collect":
		err = runCollect(cfg, *frames)
	case "calibration":
		err = runCalibration()
	case "sessions":
		err = runSessions(cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	return store.New(cfg.Store.Path)
}

// runCollect streams until n eye frames (or n scene frames when the eye
// camera is disabled) were consumed, then prints the measured rates.
func runCollect(cfg *config.Config, n int) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	// The IMU is not reachable over the camera interfaces; an enabled IMU
	// stream is rejected here.
	a, err := app.NewFromConfig(cfg, st, nil, log.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	// Stop consuming once every producer has exited.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		a.Wait()
		cancel()
	}()

	primary, secondary := a.EyeFrames(), a.SceneFrames()
	if !cfg.Eye.Enabled {
		primary, secondary = secondary, nil
	}

	// Wait for the first frame so startup latency is not measured.
	first, err := primary.Pop(ctx)
	if err != nil {
		return a.Stop()
	}
	first.Close()

	var primaryCount, secondaryCount int
	start := time.Now()
	for primaryCount < n {
		batch, err := primary.DrainAll(ctx)
		if err != nil {
			break
		}
		primaryCount += closeAll(batch)
		if secondary != nil {
			for {
				f, ok := secondary.TryPop()
				if !ok {
					break
				}
				f.Close()
				secondaryCount++
			}
		}
	}
	elapsed := time.Since(start).Seconds()

	if cfg.Eye.Enabled {
		fmt.Printf("Eye:   %d frames, %.1f FPS\n", primaryCount, float64(primaryCount)/elapsed)
		if secondary != nil {
			fmt.Printf("Scene: %d frames, %.1f FPS\n", secondaryCount, float64(secondaryCount)/elapsed)
		}
	} else {
		fmt.Printf("Scene: %d frames, %.1f FPS\n", primaryCount, float64(primaryCount)/elapsed)
	}
	stats := a.EyeFrames().Stats()
	fmt.Printf("Eye queue: %d pushed, %d dropped\n", stats.Pushed, stats.Dropped)

	return a.Stop()
}

func closeAll(batch []*capture.Frame) int {
	for _, f := range batch {
		f.Close()
	}
	return len(batch)
}

func runCalibration() error {
	cal, err := calibration.ReadDevice("Neon", capture.NeonVendorID, capture.NeonProductID)
	if err != nil {
		return err
	}

	fmt.Printf("Serial:  %s\n", cal.Serial)
	fmt.Printf("Version: %d\n", cal.Version)
	fmt.Printf("CRC:     %08x\n", cal.CRC)
	for _, cam := range []struct {
		name string
		c    calibration.Camera
	}{{"Scene", cal.Scene}, {"Right eye", cal.Right}, {"Left eye", cal.Left}} {
		fmt.Printf("%s camera matrix:\n", cam.name)
		for _, row := range cam.c.CameraMatrix {
			fmt.Printf("  %10.4f %10.4f %10.4f\n", row[0], row[1], row[2])
		}
		fmt.Printf("%s distortion: %v\n", cam.name, cam.c.Distortion)
	}
	return nil
}

func runSessions(cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if st == nil {
		return errors.New("recording is disabled")
	}
	defer st.Close()

	sessions, err := st.Sessions().List(20)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Printf("%s  %-5s %-4s %s  %8s  frames=%d dropped=%d %s\n",
			s.ID, s.Camera, s.Backend, s.StartedAt.Format(time.DateTime), duration, s.Frames, s.Dropped, s.EndReason)
	}
	return nil
}
