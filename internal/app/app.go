// Package app runs the eye, scene and IMU producers of a Neon module and
// hands their output to a consumer through bounded queues.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/neonusb/internal/camera"
	"github.com/ayusman/neonusb/internal/capture"
	"github.com/ayusman/neonusb/internal/config"
	"github.com/ayusman/neonusb/internal/imu"
	"github.com/ayusman/neonusb/internal/store"
	"github.com/ayusman/neonusb/internal/stream"
)

// ErrRunning is returned by Start on an app that is already running.
var ErrRunning = errors.New("app already running")

// Options configures an App. A nil opener disables that camera.
type Options struct {
	EyeOpener    camera.Opener
	EyeBackend   string
	EyeOptions   camera.EyeOptions
	SceneOpener  camera.Opener
	SceneBackend string
	SceneOptions camera.SceneOptions

	// IMU, if set, opens the inertial sample reader.
	IMU func() (imu.Reader, error)

	QueueCapacity int

	// Reconnect reopens a camera after it stops delivering frames.
	Reconnect         bool
	ReconnectInterval time.Duration

	// Store, if set, records sessions, exposures and reconnect attempts.
	Store *store.Store

	Logger *log.Logger
}

// App owns one producer goroutine per enabled sensor.
type App struct {
	opts   Options
	logger *log.Logger

	eyeFrames    *stream.Queue[*capture.Frame]
	sceneFrames  *stream.Queue[*capture.Frame]
	imuSamples   *stream.Queue[imu.Sample]
	eyeStarted   *stream.Signal
	sceneStarted *stream.Signal

	recorder *recorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   []error
	mu     sync.Mutex
}

// New returns an App with empty queues. Nothing is opened until Start.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	capacity := opts.QueueCapacity
	if capacity < 1 {
		capacity = stream.DefaultCapacity
	}
	if opts.EyeBackend == "" {
		opts.EyeBackend = camera.BackendUVC
	}
	if opts.SceneBackend == "" {
		opts.SceneBackend = camera.BackendUVC
	}

	a := &App{
		opts:         opts,
		logger:       logger,
		eyeFrames:    stream.NewQueue[*capture.Frame](capacity),
		sceneFrames:  stream.NewQueue[*capture.Frame](capacity),
		imuSamples:   stream.NewQueue[imu.Sample](capacity),
		eyeStarted:   stream.NewSignal(),
		sceneStarted: stream.NewSignal(),
		recorder:     newRecorder(opts.Store, logger),
	}

	onExposure := opts.EyeOptions.OnExposure
	a.opts.EyeOptions.OnExposure = func(ts float64, values [2]int) {
		a.recorder.exposure(ts, values)
		if onExposure != nil {
			onExposure(ts, values)
		}
	}
	if a.opts.EyeOptions.Logger == nil {
		a.opts.EyeOptions.Logger = logger
	}
	if a.opts.SceneOptions.Logger == nil {
		a.opts.SceneOptions.Logger = logger
	}
	return a
}

// NewFromConfig builds an App from a loaded configuration. openIMU
// supplies the IMU reader when cfg enables the IMU stream; it is ignored
// otherwise.
func NewFromConfig(cfg *config.Config, st *store.Store, openIMU func() (imu.Reader, error), logger *log.Logger) (*App, error) {
	opts := Options{
		EyeBackend:        cfg.Eye.Backend,
		SceneBackend:      cfg.Scene.Backend,
		QueueCapacity:     cfg.Stream.QueueCapacity,
		Reconnect:         cfg.Reconnect.Enabled,
		ReconnectInterval: cfg.Reconnect.Interval,
		Store:             st,
		Logger:            logger,
		EyeOptions: camera.EyeOptions{
			MaxExposure: cfg.Eye.MaxExposure,
			Mode:        cfg.ExposureMode(),
			Logger:      logger,
		},
		SceneOptions: camera.SceneOptions{Logger: logger},
	}

	var err error
	if cfg.Eye.Enabled {
		if opts.EyeOpener, err = camera.OpenerFor(cfg.Eye.Backend, cfg.Eye.Timeout, logger); err != nil {
			return nil, fmt.Errorf("eye camera: %w", err)
		}
	}
	if cfg.Scene.Enabled {
		if opts.SceneOpener, err = camera.OpenerFor(cfg.Scene.Backend, cfg.Scene.Timeout, logger); err != nil {
			return nil, fmt.Errorf("scene camera: %w", err)
		}
	}
	if cfg.Stream.IMU {
		if openIMU == nil {
			return nil, errors.New("imu stream enabled but no imu reader available")
		}
		opts.IMU = openIMU
	}
	return New(opts), nil
}

// EyeFrames returns the eye frame queue. Consumers own dequeued frames.
func (a *App) EyeFrames() *stream.Queue[*capture.Frame] {
	return a.eyeFrames
}

// SceneFrames returns the scene frame queue.
func (a *App) SceneFrames() *stream.Queue[*capture.Frame] {
	return a.sceneFrames
}

// IMUSamples returns the IMU sample queue.
func (a *App) IMUSamples() *stream.Queue[imu.Sample] {
	return a.imuSamples
}

// EyeStarted fires once the eye camera is streaming.
func (a *App) EyeStarted() *stream.Signal {
	return a.eyeStarted
}

// SceneStarted fires once the scene camera is streaming.
func (a *App) SceneStarted() *stream.Signal {
	return a.sceneStarted
}

// Start launches the producers. The scene camera starts streaming only
// after the eye camera has. A producer that fails stops the others, so Wait
// returns as soon as any sensor is lost for good.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return ErrRunning
	}
	if a.opts.EyeOpener == nil && a.opts.SceneOpener == nil && a.opts.IMU == nil {
		return errors.New("no sensor enabled")
	}

	ctx, a.cancel = context.WithCancel(ctx)

	var sceneAfter *stream.Signal
	if a.opts.EyeOpener != nil {
		sceneAfter = a.eyeStarted
		a.spawn(func() error {
			return a.runCamera(ctx, cameraRun{
				name:    "eye",
				backend: a.opts.EyeBackend,
				open:    a.openEye,
				queue:   a.eyeFrames,
				started: a.eyeStarted,
			})
		})
	}
	if a.opts.SceneOpener != nil {
		a.spawn(func() error {
			return a.runCamera(ctx, cameraRun{
				name:    "scene",
				backend: a.opts.SceneBackend,
				open:    a.openScene,
				queue:   a.sceneFrames,
				started: a.sceneStarted,
				after:   sceneAfter,
			})
		})
	}
	if a.opts.IMU != nil {
		a.spawn(func() error { return a.runIMU(ctx) })
	}

	a.logger.Println("Capture started")
	return nil
}

func (a *App) spawn(run func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(); err != nil {
			a.mu.Lock()
			a.errs = append(a.errs, err)
			cancel := a.cancel
			a.mu.Unlock()
			cancel()
		}
	}()
}

// Wait blocks until every producer has exited and returns their errors.
func (a *App) Wait() error {
	a.wg.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.errs...)
}

// Stop cancels the producers, waits for them and releases any frames left
// in the queues. A producer blocked in a frame read stops once the read
// returns or times out.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := a.Wait()
	releaseFrames(a.eyeFrames)
	releaseFrames(a.sceneFrames)

	a.logger.Println("Capture stopped")
	return err
}

func (a *App) openEye() (stream.Source[*capture.Frame], error) {
	eye, err := camera.NewEyeCamera(a.opts.EyeOpener, a.opts.EyeOptions)
	if err != nil {
		return nil, err
	}
	return frames{eye}, nil
}

func (a *App) openScene() (stream.Source[*capture.Frame], error) {
	scene, err := camera.NewSceneCamera(a.opts.SceneOpener, a.opts.SceneOptions)
	if err != nil {
		return nil, err
	}
	return frames{scene}, nil
}

// frameCamera is the part of EyeCamera and SceneCamera a producer needs.
type frameCamera interface {
	GetFrame() (*capture.Frame, error)
	Close() error
}

// frames adapts a camera to a stream source.
type frames struct {
	cam frameCamera
}

func (f frames) Next() (*capture.Frame, error) { return f.cam.GetFrame() }
func (f frames) Close() error                  { return f.cam.Close() }

func closeFrame(f *capture.Frame) {
	f.Close()
}

func releaseFrames(q *stream.Queue[*capture.Frame]) {
	for {
		f, ok := q.TryPop()
		if !ok {
			return
		}
		f.Close()
	}
}
