package camera

import (
	"errors"
	"sync"
)

// Device is one connected Neon. Its cameras are opened on first use and
// cached.
type Device struct {
	open      Opener
	eyeOpts   EyeOptions
	sceneOpts SceneOptions

	eye   *EyeCamera
	scene *SceneCamera
	mu    sync.Mutex
}

// NewDevice returns a device whose cameras are opened with open.
func NewDevice(open Opener, eyeOpts EyeOptions, sceneOpts SceneOptions) *Device {
	return &Device{open: open, eyeOpts: eyeOpts, sceneOpts: sceneOpts}
}

// Eye returns the eye camera, opening it if needed.
func (d *Device) Eye() (*EyeCamera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eye == nil {
		eye, err := NewEyeCamera(d.open, d.eyeOpts)
		if err != nil {
			return nil, err
		}
		d.eye = eye
	}
	return d.eye, nil
}

// Scene returns the scene camera, opening it if needed.
func (d *Device) Scene() (*SceneCamera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scene == nil {
		scene, err := NewSceneCamera(d.open, d.sceneOpts)
		if err != nil {
			return nil, err
		}
		d.scene = scene
	}
	return d.scene, nil
}

// Close closes every opened camera and forgets them, so the next Eye or
// Scene call reopens.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.eye != nil {
		errs = append(errs, d.eye.Close())
		d.eye = nil
	}
	if d.scene != nil {
		errs = append(errs, d.scene.Close())
		d.scene = nil
	}
	return errors.Join(errs...)
}
