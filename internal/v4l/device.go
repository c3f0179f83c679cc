// Package v4l implements the kernel-video camera backend on top of the
// V4L2 streaming interface.
package v4l

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blackjack/webcam"

	"github.com/ayusman/neonusb/internal/uvc"
)

// V4L2 pixel formats handled by the decoder.
const (
	PixelFormatGREY  webcam.PixelFormat = 0x59455247 // 'GREY'
	PixelFormatMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
)

// Device is the subset of *webcam.Webcam the backend drives.
type Device interface {
	GetName() (string, error)
	GetSupportedFormats() map[webcam.PixelFormat]string
	GetSupportedFrameSizes(f webcam.PixelFormat) []webcam.FrameSize
	GetSupportedFramerates(fp webcam.PixelFormat, width uint32, height uint32) []webcam.FrameRate
	SetImageFormat(f webcam.PixelFormat, width, height uint32) (webcam.PixelFormat, uint32, uint32, error)
	SetFramerate(fps float32) error
	StartStreaming() error
	WaitForFrame(timeout uint32) error
	ReadFrame() ([]byte, error)
	GetControls() map[webcam.ControlID]webcam.Control
	GetControl(id webcam.ControlID) (int32, error)
	SetControl(id webcam.ControlID, value int32) error
	StopStreaming() error
	Close() error
}

// OpenFunc opens a device node. webcam.Open fails for nodes that cannot
// stream video capture, which is the capability filter.
type OpenFunc func(path string) (Device, error)

// ControlFunc opens the extension unit channel of a device node.
type ControlFunc func(path string) (uvc.Querier, func() error, error)

// OpenWebcam opens path with github.com/blackjack/webcam.
func OpenWebcam(path string) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// OpenIoctl opens path a second time for raw extension unit ioctls.
func OpenIoctl(path string) (uvc.Querier, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	return uvc.NewIoctlQuerier(f.Fd()), f.Close, nil
}

// scanNodes lists devRoot/video* sorted by device number.
func scanNodes(devRoot string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(devRoot, "video*"))
	if err != nil {
		return nil, err
	}

	type node struct {
		path   string
		number int
	}
	var nodes []node
	for _, p := range paths {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), "video"))
		if err != nil {
			continue
		}
		nodes = append(nodes, node{path: p, number: n})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].number < nodes[j].number })

	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.path
	}
	return out, nil
}
