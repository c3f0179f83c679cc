package uvc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/ayusman/neonusb/internal/capture"
)

// Descriptor constants from the USB and UVC 1.1 specifications.
const (
	requestGetDescriptor = 0x06
	descConfiguration    = 0x02
	descInterface        = 0x04
	descCSInterface      = 0x24

	classVideo             = 0x0E
	subclassVideoStreaming = 0x02

	vsFormatUncompressed = 0x04
	vsFrameUncompressed  = 0x05
	vsFormatMJPEG        = 0x06
	vsFrameMJPEG         = 0x07

	// frame descriptor offsets
	frameWidthOffset        = 5
	frameHeightOffset       = 7
	frameIntervalTypeOffset = 25
	frameIntervalsOffset    = 26
)

// descriptorTimeout bounds the configuration descriptor read.
const descriptorTimeout = 5 * time.Second

// ReadConfigDescriptor fetches the full active configuration descriptor.
func ReadConfigDescriptor(dev ControlTransferer) ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := dev.ControlTransfer(0x80, requestGetDescriptor, descConfiguration<<8, 0, buf, descriptorTimeout)
	if err != nil {
		return nil, fmt.Errorf("get configuration descriptor: %w", err)
	}
	return buf[:n], nil
}

// ReadModes returns every (format, size, rate) the device advertises.
func ReadModes(dev ControlTransferer) ([]capture.Mode, error) {
	config, err := ReadConfigDescriptor(dev)
	if err != nil {
		return nil, err
	}
	return ParseModes(config), nil
}

// ParseModes walks a configuration descriptor and collects the modes of
// every uncompressed and MJPEG format on the video streaming interfaces.
// Malformed trailing descriptors end the walk.
func ParseModes(config []byte) []capture.Mode {
	var (
		modes     []capture.Mode
		streaming bool
		format    string
	)

	for offset := 0; offset+2 <= len(config); {
		length := int(config[offset])
		if length < 2 || offset+length > len(config) {
			break
		}
		desc := config[offset : offset+length]
		offset += length

		switch desc[1] {
		case descInterface:
			streaming = length >= 9 && desc[5] == classVideo && desc[6] == subclassVideoStreaming
			format = ""
		case descCSInterface:
			if !streaming || length < 3 {
				continue
			}
			switch desc[2] {
			case vsFormatUncompressed:
				format = uncompressedFormat(desc)
			case vsFormatMJPEG:
				format = "MJPG"
			case vsFrameUncompressed, vsFrameMJPEG:
				modes = append(modes, frameModes(format, desc)...)
			}
		}
	}
	return modes
}

// uncompressedFormat maps the format GUID's leading FOURCC onto the V4L2
// name for the same layout.
func uncompressedFormat(desc []byte) string {
	if len(desc) < 9 {
		return ""
	}
	switch fourcc := string(desc[5:9]); fourcc {
	case "Y800", "GREY":
		return "GREY"
	case "YUY2":
		return "YUYV"
	default:
		return fourcc
	}
}

func frameModes(format string, desc []byte) []capture.Mode {
	if len(desc) < frameIntervalsOffset {
		return nil
	}
	width := int(binary.LittleEndian.Uint16(desc[frameWidthOffset:]))
	height := int(binary.LittleEndian.Uint16(desc[frameHeightOffset:]))

	var intervals []uint32
	if n := int(desc[frameIntervalTypeOffset]); n == 0 {
		// continuous: min, max, step
		if len(desc) >= frameIntervalsOffset+8 {
			intervals = append(intervals,
				binary.LittleEndian.Uint32(desc[frameIntervalsOffset:]),
				binary.LittleEndian.Uint32(desc[frameIntervalsOffset+4:]))
		}
	} else {
		for i := 0; i < n; i++ {
			off := frameIntervalsOffset + 4*i
			if off+4 > len(desc) {
				break
			}
			intervals = append(intervals, binary.LittleEndian.Uint32(desc[off:]))
		}
	}

	modes := make([]capture.Mode, 0, len(intervals))
	for _, interval := range intervals {
		if interval == 0 {
			continue
		}
		modes = append(modes, capture.Mode{
			Format: format,
			Width:  width,
			Height: height,
			FPS:    IntervalFPS(interval),
		})
	}
	return modes
}

// IntervalFPS converts a frame interval in 100 ns units to a whole rate.
func IntervalFPS(interval uint32) int {
	return int(math.Round(1e7 / float64(interval)))
}

func notFound(name string) error {
	return &capture.DeviceNotFoundError{Name: name}
}
