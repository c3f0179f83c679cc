// Package calibration reads the factory calibration block stored on the
// Neon module.
package calibration

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ayusman/neonusb/internal/uvc"
)

// Vendor request layout.
const (
	RequestReadCalibration = 0xD4
	BlockLength            = 1024
	ChunkSize              = 64

	requestTypeVendorIn = 0xC0
	transferTimeout     = time.Second
)

// Camera holds one camera's intrinsics and its pose in the module frame.
type Camera struct {
	CameraMatrix [3][3]float64
	Distortion   [8]float64
	Extrinsics   [4][4]float64
}

// Calibration is the decoded calibration record.
type Calibration struct {
	Version uint8
	Serial  string
	Scene   Camera
	Right   Camera
	Left    Camera
	CRC     uint32
}

// Intrinsics is what undistortion and projection of scene frames needs.
// Extrinsics is the scene camera's affine pose in the module frame.
type Intrinsics struct {
	CameraMatrix [3][3]float64
	Distortion   [8]float64
	Extrinsics   [4][4]float64
}

// SceneIntrinsics returns the scene camera matrix, distortion and pose.
func (c *Calibration) SceneIntrinsics() Intrinsics {
	return Intrinsics{
		CameraMatrix: c.Scene.CameraMatrix,
		Distortion:   c.Scene.Distortion,
		Extrinsics:   c.Scene.Extrinsics,
	}
}

// record is the packed little-endian on-device layout.
type record struct {
	Version uint8
	Serial  [6]byte
	Scene   Camera
	Right   Camera
	Left    Camera
	CRC     uint32
}

// RecordSize is the number of leading block bytes the record occupies.
var RecordSize = binary.Size(record{})

// ReadBlock reads the full calibration block in ChunkSize transfers. A
// short chunk is an error.
func ReadBlock(dev uvc.ControlTransferer) ([]byte, error) {
	block := make([]byte, 0, BlockLength)
	chunk := make([]byte, ChunkSize)
	for offset := 0; offset < BlockLength; offset += ChunkSize {
		n, err := dev.ControlTransfer(requestTypeVendorIn, RequestReadCalibration, 0, uint16(offset), chunk, transferTimeout)
		if err != nil {
			return nil, fmt.Errorf("read calibration at offset %d: %w", offset, err)
		}
		if n != ChunkSize {
			return nil, fmt.Errorf("read calibration at offset %d: got %d bytes, want %d", offset, n, ChunkSize)
		}
		block = append(block, chunk...)
	}
	return block, nil
}

// Parse decodes the record at the start of block.
func Parse(block []byte) (*Calibration, error) {
	if len(block) < RecordSize {
		return nil, fmt.Errorf("calibration block is %d bytes, need %d", len(block), RecordSize)
	}

	var r record
	if err := binary.Read(bytes.NewReader(block[:RecordSize]), binary.LittleEndian, &r); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}

	return &Calibration{
		Version: r.Version,
		Serial:  string(bytes.TrimRight(r.Serial[:], "\x00")),
		Scene:   r.Scene,
		Right:   r.Right,
		Left:    r.Left,
		CRC:     r.CRC,
	}, nil
}

// Read reads and decodes the calibration of an open device.
func Read(dev uvc.ControlTransferer) (*Calibration, error) {
	block, err := ReadBlock(dev)
	if err != nil {
		return nil, err
	}
	return Parse(block)
}

// ReadDevice opens the Neon module by id and reads its calibration.
func ReadDevice(name string, vendorID, productID uint16) (*Calibration, error) {
	dev, err := uvc.OpenDevice(name, vendorID, productID)
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	return Read(dev)
}
