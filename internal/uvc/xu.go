// Package uvc implements the USB Video Class camera backend: device
// discovery by vendor and product id, mode enumeration from the
// configuration descriptor, and the vendor extension unit that carries the
// eye sensor's per-side exposure and gain.
package uvc

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ayusman/neonusb/internal/capture"
)

// UVC request codes.
const (
	SetCur  uint8 = 0x01
	GetCur  uint8 = 0x81
	GetMin  uint8 = 0x82
	GetMax  uint8 = 0x83
	GetRes  uint8 = 0x84
	GetLen  uint8 = 0x85
	GetInfo uint8 = 0x86
	GetDef  uint8 = 0x87
)

// ExtensionUnitID is the vendor extension unit on the eye sensor.
const ExtensionUnitID uint8 = 3

// Extension unit control selectors.
const (
	SelectorExposure1 uint8 = 0x01
	SelectorExposure2 uint8 = 0x02
	SelectorGain1     uint8 = 0x03
	SelectorGain2     uint8 = 0x04
)

// selectorSize is the payload length in bytes of each selector.
var selectorSize = map[uint8]int{
	SelectorExposure1: 4,
	SelectorExposure2: 4,
	SelectorGain1:     2,
	SelectorGain2:     2,
}

// Querier runs one extension unit control query. data is read for SET
// requests and filled for GET requests.
type Querier interface {
	Query(unit, selector, query uint8, data []byte) error
}

// xuControlQuery mirrors struct uvc_xu_control_query from linux/uvcvideo.h.
type xuControlQuery struct {
	Unit     uint8
	Selector uint8
	Query    uint8
	Size     uint16
	Data     *byte
}

// ctrlQueryIoctl is UVCIOC_CTRL_QUERY, _IOWR('u', 0x21, struct uvc_xu_control_query).
var ctrlQueryIoctl = iowr('u', 0x21, unsafe.Sizeof(xuControlQuery{}))

func iowr(typ byte, nr uintptr, size uintptr) uintptr {
	const (
		read  = 2
		write = 1
	)
	return (read|write)<<30 | size<<16 | uintptr(typ)<<8 | nr
}

// IoctlQuerier issues UVCIOC_CTRL_QUERY on an open video node.
type IoctlQuerier struct {
	fd uintptr
}

// NewIoctlQuerier wraps the file descriptor of an open /dev/videoN node.
func NewIoctlQuerier(fd uintptr) *IoctlQuerier {
	return &IoctlQuerier{fd: fd}
}

func (q *IoctlQuerier) Query(unit, selector, query uint8, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("xu query %#02x/%#02x: empty buffer", unit, selector)
	}
	req := xuControlQuery{
		Unit:     unit,
		Selector: selector,
		Query:    query,
		Size:     uint16(len(data)),
		Data:     &data[0],
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, q.fd, ctrlQueryIoctl, uintptr(unsafe.Pointer(&req)))
	runtime.KeepAlive(data)
	if errno != 0 {
		return fmt.Errorf("xu query unit %d selector %#02x query %#02x: %w", unit, selector, query, errno)
	}
	return nil
}

// XU reads and writes the eye sensor's per-side extension unit controls.
type XU struct {
	q Querier
}

// NewXU returns an extension unit accessor over q.
func NewXU(q Querier) *XU {
	return &XU{q: q}
}

// Set writes value to selector as a little-endian integer of the
// selector's width.
func (x *XU) Set(selector uint8, value int) error {
	buf, err := encode(selector, value)
	if err != nil {
		return err
	}
	return x.q.Query(ExtensionUnitID, selector, SetCur, buf)
}

// Get reads the current value of selector.
func (x *XU) Get(selector uint8) (int, error) {
	size, ok := selectorSize[selector]
	if !ok {
		return 0, fmt.Errorf("unknown xu selector %#02x", selector)
	}
	buf := make([]byte, size)
	if err := x.q.Query(ExtensionUnitID, selector, GetCur, buf); err != nil {
		return 0, err
	}
	return decode(buf), nil
}

// SetSideExposure writes the exposure of one eye sensor half.
func (x *XU) SetSideExposure(side capture.Side, value int) error {
	return x.Set(SelectorExposure1+uint8(side), value)
}

// SideExposure reads the exposure of one eye sensor half.
func (x *XU) SideExposure(side capture.Side) (int, error) {
	return x.Get(SelectorExposure1 + uint8(side))
}

// SetSideGain writes the analog gain of one eye sensor half.
func (x *XU) SetSideGain(side capture.Side, value int) error {
	return x.Set(SelectorGain1+uint8(side), value)
}

// SideGain reads the analog gain of one eye sensor half.
func (x *XU) SideGain(side capture.Side) (int, error) {
	return x.Get(SelectorGain1 + uint8(side))
}

func encode(selector uint8, value int) ([]byte, error) {
	size, ok := selectorSize[selector]
	if !ok {
		return nil, fmt.Errorf("unknown xu selector %#02x", selector)
	}
	if value < 0 || uint64(value) >= 1<<(8*size) {
		return nil, fmt.Errorf("xu selector %#02x: value %d does not fit in %d bytes", selector, value, size)
	}
	buf := make([]byte, size)
	switch size {
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	}
	return buf, nil
}

func decode(buf []byte) int {
	switch len(buf) {
	case 1:
		return int(buf[0])
	case 2:
		return int(binary.LittleEndian.Uint16(buf))
	default:
		return int(binary.LittleEndian.Uint32(buf))
	}
}
