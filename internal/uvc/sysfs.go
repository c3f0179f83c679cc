package uvc

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Default sysfs and devfs roots.
const (
	SysfsVideoPath = "/sys/class/video4linux"
	DevPath        = "/dev"
)

// NodeResolver maps a USB device to the capture node the kernel created for
// it. The roots are fields so tests can point them at a fake tree.
type NodeResolver struct {
	SysfsRoot string
	DevRoot   string
}

// DefaultResolver reads the live system.
var DefaultResolver = NodeResolver{SysfsRoot: SysfsVideoPath, DevRoot: DevPath}

// videoNode is one /sys/class/video4linux entry.
type videoNode struct {
	name   string // e.g. video2
	number int
	index  int // 0 for the capture node, 1 for the metadata node
	usbDir string
}

// Resolve returns the lowest-numbered /dev/videoN whose USB parent has the
// given ids and whose node index is 0. The error is a
// *capture.DeviceNotFoundError carrying name when nothing matches.
func (r NodeResolver) Resolve(name string, vendorID, productID uint16) (string, error) {
	nodes, err := r.scan()
	if err != nil {
		return "", err
	}

	for _, n := range nodes {
		if n.index != 0 {
			continue
		}
		vid, err := readSysfsHexUint16(filepath.Join(n.usbDir, "idVendor"))
		if err != nil || vid != vendorID {
			continue
		}
		pid, err := readSysfsHexUint16(filepath.Join(n.usbDir, "idProduct"))
		if err != nil || pid != productID {
			continue
		}
		return filepath.Join(r.DevRoot, n.name), nil
	}
	return "", notFound(name)
}

// scan lists video nodes sorted by device number.
func (r NodeResolver) scan() ([]videoNode, error) {
	entries, err := os.ReadDir(r.SysfsRoot)
	if err != nil {
		return nil, err
	}

	var nodes []videoNode
	for _, entry := range entries {
		name := entry.Name()
		num, ok := strings.CutPrefix(name, "video")
		if !ok {
			continue
		}
		number, err := strconv.Atoi(num)
		if err != nil {
			continue
		}

		// device points at the USB interface; the device ids live one level up.
		iface, err := filepath.EvalSymlinks(filepath.Join(r.SysfsRoot, name, "device"))
		if err != nil {
			continue
		}

		index := 0
		if s, err := readSysfsString(filepath.Join(r.SysfsRoot, name, "index")); err == nil {
			if v, err := strconv.Atoi(s); err == nil {
				index = v
			}
		}

		nodes = append(nodes, videoNode{
			name:   name,
			number: number,
			index:  index,
			usbDir: filepath.Dir(iface),
		})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].number < nodes[j].number })
	return nodes, nil
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsHexUint16(path string) (uint16, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
