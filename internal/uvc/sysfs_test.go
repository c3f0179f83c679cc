package uvc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/neonusb/internal/capture"
)

// fakeSysfs builds a video4linux class tree under t.TempDir().
type fakeSysfs struct {
	t    *testing.T
	root string
}

func newFakeSysfs(t *testing.T) *fakeSysfs {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"class", "devices"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return &fakeSysfs{t: t, root: root}
}

func (f *fakeSysfs) write(path, content string) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		f.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

// addNode creates videoN attached to interface 0 of USB device usb with
// the given ids.
func (f *fakeSysfs) addNode(node, usb, vid, pid, index string) {
	f.t.Helper()
	usbDir := filepath.Join(f.root, "devices", usb)
	f.write(filepath.Join(usbDir, "idVendor"), vid)
	f.write(filepath.Join(usbDir, "idProduct"), pid)
	iface := filepath.Join(usbDir, usb+":1.0")
	if err := os.MkdirAll(iface, 0o755); err != nil {
		f.t.Fatal(err)
	}

	nodeDir := filepath.Join(f.root, "class", node)
	f.write(filepath.Join(nodeDir, "index"), index)
	if err := os.Symlink(iface, filepath.Join(nodeDir, "device")); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fakeSysfs) resolver() NodeResolver {
	return NodeResolver{SysfsRoot: filepath.Join(f.root, "class"), DevRoot: "/dev"}
}

func TestNodeResolver_Resolve(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addNode("video0", "1-1", "046d", "08e5", "0")
	fs.addNode("video11", "1-2", "16d0", "11d3", "1")
	fs.addNode("video10", "1-2", "16d0", "11d3", "0")
	fs.addNode("video2", "1-3", "0bda", "3036", "0")

	tests := []struct {
		name     string
		vid, pid uint16
		want     string
	}{
		{name: "eye sensor capture node", vid: 0x16D0, pid: 0x11D3, want: "/dev/video10"},
		{name: "scene camera", vid: 0x0BDA, pid: 0x3036, want: "/dev/video2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fs.resolver().Resolve(tt.name, tt.vid, tt.pid)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNodeResolver_NotFound(t *testing.T) {
	fs := newFakeSysfs(t)
	fs.addNode("video0", "1-1", "046d", "08e5", "0")

	_, err := fs.resolver().Resolve("Neon Sensor Module v1", 0x16D0, 0x11D3)
	if !errors.Is(err, capture.ErrDeviceNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrDeviceNotFound", err)
	}
	var nf *capture.DeviceNotFoundError
	if !errors.As(err, &nf) || nf.Name != "Neon Sensor Module v1" {
		t.Errorf("error should carry the camera name, got %v", err)
	}
}

func TestNodeResolver_MissingRoot(t *testing.T) {
	r := NodeResolver{SysfsRoot: filepath.Join(t.TempDir(), "missing"), DevRoot: "/dev"}
	if _, err := r.Resolve("eye", 1, 2); err == nil {
		t.Error("expected error for missing sysfs root")
	}
}
