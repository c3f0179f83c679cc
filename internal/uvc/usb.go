package uvc

import (
	"fmt"
	"time"

	usb "github.com/kevmo314/go-usb"
)

// ControlTransferer issues USB control transfers on the default pipe.
type ControlTransferer interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Device is an open USB device handle.
type Device struct {
	handle *usb.DeviceHandle
	device *usb.Device
}

// VendorID returns the device's USB vendor id.
func (d *Device) VendorID() uint16 {
	return d.device.Descriptor.VendorID
}

// ProductID returns the device's USB product id.
func (d *Device) ProductID() uint16 {
	return d.device.Descriptor.ProductID
}

// Product returns the product string descriptor, or "" if it cannot be read.
func (d *Device) Product() string {
	name, err := d.handle.GetStringDescriptor(d.device.Descriptor.ProductIndex)
	if err != nil {
		return ""
	}
	return name
}

// Serial returns the serial number string descriptor, or "" if it cannot
// be read.
func (d *Device) Serial() string {
	serial, err := d.handle.GetStringDescriptor(d.device.Descriptor.SerialNumberIndex)
	if err != nil {
		return ""
	}
	return serial
}

func (d *Device) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	return d.handle.ControlTransfer(requestType, request, value, index, data, timeout)
}

// Close releases the handle.
func (d *Device) Close() {
	d.handle.Close()
}

// OpenDevice opens the first connected device with the given ids. It
// returns a *capture.DeviceNotFoundError carrying name when none is
// connected.
func OpenDevice(name string, vendorID, productID uint16) (*Device, error) {
	devices, err := usb.GetDeviceList()
	if err != nil {
		return nil, fmt.Errorf("list usb devices: %w", err)
	}

	for _, d := range devices {
		if d.Descriptor.VendorID != vendorID || d.Descriptor.ProductID != productID {
			continue
		}
		handle, err := d.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s [%04x:%04x]: %w", name, vendorID, productID, err)
		}
		return &Device{handle: handle, device: d}, nil
	}

	return nil, notFound(name)
}
