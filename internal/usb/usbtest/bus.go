package usbtest

import (
	"sync"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/usb"
)

// Bus is a simulated USB bus holding any number of devices
type Bus struct {
	mu      sync.Mutex
	devices []*Device
	polls   int
}

// NewBus creates a bus with the given devices attached
func NewBus(devs ...*Device) *Bus {
	return &Bus{devices: devs}
}

// Attach plugs a device in
func (b *Bus) Attach(d *Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

// Polls returns how many times Enumerate was called
func (b *Bus) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

// Enumerate implements usb.Enumerator
func (b *Bus) Enumerate() ([]usb.Handle, error) {
	b.mu.Lock()
	devs := append([]*Device(nil), b.devices...)
	b.polls++
	b.mu.Unlock()

	var out []usb.Handle
	for _, d := range devs {
		hs, _ := d.Enumerate()
		out = append(out, hs...)
	}
	return out, nil
}

// Open implements usb.Transport
func (b *Bus) Open(h usb.Handle) (usb.Conn, error) {
	b.mu.Lock()
	devs := append([]*Device(nil), b.devices...)
	b.mu.Unlock()

	for _, d := range devs {
		if d.Handle().ID() == h.ID() {
			return d.Open(h)
		}
	}
	return nil, flasherr.Newf(flasherr.ErrTypeDeviceNotFound, "open", "device %s is no longer attached", h)
}
