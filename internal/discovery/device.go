package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/rkflash/internal/usb"
)

// Device is a Rockchip device found in bootloader mode on the USB bus
type Device struct {
	// Handle identifies the device for opening a session
	Handle usb.Handle

	// DiscoveredAt is when the device was enumerated
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the device
func (d *Device) String() string {
	return fmt.Sprintf("Rockchip %s in bootloader mode (bus %03d, address %03d)",
		d.Handle.Chip, d.Handle.Bus, d.Handle.Address)
}

// Peer is an rkflash event server advertised over mDNS
type Peer struct {
	// Instance is the advertised service instance (e.g., "rkflash-001-014")
	Instance string

	// Hostname is the mDNS hostname of the host running rkflash
	Hostname string

	// IP is the peer address, IPv4 preferred
	IP string

	// Port is the event server port
	Port int

	// Metadata contains the TXT record data
	// Common fields: "chip=RK3188", "path=/events", "version=1.0.0"
	Metadata map[string]string

	// DiscoveredAt is when the peer was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the peer
func (p *Peer) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", p.Instance, p.Hostname, p.IP, p.Port)
}

// EventsURL returns the WebSocket URL of the peer's event stream
func (p *Peer) EventsURL() string {
	path := p.GetMetadata("path")
	if path == "" {
		path = DefaultEventsPath
	}
	host := p.IP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, p.Port, path)
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (p *Peer) GetMetadata(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}
