package usb

import (
	"fmt"
	"sort"
)

// VendorRockchip is the USB vendor ID of every Rockchip bootloader
const VendorRockchip = 0x2207

// Profile describes how to talk to one Rockchip product in bootloader mode
type Profile struct {
	ProductID     uint16
	Chip          string
	ReadEndpoint  int // bulk IN endpoint number
	WriteEndpoint int // bulk OUT endpoint number
}

// Profiles maps product IDs to their profiles
type Profiles map[uint16]Profile

var knownProfiles = []Profile{
	{0x290a, "RK2906", 1, 2},
	{0x292a, "RK2928", 1, 2},
	{0x292c, "RK3026/RK3028", 1, 2},
	{0x281a, "RK281A", 1, 2},
	{0x300a, "RK3066", 1, 2},
	{0x0010, "RK3168", 1, 2},
	{0x300b, "RK3168", 1, 2},
	{0x310b, "RK3188", 1, 2},
	{0x310c, "RK3128", 1, 2},
	{0x320a, "RK3288", 1, 2},
	{0x320b, "RK3229", 1, 2},
	{0x330c, "RK3399", 1, 1},
}

// DefaultProfiles returns the built-in product table
func DefaultProfiles() Profiles {
	p := make(Profiles, len(knownProfiles))
	for _, prof := range knownProfiles {
		p[prof.ProductID] = prof
	}
	return p
}

// With returns a copy of p extended (or overridden) by extra
func (p Profiles) With(extra ...Profile) Profiles {
	out := make(Profiles, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for _, prof := range extra {
		out[prof.ProductID] = prof
	}
	return out
}

// Lookup returns the profile for a product ID
func (p Profiles) Lookup(productID uint16) (Profile, bool) {
	prof, ok := p[productID]
	return prof, ok
}

// Sorted returns the profiles ordered by product ID
func (p Profiles) Sorted() []Profile {
	out := make([]Profile, 0, len(p))
	for _, prof := range p {
		out = append(out, prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Handle identifies an attached device. It is a plain value; opening it is
// the job of a Transport.
type Handle struct {
	Bus           int
	Address       int
	VendorID      uint16
	ProductID     uint16
	Chip          string
	ReadEndpoint  int
	WriteEndpoint int
}

// NewHandle builds a handle for a device at bus:address using profile
func NewHandle(bus, address int, prof Profile) Handle {
	return Handle{
		Bus:           bus,
		Address:       address,
		VendorID:      VendorRockchip,
		ProductID:     prof.ProductID,
		Chip:          prof.Chip,
		ReadEndpoint:  prof.ReadEndpoint,
		WriteEndpoint: prof.WriteEndpoint,
	}
}

// ID returns the bus:address identifier
func (h Handle) ID() string {
	return fmt.Sprintf("%d:%d", h.Bus, h.Address)
}

// String returns a human-readable representation of the handle
func (h Handle) String() string {
	return fmt.Sprintf("%03d:%03d %04x:%04x %s", h.Bus, h.Address, h.VendorID, h.ProductID, h.Chip)
}
