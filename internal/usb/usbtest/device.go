// Package usbtest provides an in-memory Rockchip bootloader that implements
// usb.Transport and usb.Conn, for exercising the session and engine without
// hardware.
package usbtest

import (
	"context"
	"sync"
	"time"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/usb"
)

// DefaultSectors is the simulated flash size when none is given (64 MiB)
const DefaultSectors = 0x20000

// Device is a simulated bootloader with sparse sector storage. Unwritten
// sectors read as zero.
type Device struct {
	mu sync.Mutex

	handle   usb.Handle
	info     protocol.FlashInfo
	chipInfo []byte
	sectors  map[uint32][]byte

	present  bool
	opens    int
	closes   int
	resets   int
	writes   int
	commands []protocol.Command
	faults   []*fault

	onCommand func(protocol.Command)
}

type faultKind int

const (
	faultCommand faultKind = iota
	faultShortRead
	faultStatus
)

type fault struct {
	kind   faultKind
	op     protocol.Opcode
	lba    uint32
	err    error
	status byte
	times  int // remaining hits; <0 means forever
}

// Option configures a Device
type Option func(*Device)

// WithHandle sets the bus identity reported by Enumerate
func WithHandle(h usb.Handle) Option {
	return func(d *Device) { d.handle = h }
}

// WithSectors sets the flash size reported by the flash info query
func WithSectors(n uint32) Option {
	return func(d *Device) { d.info.Sectors = n }
}

// WithParameter stores text as a parameter image at LBA 0
func WithParameter(text string) Option {
	return func(d *Device) {
		img, err := partition.EncodeParameter([]byte(text))
		if err != nil {
			panic(err)
		}
		d.store(partition.ParameterLBA, pad(img))
	}
}

// NewDevice creates a present RK3066 with DefaultSectors of flash
func NewDevice(opts ...Option) *Device {
	prof, _ := usb.DefaultProfiles().Lookup(0x300a)
	d := &Device{
		handle: usb.NewHandle(1, 4, prof),
		info: protocol.FlashInfo{
			Sectors:        DefaultSectors,
			BlockSize:      0x200,
			PageSize:       8,
			ECCBits:        40,
			AccessTime:     32,
			ManufacturerID: 1,
			ChipSelect:     1,
		},
		chipInfo: []byte("RK3066\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"),
		sectors:  make(map[uint32][]byte),
		present:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle returns the device identity
func (d *Device) Handle() usb.Handle {
	return d.handle
}

// Enumerate implements usb.Enumerator
func (d *Device) Enumerate() ([]usb.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present {
		return nil, nil
	}
	return []usb.Handle{d.handle}, nil
}

// Open implements usb.Transport
func (d *Device) Open(h usb.Handle) (usb.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.present || h.Bus != d.handle.Bus || h.Address != d.handle.Address {
		return nil, flasherr.Newf(flasherr.ErrTypeDeviceNotFound, "open", "device %s is no longer attached", h)
	}
	d.opens++
	return &conn{dev: d}, nil
}

// Disconnect unplugs the device. Open connections fail with
// ErrTypeDisconnected.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present = false
}

// OnCommand registers a hook run for every decoded command, before the
// device acts on it.
func (d *Device) OnCommand(fn func(protocol.Command)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCommand = fn
}

// FailCommand makes the next times command writes for op at lba fail with
// err before the device sees them. times < 0 fails forever.
func (d *Device) FailCommand(op protocol.Opcode, lba uint32, err error, times int) {
	d.addFault(&fault{kind: faultCommand, op: op, lba: lba, err: err, times: times})
}

// ShortRead makes the data phase of the next times reads at lba one byte short
func (d *Device) ShortRead(lba uint32, times int) {
	d.addFault(&fault{kind: faultShortRead, op: protocol.OpReadLBA, lba: lba, times: times})
}

// FailStatus makes the next times commands for op at lba answer with status
func (d *Device) FailStatus(op protocol.Opcode, lba uint32, status byte, times int) {
	d.addFault(&fault{kind: faultStatus, op: op, lba: lba, status: status, times: times})
}

func (d *Device) addFault(f *fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, f)
}

// takeFault consumes a matching fault. Callers hold d.mu.
func (d *Device) takeFault(kind faultKind, cmd protocol.Command) *fault {
	for _, f := range d.faults {
		if f.kind != kind || f.op != cmd.Opcode || f.lba != cmd.LBA || f.times == 0 {
			continue
		}
		if f.times > 0 {
			f.times--
		}
		return f
	}
	return nil
}

// Read returns count sectors starting at lba
func (d *Device) Read(lba, count uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(lba, count)
}

// Write stores data (a whole number of sectors) at lba
func (d *Device) Write(lba uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store(lba, pad(data))
}

// Stats reports how often the device was opened, closed and reset, and how
// many write commands it accepted.
func (d *Device) Stats() (opens, closes, resets, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes, d.resets, d.writes
}

// Commands returns every command the device decoded, in order
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

func (d *Device) load(lba, count uint32) []byte {
	out := make([]byte, int(count)*protocol.SectorSize)
	for i := uint32(0); i < count; i++ {
		if s, ok := d.sectors[lba+i]; ok {
			copy(out[int(i)*protocol.SectorSize:], s)
		}
	}
	return out
}

func (d *Device) store(lba uint32, data []byte) {
	for i := 0; i*protocol.SectorSize < len(data); i++ {
		s := make([]byte, protocol.SectorSize)
		copy(s, data[i*protocol.SectorSize:])
		d.sectors[lba+uint32(i)] = s
	}
}

func pad(data []byte) []byte {
	if rem := len(data) % protocol.SectorSize; rem != 0 {
		data = append(data, make([]byte, protocol.SectorSize-rem)...)
	}
	return data
}

// conn is one open connection to the simulated device
type conn struct {
	dev *Device

	mu      sync.Mutex
	closed  bool
	pending [][]byte          // responses queued for BulkRead
	writing *protocol.Command // write command awaiting its data phase
	status  byte              // status answered after the data phase
}

func (c *conn) check(op string) error {
	if c.closed {
		return flasherr.New(flasherr.ErrTypeDisconnected, op, "connection closed")
	}
	c.dev.mu.Lock()
	present := c.dev.present
	c.dev.mu.Unlock()
	if !present {
		return flasherr.New(flasherr.ErrTypeDisconnected, op, "device disconnected")
	}
	return nil
}

func (c *conn) BulkWrite(ctx context.Context, data []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("bulk write"); err != nil {
		return 0, err
	}

	if c.writing != nil {
		cmd := *c.writing
		c.writing = nil
		if len(data) != cmd.DataLength() {
			return 0, flasherr.Newf(flasherr.ErrTypeIO, "bulk write",
				"data phase is %d bytes, want %d", len(data), cmd.DataLength())
		}
		if c.status != 0 {
			c.pending = append(c.pending, protocol.Status{Tag: cmd.Tag, Status: c.status}.Marshal())
			c.status = 0
			return len(data), nil
		}
		c.dev.mu.Lock()
		c.dev.store(cmd.LBA, data)
		c.dev.writes++
		c.dev.mu.Unlock()
		c.pending = append(c.pending, protocol.Status{Tag: cmd.Tag}.Marshal())
		return len(data), nil
	}

	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		return 0, flasherr.Wrap(flasherr.ErrTypeIO, "bulk write", err)
	}

	c.dev.mu.Lock()
	hook := c.dev.onCommand
	c.dev.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}

	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if f := c.dev.takeFault(faultCommand, cmd); f != nil {
		return 0, f.err
	}
	c.dev.commands = append(c.dev.commands, cmd)

	if f := c.dev.takeFault(faultStatus, cmd); f != nil {
		if cmd.Opcode == protocol.OpWriteLBA {
			c.writing, c.status = &cmd, f.status
			return len(data), nil
		}
		c.pending = append(c.pending, protocol.Status{Tag: cmd.Tag, Status: f.status}.Marshal())
		return len(data), nil
	}

	ok := protocol.Status{Tag: cmd.Tag}.Marshal()
	switch cmd.Opcode {
	case protocol.OpTestUnitReady:
		c.pending = append(c.pending, ok)
	case protocol.OpReadFlashInfo:
		c.pending = append(c.pending, c.dev.info.Marshal(), ok)
	case protocol.OpReadChipInfo:
		c.pending = append(c.pending, append([]byte{}, c.dev.chipInfo...), ok)
	case protocol.OpReadLBA:
		if uint64(cmd.LBA)+uint64(cmd.Count) > uint64(c.dev.info.Sectors) {
			c.pending = append(c.pending, protocol.Status{Tag: cmd.Tag, Status: 1}.Marshal())
			break
		}
		block := c.dev.load(cmd.LBA, uint32(cmd.Count))
		if c.dev.takeFault(faultShortRead, cmd) != nil {
			block = block[:len(block)-1]
		}
		c.pending = append(c.pending, block, ok)
	case protocol.OpWriteLBA:
		if uint64(cmd.LBA)+uint64(cmd.Count) > uint64(c.dev.info.Sectors) {
			return 0, flasherr.Newf(flasherr.ErrTypeIO, "bulk write", "lba 0x%08x beyond flash", cmd.LBA)
		}
		c.writing = &cmd
	case protocol.OpReset:
		c.dev.resets++
	default:
		c.pending = append(c.pending, protocol.Status{Tag: cmd.Tag, Status: 1}.Marshal())
	}
	return len(data), nil
}

func (c *conn) BulkRead(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("bulk read"); err != nil {
		return nil, err
	}
	if len(c.pending) == 0 {
		return nil, flasherr.New(flasherr.ErrTypeTimeout, "bulk read", "no data pending")
	}

	next := c.pending[0]
	c.pending = c.pending[1:]
	if len(next) > maxLen {
		return nil, flasherr.Newf(flasherr.ErrTypeIO, "bulk read",
			"overflow: %d bytes pending, buffer is %d", len(next), maxLen)
	}
	return next, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.dev.mu.Lock()
	c.dev.closes++
	c.dev.mu.Unlock()
	return nil
}
