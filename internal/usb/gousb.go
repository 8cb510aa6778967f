package usb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
)

// Bus is the libusb-backed Transport
type Bus struct {
	profiles Profiles
	logger   *zap.Logger
	debug    int
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithProfiles replaces the product table used to recognise devices
func WithProfiles(p Profiles) BusOption {
	return func(b *Bus) { b.profiles = p }
}

// WithBusLogger sets the logger for open/close events
func WithBusLogger(l *zap.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithLibusbDebug sets the libusb debug level (0-4)
func WithLibusbDebug(level int) BusOption {
	return func(b *Bus) { b.debug = level }
}

// NewBus creates a Transport over the host USB stack
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		profiles: DefaultProfiles(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) newContext() *gousb.Context {
	ctx := gousb.NewContext()
	if b.debug > 0 {
		ctx.Debug(b.debug)
	}
	return ctx
}

// Enumerate lists attached devices with a known product ID. No device is
// left open.
func (b *Bus) Enumerate() ([]Handle, error) {
	ctx := b.newContext()
	defer ctx.Close()

	var handles []Handle
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != VendorRockchip {
			return false
		}
		if prof, ok := b.profiles.Lookup(uint16(desc.Product)); ok {
			handles = append(handles, NewHandle(desc.Bus, desc.Address, prof))
		}
		return false
	})
	if err != nil {
		return handles, mapError("enumerate", err, nil)
	}
	return handles, nil
}

// Open claims the default interface of the device behind h
func (b *Bus) Open(h Handle) (Conn, error) {
	ctx := b.newContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == h.Bus && desc.Address == h.Address &&
			uint16(desc.Vendor) == h.VendorID && uint16(desc.Product) == h.ProductID
	})
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, mapError("open", err, nil)
		}
		return nil, flasherr.Newf(flasherr.ErrTypeDeviceNotFound, "open",
			"device %s is no longer attached", h)
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}

	c := &gousbConn{ctx: ctx, dev: dev, handle: h, logger: b.logger}

	if err := dev.SetAutoDetach(true); err != nil {
		c.Close()
		return nil, mapError("open", err, nil)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		c.Close()
		return nil, mapError("claim interface", err, nil)
	}
	c.done = done

	if c.in, err = intf.InEndpoint(h.ReadEndpoint); err != nil {
		c.Close()
		return nil, flasherr.Wrap(flasherr.ErrTypeIO,
			fmt.Sprintf("open IN endpoint %d", h.ReadEndpoint), err)
	}
	if c.out, err = intf.OutEndpoint(h.WriteEndpoint); err != nil {
		c.Close()
		return nil, flasherr.Wrap(flasherr.ErrTypeIO,
			fmt.Sprintf("open OUT endpoint %d", h.WriteEndpoint), err)
	}

	b.logger.Info("Device opened",
		zap.String("device", h.String()),
		zap.Int("read_endpoint", h.ReadEndpoint),
		zap.Int("write_endpoint", h.WriteEndpoint),
	)
	return c, nil
}

// gousbConn is an open device with its claimed bulk endpoints
type gousbConn struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	handle Handle
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (c *gousbConn) BulkWrite(ctx context.Context, data []byte, timeout time.Duration) (int, error) {
	if c.isClosed() {
		return 0, flasherr.New(flasherr.ErrTypeDisconnected, "bulk write", "connection closed")
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := c.out.WriteContext(tctx, data)
	if err != nil {
		return n, mapError("bulk write", err, tctx)
	}
	if n < len(data) {
		return n, flasherr.Newf(flasherr.ErrTypeShortWrite, "bulk write",
			"wrote %d of %d bytes", n, len(data))
	}
	return n, nil
}

func (c *gousbConn) BulkRead(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error) {
	if c.isClosed() {
		return nil, flasherr.New(flasherr.ErrTypeDisconnected, "bulk read", "connection closed")
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, maxLen)
	n, err := c.in.ReadContext(tctx, buf)
	if err != nil {
		return buf[:n], mapError("bulk read", err, tctx)
	}
	return buf[:n], nil
}

func (c *gousbConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the interface, the device and the libusb context
func (c *gousbConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var result *multierror.Error
	if c.done != nil {
		c.done()
	}
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close device: %w", err))
		}
	}
	if err := c.ctx.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close context: %w", err))
	}

	c.logger.Info("Device closed", zap.String("device", c.handle.String()))
	return result.ErrorOrNil()
}

// mapError classifies libusb errors and transfer statuses into the flasherr
// taxonomy. tctx, when given, tells a deadline apart from a cancellation.
func mapError(op string, err error, tctx context.Context) error {
	t := flasherr.ErrTypeIO
	switch {
	case errors.Is(err, gousb.ErrorTimeout), errors.Is(err, gousb.TransferTimedOut):
		t = flasherr.ErrTypeTimeout
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.TransferNoDevice):
		t = flasherr.ErrTypeDisconnected
	case errors.Is(err, gousb.ErrorAccess):
		t = flasherr.ErrTypePermissionDenied
	case errors.Is(err, gousb.ErrorNotFound):
		t = flasherr.ErrTypeDeviceNotFound
	case errors.Is(err, gousb.TransferCancelled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		if tctx != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			t = flasherr.ErrTypeTimeout
		} else {
			t = flasherr.ErrTypeCancelled
		}
	}
	return flasherr.Wrap(t, op, err)
}
