package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/usb"
)

const (
	// DefaultInterval is how often WaitForDevice polls the bus
	DefaultInterval = time.Second
)

// Scanner finds Rockchip devices in bootloader mode. It never keeps a
// device open, so it is safe to call in a polling loop while another
// program owns the device.
type Scanner struct {
	// Enumerator lists the attached devices
	Enumerator usb.Enumerator

	// Interval is the polling period of WaitForDevice
	Interval time.Duration

	// Timeout bounds WaitForDevice. Zero waits until the context ends.
	Timeout time.Duration
}

// NewScanner creates a scanner over e with default settings
func NewScanner(e usb.Enumerator) *Scanner {
	return &Scanner{
		Enumerator: e,
		Interval:   DefaultInterval,
	}
}

// Scan lists every attached device
func (s *Scanner) Scan() ([]*Device, error) {
	handles, err := s.Enumerator.Enumerate()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	devices := make([]*Device, 0, len(handles))
	for _, h := range handles {
		devices = append(devices, &Device{Handle: h, DiscoveredAt: now})
	}
	return devices, nil
}

// Detect reports the single attached device. Having more than one attached
// is an error since the target would be ambiguous.
func (s *Scanner) Detect() (usb.Handle, bool, error) {
	handles, err := s.Enumerator.Enumerate()
	if err != nil {
		return usb.Handle{}, false, err
	}

	switch len(handles) {
	case 0:
		return usb.Handle{}, false, nil
	case 1:
		return handles[0], true, nil
	default:
		return usb.Handle{}, false, flasherr.Newf(flasherr.ErrTypeInvalidState, "detect",
			"%d Rockchip devices attached, connect only one", len(handles))
	}
}

// WaitForDevice polls until a device appears or Timeout passes
func (s *Scanner) WaitForDevice() (usb.Handle, error) {
	return s.WaitForDeviceWithContext(context.Background())
}

// WaitForDeviceWithContext polls until a device appears, Timeout passes or
// ctx ends
func (s *Scanner) WaitForDeviceWithContext(ctx context.Context) (usb.Handle, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		h, ok, err := s.Detect()
		if err != nil {
			return usb.Handle{}, err
		}
		if ok {
			return h, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return usb.Handle{}, flasherr.Newf(flasherr.ErrTypeDeviceNotFound, "wait for device",
					"no device appeared within %s", s.Timeout)
			}
			return usb.Handle{}, flasherr.Wrap(flasherr.ErrTypeCancelled, "wait for device", ctx.Err())
		case <-ticker.C:
		}
	}
}

// DetectOnce is a convenience function that checks the bus once
func DetectOnce(e usb.Enumerator) (usb.Handle, bool, error) {
	return NewScanner(e).Detect()
}
