package usb

import (
	"context"
	"time"
)

// Conn is an open bulk pipe pair to one device.
//
// BulkWrite returns ErrTypeShortWrite when fewer than len(data) bytes were
// accepted. BulkRead may return fewer than maxLen bytes without error.
// Failures are *flasherr.Error values: ErrTypeTimeout, ErrTypeIO, or
// ErrTypeDisconnected when the device vanished.
//
// Close is idempotent.
type Conn interface {
	BulkWrite(ctx context.Context, data []byte, timeout time.Duration) (int, error)
	BulkRead(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error)
	Close() error
}

// Enumerator lists attached Rockchip devices without opening them
type Enumerator interface {
	Enumerate() ([]Handle, error)
}

// Transport enumerates and opens devices.
//
// Open fails with ErrTypeDeviceNotFound when the handle no longer resolves
// to an attached device, and ErrTypePermissionDenied when the host refuses
// access.
type Transport interface {
	Enumerator
	Open(h Handle) (Conn, error)
}
