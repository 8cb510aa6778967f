package flasherr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeUnknown indicates an unknown or unexpected error
	ErrTypeUnknown ErrorType = iota
	// ErrTypeDeviceNotFound indicates no matching device is attached, or the handle went stale
	ErrTypeDeviceNotFound
	// ErrTypePermissionDenied indicates the host refused access to the USB device
	ErrTypePermissionDenied
	// ErrTypeHandshakeFailed indicates the device did not answer the initial handshake
	ErrTypeHandshakeFailed
	// ErrTypeTimeout indicates a bulk transfer timed out
	ErrTypeTimeout
	// ErrTypeShortWrite indicates fewer bytes were written than requested
	ErrTypeShortWrite
	// ErrTypeShortTransfer indicates a data phase was not exactly count*512 bytes
	ErrTypeShortTransfer
	// ErrTypeMalformedFrame indicates a frame had the wrong size or signature
	ErrTypeMalformedFrame
	// ErrTypeInvalidPayloadSize indicates a write payload that is not sector aligned
	ErrTypeInvalidPayloadSize
	// ErrTypeCommandFailed indicates the device reported a non-zero status
	ErrTypeCommandFailed
	// ErrTypeIO indicates a generic host or transfer I/O error
	ErrTypeIO
	// ErrTypeInvalidPartitionTable indicates the parameter block could not be parsed
	ErrTypeInvalidPartitionTable
	// ErrTypeDuplicatePartition indicates two partitions share a name
	ErrTypeDuplicatePartition
	// ErrTypePartitionNotFound indicates no partition has the requested name
	ErrTypePartitionNotFound
	// ErrTypeImageTooLarge indicates an image larger than its target partition
	ErrTypeImageTooLarge
	// ErrTypeLengthMismatch indicates a compare reference with the wrong length
	ErrTypeLengthMismatch
	// ErrTypeContentMismatch indicates device contents differ from the reference
	ErrTypeContentMismatch
	// ErrTypeOutOfRange indicates a sector range outside the partition or flash
	ErrTypeOutOfRange
	// ErrTypeInvalidState indicates an operation was called in the wrong session state
	ErrTypeInvalidState
	// ErrTypeCancelled indicates the caller cancelled the operation
	ErrTypeCancelled
	// ErrTypeDisconnected indicates the device vanished mid-session
	ErrTypeDisconnected
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeUnknown:
		return "Unknown Error"
	case ErrTypeDeviceNotFound:
		return "Device Not Found"
	case ErrTypePermissionDenied:
		return "Permission Denied"
	case ErrTypeHandshakeFailed:
		return "Handshake Failed"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeShortWrite:
		return "Short Write"
	case ErrTypeShortTransfer:
		return "Short Transfer"
	case ErrTypeMalformedFrame:
		return "Malformed Frame"
	case ErrTypeInvalidPayloadSize:
		return "Invalid Payload Size"
	case ErrTypeCommandFailed:
		return "Command Failed"
	case ErrTypeIO:
		return "I/O Error"
	case ErrTypeInvalidPartitionTable:
		return "Invalid Partition Table"
	case ErrTypeDuplicatePartition:
		return "Duplicate Partition"
	case ErrTypePartitionNotFound:
		return "Partition Not Found"
	case ErrTypeImageTooLarge:
		return "Image Too Large"
	case ErrTypeLengthMismatch:
		return "Length Mismatch"
	case ErrTypeContentMismatch:
		return "Content Mismatch"
	case ErrTypeOutOfRange:
		return "Out Of Range"
	case ErrTypeInvalidState:
		return "Invalid State"
	case ErrTypeCancelled:
		return "Cancelled"
	case ErrTypeDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is the error returned by every layer of the flashing stack.
type Error struct {
	Type      ErrorType // Category of error
	Op        string    // Operation that failed (e.g. "bulk write", "flash")
	Message   string    // Human-readable error message
	Err       error     // Underlying error (if any)
	Retryable bool      // Whether the same request may be retried

	// SectorsDone is the number of sectors transferred before a chunked
	// operation failed.
	SectorsDone uint32
	// Offset is the first differing byte for ErrTypeContentMismatch.
	Offset int64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Type.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given type. Timeouts and short writes are
// marked retryable.
func New(t ErrorType, op, message string) *Error {
	return &Error{
		Type:      t,
		Op:        op,
		Message:   message,
		Retryable: t == ErrTypeTimeout || t == ErrTypeShortWrite,
	}
}

// Newf is New with a formatted message.
func Newf(t ErrorType, op, format string, args ...any) *Error {
	return New(t, op, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given type around a cause.
func Wrap(t ErrorType, op string, err error) *Error {
	e := New(t, op, "")
	e.Err = err
	return e
}

// TypeOf returns the type of the first *Error in the chain, or
// ErrTypeUnknown when there is none.
func TypeOf(err error) ErrorType {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ErrTypeUnknown
}

// Is reports whether err carries an *Error of type t.
func Is(err error, t ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == t
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}

// SectorsDone returns the progress recorded on a chunked failure.
func SectorsDone(err error) uint32 {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.SectorsDone
	}
	return 0
}

// GetTroubleshootingHint returns user-friendly troubleshooting advice for an error
func GetTroubleshootingHint(err error) string {
	switch TypeOf(err) {
	case ErrTypeDeviceNotFound:
		return strings.Join([]string{
			"No Rockchip device in bootloader mode was found.",
			"Troubleshooting:",
			"  • Power off the device, hold the recovery key and plug in USB",
			"  • Check the cable and try another USB port",
			"  • Run 'rkflash detect --wait' and replug the device",
		}, "\n")

	case ErrTypePermissionDenied:
		return strings.Join([]string{
			"The host refused access to the USB device.",
			"Troubleshooting:",
			"  • Add a udev rule for vendor 2207, e.g.:",
			"    SUBSYSTEM==\"usb\", ATTR{idVendor}==\"2207\", MODE=\"0666\"",
			"  • Or run the command with sudo",
		}, "\n")

	case ErrTypeHandshakeFailed:
		return strings.Join([]string{
			"The device did not answer the handshake.",
			"Troubleshooting:",
			"  • Make sure the device is in bootloader (not mask ROM upload) mode",
			"  • Replug the device and try again",
		}, "\n")

	case ErrTypeTimeout, ErrTypeShortWrite, ErrTypeShortTransfer, ErrTypeIO, ErrTypeCommandFailed:
		return strings.Join([]string{
			"A USB transfer failed.",
			"Troubleshooting:",
			"  • Avoid USB hubs and front panel ports",
			"  • Try a smaller --chunk-sectors value",
			"  • Try increasing --timeout",
		}, "\n")

	case ErrTypeDisconnected:
		return "The device disconnected during the operation. Replug it and run the operation again."

	case ErrTypeInvalidPartitionTable:
		return strings.Join([]string{
			"The partition table (parameter block) could not be read.",
			"Troubleshooting:",
			"  • Flash a parameter file with 'rkflash flash parameter <file>'",
			"  • Raw operations such as reboot still work",
		}, "\n")

	case ErrTypePartitionNotFound:
		return "Run 'rkflash part' to list the partitions on the device."

	case ErrTypeImageTooLarge:
		return "The image does not fit in the partition. Check that you picked the right partition."

	case ErrTypeInvalidState:
		return "The device session is busy or closed. Run one operation at a time."

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// GetShortErrorMessage returns a concise, user-friendly error message
func GetShortErrorMessage(err error) string {
	var fe *Error
	if !errors.As(err, &fe) {
		return err.Error()
	}

	switch fe.Type {
	case ErrTypeDeviceNotFound:
		return "No device found"
	case ErrTypePermissionDenied:
		return "USB access denied - check udev rules"
	case ErrTypeHandshakeFailed:
		return "Device did not respond to handshake"
	case ErrTypeTimeout:
		return "Device not responding (timeout)"
	case ErrTypeDisconnected:
		return "Device disconnected"
	case ErrTypeCancelled:
		return "Operation cancelled"
	case ErrTypeContentMismatch:
		return fmt.Sprintf("Contents differ at byte offset %d", fe.Offset)
	default:
		if fe.Message != "" {
			return fe.Message
		}
		return fe.Type.String()
	}
}
