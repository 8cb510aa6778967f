package flasherr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		et   ErrorType
		want string
	}{
		{ErrTypeDeviceNotFound, "Device Not Found"},
		{ErrTypeShortTransfer, "Short Transfer"},
		{ErrTypeContentMismatch, "Content Mismatch"},
		{ErrTypeDisconnected, "Disconnected"},
		{ErrorType(99), "ErrorType(99)"},
	}

	for _, tt := range tests {
		if got := tt.et.String(); got != tt.want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", int(tt.et), got, tt.want)
		}
	}
}

func TestError_Error(t *testing.T) {
	err := Wrap(ErrTypeIO, "bulk read", errors.New("pipe stalled"))
	err.Message = "endpoint 1"

	got := err.Error()
	want := "bulk read: I/O Error: endpoint 1 (caused by: pipe stalled)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &Error{Type: ErrTypeCancelled}
	if bare.Error() != "Cancelled" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "Cancelled")
	}
}

func TestNew_Retryable(t *testing.T) {
	tests := []struct {
		et   ErrorType
		want bool
	}{
		{ErrTypeTimeout, true},
		{ErrTypeShortWrite, true},
		{ErrTypeShortTransfer, false},
		{ErrTypeIO, false},
		{ErrTypeDisconnected, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(New(tt.et, "op", "")); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.et, got, tt.want)
		}
	}
}

func TestTypeOf_WrappedChain(t *testing.T) {
	inner := New(ErrTypePartitionNotFound, "resolve", "no partition named \"boot\"")
	wrapped := fmt.Errorf("flash boot: %w", inner)

	if got := TypeOf(wrapped); got != ErrTypePartitionNotFound {
		t.Errorf("TypeOf() = %v, want %v", got, ErrTypePartitionNotFound)
	}
	if !Is(wrapped, ErrTypePartitionNotFound) {
		t.Error("Is() = false, want true")
	}
	if Is(nil, ErrTypeUnknown) {
		t.Error("Is(nil) = true, want false")
	}
	if got := TypeOf(errors.New("plain")); got != ErrTypeUnknown {
		t.Errorf("TypeOf(plain) = %v, want %v", got, ErrTypeUnknown)
	}
}

func TestSectorsDone(t *testing.T) {
	err := New(ErrTypeTimeout, "write sectors", "")
	err.SectorsDone = 64

	if got := SectorsDone(fmt.Errorf("flash: %w", err)); got != 64 {
		t.Errorf("SectorsDone() = %d, want 64", got)
	}
	if got := SectorsDone(errors.New("plain")); got != 0 {
		t.Errorf("SectorsDone(plain) = %d, want 0", got)
	}
}

func TestGetTroubleshootingHint(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"not found", New(ErrTypeDeviceNotFound, "", ""), "bootloader mode"},
		{"permission", New(ErrTypePermissionDenied, "", ""), "udev"},
		{"timeout", New(ErrTypeTimeout, "", ""), "--chunk-sectors"},
		{"partition", New(ErrTypePartitionNotFound, "", ""), "rkflash part"},
		{"plain", errors.New("boom"), "error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := GetTroubleshootingHint(tt.err)
			if !strings.Contains(hint, tt.contains) {
				t.Errorf("GetTroubleshootingHint() = %q, want it to contain %q", hint, tt.contains)
			}
		})
	}
}

func TestGetShortErrorMessage(t *testing.T) {
	mismatch := New(ErrTypeContentMismatch, "compare", "")
	mismatch.Offset = 4096

	tests := []struct {
		err  error
		want string
	}{
		{mismatch, "Contents differ at byte offset 4096"},
		{New(ErrTypeTimeout, "", "ignored"), "Device not responding (timeout)"},
		{New(ErrTypeImageTooLarge, "", "image is 10 bytes"), "image is 10 bytes"},
		{New(ErrTypeOutOfRange, "", ""), "Out Of Range"},
		{errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		if got := GetShortErrorMessage(tt.err); got != tt.want {
			t.Errorf("GetShortErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
