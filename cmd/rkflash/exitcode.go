package main

import (
	"github.com/muurk/rkflash/internal/flasherr"
)

// Process exit codes
const (
	exitOK               = 0
	exitOther            = 1
	exitDeviceNotFound   = 2
	exitPartitionMissing = 3
	exitTransfer         = 4
	exitCancelled        = 5
	exitMismatch         = 6
)

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	switch flasherr.TypeOf(err) {
	case flasherr.ErrTypeDeviceNotFound:
		return exitDeviceNotFound
	case flasherr.ErrTypePartitionNotFound:
		return exitPartitionMissing
	case flasherr.ErrTypeCancelled:
		return exitCancelled
	case flasherr.ErrTypeContentMismatch, flasherr.ErrTypeLengthMismatch:
		return exitMismatch
	case flasherr.ErrTypeTimeout,
		flasherr.ErrTypeShortWrite,
		flasherr.ErrTypeShortTransfer,
		flasherr.ErrTypeMalformedFrame,
		flasherr.ErrTypeCommandFailed,
		flasherr.ErrTypeHandshakeFailed,
		flasherr.ErrTypeDisconnected,
		flasherr.ErrTypeIO:
		return exitTransfer
	default:
		return exitOther
	}
}

// reportedError marks an error whose result box has already been printed
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}
