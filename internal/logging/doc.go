// Package logging provides structured logging for rkflash.
//
// This package wraps zap logger with convenience functions for the logging
// patterns used by the transport, session and event server. Logging is
// silent unless a level is given with --log-level or RKFLASH_LOG_LEVEL, so
// the terminal UI owns stdout.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Raw command and status frames (hex and ASCII dumps)
//   - Info: Device open/close, handshake results, transfer summaries
//   - Warn: Retried transfers, dropped event clients
//   - Error: Failed operations
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device opened",
//	    zap.Stringer("device", handle),
//	)
//
// Components that accept a *zap.Logger (the session, the USB bus) default to
// GetLogger() and dump frames with RawBytes:
//
//	logging.RawBytes(logger, "command", cmd.Marshal())
//
// # Configuration
//
// Initialize logging at CLI startup:
//
//	if err := logging.Initialize(logLevel); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Output Format
//
// Logs are written to stderr in console format:
//
//	2025-11-25T10:30:45.123-0800  DEBUG  command  {"length": 31, "hex": "55534243..."}
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
