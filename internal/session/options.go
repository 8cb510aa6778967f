package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/logging"
	"github.com/muurk/rkflash/internal/protocol"
)

const (
	// DefaultRetries is the number of attempts made for one command
	DefaultRetries = 3

	// DefaultRetryDelay is the pause between attempts
	DefaultRetryDelay = 20 * time.Millisecond

	// DefaultTimeout is the per-transfer timeout
	DefaultTimeout = 5 * time.Second

	// DefaultErasePattern is the byte written by EraseSectors
	DefaultErasePattern = 0xff
)

// Options holds session tuning
type Options struct {
	ChunkSectors       int           // Sectors per LBA command (1..128)
	Retries            int           // Attempts per command for transient errors
	RetryDelay         time.Duration // Pause between attempts
	Timeout            time.Duration // Per bulk transfer
	ErasePattern       byte          // Fill byte for EraseSectors
	SkipPartitionTable bool          // Do not read the parameter block on connect
	Logger             *zap.Logger
}

// Option configures a session
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		ChunkSectors: protocol.DefaultChunkSectors,
		Retries:      DefaultRetries,
		RetryDelay:   DefaultRetryDelay,
		Timeout:      DefaultTimeout,
		ErasePattern: DefaultErasePattern,
		Logger:       logging.GetLogger(),
	}
}

// WithLogger sets the session logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithChunkSectors sets the number of sectors moved per command
func WithChunkSectors(n int) Option {
	return func(o *Options) { o.ChunkSectors = n }
}

// WithRetries sets the number of attempts per command
func WithRetries(n int) Option {
	return func(o *Options) { o.Retries = n }
}

// WithRetryDelay sets the pause between attempts
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithTimeout sets the per-transfer timeout
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithErasePattern sets the fill byte used by EraseSectors
func WithErasePattern(b byte) Option {
	return func(o *Options) { o.ErasePattern = b }
}

// WithSkipPartitionTable leaves the catalog unloaded after the handshake
func WithSkipPartitionTable() Option {
	return func(o *Options) { o.SkipPartitionTable = true }
}
