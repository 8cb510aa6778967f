package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/logging"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/usb"
)

// State is the lifecycle position of a session
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Busy
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one open device. Operations are serialized: a call made
// while another is in flight, or after the session dropped to
// Disconnected, fails with ErrTypeInvalidState.
type Session struct {
	handle usb.Handle
	opts   Options
	logger *zap.Logger
	tags   protocol.TagGenerator

	mu    sync.Mutex
	state State
	conn  usb.Conn

	info       protocol.FlashInfo
	catalog    *partition.Catalog
	catalogErr error
}

// Connect opens h on tr, performs the handshake (test unit ready, then
// flash info) and loads the partition table. A handshake failure closes
// the connection and returns ErrTypeHandshakeFailed. A partition table that
// fails to parse does not fail Connect; it is reported by Catalog.
func Connect(ctx context.Context, tr usb.Transport, h usb.Handle, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.ChunkSectors < 1 || o.ChunkSectors > protocol.MaxChunkSectors {
		return nil, flasherr.Newf(flasherr.ErrTypeInvalidPayloadSize, "connect",
			"chunk size %d outside 1..%d sectors", o.ChunkSectors, protocol.MaxChunkSectors)
	}
	if o.Retries < 1 {
		o.Retries = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	s := &Session{
		handle: h,
		opts:   o,
		logger: o.Logger.With(zap.String("device", h.ID())),
		state:  Connecting,
	}

	conn, err := tr.Open(h)
	if err != nil {
		s.state = Disconnected
		return nil, err
	}
	s.conn = conn

	if err := s.handshake(ctx); err != nil {
		s.Close()
		if flasherr.Is(err, flasherr.ErrTypeDisconnected) {
			return nil, err
		}
		fe := flasherr.Wrap(flasherr.ErrTypeHandshakeFailed, "connect", err)
		fe.Message = fmt.Sprintf("device %s did not complete the handshake", h)
		return nil, fe
	}

	s.mu.Lock()
	s.state = Ready
	s.mu.Unlock()

	if !o.SkipPartitionTable {
		if _, err := s.ReloadPartitionTable(ctx); err != nil {
			if flasherr.Is(err, flasherr.ErrTypeDisconnected) {
				return nil, err
			}
			s.logger.Warn("Partition table unavailable", zap.Error(err))
		}
	}

	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	if _, err := s.do(ctx, protocol.NewTestUnitReady(s.tags.Next()), nil); err != nil {
		return err
	}

	data, err := s.do(ctx, protocol.NewReadFlashInfo(s.tags.Next()), nil)
	if err != nil {
		return err
	}
	info, err := protocol.ParseFlashInfo(data)
	if err != nil {
		return err
	}
	s.info = info

	s.logger.Info("Handshake completed",
		zap.String("chip", s.handle.Chip),
		zap.Uint32("flash_sectors", info.Sectors),
		zap.String("manufacturer", info.Manufacturer()),
	)
	return nil
}

// begin moves Ready to Busy
func (s *Session) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return flasherr.Newf(flasherr.ErrTypeInvalidState, op, "session is %s", s.state)
	}
	s.state = Busy
	return nil
}

// end moves Busy back to Ready unless the session was dropped meanwhile
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Busy {
		s.state = Ready
	}
}

// drop closes the connection after the device vanished
func (s *Session) drop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("Close after disconnect failed", zap.Error(err))
		}
	}
}

// do runs one command exchange, retrying transient failures with the same
// frame.
func (s *Session) do(ctx context.Context, cmd protocol.Command, payload []byte) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		data, err := s.transact(ctx, cmd, payload)
		if err == nil {
			return data, nil
		}
		if flasherr.Is(err, flasherr.ErrTypeDisconnected) {
			s.drop()
			return nil, err
		}
		if !flasherr.IsRetryable(err) || attempt >= s.opts.Retries {
			return nil, err
		}

		s.logger.Warn("Retrying command",
			zap.Stringer("command", cmd),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, flasherr.Wrap(flasherr.ErrTypeCancelled, cmd.Opcode.String(), ctx.Err())
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

// transact performs command, data phase and status read once
func (s *Session) transact(ctx context.Context, cmd protocol.Command, payload []byte) ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, flasherr.New(flasherr.ErrTypeDisconnected, cmd.Opcode.String(), "no connection")
	}

	frame := cmd.Marshal()
	logging.RawBytes(s.logger, "command", frame)
	if _, err := conn.BulkWrite(ctx, frame, s.opts.Timeout); err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case cmd.Opcode == protocol.OpWriteLBA:
		if _, err := conn.BulkWrite(ctx, payload, s.opts.Timeout); err != nil {
			return nil, err
		}
	case cmd.DataLength() > 0:
		var err error
		data, err = conn.BulkRead(ctx, cmd.DataLength(), s.opts.Timeout)
		if err != nil {
			return nil, err
		}
		if cmd.Opcode == protocol.OpReadLBA {
			if err := protocol.CheckTransfer(int(cmd.Count), data); err != nil {
				return nil, err
			}
		}
	}

	if !cmd.ExpectsStatus() {
		return data, nil
	}
	raw, err := conn.BulkRead(ctx, protocol.StatusSize, s.opts.Timeout)
	if err != nil {
		return nil, err
	}
	logging.RawBytes(s.logger, "status", raw)
	if _, err := protocol.CheckStatus(cmd, raw); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Session) checkRange(op string, lba uint32, count uint64) error {
	if uint64(lba)+count > uint64(s.info.Sectors) {
		return flasherr.Newf(flasherr.ErrTypeOutOfRange, op,
			"sectors 0x%08X+%d beyond flash end 0x%08X", lba, count, s.info.Sectors)
	}
	return nil
}

// chunkError records how far a chunked transfer got before err
func chunkError(op string, err error, done uint32) error {
	fe := flasherr.Wrap(flasherr.TypeOf(err), op, err)
	fe.Retryable = false
	fe.SectorsDone = done
	return fe
}

// ReadSectors reads count sectors starting at lba
func (s *Session) ReadSectors(ctx context.Context, lba, count uint32) ([]byte, error) {
	if err := s.begin("read sectors"); err != nil {
		return nil, err
	}
	defer s.end()
	if err := s.checkRange("read sectors", lba, uint64(count)); err != nil {
		return nil, err
	}

	out := make([]byte, 0, int(count)*protocol.SectorSize)
	var done uint32
	for _, c := range Split(lba, count, s.opts.ChunkSectors) {
		cmd, err := protocol.NewReadLBA(s.tags.Next(), c.LBA, int(c.Count))
		if err != nil {
			return out, chunkError("read sectors", err, done)
		}
		data, err := s.do(ctx, cmd, nil)
		if err != nil {
			return out, chunkError("read sectors", err, done)
		}
		out = append(out, data...)
		done += c.Count
	}
	return out, nil
}

// WriteSectors writes data, a whole number of sectors, starting at lba
func (s *Session) WriteSectors(ctx context.Context, lba uint32, data []byte) error {
	if len(data)%protocol.SectorSize != 0 {
		return flasherr.Newf(flasherr.ErrTypeInvalidPayloadSize, "write sectors",
			"payload is %d bytes, not a multiple of %d", len(data), protocol.SectorSize)
	}
	if err := s.begin("write sectors"); err != nil {
		return err
	}
	defer s.end()

	count := uint32(len(data) / protocol.SectorSize)
	if err := s.checkRange("write sectors", lba, uint64(count)); err != nil {
		return err
	}
	return s.writeChunks(ctx, "write sectors", lba, count, func(c Chunk, off int) []byte {
		return data[off : off+c.Bytes()]
	})
}

// EraseSectors overwrites count sectors starting at lba with the erase
// pattern
func (s *Session) EraseSectors(ctx context.Context, lba, count uint32) error {
	if err := s.begin("erase sectors"); err != nil {
		return err
	}
	defer s.end()
	if err := s.checkRange("erase sectors", lba, uint64(count)); err != nil {
		return err
	}

	fill := bytes.Repeat([]byte{s.opts.ErasePattern}, s.opts.ChunkSectors*protocol.SectorSize)
	return s.writeChunks(ctx, "erase sectors", lba, count, func(c Chunk, _ int) []byte {
		return fill[:c.Bytes()]
	})
}

func (s *Session) writeChunks(ctx context.Context, op string, lba, count uint32, payload func(Chunk, int) []byte) error {
	var done uint32
	off := 0
	for _, c := range Split(lba, count, s.opts.ChunkSectors) {
		buf := payload(c, off)
		cmd, err := protocol.NewWriteLBA(s.tags.Next(), c.LBA, buf)
		if err != nil {
			return chunkError(op, err, done)
		}
		if _, err := s.do(ctx, cmd, buf); err != nil {
			return chunkError(op, err, done)
		}
		done += c.Count
		off += c.Bytes()
	}
	return nil
}

// ChipInfo queries the chip identification block
func (s *Session) ChipInfo(ctx context.Context) ([]byte, error) {
	if err := s.begin("chip info"); err != nil {
		return nil, err
	}
	defer s.end()
	return s.do(ctx, protocol.NewReadChipInfo(s.tags.Next()), nil)
}

// ReloadPartitionTable reads and parses the parameter block again, for
// instance after it was rewritten
func (s *Session) ReloadPartitionTable(ctx context.Context) (*partition.Catalog, error) {
	var cat *partition.Catalog
	raw, err := s.ReadSectors(ctx, partition.ParameterLBA, partition.ParameterSectors)
	if err == nil {
		cat, err = partition.ParseImage(raw, s.info.Sectors)
	}
	s.mu.Lock()
	s.catalog, s.catalogErr = cat, err
	s.mu.Unlock()

	if err == nil {
		s.logger.Info("Partition table loaded", zap.Int("partitions", cat.Len()))
	}
	return cat, err
}

// Reboot sends the reset command. The device leaves the bus without a
// status, so the session closes and becomes Disconnected.
func (s *Session) Reboot(ctx context.Context) error {
	if err := s.begin("reboot"); err != nil {
		return err
	}
	_, err := s.transact(ctx, protocol.NewReset(s.tags.Next()), nil)
	s.drop()
	if err != nil && !flasherr.Is(err, flasherr.ErrTypeDisconnected) {
		return err
	}
	s.logger.Info("Device rebooting")
	return nil
}

// Catalog returns the partition table loaded on connect, or the error that
// prevented loading it
func (s *Session) Catalog() (*partition.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil && s.catalogErr == nil {
		return nil, flasherr.New(flasherr.ErrTypeInvalidPartitionTable, "catalog", "partition table not loaded")
	}
	return s.catalog, s.catalogErr
}

// FlashInfo returns the geometry read during the handshake
func (s *Session) FlashInfo() protocol.FlashInfo {
	return s.info
}

// Handle returns the device the session is bound to
func (s *Session) Handle() usb.Handle {
	return s.handle
}

// ChunkSectors returns the sectors moved per command
func (s *Session) ChunkSectors() int {
	return s.opts.ChunkSectors
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the device. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
