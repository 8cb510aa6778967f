package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/session"
	"github.com/muurk/rkflash/internal/usb/usbtest"
)

// boot is five default chunks long
const testParameter = "FIRMWARE_VER:4.4.4\n" +
	"MACHINE_MODEL:rk3188\n" +
	"CMDLINE:console=ttyFIQ0 mtdparts=rk29xxnand:0x00000020@0x00001000(misc),0x000000a0@0x00002000(boot),0x00000400@0x00004000(system),-@0x00008000(user:grow)\n"

const (
	bootLBA     = 0x2000
	bootSectors = 0xa0
	bootBytes   = bootSectors * protocol.SectorSize
)

// memFile is an in-memory io.WriterAt / io.ReaderAt with Truncate
type memFile struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.NewReader(m.buf).ReadAt(p, off)
}

func (m *memFile) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(size) <= len(m.buf) {
		m.buf = m.buf[:size]
		return nil
	}
	m.buf = append(m.buf, make([]byte, int(size)-len(m.buf))...)
	return nil
}

// recorder collects events
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds(op Operation) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, ev := range r.events {
		if ev.Op == op {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func setup(t *testing.T, opts ...Option) (*Engine, *usbtest.Device, *recorder) {
	t.Helper()
	dev := usbtest.NewDevice(usbtest.WithParameter(testParameter))
	s, err := session.Connect(context.Background(), dev, dev.Handle(),
		session.WithRetryDelay(0), session.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := &recorder{}
	e := New(s, append([]Option{WithSink(rec)}, opts...)...)
	return e, dev, rec
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i>>9)
	}
	return b
}

func writeCount(dev *usbtest.Device) int {
	_, _, _, writes := dev.Stats()
	return writes
}

func TestFlashBackupRoundTrip(t *testing.T) {
	e, _, rec := setup(t)
	ctx := context.Background()

	// not sector aligned: the tail sector gets zero padding
	image := pattern(100*protocol.SectorSize + 123)

	res, err := e.Flash(ctx, "boot", bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if res.Outcome != Success || res.BytesDone != int64(len(image)) || res.SectorsDone != 101 {
		t.Errorf("Flash() result = %+v", res)
	}

	out := &memFile{}
	res, err = e.Backup(ctx, "boot", out)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if res.BytesDone != bootBytes || len(out.buf) != bootBytes {
		t.Fatalf("Backup() wrote %d bytes, result %d, want %d", len(out.buf), res.BytesDone, bootBytes)
	}
	if !bytes.Equal(out.buf[:len(image)], image) {
		t.Error("backup prefix differs from the flashed image")
	}
	if !bytes.Equal(out.buf[len(image):], make([]byte, bootBytes-len(image))) {
		t.Error("backup tail is not zero")
	}

	if got := rec.kinds(OpFlash); len(got) != 2+4 || got[0] != EventStarted || got[len(got)-1] != EventFinished {
		t.Errorf("flash events = %v", got)
	}
}

func TestCompareAfterFlash(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()
	image := pattern(bootBytes)

	if _, err := e.Flash(ctx, "boot", bytes.NewReader(image), bootBytes); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}

	res, err := e.Compare(ctx, "boot", bytes.NewReader(image), bootBytes)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if res.Outcome != Success || res.Mismatch {
		t.Errorf("Compare() result = %+v", res)
	}
}

func TestCompare_Mismatch(t *testing.T) {
	e, dev, _ := setup(t)
	image := pattern(bootBytes)
	dev.Write(bootLBA, image)

	ref := append([]byte{}, image...)
	ref[40000] ^= 0x01

	res, err := e.Compare(context.Background(), "boot", bytes.NewReader(ref), bootBytes)
	if !flasherr.Is(err, flasherr.ErrTypeContentMismatch) {
		t.Fatalf("Compare() error = %v, want ContentMismatch", err)
	}
	if !res.Mismatch || res.Offset != 40000 {
		t.Errorf("Mismatch = %v, Offset = %d, want true, 40000", res.Mismatch, res.Offset)
	}
	if res.Outcome != Failure {
		t.Errorf("Outcome = %v, want failure", res.Outcome)
	}
}

func TestCompare_LengthMismatch(t *testing.T) {
	e, dev, rec := setup(t)
	before := len(dev.Commands())

	_, err := e.Compare(context.Background(), "boot", bytes.NewReader(nil), bootBytes-1)
	if !flasherr.Is(err, flasherr.ErrTypeLengthMismatch) {
		t.Fatalf("Compare() error = %v, want LengthMismatch", err)
	}
	if got := len(dev.Commands()); got != before {
		t.Errorf("%d commands issued, want none", got-before)
	}
	if got := rec.kinds(OpCompare); len(got) != 1 || got[0] != EventFinished {
		t.Errorf("compare events = %v, want a single finished event", got)
	}
}

func TestFlash_ImageTooLarge(t *testing.T) {
	e, dev, _ := setup(t)

	image := make([]byte, bootBytes+1)
	res, err := e.Flash(context.Background(), "boot", bytes.NewReader(image), int64(len(image)))
	if !flasherr.Is(err, flasherr.ErrTypeImageTooLarge) {
		t.Fatalf("Flash() error = %v, want ImageTooLarge", err)
	}
	if res.Partial || res.SectorsDone != 0 {
		t.Errorf("result = %+v, want nothing written", res)
	}
	if got := writeCount(dev); got != 0 {
		t.Errorf("write commands = %d, want 0", got)
	}
}

func TestFlash_PartitionNotFound(t *testing.T) {
	e, _, _ := setup(t)

	_, err := e.Flash(context.Background(), "Boot", bytes.NewReader(nil), 0)
	if !flasherr.Is(err, flasherr.ErrTypePartitionNotFound) {
		t.Errorf("Flash() error = %v, want PartitionNotFound", err)
	}
}

func TestFlash_CancelBetweenChunks(t *testing.T) {
	e, dev, rec := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writes := 0
	dev.OnCommand(func(cmd protocol.Command) {
		if cmd.Opcode == protocol.OpWriteLBA {
			writes++
			if writes == 3 {
				cancel()
			}
		}
	})

	image := pattern(bootBytes)
	res, err := e.Flash(ctx, "boot", bytes.NewReader(image), bootBytes)
	if !flasherr.Is(err, flasherr.ErrTypeCancelled) {
		t.Fatalf("Flash() error = %v, want Cancelled", err)
	}
	if res.Outcome != Cancelled {
		t.Errorf("Outcome = %v, want cancelled", res.Outcome)
	}
	if res.ChunksDone != 3 || res.SectorsDone != 3*protocol.DefaultChunkSectors {
		t.Errorf("ChunksDone = %d, SectorsDone = %d, want 3 and 96", res.ChunksDone, res.SectorsDone)
	}
	if !res.Partial {
		t.Error("cancelled flash should be reported as partial")
	}
	if got := writeCount(dev); got != 3 {
		t.Errorf("write commands completed = %d, want 3", got)
	}

	// the third chunk landed completely
	third := dev.Read(bootLBA+64, 32)
	if !bytes.Equal(third, image[64*512:96*512]) {
		t.Error("third chunk was not written completely")
	}

	kinds := rec.kinds(OpFlash)
	if len(kinds) != 5 || kinds[4] != EventFinished {
		t.Errorf("events = %v, want started, 3 progress, finished", kinds)
	}
}

func TestFlash_RetryExhaustion(t *testing.T) {
	e, dev, _ := setup(t)
	dev.FailCommand(protocol.OpWriteLBA, bootLBA+64, flasherr.New(flasherr.ErrTypeTimeout, "bulk write", "simulated"), -1)

	res, err := e.Flash(context.Background(), "boot", bytes.NewReader(pattern(bootBytes)), bootBytes)
	if !flasherr.Is(err, flasherr.ErrTypeTimeout) {
		t.Fatalf("Flash() error = %v, want Timeout", err)
	}
	if res.Outcome != Failure || !res.Partial {
		t.Errorf("Outcome = %v, Partial = %v, want failure and partial", res.Outcome, res.Partial)
	}
	if res.SectorsDone != 64 || res.ChunksDone != 2 {
		t.Errorf("SectorsDone = %d, ChunksDone = %d, want 64 and 2", res.SectorsDone, res.ChunksDone)
	}
}

func TestFlash_Disconnect(t *testing.T) {
	e, dev, _ := setup(t)
	dev.OnCommand(func(cmd protocol.Command) {
		if cmd.Opcode == protocol.OpWriteLBA && cmd.LBA == bootLBA+32 {
			dev.Disconnect()
		}
	})

	res, err := e.Flash(context.Background(), "boot", bytes.NewReader(pattern(bootBytes)), bootBytes)
	if !flasherr.Is(err, flasherr.ErrTypeDisconnected) {
		t.Fatalf("Flash() error = %v, want Disconnected", err)
	}
	if res.ChunksDone != 1 {
		t.Errorf("ChunksDone = %d, want 1", res.ChunksDone)
	}

	// the session is gone; later workflows are refused
	if _, err := e.Erase(context.Background(), "boot"); !flasherr.Is(err, flasherr.ErrTypeInvalidState) {
		t.Errorf("Erase() after disconnect error = %v, want InvalidState", err)
	}
}

func TestFlash_Verify(t *testing.T) {
	e, _, rec := setup(t, WithVerify(true))
	image := pattern(10 * protocol.SectorSize)

	res, err := e.Flash(context.Background(), "misc", bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if res.Outcome != Success {
		t.Errorf("Outcome = %v", res.Outcome)
	}
	if kinds := rec.kinds(OpVerify); len(kinds) == 0 || kinds[len(kinds)-1] != EventFinished {
		t.Errorf("verify events = %v", kinds)
	}
}

func TestErase(t *testing.T) {
	e, dev, _ := setup(t)
	dev.Write(bootLBA, pattern(bootBytes))

	res, err := e.Erase(context.Background(), "boot")
	if err != nil {
		t.Fatalf("Erase() error = %v", err)
	}
	if res.SectorsDone != bootSectors {
		t.Errorf("SectorsDone = %d, want %d", res.SectorsDone, bootSectors)
	}
	if !bytes.Equal(dev.Read(bootLBA, bootSectors), bytes.Repeat([]byte{0xff}, bootBytes)) {
		t.Error("partition is not all 0xff after erase")
	}
	if got := dev.Read(bootLBA+bootSectors, 1); got[0] != 0 {
		t.Error("erase ran past the partition end")
	}
}

func TestBackup_Verify(t *testing.T) {
	e, dev, _ := setup(t, WithVerify(true))
	dev.Write(0x1000, pattern(0x20*protocol.SectorSize))

	out := &memFile{}
	if _, err := e.Backup(context.Background(), "@misc", out); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if !bytes.Equal(out.buf, pattern(0x20*protocol.SectorSize)) {
		t.Error("backup differs from device contents")
	}
}

func TestFlashParameter(t *testing.T) {
	e, dev, _ := setup(t)
	ctx := context.Background()

	text := []byte("FIRMWARE_VER:5.0\nCMDLINE:mtdparts=rk29xxnand:0x00000100@0x00002000(kernel),-@0x00010000(data)\n")
	if _, err := e.Flash(ctx, partition.ParameterName, bytes.NewReader(text), int64(len(text))); err != nil {
		t.Fatalf("Flash(parameter) error = %v", err)
	}

	if _, err := e.Resolve("kernel"); err != nil {
		t.Errorf("Resolve(kernel) after reload error = %v", err)
	}
	if _, err := e.Resolve("boot"); !flasherr.Is(err, flasherr.ErrTypePartitionNotFound) {
		t.Errorf("Resolve(boot) after reload error = %v, want PartitionNotFound", err)
	}

	got, err := partition.DecodeParameter(dev.Read(0, partition.ParameterSectors))
	if err != nil {
		t.Fatalf("DecodeParameter() error = %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Errorf("stored parameter = %q", got)
	}

	backup, _, err := e.BackupParameter(ctx)
	if err != nil {
		t.Fatalf("BackupParameter() error = %v", err)
	}
	if !bytes.Equal(backup, text) {
		t.Errorf("BackupParameter() = %q, want %q", backup, text)
	}
}

func TestFlashParameter_RejectsInvalidText(t *testing.T) {
	e, dev, _ := setup(t)

	_, err := e.FlashParameter(context.Background(), []byte("no command line here\n"))
	if !flasherr.Is(err, flasherr.ErrTypeInvalidPartitionTable) {
		t.Fatalf("FlashParameter() error = %v, want InvalidPartitionTable", err)
	}
	if got := writeCount(dev); got != 0 {
		t.Errorf("write commands = %d, want 0", got)
	}
}

func TestBackupParameter_Corrupt(t *testing.T) {
	e, dev, _ := setup(t)
	block := dev.Read(0, 1)
	block[20] ^= 0xff
	dev.Write(0, block)

	if _, _, err := e.BackupParameter(context.Background()); !flasherr.Is(err, flasherr.ErrTypeInvalidPartitionTable) {
		t.Errorf("BackupParameter() error = %v, want InvalidPartitionTable", err)
	}
}

func TestMultiSink(t *testing.T) {
	var a, b int
	m := MultiSink{SinkFunc(func(Event) { a++ }), nil, SinkFunc(func(Event) { b++ })}

	m.Emit(Event{Kind: EventStarted})

	if a != 1 || b != 1 {
		t.Errorf("a = %d, b = %d, want 1 and 1", a, b)
	}
}
