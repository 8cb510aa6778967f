package session

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/usb/usbtest"
)

const testParameter = "FIRMWARE_VER:4.2.2\n" +
	"CMDLINE:mtdparts=rk29xxnand:0x00002000@0x00002000(misc),0x00004000@0x00004000(kernel),0x00008000@0x00008000(boot),-@0x00010000(user)\n"

func connect(t *testing.T, dev *usbtest.Device, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithRetryDelay(0), WithLogger(zap.NewNop())}, opts...)
	s, err := Connect(context.Background(), dev, dev.Handle(), opts...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func timeout() error {
	return flasherr.New(flasherr.ErrTypeTimeout, "bulk write", "simulated")
}

func TestConnect(t *testing.T) {
	dev := usbtest.NewDevice(usbtest.WithParameter(testParameter))
	s := connect(t, dev)

	if s.State() != Ready {
		t.Errorf("State() = %v, want ready", s.State())
	}
	if s.FlashInfo().Sectors != usbtest.DefaultSectors {
		t.Errorf("FlashInfo().Sectors = 0x%x, want 0x%x", s.FlashInfo().Sectors, usbtest.DefaultSectors)
	}

	cat, err := s.Catalog()
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	user, err := cat.Resolve("user")
	if err != nil {
		t.Fatalf("Resolve(user) error = %v", err)
	}
	if user.Sectors != usbtest.DefaultSectors-0x10000 {
		t.Errorf("user.Sectors = 0x%x", user.Sectors)
	}

	cmds := dev.Commands()
	wantOps := []protocol.Opcode{protocol.OpTestUnitReady, protocol.OpReadFlashInfo, protocol.OpReadLBA}
	if len(cmds) != len(wantOps) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(wantOps))
	}
	for i, op := range wantOps {
		if cmds[i].Opcode != op {
			t.Errorf("command %d = %v, want %v", i, cmds[i].Opcode, op)
		}
	}
	if cmds[2].LBA != 0 || cmds[2].Count != 4 {
		t.Errorf("partition table read = lba %d count %d, want lba 0 count 4", cmds[2].LBA, cmds[2].Count)
	}
}

func TestConnect_HandshakeFailed(t *testing.T) {
	dev := usbtest.NewDevice()
	dev.FailCommand(protocol.OpTestUnitReady, 0, flasherr.New(flasherr.ErrTypeIO, "bulk write", "stall"), -1)

	_, err := Connect(context.Background(), dev, dev.Handle(), WithLogger(zap.NewNop()))
	if !flasherr.Is(err, flasherr.ErrTypeHandshakeFailed) {
		t.Fatalf("Connect() error = %v, want HandshakeFailed", err)
	}

	opens, closes, _, _ := dev.Stats()
	if opens != 1 || closes != 1 {
		t.Errorf("opens = %d, closes = %d, want 1 and 1", opens, closes)
	}
}

func TestConnect_DeviceGone(t *testing.T) {
	dev := usbtest.NewDevice()
	dev.Disconnect()

	_, err := Connect(context.Background(), dev, dev.Handle())
	if !flasherr.Is(err, flasherr.ErrTypeDeviceNotFound) {
		t.Errorf("Connect() error = %v, want DeviceNotFound", err)
	}
}

func TestConnect_InvalidChunkSize(t *testing.T) {
	dev := usbtest.NewDevice()
	for _, n := range []int{0, protocol.MaxChunkSectors + 1} {
		if _, err := Connect(context.Background(), dev, dev.Handle(), WithChunkSectors(n)); err == nil {
			t.Errorf("Connect(chunk=%d) error = nil, want error", n)
		}
	}
}

func TestConnect_MissingPartitionTable(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev)

	if s.State() != Ready {
		t.Fatalf("State() = %v, want ready", s.State())
	}
	if _, err := s.Catalog(); !flasherr.Is(err, flasherr.ErrTypeInvalidPartitionTable) {
		t.Errorf("Catalog() error = %v, want InvalidPartitionTable", err)
	}
	if err := s.Reboot(context.Background()); err != nil {
		t.Errorf("Reboot() error = %v", err)
	}
}

func TestConnect_PartitionTableWithoutMarker(t *testing.T) {
	dev := usbtest.NewDevice()
	dev.Write(0, []byte(testParameter))
	s := connect(t, dev)

	if _, err := s.Catalog(); !flasherr.Is(err, flasherr.ErrTypeInvalidPartitionTable) {
		t.Errorf("Catalog() error = %v, want InvalidPartitionTable", err)
	}
}

func TestConnect_PartitionTableReadFails(t *testing.T) {
	dev := usbtest.NewDevice(usbtest.WithParameter(testParameter))
	dev.FailStatus(protocol.OpReadLBA, 0, 0x01, 1)
	s := connect(t, dev)

	if s.State() != Ready {
		t.Fatalf("State() = %v, want ready", s.State())
	}
	if _, err := s.Catalog(); !flasherr.Is(err, flasherr.ErrTypeCommandFailed) {
		t.Errorf("Catalog() error = %v, want the read failure (CommandFailed)", err)
	}

	cat, err := s.ReloadPartitionTable(context.Background())
	if err != nil {
		t.Fatalf("ReloadPartitionTable() error = %v", err)
	}
	if _, err := s.Catalog(); err != nil || cat.Len() != 4 {
		t.Errorf("Catalog() after reload error = %v, partitions %d", err, cat.Len())
	}
}

func TestSession_WriteReadRoundTrip(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable(), WithChunkSectors(8))
	ctx := context.Background()

	data := make([]byte, 20*protocol.SectorSize)
	for i := range data {
		data[i] = byte(i * 7)
	}

	if err := s.WriteSectors(ctx, 0x400, data); err != nil {
		t.Fatalf("WriteSectors() error = %v", err)
	}
	got, err := s.ReadSectors(ctx, 0x400, 20)
	if err != nil {
		t.Fatalf("ReadSectors() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadSectors() returned different data")
	}

	if _, _, _, writes := dev.Stats(); writes != 3 {
		t.Errorf("write commands = %d, want 3 (8+8+4 sectors)", writes)
	}
	if s.State() != Ready {
		t.Errorf("State() = %v, want ready", s.State())
	}
}

func TestSession_WriteSectors_Unaligned(t *testing.T) {
	s := connect(t, usbtest.NewDevice(), WithSkipPartitionTable())

	err := s.WriteSectors(context.Background(), 0, make([]byte, 100))
	if !flasherr.Is(err, flasherr.ErrTypeInvalidPayloadSize) {
		t.Errorf("WriteSectors() error = %v, want InvalidPayloadSize", err)
	}
}

func TestSession_EraseSectors(t *testing.T) {
	dev := usbtest.NewDevice()
	dev.Write(0x100, bytes.Repeat([]byte{0x11}, 40*protocol.SectorSize))
	s := connect(t, dev, WithSkipPartitionTable())

	if err := s.EraseSectors(context.Background(), 0x100, 40); err != nil {
		t.Fatalf("EraseSectors() error = %v", err)
	}

	want := bytes.Repeat([]byte{0xff}, 40*protocol.SectorSize)
	if !bytes.Equal(dev.Read(0x100, 40), want) {
		t.Error("erased range is not all 0xff")
	}
	if got := dev.Read(0x128, 1); got[0] != 0 {
		t.Error("erase touched sectors past the range")
	}
}

func TestSession_OutOfRange(t *testing.T) {
	s := connect(t, usbtest.NewDevice(), WithSkipPartitionTable())

	_, err := s.ReadSectors(context.Background(), usbtest.DefaultSectors-1, 2)
	if !flasherr.Is(err, flasherr.ErrTypeOutOfRange) {
		t.Errorf("ReadSectors() error = %v, want OutOfRange", err)
	}
}

func TestSession_RetriesTransientErrors(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())
	dev.FailCommand(protocol.OpReadLBA, 0x200, timeout(), 2)

	if _, err := s.ReadSectors(context.Background(), 0x200, 1); err != nil {
		t.Fatalf("ReadSectors() error = %v, want success on third attempt", err)
	}
}

func TestSession_RetryExhaustion(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())

	// five chunks of 32 sectors, the third never succeeds
	const base = 0x1000
	third := uint32(base + 2*protocol.DefaultChunkSectors)
	dev.FailCommand(protocol.OpWriteLBA, third, timeout(), -1)

	attempts := 0
	dev.OnCommand(func(cmd protocol.Command) {
		if cmd.Opcode == protocol.OpWriteLBA && cmd.LBA == third {
			attempts++
		}
	})

	err := s.WriteSectors(context.Background(), base, make([]byte, 5*protocol.DefaultChunkSectors*protocol.SectorSize))
	if !flasherr.Is(err, flasherr.ErrTypeTimeout) {
		t.Fatalf("WriteSectors() error = %v, want Timeout", err)
	}
	if got := flasherr.SectorsDone(err); got != 2*protocol.DefaultChunkSectors {
		t.Errorf("SectorsDone = %d, want %d", got, 2*protocol.DefaultChunkSectors)
	}
	if attempts != DefaultRetries {
		t.Errorf("attempts = %d, want %d", attempts, DefaultRetries)
	}
	if flasherr.IsRetryable(err) {
		t.Error("exhausted error should not be retryable")
	}
	if _, _, _, writes := dev.Stats(); writes != 2 {
		t.Errorf("write commands = %d, want 2", writes)
	}
}

func TestSession_FatalErrorNotRetried(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())
	dev.ShortRead(0x80, 1)

	attempts := 0
	dev.OnCommand(func(cmd protocol.Command) {
		if cmd.Opcode == protocol.OpReadLBA {
			attempts++
		}
	})

	_, err := s.ReadSectors(context.Background(), 0x80, 1)
	if !flasherr.Is(err, flasherr.ErrTypeShortTransfer) {
		t.Fatalf("ReadSectors() error = %v, want ShortTransfer", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestSession_CommandFailedStatus(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())
	dev.FailStatus(protocol.OpWriteLBA, 0x10, 0x01, 1)

	err := s.WriteSectors(context.Background(), 0x10, make([]byte, protocol.SectorSize))
	if !flasherr.Is(err, flasherr.ErrTypeCommandFailed) {
		t.Errorf("WriteSectors() error = %v, want CommandFailed", err)
	}
}

func TestSession_Disconnect(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())
	dev.Disconnect()

	_, err := s.ReadSectors(context.Background(), 0, 1)
	if !flasherr.Is(err, flasherr.ErrTypeDisconnected) {
		t.Fatalf("ReadSectors() error = %v, want Disconnected", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if _, err := s.ReadSectors(context.Background(), 0, 1); !flasherr.Is(err, flasherr.ErrTypeInvalidState) {
		t.Errorf("second ReadSectors() error = %v, want InvalidState", err)
	}
}

func TestSession_BusyRejectsOverlap(t *testing.T) {
	s := connect(t, usbtest.NewDevice(), WithSkipPartitionTable())

	if err := s.begin("test"); err != nil {
		t.Fatalf("begin() error = %v", err)
	}
	if s.State() != Busy {
		t.Errorf("State() = %v, want busy", s.State())
	}
	if _, err := s.ReadSectors(context.Background(), 0, 1); !flasherr.Is(err, flasherr.ErrTypeInvalidState) {
		t.Errorf("ReadSectors() while busy error = %v, want InvalidState", err)
	}
	s.end()
	if _, err := s.ReadSectors(context.Background(), 0, 1); err != nil {
		t.Errorf("ReadSectors() after end error = %v", err)
	}
}

func TestSession_Reboot(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev, WithSkipPartitionTable())

	if err := s.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}

	opens, closes, resets, _ := dev.Stats()
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
	if opens != closes {
		t.Errorf("opens = %d, closes = %d, want equal", opens, closes)
	}
	if err := s.Reboot(context.Background()); !flasherr.Is(err, flasherr.ErrTypeInvalidState) {
		t.Errorf("second Reboot() error = %v, want InvalidState", err)
	}
}

func TestSession_ChipInfo(t *testing.T) {
	s := connect(t, usbtest.NewDevice(), WithSkipPartitionTable())

	info, err := s.ChipInfo(context.Background())
	if err != nil {
		t.Fatalf("ChipInfo() error = %v", err)
	}
	if !bytes.HasPrefix(info, []byte("RK3066")) {
		t.Errorf("ChipInfo() = %q", info)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	dev := usbtest.NewDevice()
	s := connect(t, dev)

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, closes, _, _ := dev.Stats(); closes != 1 {
		t.Errorf("closes = %d, want 1", closes)
	}
}
