package engine

import (
	"bytes"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/session"
)

// Truncater is implemented by backup destinations that can be sized up
// front, such as *os.File
type Truncater interface {
	Truncate(size int64) error
}

// Flash writes size bytes of image to the named partition. The tail is
// zero-padded to a whole sector. An image larger than the partition is
// rejected with ErrTypeImageTooLarge before anything is written. A failure
// part way leaves the written chunks in place and sets Result.Partial.
//
// The "parameter" pseudo-partition takes parameter text and rewrites the
// parameter block (see FlashParameter).
func (e *Engine) Flash(ctx context.Context, name string, image io.ReaderAt, size int64) (*Result, error) {
	if name == partition.ParameterName {
		text, err := readAll(image, size)
		if err != nil {
			res := e.fail(OpFlash, name, size, err)
			return res, res.Err
		}
		return e.FlashParameter(ctx, text)
	}

	part, err := e.Resolve(name)
	if err != nil {
		res := e.fail(OpFlash, name, size, err)
		return res, res.Err
	}
	if size > part.Bytes() {
		res := e.fail(OpFlash, part.Name, size, flasherr.Newf(flasherr.ErrTypeImageTooLarge, "flash",
			"image is %d bytes, partition %q holds %d", size, part.Name, part.Bytes()))
		return res, res.Err
	}

	e.logger.Info("Flashing partition",
		zap.String("partition", part.Name),
		zap.Uint32("start_lba", part.StartLBA),
		zap.Int64("bytes", size),
	)

	j := job{op: OpFlash, name: part.Name, lba: part.StartLBA, sectors: sectorsFor(size), total: size, mutating: true}
	res := e.run(ctx, j, func(ctx context.Context, c session.Chunk, off int64) error {
		buf := make([]byte, c.Bytes())
		if _, err := readChunk(image, buf, off, size); err != nil {
			return err
		}
		return e.dev.WriteSectors(ctx, c.LBA, buf)
	})
	if res.Err != nil || !e.verify {
		return res, res.Err
	}

	vres := e.compareRange(ctx, OpVerify, part.Name, part.StartLBA, image, size)
	if vres.Err != nil {
		res.Outcome = vres.Outcome
		res.Err = vres.Err
		res.Mismatch = vres.Mismatch
		res.Offset = vres.Offset
	}
	return res, res.Err
}

// Backup reads the whole named partition into dst. When dst is a
// Truncater it is first sized to the partition length.
func (e *Engine) Backup(ctx context.Context, name string, dst io.WriterAt) (*Result, error) {
	part, err := e.Resolve(name)
	if err != nil {
		res := e.fail(OpBackup, name, 0, err)
		return res, res.Err
	}

	if t, ok := dst.(Truncater); ok {
		if err := t.Truncate(part.Bytes()); err != nil {
			res := e.fail(OpBackup, part.Name, part.Bytes(), flasherr.Wrap(flasherr.ErrTypeIO, "backup", err))
			return res, res.Err
		}
	}

	j := job{op: OpBackup, name: part.Name, lba: part.StartLBA, sectors: part.Sectors, total: part.Bytes()}
	res := e.run(ctx, j, func(ctx context.Context, c session.Chunk, off int64) error {
		data, err := e.dev.ReadSectors(ctx, c.LBA, c.Count)
		if err != nil {
			return err
		}
		if _, err := dst.WriteAt(data, off); err != nil {
			return flasherr.Wrap(flasherr.ErrTypeIO, "backup", err)
		}
		return nil
	})
	if res.Err != nil || !e.verify {
		return res, res.Err
	}

	if ra, ok := dst.(io.ReaderAt); ok {
		vres := e.compareRange(ctx, OpVerify, part.Name, part.StartLBA, ra, part.Bytes())
		if vres.Err != nil {
			res.Outcome = vres.Outcome
			res.Err = vres.Err
			res.Mismatch = vres.Mismatch
			res.Offset = vres.Offset
		}
	}
	return res, res.Err
}

// Erase overwrites the whole named partition with the erase pattern
func (e *Engine) Erase(ctx context.Context, name string) (*Result, error) {
	part, err := e.Resolve(name)
	if err != nil {
		res := e.fail(OpErase, name, 0, err)
		return res, res.Err
	}

	j := job{op: OpErase, name: part.Name, lba: part.StartLBA, sectors: part.Sectors, total: part.Bytes(), mutating: true}
	res := e.run(ctx, j, func(ctx context.Context, c session.Chunk, _ int64) error {
		return e.dev.EraseSectors(ctx, c.LBA, c.Count)
	})
	return res, res.Err
}

// Compare checks the named partition against ref, which must be exactly
// the partition length. A difference fails with ErrTypeContentMismatch and
// Result.Offset set to the first differing byte.
func (e *Engine) Compare(ctx context.Context, name string, ref io.ReaderAt, size int64) (*Result, error) {
	part, err := e.Resolve(name)
	if err != nil {
		res := e.fail(OpCompare, name, size, err)
		return res, res.Err
	}
	if size != part.Bytes() {
		res := e.fail(OpCompare, part.Name, size, flasherr.Newf(flasherr.ErrTypeLengthMismatch, "compare",
			"reference is %d bytes, partition %q is %d", size, part.Name, part.Bytes()))
		return res, res.Err
	}

	res := e.compareRange(ctx, OpCompare, part.Name, part.StartLBA, ref, size)
	return res, res.Err
}

// compareRange compares size bytes of ref with the device from lba on
func (e *Engine) compareRange(ctx context.Context, op Operation, name string, lba uint32, ref io.ReaderAt, size int64) *Result {
	j := job{op: op, name: name, lba: lba, sectors: sectorsFor(size), total: size}
	return e.run(ctx, j, func(ctx context.Context, c session.Chunk, off int64) error {
		got, err := e.dev.ReadSectors(ctx, c.LBA, c.Count)
		if err != nil {
			return err
		}
		want := make([]byte, c.Bytes())
		n, err := readChunk(ref, want, off, size)
		if err != nil {
			return err
		}
		if i := firstDiff(got[:n], want[:n]); i >= 0 {
			fe := flasherr.Newf(flasherr.ErrTypeContentMismatch, op.String(),
				"partition %q differs at byte offset %d", name, off+int64(i))
			fe.Offset = off + int64(i)
			return fe
		}
		return nil
	})
}

// FlashParameter writes text as a parameter image to the parameter block,
// reads it back, and reloads the partition table.
func (e *Engine) FlashParameter(ctx context.Context, text []byte) (*Result, error) {
	img, err := partition.EncodeParameter(text)
	if err != nil {
		res := e.fail(OpFlash, partition.ParameterName, int64(len(text)), err)
		return res, res.Err
	}
	if _, err := partition.Parse(text, 0xffffffff); err != nil {
		res := e.fail(OpFlash, partition.ParameterName, int64(len(img)), err)
		return res, res.Err
	}

	block := make([]byte, partition.ParameterSize)
	copy(block, img)

	j := job{op: OpFlash, name: partition.ParameterName, lba: partition.ParameterLBA,
		sectors: partition.ParameterSectors, total: int64(len(block)), mutating: true}
	res := e.run(ctx, j, func(ctx context.Context, c session.Chunk, off int64) error {
		return e.dev.WriteSectors(ctx, c.LBA, block[off:off+int64(c.Bytes())])
	})
	if res.Err != nil {
		return res, res.Err
	}

	raw, err := e.dev.ReadSectors(context.WithoutCancel(ctx), partition.ParameterLBA, partition.ParameterSectors)
	if err == nil {
		_, err = partition.DecodeParameter(raw)
	}
	if err == nil {
		_, err = e.dev.ReloadPartitionTable(context.WithoutCancel(ctx))
	}
	if err != nil {
		res.Outcome = Failure
		res.Err = err
	}
	return res, res.Err
}

// BackupParameter reads the parameter block and returns its text. The
// checksum is verified.
func (e *Engine) BackupParameter(ctx context.Context) ([]byte, *Result, error) {
	buf := make([]byte, 0, partition.ParameterSize)
	j := job{op: OpBackup, name: partition.ParameterName, lba: partition.ParameterLBA,
		sectors: partition.ParameterSectors, total: partition.ParameterSize}
	res := e.run(ctx, j, func(ctx context.Context, c session.Chunk, _ int64) error {
		data, err := e.dev.ReadSectors(ctx, c.LBA, c.Count)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		return nil
	})
	if res.Err != nil {
		return nil, res, res.Err
	}

	text, err := partition.DecodeParameter(buf)
	if err != nil {
		res.Outcome = Failure
		res.Err = err
		return nil, res, err
	}
	return text, res, nil
}

// readChunk fills buf from r at off, stopping at size. The rest of buf is
// left zero. It returns the number of bytes read.
func readChunk(r io.ReaderAt, buf []byte, off, size int64) (int, error) {
	want := int64(len(buf))
	if rem := size - off; rem < want {
		want = rem
	}
	n, err := r.ReadAt(buf[:want], off)
	if int64(n) == want {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, flasherr.Wrap(flasherr.ErrTypeIO, "read image", err)
}

func readAll(r io.ReaderAt, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := readChunk(r, buf, 0, size); err != nil {
		return nil, err
	}
	return buf, nil
}

func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
