package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/flasherr"
	"github.com/muurk/rkflash/internal/partition"
	"github.com/muurk/rkflash/internal/protocol"
	"github.com/muurk/rkflash/internal/session"
)

// Device is the part of a session the engine drives. *session.Session
// implements it.
type Device interface {
	Catalog() (*partition.Catalog, error)
	ReloadPartitionTable(ctx context.Context) (*partition.Catalog, error)
	ReadSectors(ctx context.Context, lba, count uint32) ([]byte, error)
	WriteSectors(ctx context.Context, lba uint32, data []byte) error
	EraseSectors(ctx context.Context, lba, count uint32) error
	ChunkSectors() int
}

var _ Device = (*session.Session)(nil)

// Engine runs partition workflows against one device. Workflows never
// retry; retries belong to the session.
type Engine struct {
	dev    Device
	sink   Sink
	logger *zap.Logger
	verify bool
}

// Option configures an Engine
type Option func(*Engine)

// WithSink sets the event receiver
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithVerify re-reads flashed and backed up ranges and compares them
func WithVerify(v bool) Option {
	return func(e *Engine) { e.verify = v }
}

// New creates an engine for dev
func New(dev Device, opts ...Option) *Engine {
	e := &Engine{
		dev:    dev,
		sink:   nopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve looks a partition up in the device catalog
func (e *Engine) Resolve(name string) (partition.Entry, error) {
	cat, err := e.dev.Catalog()
	if err != nil {
		return partition.Entry{}, err
	}
	return cat.Resolve(name)
}

// stepFunc moves one chunk. off is the byte offset of the chunk within the
// workflow range.
type stepFunc func(ctx context.Context, c session.Chunk, off int64) error

// job is one workflow over a sector range
type job struct {
	op       Operation
	name     string
	lba      uint32
	sectors  uint32
	total    int64 // bytes reported to the sink
	mutating bool
}

// run drives a job chunk by chunk. ctx is checked between chunks only; a
// chunk in flight always completes.
func (e *Engine) run(ctx context.Context, j job, step stepFunc) *Result {
	start := time.Now()
	res := &Result{Op: j.op, Partition: j.name, TotalBytes: j.total}
	e.sink.Emit(Event{Kind: EventStarted, Op: j.op, Partition: j.name, TotalBytes: j.total})

	ioCtx := context.WithoutCancel(ctx)
	var off int64
	for _, c := range session.Split(j.lba, j.sectors, e.dev.ChunkSectors()) {
		if err := ctx.Err(); err != nil {
			res.Outcome = Cancelled
			res.Err = flasherr.Wrap(flasherr.ErrTypeCancelled, j.op.String(), err)
			break
		}

		if err := step(ioCtx, c, off); err != nil {
			res.Outcome = Failure
			res.Err = err
			res.SectorsDone += flasherr.SectorsDone(err)
			break
		}

		res.ChunksDone++
		res.SectorsDone += c.Count
		off += int64(c.Bytes())
		res.BytesDone = min(off, j.total)
		e.sink.Emit(Event{Kind: EventProgress, Op: j.op, Partition: j.name, TotalBytes: j.total, BytesDone: res.BytesDone})
	}

	if res.Err != nil && j.mutating && res.SectorsDone > 0 {
		res.Partial = true
	}
	return e.finish(res, start)
}

// fail reports a workflow rejected before any I/O
func (e *Engine) fail(op Operation, name string, total int64, err error) *Result {
	res := &Result{Op: op, Partition: name, Outcome: Failure, TotalBytes: total, Err: err}
	if flasherr.Is(err, flasherr.ErrTypeCancelled) {
		res.Outcome = Cancelled
	}
	return e.finish(res, time.Now())
}

func (e *Engine) finish(res *Result, start time.Time) *Result {
	res.Elapsed = time.Since(start)
	var fe *flasherr.Error
	if res.Outcome == Failure && errors.As(res.Err, &fe) && fe.Type == flasherr.ErrTypeContentMismatch {
		res.Mismatch = true
		res.Offset = fe.Offset
	}
	e.sink.Emit(Event{
		Kind:       EventFinished,
		Op:         res.Op,
		Partition:  res.Partition,
		TotalBytes: res.TotalBytes,
		BytesDone:  res.BytesDone,
		Result:     res,
	})
	return res
}

// sectorsFor returns the sectors needed to hold size bytes
func sectorsFor(size int64) uint32 {
	return uint32((size + protocol.SectorSize - 1) / protocol.SectorSize)
}
