package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Operation names a workflow
type Operation int

const (
	OpFlash Operation = iota
	OpBackup
	OpErase
	OpCompare
	OpVerify
)

// String returns the operation name
func (o Operation) String() string {
	switch o {
	case OpFlash:
		return "flash"
	case OpBackup:
		return "backup"
	case OpErase:
		return "erase"
	case OpCompare:
		return "compare"
	case OpVerify:
		return "verify"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Outcome is how a workflow ended
type Outcome int

const (
	Success Outcome = iota
	Failure
	Cancelled
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result summarises a finished workflow
type Result struct {
	Op          Operation
	Partition   string
	Outcome     Outcome
	TotalBytes  int64
	BytesDone   int64
	SectorsDone uint32
	ChunksDone  int
	Partial     bool  // a mutating workflow stopped after changing the device
	Mismatch    bool  // compare found differing content
	Offset      int64 // first differing byte when Mismatch is set
	Err         error
	Elapsed     time.Duration
}

// EventKind distinguishes the three points of a workflow
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventFinished
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event reports workflow progress. Result is set on EventFinished only.
type Event struct {
	Kind       EventKind
	Op         Operation
	Partition  string
	TotalBytes int64
	BytesDone  int64
	Result     *Result
}

// Sink receives events on the goroutine running the workflow
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(ev)
func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order
type MultiSink []Sink

// Emit forwards ev to every sink
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// LogSink reports events through a zap logger
type LogSink struct {
	Logger *zap.Logger
}

// Emit logs ev. Progress is logged at debug level.
func (s LogSink) Emit(ev Event) {
	fields := []zap.Field{
		zap.Stringer("operation", ev.Op),
		zap.String("partition", ev.Partition),
		zap.Int64("total_bytes", ev.TotalBytes),
	}
	switch ev.Kind {
	case EventStarted:
		s.Logger.Info("Operation started", fields...)
	case EventProgress:
		s.Logger.Debug("Operation progress", append(fields, zap.Int64("bytes_done", ev.BytesDone))...)
	case EventFinished:
		r := ev.Result
		fields = append(fields,
			zap.Stringer("outcome", r.Outcome),
			zap.Int64("bytes_done", r.BytesDone),
			zap.Uint32("sectors_done", r.SectorsDone),
			zap.Duration("elapsed", r.Elapsed),
		)
		if r.Err != nil {
			s.Logger.Warn("Operation finished", append(fields, zap.Error(r.Err))...)
			return
		}
		s.Logger.Info("Operation finished", fields...)
	}
}
