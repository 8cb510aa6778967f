package eventserver

import (
	"time"

	"github.com/muurk/rkflash/internal/engine"
)

// Message is the JSON form of an engine event sent to clients
type Message struct {
	Type           string    `json:"type"`
	Time           time.Time `json:"time"`
	Operation      string    `json:"operation"`
	Partition      string    `json:"partition"`
	TotalBytes     int64     `json:"total_bytes"`
	BytesDone      int64     `json:"bytes_done"`
	Outcome        string    `json:"outcome,omitempty"`
	Error          string    `json:"error,omitempty"`
	SectorsDone    uint32    `json:"sectors_done,omitempty"`
	Partial        bool      `json:"partial,omitempty"`
	MismatchOffset *int64    `json:"mismatch_offset,omitempty"`
}

// NewMessage converts ev. Result fields are filled for finished events only.
func NewMessage(ev engine.Event) Message {
	m := Message{
		Type:       ev.Kind.String(),
		Time:       time.Now().UTC(),
		Operation:  ev.Op.String(),
		Partition:  ev.Partition,
		TotalBytes: ev.TotalBytes,
		BytesDone:  ev.BytesDone,
	}
	if r := ev.Result; r != nil {
		m.Outcome = r.Outcome.String()
		m.SectorsDone = r.SectorsDone
		m.Partial = r.Partial
		if r.Err != nil {
			m.Error = r.Err.Error()
		}
		if r.Mismatch {
			off := r.Offset
			m.MismatchOffset = &off
		}
	}
	return m
}
