// Package session drives one Rockchip device through its lifecycle:
//
//	Disconnected -> Connecting -> Ready <-> Busy -> Disconnected
//
// Connect performs the handshake and loads the partition table once.
// Sector operations are cut into chunks (32 sectors by default) and each
// chunk is one command exchange. Timeouts and short writes are retried with
// the same frame; anything else fails the operation at once, reporting the
// sectors already transferred through flasherr.SectorsDone.
//
// A Session is not meant to be shared. Overlapping calls are rejected with
// ErrTypeInvalidState rather than queued.
package session
