// Package ring implements the bounded multi-producer/multi-consumer
// request ring described in spec.md section 4.1: a fixed-capacity
// array of task-record slots living in shared memory, each slot
// carrying its own sequence number so producers and consumers can
// claim a slot with a single CAS instead of a lock.
//
// The source algorithm this redesigns writes a producer's payload
// before winning the tail CAS, so a losing producer can corrupt a
// slot the eventual winner already published. This package claims the
// slot first (CAS the tail), writes the payload into the now-owned
// slot, and only then publishes by storing the slot's sequence number
// — the standard fix, applied here to fixed-size task records instead
// of the byte-stream buffer the retrieved grpc-go shared-memory
// transport's ShmRing moves (that ring is single-producer, so it is
// not exposed to this hazard in the first place).
package ring

import "github.com/shmkv/shmkv/internal/region"

// Command identifies the operation a task record asks a worker to
// perform against the authoritative store.
type Command uint8

const (
	CmdRead Command = iota
	CmdUpsert
	CmdInsertIfAbsent
	CmdDelete
)

func (c Command) String() string {
	switch c {
	case CmdRead:
		return "read"
	case CmdUpsert:
		return "upsert"
	case CmdInsertIfAbsent:
		return "insert-if-absent"
	case CmdDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Task is a self-contained request record: a command tag, a key, an
// optional value (selected by HasValue), the submitting client's
// process id, and a task id unique within that client. It holds no
// pointers, so copying it across a shared-memory slot never carries
// private-address-space state with it (spec.md section 3).
type Task[K region.Scalar, V region.Scalar] struct {
	Cmd       Command
	HasValue  bool
	Key       K
	Value     V
	ClientPID uint32
	TaskID    uint64
}
