package resptable

import (
	"unsafe"

	"github.com/shmkv/shmkv/internal/region"
)

// Slot is one response table entry: the task id it currently belongs
// to, its status, and the result value for CmdRead. taskID lets a
// client detect that a slot has been recycled for a different task
// before it trusts a stale Success it happened to observe.
type Slot[V region.Scalar] struct {
	taskID uint64
	status uint32
	_      uint32
	value  V
}

// SlotSize reports sizeof(Slot[V]) for a given instantiation, used to
// compute the region layout before the region exists.
func SlotSize[V region.Scalar]() uint64 {
	var s Slot[V]
	return uint64(unsafe.Sizeof(s))
}

// Table is a view over a TableCapacity-slot array living inside a
// shared memory mapping, indexed by task id modulo capacity.
type Table[V region.Scalar] struct {
	slots []Slot[V]
	mask  uint64
}

// NewFromBytes constructs a Table view over mem[offset:], which must
// already contain region.TableCapacity slots.
func NewFromBytes[V region.Scalar](mem []byte, offset uint64) *Table[V] {
	base := unsafe.Pointer(&mem[offset])
	slots := unsafe.Slice((*Slot[V])(base), region.TableCapacity)
	return &Table[V]{slots: slots, mask: region.TableCapacity - 1}
}

// Init zero-initializes every slot. Only the server calls this, once,
// right after creating the segment.
func (t *Table[V]) Init() {
	for i := range t.slots {
		t.slots[i] = Slot[V]{}
	}
}

func (t *Table[V]) slotFor(taskID uint64) *Slot[V] {
	return &t.slots[taskID&t.mask]
}

// Reset claims a slot for taskID and marks it Pending, overwriting
// whatever the slot held for a previous generation. A client calls
// this right before it pushes the task onto the ring, so neither the
// worker's publish nor the subsequent poll can meet a stale terminal
// status left over from an earlier task that happened to hash to the
// same slot (spec.md section 8's reuse-safety property).
func (t *Table[V]) Reset(taskID uint64) {
	s := t.slotFor(taskID)
	atomicStoreStatus(s, Pending)
	atomicStoreTaskID(s, taskID)
}

// IsComplete reports whether the slot currently owned by taskID holds
// a terminal status. Returns false (never complete) if the slot has
// since been recycled for a different task id, since that can only
// happen after this task's own result was already consumed or the
// submission itself never actually reached a worker.
func (t *Table[V]) IsComplete(taskID uint64) bool {
	s := t.slotFor(taskID)
	if atomicLoadTaskID(s) != taskID {
		return false
	}
	return Status(atomicLoadStatus(s)).IsComplete()
}

// PublishStatus writes the terminal status (and, for Success, the
// result value) for taskID. The value is stored before the status so
// that a client observing a terminal status via IsComplete's acquire
// load is guaranteed to see the value that went with it — the same
// value-then-flag release ordering the request ring's publish step
// uses for its sequence number.
func (t *Table[V]) PublishStatus(taskID uint64, status Status, value V) {
	s := t.slotFor(taskID)
	if atomicLoadTaskID(s) != taskID {
		return // slot was recycled out from under this task; drop silently
	}
	s.value = value
	atomicStoreStatus(s, status)
}

// ReadResult returns the status and value currently published for
// taskID. Callers must confirm IsComplete before trusting the result
// as final; ReadResult itself does not block.
func (t *Table[V]) ReadResult(taskID uint64) (Status, V) {
	s := t.slotFor(taskID)
	status := Status(atomicLoadStatus(s))
	return status, s.value
}
