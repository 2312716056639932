package ring

import (
	"errors"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/shmkv/shmkv/internal/region"
)

// ErrFull describes a ring with no free slot. TryPush does not return
// it; it reports a full ring by returning false.
var ErrFull = errors.New("ring: full")

// ErrEmpty describes a ring with no pending task. TryPop does not
// return it; it reports an empty ring by returning false.
var ErrEmpty = errors.New("ring: empty")

// maxBackoff caps the spin-wait between CAS retries, per spec.md
// section 4.1 ("exponential backoff capped at 128 iterations").
const maxBackoff = 128

// DefaultMaxRetries is the bounded retry budget try_push/try_pop use
// when the caller doesn't specify one.
const DefaultMaxRetries = 1000

// Header is the ring's control block, living at a fixed offset inside
// the shared region. head/tail are isolated on their own cache lines
// to avoid false sharing between the producer and consumer sides, the
// same layout discipline the retrieved evm_triarb SPSC ring and the
// grpc-go shm RingHeader both follow.
type Header struct {
	tail    uint64
	_       [56]byte
	head    uint64
	_       [56]byte
	version uint64 // bumped on every successful push/pop; activity marker only
	_       [56]byte
}

// Slot pairs a task record with the sequence number that arbitrates
// producer/consumer ownership (the Vyukov-style per-slot sequence).
type Slot[K region.Scalar, V region.Scalar] struct {
	seq  uint64
	task Task[K, V]
}

// SlotSize reports sizeof(Slot[K,V]) for a given instantiation, used
// by callers to compute the region layout before the region exists.
func SlotSize[K region.Scalar, V region.Scalar]() uint64 {
	var s Slot[K, V]
	return uint64(unsafe.Sizeof(s))
}

// Ring is a view over a QueueCapacity-slot array living inside a
// shared memory mapping. It keeps a pointer to the ring header and a
// slice over the slot array, both pointing into the mapping, so it
// must not be used after the mapping is unmapped.
type Ring[K region.Scalar, V region.Scalar] struct {
	header *Header
	slots  []Slot[K, V]
	mask   uint64
}

// NewFromBytes constructs a Ring view over mem[offset:], which must
// already contain region.QueueCapacity slots (either freshly zeroed,
// to be initialized with Init, or previously initialized by another
// process sharing the mapping).
func NewFromBytes[K region.Scalar, V region.Scalar](mem []byte, offset uint64) *Ring[K, V] {
	base := unsafe.Pointer(&mem[offset])
	hdr := (*Header)(base)
	slotsBase := unsafe.Pointer(uintptr(base) + unsafe.Sizeof(Header{}))
	slots := unsafe.Slice((*Slot[K, V])(slotsBase), region.QueueCapacity)
	return &Ring[K, V]{
		header: hdr,
		slots:  slots,
		mask:   region.QueueCapacity - 1,
	}
}

// Init zero-initializes the ring's control block and stamps every
// slot's sequence number to its own index, the valid empty state
// spec.md section 3 requires of a freshly constructed region. Only
// the server calls Init, once, right after creating the segment.
func (r *Ring[K, V]) Init() {
	atomic.StoreUint64(&r.header.tail, 0)
	atomic.StoreUint64(&r.header.head, 0)
	atomic.StoreUint64(&r.header.version, 0)
	for i := range r.slots {
		atomic.StoreUint64(&r.slots[i].seq, uint64(i))
	}
}

// Version returns the activity counter bumped on every successful
// push or pop; it exists only so observers can detect that the ring
// is doing something (spec.md section 3).
func (r *Ring[K, V]) Version() uint64 { return atomic.LoadUint64(&r.header.version) }

// TryPush attempts to enqueue task, retrying under contention up to
// maxRetries times with capped exponential backoff. It returns false
// if the ring was observed full or the retry budget was exhausted —
// spec.md's try_push never blocks.
//
// One slot is always held in reserve: the ring reports full once
// tail-head reaches QueueCapacity-1, per spec.md section 3's
// occupancy invariant (tail - head ∈ [0, QueueCapacity-1]) and its
// full condition ((tail+1) mod N == head mod N) — a ring that let
// tail-head reach the full QueueCapacity would make full and empty
// indistinguishable by counters alone.
func (r *Ring[K, V]) TryPush(task Task[K, V], maxRetries int) bool {
	backoff := 1
	for attempt := 0; attempt < maxRetries; attempt++ {
		tail := atomic.LoadUint64(&r.header.tail)
		head := atomic.LoadUint64(&r.header.head)
		if tail-head >= region.QueueCapacity-1 {
			return false // ring full: one slot reserved to distinguish full from empty
		}

		slot := &r.slots[tail&r.mask]
		seq := atomic.LoadUint64(&slot.seq)
		diff := int64(seq) - int64(tail)

		switch {
		case diff == 0:
			// Slot is free for this generation: claim it first.
			if atomic.CompareAndSwapUint64(&r.header.tail, tail, tail+1) {
				slot.task = task
				atomic.StoreUint64(&slot.seq, tail+1)
				atomic.AddUint64(&r.header.version, 1)
				return true
			}
			// Lost the race to another producer; retry immediately.
			continue
		case diff < 0:
			return false // ring full
		}

		spin(backoff)
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
	return false
}

// TryPop attempts to dequeue one task, retrying under contention up
// to maxRetries times with the same backoff policy as TryPush.
func (r *Ring[K, V]) TryPop(maxRetries int) (Task[K, V], bool) {
	backoff := 1
	for attempt := 0; attempt < maxRetries; attempt++ {
		head := atomic.LoadUint64(&r.header.head)
		slot := &r.slots[head&r.mask]
		seq := atomic.LoadUint64(&slot.seq)
		diff := int64(seq) - int64(head+1)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.header.head, head, head+1) {
				task := slot.task
				atomic.StoreUint64(&slot.seq, head+region.QueueCapacity)
				atomic.AddUint64(&r.header.version, 1)
				return task, true
			}
			continue
		case diff < 0:
			var zero Task[K, V]
			return zero, false // ring empty
		}

		spin(backoff)
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
	var zero Task[K, V]
	return zero, false
}

// PushBlocking wraps TryPush in a yield loop: each round spends up to
// DefaultMaxRetries CAS attempts, then yields the scheduler and tries
// another round, until it succeeds or stopped reports true. Pass a
// stopped func that checks a deadline or a termination signal; nil
// means block until success.
func (r *Ring[K, V]) PushBlocking(task Task[K, V], stopped func() bool) bool {
	for {
		if r.TryPush(task, DefaultMaxRetries) {
			return true
		}
		if stopped != nil && stopped() {
			return false
		}
		runtime.Gosched()
	}
}

// PopBlocking is PushBlocking's consumer-side counterpart.
func (r *Ring[K, V]) PopBlocking(stopped func() bool) (Task[K, V], bool) {
	for {
		if task, ok := r.TryPop(DefaultMaxRetries); ok {
			return task, true
		}
		if stopped != nil && stopped() {
			var zero Task[K, V]
			return zero, false
		}
		runtime.Gosched()
	}
}

// spin busy-waits for n iterations, the bounded exponential backoff
// spec.md section 4.1 calls for ("1, 2, 4, ..., 128, repeating"). No
// assembly PAUSE hint is used (cf. the retrieved evm_triarb ring's
// relax_amd64.go) to keep the package portable across architectures;
// a plain counted loop still backs off CAS retries without yielding
// the whole scheduling quantum the way runtime.Gosched would.
func spin(n int) {
	x := uint64(1)
	for i := 0; i < n; i++ {
		x = x*2862933555777941757 + 3037000493
	}
	runtime.KeepAlive(x)
}
