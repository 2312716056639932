package resptable

import (
	"sync/atomic"

	"github.com/shmkv/shmkv/internal/region"
)

// Field-level atomic helpers. Slot[V] is generic, but taskID and
// status are always plain uint64/uint32 regardless of V, so these
// operate on the fixed fields directly rather than through a
// non-generic embedded type.

func atomicLoadTaskID[V region.Scalar](s *Slot[V]) uint64 { return atomic.LoadUint64(&s.taskID) }
func atomicStoreTaskID[V region.Scalar](s *Slot[V], v uint64) {
	atomic.StoreUint64(&s.taskID, v)
}

func atomicLoadStatus[V region.Scalar](s *Slot[V]) uint32 { return atomic.LoadUint32(&s.status) }
func atomicStoreStatus[V region.Scalar](s *Slot[V], v Status) {
	atomic.StoreUint32(&s.status, uint32(v))
}
