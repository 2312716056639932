// Package worker implements the worker pool described in spec.md
// section 4.4: a fixed-size set of goroutines that pop tasks off the
// request ring, apply them to the authoritative store, and publish a
// terminal status into the response table for every task they
// dispatch. The idempotent Start/Stop and atomic running flag follow
// the retrieved grpc-go shared-memory transport's ShmUnaryClient,
// which guards its own reader goroutine and Close with an atomic.Bool
// CompareAndSwap instead of a plain bool plus mutex.
package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shmkv/shmkv/internal/region"
	"github.com/shmkv/shmkv/internal/resptable"
	"github.com/shmkv/shmkv/internal/ring"
	"github.com/shmkv/shmkv/internal/store"
)

// idleSleep is how long a worker sleeps after observing an empty ring
// before polling again, per spec.md section 4.4.
const idleSleep = 100 * time.Microsecond

// Pool dispatches tasks from a ring against a store, publishing every
// task's terminal result into a response table.
type Pool[K region.Scalar, V region.Scalar] struct {
	ring  *ring.Ring[K, V]
	table *resptable.Table[V]
	kv    *store.Map[K, V]
	log   *slog.Logger

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New builds a Pool over the given ring, response table, and store.
// A nil logger defaults to slog.Default().
func New[K region.Scalar, V region.Scalar](r *ring.Ring[K, V], t *resptable.Table[V], kv *store.Map[K, V], log *slog.Logger) *Pool[K, V] {
	if log == nil {
		log = slog.Default()
	}
	return &Pool[K, V]{ring: r, table: t, kv: kv, log: log}
}

// Start launches n worker goroutines. It is idempotent: calling Start
// while the pool is already running is a no-op and returns false.
func (p *Pool[K, V]) Start(n int) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	if n < 1 {
		n = 1
	}
	p.stop = make(chan struct{})
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop(i)
	}
	p.log.Info("worker pool started", "workers", n)
	return true
}

// Stop signals every worker to exit after its current task, then
// waits for them. Tasks still in the ring are not drained and never
// complete. It is idempotent: calling Stop on a pool that isn't
// running is a no-op.
func (p *Pool[K, V]) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool[K, V]) loop(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		task, ok := p.ring.TryPop(ring.DefaultMaxRetries)
		if !ok {
			time.Sleep(idleSleep)
			continue
		}
		p.dispatch(task)
	}
}

func (p *Pool[K, V]) dispatch(task ring.Task[K, V]) {
	switch task.Cmd {
	case ring.CmdRead:
		if value, found := p.kv.Lookup(task.Key); found {
			p.table.PublishStatus(task.TaskID, resptable.Success, value)
		} else {
			p.table.PublishStatus(task.TaskID, resptable.NotFound, zeroValue[V]())
		}
	case ring.CmdUpsert:
		if !task.HasValue {
			p.log.Warn("dropping upsert with no value", "task_id", task.TaskID)
			p.table.PublishStatus(task.TaskID, resptable.Failed, zeroValue[V]())
			break
		}
		p.kv.Upsert(task.Key, task.Value)
		p.table.PublishStatus(task.TaskID, resptable.Success, task.Value)
	case ring.CmdInsertIfAbsent:
		if !task.HasValue {
			p.log.Warn("dropping insert-if-absent with no value", "task_id", task.TaskID)
			p.table.PublishStatus(task.TaskID, resptable.Failed, zeroValue[V]())
			break
		}
		if p.kv.InsertIfAbsent(task.Key, task.Value) {
			p.table.PublishStatus(task.TaskID, resptable.Success, task.Value)
		} else {
			p.table.PublishStatus(task.TaskID, resptable.Failed, zeroValue[V]())
		}
	case ring.CmdDelete:
		if p.kv.Erase(task.Key) {
			p.table.PublishStatus(task.TaskID, resptable.Success, zeroValue[V]())
		} else {
			p.table.PublishStatus(task.TaskID, resptable.NotFound, zeroValue[V]())
		}
	default:
		p.log.Warn("dropping task with unknown command", "cmd", task.Cmd, "task_id", task.TaskID)
		p.table.PublishStatus(task.TaskID, resptable.Failed, zeroValue[V]())
	}
}

func zeroValue[V region.Scalar]() V {
	var zero V
	return zero
}
