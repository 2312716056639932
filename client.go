// Package shmkv is a client library and in-process server for a
// cross-process key/value store coordinated entirely through shared
// memory: a lock-free request ring carries commands from clients to a
// server-side worker pool, and a response table carries results back,
// with no RPC framework or syscall-per-request round trip in between.
//
// Client is the library entry point: it attaches to a region a server
// has already created, submits commands onto that region's request
// ring, and polls the response table for a result. Server is a
// convenience wrapper for the region-creation, worker pool, and
// rendezvous wiring cmd/shmkv-server needs; library users embedding
// shmkv in their own process can use Client directly against a region
// they set up by hand.
package shmkv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shmkv/shmkv/internal/region"
	"github.com/shmkv/shmkv/internal/resptable"
	"github.com/shmkv/shmkv/internal/ring"
)

// DefaultTimeout bounds how long a synchronous call waits for its
// response table slot to complete before returning ErrTimeout.
const DefaultTimeout = 5 * time.Second

// pollInterval is how often a synchronous call re-checks its response
// table slot while waiting, the same order of magnitude as the
// worker pool's idle sleep.
const pollInterval = 100 * time.Microsecond

// Client attaches to an existing shmkv region and issues commands
// against it. A Client is not safe to copy after first use (it holds
// a mapped memory segment); pass it by pointer. It is, however, safe
// for concurrent use by multiple goroutines issuing calls against the
// same region — Go has no compile-time move-only types, so this
// constraint is documented rather than enforced, and the connected
// flag below only guards against double-Close and post-Close calls.
type Client[K region.Scalar, V region.Scalar] struct {
	mu        sync.Mutex
	connected bool

	seg   *region.Segment
	ring  *ring.Ring[K, V]
	table *resptable.Table[V]

	pid        uint32
	nextTaskID atomic.Uint64

	log *slog.Logger
}

// ClientOption configures optional Client behavior.
type ClientOption func(*clientConfig)

type clientConfig struct {
	log *slog.Logger
}

// WithLogger overrides the client's logger. The default is
// slog.Default().
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.log = log }
}

// Connect attaches to the region named name, which must already have
// been created by a server (see NewServer). The ring and table slot
// sizes are computed from K and V (ring.SlotSize[K,V]() and
// resptable.SlotSize[V]()), so the K/V instantiation must match the
// one used to create the region or the layout check fails.
func Connect[K region.Scalar, V region.Scalar](name string, opts ...ClientOption) (*Client[K, V], error) {
	cfg := clientConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ringSlotSize := ring.SlotSize[K, V]()
	tableSlotSize := resptable.SlotSize[V]()

	seg, err := region.Open(name, ringSlotSize, tableSlotSize)
	if err != nil {
		return nil, fmt.Errorf("shmkv: connect %s: %w", name, err)
	}

	h := region.HeaderAt(seg.Mem)
	r := ring.NewFromBytes[K, V](seg.Mem, h.RingOffset())
	t := resptable.NewFromBytes[V](seg.Mem, h.TableOffset())
	h.AddClient()

	c := &Client[K, V]{
		seg:       seg,
		ring:      r,
		table:     t,
		pid:       uint32(os.Getpid()),
		connected: true,
		log:       cfg.log.With("region", name, "pid", os.Getpid()),
	}
	c.log.Info("client connected")
	return c, nil
}

// Close detaches from the region. It is idempotent: a second Close
// returns nil without effect.
func (c *Client[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false

	h := region.HeaderAt(c.seg.Mem)
	h.RemoveClient()

	err := c.seg.Close()
	c.log.Info("client disconnected")
	return err
}

func (c *Client[K, V]) allocTaskID() uint64 {
	return c.nextTaskID.Add(1)
}

// Paused reports whether the server has asked clients to pause,
// an advisory signal a client's own request loop is expected to
// check between operations (spec.md section 6); shmkv itself never
// blocks on it. Terminated reports whether the server has signaled
// shutdown; once true, every subsequent call against this Client
// returns ErrDisconnected.
func (c *Client[K, V]) Paused() bool {
	return region.HeaderAt(c.seg.Mem).Signal() == region.SignalPause
}

func (c *Client[K, V]) Terminated() bool {
	return region.HeaderAt(c.seg.Mem).Signal() == region.SignalTerminate
}

// submit resets the response slot for a freshly allocated task id,
// pushes the task, and returns the task id for the caller to poll.
// The slot is reset before the push so that a worker's eventual
// publish can never race a stale Success left over from a previous
// generation that happened to hash to the same slot.
func (c *Client[K, V]) submit(cmd ring.Command, key K, value V, hasValue bool) (uint64, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return 0, ErrDisconnected
	}
	if region.HeaderAt(c.seg.Mem).Signal() == region.SignalTerminate {
		return 0, ErrDisconnected
	}

	taskID := c.allocTaskID()
	c.table.Reset(taskID)

	task := ring.Task[K, V]{
		Cmd:       cmd,
		HasValue:  hasValue,
		Key:       key,
		Value:     value,
		ClientPID: c.pid,
		TaskID:    taskID,
	}
	if !c.ring.TryPush(task, ring.DefaultMaxRetries) {
		return 0, ErrSubmissionFailed
	}
	return taskID, nil
}

// await polls the response table for taskID's terminal result,
// returning ErrTimeout if ctx is done first.
func (c *Client[K, V]) await(ctx context.Context, taskID uint64) (resptable.Status, V, error) {
	var zero V
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if c.table.IsComplete(taskID) {
			status, value := c.table.ReadResult(taskID)
			return status, value, nil
		}
		if region.HeaderAt(c.seg.Mem).Signal() == region.SignalTerminate {
			return resptable.Pending, zero, ErrDisconnected
		}
		select {
		case <-ctx.Done():
			return resptable.Pending, zero, ErrTimeout
		case <-ticker.C:
		}
	}
}

// AsyncGet submits a read for key and returns its task id immediately
// without waiting for a result.
func (c *Client[K, V]) AsyncGet(key K) (uint64, error) {
	var zero V
	return c.submit(ring.CmdRead, key, zero, false)
}

// AsyncSet submits an unconditional upsert of key/value.
func (c *Client[K, V]) AsyncSet(key K, value V) (uint64, error) {
	return c.submit(ring.CmdUpsert, key, value, true)
}

// AsyncPost submits an insert-if-absent of key/value.
func (c *Client[K, V]) AsyncPost(key K, value V) (uint64, error) {
	return c.submit(ring.CmdInsertIfAbsent, key, value, true)
}

// AsyncDel submits a deletion of key.
func (c *Client[K, V]) AsyncDel(key K) (uint64, error) {
	var zero V
	return c.submit(ring.CmdDelete, key, zero, false)
}

// Wait blocks until taskID's result is published or timeout elapses,
// returning the value and whether the key was found/affected.
func (c *Client[K, V]) Wait(taskID uint64, timeout time.Duration) (V, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	status, value, err := c.await(ctx, taskID)
	if err != nil {
		var zero V
		return zero, false, err
	}
	switch status {
	case resptable.Success:
		return value, true, nil
	case resptable.NotFound, resptable.Failed:
		var zero V
		return zero, false, nil
	default:
		var zero V
		return zero, false, fmt.Errorf("shmkv: unexpected status %v", status)
	}
}

// Get synchronously reads key, with DefaultTimeout.
func (c *Client[K, V]) Get(key K) (V, bool, error) {
	taskID, err := c.AsyncGet(key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return c.Wait(taskID, DefaultTimeout)
}

// Set synchronously upserts key/value, with DefaultTimeout.
func (c *Client[K, V]) Set(key K, value V) error {
	taskID, err := c.AsyncSet(key, value)
	if err != nil {
		return err
	}
	_, _, err = c.Wait(taskID, DefaultTimeout)
	return err
}

// Post synchronously inserts key/value if absent, reporting whether
// the insert happened.
func (c *Client[K, V]) Post(key K, value V) (bool, error) {
	taskID, err := c.AsyncPost(key, value)
	if err != nil {
		return false, err
	}
	_, inserted, err := c.Wait(taskID, DefaultTimeout)
	return inserted, err
}

// Del synchronously deletes key, reporting whether it was present.
func (c *Client[K, V]) Del(key K) (bool, error) {
	taskID, err := c.AsyncDel(key)
	if err != nil {
		return false, err
	}
	_, existed, err := c.Wait(taskID, DefaultTimeout)
	return existed, err
}
