package worker

import (
	"testing"
	"time"

	"github.com/shmkv/shmkv/internal/region"
	"github.com/shmkv/shmkv/internal/resptable"
	"github.com/shmkv/shmkv/internal/ring"
	"github.com/shmkv/shmkv/internal/store"
)

func newTestPool(t *testing.T) (*Pool[int32, int32], *ring.Ring[int32, int32], *resptable.Table[int32]) {
	t.Helper()
	ringSlotSize := ring.SlotSize[int32, int32]()
	tableSlotSize := resptable.SlotSize[int32]()

	ringMem := make([]byte, uint64(region.HeaderSize)+region.RingHeaderSize+uint64(region.QueueCapacity)*ringSlotSize)
	r := ring.NewFromBytes[int32, int32](ringMem, uint64(region.HeaderSize))
	r.Init()

	tableMem := make([]byte, uint64(region.TableCapacity)*tableSlotSize)
	tbl := resptable.NewFromBytes[int32](tableMem, 0)
	tbl.Init()

	kv := store.New[int32, int32](4)
	p := New[int32, int32](r, tbl, kv, nil)
	return p, r, tbl
}

func waitComplete(t *testing.T, tbl *resptable.Table[int32], taskID uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tbl.IsComplete(taskID) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %d never completed", taskID)
}

func TestPoolUpsertThenRead(t *testing.T) {
	p, r, tbl := newTestPool(t)
	if !p.Start(2) {
		t.Fatal("expected Start to succeed")
	}
	defer p.Stop()

	tbl.Reset(1)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdUpsert, HasValue: true, Key: 7, Value: 42, TaskID: 1}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 1)
	if status, value := tbl.ReadResult(1); status != resptable.Success || value != 42 {
		t.Fatalf("upsert: got (%v, %d)", status, value)
	}

	tbl.Reset(2)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdRead, Key: 7, TaskID: 2}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 2)
	if status, value := tbl.ReadResult(2); status != resptable.Success || value != 42 {
		t.Fatalf("read: got (%v, %d)", status, value)
	}
}

func TestPoolReadMissingKeyIsNotFound(t *testing.T) {
	p, r, tbl := newTestPool(t)
	p.Start(1)
	defer p.Stop()

	tbl.Reset(10)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdRead, Key: 999, TaskID: 10}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 10)
	if status, _ := tbl.ReadResult(10); status != resptable.NotFound {
		t.Fatalf("got %v, want NotFound", status)
	}
}

func TestPoolInsertIfAbsentRejectsDuplicate(t *testing.T) {
	p, r, tbl := newTestPool(t)
	p.Start(1)
	defer p.Stop()

	tbl.Reset(20)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdInsertIfAbsent, HasValue: true, Key: 3, Value: 1, TaskID: 20}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 20)
	if status, _ := tbl.ReadResult(20); status != resptable.Success {
		t.Fatalf("first insert: got %v, want Success", status)
	}

	tbl.Reset(21)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdInsertIfAbsent, HasValue: true, Key: 3, Value: 2, TaskID: 21}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 21)
	if status, _ := tbl.ReadResult(21); status != resptable.Failed {
		t.Fatalf("duplicate insert: got %v, want Failed", status)
	}
}

func TestPoolDeleteThenReadMisses(t *testing.T) {
	p, r, tbl := newTestPool(t)
	p.Start(1)
	defer p.Stop()

	tbl.Reset(30)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdUpsert, HasValue: true, Key: 5, Value: 55, TaskID: 30}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 30)

	tbl.Reset(31)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdDelete, Key: 5, TaskID: 31}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 31)
	if status, _ := tbl.ReadResult(31); status != resptable.Success {
		t.Fatalf("delete: got %v, want Success", status)
	}

	tbl.Reset(32)
	r.TryPush(ring.Task[int32, int32]{Cmd: ring.CmdRead, Key: 5, TaskID: 32}, ring.DefaultMaxRetries)
	waitComplete(t, tbl, 32)
	if status, _ := tbl.ReadResult(32); status != resptable.NotFound {
		t.Fatalf("read-after-delete: got %v, want NotFound", status)
	}
}

func TestPoolStartStopIdempotent(t *testing.T) {
	p, _, _ := newTestPool(t)
	if !p.Start(2) {
		t.Fatal("first Start should succeed")
	}
	if p.Start(2) {
		t.Fatal("second Start while running should be a no-op returning false")
	}
	p.Stop()
	p.Stop() // idempotent, must not panic or block
}
