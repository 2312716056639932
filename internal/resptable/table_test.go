package resptable

import (
	"sync"
	"testing"

	"github.com/shmkv/shmkv/internal/region"
)

func newTestTable(t *testing.T) *Table[int32] {
	t.Helper()
	slotSize := SlotSize[int32]()
	mem := make([]byte, uint64(region.TableCapacity)*slotSize)
	tbl := NewFromBytes[int32](mem, 0)
	tbl.Init()
	return tbl
}

func TestTableResetStartsPending(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Reset(42)
	if tbl.IsComplete(42) {
		t.Fatal("freshly reset slot should not be complete")
	}
	status, _ := tbl.ReadResult(42)
	if status != Pending {
		t.Fatalf("got status %v, want Pending", status)
	}
}

func TestTablePublishThenRead(t *testing.T) {
	tbl := newTestTable(t)
	tbl.Reset(7)
	tbl.PublishStatus(7, Success, 1234)

	if !tbl.IsComplete(7) {
		t.Fatal("expected slot to be complete after PublishStatus")
	}
	status, value := tbl.ReadResult(7)
	if status != Success || value != 1234 {
		t.Fatalf("got (%v, %d), want (Success, 1234)", status, value)
	}
}

func TestTableReuseDoesNotLeakStaleResult(t *testing.T) {
	tbl := newTestTable(t)

	firstGen := uint64(region.TableCapacity + 5) // shares a slot with taskID 5
	secondGen := uint64(5)

	tbl.Reset(firstGen)
	tbl.PublishStatus(firstGen, Success, 999)

	tbl.Reset(secondGen)
	if tbl.IsComplete(secondGen) {
		t.Fatal("reused slot should start pending for the new generation")
	}
	if tbl.IsComplete(firstGen) {
		t.Fatal("old generation's taskID should no longer own the slot")
	}
}

func TestTableConcurrentDistinctTasks(t *testing.T) {
	tbl := newTestTable(t)

	const n = 300
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uint64(i)
			tbl.Reset(id)
			tbl.PublishStatus(id, Success, int32(i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := uint64(i)
		if !tbl.IsComplete(id) {
			t.Fatalf("task %d never completed", i)
		}
		status, value := tbl.ReadResult(id)
		if status != Success || value != int32(i) {
			t.Fatalf("task %d: got (%v, %d)", i, status, value)
		}
	}
}
