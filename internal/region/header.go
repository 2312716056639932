package region

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Layout constants shared by every instantiation of the store. Ring
// and table slot sizes depend on the chosen K/V types and are computed
// by the ring/resptable packages at Layout time.
const (
	// Magic identifies a valid shmkv region.
	Magic = "SHMKV001"

	// Version is the current region layout version.
	Version = uint32(1)

	// HeaderSize is the fixed, cache-aligned size of Header.
	HeaderSize = 128

	// QueueCapacity is the request ring's fixed slot count (spec
	// QUEUE_CAPACITY). Must stay a power of two for mask arithmetic.
	QueueCapacity = 1024

	// TableCapacity is the response table's fixed slot count (spec
	// TABLE_CAPACITY).
	TableCapacity = 1024

	// RingHeaderSize is sizeof(ring.Header): the ring's own
	// cache-line-padded head/tail/version control block that sits
	// before its slot array. internal/region cannot import
	// internal/ring (ring imports region, not the other way around),
	// so this constant mirrors ring.Header's layout by hand; ring's
	// own tests assert unsafe.Sizeof(Header{}) against it so the two
	// packages can't silently drift apart.
	RingHeaderSize = 192

	// Signal values broadcast by the server and polled by clients.
	SignalRun       uint32 = 0
	SignalPause     uint32 = 1
	SignalTerminate uint32 = 2
)

// Header sits at offset 0 of the shared region. All multi-byte fields
// are native-endian and accessed through atomic load/store so that
// construction by the server and observation by clients never race.
type Header struct {
	magic         [8]byte
	version       uint32
	flags         uint32
	totalSize     uint64
	ringOffset    uint64
	ringCapacity  uint64
	tableOffset   uint64
	tableCapacity uint64
	serverPID     uint32
	clientCount   uint32
	serverReady   uint32
	closed        uint32
	signal        uint32
	pad           uint32
	reserved      [48]byte // pads Header to HeaderSize (128) bytes
}

func (h *Header) Magic() [8]byte { return h.magic }
func (h *Header) SetMagic(m [8]byte) { h.magic = m }

func (h *Header) Version() uint32       { return atomic.LoadUint32(&h.version) }
func (h *Header) SetVersion(v uint32)   { atomic.StoreUint32(&h.version, v) }

func (h *Header) TotalSize() uint64     { return atomic.LoadUint64(&h.totalSize) }
func (h *Header) SetTotalSize(v uint64) { atomic.StoreUint64(&h.totalSize, v) }

func (h *Header) RingOffset() uint64     { return atomic.LoadUint64(&h.ringOffset) }
func (h *Header) SetRingOffset(v uint64) { atomic.StoreUint64(&h.ringOffset, v) }

func (h *Header) RingCapacity() uint64     { return atomic.LoadUint64(&h.ringCapacity) }
func (h *Header) SetRingCapacity(v uint64) { atomic.StoreUint64(&h.ringCapacity, v) }

func (h *Header) TableOffset() uint64     { return atomic.LoadUint64(&h.tableOffset) }
func (h *Header) SetTableOffset(v uint64) { atomic.StoreUint64(&h.tableOffset, v) }

func (h *Header) TableCapacity() uint64     { return atomic.LoadUint64(&h.tableCapacity) }
func (h *Header) SetTableCapacity(v uint64) { atomic.StoreUint64(&h.tableCapacity, v) }

func (h *Header) ServerPID() uint32     { return atomic.LoadUint32(&h.serverPID) }
func (h *Header) SetServerPID(v uint32) { atomic.StoreUint32(&h.serverPID, v) }

func (h *Header) ClientCount() uint32 { return atomic.LoadUint32(&h.clientCount) }
func (h *Header) AddClient() uint32   { return atomic.AddUint32(&h.clientCount, 1) }
func (h *Header) RemoveClient() uint32 {
	return atomic.AddUint32(&h.clientCount, ^uint32(0)) // -1
}

func (h *Header) ServerReady() bool { return atomic.LoadUint32(&h.serverReady) != 0 }
func (h *Header) SetServerReady(ready bool) {
	atomic.StoreUint32(&h.serverReady, boolToUint32(ready))
}

func (h *Header) Closed() bool { return atomic.LoadUint32(&h.closed) != 0 }
func (h *Header) SetClosed(closed bool) {
	atomic.StoreUint32(&h.closed, boolToUint32(closed))
}

// Signal returns the current lifecycle signal (SignalRun, SignalPause,
// or SignalTerminate). Clients poll this between operations and on
// interrupt of a blocking wait, per spec.md section 6.
func (h *Header) Signal() uint32     { return atomic.LoadUint32(&h.signal) }
func (h *Header) SetSignal(v uint32) { atomic.StoreUint32(&h.signal, v) }

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Layout describes the computed byte offsets and sizes for a region
// built around a particular ring slot size and response slot size.
type Layout struct {
	TotalSize     uint64
	RingOffset    uint64
	RingSlotSize  uint64
	TableOffset   uint64
	TableSlotSize uint64
}

// ComputeLayout lays the ring out immediately after the header and the
// response table immediately after the ring, each section aligned to a
// 64-byte boundary exactly as the retrieved grpc-go shared-memory
// transport aligns its ring headers after its segment header. The
// ring section reserves RingHeaderSize bytes for the ring's own
// head/tail/version control block before its slot array starts.
func ComputeLayout(ringSlotSize, tableSlotSize uint64) Layout {
	ringOff := align64(HeaderSize)
	ringBytes := RingHeaderSize + uint64(QueueCapacity)*ringSlotSize
	tableOff := align64(ringOff + ringBytes)
	tableBytes := uint64(TableCapacity) * tableSlotSize
	total := align64(tableOff + tableBytes)
	return Layout{
		TotalSize:     total,
		RingOffset:    ringOff,
		RingSlotSize:  ringSlotSize,
		TableOffset:   tableOff,
		TableSlotSize: tableSlotSize,
	}
}

func align64(n uint64) uint64 { return (n + 63) &^ 63 }

// HeaderAt returns a typed view of the Header at the base of mem.
// mem must be at least HeaderSize bytes and must come from a mapping
// the caller keeps alive for the lifetime of the returned pointer.
func HeaderAt(mem []byte) *Header {
	return (*Header)(unsafe.Pointer(&mem[0]))
}

// Validate checks that mem begins with a well-formed Header matching
// the expected layout for the caller's chosen ring/table slot sizes.
func Validate(mem []byte, ringSlotSize, tableSlotSize uint64) error {
	if len(mem) < HeaderSize {
		return fmt.Errorf("region: mapping too small: %d bytes", len(mem))
	}
	h := HeaderAt(mem)
	if string(h.magic[:]) != Magic {
		return fmt.Errorf("region: bad magic %q", h.magic[:])
	}
	if h.Version() != Version {
		return fmt.Errorf("region: unsupported version %d, want %d", h.Version(), Version)
	}
	want := ComputeLayout(ringSlotSize, tableSlotSize)
	if h.TotalSize() != want.TotalSize {
		return fmt.Errorf("region: total size mismatch: got %d, want %d", h.TotalSize(), want.TotalSize)
	}
	if h.RingOffset() != want.RingOffset || h.RingCapacity() != QueueCapacity {
		return fmt.Errorf("region: ring layout mismatch")
	}
	if h.TableOffset() != want.TableOffset || h.TableCapacity() != TableCapacity {
		return fmt.Errorf("region: table layout mismatch")
	}
	if uint64(len(mem)) < want.TotalSize {
		return fmt.Errorf("region: mapping shorter than header claims: %d < %d", len(mem), want.TotalSize)
	}
	return nil
}

// InitHeader zero-fills and then populates a freshly created region's
// header. Called once by the server; clients only ever read it.
func InitHeader(mem []byte, layout Layout) *Header {
	h := HeaderAt(mem)
	magic := [8]byte{}
	copy(magic[:], Magic)
	h.SetMagic(magic)
	h.SetVersion(Version)
	h.SetTotalSize(layout.TotalSize)
	h.SetRingOffset(layout.RingOffset)
	h.SetRingCapacity(QueueCapacity)
	h.SetTableOffset(layout.TableOffset)
	h.SetTableCapacity(TableCapacity)
	h.SetSignal(SignalRun)
	return h
}
