package region

import (
	"fmt"
	"os"
	"path/filepath"
)

// platform-specific hooks, wired by mmap_unix.go / mmap_other.go.
var (
	mmapFile   func(f *os.File, size int) ([]byte, error)
	munmapFile func(mem []byte) error
)

// Segment is a server-created or client-opened mapping of a named
// shmkv region. The server creates it with O_EXCL so two servers can
// never coexist on one name (spec.md section 9's "region name is a
// singleton"); clients open it read-write without creating.
type Segment struct {
	File *os.File
	Mem  []byte
	Name string
	Path string
}

// segmentPath mirrors the retrieved grpc-go shm transport's own path
// selection: prefer /dev/shm, the Linux tmpfs convention for POSIX
// shared memory objects, and fall back to the OS temp directory on
// platforms without it.
func segmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "shmkv_"+name)
	}
	return filepath.Join(os.TempDir(), "shmkv_"+name)
}

// Create builds a brand-new region sized for the given ring/table slot
// sizes, zero-initializes it, and writes the header. Only the server
// calls Create; clients call Open.
func Create(name string, ringSlotSize, tableSlotSize uint64) (*Segment, error) {
	layout := ComputeLayout(ringSlotSize, tableSlotSize)
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("region: create %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(int64(layout.TotalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("region: resize %s: %w", path, err)
	}
	mem, err := mmapFile(file, int(layout.TotalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("region: mmap %s: %w", path, err)
	}

	InitHeader(mem, layout)
	h := HeaderAt(mem)
	h.SetServerPID(uint32(os.Getpid()))
	h.SetServerReady(true)

	return &Segment{File: file, Mem: mem, Name: name, Path: path}, nil
}

// Open maps an existing region created by Create and validates its
// header before returning it to the caller.
func Open(name string, ringSlotSize, tableSlotSize uint64) (*Segment, error) {
	path := segmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("region: stat %s: %w", path, err)
	}
	if info.Size() < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("region: %s too small: %d bytes", path, info.Size())
	}
	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("region: mmap %s: %w", path, err)
	}
	if err := Validate(mem, ringSlotSize, tableSlotSize); err != nil {
		munmapFile(mem)
		file.Close()
		return nil, err
	}

	return &Segment{File: file, Mem: mem, Name: name, Path: path}, nil
}

// Close unmaps the segment and closes its file descriptor. It does not
// remove the backing file — only Unlink (server-only) does that.
func (s *Segment) Close() error {
	var firstErr error
	if s.Mem != nil {
		if err := munmapFile(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}
	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}
	return firstErr
}

// Unlink removes the backing file for name. Only the server calls
// this, on clean shutdown, per spec.md section 3's lifecycle note
// ("On server termination the region is unmapped and unlinked").
func Unlink(name string) error {
	path := segmentPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("region: unlink %s: %w", path, err)
	}
	return nil
}
