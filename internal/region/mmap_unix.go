//go:build linux || darwin

package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func init() {
	mmapFile = mmapFileUnix
	munmapFile = munmapFileUnix
}

func mmapFileUnix(f *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("region: mmap: %w", err)
	}
	return mem, nil
}

func munmapFileUnix(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("region: munmap: %w", err)
	}
	return nil
}
