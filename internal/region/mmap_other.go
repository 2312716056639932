//go:build !linux && !darwin

package region

import (
	"fmt"
	"os"
	"runtime"
)

func init() {
	mmapFile = mmapFileUnsupported
	munmapFile = munmapFileUnsupported
}

func mmapFileUnsupported(f *os.File, size int) ([]byte, error) {
	return nil, fmt.Errorf("region: shared memory mapping not implemented on %s", runtime.GOOS)
}

func munmapFileUnsupported(mem []byte) error {
	return fmt.Errorf("region: shared memory mapping not implemented on %s", runtime.GOOS)
}
