//go:build unix

package telemetry

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func fileIDOf(f *os.File) (fileID, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return fileID{}, fmt.Errorf("fstat %s: %w", f.Name(), err)
	}
	return fileID{Device: uint64(st.Dev), Index: uint64(st.Ino)}, nil
}
