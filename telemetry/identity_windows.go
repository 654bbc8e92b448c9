//go:build windows

package telemetry

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func fileIDOf(f *os.File) (fileID, error) {
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(windows.Handle(f.Fd()), &info); err != nil {
		return fileID{}, fmt.Errorf("file information %s: %w", f.Name(), err)
	}
	return fileID{
		Device: uint64(info.VolumeSerialNumber),
		Index:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
	}, nil
}
