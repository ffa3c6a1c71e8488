//go:build windows

package backend

import (
	"syscall"
	"unsafe"

	"github.com/xplor-dev/xplor/internal/protocol"
)

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	getLogicalDrives   = kernel32.NewProc("GetLogicalDrives")
	getDriveTypeW      = kernel32.NewProc("GetDriveTypeW")
	getVolumeInfoW     = kernel32.NewProc("GetVolumeInformationW")
	getDiskFreeSpaceEx = kernel32.NewProc("GetDiskFreeSpaceExW")
)

const (
	driveUnknown   = 0
	driveNoRootDir = 1
	driveRemovable = 2
	driveFixed     = 3
	driveRemote    = 4
	driveCDROM     = 5
)

// Drives returns available drive letters with volume labels. Volume info
// calls can block on disconnected network drives, so this runs on a request
// goroutine, never the accept loop.
func Drives() ([]protocol.Drive, error) {
	mask, _, _ := getLogicalDrives.Call()
	if mask == 0 {
		return nil, nil
	}

	var drives []protocol.Drive
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		path := string(rune('A'+i)) + ":\\"
		letter := string(path[0])

		pathPtr, _ := syscall.UTF16PtrFromString(path)
		driveType, _, _ := getDriveTypeW.Call(uintptr(unsafe.Pointer(pathPtr)))
		if driveType == driveUnknown || driveType == driveNoRootDir {
			continue
		}

		volumeName := make([]uint16, 256)
		ret, _, _ := getVolumeInfoW.Call(
			uintptr(unsafe.Pointer(pathPtr)),
			uintptr(unsafe.Pointer(&volumeName[0])),
			256,
			0, 0, 0, 0, 0,
		)

		label := letter + ":"
		if ret != 0 {
			if volName := syscall.UTF16ToString(volumeName); volName != "" {
				label = volName + " (" + letter + ":)"
			}
		}
		if label == letter+":" {
			switch driveType {
			case driveRemovable:
				label = "Removable (" + letter + ":)"
			case driveCDROM:
				label = "CD/DVD (" + letter + ":)"
			case driveRemote:
				label = "Network (" + letter + ":)"
			}
		}

		d := protocol.Drive{Path: path, Label: label}
		var free, total, totalFree uint64
		ret, _, _ = getDiskFreeSpaceEx.Call(
			uintptr(unsafe.Pointer(pathPtr)),
			uintptr(unsafe.Pointer(&free)),
			uintptr(unsafe.Pointer(&total)),
			uintptr(unsafe.Pointer(&totalFree)),
		)
		if ret != 0 {
			d.Total = total
			d.Free = free
		}

		drives = append(drives, d)
	}

	return drives, nil
}
