//go:build darwin

package backend

import (
	"os"
	"syscall"

	"github.com/xplor-dev/xplor/internal/protocol"
)

// Drives returns mounted volumes from /Volumes. The boot volume appears as a
// symlink to / and is listed first.
func Drives() ([]protocol.Drive, error) {
	entries, err := os.ReadDir("/Volumes")
	if err != nil {
		return []protocol.Drive{driveFor("Macintosh HD", "/")}, nil
	}

	var drives []protocol.Drive
	for _, e := range entries {
		fullPath := "/Volumes/" + e.Name()

		if target, err := os.Readlink(fullPath); err == nil && target == "/" {
			drives = append([]protocol.Drive{driveFor(e.Name(), "/")}, drives...)
			continue
		}
		if info, err := os.Stat(fullPath); err != nil || !info.IsDir() {
			continue
		}
		drives = append(drives, driveFor(e.Name(), fullPath))
	}

	if len(drives) == 0 {
		return []protocol.Drive{driveFor("Macintosh HD", "/")}, nil
	}
	return drives, nil
}

func driveFor(label, path string) protocol.Drive {
	d := protocol.Drive{Path: path, Label: label}
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err == nil {
		d.Total = st.Blocks * uint64(st.Bsize)
		d.Free = st.Bavail * uint64(st.Bsize)
	}
	return d
}
