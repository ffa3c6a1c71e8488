//go:build linux

package backend

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/xplor-dev/xplor/internal/protocol"
)

// Drives returns mounted volumes worth showing, parsed from /proc/mounts.
func Drives() ([]protocol.Drive, error) {
	drives := []protocol.Drive{driveFor("/ (Root)", "/")}

	file, err := os.Open("/proc/mounts")
	if err != nil {
		return drives, nil
	}
	defer file.Close()

	seen := map[string]bool{"/": true}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		mountPoint := fields[1]
		fsType := ""
		if len(fields) >= 3 {
			fsType = fields[2]
		}

		// Skip virtual filesystems.
		if strings.HasPrefix(mountPoint, "/sys") ||
			strings.HasPrefix(mountPoint, "/proc") ||
			strings.HasPrefix(mountPoint, "/dev") ||
			strings.HasPrefix(mountPoint, "/run") ||
			strings.HasPrefix(mountPoint, "/snap") ||
			fsType == "tmpfs" ||
			fsType == "devtmpfs" ||
			fsType == "cgroup" ||
			fsType == "cgroup2" {
			continue
		}
		if seen[mountPoint] {
			continue
		}
		seen[mountPoint] = true

		label := mountPoint
		if strings.HasPrefix(mountPoint, "/media/") || strings.HasPrefix(mountPoint, "/mnt/") {
			label = filepath.Base(mountPoint)
		} else if mountPoint == "/home" {
			label = "Home"
		}
		drives = append(drives, driveFor(label, mountPoint))
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
