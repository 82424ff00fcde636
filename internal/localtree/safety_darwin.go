//go:build darwin

package localtree

import "syscall"

// getDiskSpace returns available bytes on the volume containing path.
// Bavail counts blocks available to unprivileged users, excluding the
// root-reserved pool Bfree would include.
func getDiskSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}
