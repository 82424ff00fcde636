//go:build linux

package localtree

import "golang.org/x/sys/unix"

// getDiskSpace returns available bytes on the volume containing path.
// unix.Statfs normalizes the field types that syscall.Statfs leaves
// architecture-dependent. Bavail counts blocks available to unprivileged
// users, excluding the root-reserved pool Bfree would include.
func getDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}

	// Bavail and Bsize are int64 on Linux, never negative from the kernel.
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:gosec // kernel guarantees non-negative values
}
