package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquireInstanceLock takes an exclusive, non-blocking flock on
// <lockDir>/<profile>.lock. Returns a release function; the caller
// defers it. Guards `apply`/`watch` invocations against the same cache
// dir from racing the store's single-writer connection.
func acquireInstanceLock(lockDir, profileName string) (release func(), err error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	lockPath := filepath.Join(lockDir, profileName+".lock")
	lock := flock.New(lockPath)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring instance lock %s: %w", lockPath, err)
	}

	if !locked {
		return nil, fmt.Errorf("another treesync apply/watch is already running against profile %q (lock held at %s)", profileName, lockPath)
	}

	return func() { _ = lock.Unlock() }, nil
}
