package livemonitor

import "sync"

// expectedMoves tracks absolute filesystem paths the executor told the
// monitor to expect a self-inflicted event on, so that event can be
// suppressed instead of re-diffed as an independent change. Keyed by raw
// fs path rather than by queued operation, since LiveMonitor has no
// notion of an operation, only of "I already know about this".
type expectedMoves struct {
	mu    sync.Mutex
	paths map[string]int // refcount: a path can be expected more than once in flight
}

func newExpectedMoves() expectedMoves {
	return expectedMoves{paths: make(map[string]int)}
}

func (e *expectedMoves) add(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths[path]++
}

// consume reports whether path was expected, clearing one registration
// if so (so a second, independent event on the same path is not
// silently swallowed).
func (e *expectedMoves) consume(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.paths[path]
	if !ok || n <= 0 {
		return false
	}

	if n == 1 {
		delete(e.paths, path)
	} else {
		e.paths[path] = n - 1
	}

	return true
}

// PreRegisterMove tells the monitor to expect (and suppress) the next
// filesystem event observed at path, an absolute path under a watched
// root. Call this immediately before performing a move/create/delete the
// executor already knows about.
func (m *Monitor) PreRegisterMove(path string) {
	m.expect.add(path)
}

// ExpectRename registers both sides of a rename/move so neither the
// source nor the destination event re-triggers a diff for something the
// executor just did.
func (m *Monitor) ExpectRename(oldPath, newPath string) {
	m.expect.add(oldPath)
	m.expect.add(newPath)
}
