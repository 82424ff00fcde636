package config

import "sync"

// Holder provides thread-safe access to a mutable *ResolvedProfile and
// the immutable config file path it was resolved from. A long-running
// command (`watch`) reads its settings through a shared Holder, so a
// SIGHUP config reload swaps them in exactly one place.
type Holder struct {
	mu      sync.RWMutex
	profile *ResolvedProfile
	path    string // immutable after construction
}

// NewHolder creates a Holder with the initial resolved profile and the
// config file path it came from.
func NewHolder(profile *ResolvedProfile, path string) *Holder {
	return &Holder{
		profile: profile,
		path:    path,
	}
}

// Profile returns the current profile snapshot. Thread-safe (read lock).
func (h *Holder) Profile() *ResolvedProfile {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.profile
}

// Path returns the config file path. Thread-safe without locking because
// the path is immutable after construction.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the profile. Thread-safe (write lock). Called on SIGHUP
// reload — one call updates settings for every consumer reading through
// this Holder.
func (h *Holder) Update(profile *ResolvedProfile) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.profile = profile
}
