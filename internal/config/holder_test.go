package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holderProfile(pollInterval string) *ResolvedProfile {
	return &ResolvedProfile{
		Name: "default",
		Sync: SyncConfig{PollInterval: pollInterval},
	}
}

func TestNewHolder(t *testing.T) {
	rp := holderProfile("5m")
	h := NewHolder(rp, "/etc/treesync/config.toml")

	require.NotNil(t, h)
	assert.Equal(t, rp, h.Profile())
	assert.Equal(t, "/etc/treesync/config.toml", h.Path())
}

func TestHolder_Update(t *testing.T) {
	rp1 := holderProfile("5m")
	h := NewHolder(rp1, "/tmp/config.toml")

	rp2 := holderProfile("10m")
	h.Update(rp2)

	got := h.Profile()
	assert.Equal(t, rp2, got)
	assert.NotEqual(t, rp1, got)
}

func TestHolder_PathImmutable(t *testing.T) {
	h := NewHolder(holderProfile("5m"), "/original/path.toml")

	// Path is immutable — no setter. Multiple calls return the same value.
	assert.Equal(t, "/original/path.toml", h.Path())
	assert.Equal(t, "/original/path.toml", h.Path())
}

func TestHolder_ConcurrentReadWrite(t *testing.T) {
	h := NewHolder(holderProfile("5m"), "/tmp/config.toml")

	var wg sync.WaitGroup

	// 20 concurrent readers.
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				got := h.Profile()
				assert.NotNil(t, got)
				_ = h.Path()
			}
		}()
	}

	// 5 concurrent writers.
	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				h.Update(holderProfile("1m"))
			}
		}()
	}

	wg.Wait()
}
