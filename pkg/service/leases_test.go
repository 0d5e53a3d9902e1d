package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeaseBlocksWhileLive(t *testing.T) {
	leases := NewLeases(100 * time.Second)
	assert.True(t, leases.Acquire("trackfile-1"))
	assert.False(t, leases.Acquire("trackfile-1"))
	assert.True(t, leases.Acquire("trackfile-2"))
}

func TestLeaseExpires(t *testing.T) {
	now := time.Unix(1347704100, 0)
	leases := NewLeases(100 * time.Second)
	leases.now = func() time.Time { return now }

	assert.True(t, leases.Acquire("key"))
	now = now.Add(99 * time.Second)
	assert.False(t, leases.Acquire("key"))
	now = now.Add(2 * time.Second)
	assert.True(t, leases.Acquire("key"))
}

func TestLeaseRelease(t *testing.T) {
	leases := NewLeases(time.Hour)
	assert.True(t, leases.Acquire("key"))
	leases.Release("key")
	assert.True(t, leases.Acquire("key"))
}
