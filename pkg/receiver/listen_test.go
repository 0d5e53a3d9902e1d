package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPSessionEviction(t *testing.T) {
	clock := time.Unix(1347704100, 0)
	sessions := newUDPSessions(10 * time.Minute)
	sessions.now = func() time.Time { return clock }

	sessions.put("10.0.0.1:4000", ackParser{})
	sessions.put("10.0.0.2:4000", ackParser{})

	clock = clock.Add(5 * time.Minute)
	_, ok := sessions.get("10.0.0.1:4000")
	require.True(t, ok)

	// .2 has been silent for 13 minutes, .1 for 8
	clock = clock.Add(8 * time.Minute)
	_, ok = sessions.get("10.0.0.2:4000")
	assert.False(t, ok)
	_, ok = sessions.get("10.0.0.1:4000")
	assert.True(t, ok)
}

func TestUDPSessionSweep(t *testing.T) {
	clock := time.Unix(1347704100, 0)
	sessions := newUDPSessions(10 * time.Minute)
	sessions.now = func() time.Time { return clock }

	sessions.put("10.0.0.1:4000", ackParser{})
	sessions.put("10.0.0.2:4000", ackParser{})
	require.Len(t, sessions.entries, 2)

	// a lookup for one address drops every stale entry
	clock = clock.Add(11 * time.Minute)
	_, ok := sessions.get("10.0.0.1:4000")
	assert.False(t, ok)
	assert.Empty(t, sessions.entries)
}
