package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/eventstore"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestForwarderPublishesDispatchedEvents(t *testing.T) {
	url := startTestNATS(t)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("gorynych.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	forwarder := NewNatsForwarder(nc)
	occurred := time.Unix(1347704600, 0).UTC()
	err = forwarder.Handle(context.Background(), eventstore.PersistedEvent{
		Seq: 7,
		Event: eventstore.TrackEnded{
			Base:     eventstore.NewBase("track-1", eventstore.AggregateTrack, occurred),
			State:    "landed",
			Distance: 12500,
		},
	})
	require.NoError(t, err)

	msg, err := sub.NextMsg(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "gorynych.events.track.TrackEnded", msg.Subject)

	var fwd ForwardedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &fwd))
	assert.Equal(t, int64(7), fwd.Seq)
	assert.Equal(t, "TrackEnded", fwd.EventName)
	assert.Equal(t, "track-1", fwd.AggregateID)
	assert.Equal(t, eventstore.AggregateTrack, fwd.AggregateType)
	assert.Equal(t, occurred, fwd.OccurredOn)

	var payload eventstore.TrackEnded
	require.NoError(t, json.Unmarshal(fwd.Payload, &payload))
	assert.Equal(t, "landed", payload.State)
	assert.Equal(t, int32(12500), payload.Distance)
}
