package track

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
)

const trackTaskJSON = `{
  "race_type": "racetogoal",
  "start_time": 1347704100,
  "end_time": 1347724800,
  "checkpoints": {"features": [
    {"geometry": {"coordinates": [43.9785, 6.48]},
     "properties": {"checkpoint_type": "to", "radius": 400}},
    {"geometry": {"coordinates": [43.9785, 6.48]},
     "properties": {"checkpoint_type": "ss", "radius": 3000}},
    {"geometry": {"coordinates": [43.9511, 6.3708]},
     "properties": {"checkpoint_type": "goal", "radius": 200}}
  ]}
}`

func onlineBatch(t *testing.T, points []model.Point) []byte {
	t.Helper()
	data, err := json.Marshal(points)
	require.NoError(t, err)
	return data
}

func TestTrackCreate(t *testing.T) {
	tr, err := New(NewID(), nil)
	require.NoError(t, err)

	require.NoError(t, tr.Create(TypeOnline, []byte(trackTaskJSON)))
	require.Len(t, tr.Changes(), 1)
	created, ok := tr.Changes()[0].(eventstore.TrackCreated)
	require.True(t, ok)
	assert.Equal(t, TypeOnline, created.TrackType)

	assert.Error(t, tr.Create(TypeOnline, []byte(trackTaskJSON)),
		"second create must be rejected")
}

func TestTrackCreateUnknownType(t *testing.T) {
	tr, err := New(NewID(), nil)
	require.NoError(t, err)
	assert.Error(t, tr.Create("submarine", []byte(trackTaskJSON)))
}

func TestTrackRestoredFromHistory(t *testing.T) {
	id := NewID()
	history := persisted([]eventstore.DomainEvent{
		eventstore.TrackCreated{Base: base(id, 1347704100), TrackType: TypeOnline,
			RaceTask: json.RawMessage(trackTaskJSON)},
		eventstore.TrackStarted{Base: base(id, 1347704200)},
	})

	tr, err := New(id, history)
	require.NoError(t, err)
	assert.Empty(t, tr.Changes(), "replayed events are not staged")
	assert.Equal(t, StateStarted, tr.State().State)
}

func TestTrackProcessDataOnline(t *testing.T) {
	tr, err := New(NewID(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Create(TypeOnline, []byte(trackTaskJSON)))
	tr.Reset()

	// Two minutes of points near the start cylinder. The newest minute
	// stays buffered until more data arrives.
	var points []model.Point
	for i := 0; i < 12; i++ {
		points = append(points, model.Point{
			Lat:       43.99 + float64(i)*0.0001,
			Lon:       6.48,
			Alt:       600 + i,
			Timestamp: 1347704200 + int64(i*10),
		})
	}
	require.NoError(t, tr.ProcessData(onlineBatch(t, points)))

	released := tr.Points()
	require.NotEmpty(t, released)
	assert.Less(t, len(released), len(points))
	assert.NotEmpty(t, tr.State().Buffer, "fresh points stay buffered")

	assert.Equal(t, float64(1), released[0].HSpeed)
	assert.Equal(t, float64(1), released[0].VSpeed)
	for _, p := range released {
		assert.Positive(t, p.Distance, "every released point carries a distance")
	}

	var started bool
	for _, ev := range tr.Changes() {
		if _, ok := ev.(eventstore.TrackStarted); ok {
			started = true
		}
	}
	assert.True(t, started, "entering the start cylinder starts the track")

	tr.Reset()
	assert.Empty(t, tr.Changes())
	assert.Empty(t, tr.Points())
}

func TestTrackProcessDataWithoutCreate(t *testing.T) {
	tr, err := New(NewID(), nil)
	require.NoError(t, err)
	assert.Error(t, tr.ProcessData([]byte(`[]`)))
}

func TestTrackProcessDataBadPayload(t *testing.T) {
	tr, err := New(NewID(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Create(TypeOnline, []byte(trackTaskJSON)))

	err = tr.ProcessData([]byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "point batch")
}
