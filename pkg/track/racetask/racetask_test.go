package racetask

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
)

// A short race-to-goal course in the southern Alps, coordinates as
// [lat, lon] the way the race-control application sends them.
const taskJSON = `{
  "race_title": "Test Task",
  "race_type": "racetogoal",
  "start_time": "1347704100",
  "end_time": 1347724800,
  "checkpoints": {
    "type": "FeatureCollection",
    "features": [
      {"type": "Feature",
       "geometry": {"type": "Point", "coordinates": [43.9785, 6.48]},
       "properties": {"name": "D01", "checkpoint_type": "to", "radius": 400,
         "open_time": 1347704100, "close_time": 1347724800}},
      {"type": "Feature",
       "geometry": {"type": "Point", "coordinates": [43.9785, 6.48]},
       "properties": {"name": "D01", "checkpoint_type": "ss", "radius": 3000}},
      {"type": "Feature",
       "geometry": {"type": "Point", "coordinates": [43.9388, 6.3711]},
       "properties": {"name": "B20", "checkpoint_type": "ordinal", "radius": 400}},
      {"type": "Feature",
       "geometry": {"type": "Point", "coordinates": [43.9511, 6.3708]},
       "properties": {"name": "B43", "checkpoint_type": "goal", "radius": 200}}
    ]
  }
}`

type fakeTaskState struct {
	index     int
	lifecycle string
	ended     bool
	distance  int32
	finish    int64
}

func (f fakeTaskState) CheckpointIndex() int  { return f.index }
func (f fakeTaskState) Lifecycle() string     { return f.lifecycle }
func (f fakeTaskState) HasEnded() bool        { return f.ended }
func (f fakeTaskState) FrozenDistance() int32 { return f.distance }
func (f fakeTaskState) FinishStamp() int64    { return f.finish }

func TestNewParsesTask(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	assert.Equal(t, int64(1347704100), task.StartTime)
	assert.Equal(t, int64(1347724800), task.EndTime)
	require.Len(t, task.Checkpoints, 4)
	assert.Equal(t, TypeGoal, task.Checkpoints[3].Type)
	assert.Equal(t, 3000, task.Checkpoints[1].Radius)
}

func TestNewRejectsBrokenTasks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown race type",
			raw: `{"race_type": "opendistance", "start_time": 1, "end_time": 2}`},
		{name: "no checkpoints",
			raw: `{"race_type": "racetogoal", "start_time": 1, "end_time": 2,
				"checkpoints": {"features": []}}`},
		{name: "no goal",
			raw: `{"race_type": "racetogoal", "start_time": 1, "end_time": 2,
				"checkpoints": {"features": [
				{"geometry": {"coordinates": [43.0, 6.0]},
				 "properties": {"checkpoint_type": "to", "radius": 400}},
				{"geometry": {"coordinates": [43.1, 6.1]},
				 "properties": {"checkpoint_type": "ordinal", "radius": 400}}]}}`},
		{name: "not json", raw: `race over`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestCalculatePath(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	cps := task.Checkpoints
	assert.Equal(t, int32(0), cps[len(cps)-1].Distance)
	for i := 0; i < len(cps)-1; i++ {
		assert.GreaterOrEqual(t, cps[i].Distance, cps[i+1].Distance,
			"distance to goal must not grow along the course")
	}
	// B20 to B43 is roughly 1.4 km.
	assert.InDelta(t, 1370, cps[2].Distance, 100)
}

func TestProcessStartSectionEntry(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	// Several consecutive points inside the start-section cylinder: the
	// crossing is reported once, not per point.
	points := []model.Point{
		{Lat: 43.9785, Lon: 6.48, Timestamp: 1347704200},
		{Lat: 43.9780, Lon: 6.479, Timestamp: 1347704210},
		{Lat: 43.9770, Lon: 6.478, Timestamp: 1347704220},
	}
	state := fakeTaskState{index: 0, lifecycle: "started"}

	stamped, events := task.Process(points, state, "trck-1")

	var taken, started int
	for _, ev := range events {
		switch ev.(type) {
		case eventstore.TrackCheckpointTaken:
			taken++
		case eventstore.TrackStarted:
			started++
		}
	}
	assert.Equal(t, 1, started, "start section crossed once")
	assert.Equal(t, 1, taken)
	require.Len(t, stamped, 3)
	for _, p := range stamped {
		assert.Positive(t, p.Distance)
	}
}

func TestProcessAfterGoal(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	state := fakeTaskState{index: 3, lifecycle: "finished"}
	stamped, events := task.Process([]model.Point{
		{Lat: 43.9511, Lon: 6.3708, Timestamp: 1347720000},
	}, state, "trck-1")

	assert.Empty(t, events)
	require.Len(t, stamped, 1)
	assert.Equal(t, int32(finishedDistance), stamped[0].Distance)
}

func TestProcessLandedFreezesDistance(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	state := fakeTaskState{index: 1, lifecycle: StateLanded, distance: 4200}
	stamped, events := task.Process([]model.Point{
		{Lat: 43.95, Lon: 6.40, Timestamp: 1347720000},
		{Lat: 43.96, Lon: 6.41, Timestamp: 1347720010},
	}, state, "trck-1")

	assert.Empty(t, events)
	for _, p := range stamped {
		assert.Equal(t, int32(4200), p.Distance)
	}
}

func TestProcessChecksOnlyNextCheckpoint(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	// A pilot over the goal cylinder with the ordinal B20 still pending:
	// checkpoints are taken in course order, so nothing is reported.
	state := fakeTaskState{index: 1, lifecycle: "started"}
	_, events := task.Process([]model.Point{
		{Lat: 43.9511, Lon: 6.3708, Timestamp: 1347710000},
	}, state, "trck-1")
	assert.Empty(t, events)

	// Reaching B20 afterwards takes exactly that checkpoint.
	_, events = task.Process([]model.Point{
		{Lat: 43.9388, Lon: 6.3711, Timestamp: 1347710100},
	}, state, "trck-1")
	require.Len(t, events, 1)
	taken, ok := events[0].(eventstore.TrackCheckpointTaken)
	require.True(t, ok)
	assert.Equal(t, 2, taken.Index)
}

func TestProcessGoalEmitsFinished(t *testing.T) {
	task, err := New(json.RawMessage(taskJSON))
	require.NoError(t, err)

	state := fakeTaskState{index: 2, lifecycle: "started", finish: 1347719000}
	_, events := task.Process([]model.Point{
		{Lat: 43.9511, Lon: 6.3708, Timestamp: 1347720000},
	}, state, "trck-1")

	require.Len(t, events, 2)
	assert.IsType(t, eventstore.TrackCheckpointTaken{}, events[0])
	finished, ok := events[1].(eventstore.TrackFinished)
	require.True(t, ok)
	// Finish is dated by the speed-section end, not the goal crossing.
	assert.Equal(t, int64(1347719000), finished.OccurredOn().Unix())
}
