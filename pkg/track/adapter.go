package track

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
	"github.com/TBoris/gorynych/pkg/track/corrector"
	"github.com/TBoris/gorynych/pkg/track/igc"
	"github.com/TBoris/gorynych/pkg/track/racetask"
)

// Track types.
const (
	TypeCompetitionAftertask = "competition_aftertask"
	TypeOnline               = "online"
)

// Adapter hides the differences between offline flight-log files and live
// tracker streams: decoding the raw batch, running the appropriate
// correction, and closing the track when its data source is exhausted.
type Adapter interface {
	Type() string
	Read(data []byte) ([]model.Point, error)
	Process(points []model.Point, task *racetask.RaceToGoal, state *State) (
		[]model.Point, error)
	Correct(t *Track) []eventstore.DomainEvent
}

func adapterFor(trackType string) (Adapter, error) {
	switch trackType {
	case TypeCompetitionAftertask:
		return &aftertaskAdapter{}, nil
	case TypeOnline:
		return &onlineAdapter{lag: onlineBufferLag}, nil
	default:
		return nil, fmt.Errorf("unknown track type %q", trackType)
	}
}

// aftertaskAdapter handles complete .igc files uploaded after the task.
type aftertaskAdapter struct{}

func (aftertaskAdapter) Type() string { return TypeCompetitionAftertask }

func (aftertaskAdapter) Read(data []byte) ([]model.Point, error) {
	return igc.Parse(data)
}

func (aftertaskAdapter) Process(points []model.Point,
	task *racetask.RaceToGoal, _ *State,
) ([]model.Point, error) {
	return corrector.CorrectTrack(points, task.StartTime, task.EndTime)
}

// Correct closes an offline track once its file is exhausted: if no landing
// was observed the track still ended with the last known point.
func (aftertaskAdapter) Correct(t *Track) []eventstore.DomainEvent {
	if t.state.Ended || len(t.points) == 0 {
		return nil
	}
	last := t.points[len(t.points)-1]
	endState := t.state.State
	if endState != StateFinished {
		endState = StateLanded
	}
	return []eventstore.DomainEvent{eventstore.TrackEnded{
		Base: eventstore.NewBase(t.ID.String(), eventstore.AggregateTrack,
			time.Unix(last.Timestamp, 0).UTC()),
		State:    endState,
		Distance: last.Distance,
	}}
}

// onlineAdapter receives live point batches from the receiver. Points are
// buffered until they are older than the lag window so the correction never
// works on a still-growing edge.
const onlineBufferLag = 60

type onlineAdapter struct {
	lag int64
}

func (onlineAdapter) Type() string { return TypeOnline }

func (onlineAdapter) Read(data []byte) ([]model.Point, error) {
	var points []model.Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("online point batch: %w", err)
	}
	return points, nil
}

func (a *onlineAdapter) Process(points []model.Point,
	task *racetask.RaceToGoal, state *State,
) ([]model.Point, error) {
	buffered := append(append([]model.Point{}, state.Buffer...), points...)
	if len(buffered) == 0 {
		return nil, corrector.ErrNoGPSData
	}
	newest := buffered[len(buffered)-1].Timestamp
	var release, hold []model.Point
	for _, p := range buffered {
		if newest-p.Timestamp >= a.lag {
			release = append(release, p)
		} else {
			hold = append(hold, p)
		}
	}
	state.Buffer = hold
	if len(release) == 0 {
		return nil, nil
	}
	return corrector.CorrectTrack(release, task.StartTime, task.EndTime)
}

// Online tracks are closed by the landing heuristic, never by data
// exhaustion.
func (onlineAdapter) Correct(*Track) []eventstore.DomainEvent { return nil }
