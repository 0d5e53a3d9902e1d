package track

import (
	"errors"
	"fmt"
	"time"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
	"github.com/TBoris/gorynych/pkg/track/corrector"
	"github.com/TBoris/gorynych/pkg/track/racetask"
)

// Track is the aggregate root. It is rebuilt from its event history, feeds
// raw batches through the correction pipeline and stages the resulting
// domain events until the service persists them.
type Track struct {
	ID ID

	state   *State
	task    *racetask.RaceToGoal
	adapter Adapter

	points  []model.Point
	changes []eventstore.DomainEvent
}

// New replays the given history into a fresh aggregate. Replayed events are
// not staged as changes.
func New(id ID, history []eventstore.PersistedEvent) (*Track, error) {
	t := &Track{
		ID:    id,
		state: NewState(id, history),
	}
	if t.state.TrackType != "" {
		if err := t.initProcessing(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Track) initProcessing() error {
	adapter, err := adapterFor(t.state.TrackType)
	if err != nil {
		return err
	}
	task, err := racetask.New(t.state.RaceTask)
	if err != nil {
		return fmt.Errorf("track %s race task: %w", t.ID, err)
	}
	t.adapter = adapter
	t.task = task
	return nil
}

// Apply mutates the state and stages the events for persistence.
func (t *Track) Apply(events ...eventstore.DomainEvent) {
	for _, ev := range events {
		t.state.Mutate(ev)
		t.changes = append(t.changes, ev)
	}
}

// Create starts the aggregate's life. It must be the first event of a track.
func (t *Track) Create(trackType string, raceTask []byte) error {
	if t.state.TrackType != "" {
		return fmt.Errorf("track %s already created as %s",
			t.ID, t.state.TrackType)
	}
	ev := eventstore.TrackCreated{
		Base: eventstore.NewBase(t.ID.String(), eventstore.AggregateTrack,
			time.Now().UTC()),
		TrackType: trackType,
		RaceTask:  raceTask,
	}
	t.Apply(ev)
	return t.initProcessing()
}

// ProcessData runs one raw batch through the full pipeline: decode, correct,
// detect takeoff and landing, evaluate the race task, then let the adapter
// close the track if its source is exhausted. Corrected, stamped points
// accumulate on the aggregate for the repository to flush.
func (t *Track) ProcessData(data []byte) error {
	if t.adapter == nil {
		return fmt.Errorf("track %s has no type, create it first", t.ID)
	}
	raw, err := t.adapter.Read(data)
	if err != nil {
		return err
	}
	corrected, err := t.adapter.Process(raw, t.task, t.state)
	if err != nil {
		if errors.Is(err, corrector.ErrNoGPSData) {
			return err
		}
		return fmt.Errorf("track %s correction: %w", t.ID, err)
	}
	if len(corrected) > 0 {
		t.Apply(newSkyEarth(t.state).StateWork(corrected)...)

		stamped, events := t.task.Process(corrected, t.state, t.ID.String())
		t.Apply(events...)
		t.points = append(t.points, stamped...)
	}
	t.Apply(t.adapter.Correct(t)...)
	return nil
}

// Changes returns the staged events in application order.
func (t *Track) Changes() []eventstore.DomainEvent { return t.changes }

// Points returns the corrected points accumulated since the last Reset.
func (t *Track) Points() []model.Point { return t.points }

// State exposes the replayed state for read-side consumers.
func (t *Track) State() *State { return t.state }

// Reset drops staged changes and accumulated points after persistence.
func (t *Track) Reset() {
	t.changes = nil
	t.points = nil
}
