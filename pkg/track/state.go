package track

import (
	"encoding/json"
	"time"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
)

// Lifecycle states of a track.
const (
	StateNotStarted = "not started"
	StateStarted    = "started"
	StateFinished   = "finished"
	StateLanded     = "landed"
)

// State is the memento of a Track aggregate, reconstructed solely from its
// event history. Mutate is the only way to change it.
type State struct {
	ID ID

	// Time when track speed crossed the fast/slow threshold.
	BecomeFast time.Time
	BecomeSlow time.Time
	SlowAlt    int

	TrackType string
	RaceTask  json.RawMessage

	LastCheckpoint int
	State          string
	StateChangedAt time.Time

	Started bool
	InAir   bool
	Ended   bool

	StartTime time.Time
	EndTime   time.Time
	// Finish time as reported by the speed-section end, kept separately
	// from the finished transition.
	FinishTime int64

	LastDistance int32

	// Buffer for raw online points awaiting enough lag to be corrected.
	Buffer []model.Point
}

func NewState(id ID, history []eventstore.PersistedEvent) *State {
	s := &State{ID: id, State: StateNotStarted}
	for _, pe := range history {
		s.Mutate(pe.Event)
	}
	return s
}

// Mutate applies a single event. Transitions are idempotent and
// duplicate/out-of-order safe: TrackStarted only acts once, checkpoint
// indexes only grow, finished is sticky.
//
//nolint:cyclop // exhaustive switch over the event union
func (s *State) Mutate(ev eventstore.DomainEvent) {
	switch e := ev.(type) {
	case eventstore.TrackCreated:
		s.TrackType = e.TrackType
		s.RaceTask = e.RaceTask
	case eventstore.TrackCheckpointTaken:
		if s.LastCheckpoint < e.Index {
			s.LastCheckpoint = e.Index
		}
	case eventstore.TrackStarted:
		if !s.Started {
			s.State = StateStarted
			s.StartTime = e.OccurredOn()
			s.StateChangedAt = e.OccurredOn()
			s.Started = true
		}
	case eventstore.TrackEnded:
		if s.State != StateFinished {
			s.State = e.State
			s.StateChangedAt = e.OccurredOn()
		}
		s.Ended = true
		s.EndTime = e.OccurredOn()
		s.LastDistance = e.Distance
	case eventstore.TrackFinished:
		if s.State != StateFinished {
			s.State = StateFinished
			s.StateChangedAt = e.OccurredOn()
		}
	case eventstore.TrackFinishTimeReceived:
		s.FinishTime = e.Timestamp
	case eventstore.TrackInAir:
		s.InAir = true
	case eventstore.TrackSlowedDown:
		s.BecomeFast = time.Time{}
		s.BecomeSlow = e.OccurredOn()
		s.SlowAlt = e.Alt
	case eventstore.TrackSpeedExceeded:
		s.BecomeSlow = time.Time{}
		s.BecomeFast = e.OccurredOn()
	case eventstore.TrackLanded:
		s.InAir = false
		if s.State != StateFinished {
			s.State = StateLanded
			s.LastDistance = e.Distance
			s.StateChangedAt = e.OccurredOn()
		}
	}
}

// Snapshot returns the externally visible state, stored in the snapshot
// table for fast "most recent known state" reads.
type Snapshot struct {
	State          string    `json:"state"`
	StateChangedAt time.Time `json:"statechanged_at"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{State: s.State, StateChangedAt: s.StateChangedAt}
}

// The read-only view consumed by the race-task evaluator.

func (s *State) CheckpointIndex() int { return s.LastCheckpoint }
func (s *State) Lifecycle() string    { return s.State }
func (s *State) HasEnded() bool       { return s.Ended }
func (s *State) FrozenDistance() int32 {
	return s.LastDistance
}
func (s *State) FinishStamp() int64 { return s.FinishTime }
