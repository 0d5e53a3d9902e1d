package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TBoris/gorynych/pkg/model"
)

// Aggregate types used across the system.
const (
	AggregateTrack  = "track"
	AggregateRace   = "race"
	AggregatePerson = "person"
)

// DomainEvent is an immutable fact appended to the event log. Concrete events
// form a closed set; the store refuses names outside the registry.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	AggregateType() string
	OccurredOn() time.Time
	// Payload returns the serialized event-specific payload.
	Payload() ([]byte, error)
}

// PersistedEvent is a DomainEvent together with its store-assigned sequence
// id. Sequence order equals append order and is the global dispatch and
// replay order.
type PersistedEvent struct {
	Seq   int64
	Event DomainEvent
}

// Base carries the envelope fields shared by all events.
type Base struct {
	AggrID   string    `json:"-"`
	AggrType string    `json:"-"`
	Occurred time.Time `json:"-"`
}

func NewBase(aggregateID, aggregateType string, occurredOn time.Time) Base {
	return Base{AggrID: aggregateID, AggrType: aggregateType, Occurred: occurredOn}
}

func (b Base) AggregateID() string    { return b.AggrID }
func (b Base) AggregateType() string  { return b.AggrType }
func (b Base) OccurredOn() time.Time  { return b.Occurred }

// TrackCreated starts the life of a Track aggregate. RaceTask carries the
// course definition as received from the race-control application.
type TrackCreated struct {
	Base
	TrackType string          `json:"track_type"`
	RaceTask  json.RawMessage `json:"race_task"`
}

func (TrackCreated) EventName() string { return "TrackCreated" }

// TrackStarted is idempotent: only its first occurrence changes state.
type TrackStarted struct {
	Base
}

func (TrackStarted) EventName() string { return "TrackStarted" }

// TrackCheckpointTaken advances the checkpoint index; out-of-order or
// duplicate deliveries are absorbed by the monotonic mutate rule.
type TrackCheckpointTaken struct {
	Base
	Index    int   `json:"index"`
	Distance int32 `json:"distance"`
}

func (TrackCheckpointTaken) EventName() string { return "TrackCheckpointTaken" }

type TrackSpeedExceeded struct {
	Base
}

func (TrackSpeedExceeded) EventName() string { return "TrackSpeedExceeded" }

type TrackSlowedDown struct {
	Base
	// Altitude at the moment the pilot became slow; the landing heuristic
	// compares later samples against it.
	Alt int `json:"alt"`
}

func (TrackSlowedDown) EventName() string { return "TrackSlowedDown" }

// TrackEnded closes a track with the carried state unless the track already
// finished.
type TrackEnded struct {
	Base
	State    string `json:"state"`
	Distance int32  `json:"distance"`
}

func (TrackEnded) EventName() string { return "TrackEnded" }

// TrackFinished forces the sticky finished state.
type TrackFinished struct {
	Base
}

func (TrackFinished) EventName() string { return "TrackFinished" }

// TrackFinishTimeReceived records the precise finish time separately from the
// finished transition (taken at the end of the speed section).
type TrackFinishTimeReceived struct {
	Base
	Timestamp int64 `json:"timestamp"`
}

func (TrackFinishTimeReceived) EventName() string { return "TrackFinishTimeReceived" }

type TrackLanded struct {
	Base
	Distance int32 `json:"distance"`
}

func (TrackLanded) EventName() string { return "TrackLanded" }

type TrackInAir struct {
	Base
}

func (TrackInAir) EventName() string { return "TrackInAir" }

// TrackWasNotParsed records a data-quality failure (for example a track file
// without GPS altitude) in the event log instead of dropping it silently.
type TrackWasNotParsed struct {
	Base
	ContestNumber string `json:"contest_number"`
	Reason        string `json:"reason"`
}

func (TrackWasNotParsed) EventName() string { return "TrackWasNotParsed" }

// ArchiveURLReceived notifies the processing system that a track archive has
// been uploaded for a race.
type ArchiveURLReceived struct {
	Base
	URL string `json:"url"`
}

func (ArchiveURLReceived) EventName() string { return "ArchiveURLReceived" }

type ParagliderFoundInArchive struct {
	Base
	model.ParagliderTrackfile
}

func (ParagliderFoundInArchive) EventName() string { return "ParagliderFoundInArchive" }

type TrackArchiveUnpacked struct {
	Base
	model.ArchiveInfo
}

func (TrackArchiveUnpacked) EventName() string { return "TrackArchiveUnpacked" }

type TrackArchiveParsed struct {
	Base
}

func (TrackArchiveParsed) EventName() string { return "TrackArchiveParsed" }

type RaceGotTrack struct {
	Base
	TrackID       string `json:"track_id"`
	TrackType     string `json:"track_type"`
	ContestNumber string `json:"contest_number"`
}

func (RaceGotTrack) EventName() string { return "RaceGotTrack" }

type PersonGotTrack struct {
	Base
	TrackID string `json:"track_id"`
}

func (PersonGotTrack) EventName() string { return "PersonGotTrack" }

// TrackerAssigned puts a device at a person's disposal for a race. The
// aggregate is the person; the payload names the device and the race whose
// task the resulting live track follows.
type TrackerAssigned struct {
	Base
	TrackerID     string `json:"tracker_id"`
	RaceID        string `json:"race_id"`
	ContestNumber string `json:"contest_number"`
}

func (TrackerAssigned) EventName() string { return "TrackerAssigned" }

// TrackerUnAssigned takes the device back; its live track stops growing.
type TrackerUnAssigned struct {
	Base
	TrackerID string `json:"tracker_id"`
}

func (TrackerUnAssigned) EventName() string { return "TrackerUnAssigned" }

// Payload implementations marshal the event structs themselves; the envelope
// fields are excluded via json tags on Base.

func payload(ev any) ([]byte, error) { return json.Marshal(ev) }

func (e TrackCreated) Payload() ([]byte, error)             { return payload(e) }
func (e TrackStarted) Payload() ([]byte, error)             { return payload(e) }
func (e TrackCheckpointTaken) Payload() ([]byte, error)     { return payload(e) }
func (e TrackSpeedExceeded) Payload() ([]byte, error)       { return payload(e) }
func (e TrackSlowedDown) Payload() ([]byte, error)          { return payload(e) }
func (e TrackEnded) Payload() ([]byte, error)               { return payload(e) }
func (e TrackFinished) Payload() ([]byte, error)            { return payload(e) }
func (e TrackFinishTimeReceived) Payload() ([]byte, error)  { return payload(e) }
func (e TrackLanded) Payload() ([]byte, error)              { return payload(e) }
func (e TrackInAir) Payload() ([]byte, error)               { return payload(e) }
func (e TrackWasNotParsed) Payload() ([]byte, error)        { return payload(e) }
func (e ArchiveURLReceived) Payload() ([]byte, error)       { return payload(e) }
func (e ParagliderFoundInArchive) Payload() ([]byte, error) { return payload(e) }
func (e TrackArchiveUnpacked) Payload() ([]byte, error)     { return payload(e) }
func (e TrackArchiveParsed) Payload() ([]byte, error)       { return payload(e) }
func (e RaceGotTrack) Payload() ([]byte, error)             { return payload(e) }
func (e PersonGotTrack) Payload() ([]byte, error)           { return payload(e) }
func (e TrackerAssigned) Payload() ([]byte, error)          { return payload(e) }
func (e TrackerUnAssigned) Payload() ([]byte, error)        { return payload(e) }

type decodeFunc func(base Base, payload []byte) (DomainEvent, error)

func typed[E DomainEvent](assign func(*E, Base)) decodeFunc {
	return func(base Base, raw []byte) (DomainEvent, error) {
		var ev E
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, err
			}
		}
		assign(&ev, base)
		return ev, nil
	}
}

var registry = map[string]decodeFunc{
	"TrackCreated":             typed(func(e *TrackCreated, b Base) { e.Base = b }),
	"TrackStarted":             typed(func(e *TrackStarted, b Base) { e.Base = b }),
	"TrackCheckpointTaken":     typed(func(e *TrackCheckpointTaken, b Base) { e.Base = b }),
	"TrackSpeedExceeded":       typed(func(e *TrackSpeedExceeded, b Base) { e.Base = b }),
	"TrackSlowedDown":          typed(func(e *TrackSlowedDown, b Base) { e.Base = b }),
	"TrackEnded":               typed(func(e *TrackEnded, b Base) { e.Base = b }),
	"TrackFinished":            typed(func(e *TrackFinished, b Base) { e.Base = b }),
	"TrackFinishTimeReceived":  typed(func(e *TrackFinishTimeReceived, b Base) { e.Base = b }),
	"TrackLanded":              typed(func(e *TrackLanded, b Base) { e.Base = b }),
	"TrackInAir":               typed(func(e *TrackInAir, b Base) { e.Base = b }),
	"TrackWasNotParsed":        typed(func(e *TrackWasNotParsed, b Base) { e.Base = b }),
	"ArchiveURLReceived":       typed(func(e *ArchiveURLReceived, b Base) { e.Base = b }),
	"ParagliderFoundInArchive": typed(func(e *ParagliderFoundInArchive, b Base) { e.Base = b }),
	"TrackArchiveUnpacked":     typed(func(e *TrackArchiveUnpacked, b Base) { e.Base = b }),
	"TrackArchiveParsed":       typed(func(e *TrackArchiveParsed, b Base) { e.Base = b }),
	"RaceGotTrack":             typed(func(e *RaceGotTrack, b Base) { e.Base = b }),
	"PersonGotTrack":           typed(func(e *PersonGotTrack, b Base) { e.Base = b }),
	"TrackerAssigned":          typed(func(e *TrackerAssigned, b Base) { e.Base = b }),
	"TrackerUnAssigned":        typed(func(e *TrackerUnAssigned, b Base) { e.Base = b }),
}

// Decode turns a stored row back into its typed event.
func Decode(name, aggregateID, aggregateType string, occurredOn time.Time,
	raw []byte,
) (DomainEvent, error) {
	dec, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event name %q", ErrCorrupted, name)
	}
	return dec(NewBase(aggregateID, aggregateType, occurredOn), raw)
}
