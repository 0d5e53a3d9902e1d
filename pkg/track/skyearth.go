package track

import (
	"time"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
)

// Landing-detection thresholds for a paraglider.
const (
	// 'not started' -> 'flying' ground-speed threshold, km/h.
	sfSpeed = 20.0
	// 'flying' -> slow ground-speed threshold, km/h.
	fsSpeed = 10.0
	// How long a pilot may stay slow before counting as landed, seconds.
	slowInterval = 60
	// Altitude change that proves the pilot is still moving, meters.
	altInterval = 5
)

// skyEarth decides whether the pilot is airborne or has landed, based on the
// corrected point stream. It reads the aggregate state and produces events;
// it never mutates state directly.
type skyEarth struct {
	state *State
}

func newSkyEarth(state *State) *skyEarth {
	return &skyEarth{state: state}
}

// StateWork walks a batch of corrected points and emits the speed/landing
// events the batch justifies. The produced events must be applied to the
// aggregate before race-task evaluation so the evaluator sees a fresh
// lifecycle state.
func (se *skyEarth) StateWork(points []model.Point) []eventstore.DomainEvent {
	var events []eventstore.DomainEvent
	id := se.state.ID.String()

	becomeSlow := se.state.BecomeSlow
	slowAlt := se.state.SlowAlt
	inAir := se.state.InAir
	landed := se.state.State == StateLanded || se.state.State == StateFinished

	for _, p := range points {
		if landed {
			break
		}
		occurred := time.Unix(p.Timestamp, 0).UTC()
		if !inAir {
			if p.HSpeed > sfSpeed {
				events = append(events, eventstore.TrackInAir{
					Base: eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
				})
				events = append(events, eventstore.TrackSpeedExceeded{
					Base: eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
				})
				inAir = true
				becomeSlow = time.Time{}
			}
			continue
		}
		slow := !becomeSlow.IsZero()
		switch {
		case slow && p.Timestamp-becomeSlow.Unix() >= slowInterval:
			events = append(events, eventstore.TrackLanded{
				Base:     eventstore.NewBase(id, eventstore.AggregateTrack, becomeSlow),
				Distance: p.Distance,
			})
			landed = true
		case slow && (p.HSpeed > fsSpeed || abs(p.Alt-slowAlt) > altInterval):
			// Speeding up again, or still sinking/climbing: not a landing.
			events = append(events, eventstore.TrackSpeedExceeded{
				Base: eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
			})
			becomeSlow = time.Time{}
		case !slow && p.HSpeed < fsSpeed:
			events = append(events, eventstore.TrackSlowedDown{
				Base: eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
				Alt:  p.Alt,
			})
			becomeSlow = occurred
			slowAlt = p.Alt
		}
	}
	return events
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
