// Package racetask evaluates corrected track points against a competition
// course: cumulative distance-to-goal and checkpoint crossing detection.
package racetask

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/geo"
	"github.com/TBoris/gorynych/pkg/model"
)

// Checkpoint roles within a course.
const (
	TypeTakeoff      = "to"
	TypeStartSection = "ss"
	TypeOrdinal      = "ordinal"
	TypeEndSection   = "es"
	TypeGoal         = "goal"
)

// Distance stamped on points arriving after the goal was taken or for a
// landed track without a recorded distance.
const finishedDistance = 200

// Checkpoint is one course waypoint: position, activation radius, time
// window and role. The course order is fixed at task construction.
type Checkpoint struct {
	Name      string
	Lat       float64
	Lon       float64
	Type      string
	Radius    int
	OpenTime  int64
	CloseTime int64
	// Cumulative distance to goal, assigned by the reverse course walk.
	Distance int32
}

func (c Checkpoint) distanceTo(lat, lon float64) float64 {
	return geo.Distance(c.Lat, c.Lon, lat, lon)
}

// TaskState is the read-only slice of track state the evaluator needs.
type TaskState interface {
	CheckpointIndex() int
	Lifecycle() string
	HasEnded() bool
	FrozenDistance() int32
	FinishStamp() int64
}

// RaceToGoal encapsulates race parameter calculation for the classic
// race-to-goal task.
type RaceToGoal struct {
	Checkpoints []Checkpoint
	StartTime   int64
	EndTime     int64

	// Checkpoint activation tolerance in meters. Tightened to 20 m once the
	// speed-section end is taken. Owned by this instance, and an instance is
	// built per track, so the tightening never leaks across tracks.
	wpError float64
}

const (
	defaultWpError   = 300
	tightenedWpError = 20
)

// New builds the task named by the race_task payload. Only racetogoal is
// known.
func New(raw json.RawMessage) (*RaceToGoal, error) {
	doc, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("race task payload: %w", err)
	}
	raceType := firstString(doc, "$.race_type")
	if raceType != "racetogoal" {
		return nil, fmt.Errorf("unknown race type %q", raceType)
	}
	start, err := firstInt(doc, "$.start_time")
	if err != nil {
		return nil, fmt.Errorf("race task start_time: %w", err)
	}
	end, err := firstInt(doc, "$.end_time")
	if err != nil {
		return nil, fmt.Errorf("race task end_time: %w", err)
	}
	checkpoints, err := checkpointsFromGeoJSON(doc)
	if err != nil {
		return nil, err
	}
	if err := validateCourse(checkpoints); err != nil {
		return nil, err
	}
	t := &RaceToGoal{
		Checkpoints: checkpoints,
		StartTime:   start,
		EndTime:     end,
		wpError:     defaultWpError,
	}
	t.calculatePath()
	return t, nil
}

func validateCourse(cps []Checkpoint) error {
	if len(cps) < 2 {
		return fmt.Errorf("course needs at least two checkpoints, got %d", len(cps))
	}
	goals := 0
	for _, cp := range cps {
		if cp.Type == TypeGoal {
			goals++
		}
	}
	if goals != 1 {
		return fmt.Errorf("course must have exactly one goal, got %d", goals)
	}
	return nil
}

// calculatePath walks the course in reverse assigning every checkpoint its
// cumulative distance to the goal. The goal itself carries 0.
func (t *RaceToGoal) calculatePath() {
	last := len(t.Checkpoints) - 1
	t.Checkpoints[last].Distance = 0
	for i := last - 1; i >= 0; i-- {
		next := t.Checkpoints[i+1]
		leg := t.Checkpoints[i].distanceTo(next.Lat, next.Lon)
		t.Checkpoints[i].Distance = int32(leg) + next.Distance
	}
}

// Process stamps every point with its running distance to goal and emits the
// checkpoint events its positions justify. Points must already be corrected.
// The input slice is not modified; a stamped copy is returned.
//
//nolint:gocognit,cyclop // the course walk mirrors the published task rules
func (t *RaceToGoal) Process(points []model.Point, state TaskState, id string) (
	[]model.Point, []eventstore.DomainEvent,
) {
	stamped := make([]model.Point, len(points))
	copy(stamped, points)

	lastchp := state.CheckpointIndex()
	if lastchp >= len(t.Checkpoints)-1 {
		// Goal already taken but data keeps coming.
		for i := range stamped {
			stamped[i].Distance = finishedDistance
		}
		return stamped, nil
	}
	if state.Lifecycle() == StateLanded {
		dist := state.FrozenDistance()
		if dist == 0 {
			dist = finishedDistance
		}
		for i := range stamped {
			stamped[i].Distance = dist
		}
		return stamped, nil
	}

	var events []eventstore.DomainEvent
	nextchp := t.Checkpoints[lastchp+1]
	ended := state.HasEnded()
	for i := range stamped {
		p := &stamped[i]
		dist := nextchp.distanceTo(p.Lat, p.Lon)
		if dist-float64(nextchp.Radius) <= t.wpError && !ended {
			occurred := time.Unix(p.Timestamp, 0).UTC()
			events = append(events, eventstore.TrackCheckpointTaken{
				Base:     eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
				Index:    lastchp + 1,
				Distance: int32(dist),
			})
			switch nextchp.Type {
			case TypeEndSection:
				events = append(events, eventstore.TrackFinishTimeReceived{
					Base:      eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
					Timestamp: p.Timestamp,
				})
				t.wpError = tightenedWpError
			case TypeGoal:
				finished := occurred
				if fs := state.FinishStamp(); fs > 0 {
					finished = time.Unix(fs, 0).UTC()
				}
				events = append(events, eventstore.TrackFinished{
					Base: eventstore.NewBase(id, eventstore.AggregateTrack, finished),
				})
				ended = true
				t.wpError = tightenedWpError
			case TypeStartSection:
				events = append(events, eventstore.TrackStarted{
					Base: eventstore.NewBase(id, eventstore.AggregateTrack, occurred),
				})
			}
			if lastchp+1 < len(t.Checkpoints)-1 {
				lastchp++
				nextchp = t.Checkpoints[lastchp+1]
			}
		}
		p.Distance = int32(dist) + nextchp.Distance
	}
	return stamped, events
}

// StateLanded mirrors track.StateLanded; duplicated here to keep the
// evaluator free of a dependency on the aggregate package.
const StateLanded = "landed"

func checkpointsFromGeoJSON(doc any) ([]Checkpoint, error) {
	features := jp.MustParseString("$.checkpoints.features[*]").Get(doc)
	if len(features) == 0 {
		return nil, fmt.Errorf("race task has no checkpoints")
	}
	result := make([]Checkpoint, 0, len(features))
	for i, f := range features {
		cp, err := checkpointFromFeature(f)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", i, err)
		}
		result = append(result, cp)
	}
	return result, nil
}

func checkpointFromFeature(f any) (Checkpoint, error) {
	coords := jp.MustParseString("$.geometry.coordinates[*]").Get(f)
	if len(coords) != 2 {
		return Checkpoint{}, fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	lat, ok1 := asFloat(coords[0])
	lon, ok2 := asFloat(coords[1])
	if !ok1 || !ok2 {
		return Checkpoint{}, fmt.Errorf("non-numeric coordinates %v", coords)
	}
	cp := Checkpoint{Lat: lat, Lon: lon}
	cp.Name = firstString(f, "$.properties.name")
	cp.Type = firstString(f, "$.properties.checkpoint_type")
	if radius, err := firstInt(f, "$.properties.radius"); err == nil {
		cp.Radius = int(radius)
	}
	if open, err := firstInt(f, "$.properties.open_time"); err == nil {
		cp.OpenTime = open
	}
	if cl, err := firstInt(f, "$.properties.close_time"); err == nil {
		cp.CloseTime = cl
	}
	return cp, nil
}

func firstString(doc any, path string) string {
	vals := jp.MustParseString(path).Get(doc)
	if len(vals) == 0 {
		return ""
	}
	s, _ := vals[0].(string)
	return s
}

// firstInt reads an integer that may arrive as number or as string (the
// race-control application sends times as strings).
func firstInt(doc any, path string) (int64, error) {
	vals := jp.MustParseString(path).Get(doc)
	if len(vals) == 0 {
		return 0, fmt.Errorf("missing %s", path)
	}
	switch v := vals[0].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported value %v at %s", v, path)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
