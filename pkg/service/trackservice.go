package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/api"
	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
	trackrepos "github.com/TBoris/gorynych/pkg/repository/track"
	"github.com/TBoris/gorynych/pkg/track"
	"github.com/TBoris/gorynych/pkg/track/corrector"
	"github.com/TBoris/gorynych/pkg/utils/cache"
	"github.com/TBoris/gorynych/pkg/utils/cache/loadercache"
)

// TrackService turns announced track files into Track aggregates: it fetches
// the race task, runs the correction pipeline and persists the resulting
// events, points and snapshots. A track file without usable GPS data is
// recorded as TrackWasNotParsed instead of failing dispatch forever.
type TrackService struct {
	pool   *pgxpool.Pool
	store  *eventstore.Store
	api    api.Client
	leases *Leases
	l      *log.Logger

	// Aggregates are cached between deliveries and rebuilt from the event
	// log on a miss.
	aggregates cache.Cache[track.ID, trackEntry]

	// Live trackers currently feeding an online track, keyed by device id.
	mu       sync.Mutex
	trackers map[string]track.ID
}

// trackEntry keeps a cached aggregate together with its database row id.
// dbID 0 means the track row has not been created yet.
type trackEntry struct {
	track *track.Track
	dbID  int64
}

type TrackServiceOption func(*TrackService)

func WithTrackLeaseTTL(ttl time.Duration) TrackServiceOption {
	return func(s *TrackService) { s.leases = NewLeases(ttl) }
}

func WithTrackLogger(l *log.Logger) TrackServiceOption {
	return func(s *TrackService) { s.l = l }
}

func InitTrackService(
	pool *pgxpool.Pool,
	store *eventstore.Store,
	apiClient api.Client,
	opts ...TrackServiceOption,
) *TrackService {
	ret := &TrackService{
		pool:     pool,
		store:    store,
		api:      apiClient,
		leases:   NewLeases(100 * time.Second),
		l:        log.Default().Named("trackservice"),
		trackers: make(map[string]track.ID),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.aggregates = loadercache.New(
		loadercache.WithLoader(ret.loadAggregate),
		loadercache.WithExpiration[track.ID, trackEntry](30*time.Minute),
		loadercache.WithLogger[track.ID, trackEntry](ret.l))
	return ret
}

func (s *TrackService) Register(p *Poller) {
	p.Register("ParagliderFoundInArchive", s.HandleParagliderFound)
	p.Register("TrackerAssigned", s.HandleTrackerAssigned)
	p.Register("TrackerUnAssigned", s.HandleTrackerUnAssigned)
}

// HandleParagliderFound processes one matched track file end to end. A held
// lease reports ErrInProgress so the delivery stays queued until the first
// attempt settles; a failed attempt releases the lease for the redelivery.
func (s *TrackService) HandleParagliderFound(
	ctx context.Context, pe eventstore.PersistedEvent,
) (reterr error) {
	ev, ok := pe.Event.(eventstore.ParagliderFoundInArchive)
	if !ok {
		return fmt.Errorf("unexpected event %s for seq %d",
			pe.Event.EventName(), pe.Seq)
	}
	if !s.leases.Acquire(ev.Trackfile) {
		s.l.Debug("trackfile in progress",
			log.String("contest_number", ev.ContestNumber))
		return fmt.Errorf("trackfile %s: %w", ev.Trackfile, ErrInProgress)
	}
	defer func() {
		if reterr != nil {
			s.leases.Release(ev.Trackfile)
		}
	}()
	raceID := ev.AggregateID()
	s.l.Info("got trackfile",
		log.String("person", ev.PersonID), log.String("race", raceID))

	raceTask, err := s.api.GetRaceTask(ctx, raceID)
	if err != nil {
		return fmt.Errorf("asking race task for %s: %w", raceID, err)
	}
	data, err := os.ReadFile(ev.Trackfile)
	if err != nil {
		return fmt.Errorf("reading trackfile: %w", err)
	}

	id := track.NewID()
	aggr, err := track.New(id, nil)
	if err != nil {
		return err
	}
	if err = aggr.Create(track.TypeCompetitionAftertask, raceTask); err != nil {
		return err
	}
	entry := &trackEntry{track: aggr}
	if err = s.persist(ctx, entry); err != nil {
		return err
	}

	if err = aggr.ProcessData(data); err != nil {
		if errors.Is(err, corrector.ErrNoGPSData) {
			s.l.Error("track has no GPS altitude",
				log.String("contest_number", ev.ContestNumber))
			return s.reportNotParsed(ctx, raceID, ev.ContestNumber, err)
		}
		return fmt.Errorf("processing track %s: %w", id, err)
	}
	if err = s.persist(ctx, entry); err != nil {
		return err
	}
	s.aggregates.Set(ctx, id, entry)
	s.l.Info("trackfile processed", log.String("person", ev.PersonID))

	return s.appendTrackToRaceAndPerson(ctx, raceID, ev.PersonID,
		ev.ContestNumber, track.TypeCompetitionAftertask, id)
}

func (s *TrackService) reportNotParsed(
	ctx context.Context, raceID, contestNumber string, cause error,
) error {
	_, err := s.store.Append(ctx, eventstore.TrackWasNotParsed{
		Base: eventstore.NewBase(raceID, eventstore.AggregateRace,
			time.Now().UTC()),
		ContestNumber: contestNumber,
		Reason:        cause.Error(),
	})
	return err
}

// appendTrackToRaceAndPerson announces the new track so the race and the
// person can link it.
func (s *TrackService) appendTrackToRaceAndPerson(
	ctx context.Context, raceID, personID, contestNumber, trackType string,
	id track.ID,
) error {
	_, err := s.store.Append(ctx,
		eventstore.RaceGotTrack{
			Base: eventstore.NewBase(raceID, eventstore.AggregateRace,
				time.Now().UTC()),
			TrackID:       id.String(),
			TrackType:     trackType,
			ContestNumber: contestNumber,
		},
		eventstore.PersonGotTrack{
			Base: eventstore.NewBase(personID, eventstore.AggregatePerson,
				time.Now().UTC()),
			TrackID: id.String(),
		})
	return err
}

// HandleTrackerAssigned opens a live track for the assigned device. Points
// arriving on the device's subject are routed into the aggregate until the
// tracker is unassigned.
func (s *TrackService) HandleTrackerAssigned(
	ctx context.Context, pe eventstore.PersistedEvent,
) (reterr error) {
	ev, ok := pe.Event.(eventstore.TrackerAssigned)
	if !ok {
		return fmt.Errorf("unexpected event %s for seq %d",
			pe.Event.EventName(), pe.Seq)
	}
	if _, ok := s.trackFor(ev.TrackerID); ok {
		// Redelivery of an assignment already served.
		return nil
	}
	if !s.leases.Acquire(ev.TrackerID) {
		return fmt.Errorf("tracker %s: %w", ev.TrackerID, ErrInProgress)
	}
	defer func() {
		if reterr != nil {
			s.leases.Release(ev.TrackerID)
		}
	}()

	raceTask, err := s.api.GetRaceTask(ctx, ev.RaceID)
	if err != nil {
		return fmt.Errorf("asking race task for %s: %w", ev.RaceID, err)
	}
	id := track.NewID()
	aggr, err := track.New(id, nil)
	if err != nil {
		return err
	}
	if err = aggr.Create(track.TypeOnline, raceTask); err != nil {
		return err
	}
	entry := &trackEntry{track: aggr}
	if err = s.persist(ctx, entry); err != nil {
		return err
	}
	s.aggregates.Set(ctx, id, entry)
	s.assign(ev.TrackerID, id)
	s.l.Info("tracker assigned",
		log.String("tracker", ev.TrackerID), log.String("track", id.String()))

	return s.appendTrackToRaceAndPerson(ctx, ev.RaceID, ev.AggregateID(),
		ev.ContestNumber, track.TypeOnline, id)
}

// HandleTrackerUnAssigned stops routing points for the device. The track
// itself stays reconstructible from its events; landing is detected from the
// data, not from the unassignment.
func (s *TrackService) HandleTrackerUnAssigned(
	_ context.Context, pe eventstore.PersistedEvent,
) error {
	ev, ok := pe.Event.(eventstore.TrackerUnAssigned)
	if !ok {
		return fmt.Errorf("unexpected event %s for seq %d",
			pe.Event.EventName(), pe.Seq)
	}
	s.mu.Lock()
	delete(s.trackers, ev.TrackerID)
	s.mu.Unlock()
	s.leases.Release(ev.TrackerID)
	return nil
}

func (s *TrackService) assign(trackerID string, id track.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[trackerID] = id
}

func (s *TrackService) trackFor(trackerID string) (track.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.trackers[trackerID]
	return id, ok
}

// RoutePoints feeds live points into the online track of the reporting
// device. Points from unassigned devices are dropped.
func (s *TrackService) RoutePoints(
	ctx context.Context, trackerID string, points []model.Point,
) error {
	id, ok := s.trackFor(trackerID)
	if !ok {
		s.l.Debug("point from unassigned tracker",
			log.String("tracker", trackerID))
		return nil
	}
	entry, err := s.aggregates.Get(ctx, id)
	if err != nil {
		return err
	}
	batch, err := json.Marshal(points)
	if err != nil {
		return err
	}
	if err = entry.track.ProcessData(batch); err != nil {
		if errors.Is(err, corrector.ErrNoGPSData) {
			return nil
		}
		return fmt.Errorf("processing live batch for %s: %w", id, err)
	}
	return s.persist(ctx, entry)
}

// Aggregate returns the aggregate for id, rebuilding it from the event log
// and the track table when it is not cached.
func (s *TrackService) Aggregate(
	ctx context.Context, id track.ID,
) (*track.Track, error) {
	entry, err := s.aggregates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.track, nil
}

// loadAggregate rebuilds an aggregate from the event log on a cache miss.
func (s *TrackService) loadAggregate(
	ctx context.Context, id track.ID,
) (*trackEntry, error) {
	history, err := s.store.LoadEvents(ctx, id.String())
	if err != nil {
		return nil, err
	}
	aggr, err := track.New(id, history)
	if err != nil {
		return nil, err
	}
	entry := &trackEntry{track: aggr}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		dbTrack, lerr := trackrepos.LoadByTrackID(ctx, tx, id.String())
		if lerr != nil {
			if errors.Is(lerr, trackrepos.ErrNoTrack) {
				return nil
			}
			return lerr
		}
		entry.dbID = dbTrack.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// persist appends the staged events to the log, then stores the produced
// points, lifecycle snapshots and time bounds in one transaction. The
// aggregate is reset afterwards.
func (s *TrackService) persist(ctx context.Context, e *trackEntry) error {
	t := e.track
	changes := t.Changes()
	points := t.Points()
	if len(changes) == 0 && len(points) == 0 {
		return nil
	}
	if len(changes) > 0 {
		if _, err := s.store.Append(ctx, changes...); err != nil {
			return err
		}
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if e.dbID == 0 {
			dbTrack := &trackrepos.DbTrack{
				TrackID: t.ID.String(),
				Type:    t.State().TrackType,
			}
			if err := trackrepos.Create(ctx, tx, dbTrack); err != nil {
				return err
			}
			e.dbID = dbTrack.ID
		}
		if len(points) > 0 {
			if _, err := trackrepos.InsertPoints(ctx, tx, e.dbID, points); err != nil {
				return err
			}
		}
		return s.recordLifecycle(ctx, tx, e, changes)
	})
	if err != nil {
		return err
	}
	t.Reset()
	return nil
}

// recordLifecycle stores a state snapshot and updates the time bounds for
// lifecycle transitions found among the staged events.
func (s *TrackService) recordLifecycle(
	ctx context.Context, tx pgx.Tx, e *trackEntry,
	changes []eventstore.DomainEvent,
) error {
	for _, ev := range changes {
		var err error
		switch ev := ev.(type) {
		case eventstore.TrackStarted:
			stamp := ev.OccurredOn().Unix()
			if err = trackrepos.UpdateStartTime(ctx, tx, e.dbID, stamp); err != nil {
				return err
			}
			err = s.snapshot(ctx, tx, e, stamp)
		case eventstore.TrackEnded:
			stamp := ev.OccurredOn().Unix()
			if err = trackrepos.UpdateEndTime(ctx, tx, e.dbID, stamp); err != nil {
				return err
			}
			err = s.snapshot(ctx, tx, e, stamp)
		case eventstore.TrackFinished:
			err = s.snapshot(ctx, tx, e, ev.OccurredOn().Unix())
		case eventstore.TrackLanded:
			err = s.snapshot(ctx, tx, e, ev.OccurredOn().Unix())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *TrackService) snapshot(
	ctx context.Context, tx pgx.Tx, e *trackEntry, stamp int64,
) error {
	raw, err := json.Marshal(e.track.State().Snapshot())
	if err != nil {
		return err
	}
	return trackrepos.InsertSnapshot(ctx, tx, e.dbID, stamp, raw)
}
