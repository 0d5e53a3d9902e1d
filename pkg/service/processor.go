package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/api"
	"github.com/TBoris/gorynych/pkg/archive"
	"github.com/TBoris/gorynych/pkg/eventstore"
	"github.com/TBoris/gorynych/pkg/model"
	trackrepos "github.com/TBoris/gorynych/pkg/repository/track"
)

// ProcessorService orchestrates track archive processing for a race: it
// unpacks uploaded archives, announces the paragliders found inside and
// links finished tracks to the race group.
type ProcessorService struct {
	pool    *pgxpool.Pool
	store   *eventstore.Store
	api     api.Client
	leases  *Leases
	workDir string
	l       *log.Logger
}

type ProcessorOption func(*ProcessorService)

// WithProcessorLeaseTTL controls how long a redelivered archive URL is
// ignored while a previous delivery is still being unpacked.
func WithProcessorLeaseTTL(ttl time.Duration) ProcessorOption {
	return func(s *ProcessorService) { s.leases = NewLeases(ttl) }
}

func WithArchiveWorkDir(dir string) ProcessorOption {
	return func(s *ProcessorService) { s.workDir = dir }
}

func WithProcessorLogger(l *log.Logger) ProcessorOption {
	return func(s *ProcessorService) { s.l = l }
}

func InitProcessorService(
	pool *pgxpool.Pool,
	store *eventstore.Store,
	apiClient api.Client,
	opts ...ProcessorOption,
) *ProcessorService {
	ret := &ProcessorService{
		pool:   pool,
		store:  store,
		api:    apiClient,
		leases: NewLeases(180 * time.Second),
		l:      log.Default().Named("processor"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *ProcessorService) Register(p *Poller) {
	p.Register("ArchiveURLReceived", s.HandleArchiveURL)
	p.Register("RaceGotTrack", s.HandleRaceGotTrack)
}

// HandleArchiveURL downloads and unpacks the archive, then persists one
// ParagliderFoundInArchive per matched track file followed by
// TrackArchiveUnpacked. A held lease reports ErrInProgress so the delivery
// stays queued until the unpack attempt settles; a failed attempt releases
// the lease for the redelivery.
func (s *ProcessorService) HandleArchiveURL(
	ctx context.Context, pe eventstore.PersistedEvent,
) (reterr error) {
	ev, ok := pe.Event.(eventstore.ArchiveURLReceived)
	if !ok {
		return fmt.Errorf("unexpected event %s for seq %d",
			pe.Event.EventName(), pe.Seq)
	}
	raceID := ev.AggregateID()
	s.l.Info("archive url received",
		log.String("race", raceID), log.String("url", ev.URL))
	if !s.leases.Acquire(ev.URL) {
		s.l.Debug("archive already in progress", log.String("url", ev.URL))
		return fmt.Errorf("archive %s: %w", ev.URL, ErrInProgress)
	}
	defer func() {
		if reterr != nil {
			s.leases.Release(ev.URL)
		}
	}()
	ta, err := s.api.GetTrackArchive(ctx, raceID)
	if err != nil {
		return fmt.Errorf("asking archive status for race %s: %w", raceID, err)
	}
	if ta.Status != model.ArchiveStatusNoArchive {
		s.l.Info("archive already processed",
			log.String("race", raceID), log.String("status", ta.Status))
		return nil
	}
	opts := []archive.Option{}
	if s.workDir != "" {
		opts = append(opts, archive.WithWorkDir(s.workDir))
	}
	pilots, err := s.api.GetRacePilots(ctx, raceID)
	if err != nil {
		return fmt.Errorf("asking paragliders of race %s: %w", raceID, err)
	}
	info, err := archive.New(raceID, ev.URL, opts...).Process(ctx, pilots)
	if err != nil {
		return fmt.Errorf("processing archive %s: %w", ev.URL, err)
	}
	return s.informAboutParagliders(ctx, raceID, info)
}

func (s *ProcessorService) informAboutParagliders(
	ctx context.Context, raceID string, info *model.ArchiveInfo,
) error {
	found := make([]eventstore.DomainEvent, 0, len(info.Tracks)+1)
	for _, t := range info.Tracks {
		found = append(found, eventstore.ParagliderFoundInArchive{
			Base: eventstore.NewBase(raceID, eventstore.AggregateRace,
				time.Now().UTC()),
			ParagliderTrackfile: t,
		})
	}
	found = append(found, eventstore.TrackArchiveUnpacked{
		Base: eventstore.NewBase(raceID, eventstore.AggregateRace,
			time.Now().UTC()),
		ArchiveInfo: *info,
	})
	if _, err := s.store.Append(ctx, found...); err != nil {
		return err
	}
	s.l.Info("track archive unpacked",
		log.String("race", raceID), log.Int("tracks", len(info.Tracks)))
	return nil
}

// HandleRaceGotTrack links the finished track to the race group and, once
// every found paraglider has a processed track, closes the archive with
// TrackArchiveParsed.
func (s *ProcessorService) HandleRaceGotTrack(
	ctx context.Context, pe eventstore.PersistedEvent,
) (reterr error) {
	ev, ok := pe.Event.(eventstore.RaceGotTrack)
	if !ok {
		return fmt.Errorf("unexpected event %s for seq %d",
			pe.Event.EventName(), pe.Seq)
	}
	key := fmt.Sprintf("race-got-track-%d", pe.Seq)
	if !s.leases.Acquire(key) {
		return fmt.Errorf("event %d: %w", pe.Seq, ErrInProgress)
	}
	defer func() {
		if reterr != nil {
			s.leases.Release(key)
		}
	}()
	raceID := ev.AggregateID()
	if err := s.addTrackToGroup(ctx, raceID, ev); err != nil {
		// The track stays listed through the event log; grouping is retried
		// on the next upload.
		s.l.Warn("track not added to group",
			log.String("race", raceID), log.String("track", ev.TrackID),
			log.ErrorField(err))
	}
	ta, err := s.api.GetTrackArchive(ctx, raceID)
	if err != nil {
		return fmt.Errorf("asking archive status for race %s: %w", raceID, err)
	}
	processed := len(ta.Progress.ParsedTracks) + len(ta.Progress.UnparsedTracks)
	if processed == len(ta.Progress.ParaglidersFound) &&
		ta.Status != model.ArchiveStatusParsed {
		_, err = s.store.Append(ctx, eventstore.TrackArchiveParsed{
			Base: eventstore.NewBase(raceID, eventstore.AggregateRace,
				time.Now().UTC()),
		})
		if err != nil {
			return err
		}
		s.l.Info("track archive parsed", log.String("race", raceID))
	}
	return nil
}

func (s *ProcessorService) addTrackToGroup(
	ctx context.Context, raceID string, ev eventstore.RaceGotTrack,
) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		dbTrack, err := trackrepos.LoadByTrackID(ctx, tx, ev.TrackID)
		if err != nil {
			return err
		}
		return trackrepos.AddToGroup(ctx, tx, raceID, dbTrack.ID,
			ev.ContestNumber)
	})
}
