package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TBoris/gorynych/log"
)

var (
	// ErrCorrupted marks consistency violations in the log itself: unknown
	// event names or events lacking a dispatch entry. Never swallowed.
	ErrCorrupted = errors.New("event log corrupted")
)

// Store is the durable append-only log of domain events plus its dispatch
// queue. Append and dispatch-entry creation are colocated in one transaction
// (via a database trigger), so "appended" and "dispatchable" cannot diverge.
type Store struct {
	pool *pgxpool.Pool
	l    *log.Logger
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, l: log.Default().Named("store")}
}

const (
	eventsTable   = "events"
	dispatchTable = "dispatch"
	triggerFunc   = "events_to_dispatch"
	triggerName   = "to_dispatch"
)

// Initialize creates the log table, the dispatch table and the append
// trigger. Idempotent: safe on an already-initialized store.
func (s *Store) Initialize(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`
		create table if not exists %s (
			event_id bigserial primary key,
			event_name text not null,
			aggregate_id text not null,
			aggregate_type text not null,
			event_payload bytea,
			occured_on timestamptz not null
		)`, eventsTable),
		fmt.Sprintf(`create index if not exists events_aggregate_idx
			on %s (aggregate_id, event_id)`, eventsTable),
		fmt.Sprintf(`
		create table if not exists %s (
			event_id bigint primary key references %s (event_id),
			taken boolean not null default false,
			taken_at timestamptz
		)`, dispatchTable, eventsTable),
		fmt.Sprintf(`
		create or replace function %s() returns trigger as $$
		begin
			insert into %s (event_id) values (new.event_id);
			return new;
		end;
		$$ language plpgsql`, triggerFunc, dispatchTable),
		fmt.Sprintf(`drop trigger if exists %s on %s`, triggerName, eventsTable),
		fmt.Sprintf(`create trigger %s after insert on %s
			for each row execute procedure %s()`,
			triggerName, eventsTable, triggerFunc),
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range ddl {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("initializing event store: %w", err)
			}
		}
		return nil
	})
}

// Append persists the events as one transaction and returns them with their
// assigned sequence ids. Either every event (and, through the trigger, every
// dispatch entry) is stored, or none.
func (s *Store) Append(ctx context.Context, events ...DomainEvent) (
	[]PersistedEvent, error,
) {
	if len(events) == 0 {
		return nil, nil
	}
	persisted := make([]PersistedEvent, 0, len(events))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, ev := range events {
			raw, err := ev.Payload()
			if err != nil {
				return fmt.Errorf("serializing %s: %w", ev.EventName(), err)
			}
			var seq int64
			row := tx.QueryRow(ctx, fmt.Sprintf(`
				insert into %s
					(event_name, aggregate_id, aggregate_type, event_payload, occured_on)
				values ($1,$2,$3,$4,$5)
				returning event_id`, eventsTable),
				ev.EventName(), ev.AggregateID(), ev.AggregateType(),
				raw, ev.OccurredOn())
			if err := row.Scan(&seq); err != nil {
				return fmt.Errorf("appending %s: %w", ev.EventName(), err)
			}
			persisted = append(persisted, PersistedEvent{Seq: seq, Event: ev})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.l.Debug("events appended", log.Int("count", len(persisted)))
	return persisted, nil
}

const selector = `
	select event_id, event_name, aggregate_id, aggregate_type,
		event_payload, occured_on
	from events`

func scanEvents(rows pgx.Rows) ([]PersistedEvent, error) {
	defer rows.Close()
	var result []PersistedEvent
	for rows.Next() {
		var (
			seq             int64
			name, aggr, typ string
			raw             []byte
			occurred        time.Time
		)
		if err := rows.Scan(&seq, &name, &aggr, &typ, &raw, &occurred); err != nil {
			return nil, err
		}
		ev, err := Decode(name, aggr, typ, occurred, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, PersistedEvent{Seq: seq, Event: ev})
	}
	return result, rows.Err()
}

// LoadEvents returns the aggregate's events in append order. An aggregate
// that was never touched yields an empty slice, not an error.
func (s *Store) LoadEvents(ctx context.Context, aggregateID string) (
	[]PersistedEvent, error,
) {
	rows, err := s.pool.Query(ctx,
		selector+` where aggregate_id=$1 order by event_id`, aggregateID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LoadEventsForAggregates is the batched variant used for bulk rehydration.
func (s *Store) LoadEventsForAggregates(ctx context.Context, ids []string) (
	map[string][]PersistedEvent, error,
) {
	rows, err := s.pool.Query(ctx,
		selector+` where aggregate_id=any($1) order by event_id`, ids)
	if err != nil {
		return nil, err
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]PersistedEvent, len(ids))
	for _, pe := range events {
		id := pe.Event.AggregateID()
		result[id] = append(result[id], pe)
	}
	return result, nil
}

// LoadUndispatched returns unconsumed events oldest first, up to limit. It
// does not mark anything consumed; acknowledgment is a separate step.
func (s *Store) LoadUndispatched(ctx context.Context, limit int) (
	[]PersistedEvent, error,
) {
	rows, err := s.pool.Query(ctx, selector+`
		join dispatch using (event_id)
		where not dispatch.taken
		order by event_id
		limit $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// MarkDispatched acknowledges durable processing of one event.
func (s *Store) MarkDispatched(ctx context.Context, seq int64) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`update %s set taken=true, taken_at=now() where event_id=$1`,
		dispatchTable), seq)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no dispatch entry for event %d", ErrCorrupted, seq)
	}
	return nil
}

// CheckIntegrity detects events without a dispatch entry. Such events can
// never be delivered and indicate log corruption; the caller must refuse to
// start.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		select e.event_id from %s e
		left join %s d using (event_id)
		where d.event_id is null`, eventsTable, dispatchTable))
	if err != nil {
		return err
	}
	defer rows.Close()
	var orphans []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return err
		}
		orphans = append(orphans, seq)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(orphans) > 0 {
		return fmt.Errorf("%w: events without dispatch entry: %v",
			ErrCorrupted, orphans)
	}
	return nil
}
