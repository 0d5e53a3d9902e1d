//nolint:whitespace //can't make both the linter and editor happy :(
package track

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/TBoris/gorynych/pkg/model"
	"github.com/TBoris/gorynych/pkg/repository"
)

// ErrNoTrack is returned when a track row does not exist.
var ErrNoTrack = errors.New("no such track")

// DbTrack is the track table row. ID is the surrogate key referenced by
// point and snapshot rows; TrackID the aggregate identity.
type DbTrack struct {
	ID        int64
	TrackID   string
	Type      string
	StartTime int64
	EndTime   int64
}

func Create(ctx context.Context, conn repository.Querier, t *DbTrack) error {
	row := conn.QueryRow(ctx, `
		insert into track (track_id, track_type, start_time, end_time)
		values ($1, (select id from track_type where name=$2), $3, $4)
		returning id`,
		t.TrackID, t.Type, t.StartTime, t.EndTime)
	return row.Scan(&t.ID)
}

const selector = string(`
	select t.id, t.track_id, tt.name, coalesce(t.start_time, 0),
		coalesce(t.end_time, 0)
	from track t join track_type tt on tt.id=t.track_type`)

func scan(e *DbTrack, row pgx.Row) error {
	return row.Scan(&e.ID, &e.TrackID, &e.Type, &e.StartTime, &e.EndTime)
}

func LoadByTrackID(
	ctx context.Context,
	conn repository.Querier,
	trackID string,
) (*DbTrack, error) {
	row := conn.QueryRow(ctx,
		fmt.Sprintf("%s where t.track_id=$1", selector), trackID)
	var item DbTrack
	if err := scan(&item, row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNoTrack, trackID)
		}
		return nil, err
	}
	return &item, nil
}

func UpdateStartTime(
	ctx context.Context,
	conn repository.Querier,
	id int64,
	start int64,
) error {
	_, err := conn.Exec(ctx,
		"update track set start_time=$1 where id=$2", start, id)
	return err
}

func UpdateEndTime(
	ctx context.Context,
	conn repository.Querier,
	id int64,
	end int64,
) error {
	_, err := conn.Exec(ctx,
		"update track set end_time=$1 where id=$2", end, id)
	return err
}

// InsertPoints bulk-copies a corrected point series into track_data.
func InsertPoints(
	ctx context.Context,
	conn repository.PointCopier,
	id int64,
	points []model.Point,
) (int64, error) {
	return conn.CopyFrom(ctx,
		pgx.Identifier{"track_data"},
		[]string{"id", "timestamp", "lat", "lon", "alt", "g_speed",
			"v_speed", "distance"},
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			return []any{id, p.Timestamp, p.Lat, p.Lon, p.Alt, p.HSpeed,
				p.VSpeed, p.Distance}, nil
		}))
}

// LoadPoints returns the stored series for a track in time order.
func LoadPoints(
	ctx context.Context,
	conn repository.Querier,
	id int64,
) ([]model.Point, error) {
	rows, err := conn.Query(ctx, `
		select "timestamp", lat, lon, alt, g_speed, v_speed, distance
		from track_data where id=$1 order by "timestamp"`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []model.Point
	for rows.Next() {
		var p model.Point
		if err := rows.Scan(&p.Timestamp, &p.Lat, &p.Lon, &p.Alt,
			&p.HSpeed, &p.VSpeed, &p.Distance); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// InsertSnapshot records a named lifecycle moment of the track. Duplicate
// snapshots are ignored.
func InsertSnapshot(
	ctx context.Context,
	conn repository.Querier,
	id int64,
	timestamp int64,
	snapshot []byte,
) error {
	_, err := conn.Exec(ctx, `
		insert into track_snapshot (id, "timestamp", snapshot)
		values ($1, $2, $3) on conflict do nothing`,
		id, timestamp, snapshot)
	return err
}

// AddToGroup links a track to a race group under a label, typically the
// pilot's contest number.
func AddToGroup(
	ctx context.Context,
	conn repository.Querier,
	groupID string,
	id int64,
	label string,
) error {
	_, err := conn.Exec(ctx, `
		insert into tracks_group (group_id, track_id, track_label)
		values ($1, $2, $3) on conflict do nothing`,
		groupID, id, label)
	return err
}

// LoadGroup returns every track linked to a race group.
func LoadGroup(
	ctx context.Context,
	conn repository.Querier,
	groupID string,
) ([]DbTrack, error) {
	rows, err := conn.Query(ctx, fmt.Sprintf(`%s
		join tracks_group tg on tg.track_id=t.id
		where tg.group_id=$1 order by t.id`, selector), groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []DbTrack
	for rows.Next() {
		var item DbTrack
		if err := scan(&item, rows); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
