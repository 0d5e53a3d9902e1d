//nolint:errcheck // test code
package track

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/model"
	tcpg "github.com/TBoris/gorynych/testsupport/tcpostgres"
)

func initTestDb() *pgxpool.Pool {
	pool := tcpg.SetupTestDb()
	tcpg.ClearTrackTables(pool)
	return pool
}

func createSampleEntry(t *testing.T, pool *pgxpool.Pool, trackID string) *DbTrack {
	t.Helper()
	entry := &DbTrack{TrackID: trackID, Type: "competition_aftertask"}
	err := pgx.BeginFunc(context.Background(), pool, func(tx pgx.Tx) error {
		return Create(context.Background(), tx, entry)
	})
	require.NoError(t, err)
	require.Positive(t, entry.ID)
	return entry
}

func TestCreateAndLoad(t *testing.T) {
	pool := initTestDb()
	ctx := context.Background()
	sample := createSampleEntry(t, pool, "track-1")

	loaded, err := LoadByTrackID(ctx, pool, "track-1")
	require.NoError(t, err)
	assert.Equal(t, sample.ID, loaded.ID)
	assert.Equal(t, "competition_aftertask", loaded.Type)
	assert.Zero(t, loaded.StartTime)
	assert.Zero(t, loaded.EndTime)

	// track_id is the aggregate identity and must stay unique
	dup := &DbTrack{TrackID: "track-1", Type: "online"}
	require.Error(t, Create(ctx, pool, dup))
}

func TestCreateUnknownType(t *testing.T) {
	pool := initTestDb()
	entry := &DbTrack{TrackID: "track-x", Type: "no-such-type"}
	require.Error(t, Create(context.Background(), pool, entry))
}

func TestLoadMissing(t *testing.T) {
	pool := initTestDb()
	_, err := LoadByTrackID(context.Background(), pool, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTrack)
}

func TestUpdateTimes(t *testing.T) {
	pool := initTestDb()
	ctx := context.Background()
	sample := createSampleEntry(t, pool, "track-1")

	require.NoError(t, UpdateStartTime(ctx, pool, sample.ID, 1347704100))
	require.NoError(t, UpdateEndTime(ctx, pool, sample.ID, 1347704500))

	loaded, err := LoadByTrackID(ctx, pool, "track-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1347704100), loaded.StartTime)
	assert.Equal(t, int64(1347704500), loaded.EndTime)
}

func TestPointsRoundtrip(t *testing.T) {
	pool := initTestDb()
	ctx := context.Background()
	sample := createSampleEntry(t, pool, "track-1")

	points := []model.Point{
		{Timestamp: 1347704100, Lat: 43.9785, Lon: 6.48,
			Alt: 1450, HSpeed: 32.5, VSpeed: -0.5, Distance: 12500},
		{Timestamp: 1347704110, Lat: 43.9788, Lon: 6.4805,
			Alt: 1442, HSpeed: 31.0, VSpeed: -0.8, Distance: 12460},
	}
	var copied int64
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var cerr error
		copied, cerr = InsertPoints(ctx, tx, sample.ID, points)
		return cerr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(points)), copied)

	loaded, err := LoadPoints(ctx, pool, sample.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, points[0].Timestamp, loaded[0].Timestamp)
	assert.InDelta(t, points[0].Lat, loaded[0].Lat, 1e-9)
	assert.InDelta(t, points[1].HSpeed, loaded[1].HSpeed, 1e-9)
	assert.Equal(t, points[1].Distance, loaded[1].Distance)
}

func TestSnapshotDuplicateIgnored(t *testing.T) {
	pool := initTestDb()
	ctx := context.Background()
	sample := createSampleEntry(t, pool, "track-1")

	snap, err := json.Marshal(map[string]any{"state": "started"})
	require.NoError(t, err)
	require.NoError(t, InsertSnapshot(ctx, pool, sample.ID, 1347704100, snap))
	require.NoError(t, InsertSnapshot(ctx, pool, sample.ID, 1347704100, snap))

	var count int
	row := pool.QueryRow(ctx,
		"select count(*) from track_snapshot where id=$1", sample.ID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGroup(t *testing.T) {
	pool := initTestDb()
	ctx := context.Background()
	first := createSampleEntry(t, pool, "track-1")
	second := createSampleEntry(t, pool, "track-2")

	require.NoError(t, AddToGroup(ctx, pool, "race-1", first.ID, "17"))
	require.NoError(t, AddToGroup(ctx, pool, "race-1", second.ID, "42"))
	// relinking the same track is a no-op
	require.NoError(t, AddToGroup(ctx, pool, "race-1", first.ID, "17"))

	group, err := LoadGroup(ctx, pool, "race-1")
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, "track-1", group[0].TrackID)
	assert.Equal(t, "track-2", group[1].TrackID)

	empty, err := LoadGroup(ctx, pool, "race-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
