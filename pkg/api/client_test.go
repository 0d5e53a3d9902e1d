package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBoris/gorynych/pkg/model"
)

func apiServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, ok := routes[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(body))
		}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetRaceTask(t *testing.T) {
	srv := apiServer(t, map[string]string{
		"/race/race-1/race_task": `{"race_type": "racetogoal"}`,
	})
	c := NewClient(srv.URL)

	raw, err := c.GetRaceTask(context.Background(), "race-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"race_type": "racetogoal"}`, string(raw))

	_, err = c.GetRaceTask(context.Background(), "race-2")
	assert.Error(t, err, "missing race")
}

func TestGetRaceTaskRejectsGarbage(t *testing.T) {
	srv := apiServer(t, map[string]string{
		"/race/race-1/race_task": `<html>maintenance</html>`,
	})
	c := NewClient(srv.URL)

	_, err := c.GetRaceTask(context.Background(), "race-1")
	assert.Error(t, err)
}

func TestGetTrackArchive(t *testing.T) {
	srv := apiServer(t, map[string]string{
		"/race/race-1/track_archive": `{
			"status": "unpacked",
			"progress": {
				"parsed_tracks": ["101"],
				"unparsed_tracks": [],
				"paragliders_found": ["101", "102"]
			}
		}`,
	})
	c := NewClient(srv.URL)

	archive, err := c.GetTrackArchive(context.Background(), "race-1")
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveStatusUnpacked, archive.Status)
	assert.Equal(t, []string{"101", "102"}, archive.Progress.ParaglidersFound)
}

func TestGetRacePilots(t *testing.T) {
	srv := apiServer(t, map[string]string{
		"/race/race-1/paragliders": `[
			{"person_id": "pers-1", "contest_number": "101"},
			{"person_id": "pers-2", "contest_number": "102"}
		]`,
	})
	c := NewClient(srv.URL)

	pilots, err := c.GetRacePilots(context.Background(), "race-1")
	require.NoError(t, err)
	require.Len(t, pilots, 2)
	assert.Equal(t, "101", pilots[0].ContestNumber)
}
