// Package api talks to the race-control application. The processing side
// never owns race or pilot data, it asks for it per event.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/TBoris/gorynych/pkg/model"
)

// Client is the read surface of the race-control API.
type Client interface {
	// GetRaceTask returns the raw race task payload for the evaluator.
	GetRaceTask(ctx context.Context, raceID string) (json.RawMessage, error)
	GetTrackArchive(ctx context.Context, raceID string) (*model.TrackArchive, error)
	GetRacePilots(ctx context.Context, raceID string) ([]model.Paraglider, error)
}

type httpClient struct {
	base string
	hc   *http.Client
}

type Option func(*httpClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.hc = hc }
}

func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) GetRaceTask(ctx context.Context, raceID string) (
	json.RawMessage, error,
) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/race/%s/race_task", c.base, raceID))
	if err != nil {
		return nil, err
	}
	// Reject payloads the evaluator has no chance to understand.
	if _, err := oj.Parse(raw); err != nil {
		return nil, fmt.Errorf("race task for %s: %w", raceID, err)
	}
	return raw, nil
}

func (c *httpClient) GetTrackArchive(ctx context.Context, raceID string) (
	*model.TrackArchive, error,
) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/race/%s/track_archive", c.base, raceID))
	if err != nil {
		return nil, err
	}
	var archive model.TrackArchive
	if err := json.Unmarshal(raw, &archive); err != nil {
		return nil, fmt.Errorf("track archive for %s: %w", raceID, err)
	}
	return &archive, nil
}

func (c *httpClient) GetRacePilots(ctx context.Context, raceID string) (
	[]model.Paraglider, error,
) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/race/%s/paragliders", c.base, raceID))
	if err != nil {
		return nil, err
	}
	var pilots []model.Paraglider
	if err := json.Unmarshal(raw, &pilots); err != nil {
		return nil, fmt.Errorf("paragliders for %s: %w", raceID, err)
	}
	return pilots, nil
}

func (c *httpClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
