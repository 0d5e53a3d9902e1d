// Package corrector removes sensor noise from raw GPS series: time-window
// clipping, duplicate and reversed timestamps, altitude corridor violations
// and spike outliers, followed by spline smoothing.
package corrector

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/interp"

	"github.com/TBoris/gorynych/pkg/geo"
	"github.com/TBoris/gorynych/pkg/model"
)

var (
	// ErrNoGPSData marks a batch without usable altitude data. Recoverable:
	// the caller records TrackWasNotParsed and continues with other files.
	ErrNoGPSData = errors.New("track has no GPS altitude data")

	// ErrLengthMismatch is a defensive invariant: series diverging in length
	// indicates an upstream bug and aborts the batch.
	ErrLengthMismatch = errors.New("series length mismatch")
)

const (
	// Maximum gap in a track after which it is considered finished, seconds.
	MaxTimeDiff = 300

	// Altitude corridor, meters.
	AltMin = 50
	AltMax = 6000

	maxIterations = 15
	minSplineLen  = 10
)

// Maximum allowed deviation from the median-filtered series, per channel.
var maxDifs = []struct {
	name   string
	maxdif float64
}{
	{"alt", 40},
	{"lat", 0.001},
	{"lon", 0.001},
}

// CorrectTrack clips the raw series to the task window, makes timestamps
// strictly monotonic, cuts the session at the first oversized gap and smooths
// altitude/latitude/longitude. The input is never modified.
func CorrectTrack(raw []model.Point, stime, etime int64) ([]model.Point, error) {
	points := cleanTimestamps(raw, stime, etime)
	if len(points) == 0 {
		return nil, ErrNoGPSData
	}
	if !hasAltitude(points) {
		return nil, ErrNoGPSData
	}
	return correctData(points)
}

func hasAltitude(points []model.Point) bool {
	for _, p := range points {
		if p.Alt != 0 {
			return true
		}
	}
	return false
}

// cleanTimestamps cuts the track in time and makes the timestamp series
// strictly increasing. Duplicates keep the first sample; points going back in
// time are dropped, not reordered. The first gap above MaxTimeDiff ends the
// session.
func cleanTimestamps(raw []model.Point, stime, etime int64) []model.Point {
	result := make([]model.Point, 0, len(raw))
	var last int64
	for _, p := range raw {
		if p.Timestamp < stime || p.Timestamp > etime {
			continue
		}
		if len(result) > 0 {
			if p.Timestamp <= last {
				continue
			}
			if p.Timestamp-last > MaxTimeDiff {
				break
			}
		}
		result = append(result, p)
		last = p.Timestamp
	}
	return result
}

//nolint:gocognit // the detect-exclude-respline loop reads best in one piece
func correctData(points []model.Point) ([]model.Point, error) {
	n := len(points)
	x := make([]float64, n)
	series := map[string][]float64{
		"alt": make([]float64, n),
		"lat": make([]float64, n),
		"lon": make([]float64, n),
	}
	for i, p := range points {
		x[i] = float64(p.Timestamp)
		// The corridor clamp runs before outlier detection so a spike like
		// 9000 m enters the filter already bounded.
		series["alt"][i] = placeInCorridor(float64(p.Alt))
		series["lat"][i] = p.Lat
		series["lon"][i] = p.Lon
	}

	for _, dif := range maxDifs {
		y := series[dif.name]
		if len(y) != len(x) {
			return nil, fmt.Errorf("%w: %s has %d samples for %d timestamps",
				ErrLengthMismatch, dif.name, len(y), len(x))
		}
		kernSize := 3
		exc := medianFinder(y, dif.maxdif, kernSize)
		if len(exc) == 0 {
			continue
		}
		if len(y) < minSplineLen {
			continue
		}
		smoothed, err := respline(x, y, exc)
		if err != nil {
			return nil, fmt.Errorf("smoothing %s: %w", dif.name, err)
		}
		for counter := 1; counter < maxIterations; counter++ {
			exc = medianFinder(smoothed, dif.maxdif, kernSize+(counter/5)*2)
			if len(exc) == 0 {
				break
			}
			smoothed, err = respline(x, smoothed, exc)
			if err != nil {
				return nil, fmt.Errorf("smoothing %s: %w", dif.name, err)
			}
		}
		if dif.name == "alt" {
			// Splines can overshoot past the clamped bounds.
			for i := range smoothed {
				smoothed[i] = placeInCorridor(smoothed[i])
			}
		}
		series[dif.name] = smoothed
	}

	result := make([]model.Point, n)
	copy(result, points)
	for i := range result {
		result[i].Alt = int(series["alt"][i] + 0.5)
		result[i].Lat = series["lat"][i]
		result[i].Lon = series["lon"][i]
	}
	fillSpeeds(result)
	return result, nil
}

func placeInCorridor(alt float64) float64 {
	if alt > AltMax {
		return AltMax
	}
	if alt < AltMin {
		return AltMin
	}
	return alt
}

// medianFinder flags samples deviating from a median-filtered copy of the
// series by more than maxdif. First and last samples are replaced by a local
// mean before filtering so filter edge effects don't falsely flag them.
func medianFinder(y []float64, maxdif float64, kernSize int) []int {
	n := len(y)
	if n == 0 {
		return nil
	}
	if kernSize > n {
		kernSize = n
	}
	filtered := make([]float64, n)
	copy(filtered, y)
	filtered[0] = mean(filtered[:kernSize])
	filtered = medfilt(filtered, kernSize)
	filtered[n-1] = mean(filtered[max(0, n-kernSize):])
	filtered = medfilt(filtered, kernSize)

	var bads []int
	for i := range y {
		d := y[i] - filtered[i]
		if d < 0 {
			d = -d
		}
		if d > maxdif {
			bads = append(bads, i)
		}
	}
	return bads
}

// medfilt is a 1-d median filter with zero padding at the edges, matching
// the behavior the deviation thresholds were tuned against.
func medfilt(y []float64, kernSize int) []float64 {
	n := len(y)
	half := kernSize / 2
	out := make([]float64, n)
	window := make([]float64, 0, kernSize)
	for i := 0; i < n; i++ {
		window = window[:0]
		for j := i - half; j <= i+half; j++ {
			if j < 0 || j >= n {
				window = append(window, 0)
			} else {
				window = append(window, y[j])
			}
		}
		out[i] = median(window)
	}
	return out
}

func median(w []float64) float64 {
	s := make([]float64, len(w))
	copy(s, w)
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
	return s[len(s)/2]
}

func mean(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// respline fits a cubic spline through the samples not listed in exclude and
// evaluates it back at every original timestamp, filling in the excluded
// points.
func respline(x, y []float64, exclude []int) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d timestamps, %d samples",
			ErrLengthMismatch, len(x), len(y))
	}
	keepX := make([]float64, 0, len(x))
	keepY := make([]float64, 0, len(y))
	skip := make(map[int]bool, len(exclude))
	for _, idx := range exclude {
		skip[idx] = true
	}
	for i := range x {
		if !skip[i] {
			keepX = append(keepX, x[i])
			keepY = append(keepY, y[i])
		}
	}
	if len(keepX) < 2 {
		// Everything flagged; nothing left to fit against.
		out := make([]float64, len(y))
		copy(out, y)
		return out, nil
	}
	var spline interp.NaturalCubic
	if err := spline.Fit(keepX, keepY); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, xi := range x {
		out[i] = spline.Predict(xi)
	}
	return out, nil
}

// fillSpeeds derives vertical and ground speed from the corrected series.
// Rounding is API-visible: vertical speed 2 decimals, ground speed 1.
func fillSpeeds(points []model.Point) {
	if len(points) == 0 {
		return
	}
	points[0].VSpeed = 1
	points[0].HSpeed = 1
	for i := 1; i < len(points); i++ {
		dt := float64(points[i].Timestamp - points[i-1].Timestamp)
		if dt == 0 {
			dt = 1
		}
		vs := float64(points[i].Alt-points[i-1].Alt) / dt
		points[i].VSpeed = round(vs, 2)
		dist := geo.Distance(points[i-1].Lat, points[i-1].Lon,
			points[i].Lat, points[i].Lon)
		points[i].HSpeed = round(dist/dt, 1)
	}
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
