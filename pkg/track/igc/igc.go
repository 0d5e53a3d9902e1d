// Package igc parses the IGC flight-log format produced by competition GPS
// loggers: the HFDTE date header plus B records with fixed-column position
// fixes. Only the GPS altitude column is used.
package igc

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TBoris/gorynych/pkg/model"
)

// Parse reads a complete .igc file and returns the raw point series.
func Parse(data []byte) ([]model.Point, error) {
	var (
		date   time.Time
		points []model.Point
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "HFDTE"):
			d, err := parseDate(line)
			if err != nil {
				return nil, err
			}
			date = d
		case strings.HasPrefix(line, "B"):
			if date.IsZero() {
				return nil, fmt.Errorf("igc: B record before HFDTE header")
			}
			p, err := parseBRecord(line, date)
			if err != nil {
				return nil, err
			}
			points = append(points, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("igc: no B records found")
	}
	return points, nil
}

// parseDate reads "HFDTE<ddmmyy>"; some loggers append a remark after the
// date, so only the trailing six digits before it count.
func parseDate(line string) (time.Time, error) {
	digits := strings.TrimFunc(line[5:], func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(digits) < 6 {
		return time.Time{}, fmt.Errorf("igc: malformed date header %q", line)
	}
	d, err := time.Parse("020106", digits[:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("igc: date header %q: %w", line, err)
	}
	return d.UTC(), nil
}

// B record layout: B HHMMSS DDMMmmm[NS] DDDMMmmm[EW] A PPPPP GGGGG
// (pressure altitude is ignored, GPS altitude is authoritative).
func parseBRecord(line string, date time.Time) (model.Point, error) {
	if len(line) < 35 {
		return model.Point{}, fmt.Errorf("igc: short B record %q", line)
	}
	hh, err1 := strconv.Atoi(line[1:3])
	mm, err2 := strconv.Atoi(line[3:5])
	ss, err3 := strconv.Atoi(line[5:7])
	if err1 != nil || err2 != nil || err3 != nil {
		return model.Point{}, fmt.Errorf("igc: bad time in %q", line)
	}
	lat, err := Latitude(line[7:15])
	if err != nil {
		return model.Point{}, err
	}
	lon, err := Longitude(line[15:24])
	if err != nil {
		return model.Point{}, err
	}
	gpsAlt, err := strconv.Atoi(line[30:35])
	if err != nil {
		return model.Point{}, fmt.Errorf("igc: bad gps altitude in %q", line)
	}
	ts := time.Date(date.Year(), date.Month(), date.Day(), hh, mm, ss, 0,
		time.UTC).Unix()
	return model.Point{
		Timestamp: ts,
		Lat:       lat,
		Lon:       lon,
		Alt:       gpsAlt,
	}, nil
}

// Latitude converts "DDMMmmmN" degrees-decimal-minutes into signed degrees,
// e.g. "3755033S" -> -37.917217.
func Latitude(lat string) (float64, error) {
	if len(lat) != 8 {
		return 0, fmt.Errorf("igc: latitude %q must be 8 chars", lat)
	}
	return degMinutes(lat[:2], lat[2:4], lat[4:7], lat[7] == 'S')
}

// Longitude converts "DDDMMmmmE" into signed degrees,
// e.g. "02907217W" -> -29.120283.
func Longitude(lon string) (float64, error) {
	if len(lon) != 9 {
		return 0, fmt.Errorf("igc: longitude %q must be 9 chars", lon)
	}
	return degMinutes(lon[:3], lon[3:5], lon[5:8], lon[8] == 'W')
}

func degMinutes(deg, minutes, thousandths string, negative bool) (float64, error) {
	d, err1 := strconv.Atoi(deg)
	m, err2 := strconv.ParseFloat(minutes+"."+thousandths, 64)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("igc: bad coordinate %s%s%s", deg, minutes, thousandths)
	}
	value := float64(d) + round6(m/60)
	if negative {
		value = -value
	}
	return value, nil
}

func round6(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}
