package parsers

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TBoris/gorynych/pkg/model"
)

// GlobalSatTR203 decodes the GSr text sentence of the GlobalSat TR-203
// personal tracker:
//
//	GSr,<imei>,...,<ddmmyy>,<hhmmss>,<Edddmm.mmmm>,<Nddmm.mmmm>,<alt>,
//	<speed>,...*<checksum hex>!
//
// The checksum is the XOR of every byte before the asterisk.
type GlobalSatTR203 struct{}

const gsrFieldCount = 23

func (GlobalSatTR203) CheckCorrectness(msg []byte) error {
	data, sum, err := splitGSrChecksum(msg)
	if err != nil {
		return err
	}
	want, err := strconv.ParseUint(sum, 16, 8)
	if err != nil {
		return fmt.Errorf("tr203 checksum %q: %w", sum, err)
	}
	var got byte
	for _, b := range data {
		got ^= b
	}
	if got != byte(want) {
		return fmt.Errorf("tr203 checksum mismatch: got %02x, want %02x",
			got, want)
	}
	return nil
}

func (GlobalSatTR203) Parse(msg []byte) ([]model.Point, error) {
	data, _, err := splitGSrChecksum(msg)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(string(data), ",")
	if len(fields) < gsrFieldCount {
		return nil, fmt.Errorf("tr203 sentence has %d fields, want %d",
			len(fields), gsrFieldCount)
	}
	ts, err := time.Parse("020106150405", fields[7]+fields[8])
	if err != nil {
		return nil, fmt.Errorf("tr203 timestamp: %w", err)
	}
	lon, err := parseSemicircle(fields[9], 3)
	if err != nil {
		return nil, fmt.Errorf("tr203 longitude: %w", err)
	}
	lat, err := parseSemicircle(fields[10], 2)
	if err != nil {
		return nil, fmt.Errorf("tr203 latitude: %w", err)
	}
	alt, err := strconv.Atoi(fields[11])
	if err != nil {
		return nil, fmt.Errorf("tr203 altitude: %w", err)
	}
	speed, err := strconv.ParseFloat(fields[12], 64)
	if err != nil {
		return nil, fmt.Errorf("tr203 speed: %w", err)
	}
	return []model.Point{{
		Imei:      fields[1],
		Lat:       lat,
		Lon:       lon,
		Alt:       alt,
		HSpeed:    math.Round(speed*10) / 10,
		Timestamp: ts.UTC().Unix(),
	}}, nil
}

func splitGSrChecksum(msg []byte) (data []byte, sum string, err error) {
	star := bytes.IndexByte(msg, '*')
	if star < 0 {
		return nil, "", fmt.Errorf("tr203 sentence without checksum")
	}
	sum = string(bytes.TrimSuffix(bytes.TrimSpace(msg[star+1:]), []byte("!")))
	return msg[:star], sum, nil
}

// parseSemicircle converts "Edddmm.mmmm" style coordinates to degrees.
// degDigits is the width of the degrees part, 2 for latitude and 3 for
// longitude. Results are truncated to 6 decimal places, matching the
// device resolution.
func parseSemicircle(field string, degDigits int) (float64, error) {
	if len(field) < degDigits+2 {
		return 0, fmt.Errorf("coordinate %q too short", field)
	}
	sign := 1.0
	switch field[0] {
	case 'N', 'E':
	case 'S', 'W':
		sign = -1
	default:
		return 0, fmt.Errorf("coordinate %q has no hemisphere", field)
	}
	deg, err := strconv.Atoi(field[1 : degDigits+1])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(field[degDigits+1:], 64)
	if err != nil {
		return 0, err
	}
	return sign * trunc6(float64(deg)+minutes/60), nil
}

func trunc6(v float64) float64 {
	return math.Trunc(v*1e6) / 1e6
}
