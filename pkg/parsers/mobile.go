package parsers

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/TBoris/gorynych/pkg/model"
)

// MobileTracker decodes the legacy mobile application sentence:
//
//	<imei>,<lat>,<lon>,<alt>,<h_speed>,<ts>*<checksum decimal>
//
// Some firmwares format floats with a decimal comma, which splits the
// sentence into extra fields; those are glued back together.
type MobileTracker struct{}

func (MobileTracker) CheckCorrectness(msg []byte) error {
	data, sum, err := splitMobileChecksum(msg)
	if err != nil {
		return err
	}
	want, err := strconv.Atoi(sum)
	if err != nil {
		return fmt.Errorf("mobile checksum %q: %w", sum, err)
	}
	var got byte
	for _, b := range data {
		got ^= b
	}
	if int(got) != want {
		return fmt.Errorf("mobile checksum mismatch: got %d, want %d",
			got, want)
	}
	return nil
}

func (MobileTracker) Parse(msg []byte) ([]model.Point, error) {
	data, _, err := splitMobileChecksum(msg)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(string(data), ",")
	if len(fields) > 6 {
		// Decimal commas split lat, lon and speed in two.
		if len(fields) != 9 {
			return nil, fmt.Errorf("mobile sentence has %d fields", len(fields))
		}
		fields = []string{fields[0], fields[1] + "." + fields[2],
			fields[3] + "." + fields[4], fields[5],
			fields[6] + "." + fields[7], fields[8]}
	}
	if len(fields) != 6 {
		return nil, fmt.Errorf("mobile sentence has %d fields", len(fields))
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("mobile latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("mobile longitude: %w", err)
	}
	alt, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("mobile altitude: %w", err)
	}
	speed, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return nil, fmt.Errorf("mobile speed: %w", err)
	}
	ts, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mobile timestamp: %w", err)
	}
	return []model.Point{{
		Imei:      fields[0],
		Lat:       lat,
		Lon:       lon,
		Alt:       alt,
		HSpeed:    speed,
		Timestamp: ts,
	}}, nil
}

func splitMobileChecksum(msg []byte) (data []byte, sum string, err error) {
	star := bytes.IndexByte(msg, '*')
	if star < 0 {
		return nil, "", fmt.Errorf("mobile sentence without checksum")
	}
	return msg[:star], string(bytes.TrimSpace(msg[star+1:])), nil
}
