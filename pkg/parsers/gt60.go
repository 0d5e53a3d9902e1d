package parsers

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/TBoris/gorynych/pkg/model"
)

// RedViewGT60 decodes the GT60 position report, a GT02 family frame:
//
//	0x68 0x68, u8 length, u8 protocol (0x10 for position), 8 bytes BCD
//	terminal id, u16 sequence, 6 bytes BCD datetime (yymmddhhmmss),
//	u32 latitude, u32 longitude (1/30000 minute units), u8 speed km/h,
//	u16 course/status (bit 10 south, bit 11 west), 0x0D 0x0A.
type RedViewGT60 struct{}

const (
	gt60Proto    = 0x10
	gt60FrameLen = 33
)

func (*RedViewGT60) CheckCorrectness(msg []byte) error {
	if len(msg) < gt60FrameLen {
		return fmt.Errorf("gt60 frame too short: %d bytes", len(msg))
	}
	if msg[0] != 0x68 || msg[1] != 0x68 {
		return fmt.Errorf("gt60 bad preamble % x", msg[:2])
	}
	if msg[len(msg)-2] != 0x0D || msg[len(msg)-1] != 0x0A {
		return fmt.Errorf("gt60 frame not terminated")
	}
	return nil
}

func (p *RedViewGT60) Parse(msg []byte) ([]model.Point, error) {
	if err := p.CheckCorrectness(msg); err != nil {
		return nil, err
	}
	if msg[3] != gt60Proto {
		return nil, fmt.Errorf("gt60 unsupported protocol 0x%02x", msg[3])
	}
	imei := bcdDigits(msg[4:12])
	// Terminal ids are padded to 16 digits with a leading zero.
	if len(imei) == 16 && imei[0] == '0' {
		imei = imei[1:]
	}
	ts, err := time.Parse("060102150405", bcdDigits(msg[14:20]))
	if err != nil {
		return nil, fmt.Errorf("gt60 datetime: %w", err)
	}
	lat := float64(binary.BigEndian.Uint32(msg[20:24])) / 30000 / 60
	lon := float64(binary.BigEndian.Uint32(msg[24:28])) / 30000 / 60
	speed := float64(msg[28])
	status := binary.BigEndian.Uint16(msg[29:31])
	if status&0x0400 != 0 {
		lat = -lat
	}
	if status&0x0800 != 0 {
		lon = -lon
	}
	return []model.Point{{
		Imei:      imei,
		Lat:       trunc6(lat),
		Lon:       trunc6(lon),
		HSpeed:    speed,
		Timestamp: ts.UTC().Unix(),
	}}, nil
}

func bcdDigits(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, '0'+v>>4, '0'+v&0x0f)
	}
	return string(out)
}
