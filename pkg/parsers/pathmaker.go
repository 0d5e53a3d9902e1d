package parsers

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TBoris/gorynych/pkg/model"
)

// PathMaker frame ids.
const (
	pmMagic byte = 0xBA

	pmFrameMobileID     byte = 1
	pmFrameChunk        byte = 2
	pmFrameChunkZipped  byte = 3
	pmFrameChunkConfirm byte = 4
)

const pmHeaderLen = 4

// PathMaker decodes the mobile application stream used by the app13 and
// pmtracker builds. The stream is a sequence of frames, each with a 4-byte
// header: magic 0xBA, frame id, u16 payload length. The device identity
// arrives in its own frame before any path chunk.
//
// A path chunk carries one base point and delta records against it:
//
//	u32 time base, i32 lat, i32 lon (microdegrees), i16 alt, u8 time step,
//	u8 record count, then per record i16 dlat, i16 dlon, i8 dalt,
//	u8 h_speed, i8 v_speed (0.1 m/s units). Deltas accumulate.
type PathMaker struct {
	imei     string
	accepted int
}

func (*PathMaker) CheckCorrectness(msg []byte) error {
	if len(msg) < pmHeaderLen {
		return fmt.Errorf("pathmaker frame too short: %d bytes", len(msg))
	}
	if msg[0] != pmMagic {
		return fmt.Errorf("pathmaker bad magic 0x%02x", msg[0])
	}
	return nil
}

func (p *PathMaker) Parse(msg []byte) ([]model.Point, error) {
	var points []model.Point
	p.accepted = 0
	for len(msg) > 0 {
		if err := p.CheckCorrectness(msg); err != nil {
			return nil, err
		}
		frameID := msg[1]
		size := int(binary.BigEndian.Uint16(msg[2:4]))
		if pmHeaderLen+size > len(msg) {
			return nil, fmt.Errorf("pathmaker frame %d truncated: "+
				"want %d payload bytes, have %d",
				frameID, size, len(msg)-pmHeaderLen)
		}
		payload := msg[pmHeaderLen : pmHeaderLen+size]
		decoded, err := p.parseFrame(frameID, payload)
		if err != nil {
			return nil, err
		}
		points = append(points, decoded...)
		msg = msg[pmHeaderLen+size:]
	}
	p.accepted = len(points)
	return points, nil
}

// Response confirms the number of accepted points.
func (p *PathMaker) Response() []byte {
	resp := []byte{pmMagic, pmFrameChunkConfirm, 0x00, 0x02, 0x00, 0x00}
	binary.BigEndian.PutUint16(resp[4:], uint16(p.accepted))
	return resp
}

func (p *PathMaker) parseFrame(frameID byte, payload []byte) (
	[]model.Point, error,
) {
	switch frameID {
	case pmFrameMobileID:
		p.imei = string(payload)
		return nil, nil
	case pmFrameChunk:
		return p.parseChunk(payload)
	case pmFrameChunkZipped:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("pathmaker zipped chunk: %w", err)
		}
		defer r.Close()
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("pathmaker zipped chunk: %w", err)
		}
		return p.parseChunk(raw)
	case pmFrameChunkConfirm:
		return nil, nil
	default:
		return nil, fmt.Errorf("pathmaker unknown frame id %d", frameID)
	}
}

func (p *PathMaker) parseChunk(payload []byte) ([]model.Point, error) {
	if p.imei == "" {
		return nil, fmt.Errorf("pathmaker chunk before mobile id frame")
	}
	r := &byteReader{buf: payload}
	tbase, err := r.u32()
	if err != nil {
		return nil, err
	}
	latBase, err := r.i32()
	if err != nil {
		return nil, err
	}
	lonBase, err := r.i32()
	if err != nil {
		return nil, err
	}
	altBase, err := r.i16()
	if err != nil {
		return nil, err
	}
	step, err := r.u8()
	if err != nil {
		return nil, err
	}
	count, err := r.u8()
	if err != nil {
		return nil, err
	}

	ts := int64(tbase)
	lat, lon, alt := int32(latBase), int32(lonBase), int(altBase)
	points := make([]model.Point, 0, count)
	for i := 0; i < int(count); i++ {
		dlat, err := r.i16()
		if err != nil {
			return nil, err
		}
		dlon, err := r.i16()
		if err != nil {
			return nil, err
		}
		dalt, err := r.u8()
		if err != nil {
			return nil, err
		}
		hspeed, err := r.u8()
		if err != nil {
			return nil, err
		}
		vspeed, err := r.u8()
		if err != nil {
			return nil, err
		}
		if i > 0 {
			ts += int64(step)
		}
		lat += int32(dlat)
		lon += int32(dlon)
		alt += int(int8(dalt))
		points = append(points, model.Point{
			Imei:      p.imei,
			Lat:       float64(lat) / 1e6,
			Lon:       float64(lon) / 1e6,
			Alt:       alt,
			HSpeed:    float64(hspeed),
			VSpeed:    float64(int8(vspeed)) / 10,
			Timestamp: ts,
		})
	}
	return points, nil
}
