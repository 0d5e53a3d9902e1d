package parsers

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TBoris/gorynych/pkg/model"
)

// TeltonikaGH3000 decodes the Teltonika GH3000 UDP AVL packet.
//
// Packet layout, big endian:
//
//	u16 length, u16 packet id, u8 flag, u8 AVL packet id,
//	u16 imei length, imei ASCII, u8 codec, u8 record count,
//	records, u8 record count again.
//
// Each record: u32 timestamp (2 high bits priority, 30 bits seconds since
// 2007-01-01 UTC), u8 global mask, then the masked element groups. Bit 0
// selects the GPS element, its own mask choosing lat/lon (float32 pair),
// altitude u16, angle u8, speed u8, satellites u8, cell (u16 LAC + u16 id),
// signal quality u8 and operator code u32. Bits 1..3 select IO element
// groups with 1, 2 and 4 byte values.
type TeltonikaGH3000 struct {
	avlPacketID byte
	accepted    int
}

const gh3000HeaderLen = 8

// Seconds are counted from 2007-01-01T00:00:00Z.
const gh3000Epoch = 1167609600

func (*TeltonikaGH3000) CheckCorrectness(msg []byte) error {
	if len(msg) < gh3000HeaderLen+2 {
		return fmt.Errorf("gh3000 packet too short: %d bytes", len(msg))
	}
	imeiLen := int(binary.BigEndian.Uint16(msg[6:8]))
	if imeiLen == 0 || gh3000HeaderLen+imeiLen+2 > len(msg) {
		return fmt.Errorf("gh3000 imei length %d out of bounds", imeiLen)
	}
	return nil
}

func (p *TeltonikaGH3000) Parse(msg []byte) ([]model.Point, error) {
	if err := p.CheckCorrectness(msg); err != nil {
		return nil, err
	}
	p.avlPacketID = msg[5]
	imeiLen := int(binary.BigEndian.Uint16(msg[6:8]))
	imei := string(msg[gh3000HeaderLen : gh3000HeaderLen+imeiLen])

	r := &byteReader{buf: msg, pos: gh3000HeaderLen + imeiLen}
	if _, err := r.u8(); err != nil { // codec
		return nil, err
	}
	count, err := r.u8()
	if err != nil {
		return nil, err
	}
	points := make([]model.Point, 0, count)
	for i := 0; i < int(count); i++ {
		point, err := p.parseRecord(r, imei)
		if err != nil {
			return nil, fmt.Errorf("gh3000 record %d: %w", i, err)
		}
		if point != nil {
			points = append(points, *point)
		}
	}
	p.accepted = int(count)
	return points, nil
}

// Response acknowledges the accepted record count back to the device.
func (p *TeltonikaGH3000) Response() []byte {
	return []byte{0x00, 0x05, 0x00, 0x02, 0x01, p.avlPacketID,
		byte(p.accepted)}
}

//nolint:cyclop // straight walk over the masked element groups
func (p *TeltonikaGH3000) parseRecord(r *byteReader, imei string) (
	*model.Point, error,
) {
	stamp, err := r.u32()
	if err != nil {
		return nil, err
	}
	ts := int64(stamp&0x3fffffff) + gh3000Epoch
	mask, err := r.u8()
	if err != nil {
		return nil, err
	}

	var point *model.Point
	if mask&0x01 != 0 {
		gpsMask, err := r.u8()
		if err != nil {
			return nil, err
		}
		point, err = p.parseGPSElement(r, gpsMask)
		if err != nil {
			return nil, err
		}
	}
	// IO element groups in wire order: value widths 1, 2 and 4 bytes.
	groups := []struct {
		bit   uint8
		width int
	}{{0x02, 1}, {0x04, 2}, {0x08, 4}}
	for _, g := range groups {
		if mask&g.bit == 0 {
			continue
		}
		n, err := r.u8()
		if err != nil {
			return nil, err
		}
		if err := r.skip(int(n) * (1 + g.width)); err != nil {
			return nil, err
		}
	}
	if point != nil {
		point.Imei = imei
		point.Timestamp = ts
	}
	return point, nil
}

func (*TeltonikaGH3000) parseGPSElement(r *byteReader, mask uint8) (
	*model.Point, error,
) {
	var point model.Point
	if mask&0x01 != 0 {
		latBits, err := r.u32()
		if err != nil {
			return nil, err
		}
		lonBits, err := r.u32()
		if err != nil {
			return nil, err
		}
		point.Lat = trunc6(float64(math.Float32frombits(latBits)))
		point.Lon = trunc6(float64(math.Float32frombits(lonBits)))
	}
	if mask&0x02 != 0 {
		alt, err := r.u16()
		if err != nil {
			return nil, err
		}
		point.Alt = int(alt)
	}
	if mask&0x04 != 0 { // angle
		if _, err := r.u8(); err != nil {
			return nil, err
		}
	}
	if mask&0x08 != 0 {
		speed, err := r.u8()
		if err != nil {
			return nil, err
		}
		point.HSpeed = float64(speed)
	}
	if mask&0x10 != 0 { // satellites
		if _, err := r.u8(); err != nil {
			return nil, err
		}
	}
	if mask&0x20 != 0 { // local area code + cell id
		if err := r.skip(4); err != nil {
			return nil, err
		}
	}
	if mask&0x40 != 0 { // signal quality
		if _, err := r.u8(); err != nil {
			return nil, err
		}
	}
	if mask&0x80 != 0 { // operator code
		if err := r.skip(4); err != nil {
			return nil, err
		}
	}
	return &point, nil
}

// byteReader is a bounds-checked big-endian cursor.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("unexpected end of packet at byte %d", r.pos)
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) i16() (int16, error) {
	v, err := r.u16()
	return int16(v), err
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *byteReader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}
