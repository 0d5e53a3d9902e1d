package parsers

import (
	"encoding/binary"
	"fmt"

	"github.com/TBoris/gorynych/pkg/model"
)

// SBDParser decodes the Iridium SBD DirectIP mobile-originated envelope of
// the hybrid satellite tracker. The envelope is u8 protocol revision, u16
// overall length, then information elements (u8 id, u16 length, payload):
// 0x01 carries the session header with the IMEI, 0x02 carries the payload,
// which is a PathMaker path chunk.
type SBDParser struct {
	chunk PathMaker
}

const (
	sbdRevision     = 0x01
	sbdIEHeader     = 0x01
	sbdIEPayload    = 0x02
	sbdHeaderIELen  = 28
	sbdImeiOffset   = 4
	sbdStatusOffset = 19
)

func (*SBDParser) CheckCorrectness(msg []byte) error {
	if len(msg) < 3 {
		return fmt.Errorf("sbd envelope too short: %d bytes", len(msg))
	}
	if msg[0] != sbdRevision {
		return fmt.Errorf("sbd unknown protocol revision 0x%02x", msg[0])
	}
	if int(binary.BigEndian.Uint16(msg[1:3])) != len(msg)-3 {
		return fmt.Errorf("sbd envelope length mismatch")
	}
	return nil
}

func (p *SBDParser) Parse(msg []byte) ([]model.Point, error) {
	if err := p.CheckCorrectness(msg); err != nil {
		return nil, err
	}
	var imei string
	var payload []byte
	rest := msg[3:]
	for len(rest) > 0 {
		if len(rest) < 3 {
			return nil, fmt.Errorf("sbd truncated information element")
		}
		id := rest[0]
		size := int(binary.BigEndian.Uint16(rest[1:3]))
		if 3+size > len(rest) {
			return nil, fmt.Errorf("sbd element 0x%02x truncated", id)
		}
		body := rest[3 : 3+size]
		switch id {
		case sbdIEHeader:
			if size < sbdHeaderIELen {
				return nil, fmt.Errorf("sbd header element too short: %d", size)
			}
			imei = string(body[sbdImeiOffset : sbdImeiOffset+15])
			if status := body[sbdStatusOffset]; status != 0 {
				return nil, fmt.Errorf("sbd session failed with status %d", status)
			}
		case sbdIEPayload:
			payload = body
		}
		rest = rest[3+size:]
	}
	if imei == "" {
		return nil, fmt.Errorf("sbd envelope without session header")
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("sbd envelope without payload")
	}
	p.chunk.imei = imei
	return p.chunk.parseChunk(payload)
}
