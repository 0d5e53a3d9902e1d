// Package parsers decodes tracker wire formats into canonical track points.
// Parsers are stateful per connection: some protocols carry the device
// identity in a separate frame or expect an acknowledgement.
package parsers

import (
	"fmt"

	"github.com/TBoris/gorynych/pkg/model"
)

// Device types as used in routing keys and audit records.
const (
	DeviceTR203     = "tr203"
	DeviceGH3000    = "telt_gh3000"
	DeviceMobile    = "mobile"
	DeviceApp13     = "app13"
	DevicePmtracker = "pmtracker"
	DeviceGT60      = "gt60"
	DeviceSBD       = "new_mobile_sbd"
)

// Parser validates and decodes one device message into points.
type Parser interface {
	// CheckCorrectness rejects a damaged message before any decoding.
	CheckCorrectness(msg []byte) error
	Parse(msg []byte) ([]model.Point, error)
}

// Responder is implemented by parsers whose protocol expects an
// acknowledgement frame after a successful parse.
type Responder interface {
	Response() []byte
}

// New returns a fresh parser for the device type. A new instance is needed
// per connection, parsers accumulate session state.
func New(deviceType string) (Parser, error) {
	switch deviceType {
	case DeviceTR203:
		return &GlobalSatTR203{}, nil
	case DeviceGH3000:
		return &TeltonikaGH3000{}, nil
	case DeviceMobile:
		return &MobileTracker{}, nil
	case DeviceApp13, DevicePmtracker:
		return &PathMaker{}, nil
	case DeviceGT60:
		return &RedViewGT60{}, nil
	case DeviceSBD:
		return &SBDParser{}, nil
	default:
		return nil, fmt.Errorf("no parser for device type %q", deviceType)
	}
}

// DeviceTypes lists every supported device type.
func DeviceTypes() []string {
	return []string{DeviceTR203, DeviceGH3000, DeviceMobile, DeviceApp13,
		DevicePmtracker, DeviceGT60, DeviceSBD}
}
