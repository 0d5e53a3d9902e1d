package receiver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/model"
	"github.com/TBoris/gorynych/pkg/parsers"
)

// Sender publishes parsed points downstream. *nats.Conn satisfies it.
type Sender interface {
	Publish(subject string, data []byte) error
}

// LastSeen is the checker's view of one device: when it was last heard and
// where it was.
type LastSeen struct {
	Point model.Point
	Heard int64
}

// Service runs the receiving pipeline: correctness check, audit log, parse,
// publish. Parsers are stateful per connection and are owned by the
// listeners; the service itself is shared.
type Service struct {
	sender Sender
	audit  AuditLog
	l      *log.Logger

	mu   sync.Mutex
	seen map[string]LastSeen
}

func NewService(sender Sender, audit AuditLog, l *log.Logger) *Service {
	if l == nil {
		l = log.Default().Named("receiver")
	}
	return &Service{
		sender: sender,
		audit:  audit,
		l:      l,
		seen:   make(map[string]LastSeen),
	}
}

// PointsSubject names the NATS subject points of a device type go to.
func PointsSubject(deviceType string) string {
	return fmt.Sprintf("gorynych.points.%s", deviceType)
}

// HandleMessage pushes one raw message through the pipeline and returns the
// device acknowledgment bytes, if the protocol defines any.
func (s *Service) HandleMessage(
	p parsers.Parser, msg []byte, deviceType, proto string,
) ([]byte, error) {
	now := time.Now().Unix()
	if err := p.CheckCorrectness(msg); err != nil {
		s.audit.LogErr(err, msg, now, proto, deviceType)
		return nil, err
	}
	s.audit.LogMsg(msg, now, proto, deviceType)
	points, err := p.Parse(msg)
	if err != nil {
		return nil, err
	}
	subject := PointsSubject(deviceType)
	for _, pt := range points {
		raw, merr := json.Marshal(pt)
		if merr != nil {
			return nil, merr
		}
		if err = s.sender.Publish(subject, raw); err != nil {
			return nil, err
		}
		s.remember(pt, now)
	}
	if r, ok := p.(parsers.Responder); ok {
		return r.Response(), nil
	}
	return nil, nil
}

func (s *Service) remember(pt model.Point, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[pt.Imei] = LastSeen{Point: pt, Heard: now}
}

// Device reports the last known state of one tracker.
func (s *Service) Device(imei string) (LastSeen, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.seen[imei]
	return ls, ok
}

// Devices lists every tracker heard since start.
func (s *Service) Devices() map[string]LastSeen {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make(map[string]LastSeen, len(s.seen))
	for k, v := range s.seen {
		ret[k] = v
	}
	return ret
}
