package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/eventstore"
)

// ForwardedEvent is the wire shape of a published event.
type ForwardedEvent struct {
	Seq           int64           `json:"seq"`
	EventName     string          `json:"event_name"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredOn    time.Time       `json:"occured_on"`
	Payload       json.RawMessage `json:"payload"`
}

// NatsForwarder publishes every dispatched event to
// gorynych.events.<aggregate_type>.<event_name> so external subscribers see
// the log without polling the database.
type NatsForwarder struct {
	nc *nats.Conn
	l  *log.Logger
}

func NewNatsForwarder(nc *nats.Conn) *NatsForwarder {
	return &NatsForwarder{nc: nc, l: log.Default().Named("forwarder")}
}

func (f *NatsForwarder) Register(p *Poller) {
	p.RegisterAll(f.Handle)
}

func (f *NatsForwarder) Handle(
	_ context.Context, pe eventstore.PersistedEvent,
) error {
	raw, err := pe.Event.Payload()
	if err != nil {
		return err
	}
	msg, err := json.Marshal(ForwardedEvent{
		Seq:           pe.Seq,
		EventName:     pe.Event.EventName(),
		AggregateID:   pe.Event.AggregateID(),
		AggregateType: pe.Event.AggregateType(),
		OccurredOn:    pe.Event.OccurredOn(),
		Payload:       raw,
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("gorynych.events.%s.%s",
		pe.Event.AggregateType(), pe.Event.EventName())
	if err := f.nc.Publish(subject, msg); err != nil {
		return err
	}
	f.l.Debug("event forwarded",
		log.String("subject", subject), log.Int64("seq", pe.Seq))
	return nil
}
