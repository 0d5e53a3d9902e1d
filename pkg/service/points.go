package service

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/model"
)

// pointsWildcard matches every device subject the receiver publishes on.
const pointsWildcard = "gorynych.points.>"

// ConsumePoints subscribes to the receiver's point stream and routes each
// point into the online track of its device. Runs until ctx is canceled.
func (s *TrackService) ConsumePoints(ctx context.Context, nc *nats.Conn) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe(pointsWildcard, ch)
	if err != nil {
		return err
	}
	//nolint:errcheck // connection teardown follows anyway
	defer sub.Unsubscribe()
	s.l.Info("consuming live points", log.String("subject", pointsWildcard))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var p model.Point
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				s.l.Warn("undecodable point",
					log.String("subject", msg.Subject), log.ErrorField(err))
				continue
			}
			if err := s.RoutePoints(ctx, p.Imei, []model.Point{p}); err != nil {
				s.l.Error("live point not processed",
					log.String("tracker", p.Imei), log.ErrorField(err))
			}
		}
	}
}
