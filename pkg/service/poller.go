package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/eventstore"
)

// ErrInProgress is returned by a handler whose unit of work is already being
// processed by an earlier delivery. The event must stay queued: the first
// attempt may still fail, and only its outcome decides whether the event is
// done.
var ErrInProgress = errors.New("unit of work in progress")

// EventSource is the dispatch side of the event store.
type EventSource interface {
	LoadUndispatched(ctx context.Context, limit int) (
		[]eventstore.PersistedEvent, error)
	MarkDispatched(ctx context.Context, seq int64) error
}

// Handler consumes one dispatched event. Returning an error leaves the event
// in the queue for a later redelivery, so handlers must tolerate duplicates.
type Handler func(ctx context.Context, ev eventstore.PersistedEvent) error

// Poller drains the dispatch queue and routes events to handlers by event
// name. An event is acknowledged only after every interested handler
// returned without error.
type Poller struct {
	source   EventSource
	interval time.Duration
	limit    int
	workers  int
	handlers map[string][]Handler
	catchAll []Handler
	l        *log.Logger
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithBatchLimit(n int) PollerOption {
	return func(p *Poller) { p.limit = n }
}

// WithWorkers bounds how many events of one batch are handled concurrently.
func WithWorkers(n int) PollerOption {
	return func(p *Poller) { p.workers = n }
}

func WithPollerLogger(l *log.Logger) PollerOption {
	return func(p *Poller) { p.l = l }
}

func NewPoller(source EventSource, opts ...PollerOption) *Poller {
	ret := &Poller{
		source:   source,
		interval: 2 * time.Second,
		limit:    50,
		workers:  4,
		handlers: make(map[string][]Handler),
		l:        log.Default().Named("poller"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Register subscribes h to events with the given name.
func (p *Poller) Register(eventName string, h Handler) {
	p.handlers[eventName] = append(p.handlers[eventName], h)
}

// RegisterAll subscribes h to every event regardless of name.
func (p *Poller) RegisterAll(h Handler) {
	p.catchAll = append(p.catchAll, h)
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.l.Error("drain failed", log.ErrorField(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain consumes batches until the queue is empty or no event of a batch
// could be acknowledged. Stuck events then wait for the next tick instead of
// being reloaded in a hot loop.
func (p *Poller) drain(ctx context.Context) error {
	for {
		batch, err := p.source.LoadUndispatched(ctx, p.limit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		var acked atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.workers)
		for _, ev := range batch {
			g.Go(func() error {
				if p.dispatch(gctx, ev) {
					acked.Add(1)
				}
				return nil
			})
		}
		//nolint:errcheck // workers never return errors
		g.Wait()
		if acked.Load() == 0 {
			return nil
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, ev eventstore.PersistedEvent) bool {
	name := ev.Event.EventName()
	for _, h := range p.catchAll {
		if err := h(ctx, ev); err != nil {
			p.logFailure(name, ev.Seq, err)
			return false
		}
	}
	for _, h := range p.handlers[name] {
		if err := h(ctx, ev); err != nil {
			p.logFailure(name, ev.Seq, err)
			return false
		}
	}
	if err := p.source.MarkDispatched(ctx, ev.Seq); err != nil {
		p.l.Error("ack failed", log.Int64("seq", ev.Seq), log.ErrorField(err))
		return false
	}
	return true
}

// logFailure keeps an in-progress skip quiet; everything else is a real
// handler failure.
func (p *Poller) logFailure(name string, seq int64, err error) {
	if errors.Is(err, ErrInProgress) {
		p.l.Debug("event skipped, work in progress",
			log.String("event", name), log.Int64("seq", seq))
		return
	}
	p.l.Error("handler failed",
		log.String("event", name), log.Int64("seq", seq),
		log.ErrorField(err))
}
