package receiver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/parsers"
)

// TCPListener accepts tracker connections of one device family. Every
// connection gets its own parser instance because some protocols carry
// state between frames of a session.
type TCPListener struct {
	Addr       string
	DeviceType string
	Service    *Service

	l *log.Logger
}

func NewTCPListener(addr, deviceType string, svc *Service) *TCPListener {
	return &TCPListener{
		Addr:       addr,
		DeviceType: deviceType,
		Service:    svc,
		l:          log.Default().Named("receiver.tcp"),
	}
}

// Run serves until ctx is canceled.
func (t *TCPListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.Addr)
	if err != nil {
		return err
	}
	t.l.Info("listening",
		log.String("addr", t.Addr), log.String("device", t.DeviceType))
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.l.Error("accept failed", log.ErrorField(err))
			continue
		}
		go t.serve(conn)
	}
}

func (t *TCPListener) serve(conn net.Conn) {
	defer conn.Close()
	parser, err := parsers.New(t.DeviceType)
	if err != nil {
		t.l.Error("no parser", log.String("device", t.DeviceType),
			log.ErrorField(err))
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		resp, err := t.Service.HandleMessage(parser, msg, t.DeviceType, "tcp")
		if err != nil {
			t.l.Debug("message rejected",
				log.String("device", t.DeviceType), log.ErrorField(err))
			continue
		}
		if len(resp) > 0 {
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}
}

// UDPListener serves datagram trackers. Parser state is kept per remote
// address so multi-frame sessions survive between datagrams; sessions idle
// longer than the TTL are evicted so the map does not grow with every source
// address ever heard.
type UDPListener struct {
	Addr       string
	DeviceType string
	Service    *Service

	l *log.Logger
}

const udpSessionTTL = 10 * time.Minute

func NewUDPListener(addr, deviceType string, svc *Service) *UDPListener {
	return &UDPListener{
		Addr:       addr,
		DeviceType: deviceType,
		Service:    svc,
		l:          log.Default().Named("receiver.udp"),
	}
}

type udpSession struct {
	parser parsers.Parser
	seen   time.Time
}

type udpSessions struct {
	ttl       time.Duration
	entries   map[string]*udpSession
	lastSweep time.Time
	now       func() time.Time
}

func newUDPSessions(ttl time.Duration) *udpSessions {
	return &udpSessions{
		ttl:     ttl,
		entries: make(map[string]*udpSession),
		now:     time.Now,
	}
}

// get returns the live session for addr, evicting stale ones first. A session
// past its TTL is discarded rather than resumed: the device has long started
// a new conversation.
func (s *udpSessions) get(addr string) (parsers.Parser, bool) {
	now := s.now()
	s.sweep(now)
	sess, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	if now.Sub(sess.seen) >= s.ttl {
		delete(s.entries, addr)
		return nil, false
	}
	sess.seen = now
	return sess.parser, true
}

func (s *udpSessions) put(addr string, p parsers.Parser) {
	s.entries[addr] = &udpSession{parser: p, seen: s.now()}
}

func (s *udpSessions) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl {
		return
	}
	s.lastSweep = now
	for addr, sess := range s.entries {
		if now.Sub(sess.seen) >= s.ttl {
			delete(s.entries, addr)
		}
	}
}

func (u *UDPListener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", u.Addr)
	if err != nil {
		return err
	}
	u.l.Info("listening",
		log.String("addr", u.Addr), log.String("device", u.DeviceType))
	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	sessions := newUDPSessions(udpSessionTTL)
	buf := make([]byte, 4096)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.l.Error("read failed", log.ErrorField(err))
			continue
		}
		parser, ok := sessions.get(addr.String())
		if !ok {
			parser, err = parsers.New(u.DeviceType)
			if err != nil {
				return err
			}
			sessions.put(addr.String(), parser)
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		resp, err := u.Service.HandleMessage(parser, msg, u.DeviceType, "udp")
		if err != nil {
			u.l.Debug("message rejected",
				log.String("device", u.DeviceType), log.ErrorField(err))
			continue
		}
		if len(resp) > 0 {
			//nolint:errcheck // ack loss is the device's problem
			pc.WriteTo(resp, addr)
		}
	}
}
