// Package transporttest provides an in-memory Dialer for component tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/transport"
)

// Dialer hands out fake sessions. Errs are returned by successive dials before any
// session is created; once drained, dials succeed.
type Dialer struct {
	mu       sync.Mutex
	Errs     []error
	tokens   []string
	sessions []*Session
}

func (d *Dialer) Dial(_ context.Context, token string, h transport.Handler) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if len(d.Errs) > 0 {
		err := d.Errs[0]
		d.Errs = d.Errs[1:]
		return nil, err
	}
	s := &Session{handler: h}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// FailNext queues errors for the next dials.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.Errs = append(d.Errs, errs...)
	d.mu.Unlock()
}

// Dials returns how many dial attempts were made.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// Last returns the most recently created session, or nil.
func (d *Dialer) Last() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

// Sessions returns every session created so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// Session records outbound events and lets tests inject inbound traffic.
type Session struct {
	mu      sync.Mutex
	handler transport.Handler
	sent    []protocol.Event
	closed  bool
	SendErr error
}

func (s *Session) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether the owner closed the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Sent returns a copy of every event sent on the session.
func (s *Session) Sent() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event(nil), s.sent...)
}

// SentNamed returns the sent events with the given name.
func (s *Session) SentNamed(name string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range s.Sent() {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (s *Session) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

// Deliver injects an inbound event as if it came from the relay.
func (s *Session) Deliver(ev protocol.Event) {
	if s.handler.OnEvent != nil {
		s.handler.OnEvent(ev)
	}
}

// Drop simulates the relay side closing the connection.
func (s *Session) Drop(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.handler.OnClose != nil {
		s.handler.OnClose(err)
	}
}
