// Package connection owns the single transport session of the current identity.
//
// The Manager is loop-confined: every method must be called on the event loop that was
// passed to New, and every observer callback runs there too. Transport callbacks are
// re-posted onto the loop and tagged with a generation number, so traffic from a session
// that was already replaced or torn down is dropped.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/metrics"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/retry"
	"github.com/rtchat/internal/transport"
)

var (
	ErrNotConnected = errors.New("connection: not connected")
	ErrNoIdentity   = errors.New("connection: no identity")
	// ErrAuthRejected is carried by the error status; it is never retried.
	ErrAuthRejected = errors.New("connection: authentication rejected")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StatusChange is what observers receive on every transition.
type StatusChange struct {
	Status Status
	// Reconnected is set on a successful connection that follows an earlier one
	// for the same identity.
	Reconnected bool
	// Exhausted is set when the reconnection policy gave up.
	Exhausted bool
	// Manual is set when the user closed the connection.
	Manual bool
	Err    error
}

type Options struct {
	Policy      retry.Policy
	DialTimeout time.Duration
}

type Manager struct {
	sched       eventloop.Scheduler
	dialer      transport.Dialer
	policy      retry.Policy
	dialTimeout time.Duration

	identity string
	token    string
	status   Status
	session  transport.Session
	gen      uint64
	// closedGen records a close that arrived before its dial completed.
	closedGen uint64

	attempt        int
	everConnected  bool
	reconnectTimer eventloop.Timer

	statusObs eventloop.Observers[StatusChange]
	eventObs  eventloop.Observers[protocol.Event]
}

func New(sched eventloop.Scheduler, dialer transport.Dialer, opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Policy.BaseDelay <= 0 {
		opts.Policy = retry.Reconnect
	}
	return &Manager{
		sched:       sched,
		dialer:      dialer,
		policy:      opts.Policy,
		dialTimeout: opts.DialTimeout,
		status:      StatusDisconnected,
	}
}

func (m *Manager) Status() Status   { return m.status }
func (m *Manager) Identity() string { return m.identity }
func (m *Manager) Connected() bool  { return m.status == StatusConnected && m.session != nil }

// OnStatus subscribes to status changes; the returned func unsubscribes.
func (m *Manager) OnStatus(fn func(StatusChange)) func() {
	return m.statusObs.Add(fn)
}

// OnEvent subscribes to inbound protocol events of the live session.
func (m *Manager) OnEvent(fn func(protocol.Event)) func() {
	return m.eventObs.Add(fn)
}

// Connect binds the manager to identity. It is a no-op while a session for the same
// identity is live or being established; otherwise any prior session is torn down first.
func (m *Manager) Connect(identity, token string) error {
	if identity == "" {
		return ErrNoIdentity
	}
	if identity == m.identity && token == m.token &&
		(m.status == StatusConnected || m.status == StatusConnecting) {
		return nil
	}
	m.teardown()
	m.identity = identity
	m.token = token
	m.attempt = 0
	m.everConnected = false
	m.dial()
	return nil
}

// Disconnect closes the session and forgets the identity. Later sends fail fast.
func (m *Manager) Disconnect() {
	hadIdentity := m.identity != ""
	m.teardown()
	m.identity = ""
	m.token = ""
	m.attempt = 0
	m.everConnected = false
	if m.status != StatusDisconnected || hadIdentity {
		m.transition(StatusChange{Status: StatusDisconnected, Manual: true})
	}
}

// Reconnect asks for an immediate attempt with a fresh retry budget.
// It does nothing while connected or connecting.
func (m *Manager) Reconnect() error {
	switch {
	case m.identity == "":
		return ErrNoIdentity
	case m.status == StatusError:
		return ErrAuthRejected
	case m.status == StatusConnected || m.status == StatusConnecting:
		return nil
	}
	m.stopReconnectTimer()
	m.attempt = 0
	m.dial()
	return nil
}

// Nudge asks for an attempt on behalf of pending outbound work. Unlike
// Reconnect it keeps the retry budget: a scheduled attempt keeps its backoff,
// and once the budget is spent each nudge makes a single attempt.
func (m *Manager) Nudge() error {
	switch {
	case m.identity == "":
		return ErrNoIdentity
	case m.status == StatusError:
		return ErrAuthRejected
	case m.status == StatusConnected || m.status == StatusConnecting, m.reconnectTimer != nil:
		return nil
	}
	m.dial()
	return nil
}

// Send hands ev to the live session.
func (m *Manager) Send(ev protocol.Event) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if err := m.session.Send(ev); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return fmt.Errorf("connection.Send %s: %w", ev.Name(), err)
	}
	return nil
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	token := m.token
	m.transition(StatusChange{Status: StatusConnecting})

	handler := transport.Handler{
		OnEvent: func(ev protocol.Event) {
			m.sched.Post(func() { m.onEvent(gen, ev) })
		},
		OnClose: func(err error) {
			m.sched.Post(func() { m.onClosed(gen, err) })
		},
	}
	var (
		sess transport.Session
		err  error
	)
	m.sched.Background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
		defer cancel()
		sess, err = m.dialer.Dial(ctx, token, handler)
	}, func() {
		m.onDialed(gen, sess, err)
	})
}

func (m *Manager) onDialed(gen uint64, sess transport.Session, err error) {
	if gen != m.gen {
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			m.failAuth(err)
			return
		}
		logger.Warnf("connection: dial %s failed: %v", m.identity, err)
		m.retryAfter(err)
		return
	}
	if m.closedGen == gen {
		_ = sess.Close()
		m.retryAfter(transport.ErrClosed)
		return
	}

	m.session = sess
	m.attempt = 0
	if err := sess.Send(protocol.Join{UserID: m.identity}); err != nil {
		logger.Warnf("connection: join %s: %v", m.identity, err)
	}
	reconnected := m.everConnected
	m.everConnected = true
	logger.Infof("connection: connected as %s (reconnected=%v)", m.identity, reconnected)
	m.transition(StatusChange{Status: StatusConnected, Reconnected: reconnected})
}

func (m *Manager) onEvent(gen uint64, ev protocol.Event) {
	if gen != m.gen {
		return
	}
	if authErr, ok := ev.(protocol.AuthError); ok {
		m.failAuth(fmt.Errorf("%s", authErr.Reason))
		return
	}
	m.eventObs.Notify(ev)
}

func (m *Manager) onClosed(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	if m.session == nil {
		// The dial has not completed yet; onDialed will see it.
		m.closedGen = gen
		return
	}
	m.session = nil
	if m.status == StatusError {
		return
	}
	if err == nil {
		err = transport.ErrClosed
	}
	logger.Warnf("connection: session of %s closed: %v", m.identity, err)
	m.retryAfter(err)
}

// retryAfter moves to disconnected and arms the next attempt, or reports exhaustion.
func (m *Manager) retryAfter(cause error) {
	m.attempt++
	delay, ok := m.policy.Delay(m.attempt)
	if !ok {
		logger.Errorf("connection: giving up on %s after %d attempts: %v", m.identity, m.attempt-1, cause)
		m.transition(StatusChange{Status: StatusDisconnected, Exhausted: true, Err: cause})
		return
	}
	metrics.IncReconnectAttempt()
	m.stopReconnectTimer()
	m.reconnectTimer = m.sched.AfterFunc(delay, func() {
		m.reconnectTimer = nil
		m.dial()
	})
	m.transition(StatusChange{Status: StatusDisconnected, Err: cause})
}

func (m *Manager) failAuth(cause error) {
	logger.Errorf("connection: %s rejected: %v", m.identity, cause)
	m.teardown()
	m.transition(StatusChange{Status: StatusError, Err: fmt.Errorf("%w: %v", ErrAuthRejected, cause)})
}

// teardown invalidates the current generation, closes the session and cancels retries.
func (m *Manager) teardown() {
	m.gen++
	m.stopReconnectTimer()
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
}

func (m *Manager) stopReconnectTimer() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) transition(ch StatusChange) {
	m.status = ch.Status
	metrics.IncConnectionStatus(string(ch.Status))
	m.statusObs.Notify(ch)
}
