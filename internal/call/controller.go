// Package call runs one-to-one WebRTC calls signaled over the realtime connection.
//
// A Controller owns at most one non-terminal Session. Outgoing calls go
// calling -> connected -> ended; incoming calls go incoming -> connected -> ended.
// Any non-terminal state may end in failed on a signaling, ICE or transport fault.
// Media capture and peer connections are reached through the capability
// interfaces in capabilities.go so the state machine runs without a browser stack.
package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
)

var (
	ErrNoIdentity       = errors.New("call: no identity")
	ErrNoPeer           = errors.New("call: peer required")
	ErrSelfCall         = errors.New("call: cannot call yourself")
	ErrInvalidCallType  = errors.New("call: invalid call type")
	ErrCallInProgress   = errors.New("call: another call is in progress")
	ErrNoActiveCall     = errors.New("call: no active call")
	ErrNotIncoming      = errors.New("call: call is not ringing")
	ErrCallNotConnected = errors.New("call: call is not connected")
	ErrMediaUnavailable = errors.New("call: media unavailable")
	ErrTransportLost    = errors.New("call: signaling transport lost")
	ErrICEFailed        = errors.New("call: ice connection failed")
	ErrBadDescription   = errors.New("call: malformed session description")
	ErrRemoteFailed     = errors.New("call: failed by relay")
	ErrNoFactory        = errors.New("call: no peer factory configured")
)

// Conn is the part of connection.Manager the controller needs.
type Conn interface {
	Send(ev protocol.Event) error
	Identity() string
	OnEvent(fn func(protocol.Event)) func()
	OnStatus(fn func(connection.StatusChange)) func()
}

type Options struct {
	Factory      PeerFactory
	Media        MediaSource
	Alerts       AlertSink
	RingInterval time.Duration
	MediaTimeout time.Duration
}

type Controller struct {
	sched  eventloop.Scheduler
	conn   Conn
	opts   Options
	active *Session

	store  *eventloop.Store[Snapshot]
	cancel []func()
}

func NewController(sched eventloop.Scheduler, conn Conn, opts Options) *Controller {
	if opts.Media == nil {
		opts.Media = NoMedia{}
	}
	if opts.Alerts == nil {
		opts.Alerts = NopAlerts{}
	}
	if opts.RingInterval <= 0 {
		opts.RingInterval = 3 * time.Second
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = 30 * time.Second
	}
	c := &Controller{
		sched: sched,
		conn:  conn,
		opts:  opts,
		store: eventloop.NewStore(Snapshot{}),
	}
	c.cancel = append(c.cancel, conn.OnEvent(c.onEvent), conn.OnStatus(c.onStatus))
	return c
}

// Snapshot returns the current call view. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot { return c.store.Load() }

func (c *Controller) Subscribe(fn func(Snapshot)) func() { return c.store.Subscribe(fn) }

// Active returns the non-terminal session, if any.
func (c *Controller) Active() *Session {
	if c.active == nil || c.active.state.Terminal() {
		return nil
	}
	return c.active
}

// StartOutgoing places a call to peerID. The session starts in calling and stays
// there until the callee answers.
func (c *Controller) StartOutgoing(peerID string, typ model.CallType) error {
	self := c.conn.Identity()
	switch {
	case self == "":
		return ErrNoIdentity
	case peerID == "":
		return ErrNoPeer
	case peerID == self:
		return ErrSelfCall
	case c.Active() != nil:
		return ErrCallInProgress
	}
	if typ == "" {
		typ = model.CallTypeAudio
	}
	if typ != model.CallTypeAudio && typ != model.CallTypeVideo {
		return ErrInvalidCallType
	}
	if c.opts.Factory == nil {
		return ErrNoFactory
	}
	s := newSession(c, peerID, typ, false)
	c.active = s
	logger.Infof("call: calling %s (%s)", peerID, typ)
	s.publish()
	s.start()
	return nil
}

// Accept answers the ringing incoming call.
func (c *Controller) Accept() error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveCall
	}
	if s.state != model.CallStateIncoming {
		return ErrNotIncoming
	}
	if c.opts.Factory == nil {
		return ErrNoFactory
	}
	if s.pc != nil {
		return nil
	}
	s.stopRinging()
	s.start()
	return nil
}

// Reject declines the ringing incoming call.
func (c *Controller) Reject() error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveCall
	}
	if s.state != model.CallStateIncoming {
		return ErrNotIncoming
	}
	s.hangUp()
	s.terminate(model.CallStateEnded, nil)
	return nil
}

// End hangs up the current call in any non-terminal state.
func (c *Controller) End() error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveCall
	}
	s.hangUp()
	s.terminate(model.CallStateEnded, nil)
	return nil
}

// SetMuted enables or disables the local audio tracks. No renegotiation happens.
func (c *Controller) SetMuted(muted bool) error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveCall
	}
	if s.state != model.CallStateConnected {
		return ErrCallNotConnected
	}
	s.muted = muted
	s.applyMediaFlags()
	s.publish()
	return nil
}

// SetVideoEnabled enables or disables the local video tracks.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	s := c.Active()
	if s == nil {
		return ErrNoActiveCall
	}
	if s.state != model.CallStateConnected {
		return ErrCallNotConnected
	}
	s.videoOff = !enabled
	s.applyMediaFlags()
	s.publish()
	return nil
}

// Close ends any call and detaches from the connection.
func (c *Controller) Close() {
	if s := c.Active(); s != nil {
		s.hangUp()
		s.terminate(model.CallStateEnded, nil)
	}
	for _, fn := range c.cancel {
		fn()
	}
	c.cancel = nil
}

func (c *Controller) onEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.CallMade:
		c.onCallMade(e)
	case protocol.CallAnswered:
		if s := c.Active(); s != nil {
			s.onAnswer(e)
		}
	case protocol.IceCandidate:
		s := c.Active()
		if s == nil || (e.From != "" && e.From != s.peerID) {
			return
		}
		s.onRemoteCandidate(e.Candidate)
	case protocol.CallEnded:
		s := c.Active()
		if s == nil || (e.From != "" && e.From != s.peerID) {
			return
		}
		s.terminate(model.CallStateEnded, nil)
	case protocol.CallFailed:
		if s := c.Active(); s != nil {
			s.terminate(model.CallStateFailed, fmt.Errorf("%w: %s", ErrRemoteFailed, e.Reason))
		}
	}
}

func (c *Controller) onCallMade(e protocol.CallMade) {
	if e.From == "" {
		return
	}
	if s := c.Active(); s != nil {
		logger.Infof("call: busy, declining call from %s", e.From)
		if err := c.conn.Send(protocol.EndCall{To: e.From, SocketID: e.Socket}); err != nil {
			logger.Debugf("call: send busy end-call: %v", err)
		}
		return
	}
	typ := e.CallType
	if typ != model.CallTypeVideo {
		typ = model.CallTypeAudio
	}
	s := newSession(c, e.From, typ, true)
	s.peerSocket = e.Socket
	s.remoteOffer = e.Offer
	c.active = s
	logger.Infof("call: incoming %s call from %s", typ, e.From)
	s.startRinging()
	s.publish()
}

// onStatus ends the call when the connection it was negotiated over is gone.
// A reconnect gets a fresh relay session, so the old call cannot be resumed.
func (c *Controller) onStatus(ch connection.StatusChange) {
	s := c.Active()
	if s == nil {
		return
	}
	switch {
	case ch.Exhausted || ch.Status == connection.StatusError:
		s.terminate(model.CallStateFailed, ErrTransportLost)
	case ch.Manual:
		s.terminate(model.CallStateEnded, nil)
	case ch.Status == connection.StatusConnected && ch.Reconnected:
		s.terminate(model.CallStateEnded, ErrTransportLost)
	}
}

func (c *Controller) publish(s *Session) {
	if s != c.active {
		return
	}
	c.store.Publish(s.snapshot())
}
