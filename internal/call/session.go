package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/metrics"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
)

// Snapshot is the published view of the current (or last) call.
type Snapshot struct {
	PeerID       string
	PeerSocket   string
	Type         model.CallType
	State        model.CallState
	Incoming     bool
	Muted        bool
	VideoEnabled bool
	// Duration counts whole seconds spent connected.
	Duration     time.Duration
	RemoteTracks int
	// MediaErr is set when local media could not be acquired; the call goes on without it.
	MediaErr error
	// Err is the cause of a failed call.
	Err error
}

// Active reports whether a call is in progress.
func (s Snapshot) Active() bool { return s.State != "" && !s.State.Terminal() }

// Session is one call attempt. All methods run on the event loop.
type Session struct {
	ctrl *Controller

	peerID      string
	peerSocket  string
	callType    model.CallType
	state       model.CallState
	incoming    bool
	remoteOffer model.SessionDescription

	pc        PeerConnection
	senders   map[MediaKind]Sender
	tracks    []Track
	remoteSet bool
	iceQueue  []model.Candidate

	ringTimer     eventloop.Timer
	ringing       bool
	durationTimer eventloop.Timer
	connectedAt   time.Time
	duration      time.Duration
	remoteTracks  int

	muted    bool
	videoOff bool
	mediaErr error
	err      error
	cleaned  bool
}

func newSession(c *Controller, peerID string, typ model.CallType, incoming bool) *Session {
	st := model.CallStateCalling
	if incoming {
		st = model.CallStateIncoming
	}
	return &Session{
		ctrl:     c,
		peerID:   peerID,
		callType: typ,
		state:    st,
		incoming: incoming,
		senders:  make(map[MediaKind]Sender),
	}
}

func (s *Session) State() model.CallState { return s.state }
func (s *Session) PeerID() string         { return s.peerID }

// QueuedCandidates is the number of remote candidates waiting for the remote description.
func (s *Session) QueuedCandidates() int { return len(s.iceQueue) }

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		PeerID:       s.peerID,
		PeerSocket:   s.peerSocket,
		Type:         s.callType,
		State:        s.state,
		Incoming:     s.incoming,
		Muted:        s.muted,
		VideoEnabled: s.callType == model.CallTypeVideo && !s.videoOff,
		Duration:     s.duration,
		RemoteTracks: s.remoteTracks,
		MediaErr:     s.mediaErr,
		Err:          s.err,
	}
}

func (s *Session) kinds() []MediaKind {
	if s.callType == model.CallTypeVideo {
		return []MediaKind{KindAudio, KindVideo}
	}
	return []MediaKind{KindAudio}
}

// start creates the peer connection with its transceivers, then acquires media off-loop.
// Negotiation continues in onMedia.
func (s *Session) start() {
	h := PeerHandlers{
		OnICECandidate: func(c model.Candidate) {
			s.ctrl.sched.Post(func() { s.onLocalCandidate(c) })
		},
		OnStateChange: func(st PeerState) {
			s.ctrl.sched.Post(func() { s.onPeerState(st) })
		},
		OnRemoteTrack: func(kind MediaKind) {
			s.ctrl.sched.Post(func() { s.onRemoteTrack(kind) })
		},
	}
	pc, err := s.ctrl.opts.Factory.NewPeerConnection(h)
	if err != nil {
		s.terminate(model.CallStateFailed, fmt.Errorf("call: peer connection: %w", err))
		return
	}
	s.pc = pc
	kinds := s.kinds()
	for _, k := range kinds {
		snd, err := pc.AddTransceiver(k)
		if err != nil {
			s.terminate(model.CallStateFailed, fmt.Errorf("call: add %s transceiver: %w", k, err))
			return
		}
		s.senders[k] = snd
	}

	var (
		tracks []Track
		merr   error
	)
	timeout := s.ctrl.opts.MediaTimeout
	s.ctrl.sched.Background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		tracks, merr = s.ctrl.opts.Media.Acquire(ctx, kinds)
	}, func() {
		s.onMedia(tracks, merr)
	})
}

func (s *Session) onMedia(tracks []Track, err error) {
	if s.cleaned {
		for _, t := range tracks {
			t.Stop()
		}
		return
	}
	if err != nil {
		logger.Warnf("call: media unavailable, continuing without local tracks: %v", err)
		if !errors.Is(err, ErrMediaUnavailable) {
			err = fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		s.mediaErr = err
	}
	for _, t := range tracks {
		s.tracks = append(s.tracks, t)
		snd, ok := s.senders[t.Kind()]
		if !ok {
			continue
		}
		if rerr := snd.ReplaceTrack(t); rerr != nil {
			logger.Warnf("call: attach %s track: %v", t.Kind(), rerr)
		}
	}
	s.applyMediaFlags()
	s.negotiate()
}

func (s *Session) negotiate() {
	if s.incoming {
		if err := s.pc.SetRemoteDescription(s.remoteOffer); err != nil {
			s.terminate(model.CallStateFailed, fmt.Errorf("%w: %v", ErrBadDescription, err))
			return
		}
		s.remoteSet = true
		s.drainICE()
		answer, err := s.pc.CreateAnswer()
		if err != nil {
			s.terminate(model.CallStateFailed, fmt.Errorf("call: create answer: %w", err))
			return
		}
		if err := s.ctrl.conn.Send(protocol.AnswerCall{To: s.peerSocketOrID(), Answer: answer}); err != nil {
			s.terminate(model.CallStateFailed, fmt.Errorf("%w: %v", ErrTransportLost, err))
			return
		}
		s.toConnected()
		return
	}

	offer, err := s.pc.CreateOffer()
	if err != nil {
		s.terminate(model.CallStateFailed, fmt.Errorf("call: create offer: %w", err))
		return
	}
	err = s.ctrl.conn.Send(protocol.CallUser{UserToCall: s.peerID, Offer: offer, CallType: s.callType})
	if err != nil {
		s.terminate(model.CallStateFailed, fmt.Errorf("%w: %v", ErrTransportLost, err))
		return
	}
	s.publish()
}

// onAnswer applies the callee's answer, enters connected and drains queued candidates.
func (s *Session) onAnswer(ev protocol.CallAnswered) {
	if s.incoming || s.state != model.CallStateCalling || s.pc == nil {
		logger.Debugf("call: unexpected call-answered in %s", s.state)
		return
	}
	if err := s.pc.SetRemoteDescription(ev.Answer); err != nil {
		s.terminate(model.CallStateFailed, fmt.Errorf("%w: %v", ErrBadDescription, err))
		return
	}
	if ev.Socket != "" {
		s.peerSocket = ev.Socket
	}
	s.remoteSet = true
	s.toConnected()
	s.drainICE()
}

func (s *Session) onRemoteCandidate(c model.Candidate) {
	if !s.remoteSet || s.pc == nil {
		s.iceQueue = append(s.iceQueue, c)
		return
	}
	if err := s.pc.AddICECandidate(c); err != nil {
		logger.Warnf("call: add remote candidate: %v", err)
	}
}

func (s *Session) drainICE() {
	queued := s.iceQueue
	s.iceQueue = nil
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			logger.Warnf("call: add queued candidate: %v", err)
		}
	}
}

func (s *Session) onLocalCandidate(c model.Candidate) {
	if s.cleaned {
		return
	}
	err := s.ctrl.conn.Send(protocol.IceCandidate{To: s.peerID, SocketID: s.peerSocket, Candidate: c})
	if err != nil {
		logger.Debugf("call: send candidate: %v", err)
	}
}

func (s *Session) onPeerState(st PeerState) {
	if s.cleaned {
		return
	}
	switch st {
	case PeerFailed:
		s.terminate(model.CallStateFailed, ErrICEFailed)
	case PeerDisconnected:
		logger.Debugf("call: peer connection to %s disconnected", s.peerID)
	}
}

func (s *Session) onRemoteTrack(kind MediaKind) {
	if s.cleaned {
		return
	}
	logger.Debugf("call: remote %s track from %s", kind, s.peerID)
	s.remoteTracks++
	s.publish()
}

func (s *Session) toConnected() {
	s.state = model.CallStateConnected
	s.connectedAt = s.ctrl.sched.Now()
	s.duration = 0
	metrics.IncCall(string(model.CallStateConnected))
	s.armDuration()
	s.publish()
}

func (s *Session) armDuration() {
	s.durationTimer = s.ctrl.sched.AfterFunc(time.Second, func() {
		s.durationTimer = nil
		if s.state != model.CallStateConnected {
			return
		}
		s.duration = s.ctrl.sched.Now().Sub(s.connectedAt).Truncate(time.Second)
		s.publish()
		s.armDuration()
	})
}

func (s *Session) startRinging() {
	s.ringing = true
	s.ctrl.opts.Alerts.Ring(s.peerID, s.callType)
	s.ringTimer = s.ctrl.sched.AfterFunc(s.ctrl.opts.RingInterval, func() {
		s.ringTimer = nil
		if s.state != model.CallStateIncoming || !s.ringing {
			return
		}
		s.startRinging()
	})
}

func (s *Session) stopRinging() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.ringing {
		s.ringing = false
		s.ctrl.opts.Alerts.StopRinging()
	}
}

func (s *Session) applyMediaFlags() {
	for _, t := range s.tracks {
		switch t.Kind() {
		case KindAudio:
			t.SetEnabled(!s.muted)
		case KindVideo:
			t.SetEnabled(!s.videoOff)
		}
	}
}

// hangUp tells the peer the call is over. Best effort.
func (s *Session) hangUp() {
	if err := s.ctrl.conn.Send(protocol.EndCall{To: s.peerID, SocketID: s.peerSocket}); err != nil {
		logger.Debugf("call: send end-call: %v", err)
	}
}

// terminate moves the session to a terminal state. Cleanup runs exactly once.
func (s *Session) terminate(st model.CallState, cause error) {
	if s.cleaned {
		return
	}
	s.cleaned = true
	s.stopRinging()
	if s.durationTimer != nil {
		s.durationTimer.Stop()
		s.durationTimer = nil
	}
	for _, t := range s.tracks {
		t.Stop()
	}
	s.tracks = nil
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			logger.Debugf("call: close peer connection: %v", err)
		}
		s.pc = nil
	}
	s.iceQueue = nil
	s.state = st
	s.err = cause
	if cause != nil {
		logger.Warnf("call: with %s %s: %v", s.peerID, st, cause)
	} else {
		logger.Infof("call: with %s %s", s.peerID, st)
	}
	metrics.IncCall(string(st))
	s.publish()
}

func (s *Session) peerSocketOrID() string {
	if s.peerSocket != "" {
		return s.peerSocket
	}
	return s.peerID
}

func (s *Session) publish() {
	s.ctrl.publish(s)
}
