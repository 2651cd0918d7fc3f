// Package pionrtc implements the call capabilities on top of pion/webrtc.
package pionrtc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/rtchat/internal/call"
	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/model"
)

var errForeignTrack = errors.New("pionrtc: track was not created by this package")

type Factory struct {
	cfg webrtc.Configuration
}

func NewFactory(servers []config.IceServer) *Factory {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) NewPeerConnection(h call.PeerHandlers) (call.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("pionrtc.NewPeerConnection: %w", err)
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || h.OnICECandidate == nil {
			return
		}
		h.OnICECandidate(fromInit(c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if h.OnStateChange != nil {
			h.OnStateChange(peerState(s))
		}
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if h.OnRemoteTrack != nil {
			h.OnRemoteTrack(call.MediaKind(t.Kind().String()))
		}
	})
	return &peer{pc: pc}, nil
}

type peer struct {
	pc *webrtc.PeerConnection
}

func (p *peer) AddTransceiver(kind call.MediaKind) (call.Sender, error) {
	codec, err := codecType(kind)
	if err != nil {
		return nil, err
	}
	tr, err := p.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, fmt.Errorf("pionrtc.AddTransceiver: %w", err)
	}
	return &sender{s: tr.Sender()}, nil
}

func (p *peer) CreateOffer() (model.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return model.SessionDescription{}, fmt.Errorf("pionrtc.CreateOffer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return model.SessionDescription{}, fmt.Errorf("pionrtc.CreateOffer: %w", err)
	}
	return model.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *peer) CreateAnswer() (model.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return model.SessionDescription{}, fmt.Errorf("pionrtc.CreateAnswer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return model.SessionDescription{}, fmt.Errorf("pionrtc.CreateAnswer: %w", err)
	}
	return model.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peer) SetRemoteDescription(d model.SessionDescription) error {
	typ := webrtc.NewSDPType(d.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("pionrtc.SetRemoteDescription: unknown type %q", d.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: d.SDP})
}

func (p *peer) AddICECandidate(c model.Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *peer) Close() error { return p.pc.Close() }

type sender struct {
	s *webrtc.RTPSender
}

func (s *sender) ReplaceTrack(t call.Track) error {
	lt, ok := t.(*Track)
	if !ok {
		return errForeignTrack
	}
	return s.s.ReplaceTrack(lt.local)
}

// Media creates sample-fed local tracks. The application writes encoded frames with
// Track.WriteSample; capture and encoding are outside this package.
type Media struct {
	StreamID string
}

func (m Media) Acquire(ctx context.Context, kinds []call.MediaKind) ([]call.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := m.StreamID
	if stream == "" {
		stream = uuid.NewString()
	}
	out := make([]call.Track, 0, len(kinds))
	for _, k := range kinds {
		t, err := NewTrack(k, stream)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Track is a local static-sample track that drops samples while disabled or stopped.
type Track struct {
	kind    call.MediaKind
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func NewTrack(kind call.MediaKind, streamID string) (*Track, error) {
	var mime string
	switch kind {
	case call.KindAudio:
		mime = webrtc.MimeTypeOpus
	case call.KindVideo:
		mime = webrtc.MimeTypeVP8
	default:
		return nil, fmt.Errorf("pionrtc: unsupported media kind %q", kind)
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("pionrtc.NewTrack: %w", err)
	}
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Kind() call.MediaKind    { return t.kind }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) Stop()                   { t.stopped.Store(true) }

// WriteSample forwards one encoded frame unless the track is disabled or stopped.
func (t *Track) WriteSample(s media.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

func codecType(kind call.MediaKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case call.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case call.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("pionrtc: unsupported media kind %q", kind)
}

func fromInit(init webrtc.ICECandidateInit) model.Candidate {
	return model.Candidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

func peerState(s webrtc.PeerConnectionState) call.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return call.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return call.PeerClosed
	}
	return call.PeerNew
}
