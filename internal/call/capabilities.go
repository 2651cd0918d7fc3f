package call

import (
	"context"

	"github.com/rtchat/internal/model"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// PeerState mirrors RTCPeerConnectionState.
type PeerState string

const (
	PeerNew          PeerState = "new"
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// PeerHandlers receive peer connection callbacks. They may be called from any goroutine.
type PeerHandlers struct {
	OnICECandidate func(model.Candidate)
	OnStateChange  func(PeerState)
	OnRemoteTrack  func(MediaKind)
}

// PeerFactory creates peer connections; pionrtc.Factory is the production one.
type PeerFactory interface {
	NewPeerConnection(h PeerHandlers) (PeerConnection, error)
}

// PeerConnection is the subset of RTCPeerConnection a call needs.
// CreateOffer and CreateAnswer also apply the result as the local description.
type PeerConnection interface {
	AddTransceiver(kind MediaKind) (Sender, error)
	CreateOffer() (model.SessionDescription, error)
	CreateAnswer() (model.SessionDescription, error)
	SetRemoteDescription(d model.SessionDescription) error
	AddICECandidate(c model.Candidate) error
	Close() error
}

// Sender is the sending half of a transceiver.
type Sender interface {
	ReplaceTrack(t Track) error
}

// Track is a local media track.
type Track interface {
	Kind() MediaKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// MediaSource acquires local tracks. Acquire may block on a permission prompt.
type MediaSource interface {
	Acquire(ctx context.Context, kinds []MediaKind) ([]Track, error)
}

// AlertSink plays the ringtone of an incoming call.
type AlertSink interface {
	Ring(peerID string, callType model.CallType)
	StopRinging()
}

type NopAlerts struct{}

func (NopAlerts) Ring(string, model.CallType) {}
func (NopAlerts) StopRinging()                {}

// NoMedia denies every acquisition; calls proceed receive-only.
type NoMedia struct{}

func (NoMedia) Acquire(context.Context, []MediaKind) ([]Track, error) {
	return nil, ErrMediaUnavailable
}
