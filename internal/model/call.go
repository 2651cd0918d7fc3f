package model

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

type CallState string

const (
	CallStateCalling   CallState = "calling"
	CallStateIncoming  CallState = "incoming"
	CallStateConnected CallState = "connected"
	CallStateEnded     CallState = "ended"
	CallStateFailed    CallState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// SessionDescription is an SDP offer or answer as exchanged over signaling.
type SessionDescription struct {
	Type string `json:"type"` // offer | answer
	SDP  string `json:"sdp"`
}

// Candidate is one ICE connectivity option (RTCIceCandidateInit shape).
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
