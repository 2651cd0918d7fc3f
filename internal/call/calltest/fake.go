// Package calltest provides in-memory peer connections and media for call tests.
package calltest

import (
	"context"
	"errors"
	"sync"

	"github.com/rtchat/internal/call"
	"github.com/rtchat/internal/model"
)

type Factory struct {
	mu  sync.Mutex
	Err error
	pcs []*PeerConnection
}

func (f *Factory) NewPeerConnection(h call.PeerHandlers) (call.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pc := &PeerConnection{h: h}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

// Last returns the most recently created peer connection, or nil.
func (f *Factory) Last() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}

func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

// PeerConnection records every call made on it.
type PeerConnection struct {
	mu sync.Mutex
	h  call.PeerHandlers

	RemoteErr error
	OfferErr  error
	AnswerErr error

	transceivers []call.MediaKind
	senders      []*Sender
	local        *model.SessionDescription
	remote       *model.SessionDescription
	candidates   []model.Candidate
	closed       int
}

func (p *PeerConnection) AddTransceiver(kind call.MediaKind) (call.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transceivers = append(p.transceivers, kind)
	s := &Sender{Kind: kind}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *PeerConnection) CreateOffer() (model.SessionDescription, error) {
	return p.createLocal("offer", p.OfferErr)
}

func (p *PeerConnection) CreateAnswer() (model.SessionDescription, error) {
	return p.createLocal("answer", p.AnswerErr)
}

func (p *PeerConnection) createLocal(typ string, err error) (model.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		return model.SessionDescription{}, err
	}
	d := model.SessionDescription{Type: typ, SDP: "v=0 " + typ}
	p.local = &d
	return d, nil
}

func (p *PeerConnection) SetRemoteDescription(d model.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RemoteErr != nil {
		return p.RemoteErr
	}
	if d.SDP == "" {
		return errors.New("calltest: empty sdp")
	}
	p.remote = &d
	return nil
}

func (p *PeerConnection) AddICECandidate(c model.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("calltest: candidate before remote description")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *PeerConnection) Transceivers() []call.MediaKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call.MediaKind(nil), p.transceivers...)
}

func (p *PeerConnection) Senders() []*Sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Sender(nil), p.senders...)
}

func (p *PeerConnection) Remote() *model.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *PeerConnection) Local() *model.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// Candidates returns the remote candidates applied so far, in order.
func (p *PeerConnection) Candidates() []model.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Candidate(nil), p.candidates...)
}

// Closed is the number of Close calls.
func (p *PeerConnection) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// EmitCandidate simulates a locally gathered candidate.
func (p *PeerConnection) EmitCandidate(c model.Candidate) { p.h.OnICECandidate(c) }

func (p *PeerConnection) EmitState(st call.PeerState) { p.h.OnStateChange(st) }

func (p *PeerConnection) EmitTrack(kind call.MediaKind) { p.h.OnRemoteTrack(kind) }

type Sender struct {
	mu    sync.Mutex
	Kind  call.MediaKind
	track call.Track
}

func (s *Sender) ReplaceTrack(t call.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

func (s *Sender) Track() call.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Media hands out fresh tracks for every requested kind, or Err.
type Media struct {
	mu       sync.Mutex
	Err      error
	acquired [][]call.MediaKind
	tracks   []*Track
	// OnAcquire runs inside Acquire, before tracks are created.
	OnAcquire func()
}

func (m *Media) Acquire(_ context.Context, kinds []call.MediaKind) ([]call.Track, error) {
	if m.OnAcquire != nil {
		m.OnAcquire()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = append(m.acquired, kinds)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]call.Track, 0, len(kinds))
	for _, k := range kinds {
		t := &Track{kind: k, enabled: true}
		m.tracks = append(m.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

// Requests returns the kinds asked for by each Acquire call.
func (m *Media) Requests() [][]call.MediaKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]call.MediaKind(nil), m.acquired...)
}

func (m *Media) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Track(nil), m.tracks...)
}

type Track struct {
	mu      sync.Mutex
	kind    call.MediaKind
	enabled bool
	stopped int
}

func (t *Track) Kind() call.MediaKind { return t.kind }

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
}

// Stopped is the number of Stop calls.
func (t *Track) Stopped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
