package pionrtc

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtchat/internal/call"
	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/model"
)

func newPeer(t *testing.T, f *Factory) call.PeerConnection {
	t.Helper()
	pc, err := f.NewPeerConnection(call.PeerHandlers{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestOfferAnswerNegotiation(t *testing.T) {
	f := NewFactory(nil)
	caller, callee := newPeer(t, f), newPeer(t, f)

	tracks, err := Media{}.Acquire(context.Background(), []call.MediaKind{call.KindAudio, call.KindVideo})
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	for _, tr := range tracks {
		snd, err := caller.AddTransceiver(tr.Kind())
		require.NoError(t, err)
		require.NoError(t, snd.ReplaceTrack(tr))
	}
	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestRejectsUnknownDescriptionType(t *testing.T) {
	pc := newPeer(t, NewFactory(nil))
	err := pc.SetRemoteDescription(model.SessionDescription{Type: "bogus", SDP: "v=0"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown type"))
}

func TestForeignTrackRefused(t *testing.T) {
	pc := newPeer(t, NewFactory(nil))
	snd, err := pc.AddTransceiver(call.KindAudio)
	require.NoError(t, err)
	assert.ErrorIs(t, snd.ReplaceTrack(fakeTrack{}), errForeignTrack)
}

func TestTrackEnableFlag(t *testing.T) {
	tr, err := NewTrack(call.KindAudio, "s")
	require.NoError(t, err)
	assert.True(t, tr.Enabled())
	tr.SetEnabled(false)
	assert.False(t, tr.Enabled())

	_, err = NewTrack("screen", "s")
	assert.Error(t, err)
}

func TestFactoryICEServers(t *testing.T) {
	f := NewFactory([]config.IceServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: nil},
		{URLs: []string{"turn:turn.example.org"}, Username: "u", Credential: "p"},
	})
	require.Len(t, f.cfg.ICEServers, 2)
	assert.Equal(t, "u", f.cfg.ICEServers[1].Username)
}

func TestPeerStateMapping(t *testing.T) {
	assert.Equal(t, call.PeerFailed, peerState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, call.PeerConnected, peerState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, call.PeerNew, peerState(webrtc.PeerConnectionStateNew))
}

type fakeTrack struct{}

func (fakeTrack) Kind() call.MediaKind { return call.KindAudio }
func (fakeTrack) SetEnabled(bool)      {}
func (fakeTrack) Enabled() bool        { return true }
func (fakeTrack) Stop()                {}
