package call_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtchat/internal/call"
	"github.com/rtchat/internal/call/calltest"
	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/mocks"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/transport/transporttest"
)

type fixture struct {
	loop    *eventloop.Manual
	dialer  *transporttest.Dialer
	conn    *connection.Manager
	factory *calltest.Factory
	media   *calltest.Media
	alerts  *mocks.AlertSinkMock
	ctrl    *call.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		loop:    eventloop.NewManual(),
		dialer:  &transporttest.Dialer{},
		factory: &calltest.Factory{},
		media:   &calltest.Media{},
		alerts:  &mocks.AlertSinkMock{},
	}
	f.conn = connection.New(f.loop, f.dialer, connection.Options{})
	f.ctrl = call.NewController(f.loop, f.conn, call.Options{
		Factory:      f.factory,
		Media:        f.media,
		Alerts:       f.alerts,
		RingInterval: 3 * time.Second,
	})
	require.NoError(t, f.conn.Connect("alice", "tok"))
	return f
}

func (f *fixture) session() *transporttest.Session { return f.dialer.Last() }

func candidate(s string) model.Candidate { return model.Candidate{Candidate: s} }

func (f *fixture) answered(t *testing.T) *calltest.PeerConnection {
	t.Helper()
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))
	f.session().Deliver(protocol.CallAnswered{Answer: model.SessionDescription{Type: "answer", SDP: "v=0 bob"}, Socket: "sock-bob", From: "bob"})
	require.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State)
	return f.factory.Last()
}

func TestOutgoingCallSetup(t *testing.T) {
	f := newFixture(t)
	var transceiversAtAcquire int
	f.media.OnAcquire = func() { transceiversAtAcquire = len(f.factory.Last().Transceivers()) }

	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeVideo))

	pc := f.factory.Last()
	assert.Equal(t, []call.MediaKind{call.KindAudio, call.KindVideo}, pc.Transceivers())
	assert.Equal(t, 2, transceiversAtAcquire, "transceivers exist before media is requested")
	for _, snd := range pc.Senders() {
		require.NotNil(t, snd.Track())
		assert.Equal(t, snd.Kind, snd.Track().Kind())
	}

	sent := f.session().SentNamed(protocol.NameCallUser)
	require.Len(t, sent, 1)
	cu := sent[0].(protocol.CallUser)
	assert.Equal(t, "bob", cu.UserToCall)
	assert.Equal(t, model.CallTypeVideo, cu.CallType)
	assert.Equal(t, "offer", cu.Offer.Type)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateCalling, snap.State)
	assert.True(t, snap.VideoEnabled)
	assert.NoError(t, snap.MediaErr)
}

func TestCandidatesQueuedUntilAnswer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))
	pc := f.factory.Last()

	for _, c := range []string{"c1", "c2", "c3"} {
		f.session().Deliver(protocol.IceCandidate{From: "bob", Candidate: candidate(c)})
	}
	assert.Empty(t, pc.Candidates())
	assert.Equal(t, 3, f.ctrl.Active().QueuedCandidates())

	f.session().Deliver(protocol.CallAnswered{Answer: model.SessionDescription{Type: "answer", SDP: "v=0 bob"}, Socket: "sock-bob"})

	assert.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State)
	assert.Equal(t, []model.Candidate{candidate("c1"), candidate("c2"), candidate("c3")}, pc.Candidates())
	assert.Zero(t, f.ctrl.Active().QueuedCandidates())

	f.session().Deliver(protocol.IceCandidate{From: "bob", Candidate: candidate("c4")})
	assert.Len(t, pc.Candidates(), 4, "later candidates apply directly")
}

func TestCandidateFromOtherPeerIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))
	f.session().Deliver(protocol.IceCandidate{From: "mallory", Candidate: candidate("x")})
	assert.Zero(t, f.ctrl.Active().QueuedCandidates())
}

func TestLocalCandidatesForwarded(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)
	pc.EmitCandidate(candidate("local-1"))

	sent := f.session().SentNamed(protocol.NameIceCandidate)
	require.Len(t, sent, 1)
	ic := sent[0].(protocol.IceCandidate)
	assert.Equal(t, "bob", ic.To)
	assert.Equal(t, "sock-bob", ic.SocketID)
	assert.Equal(t, "local-1", ic.Candidate.Candidate)
}

func TestIncomingCallRingsUntilAccepted(t *testing.T) {
	f := newFixture(t)
	f.alerts.On("Ring", "bob", model.CallTypeAudio).Return()
	f.alerts.On("StopRinging").Return().Once()

	offer := model.SessionDescription{Type: "offer", SDP: "v=0 from bob"}
	f.session().Deliver(protocol.CallMade{Offer: offer, From: "bob", Socket: "sock-bob", CallType: model.CallTypeAudio})
	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateIncoming, snap.State)
	assert.True(t, snap.Incoming)
	assert.Zero(t, f.factory.Created(), "no peer connection before accept")

	f.session().Deliver(protocol.IceCandidate{From: "bob", Candidate: candidate("early")})
	f.loop.Advance(3 * time.Second)
	f.alerts.AssertNumberOfCalls(t, "Ring", 2)

	require.NoError(t, f.ctrl.Accept())
	f.loop.Advance(10 * time.Second)
	f.alerts.AssertNumberOfCalls(t, "Ring", 2)
	f.alerts.AssertExpectations(t)

	pc := f.factory.Last()
	require.NotNil(t, pc.Remote())
	assert.Equal(t, offer, *pc.Remote())
	assert.Equal(t, []model.Candidate{candidate("early")}, pc.Candidates())

	sent := f.session().SentNamed(protocol.NameAnswerCall)
	require.Len(t, sent, 1)
	ans := sent[0].(protocol.AnswerCall)
	assert.Equal(t, "sock-bob", ans.To)
	assert.Equal(t, "answer", ans.Answer.Type)
	assert.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State)
}

func TestRejectIncoming(t *testing.T) {
	f := newFixture(t)
	f.alerts.On("Ring", "bob", model.CallTypeVideo).Return()
	f.alerts.On("StopRinging").Return().Once()

	f.session().Deliver(protocol.CallMade{Offer: model.SessionDescription{Type: "offer", SDP: "v=0"}, From: "bob", Socket: "sock-bob", CallType: model.CallTypeVideo})
	require.NoError(t, f.ctrl.Reject())

	assert.Equal(t, model.CallStateEnded, f.ctrl.Snapshot().State)
	sent := f.session().SentNamed(protocol.NameEndCall)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EndCall{To: "bob", SocketID: "sock-bob"}, sent[0])
	assert.Zero(t, f.loop.Pending())
	f.alerts.AssertExpectations(t)

	assert.ErrorIs(t, f.ctrl.Reject(), call.ErrNoActiveCall)
}

func TestBusyDeclinesSecondCall(t *testing.T) {
	f := newFixture(t)
	f.answered(t)

	f.session().Deliver(protocol.CallMade{Offer: model.SessionDescription{Type: "offer", SDP: "v=0"}, From: "carol", Socket: "sock-carol"})

	sent := f.session().SentNamed(protocol.NameEndCall)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EndCall{To: "carol", SocketID: "sock-carol"}, sent[0])
	snap := f.ctrl.Snapshot()
	assert.Equal(t, "bob", snap.PeerID)
	assert.Equal(t, model.CallStateConnected, snap.State)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ctrl.StartOutgoing("", model.CallTypeAudio), call.ErrNoPeer)
	assert.ErrorIs(t, f.ctrl.StartOutgoing("alice", model.CallTypeAudio), call.ErrSelfCall)
	assert.ErrorIs(t, f.ctrl.StartOutgoing("bob", "hologram"), call.ErrInvalidCallType)
	assert.Zero(t, f.factory.Created())

	require.NoError(t, f.ctrl.StartOutgoing("bob", ""))
	assert.Equal(t, model.CallTypeAudio, f.ctrl.Snapshot().Type)
	assert.ErrorIs(t, f.ctrl.StartOutgoing("carol", model.CallTypeAudio), call.ErrCallInProgress)
	assert.ErrorIs(t, f.ctrl.Accept(), call.ErrNotIncoming)
}

func TestMediaDenialContinuesCall(t *testing.T) {
	f := newFixture(t)
	f.media.Err = errors.New("permission denied")

	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateCalling, snap.State)
	assert.ErrorIs(t, snap.MediaErr, call.ErrMediaUnavailable)
	assert.Len(t, f.session().SentNamed(protocol.NameCallUser), 1)
	for _, snd := range f.factory.Last().Senders() {
		assert.Nil(t, snd.Track())
	}
}

func TestTransportExhaustionFailsCallOnce(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)
	tracks := f.media.Tracks()
	require.NotEmpty(t, tracks)

	var states []model.CallState
	f.ctrl.Subscribe(func(s call.Snapshot) { states = append(states, s.State) })

	down := errors.New("network down")
	f.dialer.FailNext(down, down, down, down, down)
	f.session().Drop(down)
	assert.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State, "a single drop does not end the call")

	f.loop.Advance(time.Minute)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, call.ErrTransportLost)
	assert.Equal(t, 1, pc.Closed())
	for _, tr := range tracks {
		assert.Equal(t, 1, tr.Stopped())
	}

	failed := 0
	for _, st := range states {
		if st == model.CallStateFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Nil(t, f.ctrl.Active())
	assert.Zero(t, f.loop.Pending())
}

func TestReconnectEndsCall(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)
	tracks := f.media.Tracks()

	blip := errors.New("wifi handover")
	f.dialer.FailNext(blip)
	f.session().Drop(blip)
	f.loop.Advance(time.Minute)
	require.Equal(t, connection.StatusConnected, f.conn.Status())

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateEnded, snap.State)
	assert.ErrorIs(t, snap.Err, call.ErrTransportLost)
	assert.Equal(t, 1, pc.Closed())
	for _, tr := range tracks {
		assert.Equal(t, 1, tr.Stopped())
	}
	assert.Nil(t, f.ctrl.Active())
	assert.Zero(t, f.loop.Pending())

	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio), "a new call can be placed on the new session")
}

func TestDisconnectEndsCall(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)

	f.conn.Disconnect()

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateEnded, snap.State)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 1, pc.Closed())
	assert.Nil(t, f.ctrl.Active())

	f.loop.Advance(10 * time.Minute)
	assert.Zero(t, f.loop.Pending())
	assert.Equal(t, 1, pc.Closed())
}

func TestDisconnectDuringOutageEndsCall(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)

	f.session().Drop(errors.New("network down"))
	require.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State)

	f.conn.Disconnect()

	assert.Equal(t, model.CallStateEnded, f.ctrl.Snapshot().State)
	assert.Equal(t, 1, pc.Closed())
	assert.Nil(t, f.ctrl.Active())
	assert.Zero(t, f.loop.Pending())
}

func TestRemoteHangup(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)

	f.session().Deliver(protocol.CallEnded{From: "bob"})
	f.session().Deliver(protocol.CallEnded{From: "bob"})

	assert.Equal(t, model.CallStateEnded, f.ctrl.Snapshot().State)
	assert.Equal(t, 1, pc.Closed())
	assert.Empty(t, f.session().SentNamed(protocol.NameEndCall))
	assert.ErrorIs(t, f.ctrl.End(), call.ErrNoActiveCall)

	require.NoError(t, f.ctrl.StartOutgoing("carol", model.CallTypeAudio), "a new call may start after the last one ended")
}

func TestLocalHangupNotifiesPeer(t *testing.T) {
	f := newFixture(t)
	f.answered(t)
	require.NoError(t, f.ctrl.End())

	sent := f.session().SentNamed(protocol.NameEndCall)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.EndCall{To: "bob", SocketID: "sock-bob"}, sent[0])
	assert.Equal(t, model.CallStateEnded, f.ctrl.Snapshot().State)
}

func TestICEFailure(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)
	pc.EmitState(call.PeerDisconnected)
	assert.Equal(t, model.CallStateConnected, f.ctrl.Snapshot().State)

	pc.EmitState(call.PeerFailed)
	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, call.ErrICEFailed)
}

func TestMalformedAnswerFailsCall(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))
	pc := f.factory.Last()
	pc.RemoteErr = errors.New("bad sdp")

	f.session().Deliver(protocol.CallAnswered{Answer: model.SessionDescription{Type: "answer", SDP: "garbage"}})

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, call.ErrBadDescription)
	assert.Equal(t, 1, pc.Closed())
}

func TestRelayReportedFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeAudio))
	f.session().Deliver(protocol.CallFailed{Reason: "user offline"})

	snap := f.ctrl.Snapshot()
	assert.Equal(t, model.CallStateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, call.ErrRemoteFailed)
	assert.Contains(t, snap.Err.Error(), "user offline")
}

func TestDurationTicksWhileConnected(t *testing.T) {
	f := newFixture(t)
	f.answered(t)
	f.loop.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, f.ctrl.Snapshot().Duration)

	require.NoError(t, f.ctrl.End())
	f.loop.Advance(5 * time.Second)
	assert.Equal(t, 3*time.Second, f.ctrl.Snapshot().Duration)
	assert.Zero(t, f.loop.Pending())
}

func TestMuteAndVideoToggle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.StartOutgoing("bob", model.CallTypeVideo))
	assert.ErrorIs(t, f.ctrl.SetMuted(true), call.ErrCallNotConnected)

	f.session().Deliver(protocol.CallAnswered{Answer: model.SessionDescription{Type: "answer", SDP: "v=0"}})
	require.NoError(t, f.ctrl.SetMuted(true))
	require.NoError(t, f.ctrl.SetVideoEnabled(false))

	for _, tr := range f.media.Tracks() {
		assert.False(t, tr.Enabled(), "%s track disabled", tr.Kind())
	}
	snap := f.ctrl.Snapshot()
	assert.True(t, snap.Muted)
	assert.False(t, snap.VideoEnabled)

	require.NoError(t, f.ctrl.SetMuted(false))
	for _, tr := range f.media.Tracks() {
		assert.Equal(t, tr.Kind() == call.KindAudio, tr.Enabled())
	}
	assert.Len(t, f.session().SentNamed(protocol.NameCallUser), 1, "toggles never renegotiate")
}

func TestRemoteTrackCounted(t *testing.T) {
	f := newFixture(t)
	pc := f.answered(t)
	pc.EmitTrack(call.KindAudio)
	assert.Equal(t, 1, f.ctrl.Snapshot().RemoteTracks)
}
