package call

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Huddle/internal/protocol"
)

func assertReleased(t *testing.T, p *peer) {
	t.Helper()
	acquired, released := p.devices.counts()
	assert.Equal(t, acquired, released, "every acquired device is released")
}

// connectPeers runs a full call from a to b through the relay and reports the
// media connections as connected.
func connectPeers(t *testing.T, relay *fakeRelay, a, b *peer) {
	t.Helper()
	require.NoError(t, a.session.Call(context.Background(), b.session.name))
	relay.flush()
	require.Equal(t, RingingIncoming, b.state())

	require.NoError(t, b.session.Accept(context.Background()))
	relay.flush()
	require.Equal(t, Connecting, a.state())
	require.Equal(t, Connecting, b.state())

	a.factory.latest().events.StateChange(ConnectionConnected)
	b.factory.latest().events.StateChange(ConnectionConnected)
	require.Equal(t, Active, a.state())
	require.Equal(t, Active, b.state())
}

func TestCallReachesActiveOnBothSides(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	assert.Equal(t, Calling, a.state())
	relay.flush()

	assert.Equal(t, RingingIncoming, b.state())
	assert.Equal(t, []string{"A"}, b.observer.incoming)
	assert.Contains(t, a.observer.statuses, "Ringing B...")

	require.NoError(t, b.session.Accept(context.Background()))
	relay.flush()

	aConn, bConn := a.factory.latest(), b.factory.latest()
	require.NotNil(t, aConn)
	require.NotNil(t, bConn)
	assert.Equal(t, []string{"offer", "remote"}, aConn.opsSnapshot())
	assert.Equal(t, []string{"remote", "answer"}, bConn.opsSnapshot())

	// Candidates now flow directly once both descriptions are set.
	aConn.events.LocalCandidate(json.RawMessage(`{"candidate":"a1"}`))
	bConn.events.LocalCandidate(json.RawMessage(`{"candidate":"b1"}`))
	relay.flush()
	assert.Equal(t, []string{`{"candidate":"a1"}`}, bConn.candidates)
	assert.Equal(t, []string{`{"candidate":"b1"}`}, aConn.candidates)

	aConn.events.RemoteTrack("video")
	assert.Equal(t, []string{"B:video"}, a.observer.tracks)

	aConn.events.StateChange(ConnectionConnected)
	bConn.events.StateChange(ConnectionConnected)
	assert.Equal(t, Active, a.state())
	assert.Equal(t, Active, b.state())
	assert.Equal(t, "Connected to B", a.observer.lastNotice())
	assert.Equal(t, []State{Calling, Connecting, Active}, a.observer.states)
	assert.Equal(t, []State{RingingIncoming, Connecting, Active}, b.observer.states)

	// Nothing is left to fire once connected.
	assert.Zero(t, clock.pending())
}

func TestCandidatesWaitForRemoteDescription(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	require.NoError(t, b.session.Accept(context.Background()))
	conn := b.factory.latest()

	b.receive(protocol.EventICECandidate, protocol.ICECandidatePayload{Sender: "A", Candidate: json.RawMessage(`"c1"`)})
	b.receive(protocol.EventICECandidate, protocol.ICECandidatePayload{Sender: "A", Candidate: json.RawMessage(`"c2"`)})
	assert.Empty(t, conn.candidates, "nothing applied before the offer")

	b.receive(protocol.EventCallOffer, protocol.CallOfferPayload{Caller: "A", Offer: json.RawMessage(`{"type":"offer"}`)})
	b.receive(protocol.EventICECandidate, protocol.ICECandidatePayload{Sender: "A", Candidate: json.RawMessage(`"c3"`)})

	assert.Equal(t, []string{"remote", "candidate", "candidate", "answer", "candidate"}, conn.opsSnapshot())
	assert.Equal(t, []string{`"c1"`, `"c2"`, `"c3"`}, conn.candidates)

	last := b.signaler.last()
	assert.Equal(t, protocol.EventCallAnswer, last.event)
	assert.Equal(t, "A", last.payload.(protocol.CallAnswerPayload).Target)
}

func TestCallerQueuesCandidatesUntilAnswer(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.receive(protocol.EventCallAccepted, protocol.CallAcceptedPayload{Acceptor: "B"})
	conn := a.factory.latest()

	a.receive(protocol.EventICECandidate, protocol.ICECandidatePayload{Sender: "B", Candidate: json.RawMessage(`"b1"`)})
	assert.Empty(t, conn.candidates)

	a.receive(protocol.EventCallAnswer, protocol.CallAnswerPayload{Answerer: "B", Answer: json.RawMessage(`{"type":"answer"}`)})
	assert.Equal(t, []string{"offer", "remote", "candidate"}, conn.opsSnapshot())
}

func TestNoResponseTimesOut(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.receive(protocol.EventCallRequestSent, protocol.CallRequestSentPayload{Target: "B"})

	clock.Advance(ResponseTimeout - time.Second)
	assert.Equal(t, Calling, a.state())

	clock.Advance(time.Second)
	assert.Equal(t, Idle, a.state())
	assert.Equal(t, "No response from B", a.observer.lastNotice())
	assert.Equal(t, protocol.EventCallEnded, a.signaler.last().event)
	assert.True(t, a.factory.latest().closed)
	assertReleased(t, a)
}

func TestUnansweredRingRejectsWithNoAnswer(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	clock.Advance(RingTimeout)

	assert.Equal(t, Idle, b.state())
	last := b.signaler.last()
	require.Equal(t, protocol.EventCallRejected, last.event)
	assert.Equal(t, protocol.ReasonNoAnswer, last.payload.(protocol.CallRejectedPayload).Reason)
	assert.Equal(t, "A", last.payload.(protocol.CallRejectedPayload).Target)
	acquired, _ := b.devices.counts()
	assert.Zero(t, acquired)
}

func TestBothSidesTimeOut(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	relay.flush()
	require.Equal(t, RingingIncoming, b.state())

	clock.Advance(RingTimeout)
	relay.flush()

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, Idle, b.state())
	assertReleased(t, a)
	assertReleased(t, b)
	assert.Zero(t, clock.pending())
}

func TestBusyCalleeAutoRejects(t *testing.T) {
	clock := &fakeClock{}
	a, b, c := newPeer("A", clock), newPeer("B", clock), newPeer("C", clock)
	relay := newFakeRelay(a, b, c)
	connectPeers(t, relay, a, c)
	aConn := a.factory.latest()

	require.NoError(t, b.session.Call(context.Background(), "A"))
	relay.flush()

	assert.Equal(t, Idle, b.state())
	assert.Equal(t, "A is busy", b.observer.lastNotice())
	assertReleased(t, b)

	st, partner := a.session.State()
	assert.Equal(t, Active, st)
	assert.Equal(t, "C", partner)
	assert.False(t, aConn.closed)
	acquired, released := a.devices.counts()
	assert.Equal(t, 1, acquired)
	assert.Zero(t, released)
	assert.Empty(t, a.observer.incoming)
}

func TestSimultaneousCallsRejectEachOther(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	require.NoError(t, b.session.Call(context.Background(), "A"))
	relay.flush()

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, Idle, b.state())
	assertReleased(t, a)
	assertReleased(t, b)
}

func TestRejectionReleasesMedia(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	relay.flush()
	require.NoError(t, b.session.Reject())
	relay.flush()

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, Idle, b.state())
	assert.Equal(t, "B declined the call", a.observer.lastNotice())
	assertReleased(t, a)
	assert.Zero(t, clock.pending())

	assert.ErrorIs(t, b.session.Reject(), ErrNoIncomingCall)
	assert.ErrorIs(t, b.session.Accept(context.Background()), ErrNoIncomingCall)
}

func TestHangupEndsBothSides(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)

	b.session.Hangup()
	relay.flush()

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, Idle, b.state())
	assert.Equal(t, "B ended the call", a.observer.lastNotice())
	assert.Equal(t, "Call with A ended", b.observer.lastNotice())
	assert.True(t, a.factory.latest().closed)
	assert.True(t, b.factory.latest().closed)
	assertReleased(t, a)
	assertReleased(t, b)

	// Teardown again is a no-op.
	b.session.Hangup()
	a.receive(protocol.EventCallEnded, protocol.CallEndedPayload{Ender: "B"})
	assert.Empty(t, a.signaler.events())
	assert.Empty(t, b.signaler.events())
	assertReleased(t, a)
}

func TestCallFailedReturnsToIdle(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	require.NoError(t, a.session.Call(context.Background(), "Z"))
	a.receive(protocol.EventCallFailed, protocol.CallFailedPayload{Target: "Z", Reason: protocol.FailNotFound})

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, "Call to Z failed: user not found", a.observer.lastNotice())
	assertReleased(t, a)
	assert.Zero(t, clock.pending())
}

func TestCallGuards(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	assert.ErrorIs(t, a.session.Call(context.Background(), " "), ErrInvalidTarget)
	assert.ErrorIs(t, a.session.Call(context.Background(), "A"), ErrInvalidTarget)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	err := a.session.Call(context.Background(), "C")
	assert.ErrorIs(t, err, ErrBusy)

	var callErr *Error
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "call", callErr.Op)

	_, partner := a.session.State()
	assert.Equal(t, "B", partner)
}

func TestVideoFailureDegradesToAudio(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)
	a.devices.noVideo = true

	require.NoError(t, a.session.Call(context.Background(), "B"))

	assert.Equal(t, []Constraints{{Audio: true, Video: true}, {Audio: true}}, a.devices.attempts)
	assert.Equal(t, Calling, a.state())
	assert.Contains(t, a.observer.notices, "Camera unavailable, calling with audio only")
	assert.Equal(t, protocol.EventCallUser, a.signaler.last().event)
}

func TestNoMicrophoneAbortsCall(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)
	a.devices.noAudio = true

	err := a.session.Call(context.Background(), "B")
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Equal(t, Idle, a.state())
	assert.Empty(t, a.signaler.events())
	assert.Contains(t, a.observer.lastNotice(), "no microphone available")
}

func TestAcceptWithoutMicrophoneRejects(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)
	b.devices.noAudio = true

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	err := b.session.Accept(context.Background())

	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Equal(t, Idle, b.state())
	last := b.signaler.last()
	require.Equal(t, protocol.EventCallRejected, last.event)
	assert.Equal(t, protocol.ReasonMediaUnavailable, last.payload.(protocol.CallRejectedPayload).Reason)
	assert.Zero(t, clock.pending())
}

func TestEventsHandledWhileAcquiringMedia(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)
	a.devices.gate = make(chan struct{})
	a.devices.entered = make(chan struct{}, 1)

	result := make(chan error, 1)
	go func() { result <- a.session.Call(context.Background(), "B") }()
	<-a.devices.entered

	// A second caller is turned away while the first call is still opening devices.
	a.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "C"})
	last := a.signaler.last()
	require.Equal(t, protocol.EventCallRejected, last.event)
	assert.Equal(t, protocol.ReasonBusy, last.payload.(protocol.CallRejectedPayload).Reason)

	a.session.Hangup()
	assert.Equal(t, Idle, a.state())

	close(a.devices.gate)
	assert.ErrorIs(t, <-result, ErrCallAborted)
	assert.Equal(t, Idle, a.state())
	assert.NotContains(t, a.signaler.events(), protocol.EventCallUser)
	assertReleased(t, a)
	assert.Nil(t, a.factory.latest(), "no connection for an abandoned call")
}

func TestForeignEventsAreIgnored(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)
	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.signaler.reset()

	a.receive(protocol.EventCallAccepted, protocol.CallAcceptedPayload{Acceptor: "C"})
	a.receive(protocol.EventCallRejected, protocol.CallRejectedPayload{Rejector: "C", Reason: protocol.ReasonRejected})
	a.receive(protocol.EventCallEnded, protocol.CallEndedPayload{Ender: "C"})
	a.receive(protocol.EventTargetGone, protocol.TargetGonePayload{Target: "C"})
	a.receive(protocol.EventCallFailed, protocol.CallFailedPayload{Target: "C", Reason: protocol.FailOffline})
	a.receive(protocol.EventCallOffer, protocol.CallOfferPayload{Caller: "B", Offer: json.RawMessage(`{}`)})
	a.session.PeerLeft("C")

	st, partner := a.session.State()
	assert.Equal(t, Calling, st)
	assert.Equal(t, "B", partner)
	assert.Equal(t, []string(nil), a.factory.latest().opsSnapshot(), "an offer is never applied by the caller")
	assert.Empty(t, a.signaler.events())
}

func TestStaleTimerDoesNotEndNewCall(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	clock.Advance(20 * time.Second)
	a.receive(protocol.EventCallRejected, protocol.CallRejectedPayload{Rejector: "B", Reason: protocol.ReasonRejected})
	require.Equal(t, Idle, a.state())

	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.signaler.reset()

	clock.Advance(15 * time.Second)
	assert.Equal(t, Calling, a.state(), "the first call's timer is gone")
	assert.Empty(t, a.signaler.events())

	clock.Advance(15 * time.Second)
	assert.Equal(t, Idle, a.state())
	assert.Equal(t, []string{protocol.EventCallEnded}, a.signaler.events())
	assertReleased(t, a)
}

func TestStaleConnectionEventsAreIgnored(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)
	old := a.factory.latest()

	a.session.Hangup()
	relay.flush()

	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.signaler.reset()

	old.events.StateChange(ConnectionClosed)
	old.events.LocalCandidate(json.RawMessage(`"late"`))
	assert.Equal(t, Calling, a.state())
	assert.Empty(t, a.signaler.events())
}

func TestInitiatorRestartsICEOnce(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)
	aConn, bConn := a.factory.latest(), b.factory.latest()

	aConn.events.StateChange(ConnectionFailed)
	clock.Advance(FailureGrace)
	assert.Contains(t, aConn.opsSnapshot(), "restart-offer")
	assert.Contains(t, a.observer.statuses, "Reconnecting to B...")
	relay.flush()
	assert.Equal(t, []string{"remote", "answer", "remote", "answer"}, bConn.opsSnapshot(), "answerer renegotiates")

	aConn.events.StateChange(ConnectionConnected)
	clock.Advance(RestartTimeout)
	assert.Equal(t, Active, a.state())

	// A second failure is not retried.
	aConn.events.StateChange(ConnectionFailed)
	clock.Advance(FailureGrace)
	assert.Equal(t, Idle, a.state())
	assert.Equal(t, "Connection to B lost", a.observer.lastNotice())
	relay.flush()
	assert.Equal(t, Idle, b.state())
	assertReleased(t, a)
	assertReleased(t, b)
}

func TestRestartThatNeverRecoversEndsCall(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)

	a.factory.latest().events.StateChange(ConnectionDisconnected)
	clock.Advance(FailureGrace)
	require.Equal(t, Active, a.state())

	clock.Advance(RestartTimeout)
	assert.Equal(t, Idle, a.state())
	assert.Equal(t, "Could not reconnect to B", a.observer.lastNotice())
	assert.Equal(t, protocol.EventCallEnded, a.signaler.last().event)
}

func TestAnswererWaitsForRestartWindow(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)

	b.factory.latest().events.StateChange(ConnectionFailed)
	clock.Advance(FailureGrace)
	assert.Equal(t, Active, b.state())

	clock.Advance(RestartTimeout)
	assert.Equal(t, Idle, b.state())
	assert.NotContains(t, b.factory.latest().opsSnapshot(), "restart-offer")
}

func TestBriefDisconnectIsTolerated(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)
	conn := a.factory.latest()

	conn.events.StateChange(ConnectionDisconnected)
	clock.Advance(time.Second)
	conn.events.StateChange(ConnectionConnected)
	clock.Advance(time.Minute)

	assert.Equal(t, Active, a.state())
	assert.NotContains(t, conn.opsSnapshot(), "restart-offer")
}

func TestClosedConnectionEndsCall(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)
	connectPeers(t, relay, a, b)

	a.factory.latest().events.StateChange(ConnectionClosed)
	assert.Equal(t, Idle, a.state())
	relay.flush()
	assert.Equal(t, Idle, b.state())
}

func TestOfferErrorEndsCall(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)

	require.NoError(t, a.session.Call(context.Background(), "B"))
	a.factory.latest().offerErr = errors.New("no codecs")
	a.receive(protocol.EventCallAccepted, protocol.CallAcceptedPayload{Acceptor: "B"})

	assert.Equal(t, Idle, a.state())
	assert.Equal(t, protocol.EventCallEnded, a.signaler.last().event)
	assert.Contains(t, a.observer.lastNotice(), "create offer: no codecs")
	assertReleased(t, a)
}

func TestBadRemoteDescriptionEndsCall(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	require.NoError(t, b.session.Accept(context.Background()))
	b.factory.latest().remoteErr = errors.New("malformed sdp")
	b.receive(protocol.EventCallOffer, protocol.CallOfferPayload{Caller: "A", Offer: json.RawMessage(`{}`)})

	assert.Equal(t, Idle, b.state())
	assert.Equal(t, protocol.EventCallEnded, b.signaler.last().event)
	assertReleased(t, b)
}

func TestConnectTimeout(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	require.NoError(t, b.session.Accept(context.Background()))
	clock.Advance(ConnectTimeout)

	assert.Equal(t, Idle, b.state())
	assert.Equal(t, "Could not connect to A", b.observer.lastNotice())
	assertReleased(t, b)
}

func TestPartnerDepartureEndsCall(t *testing.T) {
	for _, tt := range []struct {
		name   string
		depart func(p *peer)
		notice string
	}{
		{"left the room", func(p *peer) { p.session.PeerLeft("B") }, "B left the room"},
		{"relay lost target", func(p *peer) {
			p.receive(protocol.EventTargetGone, protocol.TargetGonePayload{Target: "B"})
		}, "B disconnected"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			a, b := newPeer("A", clock), newPeer("B", clock)
			relay := newFakeRelay(a, b)
			connectPeers(t, relay, a, b)
			a.signaler.reset()

			tt.depart(a)

			assert.Equal(t, Idle, a.state())
			assert.Equal(t, tt.notice, a.observer.lastNotice())
			assert.Empty(t, a.signaler.events(), "nobody to tell")
			assertReleased(t, a)
		})
	}
}

func TestHangupWhileRingingDeclines(t *testing.T) {
	clock := &fakeClock{}
	b := newPeer("B", clock)

	b.receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: "A"})
	b.session.Hangup()

	assert.Equal(t, Idle, b.state())
	last := b.signaler.last()
	require.Equal(t, protocol.EventCallRejected, last.event)
	assert.Equal(t, protocol.ReasonRejected, last.payload.(protocol.CallRejectedPayload).Reason)
}

func TestMalformedEventIsReported(t *testing.T) {
	a := newPeer("A", &fakeClock{})
	err := a.session.HandleMessage(&protocol.Message{Type: protocol.EventIncomingCall, Payload: json.RawMessage(`[1]`)})
	assert.Error(t, err)
	assert.Equal(t, Idle, a.state())
}

func TestMuteAndCameraToggles(t *testing.T) {
	clock := &fakeClock{}
	a, b := newPeer("A", clock), newPeer("B", clock)
	relay := newFakeRelay(a, b)

	_, err := a.session.ToggleMute()
	assert.ErrorIs(t, err, ErrNoConnection)
	_, err = a.session.ToggleCamera()
	assert.ErrorIs(t, err, ErrNoConnection)

	connectPeers(t, relay, a, b)

	muted, err := a.session.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	gotMuted, gotOff := a.devices.media()
	assert.True(t, gotMuted)
	assert.False(t, gotOff)

	off, err := a.session.ToggleCamera()
	require.NoError(t, err)
	assert.True(t, off)
	_, gotOff = a.devices.media()
	assert.True(t, gotOff)

	muted, err = a.session.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)

	// The next call starts unmuted with the camera on.
	a.session.Hangup()
	relay.flush()
	connectPeers(t, relay, a, b)
	muted, err = a.session.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	off, err = a.session.ToggleCamera()
	require.NoError(t, err)
	assert.True(t, off)
}

func TestCameraToggleNeedsVideo(t *testing.T) {
	clock := &fakeClock{}
	a := newPeer("A", clock)
	a.devices.noVideo = true

	require.NoError(t, a.session.Call(context.Background(), "B"))
	_, err := a.session.ToggleCamera()
	assert.ErrorIs(t, err, ErrNoVideo)

	muted, err := a.session.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
}
