// Package call drives one-to-one calls for a single participant: ringing,
// the offer/answer exchange through the relay, candidate ordering, timeouts
// and connection recovery. Media and transport are injected.
package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/protocol"
)

// State is the phase of the session's current call.
type State int

const (
	Idle State = iota
	Calling
	RingingIncoming
	Connecting
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calling:
		return "calling"
	case RingingIncoming:
		return "ringing"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

const (
	ResponseTimeout = 30 * time.Second
	RingTimeout     = 30 * time.Second
	ConnectTimeout  = 30 * time.Second

	// FailureGrace is how long a disconnected or failed connection may stay
	// that way before recovery starts.
	FailureGrace = 3 * time.Second

	// RestartTimeout bounds the single ICE restart. The answering side waits
	// FailureGrace+RestartTimeout before giving up so the restart can land.
	RestartTimeout = 10 * time.Second
)

// Options configures a Session.
type Options struct {
	// Name is the local display name used in outgoing call events.
	Name string

	Signaler    Signaler
	Devices     Devices
	Connections ConnectionFactory
	Observer    Observer

	// Clock defaults to the system clock.
	Clock Clock
}

// Session is the call state machine of one participant. It handles at most
// one call at a time. All methods are safe for concurrent use.
type Session struct {
	name     string
	signaler Signaler
	devices  Devices
	factory  ConnectionFactory
	observer Observer
	clock    Clock

	mu        sync.Mutex
	state     State
	peer      string
	initiator bool

	// epoch identifies the current call. Timers, connection events and
	// media acquisitions started under an older epoch are discarded.
	epoch uint64

	media LocalMedia
	conn  MediaConnection

	// pending holds remote candidates received before the remote
	// description was set, in arrival order.
	remoteSet bool
	pending   []json.RawMessage

	timer     Timer // response, ring or connect timeout
	recovery  Timer // failure grace or restart deadline
	restarted bool

	muted     bool
	cameraOff bool

	// notify queues observer callbacks until the lock is released.
	notify []func()
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	s := &Session{
		name:     opts.Name,
		signaler: opts.Signaler,
		devices:  opts.Devices,
		factory:  opts.Connections,
		observer: opts.Observer,
		clock:    opts.Clock,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	return s
}

// State returns the current state and call partner.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.peer
}

// Call starts an outgoing call to target. It returns once the call request
// has been sent; the outcome arrives through the Observer.
func (s *Session) Call(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" || target == s.name {
		return WrapError("call", ErrInvalidTarget, target)
	}

	s.mu.Lock()
	if s.state != Idle {
		s.unlock()
		return NewError("call", ErrBusy)
	}
	epoch := s.begin(Calling, target, true)
	s.setStatus("Calling " + target + "...")
	s.unlock()

	media, audioOnly, err := s.acquire(ctx)

	s.mu.Lock()
	defer s.unlock()
	if s.epoch != epoch {
		if media != nil {
			media.Stop()
		}
		return NewError("call", ErrCallAborted)
	}
	if err != nil {
		s.teardown("Call to " + target + " cancelled: " + err.Error())
		return err
	}
	s.media = media
	if audioOnly {
		s.addNotice("Camera unavailable, calling with audio only")
	}

	if err := s.connect(epoch); err != nil {
		s.teardown("Call to " + target + " failed: " + err.Error())
		return err
	}
	if err := s.signaler.Send(protocol.EventCallUser, protocol.CallUserPayload{Target: target, Caller: s.name}); err != nil {
		s.teardown("Call to " + target + " failed: could not reach the relay")
		return NewError("send call request", err)
	}
	s.arm(&s.timer, ResponseTimeout, epoch, s.onResponseTimeout)
	return nil
}

// Accept answers the ringing call.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != RingingIncoming {
		s.unlock()
		return NewError("accept", ErrNoIncomingCall)
	}
	stop(&s.timer)
	epoch, caller := s.epoch, s.peer
	s.setState(Connecting)
	s.setStatus("Connecting to " + caller + "...")
	s.unlock()

	media, audioOnly, err := s.acquire(ctx)

	s.mu.Lock()
	defer s.unlock()
	if s.epoch != epoch {
		if media != nil {
			media.Stop()
		}
		return NewError("accept", ErrCallAborted)
	}
	if err != nil {
		s.send(protocol.EventCallRejected, protocol.CallRejectedPayload{
			Target:   caller,
			Rejector: s.name,
			Reason:   protocol.ReasonMediaUnavailable,
		})
		s.teardown("Could not answer " + caller + ": " + err.Error())
		return err
	}
	s.media = media
	if audioOnly {
		s.addNotice("Camera unavailable, answering with audio only")
	}

	if err := s.connect(epoch); err != nil {
		s.send(protocol.EventCallRejected, protocol.CallRejectedPayload{
			Target:   caller,
			Rejector: s.name,
			Reason:   protocol.ReasonMediaUnavailable,
		})
		s.teardown("Could not answer " + caller + ": " + err.Error())
		return err
	}
	s.send(protocol.EventCallAccepted, protocol.CallAcceptedPayload{Target: caller, Acceptor: s.name})
	s.arm(&s.timer, ConnectTimeout, epoch, s.onConnectTimeout)
	return nil
}

// Reject declines the ringing call.
func (s *Session) Reject() error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != RingingIncoming {
		return NewError("reject", ErrNoIncomingCall)
	}
	s.reject()
	return nil
}

func (s *Session) reject() {
	caller := s.peer
	s.send(protocol.EventCallRejected, protocol.CallRejectedPayload{
		Target:   caller,
		Rejector: s.name,
		Reason:   protocol.ReasonRejected,
	})
	s.teardown("Declined call from " + caller)
}

// Hangup ends whatever call is in progress. Ringing calls are declined.
// It is a no-op when idle.
func (s *Session) Hangup() {
	s.mu.Lock()
	defer s.unlock()
	switch s.state {
	case Idle:
		return
	case RingingIncoming:
		s.reject()
	default:
		peer := s.peer
		s.send(protocol.EventCallEnded, protocol.CallEndedPayload{Target: peer, Ender: s.name})
		s.teardown("Call with " + peer + " ended")
	}
}

// ToggleMute mutes or unmutes the microphone for the current call and
// reports whether it is now muted.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	defer s.unlock()
	if s.media == nil {
		return false, ErrNoConnection
	}
	s.muted = !s.muted
	s.media.SetMuted(s.muted)
	slog.Info("microphone toggled", "peer", s.peer, "muted", s.muted)
	return s.muted, nil
}

// ToggleCamera turns the camera off or back on for the current call and
// reports whether it is now off.
func (s *Session) ToggleCamera() (bool, error) {
	s.mu.Lock()
	defer s.unlock()
	if s.media == nil {
		return false, ErrNoConnection
	}
	if !s.media.HasVideo() {
		return false, ErrNoVideo
	}
	s.cameraOff = !s.cameraOff
	s.media.SetCameraOff(s.cameraOff)
	slog.Info("camera toggled", "peer", s.peer, "off", s.cameraOff)
	return s.cameraOff, nil
}

// PeerLeft ends the call if name was the call partner.
func (s *Session) PeerLeft(name string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Idle || name != s.peer {
		return
	}
	s.teardown(name + " left the room")
}

// HandleMessage applies a call event received from the relay. Events that are
// not about the current call are dropped.
func (s *Session) HandleMessage(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.EventIncomingCall:
		var p protocol.IncomingCallPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode incoming call", err)
		}
		s.onIncomingCall(p.Caller)

	case protocol.EventCallRequestSent:
		var p protocol.CallRequestSentPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode call request", err)
		}
		s.onRequestSent(p.Target)

	case protocol.EventCallFailed:
		var p protocol.CallFailedPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode call failure", err)
		}
		s.onCallFailed(p.Target, p.Reason)

	case protocol.EventCallAccepted:
		var p protocol.CallAcceptedPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode call accept", err)
		}
		s.onAccepted(p.Acceptor)

	case protocol.EventCallRejected:
		var p protocol.CallRejectedPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode call reject", err)
		}
		s.onRejected(p.Rejector, p.Reason)

	case protocol.EventCallOffer:
		var p protocol.CallOfferPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode offer", err)
		}
		s.onOffer(p.Caller, p.Offer)

	case protocol.EventCallAnswer:
		var p protocol.CallAnswerPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode answer", err)
		}
		s.onAnswer(p.Answerer, p.Answer)

	case protocol.EventICECandidate:
		var p protocol.ICECandidatePayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode candidate", err)
		}
		s.onRemoteCandidate(p.Sender, p.Candidate)

	case protocol.EventCallEnded:
		var p protocol.CallEndedPayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode call end", err)
		}
		s.endedBy(p.Ender, p.Ender+" ended the call")

	case protocol.EventTargetGone:
		var p protocol.TargetGonePayload
		if err := msg.Decode(&p); err != nil {
			return NewError("decode target gone", err)
		}
		s.endedBy(p.Target, p.Target+" disconnected")
	}
	return nil
}

func (s *Session) onIncomingCall(caller string) {
	s.mu.Lock()
	defer s.unlock()
	if caller == "" {
		return
	}
	if s.state != Idle {
		slog.Info("rejecting call while busy", "caller", caller, "state", s.state, "peer", s.peer)
		s.send(protocol.EventCallRejected, protocol.CallRejectedPayload{
			Target:   caller,
			Rejector: s.name,
			Reason:   protocol.ReasonBusy,
		})
		return
	}
	epoch := s.begin(RingingIncoming, caller, false)
	s.arm(&s.timer, RingTimeout, epoch, s.onRingTimeout)
	s.notify = append(s.notify, func() { s.observer.IncomingCall(caller) })
}

func (s *Session) onRequestSent(target string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Calling && target == s.peer {
		s.setStatus("Ringing " + target + "...")
	}
}

func (s *Session) onCallFailed(target, reason string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state != Calling || (target != "" && target != s.peer) {
		return
	}
	s.teardown("Call to " + s.peer + " failed: " + reason)
}

func (s *Session) onAccepted(acceptor string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state != Calling || acceptor != s.peer || s.conn == nil {
		return
	}
	stop(&s.timer)
	s.setState(Connecting)
	s.setStatus("Connecting to " + acceptor + "...")

	offer, err := s.conn.CreateOffer(false)
	if err != nil {
		s.fail("create offer", err)
		return
	}
	s.send(protocol.EventCallOffer, protocol.CallOfferPayload{Target: s.peer, Caller: s.name, Offer: offer})
	s.arm(&s.timer, ConnectTimeout, s.epoch, s.onConnectTimeout)
}

func (s *Session) onRejected(rejector, reason string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Idle || rejector != s.peer {
		return
	}
	s.teardown(rejectionNotice(rejector, reason))
}

func rejectionNotice(peer, reason string) string {
	switch reason {
	case protocol.ReasonBusy:
		return peer + " is busy"
	case protocol.ReasonNoAnswer:
		return peer + " did not answer"
	case protocol.ReasonMediaUnavailable:
		return peer + " could not access a microphone"
	default:
		return peer + " declined the call"
	}
}

// onOffer handles the caller's offer, including re-offers for an ICE restart.
func (s *Session) onOffer(caller string, offer json.RawMessage) {
	s.mu.Lock()
	defer s.unlock()
	if s.initiator || caller != s.peer || s.conn == nil {
		return
	}
	if s.state != Connecting && s.state != Active {
		return
	}

	if err := s.conn.SetRemoteDescription(offer); err != nil {
		s.fail("set remote description", err)
		return
	}
	s.remoteSet = true
	s.flushCandidates()

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		s.fail("create answer", err)
		return
	}
	s.send(protocol.EventCallAnswer, protocol.CallAnswerPayload{Target: s.peer, Answerer: s.name, Answer: answer})
}

func (s *Session) onAnswer(answerer string, answer json.RawMessage) {
	s.mu.Lock()
	defer s.unlock()
	if !s.initiator || answerer != s.peer || s.conn == nil {
		return
	}
	if s.state != Connecting && s.state != Active {
		return
	}

	if err := s.conn.SetRemoteDescription(answer); err != nil {
		s.fail("set remote description", err)
		return
	}
	s.remoteSet = true
	s.flushCandidates()
}

func (s *Session) onRemoteCandidate(sender string, candidate json.RawMessage) {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Idle || sender != s.peer {
		return
	}
	if !s.remoteSet || s.conn == nil {
		s.pending = append(s.pending, candidate)
		return
	}
	s.addCandidate(candidate)
}

func (s *Session) flushCandidates() {
	queued := s.pending
	s.pending = nil
	for _, c := range queued {
		s.addCandidate(c)
	}
}

func (s *Session) addCandidate(candidate json.RawMessage) {
	if err := s.conn.AddICECandidate(candidate); err != nil {
		slog.Warn("failed to add remote candidate", "peer", s.peer, "error", err)
	}
}

// endedBy tears the call down without telling the peer, which already knows.
func (s *Session) endedBy(peer, notice string) {
	s.mu.Lock()
	defer s.unlock()
	if s.state == Idle || peer != s.peer {
		return
	}
	s.teardown(notice)
}

func (s *Session) onLocalCandidate(epoch uint64, candidate json.RawMessage) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || s.state == Idle {
		return
	}
	s.send(protocol.EventICECandidate, protocol.ICECandidatePayload{Target: s.peer, Candidate: candidate})
}

func (s *Session) onRemoteTrack(epoch uint64, kind string) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || s.state == Idle {
		return
	}
	peer := s.peer
	s.notify = append(s.notify, func() { s.observer.RemoteTrack(peer, kind) })
}

func (s *Session) onConnectionState(epoch uint64, state ConnectionState) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || (s.state != Connecting && s.state != Active) {
		return
	}
	slog.Debug("media connection state", "peer", s.peer, "state", state)

	switch state {
	case ConnectionConnected:
		stop(&s.timer)
		stop(&s.recovery)
		if s.state != Active {
			s.setState(Active)
			s.setStatus("")
			s.addNotice("Connected to " + s.peer)
		} else if s.restarted {
			s.setStatus("")
		}

	case ConnectionDisconnected, ConnectionFailed:
		if s.recovery != nil {
			return
		}
		grace := FailureGrace
		if !s.initiator {
			grace += RestartTimeout
		}
		s.arm(&s.recovery, grace, epoch, s.onFailureGrace)

	case ConnectionClosed:
		s.abandon("Connection to " + s.peer + " closed")
	}
}

func (s *Session) onFailureGrace(epoch uint64) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch {
		return
	}
	s.recovery = nil

	if !s.initiator || s.restarted || s.conn == nil {
		s.abandon("Connection to " + s.peer + " lost")
		return
	}

	s.restarted = true
	slog.Info("restarting ICE", "peer", s.peer)
	s.setStatus("Reconnecting to " + s.peer + "...")
	offer, err := s.conn.CreateOffer(true)
	if err != nil {
		s.fail("restart ICE", err)
		return
	}
	s.send(protocol.EventCallOffer, protocol.CallOfferPayload{Target: s.peer, Caller: s.name, Offer: offer})
	s.arm(&s.recovery, RestartTimeout, epoch, s.onRestartTimeout)
}

func (s *Session) onRestartTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch {
		return
	}
	s.recovery = nil
	s.abandon("Could not reconnect to " + s.peer)
}

func (s *Session) onResponseTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || s.state != Calling {
		return
	}
	s.timer = nil
	s.abandon("No response from " + s.peer)
}

func (s *Session) onRingTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || s.state != RingingIncoming {
		return
	}
	s.timer = nil
	caller := s.peer
	s.send(protocol.EventCallRejected, protocol.CallRejectedPayload{
		Target:   caller,
		Rejector: s.name,
		Reason:   protocol.ReasonNoAnswer,
	})
	s.teardown("Missed call from " + caller)
}

func (s *Session) onConnectTimeout(epoch uint64) {
	s.mu.Lock()
	defer s.unlock()
	if epoch != s.epoch || s.state != Connecting {
		return
	}
	s.timer = nil
	s.abandon("Could not connect to " + s.peer)
}

// fail reports a signaling error and ends the call.
func (s *Session) fail(op string, err error) {
	slog.Warn("call signaling failed", "op", op, "peer", s.peer, "error", err)
	s.abandon("Call with " + s.peer + " failed: " + NewError(op, err).Error())
}

// abandon ends the call from this side, telling the peer.
func (s *Session) abandon(notice string) {
	s.send(protocol.EventCallEnded, protocol.CallEndedPayload{Target: s.peer, Ender: s.name})
	s.teardown(notice)
}

// begin starts a new call epoch. Callers hold the lock.
func (s *Session) begin(state State, peer string, initiator bool) uint64 {
	s.epoch++
	s.peer = peer
	s.initiator = initiator
	s.setState(state)
	return s.epoch
}

// connect creates the media connection for the current call.
func (s *Session) connect(epoch uint64) error {
	conn, err := s.factory.NewConnection(s.media, ConnectionEvents{
		LocalCandidate: func(c json.RawMessage) { s.onLocalCandidate(epoch, c) },
		RemoteTrack:    func(kind string) { s.onRemoteTrack(epoch, kind) },
		StateChange:    func(state ConnectionState) { s.onConnectionState(epoch, state) },
	})
	if err != nil {
		return NewError("create media connection", err)
	}
	s.conn = conn
	return nil
}

// acquire opens audio and video, falling back to audio alone. It runs without
// the lock held.
func (s *Session) acquire(ctx context.Context) (media LocalMedia, audioOnly bool, err error) {
	media, err = s.devices.Acquire(ctx, Constraints{Audio: true, Video: true})
	if err == nil {
		return media, false, nil
	}
	slog.Debug("video capture unavailable, retrying audio only", "error", err)

	media, err = s.devices.Acquire(ctx, Constraints{Audio: true})
	if err != nil {
		return nil, false, WrapError("acquire media", ErrMediaUnavailable, err.Error())
	}
	return media, true, nil
}

// teardown returns the session to Idle and releases everything the call
// held. It is a no-op when already idle.
func (s *Session) teardown(notice string) {
	if s.state == Idle {
		return
	}
	s.epoch++
	stop(&s.timer)
	stop(&s.recovery)

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			slog.Debug("closing media connection", "error", err)
		}
		s.conn = nil
	}
	if s.media != nil {
		s.media.Stop()
		s.media = nil
	}

	slog.Info("call ended", "peer", s.peer, "reason", notice)
	s.peer = ""
	s.initiator = false
	s.remoteSet = false
	s.pending = nil
	s.restarted = false
	s.muted = false
	s.cameraOff = false
	s.setState(Idle)
	s.setStatus("")
	if notice != "" {
		s.addNotice(notice)
	}
}

func (s *Session) send(event string, payload any) {
	if err := s.signaler.Send(event, payload); err != nil {
		slog.Warn("failed to send call event", "event", event, "error", err)
	}
}

func (s *Session) arm(slot *Timer, d time.Duration, epoch uint64, fn func(uint64)) {
	stop(slot)
	*slot = s.clock.AfterFunc(d, func() { fn(epoch) })
}

func stop(slot *Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (s *Session) setState(state State) {
	s.state = state
	peer := s.peer
	s.notify = append(s.notify, func() { s.observer.StateChanged(state, peer) })
}

func (s *Session) setStatus(text string) {
	s.notify = append(s.notify, func() { s.observer.Status(text) })
}

func (s *Session) addNotice(text string) {
	s.notify = append(s.notify, func() { s.observer.Notice(text) })
}

// unlock releases the lock, then runs queued observer callbacks.
func (s *Session) unlock() {
	queued := s.notify
	s.notify = nil
	s.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}
