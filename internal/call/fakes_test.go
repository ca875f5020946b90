package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/Huddle/internal/protocol"
)

type sent struct {
	event   string
	payload any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSignaler) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{event, payload})
	return nil
}

func (f *fakeSignaler) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.event)
	}
	return out
}

func (f *fakeSignaler) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sent{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSignaler) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeMedia struct {
	devices   *fakeDevices
	video     bool
	stopped   bool
	muted     bool
	cameraOff bool
}

func (m *fakeMedia) HasVideo() bool { return m.video }

func (m *fakeMedia) SetMuted(muted bool) {
	m.devices.mu.Lock()
	defer m.devices.mu.Unlock()
	m.muted = muted
}

func (m *fakeMedia) SetCameraOff(off bool) {
	m.devices.mu.Lock()
	defer m.devices.mu.Unlock()
	m.cameraOff = off
}

func (m *fakeMedia) Stop() {
	m.devices.mu.Lock()
	defer m.devices.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		m.devices.released++
	}
}

// fakeDevices records every acquisition and release.
type fakeDevices struct {
	mu       sync.Mutex
	noVideo  bool
	noAudio  bool
	acquired int
	released int
	attempts []Constraints
	last     *fakeMedia

	// gate, when set, blocks Acquire until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDevices) Acquire(ctx context.Context, c Constraints) (LocalMedia, error) {
	d.mu.Lock()
	gate, entered := d.gate, d.entered
	d.attempts = append(d.attempts, c)
	d.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c.Video && d.noVideo {
		return nil, errors.New("camera not found")
	}
	if c.Audio && d.noAudio {
		return nil, errors.New("permission denied")
	}
	d.acquired++
	d.last = &fakeMedia{devices: d, video: c.Video}
	return d.last, nil
}

// media returns the most recent acquisition's controls.
func (d *fakeDevices) media() (muted, cameraOff bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return false, false
	}
	return d.last.muted, d.last.cameraOff
}

func (d *fakeDevices) counts() (acquired, released int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.released
}

type fakeConn struct {
	mu         sync.Mutex
	label      string
	events     ConnectionEvents
	ops        []string
	candidates []string
	closed     bool
	offerErr   error
	remoteErr  error
}

func (c *fakeConn) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *fakeConn) CreateOffer(iceRestart bool) (json.RawMessage, error) {
	if iceRestart {
		c.record("restart-offer")
	} else {
		c.record("offer")
	}
	if c.offerErr != nil {
		return nil, c.offerErr
	}
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":%q}`, c.label)), nil
}

func (c *fakeConn) CreateAnswer() (json.RawMessage, error) {
	c.record("answer")
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","sdp":%q}`, c.label)), nil
}

func (c *fakeConn) SetRemoteDescription(desc json.RawMessage) error {
	c.record("remote")
	return c.remoteErr
}

func (c *fakeConn) AddICECandidate(candidate json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, "candidate")
	c.candidates = append(c.candidates, string(candidate))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) opsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

type fakeFactory struct {
	mu    sync.Mutex
	label string
	conns []*fakeConn
	err   error
}

func (f *fakeFactory) NewConnection(media LocalMedia, events ConnectionEvents) (MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{label: f.label, events: events}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) latest() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

// pending reports how many timers could still fire.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	notices  []string
	statuses []string
	incoming []string
	tracks   []string
}

func (o *recordingObserver) StateChanged(state State, peer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) Notice(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, text)
}

func (o *recordingObserver) Status(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, text)
}

func (o *recordingObserver) IncomingCall(caller string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.incoming = append(o.incoming, caller)
}

func (o *recordingObserver) RemoteTrack(peer, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = append(o.tracks, peer+":"+kind)
}

func (o *recordingObserver) lastNotice() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.notices) == 0 {
		return ""
	}
	return o.notices[len(o.notices)-1]
}

// peer bundles a session with its fakes.
type peer struct {
	session  *Session
	signaler *fakeSignaler
	devices  *fakeDevices
	factory  *fakeFactory
	observer *recordingObserver
}

func newPeer(name string, clock *fakeClock) *peer {
	p := &peer{
		signaler: &fakeSignaler{},
		devices:  &fakeDevices{},
		factory:  &fakeFactory{label: name},
		observer: &recordingObserver{},
	}
	p.session = NewSession(Options{
		Name:        name,
		Signaler:    p.signaler,
		Devices:     p.devices,
		Connections: p.factory,
		Observer:    p.observer,
		Clock:       clock,
	})
	return p
}

func (p *peer) state() State {
	st, _ := p.session.State()
	return st
}

func (p *peer) receive(event string, payload any) {
	if err := p.session.HandleMessage(protocol.MustNew(event, payload)); err != nil {
		panic(err)
	}
}

// fakeRelay carries events between peers the way the relay server does,
// stamping the sender on forwarded candidates. Delivery happens only on
// flush so no session is re-entered while it holds its own lock.
type fakeRelay struct {
	peers map[string]*peer
}

func newFakeRelay(peers ...*peer) *fakeRelay {
	r := &fakeRelay{peers: map[string]*peer{}}
	for _, p := range peers {
		r.peers[p.session.name] = p
	}
	return r
}

// flush delivers everything sent so far, repeating until quiet.
func (r *fakeRelay) flush() {
	for {
		moved := false
		for name, from := range r.peers {
			from.signaler.mu.Lock()
			queued := from.signaler.sent
			from.signaler.sent = nil
			from.signaler.mu.Unlock()

			for _, s := range queued {
				moved = true
				r.route(name, s)
			}
		}
		if !moved {
			return
		}
	}
}

func (r *fakeRelay) route(sender string, s sent) {
	switch p := s.payload.(type) {
	case protocol.CallUserPayload:
		r.peers[p.Target].receive(protocol.EventIncomingCall, protocol.IncomingCallPayload{Caller: sender})
		r.peers[sender].receive(protocol.EventCallRequestSent, protocol.CallRequestSentPayload{Target: p.Target})
	case protocol.CallAcceptedPayload:
		r.peers[p.Target].receive(s.event, protocol.CallAcceptedPayload{Acceptor: sender})
	case protocol.CallRejectedPayload:
		r.peers[p.Target].receive(s.event, protocol.CallRejectedPayload{Rejector: sender, Reason: p.Reason})
	case protocol.CallOfferPayload:
		r.peers[p.Target].receive(s.event, protocol.CallOfferPayload{Caller: sender, Offer: p.Offer})
	case protocol.CallAnswerPayload:
		r.peers[p.Target].receive(s.event, protocol.CallAnswerPayload{Answerer: sender, Answer: p.Answer})
	case protocol.ICECandidatePayload:
		r.peers[p.Target].receive(s.event, protocol.ICECandidatePayload{Sender: sender, Candidate: p.Candidate})
	case protocol.CallEndedPayload:
		r.peers[p.Target].receive(s.event, protocol.CallEndedPayload{Ender: sender})
	default:
		panic(fmt.Sprintf("unexpected event %s", s.event))
	}
}
