package media

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/config"
)

// Options configures a Factory.
type Options struct {
	ICEServers []webrtc.ICEServer
	RelayOnly  bool

	// MulticastDNS controls .local candidate handling. The zero value keeps
	// pion's default of resolving peers' .local names.
	MulticastDNS ice.MulticastDNSMode
}

// OptionsFromConfig derives ICE settings from client configuration.
func OptionsFromConfig(cfg *config.Client) Options {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 && stun[0] != "" {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	mode := ice.MulticastDNSModeQueryOnly
	if cfg.LANPrivacy {
		mode = ice.MulticastDNSModeQueryAndGather
	}

	relayOnly := turnServers != nil && (cfg.ForceRelay || restrictedNetwork())
	if relayOnly && !cfg.ForceRelay {
		slog.Info("restricted network detected, calls will use the TURN relay")
	}

	return Options{
		ICEServers:   servers,
		RelayOnly:    relayOnly,
		MulticastDNS: mode,
	}
}

// Factory creates pion peer connections for calls.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settings := webrtc.SettingEngine{}
	if opts.MulticastDNS != 0 {
		settings.SetICEMulticastDNSMode(opts.MulticastDNS)
	}

	policy := webrtc.ICETransportPolicyAll
	if opts.RelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}

	return &Factory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(settings)),
		config: webrtc.Configuration{
			ICEServers:         opts.ICEServers,
			ICETransportPolicy: policy,
		},
	}, nil
}

func (f *Factory) NewConnection(local call.LocalMedia, events call.ConnectionEvents) (call.MediaConnection, error) {
	stream, ok := local.(*Stream)
	if !ok {
		return nil, fmt.Errorf("unsupported local media %T", local)
	}

	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	for _, track := range stream.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}

	c := &Connection{pc: pc, queue: newEventQueue()}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || events.LocalCandidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			slog.Warn("failed to encode local candidate", "error", err)
			return
		}
		c.queue.push(func() { events.LocalCandidate(raw) })
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		slog.Debug("remote track", "kind", kind, "codec", track.Codec().MimeType)
		go discard(track)
		if events.RemoteTrack != nil {
			c.queue.push(func() { events.RemoteTrack(kind) })
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("peer connection state", "state", state.String())
		if events.StateChange != nil {
			mapped := connectionState(state)
			c.queue.push(func() { events.StateChange(mapped) })
		}
	})

	return c, nil
}

// Connection adapts a pion PeerConnection. Its callbacks are replayed in
// order on a dedicated goroutine, never from inside a method call.
type Connection struct {
	pc    *webrtc.PeerConnection
	queue *eventQueue
}

func (c *Connection) CreateOffer(iceRestart bool) (json.RawMessage, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := c.pc.CreateOffer(opts)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return c.localDescription()
}

func (c *Connection) CreateAnswer() (json.RawMessage, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return c.localDescription()
}

func (c *Connection) localDescription() (json.RawMessage, error) {
	desc := c.pc.LocalDescription()
	if desc == nil {
		return nil, fmt.Errorf("no local description")
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Connection) SetRemoteDescription(desc json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return fmt.Errorf("parse session description: %w", err)
	}
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	return c.pc.AddICECandidate(init)
}

// Close stops event delivery and closes the peer connection.
func (c *Connection) Close() error {
	c.queue.close()
	return c.pc.Close()
}

func connectionState(state webrtc.PeerConnectionState) call.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return call.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return call.ConnectionClosed
	default:
		return call.ConnectionNew
	}
}

// discard reads a remote track until it ends so its buffers never fill.
func discard(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// eventQueue runs callbacks one at a time in push order.
type eventQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			fn()
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		close(q.done)
	}
}
