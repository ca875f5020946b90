package call

import (
	"context"
	"encoding/json"
	"time"
)

// Signaler delivers call events to the relay.
type Signaler interface {
	Send(event string, payload any) error
}

// Constraints selects which local capture devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// Devices opens local capture devices.
type Devices interface {
	Acquire(ctx context.Context, c Constraints) (LocalMedia, error)
}

// LocalMedia is a set of opened capture tracks. Stop releases the devices.
type LocalMedia interface {
	HasVideo() bool
	SetMuted(muted bool)
	SetCameraOff(off bool)
	Stop()
}

// ConnectionState is the coarse state reported by a MediaConnection.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionEvents are invoked by a MediaConnection from its own goroutine,
// one at a time and in the order they happened. They must never be invoked
// from inside a MediaConnection method call.
type ConnectionEvents struct {
	LocalCandidate func(candidate json.RawMessage)
	RemoteTrack    func(kind string)
	StateChange    func(state ConnectionState)
}

// MediaConnection is a peer-to-peer media session. Descriptions and
// candidates are opaque JSON blobs relayed verbatim.
type MediaConnection interface {
	CreateOffer(iceRestart bool) (json.RawMessage, error)
	CreateAnswer() (json.RawMessage, error)
	SetRemoteDescription(desc json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

// ConnectionFactory builds a MediaConnection carrying media.
type ConnectionFactory interface {
	NewConnection(media LocalMedia, events ConnectionEvents) (MediaConnection, error)
}

// Observer is told about session changes. Methods are called without the
// session lock held, so they may call back into the session.
type Observer interface {
	StateChanged(state State, peer string)
	Notice(text string)
	Status(text string)
	IncomingCall(caller string)
	RemoteTrack(peer, kind string)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, string) {}
func (nopObserver) Notice(string)              {}
func (nopObserver) Status(string)              {}
func (nopObserver) IncomingCall(string)        {}
func (nopObserver) RemoteTrack(string, string) {}
