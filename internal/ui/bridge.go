package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

type (
	presenceMsg struct {
		joined bool
		p      protocol.PresencePayload
	}
	chatMsg      protocol.ChatPayload
	imageMsg     protocol.ImagePayload
	pdfMsg       protocol.PDFPayload
	relayErrMsg  string
	callStateMsg struct {
		state call.State
		peer  string
	}
	noticeMsg       string
	statusMsg       string
	incomingCallMsg string
	remoteTrackMsg  struct{ peer, kind string }
	disconnectedMsg struct{}
)

// Bridge delivers relay and call events to the chat screen. It satisfies
// signaling.ChatSink and call.Observer. Events that arrive before Attach are
// held until then and delivered first.
type Bridge struct {
	mu      sync.Mutex
	post    func(tea.Msg)
	pending []tea.Msg

	// deliver serializes posting so held events keep their place.
	deliver sync.Mutex
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach starts delivering to p. It may be called before p runs.
func (b *Bridge) Attach(p *tea.Program) {
	go b.attach(p.Send)
}

func (b *Bridge) attach(post func(tea.Msg)) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.post = post
	b.mu.Unlock()

	for _, msg := range pending {
		post(msg)
	}
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	if b.post == nil {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return
	}
	post := b.post
	b.mu.Unlock()

	b.deliver.Lock()
	post(msg)
	b.deliver.Unlock()
}

func (b *Bridge) Joined(p protocol.PresencePayload) { b.send(presenceMsg{joined: true, p: p}) }
func (b *Bridge) Left(p protocol.PresencePayload)   { b.send(presenceMsg{p: p}) }
func (b *Bridge) Chat(p protocol.ChatPayload)       { b.send(chatMsg(p)) }
func (b *Bridge) Image(p protocol.ImagePayload)     { b.send(imageMsg(p)) }
func (b *Bridge) PDF(p protocol.PDFPayload)         { b.send(pdfMsg(p)) }
func (b *Bridge) Error(text string)                 { b.send(relayErrMsg(text)) }

func (b *Bridge) StateChanged(state call.State, peer string) {
	b.send(callStateMsg{state: state, peer: peer})
}
func (b *Bridge) Notice(text string)            { b.send(noticeMsg(text)) }
func (b *Bridge) Status(text string)            { b.send(statusMsg(text)) }
func (b *Bridge) IncomingCall(caller string)    { b.send(incomingCallMsg(caller)) }
func (b *Bridge) RemoteTrack(peer, kind string) { b.send(remoteTrackMsg{peer: peer, kind: kind}) }

// Disconnected reports that the relay connection is gone.
func (b *Bridge) Disconnected() { b.send(disconnectedMsg{}) }
