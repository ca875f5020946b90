package signaling

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/Huddle/internal/protocol"
)

// CallHandler consumes call events. *call.Session implements it.
type CallHandler interface {
	HandleMessage(msg *protocol.Message) error
	PeerLeft(name string)
}

// ChatSink receives room events for display.
type ChatSink interface {
	Joined(p protocol.PresencePayload)
	Left(p protocol.PresencePayload)
	Chat(p protocol.ChatPayload)
	Image(p protocol.ImagePayload)
	PDF(p protocol.PDFPayload)
	Error(text string)
}

// Handler routes relay events to the call session and the chat sink, one at
// a time and in arrival order.
type Handler struct {
	calls CallHandler
	sink  ChatSink
}

// NewHandler creates a new message handler.
func NewHandler(calls CallHandler, sink ChatSink) *Handler {
	return &Handler{calls: calls, sink: sink}
}

// Run handles messages from incoming until it is closed or ctx ends.
func (h *Handler) Run(ctx context.Context, incoming <-chan *protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			h.Handle(msg)
		}
	}
}

// Handle routes one message.
func (h *Handler) Handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.EventUserJoined:
		var p protocol.PresencePayload
		if h.decode(msg, &p) {
			h.sink.Joined(p)
		}

	case protocol.EventUserLeft:
		var p protocol.PresencePayload
		if h.decode(msg, &p) {
			h.calls.PeerLeft(p.User)
			h.sink.Left(p)
		}

	case protocol.EventMessage:
		var p protocol.ChatPayload
		if h.decode(msg, &p) {
			h.sink.Chat(p)
		}

	case protocol.EventImageMessage:
		var p protocol.ImagePayload
		if h.decode(msg, &p) {
			h.sink.Image(p)
		}

	case protocol.EventPDFMessage:
		var p protocol.PDFPayload
		if h.decode(msg, &p) {
			h.sink.PDF(p)
		}

	case protocol.EventError:
		var p protocol.ErrorPayload
		if h.decode(msg, &p) {
			h.sink.Error(p.Error)
		}

	case protocol.EventIncomingCall,
		protocol.EventCallRequestSent,
		protocol.EventCallFailed,
		protocol.EventCallAccepted,
		protocol.EventCallRejected,
		protocol.EventCallOffer,
		protocol.EventCallAnswer,
		protocol.EventICECandidate,
		protocol.EventCallEnded,
		protocol.EventTargetGone:
		if err := h.calls.HandleMessage(msg); err != nil {
			slog.Warn("dropping call event", "type", msg.Type, "error", err)
		}

	default:
		slog.Debug("unhandled relay event", "type", msg.Type)
	}
}

func (h *Handler) decode(msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		slog.Warn("malformed relay event", "type", msg.Type, "error", err)
		return false
	}
	return true
}
