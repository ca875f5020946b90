package relay

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/BioHazard786/Huddle/internal/directory"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

type handlerFunc func(h *Hub, c *Client, msg *protocol.Message)

// handlers maps inbound event names to their handler.
var handlers = map[string]handlerFunc{
	protocol.EventJoin:         (*Hub).handleJoin,
	protocol.EventSendMessage:  (*Hub).handleSendMessage,
	protocol.EventSendImage:    (*Hub).handleSendImage,
	protocol.EventSendPDF:      (*Hub).handleSendPDF,
	protocol.EventLogout:       (*Hub).handleLogout,
	protocol.EventCallUser:     (*Hub).handleCallUser,
	protocol.EventCallAccepted: (*Hub).handleCallAccepted,
	protocol.EventCallRejected: (*Hub).handleCallRejected,
	protocol.EventCallOffer:    (*Hub).handleCallOffer,
	protocol.EventCallAnswer:   (*Hub).handleCallAnswer,
	protocol.EventICECandidate: (*Hub).handleICECandidate,
	protocol.EventCallEnded:    (*Hub).handleCallEnded,
}

const (
	errInvalidPayload = "invalid payload"
	errNotJoined      = "join a room first"
	errJoinFields     = "username and room code are required"
)

func (h *Hub) handle(c *Client, msg *protocol.Message) {
	if _, live := h.clients[c.ID]; !live {
		return
	}
	handler, ok := handlers[msg.Type]
	if !ok {
		slog.Debug("unknown event", "conn", c.ID, "type", msg.Type)
		return
	}
	handler(h, c, msg)
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, protocol.MustNew(protocol.EventError, protocol.ErrorPayload{Error: text}))
}

// decode unmarshals the payload, answering the sender with a generic error
// when it is malformed.
func (h *Hub) decode(c *Client, msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		slog.Debug("malformed payload", "conn", c.ID, "type", msg.Type, "error", err)
		h.sendError(c, errInvalidPayload)
		return false
	}
	return true
}

// member returns the sender's directory entry, answering with an error when
// the connection has not joined a room.
func (h *Hub) member(c *Client) (directory.Participant, bool) {
	p, ok := h.dir.Lookup(c.ID)
	if !ok {
		h.sendError(c, errNotJoined)
	}
	return p, ok
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	var payload protocol.JoinPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	name := strings.TrimSpace(payload.Username)
	roomCode := strings.TrimSpace(payload.RoomCode)
	if name == "" || roomCode == "" {
		h.sendError(c, errJoinFields)
		return
	}

	if prev, ok := h.dir.Lookup(c.ID); ok && (prev.RoomCode != roomCode || prev.DisplayName != name) {
		h.leaveRoom(prev)
	}
	if existing, ok := h.dir.FindByName(roomCode, name); ok && existing.ConnectionID != c.ID {
		slog.Info("display name rejoined, replacing connection", "room", roomCode, "user", name, "old", existing.ConnectionID, "new", c.ID)
	}

	members := h.dir.Join(roomCode, name, c.ID)
	slog.Info("participant joined", "room", roomCode, "user", name, "members", len(members))

	h.broadcast(roomCode, protocol.MustNew(protocol.EventUserJoined, protocol.PresencePayload{
		User:  name,
		Users: h.dir.ListNames(roomCode),
	}))
	h.send(c, protocol.MustNew(protocol.EventMessage, protocol.ChatPayload{
		User:      protocol.SystemUser,
		Text:      "Welcome to room " + roomCode + ", " + name + "!",
		Timestamp: h.timestamp(),
	}))
}

func (h *Hub) handleSendMessage(c *Client, msg *protocol.Message) {
	var payload protocol.SendMessagePayload
	if !h.decode(c, msg, &payload) {
		return
	}
	sender, ok := h.member(c)
	if !ok {
		return
	}
	h.broadcast(sender.RoomCode, protocol.MustNew(protocol.EventMessage, protocol.ChatPayload{
		User:      sender.DisplayName,
		Text:      payload.Text,
		Timestamp: h.timestamp(),
	}))
}

func (h *Hub) handleSendImage(c *Client, msg *protocol.Message) {
	var payload protocol.SendImagePayload
	if !h.decode(c, msg, &payload) {
		return
	}
	sender, ok := h.member(c)
	if !ok {
		return
	}
	h.broadcast(sender.RoomCode, protocol.MustNew(protocol.EventImageMessage, protocol.ImagePayload{
		User:      sender.DisplayName,
		Image:     payload.Image,
		Timestamp: h.timestamp(),
	}))
}

func (h *Hub) handleSendPDF(c *Client, msg *protocol.Message) {
	var payload protocol.SendPDFPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	sender, ok := h.member(c)
	if !ok {
		return
	}
	h.broadcast(sender.RoomCode, protocol.MustNew(protocol.EventPDFMessage, protocol.PDFPayload{
		User:      sender.DisplayName,
		PDF:       payload.Data,
		Filename:  payload.Filename,
		Filesize:  payload.Filesize,
		Timestamp: h.timestamp(),
	}))
}

// handleLogout runs disconnect handling right away. Closing the send queue
// makes WritePump close the socket.
func (h *Hub) handleLogout(c *Client, _ *protocol.Message) {
	slog.Debug("logout", "conn", c.ID)
	h.disconnect(c)
}

// handleCallUser resolves the callee by display name within the caller's room.
// Every miss becomes a call-failed for the caller and nothing for anyone else.
func (h *Hub) handleCallUser(c *Client, msg *protocol.Message) {
	var payload protocol.CallUserPayload
	if err := msg.Decode(&payload); err != nil {
		h.callFailed(c, "", protocol.FailInvalidInput)
		return
	}
	target := strings.TrimSpace(payload.Target)

	caller, ok := h.dir.Lookup(c.ID)
	if !ok {
		h.callFailed(c, target, protocol.FailNotInRoom)
		return
	}
	if target == "" {
		h.callFailed(c, target, protocol.FailInvalidInput)
		return
	}
	if target == caller.DisplayName {
		h.callFailed(c, target, protocol.FailSelf)
		return
	}
	callee, ok := h.dir.FindByName(caller.RoomCode, target)
	if !ok {
		h.callFailed(c, target, protocol.FailNotFound)
		return
	}
	if !h.sendTo(callee.ConnectionID, protocol.MustNew(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		Caller: caller.DisplayName,
	})) {
		h.callFailed(c, target, protocol.FailOffline)
		return
	}

	slog.Info("call requested", "room", caller.RoomCode, "caller", caller.DisplayName, "callee", target)
	h.send(c, protocol.MustNew(protocol.EventCallRequestSent, protocol.CallRequestSentPayload{Target: target}))
}

func (h *Hub) callFailed(c *Client, target, reason string) {
	slog.Debug("call failed", "conn", c.ID, "target", target, "reason", reason)
	h.send(c, protocol.MustNew(protocol.EventCallFailed, protocol.CallFailedPayload{
		Target: target,
		Reason: reason,
	}))
}

// forward delivers a call event to target in the sender's room. The payload
// is built from the sender's registered name so a participant cannot speak
// for someone else. Misses come back to the sender as target-disconnected.
func (h *Hub) forward(c *Client, event, target string, build func(sender string) any) {
	target = strings.TrimSpace(target)
	sender, joined := h.dir.Lookup(c.ID)
	if joined {
		if callee, ok := h.dir.FindByName(sender.RoomCode, target); ok {
			if h.sendTo(callee.ConnectionID, protocol.MustNew(event, build(sender.DisplayName))) {
				slog.Debug("relayed", "event", event, "room", sender.RoomCode, "from", sender.DisplayName, "to", target)
				return
			}
		}
	}
	slog.Debug("relay target unavailable", "event", event, "conn", c.ID, "target", target)
	h.send(c, protocol.MustNew(protocol.EventTargetGone, protocol.TargetGonePayload{Target: target}))
}

func (h *Hub) handleCallAccepted(c *Client, msg *protocol.Message) {
	var payload protocol.CallAcceptedPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventCallAccepted, payload.Target, func(sender string) any {
		return protocol.CallAcceptedPayload{Acceptor: sender}
	})
}

func (h *Hub) handleCallRejected(c *Client, msg *protocol.Message) {
	var payload protocol.CallRejectedPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventCallRejected, payload.Target, func(sender string) any {
		return protocol.CallRejectedPayload{Rejector: sender, Reason: payload.Reason}
	})
}

func (h *Hub) handleCallOffer(c *Client, msg *protocol.Message) {
	var payload protocol.CallOfferPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventCallOffer, payload.Target, func(sender string) any {
		return protocol.CallOfferPayload{Caller: sender, Offer: opaque(payload.Offer)}
	})
}

func (h *Hub) handleCallAnswer(c *Client, msg *protocol.Message) {
	var payload protocol.CallAnswerPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventCallAnswer, payload.Target, func(sender string) any {
		return protocol.CallAnswerPayload{Answerer: sender, Answer: opaque(payload.Answer)}
	})
}

func (h *Hub) handleICECandidate(c *Client, msg *protocol.Message) {
	var payload protocol.ICECandidatePayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventICECandidate, payload.Target, func(sender string) any {
		return protocol.ICECandidatePayload{Sender: sender, Candidate: opaque(payload.Candidate)}
	})
}

func (h *Hub) handleCallEnded(c *Client, msg *protocol.Message) {
	var payload protocol.CallEndedPayload
	if !h.decode(c, msg, &payload) {
		return
	}
	h.forward(c, protocol.EventCallEnded, payload.Target, func(sender string) any {
		return protocol.CallEndedPayload{Ender: sender}
	})
}

// opaque keeps an absent blob as JSON null so re-marshalling never fails.
func opaque(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
