package protocol

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every websocket frame exchanged between a
// participant and the relay, in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client to server events.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventSendImage   = "sendImage"
	EventSendPDF     = "sendPDF"
	EventLogout      = "logout"
)

// Server to client events.
const (
	EventUserJoined      = "userJoined"
	EventUserLeft        = "userLeft"
	EventMessage         = "message"
	EventImageMessage    = "imageMessage"
	EventPDFMessage      = "pdfMessage"
	EventIncomingCall    = "incoming-call"
	EventCallRequestSent = "call-request-sent"
	EventCallFailed      = "call-failed"
	EventTargetGone      = "target-disconnected"
	EventError           = "error"
)

// Call signaling events travel in both directions under the same name.
const (
	EventCallUser     = "call-user"
	EventCallAccepted = "call-accepted"
	EventCallRejected = "call-rejected"
	EventCallOffer    = "call-offer"
	EventCallAnswer   = "call-answer"
	EventICECandidate = "ice-candidate"
	EventCallEnded    = "call-ended"
)

// SystemUser is the author of relay-generated chat messages.
const SystemUser = "System"

// Rejection reasons carried by call-rejected.
const (
	ReasonBusy             = "busy"
	ReasonNoAnswer         = "no_answer"
	ReasonRejected         = "rejected"
	ReasonMediaUnavailable = "media_unavailable"
)

// Failure reasons carried by call-failed.
const (
	FailNotInRoom    = "not in a room"
	FailNotFound     = "user not found"
	FailOffline      = "user is offline"
	FailSelf         = "cannot call yourself"
	FailInvalidInput = "invalid call request"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t as an ISO-8601 UTC string with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// New builds an envelope with payload marshalled as JSON. A nil payload
// produces an envelope without a payload field.
func New(event string, payload any) (*Message, error) {
	msg := &Message{Type: event}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = b
	return msg, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(event string, payload any) *Message {
	msg, err := New(event, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v. An absent payload decodes as an
// empty object.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}
