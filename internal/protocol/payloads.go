package protocol

import "encoding/json"

// JoinPayload is sent by a participant to enter a room.
type JoinPayload struct {
	Username string `json:"username"`
	RoomCode string `json:"roomCode"`
}

// PresencePayload is broadcast as userJoined and userLeft.
type PresencePayload struct {
	User  string   `json:"user"`
	Users []string `json:"users"`
}

type SendMessagePayload struct {
	Text string `json:"text"`
}

type SendImagePayload struct {
	Image string `json:"image"`
}

type SendPDFPayload struct {
	Data     string `json:"data"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// ChatPayload is a text message as delivered to the room.
type ChatPayload struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type ImagePayload struct {
	User      string `json:"user"`
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
}

type PDFPayload struct {
	User      string `json:"user"`
	PDF       string `json:"pdf"`
	Filename  string `json:"filename"`
	Filesize  int64  `json:"filesize"`
	Timestamp string `json:"timestamp"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// CallUserPayload asks the relay to ring Target.
type CallUserPayload struct {
	Target string `json:"target"`
	Caller string `json:"caller"`
}

type IncomingCallPayload struct {
	Caller string `json:"caller"`
}

type CallRequestSentPayload struct {
	Target string `json:"target"`
}

type CallFailedPayload struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type CallAcceptedPayload struct {
	Target   string `json:"target,omitempty"`
	Acceptor string `json:"acceptor"`
}

type CallRejectedPayload struct {
	Target   string `json:"target,omitempty"`
	Rejector string `json:"rejector"`
	Reason   string `json:"reason,omitempty"`
}

// CallOfferPayload carries an opaque session description from the caller.
type CallOfferPayload struct {
	Target string          `json:"target,omitempty"`
	Caller string          `json:"caller"`
	Offer  json.RawMessage `json:"offer"`
}

type CallAnswerPayload struct {
	Target   string          `json:"target,omitempty"`
	Answerer string          `json:"answerer"`
	Answer   json.RawMessage `json:"answer"`
}

// ICECandidatePayload carries an opaque candidate. Sender is filled in by the
// relay on delivery.
type ICECandidatePayload struct {
	Target    string          `json:"target,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type TargetGonePayload struct {
	Target string `json:"target"`
}

type CallEndedPayload struct {
	Target string `json:"target,omitempty"`
	Ender  string `json:"ender"`
}

// RoomSummary is one row of the relay's /rooms endpoint.
type RoomSummary struct {
	RoomCode string `json:"roomCode"`
	Members  int    `json:"members"`
}
