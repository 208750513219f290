package models

import "encoding/json"

// SignalType represents the type of a signaling message
type SignalType string

// Client → server
const (
	SignalTypeRegister    SignalType = "register"
	SignalTypeCallRequest SignalType = "call-request"
	SignalTypeAcceptCall  SignalType = "accept-call"
	SignalTypeDeclineCall SignalType = "decline-call"
	SignalTypeEndCall     SignalType = "end-call"
	SignalTypePing        SignalType = "ping"
)

// Relayed in both directions with the sender identity added
const (
	SignalTypeOffer       SignalType = "offer"
	SignalTypeAnswer      SignalType = "answer"
	SignalTypeCandidate   SignalType = "candidate"
	SignalTypeAudioToggle SignalType = "audio-toggle"
	SignalTypeVideoToggle SignalType = "video-toggle"
)

// Server → client
const (
	SignalTypeReady               SignalType = "ready"
	SignalTypeIncomingCall        SignalType = "incoming-call"
	SignalTypeCallAccepted        SignalType = "call-accepted"
	SignalTypeCallDeclined        SignalType = "call-declined"
	SignalTypeCallEnded           SignalType = "call-ended"
	SignalTypeCallError           SignalType = "call-error"
	SignalTypePartnerDisconnected SignalType = "partner-disconnected"
	SignalTypeUserOnline          SignalType = "user-online"
	SignalTypePong                SignalType = "pong"
	SignalTypeError               SignalType = "error"
)

// SignalMessage is the envelope of every frame on the signaling socket
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewSignalMessage marshals payload into a message of the given type. A nil
// payload produces a message without a payload field.
func NewSignalMessage(t SignalType, payload interface{}) (SignalMessage, error) {
	msg := SignalMessage{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, err
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m SignalMessage) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}

// RegisterRequest re-announces the identity the connection was opened with
type RegisterRequest struct {
	Identity string `json:"identity"`
}

// CallRequest starts a call with targetIdentity
type CallRequest struct {
	TargetIdentity string          `json:"targetIdentity"`
	SDPOffer       json.RawMessage `json:"sdpOffer,omitempty"`
	IsVideo        bool            `json:"isVideo"`
}

// IncomingCall is delivered to the callee of a call-request
type IncomingCall struct {
	CallerIdentity string          `json:"callerIdentity"`
	IsVideo        bool            `json:"isVideo"`
	SDPOffer       json.RawMessage `json:"sdpOffer,omitempty"`
}

// AcceptCall is sent by the callee back to the caller
type AcceptCall struct {
	TargetIdentity string          `json:"targetIdentity"`
	SDPAnswer      json.RawMessage `json:"sdpAnswer,omitempty"`
}

// CallAccepted is delivered to the caller once the callee accepts
type CallAccepted struct {
	CalleeIdentity string          `json:"calleeIdentity"`
	SDPAnswer      json.RawMessage `json:"sdpAnswer,omitempty"`
}

// TargetRequest covers decline-call and end-call
type TargetRequest struct {
	TargetIdentity string `json:"targetIdentity"`
}

// CallDeclined is delivered to the caller when the callee declines
type CallDeclined struct {
	CalleeIdentity string `json:"calleeIdentity"`
}

// CallEnded is delivered to the other party of an end-call
type CallEnded struct {
	SenderIdentity string `json:"senderIdentity"`
}

// NegotiationRequest carries an offer, answer or ICE candidate
type NegotiationRequest struct {
	TargetIdentity string          `json:"targetIdentity"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// Negotiation is the relayed form of NegotiationRequest
type Negotiation struct {
	SenderIdentity string          `json:"senderIdentity"`
	Body           json.RawMessage `json:"body,omitempty"`
}

// ToggleRequest carries an audio or video mute flag
type ToggleRequest struct {
	TargetIdentity string `json:"targetIdentity"`
	Flag           bool   `json:"flag"`
}

// Toggle is the relayed form of ToggleRequest
type Toggle struct {
	SenderIdentity string `json:"senderIdentity"`
	Flag           bool   `json:"flag"`
}

// PartnerDisconnected tells a peer that the other side of its call went away
type PartnerDisconnected struct {
	DisconnectedIdentity string `json:"disconnectedIdentity"`
}

// UserOnline is broadcast when an identity registers
type UserOnline struct {
	Identity string `json:"identity"`
}

// Ready confirms the identity bound to a freshly opened connection
type Ready struct {
	Identity     string `json:"identity"`
	ConnectionID string `json:"connectionId"`
}

// ErrorPayload is the body of call-error and error messages
type ErrorPayload struct {
	Message string `json:"message"`
}
