// Package relay routes signaling messages between identities and keeps the
// presence registry and call tracker consistent across connects, call
// setup/teardown and disconnects.
//
// Relay methods are not safe for concurrent use; the hub serializes them.
package relay

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/call-signaling/internal/calls"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/presence"
)

// Conn is a live connection together with the identity it was opened with.
// The identity is the only source of a message's sender.
type Conn interface {
	presence.Conn
	Identity() string
}

// Observer is told about presence and call changes after they are applied.
// Implementations must not block.
type Observer interface {
	IdentityOnline(identity string)
	IdentityOffline(identity string)
	CallStarted(a, b string)
	CallEnded(a, b string)
}

type nopObserver struct{}

func (nopObserver) IdentityOnline(string)      {}
func (nopObserver) IdentityOffline(string)     {}
func (nopObserver) CallStarted(string, string) {}
func (nopObserver) CallEnded(string, string)   {}

type Option func(*Relay)

func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observer = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

type Relay struct {
	presence *presence.Registry
	calls    *calls.Tracker
	observer Observer
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func New(registry *presence.Registry, tracker *calls.Tracker, log *logrus.Entry, opts ...Option) *Relay {
	r := &Relay{
		presence: registry,
		calls:    tracker,
		observer: nopObserver{},
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect binds the connection's identity, confirms it with a ready message
// and announces the identity to everyone else.
func (r *Relay) Connect(conn Conn) {
	defer r.recordSizes()

	r.bind(conn)
	r.deliver(conn, models.SignalTypeReady, models.Ready{
		Identity:     conn.Identity(),
		ConnectionID: conn.ID(),
	})
}

func (r *Relay) bind(conn Conn) {
	identity := conn.Identity()
	if displaced, ok := r.presence.Register(identity, conn); ok {
		r.log.WithFields(logrus.Fields{
			"identity":  identity,
			"displaced": displaced.ID(),
			"conn":      conn.ID(),
		}).Warn("Identity re-registered by another connection")
	}
	r.observer.IdentityOnline(identity)

	online, err := models.NewSignalMessage(models.SignalTypeUserOnline, models.UserOnline{Identity: identity})
	if err != nil {
		r.log.WithError(err).Error("Failed to build user-online message")
		return
	}
	n := r.presence.Broadcast(online, conn.ID())
	r.log.WithFields(logrus.Fields{
		"identity": identity,
		"conn":     conn.ID(),
		"notified": n,
	}).Info("User online")
}

// Handle processes one inbound message from conn.
func (r *Relay) Handle(conn Conn, msg models.SignalMessage) {
	defer r.recordSizes()

	switch msg.Type {
	case models.SignalTypeRegister:
		r.handleRegister(conn, msg)
	case models.SignalTypeCallRequest:
		r.handleCallRequest(conn, msg)
	case models.SignalTypeAcceptCall:
		r.handleAcceptCall(conn, msg)
	case models.SignalTypeDeclineCall:
		r.handleDeclineCall(conn, msg)
	case models.SignalTypeEndCall:
		r.handleEndCall(conn, msg)
	case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
		r.handleNegotiation(conn, msg)
	case models.SignalTypeAudioToggle, models.SignalTypeVideoToggle:
		r.handleToggle(conn, msg)
	case models.SignalTypePing:
		r.deliver(conn, models.SignalTypePong, nil)
	default:
		r.protocolError(conn, fmt.Sprintf("Unknown message type %q.", msg.Type))
	}
}

func (r *Relay) handleRegister(conn Conn, msg models.SignalMessage) {
	var req models.RegisterRequest
	if err := msg.Decode(&req); err != nil || req.Identity == "" || req.Identity != conn.Identity() {
		r.log.WithFields(logrus.Fields{
			"identity":  conn.Identity(),
			"requested": req.Identity,
		}).Warn("Registration rejected")
		r.protocolError(conn, "Registration failed: mismatched or missing identity.")
		return
	}
	r.bind(conn)
}

func (r *Relay) handleCallRequest(conn Conn, msg models.SignalMessage) {
	var req models.CallRequest
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	caller, callee := conn.Identity(), req.TargetIdentity

	target, ok := r.presence.Lookup(callee)
	if !ok {
		r.offline(conn, callee)
		return
	}
	if err := r.calls.TryStart(caller, callee); err != nil {
		reason, text := metrics.ReasonConflict, "One party is already in an active call."
		if errors.Is(err, calls.ErrSelfCall) {
			reason, text = metrics.ReasonSelfCall, "You cannot call yourself."
		}
		r.log.WithFields(logrus.Fields{
			"caller": caller,
			"callee": callee,
		}).WithError(err).Info("Call rejected")
		r.callError(conn, reason, text)
		return
	}
	r.observer.CallStarted(caller, callee)

	r.send(target, models.SignalTypeIncomingCall, models.IncomingCall{
		CallerIdentity: caller,
		IsVideo:        req.IsVideo,
		SDPOffer:       req.SDPOffer,
	})
	r.log.WithFields(logrus.Fields{
		"caller": caller,
		"callee": callee,
		"video":  req.IsVideo,
	}).Info("Call requested")
}

func (r *Relay) handleAcceptCall(conn Conn, msg models.SignalMessage) {
	var req models.AcceptCall
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	callee, caller := conn.Identity(), req.TargetIdentity

	target, ok := r.presence.Lookup(caller)
	if !ok {
		r.callError(conn, metrics.ReasonOffline, fmt.Sprintf("Caller %s is no longer online.", caller))
		r.endIfPaired(callee, caller)
		return
	}
	r.send(target, models.SignalTypeCallAccepted, models.CallAccepted{
		CalleeIdentity: callee,
		SDPAnswer:      req.SDPAnswer,
	})
	r.log.WithFields(logrus.Fields{
		"caller": caller,
		"callee": callee,
	}).Info("Call accepted")
}

func (r *Relay) handleDeclineCall(conn Conn, msg models.SignalMessage) {
	var req models.TargetRequest
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	callee, caller := conn.Identity(), req.TargetIdentity

	r.route(conn, caller, models.SignalTypeCallDeclined, models.CallDeclined{CalleeIdentity: callee})
	r.endIfPaired(callee, caller)
}

func (r *Relay) handleEndCall(conn Conn, msg models.SignalMessage) {
	var req models.TargetRequest
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	sender, peer := conn.Identity(), req.TargetIdentity

	r.route(conn, peer, models.SignalTypeCallEnded, models.CallEnded{SenderIdentity: sender})
	r.endIfPaired(sender, peer)
}

func (r *Relay) handleNegotiation(conn Conn, msg models.SignalMessage) {
	var req models.NegotiationRequest
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	r.route(conn, req.TargetIdentity, msg.Type, models.Negotiation{
		SenderIdentity: conn.Identity(),
		Body:           req.Body,
	})
}

func (r *Relay) handleToggle(conn Conn, msg models.SignalMessage) {
	var req models.ToggleRequest
	if !r.decodeTargeted(conn, msg, &req, &req.TargetIdentity) {
		return
	}
	r.route(conn, req.TargetIdentity, msg.Type, models.Toggle{
		SenderIdentity: conn.Identity(),
		Flag:           req.Flag,
	})
}

// Disconnect runs the cleanup for a closed connection: drop its presence
// binding, tell a call partner that is still online, and end the session.
// Connections that were never bound, or were displaced by a newer
// registration of the same identity, need no cleanup.
func (r *Relay) Disconnect(conn Conn) {
	defer r.recordSizes()

	identity, ok := r.presence.Unregister(conn)
	if !ok {
		r.log.WithField("conn", conn.ID()).Debug("Disconnect of unbound connection")
		return
	}
	r.observer.IdentityOffline(identity)

	entry := r.log.WithFields(logrus.Fields{
		"identity": identity,
		"conn":     conn.ID(),
	})

	peer, inCall := r.calls.PeerOf(identity)
	if !inCall {
		entry.Info("User offline")
		return
	}
	if peerConn, online := r.presence.Lookup(peer); online {
		r.send(peerConn, models.SignalTypePartnerDisconnected, models.PartnerDisconnected{
			DisconnectedIdentity: identity,
		})
	}
	r.calls.End(identity, peer)
	r.observer.CallEnded(identity, peer)
	entry.WithField("peer", peer).Info("User offline, call ended")
}

// Stats reports registry and tracker sizes.
func (r *Relay) Stats() models.Stats {
	return models.Stats{
		Users:       r.presence.Len(),
		ActiveCalls: r.calls.Len(),
	}
}

// Snapshot copies the current presence and call state.
func (r *Relay) Snapshot() models.Snapshot {
	return models.Snapshot{
		Users: r.presence.Users(),
		Calls: r.calls.Sessions(),
		Stats: r.Stats(),
	}
}

// route delivers a message to target or answers the sender with a call-error
// naming the offline target. Nothing is queued for later delivery.
func (r *Relay) route(from Conn, target string, t models.SignalType, payload interface{}) bool {
	conn, ok := r.presence.Lookup(target)
	if !ok {
		r.offline(from, target)
		return false
	}
	r.send(conn, t, payload)
	return true
}

func (r *Relay) endIfPaired(a, b string) {
	if peer, ok := r.calls.PeerOf(a); !ok || peer != b {
		return
	}
	r.calls.End(a, b)
	r.observer.CallEnded(a, b)
	r.log.WithFields(logrus.Fields{"a": a, "b": b}).Info("Call ended")
}

// send delivers a relayed message and counts it.
func (r *Relay) send(conn presence.Conn, t models.SignalType, payload interface{}) {
	if r.deliver(conn, t, payload) {
		r.metrics.IncRelayed(string(t))
	}
}

func (r *Relay) deliver(conn presence.Conn, t models.SignalType, payload interface{}) bool {
	msg, err := models.NewSignalMessage(t, payload)
	if err != nil {
		r.log.WithError(err).WithField("type", t).Error("Failed to build message")
		return false
	}
	if !conn.Send(msg) {
		r.metrics.IncDropped()
		r.log.WithFields(logrus.Fields{
			"conn": conn.ID(),
			"type": t,
		}).Warn("Failed to send message, buffer full")
		return false
	}
	return true
}

func (r *Relay) offline(conn Conn, target string) {
	r.log.WithFields(logrus.Fields{
		"from":   conn.Identity(),
		"target": target,
	}).Debug("Target not online")
	r.callError(conn, metrics.ReasonOffline, fmt.Sprintf("User %s is not online.", target))
}

func (r *Relay) callError(conn Conn, reason, message string) {
	r.metrics.IncError(reason)
	r.deliver(conn, models.SignalTypeCallError, models.ErrorPayload{Message: message})
}

func (r *Relay) protocolError(conn Conn, message string) {
	r.metrics.IncError(metrics.ReasonProtocol)
	r.deliver(conn, models.SignalTypeError, models.ErrorPayload{Message: message})
}

// decodeTargeted decodes a payload that names a target identity. It answers
// the sender with a protocol error and returns false if the payload is
// malformed or the target is missing.
func (r *Relay) decodeTargeted(conn Conn, msg models.SignalMessage, v interface{}, target *string) bool {
	if err := msg.Decode(v); err != nil {
		r.protocolError(conn, fmt.Sprintf("Invalid %s payload.", msg.Type))
		return false
	}
	if *target == "" {
		r.protocolError(conn, fmt.Sprintf("Missing targetIdentity in %s.", msg.Type))
		return false
	}
	return true
}

func (r *Relay) recordSizes() {
	r.metrics.SetSizes(r.presence.Len(), r.calls.Len())
}
