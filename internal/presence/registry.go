// Package presence maps client identities to their live signaling
// connection.
//
// A Registry is not safe for concurrent use. It is owned by the hub event
// loop, which serializes every call.
package presence

import (
	"sort"
	"time"

	"github.com/mossy-p/call-signaling/internal/models"
)

// Conn is the handle of one live transport session.
type Conn interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	// Send queues msg for delivery without blocking. It reports false if the
	// message was dropped.
	Send(msg models.SignalMessage) bool
}

type binding struct {
	conn  Conn
	since time.Time
}

// Registry binds identities to connections. At most one connection is bound
// to an identity; the last registration wins.
type Registry struct {
	byIdentity map[string]binding
	// reverse index, keyed by Conn.ID
	byConn map[string]string
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]binding),
		byConn:     make(map[string]string),
		now:        time.Now,
	}
}

// Register binds identity to conn. If another connection held the identity it
// is returned as displaced; it stays open but is no longer reachable by
// identity and its eventual Unregister resolves nothing.
func (r *Registry) Register(identity string, conn Conn) (displaced Conn, ok bool) {
	if prev, exists := r.byIdentity[identity]; exists && prev.conn.ID() != conn.ID() {
		delete(r.byConn, prev.conn.ID())
		displaced, ok = prev.conn, true
	}
	// A connection only ever carries one identity.
	if old, exists := r.byConn[conn.ID()]; exists && old != identity {
		delete(r.byIdentity, old)
	}

	since := r.now()
	if prev, exists := r.byIdentity[identity]; exists && prev.conn.ID() == conn.ID() {
		since = prev.since
	}
	r.byIdentity[identity] = binding{conn: conn, since: since}
	r.byConn[conn.ID()] = identity
	return displaced, ok
}

// Lookup returns the connection currently bound to identity.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	b, ok := r.byIdentity[identity]
	if !ok {
		return nil, false
	}
	return b.conn, true
}

// IdentityOf resolves the identity bound to conn without removing it.
func (r *Registry) IdentityOf(conn Conn) (string, bool) {
	identity, ok := r.byConn[conn.ID()]
	return identity, ok
}

// Unregister removes the binding owned by conn and returns its identity. A
// connection that was displaced or never registered resolves nothing.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	identity, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	if b, exists := r.byIdentity[identity]; exists && b.conn.ID() == conn.ID() {
		delete(r.byIdentity, identity)
	}
	return identity, true
}

// Broadcast offers msg to every bound connection except the one with ID
// exceptID. Delivery is best effort; it returns how many connections
// accepted the message.
func (r *Registry) Broadcast(msg models.SignalMessage, exceptID string) int {
	delivered := 0
	for _, b := range r.byIdentity {
		if b.conn.ID() == exceptID {
			continue
		}
		if b.conn.Send(msg) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	return len(r.byIdentity)
}

// Users lists the bound identities sorted by identity.
func (r *Registry) Users() []models.OnlineUser {
	users := make([]models.OnlineUser, 0, len(r.byIdentity))
	for identity, b := range r.byIdentity {
		users = append(users, models.OnlineUser{
			Identity:     identity,
			ConnectionID: b.conn.ID(),
			ConnectedAt:  b.since,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Identity < users[j].Identity })
	return users
}
