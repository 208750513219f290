// Package hub serializes every relay operation onto one goroutine.
//
// Connection goroutines only submit work; all registry and tracker state is
// read and written from Run, so a call-request's conflict check and its
// session write can never interleave with another operation.
package hub

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/relay"
)

// ErrStopped is returned by submissions made after Run has returned.
var ErrStopped = errors.New("hub stopped")

const queueSize = 1024

type Hub struct {
	relay *relay.Relay
	ops   chan func()
	done  chan struct{}
	log   *logrus.Entry
}

func New(r *relay.Relay, log *logrus.Entry) *Hub {
	return &Hub{
		relay: r,
		ops:   make(chan func(), queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes submitted operations until ctx is cancelled. Operations still
// queued when ctx ends are discarded.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.log.Info("Hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("Hub stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) submit(ctx context.Context, op func()) error {
	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the hub goroutine and waits for its result.
func query[T any](ctx context.Context, h *Hub, fn func() T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if err := h.submit(ctx, func() { out <- fn() }); err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	case <-h.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// call submits op and waits for it to run.
func (h *Hub) call(ctx context.Context, op func()) error {
	_, err := query(ctx, h, func() struct{} {
		op()
		return struct{}{}
	})
	return err
}

// Connect binds conn's identity. It returns once the binding is visible to
// other connections, so messages read afterwards are routed from it.
func (h *Hub) Connect(ctx context.Context, conn relay.Conn) error {
	return h.call(ctx, func() { h.relay.Connect(conn) })
}

// Dispatch queues an inbound message from conn.
func (h *Hub) Dispatch(ctx context.Context, conn relay.Conn, msg models.SignalMessage) error {
	return h.submit(ctx, func() { h.relay.Handle(conn, msg) })
}

// Disconnect runs the cleanup for conn and waits for it to finish.
func (h *Hub) Disconnect(ctx context.Context, conn relay.Conn) error {
	return h.call(ctx, func() { h.relay.Disconnect(conn) })
}

// Stats reads the registry and tracker sizes.
func (h *Hub) Stats(ctx context.Context) (models.Stats, error) {
	return query(ctx, h, h.relay.Stats)
}

// Snapshot copies the presence and call state.
func (h *Hub) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return query(ctx, h, h.relay.Snapshot)
}
