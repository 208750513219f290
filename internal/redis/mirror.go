package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Keys written by the mirror.
const (
	OnlineSetKey  = "signaling:online"
	CallsHashKey  = "signaling:calls"
	userKeyPrefix = "signaling:user:"
)

const (
	mirrorQueueSize = 1024
	writeTimeout    = 2 * time.Second
)

// UserKey is the per-identity key holding the unix time the identity came
// online. It expires after the presence TTL so a crashed process does not
// leave identities online forever.
func UserKey(identity string) string {
	return userKeyPrefix + identity
}

type opKind int

const (
	opOnline opKind = iota
	opOffline
	opCallStarted
	opCallEnded
)

type update struct {
	op   opKind
	a, b string
}

// Mirror copies presence and call changes into Redis for read-only
// consumers. It is best effort: updates are queued without blocking the
// caller and dropped when the queue is full or Redis fails. Redis is never
// read back into the relay.
type Mirror struct {
	client  *redis.Client
	ttl     time.Duration
	updates chan update
	log     *logrus.Entry
	now     func() time.Time
}

func NewMirror(client *redis.Client, ttl time.Duration, log *logrus.Entry) *Mirror {
	return &Mirror{
		client:  client,
		ttl:     ttl,
		updates: make(chan update, mirrorQueueSize),
		log:     log,
		now:     time.Now,
	}
}

func (m *Mirror) IdentityOnline(identity string)  { m.enqueue(update{op: opOnline, a: identity}) }
func (m *Mirror) IdentityOffline(identity string) { m.enqueue(update{op: opOffline, a: identity}) }
func (m *Mirror) CallStarted(a, b string)         { m.enqueue(update{op: opCallStarted, a: a, b: b}) }
func (m *Mirror) CallEnded(a, b string)           { m.enqueue(update{op: opCallEnded, a: a, b: b}) }

func (m *Mirror) enqueue(u update) {
	select {
	case m.updates <- u:
	default:
		m.log.WithField("identity", u.a).Warn("Mirror queue full, dropping update")
	}
}

// Run clears state left by a previous process and then applies queued
// updates until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	if err := m.Reset(ctx); err != nil {
		m.log.WithError(err).Warn("Failed to reset mirrored state")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-m.updates:
			if err := m.apply(ctx, u); err != nil {
				m.log.WithError(err).WithFields(logrus.Fields{
					"a": u.a,
					"b": u.b,
				}).Warn("Failed to mirror update")
			}
		}
	}
}

// Reset removes every key the mirror owns.
func (m *Mirror) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	members, err := m.client.SMembers(ctx, OnlineSetKey).Result()
	if err != nil {
		return err
	}
	keys := []string{OnlineSetKey, CallsHashKey}
	for _, id := range members {
		keys = append(keys, UserKey(id))
	}
	return m.client.Del(ctx, keys...).Err()
}

func (m *Mirror) apply(ctx context.Context, u update) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := m.client.TxPipeline()
	switch u.op {
	case opOnline:
		pipe.SAdd(ctx, OnlineSetKey, u.a)
		pipe.Set(ctx, UserKey(u.a), m.now().Unix(), m.ttl)
	case opOffline:
		pipe.SRem(ctx, OnlineSetKey, u.a)
		pipe.Del(ctx, UserKey(u.a))
	case opCallStarted:
		pipe.HSet(ctx, CallsHashKey, u.a, u.b, u.b, u.a)
	case opCallEnded:
		pipe.HDel(ctx, CallsHashKey, u.a, u.b)
	}
	_, err := pipe.Exec(ctx)
	return err
}
