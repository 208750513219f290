// Package calls tracks which identities are engaged in a call and with whom.
package calls

import (
	"errors"
	"sort"

	"github.com/mossy-p/call-signaling/internal/models"
)

var (
	// ErrConflict is returned by TryStart when either party already has a session.
	ErrConflict = errors.New("one party is already in an active call")
	// ErrSelfCall is returned by TryStart when both parties are the same identity.
	ErrSelfCall = errors.New("cannot call yourself")
)

// Tracker stores every session as two directed entries, a→b and b→a, so the
// partner of either side is an O(1) lookup. Pending and answered calls are
// not distinguished.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	peers map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]string)}
}

// TryStart installs a session between a and b unless either already keys one.
// On error nothing is written.
func (t *Tracker) TryStart(a, b string) error {
	if a == b {
		return ErrSelfCall
	}
	if _, busy := t.peers[a]; busy {
		return ErrConflict
	}
	if _, busy := t.peers[b]; busy {
		return ErrConflict
	}
	t.peers[a] = b
	t.peers[b] = a
	return nil
}

// PeerOf returns the partner of identity.
func (t *Tracker) PeerOf(identity string) (string, bool) {
	peer, ok := t.peers[identity]
	return peer, ok
}

// End clears every session keyed by a or b, including the partners' reverse
// entries, so no one-sided entry survives. Ending a missing session is a
// no-op. It reports whether anything was removed.
func (t *Tracker) End(a, b string) bool {
	removed := t.clear(a)
	if t.clear(b) {
		removed = true
	}
	return removed
}

func (t *Tracker) clear(identity string) bool {
	peer, ok := t.peers[identity]
	if !ok {
		return false
	}
	delete(t.peers, identity)
	if back, ok := t.peers[peer]; ok && back == identity {
		delete(t.peers, peer)
	}
	return true
}

// Len returns the number of sessions.
func (t *Tracker) Len() int {
	return len(t.peers) / 2
}

// Sessions lists every session once, each pair sorted, the list sorted by
// its first identity.
func (t *Tracker) Sessions() []models.ActiveCall {
	out := make([]models.ActiveCall, 0, len(t.peers)/2)
	for a, b := range t.peers {
		if a < b {
			out = append(out, models.ActiveCall{Identities: [2]string{a, b}})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identities[0] < out[j].Identities[0] })
	return out
}
