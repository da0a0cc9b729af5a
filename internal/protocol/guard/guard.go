// Package guard tracks per-sender public keys and monotonic counters.
// It is the sole replay defense: no two envelopes from one fingerprint
// with the same or a decreasing counter are both accepted.
package guard

import (
	"crypto/rsa"
	"fmt"

	"github.com/santiagosayshey/OMesh/internal/protocol/envelope"
)

type senderState struct {
	pub         *rsa.PublicKey
	lastCounter uint64
}

// Registry holds one state per known sender. It is not safe for concurrent
// use; the router accesses it only from its dispatch loop.
type Registry struct {
	senders map[string]*senderState
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]*senderState)}
}

// Register creates or resets state for a fingerprint on first authenticated
// contact. The counter starts at zero, so the first accepted envelope must
// carry a counter of at least one.
func (r *Registry) Register(fingerprint string, pub *rsa.PublicKey) {
	r.senders[fingerprint] = &senderState{pub: pub}
}

// Known reports whether the fingerprint has registered.
func (r *Registry) Known(fingerprint string) bool {
	_, ok := r.senders[fingerprint]
	return ok
}

// PublicKey returns the registered key for a fingerprint, or nil.
func (r *Registry) PublicKey(fingerprint string) *rsa.PublicKey {
	s, ok := r.senders[fingerprint]
	if !ok {
		return nil
	}
	return s.pub
}

// LastCounter returns the highest accepted counter for a fingerprint.
func (r *Registry) LastCounter(fingerprint string) uint64 {
	s, ok := r.senders[fingerprint]
	if !ok {
		return 0
	}
	return s.lastCounter
}

// Accept advances the sender's counter. A counter that does not strictly
// exceed the stored value is rejected with ErrReplayDetected and leaves
// the stored state untouched.
func (r *Registry) Accept(fingerprint string, counter uint64) error {
	s, ok := r.senders[fingerprint]
	if !ok {
		return fmt.Errorf("unknown sender %s", fingerprint)
	}
	if counter <= s.lastCounter {
		return envelope.ErrReplayDetected
	}
	s.lastCounter = counter
	return nil
}

// Remove destroys a sender's state, e.g. on client disconnect.
func (r *Registry) Remove(fingerprint string) {
	delete(r.senders, fingerprint)
}
