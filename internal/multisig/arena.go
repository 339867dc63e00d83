package multisig

import (
	"errors"
	"fmt"
	"sync"

	"StakeCert/internal/stake"
)

var (
	// ErrSessionExists is returned when opening a session for an
	// already-open (epoch, message).
	ErrSessionExists = errors.New("session already open")

	// ErrSessionNotFound is returned when no session exists for the
	// given (epoch, message).
	ErrSessionNotFound = errors.New("no session for epoch and message")
)

// sessionKey identifies one collection session.
type sessionKey struct {
	epoch   stake.Epoch
	message [32]byte
}

// Arena owns the collection sessions, keyed by (epoch, message).
// Sessions for different keys run fully independently; the arena lock
// only guards the map, never a session's accounting.
type Arena struct {
	threshold         Threshold
	securityParameter uint64

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewArena creates an empty arena with the protocol parameters all its
// sessions will share.
func NewArena(threshold Threshold, securityParameter uint64) (*Arena, error) {
	if err := threshold.Validate(); err != nil {
		return nil, err
	}

	if securityParameter == 0 {
		return nil, fmt.Errorf("security parameter must be positive")
	}

	return &Arena{
		threshold:         threshold,
		securityParameter: securityParameter,
		sessions:          make(map[sessionKey]*Session),
	}, nil
}

// Threshold returns the arena's quorum fraction.
func (a *Arena) Threshold() Threshold {
	return a.threshold
}

// SecurityParameter returns the arena's lottery index count.
func (a *Arena) SecurityParameter() uint64 {
	return a.securityParameter
}

// Open creates the session for (dist.Epoch(), message).
func (a *Arena) Open(dist *stake.Distribution, message [32]byte) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := sessionKey{epoch: dist.Epoch(), message: message}

	if _, exists := a.sessions[key]; exists {
		return nil, fmt.Errorf("%w: epoch %d", ErrSessionExists, dist.Epoch())
	}

	session, err := NewSession(dist, message, a.threshold, a.securityParameter)
	if err != nil {
		return nil, err
	}

	a.sessions[key] = session

	return session, nil
}

// Get returns the session for (epoch, message).
func (a *Arena) Get(epoch stake.Epoch, message [32]byte) (*Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	session, ok := a.sessions[sessionKey{epoch: epoch, message: message}]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", ErrSessionNotFound, epoch)
	}

	return session, nil
}

// Expire abandons the session for (epoch, message) and removes it from
// the arena. Abandonment is terminal; a frozen session keeps its
// aggregate but stops accepting audit records once removed.
func (a *Arena) Expire(epoch stake.Epoch, message [32]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := sessionKey{epoch: epoch, message: message}

	session, ok := a.sessions[key]
	if !ok {
		return fmt.Errorf("%w: epoch %d", ErrSessionNotFound, epoch)
	}

	session.Abandon()
	delete(a.sessions, key)

	return nil
}

// Len returns the number of live sessions.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.sessions)
}
