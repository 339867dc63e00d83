package multisig

import (
	"errors"
	"testing"
)

// TestArenaOpenGetExpire tests the session lifecycle through the arena.
func TestArenaOpenGetExpire(t *testing.T) {
	arena, err := NewArena(TwoThirds, testSecurityParameter)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}

	signers := newTestSigners(t, 30, 30, 40)
	dist := testDistribution(t, 1, signers)
	message := [32]byte{0x01}

	session, err := arena.Open(dist, message)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if arena.Len() != 1 {
		t.Errorf("len = %d, want 1", arena.Len())
	}

	got, err := arena.Get(1, message)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != session {
		t.Error("get returned a different session")
	}

	if _, err := arena.Open(dist, message); !errors.Is(err, ErrSessionExists) {
		t.Errorf("reopen: error = %v, want ErrSessionExists", err)
	}

	if err := arena.Expire(1, message); err != nil {
		t.Fatalf("expire: %v", err)
	}

	if session.State() != SessionAbandoned {
		t.Errorf("state after expire = %v, want abandoned", session.State())
	}

	if _, err := arena.Get(1, message); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get after expire: error = %v, want ErrSessionNotFound", err)
	}

	if err := arena.Expire(1, message); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double expire: error = %v, want ErrSessionNotFound", err)
	}
}

// TestArenaIndependentSessions tests that sessions for different
// messages coexist.
func TestArenaIndependentSessions(t *testing.T) {
	arena, err := NewArena(TwoThirds, testSecurityParameter)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}

	dist := testDistribution(t, 1, newTestSigners(t, 50, 50))

	if _, err := arena.Open(dist, [32]byte{0x01}); err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := arena.Open(dist, [32]byte{0x02}); err != nil {
		t.Fatalf("open second: %v", err)
	}

	if arena.Len() != 2 {
		t.Errorf("len = %d, want 2", arena.Len())
	}
}

// TestNewArenaRejectsInvalidParameters tests parameter validation.
func TestNewArenaRejectsInvalidParameters(t *testing.T) {
	if _, err := NewArena(Threshold{Num: 0, Den: 1}, testSecurityParameter); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("error = %v, want ErrInvalidThreshold", err)
	}

	if _, err := NewArena(TwoThirds, 0); err == nil {
		t.Error("zero security parameter accepted")
	}
}
