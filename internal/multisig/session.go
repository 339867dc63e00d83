package multisig

import (
	"errors"
	"fmt"
	"sync"

	"StakeCert/internal/stake"
)

var (
	// ErrQuorumNotReached is returned when an aggregate is requested from
	// a session that has not crossed the threshold, or when a session is
	// abandoned before quorum.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrSessionAbandoned is returned when ingesting into an abandoned
	// session.
	ErrSessionAbandoned = errors.New("session abandoned")
)

// SessionState is the lifecycle phase of a collection session.
type SessionState int

const (
	// SessionOpen accepts and accumulates signatures.
	SessionOpen SessionState = iota

	// SessionQuorumReached has frozen its accepted set and emitted an
	// aggregate. One-way.
	SessionQuorumReached

	// SessionAbandoned was expired by the caller before quorum. Terminal.
	SessionAbandoned
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionQuorumReached:
		return "quorum-reached"
	case SessionAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// contribKey identifies one (party, index) contribution.
type contribKey struct {
	party stake.PartyID
	index uint64
}

// IngestResult reports what one Ingest call did.
type IngestResult struct {
	Accepted     bool   // Accepted is true if the signature was newly recorded
	Duplicate    bool   // Duplicate is true for an already-recorded (party, index)
	PostQuorum   bool   // PostQuorum is true if the session was already frozen
	QuorumNow    bool   // QuorumNow is true if this signature crossed the threshold
	CoveredStake uint64 // CoveredStake is the coverage after this call (frozen after quorum)
}

// Session collects individual signatures for one (epoch, message) until
// quorum. Signature verification runs outside the lock; only the
// accounting mutates shared state, behind one mutex. The quorum
// transition is one-way and builds the aggregate exactly once, even when
// several threshold-crossing signatures arrive concurrently.
type Session struct {
	dist              *stake.Distribution
	message           [32]byte
	threshold         Threshold
	securityParameter uint64
	required          uint64

	mu        sync.Mutex
	state     SessionState
	accepted  map[contribKey]*IndividualSignature
	covered   uint64
	aggregate *AggregateSignature
	lateCount int // valid signatures recorded after freeze, for audit
}

// NewSession opens a collection session for the given distribution,
// message, and protocol parameters.
func NewSession(dist *stake.Distribution, message [32]byte, threshold Threshold, securityParameter uint64) (*Session, error) {
	if err := threshold.Validate(); err != nil {
		return nil, err
	}

	if securityParameter == 0 {
		return nil, fmt.Errorf("security parameter must be positive")
	}

	return &Session{
		dist:              dist,
		message:           message,
		threshold:         threshold,
		securityParameter: securityParameter,
		required:          threshold.Required(dist.Total()),
		accepted:          make(map[contribKey]*IndividualSignature),
	}, nil
}

// Epoch returns the session's epoch.
func (s *Session) Epoch() stake.Epoch {
	return s.dist.Epoch()
}

// Message returns the session's message digest.
func (s *Session) Message() [32]byte {
	return s.message
}

// Required returns the covered stake needed for quorum.
func (s *Session) Required() uint64 {
	return s.required
}

// Ingest verifies and records one individual signature. Non-blocking: it
// never waits for more signatures. A verification failure is returned as
// a typed error and leaves the session unchanged. Duplicates are
// idempotent no-ops. Signatures arriving after quorum are verified and
// counted for audit but never alter the emitted aggregate.
func (s *Session) Ingest(sig *IndividualSignature) (IngestResult, error) {
	if sig.Message != s.message {
		return IngestResult{}, fmt.Errorf("signature is for a different message")
	}

	// Cryptographic verification happens before taking the lock so
	// concurrent submissions only serialize on the accounting below.
	if err := VerifySignature(sig, s.dist, s.securityParameter); err != nil {
		return IngestResult{}, err
	}

	party, _ := s.dist.Lookup(sig.Party)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionAbandoned {
		return IngestResult{}, ErrSessionAbandoned
	}

	key := contribKey{party: sig.Party, index: sig.Index}

	if s.state == SessionQuorumReached {
		if _, dup := s.accepted[key]; dup {
			return IngestResult{Duplicate: true, PostQuorum: true, CoveredStake: s.covered}, nil
		}

		s.lateCount++

		return IngestResult{Accepted: true, PostQuorum: true, CoveredStake: s.covered}, nil
	}

	if _, dup := s.accepted[key]; dup {
		return IngestResult{Duplicate: true, CoveredStake: s.covered}, nil
	}

	s.accepted[key] = sig
	s.covered += party.Stake

	result := IngestResult{Accepted: true, CoveredStake: s.covered}

	if s.covered >= s.required {
		agg, err := s.freezeLocked()
		if err != nil {
			// Aggregation over a verified set cannot fail in practice;
			// surface it rather than silently staying open.
			return result, fmt.Errorf("freeze session: %w", err)
		}

		s.aggregate = agg
		s.state = SessionQuorumReached
		result.QuorumNow = true
	}

	return result, nil
}

// freezeLocked combines the accepted set into an aggregate.
// Caller holds s.mu.
func (s *Session) freezeLocked() (*AggregateSignature, error) {
	accepted := make([]*IndividualSignature, 0, len(s.accepted))
	for _, sig := range s.accepted {
		accepted = append(accepted, sig)
	}

	return newAggregate(s.dist.Epoch(), s.message, accepted, s.covered)
}

// QuorumReached reports whether the session has frozen. Non-blocking.
func (s *Session) QuorumReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == SessionQuorumReached
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// CoveredStake returns the current index-stake coverage. Frozen after
// quorum.
func (s *Session) CoveredStake() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.covered
}

// LateCount returns how many valid signatures arrived after freeze.
func (s *Session) LateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lateCount
}

// Aggregate returns the emitted aggregate signature, or
// ErrQuorumNotReached if the session has not frozen.
func (s *Session) Aggregate() (*AggregateSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionQuorumReached {
		return nil, fmt.Errorf("%w: covered %d, required %d", ErrQuorumNotReached, s.covered, s.required)
	}

	return s.aggregate, nil
}

// Abandon expires an open session before quorum and releases its state.
// Terminal: further ingests fail with ErrSessionAbandoned. Abandoning a
// frozen session is a no-op; its aggregate remains available.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionOpen {
		return
	}

	s.state = SessionAbandoned
	s.accepted = nil
}
