package chain

import (
	"errors"
	"fmt"

	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"
)

var (
	// ErrChainEmpty is returned for a candidate chain with no certificates.
	ErrChainEmpty = errors.New("empty certificate chain")

	// ErrAnchorMismatch is returned when the first certificate is not the
	// configured genesis trust anchor.
	ErrAnchorMismatch = errors.New("chain does not start at the trusted genesis")

	// ErrHashMismatch is returned when a certificate's recorded hash does
	// not match its content.
	ErrHashMismatch = errors.New("certificate hash does not match content")

	// ErrChainLinkage is returned when a certificate's previous-hash does
	// not resolve to its predecessor.
	ErrChainLinkage = errors.New("broken chain linkage")

	// ErrEpochRegression is returned when epochs decrease along the chain.
	ErrEpochRegression = errors.New("epoch regression")

	// ErrCommitmentMismatch is returned when a certificate's embedded
	// stake commitment differs from the one recorded for its epoch.
	ErrCommitmentMismatch = errors.New("stake distribution commitment mismatch")
)

// BreakError reports the first certificate that failed chain
// verification. Certificates before Position remain independently
// verifiable; everything from Position onward is untrusted.
type BreakError struct {
	Position int      // Position is the index of the broken certificate
	Hash     [32]byte // Hash is that certificate's recorded hash
	Err      error    // Err is the underlying failure
}

// Error formats the break position and cause.
func (e *BreakError) Error() string {
	return fmt.Sprintf("certificate %d (%x) failed verification: %v", e.Position, e.Hash[:8], e.Err)
}

// Unwrap returns the underlying failure.
func (e *BreakError) Unwrap() error {
	return e.Err
}

// Verify walks a candidate chain from genesis to head and checks, for
// every certificate: content-hash integrity, linkage to the predecessor,
// non-decreasing epochs, the stake commitment recorded for its epoch, and
// the embedded aggregate signature. The first certificate must match the
// configured trust anchor. Fails closed: the first broken certificate is
// reported via BreakError and nothing after it is trusted. Verification
// is a pure validity predicate; choosing between competing valid chains
// is the caller's concern.
func Verify(certs []*Certificate, anchor [32]byte, registry *stake.Registry, threshold multisig.Threshold, securityParameter uint64) error {
	if len(certs) == 0 {
		return ErrChainEmpty
	}

	if certs[0].Hash != anchor {
		return &BreakError{Position: 0, Hash: certs[0].Hash, Err: ErrAnchorMismatch}
	}

	if !certs[0].IsGenesis() {
		return &BreakError{Position: 0, Hash: certs[0].Hash, Err: fmt.Errorf("anchor certificate is not a genesis certificate")}
	}

	for i, cert := range certs {
		if cert.computeHash() != cert.Hash {
			return &BreakError{Position: i, Hash: cert.Hash, Err: ErrHashMismatch}
		}

		if i == 0 {
			// Genesis is trusted out of band: no aggregate, no registry
			// lookup. Hash and anchor checks above are sufficient.
			continue
		}

		prev := certs[i-1]

		if cert.PreviousHash != prev.Hash {
			return &BreakError{Position: i, Hash: cert.Hash,
				Err: fmt.Errorf("%w: previous %x, predecessor %x", ErrChainLinkage, cert.PreviousHash[:8], prev.Hash[:8])}
		}

		if cert.Epoch < prev.Epoch {
			return &BreakError{Position: i, Hash: cert.Hash,
				Err: fmt.Errorf("%w: epoch %d after %d", ErrEpochRegression, cert.Epoch, prev.Epoch)}
		}

		if cert.Aggregate == nil {
			return &BreakError{Position: i, Hash: cert.Hash, Err: fmt.Errorf("non-genesis certificate has no aggregate signature")}
		}

		dist, err := registry.ForEpoch(cert.Epoch)
		if err != nil {
			return &BreakError{Position: i, Hash: cert.Hash, Err: err}
		}

		if cert.Commitment != dist.Commitment() {
			return &BreakError{Position: i, Hash: cert.Hash,
				Err: fmt.Errorf("%w: epoch %d", ErrCommitmentMismatch, cert.Epoch)}
		}

		if err := multisig.VerifyAggregate(cert.Aggregate, dist, cert.Message, threshold, securityParameter); err != nil {
			return &BreakError{Position: i, Hash: cert.Hash, Err: err}
		}
	}

	return nil
}
