package multisig

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidThreshold is returned for a zero or greater-than-one fraction.
var ErrInvalidThreshold = errors.New("invalid quorum threshold")

// Threshold is the quorum fraction of total stake that accepted
// contributions must cover before aggregation. The boundary is inclusive:
// covered stake equal to the required amount reaches quorum.
type Threshold struct {
	Num uint64 // Num is the fraction numerator
	Den uint64 // Den is the fraction denominator
}

// TwoThirds is the conventional BFT quorum fraction.
var TwoThirds = Threshold{Num: 2, Den: 3}

// Validate checks the fraction is in (0, 1].
func (t Threshold) Validate() error {
	if t.Den == 0 || t.Num == 0 || t.Num > t.Den {
		return fmt.Errorf("%w: %d/%d", ErrInvalidThreshold, t.Num, t.Den)
	}

	return nil
}

// Required returns the minimum covered stake for quorum over the given
// total: ceil(total * Num / Den). Computed with big integers so large
// stake pools cannot overflow.
func (t Threshold) Required(total uint64) uint64 {
	n := new(big.Int).SetUint64(total)
	n.Mul(n, new(big.Int).SetUint64(t.Num))

	den := new(big.Int).SetUint64(t.Den)

	// Ceiling division: (n + den - 1) / den
	n.Add(n, den)
	n.Sub(n, big.NewInt(1))
	n.Div(n, den)

	return n.Uint64()
}

// String returns the fraction in "num/den" form.
func (t Threshold) String() string {
	return fmt.Sprintf("%d/%d", t.Num, t.Den)
}
