package multisig

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"StakeCert/internal/bls"
	"StakeCert/internal/lottery"
	"StakeCert/internal/stake"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDuplicateContribution marks a repeated (party, index) pair.
	ErrDuplicateContribution = errors.New("duplicate contribution")

	// ErrBelowThreshold is returned when an aggregate's covered stake is
	// under the quorum requirement.
	ErrBelowThreshold = errors.New("covered stake below threshold")

	// ErrCoverageMismatch is returned when an aggregate's claimed covered
	// stake does not match the distribution's records.
	ErrCoverageMismatch = errors.New("covered stake does not match distribution")

	// ErrAggregateMismatch is returned when the combined signature does
	// not verify against the contributing parties' keys.
	ErrAggregateMismatch = errors.New("combined signature verification failed")
)

// Contribution records one accepted (party, index) pair inside an
// aggregate, with the eligibility proof needed to re-verify the win.
type Contribution struct {
	Party stake.PartyID // Party identifies the contributor
	Index uint64        // Index is the won lottery index
	Proof []byte        // Proof is the eligibility proof for Index
}

// AggregateSignature is the compact quorum proof for one (epoch, message):
// a single combined BLS signature over the message plus the contribution
// records needed to re-verify stake-weighted eligibility.
type AggregateSignature struct {
	Epoch         stake.Epoch    // Epoch of the stake distribution used
	Message       [32]byte       // Message is the attested digest
	Signature     []byte         // Signature combines the distinct contributing parties' signatures
	Contributions []Contribution // Contributions are sorted by (party, index)
	CoveredStake  uint64         // CoveredStake is the index-stake coverage at freeze
}

// newAggregate combines a frozen accepted set into an AggregateSignature.
// Contributions are sorted into canonical (party, index) order so the same
// accepted set yields identical bytes regardless of arrival order.
func newAggregate(epoch stake.Epoch, message [32]byte, accepted []*IndividualSignature, covered uint64) (*AggregateSignature, error) {
	sorted := make([]*IndividualSignature, len(accepted))
	copy(sorted, accepted)

	sort.Slice(sorted, func(i, j int) bool {
		c := bytes.Compare(sorted[i].Party[:], sorted[j].Party[:])
		if c != 0 {
			return c < 0
		}
		return sorted[i].Index < sorted[j].Index
	})

	contributions := make([]Contribution, len(sorted))
	var partySigs [][]byte
	var lastParty stake.PartyID
	seenParty := false

	for i, sig := range sorted {
		contributions[i] = Contribution{
			Party: sig.Party,
			Index: sig.Index,
			Proof: sig.Proof,
		}

		// One signature per distinct party: a party signing several
		// indices produced the same message signature for each.
		if !seenParty || sig.Party != lastParty {
			partySigs = append(partySigs, sig.Signature)
			lastParty = sig.Party
			seenParty = true
		}
	}

	combined, err := bls.AggregateSignatures(partySigs)
	if err != nil {
		return nil, fmt.Errorf("combine signatures: %w", err)
	}

	return &AggregateSignature{
		Epoch:         epoch,
		Message:       message,
		Signature:     combined,
		Contributions: contributions,
		CoveredStake:  covered,
	}, nil
}

// VerifyAggregate checks an aggregate signature against a stake
// distribution and message. It succeeds iff every contribution carries a
// valid eligibility proof for a registered party, the recomputed coverage
// meets the threshold, and the combined signature verifies against the
// aggregated keys of the distinct contributing parties. Eligibility
// checks run in parallel; the result is independent of contribution order.
func VerifyAggregate(agg *AggregateSignature, dist *stake.Distribution, message [32]byte, threshold Threshold, securityParameter uint64) error {
	if agg.Message != message {
		return fmt.Errorf("aggregate is for a different message")
	}

	if agg.Epoch != dist.Epoch() {
		return fmt.Errorf("%w: aggregate epoch %d, distribution epoch %d",
			ErrEpochMismatch, agg.Epoch, dist.Epoch())
	}

	if len(agg.Contributions) == 0 {
		return fmt.Errorf("aggregate has no contributions")
	}

	type pair struct {
		party stake.PartyID
		index uint64
	}

	seen := make(map[pair]bool, len(agg.Contributions))
	partyKeys := make(map[stake.PartyID][]byte)
	var covered uint64

	for _, c := range agg.Contributions {
		p := pair{c.Party, c.Index}
		if seen[p] {
			return fmt.Errorf("%w: party %s, index %d", ErrDuplicateContribution, c.Party, c.Index)
		}
		seen[p] = true

		party, ok := dist.Lookup(c.Party)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParty, c.Party)
		}

		partyKeys[c.Party] = party.PublicKey[:]
		covered += party.Stake
	}

	if covered != agg.CoveredStake {
		return fmt.Errorf("%w: recorded %d, recomputed %d", ErrCoverageMismatch, agg.CoveredStake, covered)
	}

	if required := threshold.Required(dist.Total()); covered < required {
		return fmt.Errorf("%w: covered %d, required %d", ErrBelowThreshold, covered, required)
	}

	var g errgroup.Group

	for _, c := range agg.Contributions {
		c := c
		party, _ := dist.Lookup(c.Party)

		g.Go(func() error {
			return lottery.VerifyWin(party, dist, message, c.Index, c.Proof, securityParameter)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Canonical key order matches the combine step: sorted by party ID.
	ids := make([]stake.PartyID, 0, len(partyKeys))
	for id := range partyKeys {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	keys := make([][]byte, len(ids))
	for i, id := range ids {
		keys[i] = partyKeys[id]
	}

	if !bls.VerifyAggregated(agg.Signature, SigningTranscript(agg.Epoch, message), keys) {
		return fmt.Errorf("%w: %d parties", ErrAggregateMismatch, len(keys))
	}

	return nil
}
