package stake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/spacemeshos/merkle-tree"
	"github.com/zeebo/blake3"
)

var (
	// ErrDuplicateParty is returned when a verification key is registered twice.
	ErrDuplicateParty = errors.New("party already registered")

	// ErrEmptyDistribution is returned when freezing a builder with no parties.
	ErrEmptyDistribution = errors.New("no parties registered")

	// ErrZeroTotalStake is returned when the registered stakes sum to zero.
	ErrZeroTotalStake = errors.New("total stake is zero")

	// ErrInvalidPublicKey is returned for a key of the wrong size.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Epoch numbers the stake snapshots. Each frozen Distribution belongs to
// exactly one epoch.
type Epoch uint64

// DistributionBuilder accumulates party registrations for one epoch.
// Not safe for concurrent use; registration happens before the epoch opens.
type DistributionBuilder struct {
	parties map[PartyID]Party
}

// NewDistributionBuilder creates an empty builder.
func NewDistributionBuilder() *DistributionBuilder {
	return &DistributionBuilder{parties: make(map[PartyID]Party)}
}

// Register adds a party with the given compressed verification key and stake.
// Zero-stake parties are accepted; they hold no winning probability.
func (b *DistributionBuilder) Register(publicKey []byte, stakeWeight uint64) error {
	if len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(publicKey), PublicKeySize)
	}

	id := PartyIDFromKey(publicKey)

	if _, exists := b.parties[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateParty, id)
	}

	p := Party{ID: id, Stake: stakeWeight}
	copy(p.PublicKey[:], publicKey)
	b.parties[id] = p

	return nil
}

// Freeze produces the immutable Distribution for the given epoch.
// The party list is ordered by ID so that independent builders fed the same
// registrations in any order produce identical commitments.
func (b *DistributionBuilder) Freeze(epoch Epoch) (*Distribution, error) {
	if len(b.parties) == 0 {
		return nil, ErrEmptyDistribution
	}

	parties := make([]Party, 0, len(b.parties))
	for _, p := range b.parties {
		parties = append(parties, p)
	}

	sort.Slice(parties, func(i, j int) bool {
		return bytes.Compare(parties[i].ID[:], parties[j].ID[:]) < 0
	})

	var total uint64
	for _, p := range parties {
		total += p.Stake
	}

	if total == 0 {
		return nil, ErrZeroTotalStake
	}

	commitment, err := computeCommitment(parties)
	if err != nil {
		return nil, fmt.Errorf("compute commitment: %w", err)
	}

	index := make(map[PartyID]int, len(parties))
	for i, p := range parties {
		index[p.ID] = i
	}

	return &Distribution{
		epoch:      epoch,
		parties:    parties,
		index:      index,
		total:      total,
		commitment: commitment,
	}, nil
}

// Distribution is the immutable stake snapshot for one epoch.
// Safe for concurrent readers.
type Distribution struct {
	epoch      Epoch
	parties    []Party // sorted by ID
	index      map[PartyID]int
	total      uint64
	commitment [32]byte
}

// Epoch returns the epoch this distribution belongs to.
func (d *Distribution) Epoch() Epoch {
	return d.epoch
}

// Total returns the sum of all registered stakes.
func (d *Distribution) Total() uint64 {
	return d.total
}

// Len returns the number of registered parties.
func (d *Distribution) Len() int {
	return len(d.parties)
}

// Commitment returns the merkle root committing to the sorted party list.
func (d *Distribution) Commitment() [32]byte {
	return d.commitment
}

// Lookup returns the party with the given identifier.
func (d *Distribution) Lookup(id PartyID) (Party, bool) {
	i, ok := d.index[id]
	if !ok {
		return Party{}, false
	}

	return d.parties[i], true
}

// Parties returns a copy of the sorted party list.
func (d *Distribution) Parties() []Party {
	out := make([]Party, len(d.parties))
	copy(out, d.parties)

	return out
}

// computeCommitment builds a merkle tree over the sorted party list and
// returns its root. Leaf = BLAKE3(id || publicKey || stake LE).
func computeCommitment(parties []Party) ([32]byte, error) {
	tree, err := merkle.NewTreeBuilder().
		WithHashFunc(nodeHash).
		Build()
	if err != nil {
		return [32]byte{}, err
	}

	for _, p := range parties {
		leaf := partyLeaf(p)
		if err := tree.AddLeaf(leaf[:]); err != nil {
			return [32]byte{}, fmt.Errorf("add leaf for %s: %w", p.ID, err)
		}
	}

	var root [32]byte
	copy(root[:], tree.Root())

	return root, nil
}

// partyLeaf computes the commitment leaf for one party.
func partyLeaf(p Party) [32]byte {
	var stakeLE [8]byte
	binary.LittleEndian.PutUint64(stakeLE[:], p.Stake)

	h := blake3.New()
	h.Write(p.ID[:])
	h.Write(p.PublicKey[:])
	h.Write(stakeLE[:])

	var leaf [32]byte
	h.Sum(leaf[:0])

	return leaf
}

// nodeHash computes a parent node hash for the commitment tree.
func nodeHash(_, lChild, rChild []byte) []byte {
	h := blake3.New()
	h.Write(lChild)
	h.Write(rChild)

	return h.Sum(nil)
}
