// Package chain defines the hash-linked certificate sequence: certificate
// construction and deterministic hashing, structural and cryptographic
// chain verification, and a content-addressed persistent store.
package chain

import (
	"encoding/binary"
	"fmt"

	"StakeCert/internal/bls"
	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"

	"github.com/zeebo/blake3"
)

// hashTag domain-separates certificate hashes.
var hashTag = []byte("StakeCert/certificate/v1")

// genesisPrevious is the previous-hash sentinel of the genesis certificate.
var genesisPrevious [32]byte

// Certificate attests one message at one epoch and links back to its
// predecessor by hash. Immutable after creation.
type Certificate struct {
	Epoch        stake.Epoch                  // Epoch of the stake distribution used
	Message      [32]byte                     // Message is the attested digest
	Commitment   [32]byte                     // Commitment is the stake distribution merkle root
	PreviousHash [32]byte                     // PreviousHash links to the predecessor (zero for genesis)
	Aggregate    *multisig.AggregateSignature // Aggregate is the quorum proof (nil for genesis)
	Hash         [32]byte                     // Hash is BLAKE3 over the certificate content
}

// Genesis builds the distinguished trust-anchor certificate. It carries
// no aggregate signature; its hash is what configuration distributes as
// the anchor.
func Genesis(epoch stake.Epoch, message [32]byte, commitment [32]byte) *Certificate {
	c := &Certificate{
		Epoch:        epoch,
		Message:      message,
		Commitment:   commitment,
		PreviousHash: genesisPrevious,
	}
	c.Hash = c.computeHash()

	return c
}

// New wraps an aggregate signature into a certificate chained to prev.
func New(agg *multisig.AggregateSignature, commitment [32]byte, prev *Certificate) *Certificate {
	c := &Certificate{
		Epoch:        agg.Epoch,
		Message:      agg.Message,
		Commitment:   commitment,
		PreviousHash: prev.Hash,
		Aggregate:    agg,
	}
	c.Hash = c.computeHash()

	return c
}

// IsGenesis reports whether this is a trust-anchor certificate.
func (c *Certificate) IsGenesis() bool {
	return c.Aggregate == nil && c.PreviousHash == genesisPrevious
}

// computeHash hashes the certificate content. The hash field itself is
// not part of the input.
func (c *Certificate) computeHash() [32]byte {
	h := blake3.New()
	h.Write(hashTag)
	h.Write(c.content())

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// content returns the deterministic binary encoding of everything the
// hash covers.
// Format: [8B epoch] [32B message] [32B commitment] [32B previousHash]
// [1B aggregate flag] and, if present:
// [96B combined sig] [8B coveredStake] [4B count] then per contribution
// [32B party] [8B index] [96B proof]. Integers little-endian.
func (c *Certificate) content() []byte {
	size := 8 + 32 + 32 + 32 + 1
	if c.Aggregate != nil {
		size += bls.SignatureSize + 8 + 4 + len(c.Aggregate.Contributions)*(32+8+bls.SignatureSize)
	}

	buf := make([]byte, 0, size)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(c.Epoch))
	buf = append(buf, u64[:]...)
	buf = append(buf, c.Message[:]...)
	buf = append(buf, c.Commitment[:]...)
	buf = append(buf, c.PreviousHash[:]...)

	if c.Aggregate == nil {
		buf = append(buf, 0)
		return buf
	}

	buf = append(buf, 1)
	buf = append(buf, c.Aggregate.Signature...)

	binary.LittleEndian.PutUint64(u64[:], c.Aggregate.CoveredStake)
	buf = append(buf, u64[:]...)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Aggregate.Contributions)))
	buf = append(buf, u32[:]...)

	for _, contrib := range c.Aggregate.Contributions {
		buf = append(buf, contrib.Party[:]...)
		binary.LittleEndian.PutUint64(u64[:], contrib.Index)
		buf = append(buf, u64[:]...)
		buf = append(buf, contrib.Proof...)
	}

	return buf
}

// Encode serializes the certificate for storage.
func (c *Certificate) Encode() []byte {
	return c.content()
}

// Decode reconstructs a certificate from its storage encoding and
// recomputes its hash.
func Decode(data []byte) (*Certificate, error) {
	const fixed = 8 + 32 + 32 + 32 + 1

	if len(data) < fixed {
		return nil, fmt.Errorf("certificate too short: %d < %d", len(data), fixed)
	}

	c := &Certificate{
		Epoch: stake.Epoch(binary.LittleEndian.Uint64(data[0:8])),
	}
	copy(c.Message[:], data[8:40])
	copy(c.Commitment[:], data[40:72])
	copy(c.PreviousHash[:], data[72:104])

	switch data[104] {
	case 0:
		if len(data) != fixed {
			return nil, fmt.Errorf("trailing bytes after genesis certificate")
		}

	case 1:
		agg, err := decodeAggregate(c.Epoch, c.Message, data[fixed:])
		if err != nil {
			return nil, err
		}
		c.Aggregate = agg

	default:
		return nil, fmt.Errorf("invalid aggregate flag: 0x%02x", data[104])
	}

	c.Hash = c.computeHash()

	return c, nil
}

// decodeAggregate parses the aggregate block of a certificate encoding.
func decodeAggregate(epoch stake.Epoch, message [32]byte, data []byte) (*multisig.AggregateSignature, error) {
	const header = bls.SignatureSize + 8 + 4

	if len(data) < header {
		return nil, fmt.Errorf("aggregate block too short: %d < %d", len(data), header)
	}

	agg := &multisig.AggregateSignature{
		Epoch:     epoch,
		Message:   message,
		Signature: make([]byte, bls.SignatureSize),
	}
	copy(agg.Signature, data[:bls.SignatureSize])

	agg.CoveredStake = binary.LittleEndian.Uint64(data[bls.SignatureSize : bls.SignatureSize+8])
	count := binary.LittleEndian.Uint32(data[bls.SignatureSize+8 : header])

	const contribSize = 32 + 8 + bls.SignatureSize

	rest := data[header:]
	if len(rest) != int(count)*contribSize {
		return nil, fmt.Errorf("contribution block size %d, want %d", len(rest), int(count)*contribSize)
	}

	agg.Contributions = make([]multisig.Contribution, count)

	for i := range agg.Contributions {
		off := i * contribSize
		contrib := &agg.Contributions[i]

		copy(contrib.Party[:], rest[off:off+32])
		contrib.Index = binary.LittleEndian.Uint64(rest[off+32 : off+40])
		contrib.Proof = make([]byte, bls.SignatureSize)
		copy(contrib.Proof, rest[off+40:off+contribSize])
	}

	return agg, nil
}
