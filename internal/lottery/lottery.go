// Package lottery implements the stake-weighted eligibility draw.
//
// Each party holds one proof per (epoch, message): its deterministic BLS
// signature over the lottery transcript. The proof doubles as a verifiable
// pseudorandom output — anyone can re-derive the per-index scores from it,
// but only the party's secret key can produce it. An index is won when the
// score falls below the party's stake fraction, so the expected number of
// won indices is proportional to stake.
package lottery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"StakeCert/internal/bls"
	"StakeCert/internal/stake"

	"github.com/zeebo/blake3"
)

// ProofSize is the size of an eligibility proof in bytes.
const ProofSize = bls.SignatureSize

// transcriptTag domain-separates lottery transcripts from other signed data.
var transcriptTag = []byte("StakeCert/lottery/v1")

var (
	// ErrUnknownParty is returned when the signer is not in the distribution.
	ErrUnknownParty = errors.New("party not in stake distribution")

	// ErrIndexOutOfRange is returned for an index >= the security parameter.
	ErrIndexOutOfRange = errors.New("lottery index out of range")

	// ErrInvalidProof is returned when the proof does not verify under the
	// party's key, or was produced for a different message or epoch.
	ErrInvalidProof = errors.New("invalid lottery proof")

	// ErrNotEligible is returned when the proof is genuine but the party
	// did not win the claimed index.
	ErrNotEligible = errors.New("party did not win index")
)

// Win is a won lottery index together with its eligibility proof.
type Win struct {
	Index uint64 // Index is the won position in [0, securityParameter)
	Proof []byte // Proof is the party's BLS signature over the transcript
}

// Transcript derives the bytes a party signs to enter the lottery for a
// given epoch and message.
func Transcript(epoch stake.Epoch, message [32]byte) []byte {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], uint64(epoch))

	h := blake3.New()
	h.Write(transcriptTag)
	h.Write(epochLE[:])
	h.Write(message[:])

	return h.Sum(nil)
}

// Evaluate runs the signer's side of the lottery: it derives the proof for
// (epoch, message) and returns every index in [0, securityParameter) the
// party won. The returned slice may be empty. The party's stake is taken
// from the distribution, never from the caller.
func Evaluate(keyPair *bls.KeyPair, dist *stake.Distribution, message [32]byte, securityParameter uint64) ([]Win, error) {
	id := stake.PartyIDFromKey(keyPair.PublicKeyBytes())

	party, ok := dist.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParty, id)
	}

	proof := keyPair.Sign(Transcript(dist.Epoch(), message))

	var wins []Win

	for index := uint64(0); index < securityParameter; index++ {
		if wonIndex(proof, index, party.Stake, dist.Total()) {
			wins = append(wins, Win{Index: index, Proof: proof})
		}
	}

	return wins, nil
}

// VerifyWin checks that the proof entitles the party to the given index.
// It needs no secret state: the proof is verified against the party's
// public key and the score re-derived from public inputs. The stake used
// for the score is the distribution's recorded stake, so a forged stake
// claim fails here.
func VerifyWin(party stake.Party, dist *stake.Distribution, message [32]byte, index uint64, proof []byte, securityParameter uint64) error {
	if index >= securityParameter {
		return fmt.Errorf("%w: index %d, parameter %d", ErrIndexOutOfRange, index, securityParameter)
	}

	if !bls.Verify(proof, Transcript(dist.Epoch(), message), party.PublicKey[:]) {
		return fmt.Errorf("%w: party %s", ErrInvalidProof, party.ID)
	}

	if !wonIndex(proof, index, party.Stake, dist.Total()) {
		return fmt.Errorf("%w: party %s, index %d", ErrNotEligible, party.ID, index)
	}

	return nil
}

// wonIndex decides one lottery draw. The score is the first 8 bytes of
// BLAKE3(proof || index) read big-endian; the index is won iff
// floor(score * total / 2^64) < stake, which makes the win probability
// stake/total to within 2^-64 without any floating point.
func wonIndex(proof []byte, index, stakeWeight, total uint64) bool {
	var indexLE [8]byte
	binary.LittleEndian.PutUint64(indexLE[:], index)

	h := blake3.New()
	h.Write(proof)
	h.Write(indexLE[:])

	var score [32]byte
	h.Sum(score[:0])

	num := binary.BigEndian.Uint64(score[:8])
	hi, _ := bits.Mul64(num, total)

	return hi < stakeWeight
}
