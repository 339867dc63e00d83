// Package multisig implements individual signature issuance and
// verification, per-(epoch, message) collection sessions with quorum
// detection, and aggregate signature construction and verification.
package multisig

import (
	"encoding/binary"
	"errors"
	"fmt"

	"StakeCert/internal/bls"
	"StakeCert/internal/lottery"
	"StakeCert/internal/stake"

	"github.com/zeebo/blake3"
)

// signingTag domain-separates message signatures from lottery proofs.
var signingTag = []byte("StakeCert/message/v1")

var (
	// ErrUnknownParty is returned when the signer is not in the
	// referenced stake distribution.
	ErrUnknownParty = errors.New("unknown party")

	// ErrEpochMismatch is returned when a signature references a
	// different epoch than the distribution it is checked against.
	ErrEpochMismatch = errors.New("signature epoch does not match distribution")

	// ErrSignatureInvalid is returned when the BLS signature over the
	// message does not verify under the party's public key.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrNoWins is returned when a signer lost every lottery index and
	// has nothing to sign.
	ErrNoWins = errors.New("no lottery indices won")
)

// IndividualSignature is one party's attestation of a message for a single
// won lottery index. Ephemeral: consumed by a Session, never persisted on
// its own.
type IndividualSignature struct {
	Party     stake.PartyID // Party identifies the signer
	Epoch     stake.Epoch   // Epoch of the stake distribution used
	Message   [32]byte      // Message is the attested digest
	Index     uint64        // Index is the won lottery index
	Proof     []byte        // Proof is the eligibility proof for Index
	Signature []byte        // Signature is the BLS signature over the message
}

// SigningTranscript derives the bytes a party signs to attest a message.
// Distinct from the lottery transcript so a proof can never stand in for
// an attestation or vice versa.
func SigningTranscript(epoch stake.Epoch, message [32]byte) []byte {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], uint64(epoch))

	h := blake3.New()
	h.Write(signingTag)
	h.Write(epochLE[:])
	h.Write(message[:])

	return h.Sum(nil)
}

// Issue runs the lottery for the signer and returns one IndividualSignature
// per won index. Returns ErrNoWins (wrapped) when the signer won nothing,
// which is a normal outcome for low-stake parties.
func Issue(keyPair *bls.KeyPair, dist *stake.Distribution, message [32]byte, securityParameter uint64) ([]*IndividualSignature, error) {
	wins, err := lottery.Evaluate(keyPair, dist, message, securityParameter)
	if err != nil {
		return nil, fmt.Errorf("evaluate lottery: %w", err)
	}

	if len(wins) == 0 {
		return nil, ErrNoWins
	}

	id := stake.PartyIDFromKey(keyPair.PublicKeyBytes())
	signature := keyPair.Sign(SigningTranscript(dist.Epoch(), message))

	sigs := make([]*IndividualSignature, len(wins))
	for i, win := range wins {
		sigs[i] = &IndividualSignature{
			Party:     id,
			Epoch:     dist.Epoch(),
			Message:   message,
			Index:     win.Index,
			Proof:     win.Proof,
			Signature: signature,
		}
	}

	return sigs, nil
}

// VerifySignature validates an individual signature against a stake
// distribution. All failures are typed and non-fatal to the caller: a
// rejected signature is discarded, not accepted.
//
// Checks, in order: the party is registered, the epoch matches, the
// lottery proof entitles the party to the claimed index (this also pins
// the stake to the distribution's recorded value, since the recorded
// stake feeds the eligibility score), and the BLS signature verifies over
// the message transcript.
func VerifySignature(sig *IndividualSignature, dist *stake.Distribution, securityParameter uint64) error {
	party, ok := dist.Lookup(sig.Party)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParty, sig.Party)
	}

	if sig.Epoch != dist.Epoch() {
		return fmt.Errorf("%w: signature epoch %d, distribution epoch %d",
			ErrEpochMismatch, sig.Epoch, dist.Epoch())
	}

	if err := lottery.VerifyWin(party, dist, sig.Message, sig.Index, sig.Proof, securityParameter); err != nil {
		return err
	}

	if !bls.Verify(sig.Signature, SigningTranscript(sig.Epoch, sig.Message), party.PublicKey[:]) {
		return fmt.Errorf("%w: party %s, index %d", ErrSignatureInvalid, sig.Party, sig.Index)
	}

	return nil
}
