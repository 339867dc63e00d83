package stake

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// PublicKeySize is the size of a compressed BLS12-381 G1 public key.
const PublicKeySize = 48

// PartyID is the 32-byte identifier of a registered party,
// derived as BLAKE3 of the party's compressed verification key.
type PartyID [32]byte

// String returns the hex form of the identifier.
func (id PartyID) String() string {
	return hex.EncodeToString(id[:])
}

// PartyIDFromKey derives a party identifier from a compressed public key.
func PartyIDFromKey(publicKey []byte) PartyID {
	return PartyID(blake3.Sum256(publicKey))
}

// Party is a registered signer: identifier, verification key, and stake
// weight. Immutable once part of a frozen Distribution.
type Party struct {
	ID        PartyID             // ID is BLAKE3(PublicKey)
	PublicKey [PublicKeySize]byte // PublicKey is the compressed BLS verification key
	Stake     uint64              // Stake is the party's voting weight
}
