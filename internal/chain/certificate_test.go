package chain

import (
	"bytes"
	"testing"

	"StakeCert/internal/bls"
	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"
)

// syntheticAggregate builds an aggregate with placeholder crypto bytes.
// Encoding and hashing never inspect signature validity, so structural
// tests stay cheap.
func syntheticAggregate(epoch stake.Epoch, message [32]byte, parties int) *multisig.AggregateSignature {
	agg := &multisig.AggregateSignature{
		Epoch:        epoch,
		Message:      message,
		Signature:    bytes.Repeat([]byte{0x5a}, bls.SignatureSize),
		CoveredStake: 77,
	}

	for i := 0; i < parties; i++ {
		c := multisig.Contribution{
			Index: uint64(i * 3),
			Proof: bytes.Repeat([]byte{byte(i + 1)}, bls.SignatureSize),
		}
		c.Party[0] = byte(i + 1)
		agg.Contributions = append(agg.Contributions, c)
	}

	return agg
}

// TestGenesisCertificate tests genesis construction and identification.
func TestGenesisCertificate(t *testing.T) {
	genesis := Genesis(0, [32]byte{0x01}, [32]byte{0x02})

	if !genesis.IsGenesis() {
		t.Error("genesis certificate not identified as genesis")
	}

	if genesis.PreviousHash != ([32]byte{}) {
		t.Error("genesis previous hash is not the zero sentinel")
	}

	if genesis.Hash == ([32]byte{}) {
		t.Error("genesis hash not computed")
	}

	again := Genesis(0, [32]byte{0x01}, [32]byte{0x02})
	if again.Hash != genesis.Hash {
		t.Error("identical genesis content hashed differently")
	}

	other := Genesis(1, [32]byte{0x01}, [32]byte{0x02})
	if other.Hash == genesis.Hash {
		t.Error("different epochs produced the same hash")
	}
}

// TestNewCertificateLinks tests predecessor linkage of a built
// certificate.
func TestNewCertificateLinks(t *testing.T) {
	genesis := Genesis(0, [32]byte{0x01}, [32]byte{0x02})

	agg := syntheticAggregate(1, [32]byte{0x03}, 2)
	cert := New(agg, [32]byte{0x04}, genesis)

	if cert.IsGenesis() {
		t.Error("chained certificate identified as genesis")
	}

	if cert.PreviousHash != genesis.Hash {
		t.Error("certificate does not link to its predecessor")
	}

	if cert.Epoch != 1 || cert.Message != agg.Message {
		t.Error("certificate does not carry the aggregate's epoch and message")
	}
}

// TestEncodeDecodeGenesis tests the storage roundtrip of a genesis
// certificate.
func TestEncodeDecodeGenesis(t *testing.T) {
	genesis := Genesis(7, [32]byte{0x01}, [32]byte{0x02})

	decoded, err := Decode(genesis.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Hash != genesis.Hash {
		t.Error("decoded genesis hashes differently")
	}

	if !decoded.IsGenesis() {
		t.Error("decoded genesis lost its genesis identity")
	}

	if decoded.Epoch != 7 {
		t.Errorf("decoded epoch = %d, want 7", decoded.Epoch)
	}
}

// TestEncodeDecodeWithAggregate tests the storage roundtrip of a
// certificate carrying contributions.
func TestEncodeDecodeWithAggregate(t *testing.T) {
	genesis := Genesis(0, [32]byte{0x01}, [32]byte{0x02})
	cert := New(syntheticAggregate(3, [32]byte{0x03}, 4), [32]byte{0x04}, genesis)

	decoded, err := Decode(cert.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Hash != cert.Hash {
		t.Error("decoded certificate hashes differently")
	}

	if decoded.Aggregate == nil {
		t.Fatal("decoded certificate lost its aggregate")
	}

	if decoded.Aggregate.CoveredStake != cert.Aggregate.CoveredStake {
		t.Error("decoded coverage differs")
	}

	if len(decoded.Aggregate.Contributions) != 4 {
		t.Fatalf("decoded %d contributions, want 4", len(decoded.Aggregate.Contributions))
	}

	for i, c := range decoded.Aggregate.Contributions {
		orig := cert.Aggregate.Contributions[i]
		if c.Party != orig.Party || c.Index != orig.Index || !bytes.Equal(c.Proof, orig.Proof) {
			t.Errorf("contribution %d differs after roundtrip", i)
		}
	}
}

// TestDecodeRejectsMalformed tests structural decode failures.
func TestDecodeRejectsMalformed(t *testing.T) {
	genesis := Genesis(0, [32]byte{0x01}, [32]byte{0x02})
	encoded := genesis.Encode()

	if _, err := Decode(encoded[:len(encoded)-1]); err == nil {
		t.Error("truncated certificate decoded")
	}

	trailing := append(append([]byte(nil), encoded...), 0x00)
	if _, err := Decode(trailing); err == nil {
		t.Error("genesis with trailing bytes decoded")
	}

	badFlag := append([]byte(nil), encoded...)
	badFlag[len(badFlag)-1] = 0x02
	if _, err := Decode(badFlag); err == nil {
		t.Error("invalid aggregate flag decoded")
	}

	cert := New(syntheticAggregate(1, [32]byte{0x03}, 2), [32]byte{0x04}, genesis)
	full := cert.Encode()

	if _, err := Decode(full[:len(full)-10]); err == nil {
		t.Error("truncated contribution block decoded")
	}
}

// TestHashCoversContent tests that every content field feeds the hash.
func TestHashCoversContent(t *testing.T) {
	base := New(syntheticAggregate(1, [32]byte{0x03}, 2), [32]byte{0x04}, Genesis(0, [32]byte{0x01}, [32]byte{0x02}))

	altered := *base
	altered.Aggregate = syntheticAggregate(1, [32]byte{0x03}, 2)
	altered.Aggregate.CoveredStake++

	if altered.computeHash() == base.Hash {
		t.Error("coverage change did not change the hash")
	}

	moved := *base
	moved.Commitment[0] ^= 0xff

	if moved.computeHash() == base.Hash {
		t.Error("commitment change did not change the hash")
	}
}
