package certifier

import (
	"errors"
	"path/filepath"
	"testing"

	"StakeCert/internal/bls"
	"StakeCert/internal/chain"
	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"
	"StakeCert/internal/storage"
)

// testSecurityParameter keeps rounds fast while quorum stays certain
// when every signer participates.
const testSecurityParameter = 64

// testSigner is one fixture party.
type testSigner struct {
	keyPair *bls.KeyPair
	stakeW  uint64
}

// newTestSigners builds the fixture signer set with stakes 30, 30, 40.
func newTestSigners(t *testing.T) []*testSigner {
	t.Helper()

	stakes := []uint64{30, 30, 40}
	signers := make([]*testSigner, len(stakes))

	for i, s := range stakes {
		seed := make([]byte, bls.SeedSize)
		seed[0] = byte(i + 1)

		kp, err := bls.GenerateKeyFromSeed(seed)
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}

		signers[i] = &testSigner{keyPair: kp, stakeW: s}
	}

	return signers
}

// freezeAt registers the signers and freezes their distribution.
func freezeAt(t *testing.T, signers []*testSigner, epoch stake.Epoch) *stake.Distribution {
	t.Helper()

	builder := stake.NewDistributionBuilder()
	for _, s := range signers {
		if err := builder.Register(s.keyPair.PublicKeyBytes(), s.stakeW); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	dist, err := builder.Freeze(epoch)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}

	return dist
}

// newTestCertifier wires storage, store, registry, and a bootstrapped
// certifier around the fixture signers.
func newTestCertifier(t *testing.T, signers []*testSigner) (*Certifier, *chain.Certificate) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := chain.OpenStore(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	genesis := chain.Genesis(0, [32]byte{0xaa}, freezeAt(t, signers, 0).Commitment())

	certSvc, err := New(Config{
		Threshold:         multisig.TwoThirds,
		SecurityParameter: testSecurityParameter,
		Anchor:            genesis.Hash,
	}, stake.NewRegistry(), store)
	if err != nil {
		t.Fatalf("new certifier: %v", err)
	}

	if err := certSvc.Bootstrap(genesis); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	return certSvc, genesis
}

// issueSigs issues one signer's signatures, tolerating a winless draw.
func issueSigs(t *testing.T, s *testSigner, dist *stake.Distribution, message [32]byte) []*multisig.IndividualSignature {
	t.Helper()

	sigs, err := multisig.Issue(s.keyPair, dist, message, testSecurityParameter)
	if errors.Is(err, multisig.ErrNoWins) {
		return nil
	}
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	return sigs
}

// runRound opens the round, submits every signer, and requires quorum.
func runRound(t *testing.T, certSvc *Certifier, signers []*testSigner, epoch stake.Epoch, message [32]byte) *multisig.Session {
	t.Helper()

	dist := freezeAt(t, signers, epoch)
	if err := certSvc.InformEpoch(dist); err != nil {
		t.Fatalf("inform epoch: %v", err)
	}

	session, err := certSvc.OpenMessage(epoch, message)
	if err != nil {
		t.Fatalf("open message: %v", err)
	}

	for _, s := range signers {
		for _, sig := range issueSigs(t, s, dist, message) {
			if _, err := certSvc.RegisterSignature(sig); err != nil {
				t.Fatalf("register signature: %v", err)
			}
		}
	}

	if !session.QuorumReached() {
		t.Fatal("quorum not reached with every signer participating")
	}

	return session
}

// TestCertifyRounds tests three full rounds: certificates chain from
// genesis and the stored chain re-verifies from bytes.
func TestCertifyRounds(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, genesis := newTestCertifier(t, signers)

	prev := genesis.Hash

	for e := stake.Epoch(1); e <= 3; e++ {
		message := [32]byte{byte(e), 0x33}
		runRound(t, certSvc, signers, e, message)

		cert, err := certSvc.CreateCertificate(e, message)
		if err != nil {
			t.Fatalf("create certificate epoch %d: %v", e, err)
		}

		if cert.PreviousHash != prev {
			t.Errorf("epoch %d certificate does not chain to the previous head", e)
		}
		prev = cert.Hash

		loaded, err := certSvc.CertificateByHash(cert.Hash)
		if err != nil {
			t.Fatalf("load certificate: %v", err)
		}
		if loaded.Epoch != e {
			t.Errorf("loaded certificate epoch = %d, want %d", loaded.Epoch, e)
		}
	}

	if err := certSvc.VerifyChain(); err != nil {
		t.Errorf("verify chain: %v", err)
	}

	certs, err := certSvc.LatestCertificates(0)
	if err != nil {
		t.Fatalf("latest certificates: %v", err)
	}

	if len(certs) != 4 {
		t.Errorf("chain length = %d, want 4", len(certs))
	}
}

// TestBootstrapAnchorMismatch tests rejection of a foreign genesis.
func TestBootstrapAnchorMismatch(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	foreign := chain.Genesis(0, [32]byte{0xbb}, [32]byte{0x01})

	if err := certSvc.Bootstrap(foreign); !errors.Is(err, ErrAnchorMismatch) {
		t.Errorf("error = %v, want ErrAnchorMismatch", err)
	}
}

// TestEarlySignatureBuffered tests that signatures arriving before their
// round opens are replayed on open.
func TestEarlySignatureBuffered(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	dist := freezeAt(t, signers, 1)
	if err := certSvc.InformEpoch(dist); err != nil {
		t.Fatalf("inform epoch: %v", err)
	}

	message := [32]byte{0x01, 0x33}

	early := issueSigs(t, signers[2], dist, message)
	if len(early) == 0 {
		t.Fatal("fixture signer won no indices")
	}

	if _, err := certSvc.RegisterSignature(early[0]); err != nil {
		t.Fatalf("register early signature: %v", err)
	}

	session, err := certSvc.OpenMessage(1, message)
	if err != nil {
		t.Fatalf("open message: %v", err)
	}

	if session.CoveredStake() != signers[2].stakeW {
		t.Errorf("coverage after drain = %d, want %d", session.CoveredStake(), signers[2].stakeW)
	}
}

// TestCreateCertificateOnce tests that a certified round is consumed.
func TestCreateCertificateOnce(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	message := [32]byte{0x01, 0x33}
	runRound(t, certSvc, signers, 1, message)

	if _, err := certSvc.CreateCertificate(1, message); err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	if _, err := certSvc.CreateCertificate(1, message); !errors.Is(err, multisig.ErrSessionNotFound) {
		t.Errorf("second create: error = %v, want ErrSessionNotFound", err)
	}
}

// TestCreateCertificateBeforeQuorum tests that a round without quorum
// cannot certify.
func TestCreateCertificateBeforeQuorum(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	dist := freezeAt(t, signers, 1)
	if err := certSvc.InformEpoch(dist); err != nil {
		t.Fatalf("inform epoch: %v", err)
	}

	message := [32]byte{0x01, 0x33}

	if _, err := certSvc.OpenMessage(1, message); err != nil {
		t.Fatalf("open message: %v", err)
	}

	if _, err := certSvc.CreateCertificate(1, message); !errors.Is(err, multisig.ErrQuorumNotReached) {
		t.Errorf("error = %v, want ErrQuorumNotReached", err)
	}
}

// TestExpireMessageBeforeQuorum tests the terminal expiry outcome.
func TestExpireMessageBeforeQuorum(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	dist := freezeAt(t, signers, 1)
	if err := certSvc.InformEpoch(dist); err != nil {
		t.Fatalf("inform epoch: %v", err)
	}

	message := [32]byte{0x01, 0x33}

	if _, err := certSvc.OpenMessage(1, message); err != nil {
		t.Fatalf("open message: %v", err)
	}

	if err := certSvc.ExpireMessage(1, message); !errors.Is(err, multisig.ErrQuorumNotReached) {
		t.Errorf("error = %v, want ErrQuorumNotReached", err)
	}

	if _, err := certSvc.CreateCertificate(1, message); !errors.Is(err, multisig.ErrSessionNotFound) {
		t.Errorf("create after expiry: error = %v, want ErrSessionNotFound", err)
	}
}

// TestOpenMessageUnknownEpoch tests opening a round without a recorded
// distribution.
func TestOpenMessageUnknownEpoch(t *testing.T) {
	signers := newTestSigners(t)
	certSvc, _ := newTestCertifier(t, signers)

	if _, err := certSvc.OpenMessage(9, [32]byte{0x01}); !errors.Is(err, stake.ErrUnknownEpoch) {
		t.Errorf("error = %v, want ErrUnknownEpoch", err)
	}
}
