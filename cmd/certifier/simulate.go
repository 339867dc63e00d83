package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"

	"StakeCert/internal/bls"
	"StakeCert/internal/certifier"
	"StakeCert/internal/chain"
	"StakeCert/internal/logger"
	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"
	"StakeCert/internal/storage"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// signer is one simulated party: its key pair and assigned stake.
type signer struct {
	keyPair *bls.KeyPair
	stakeW  uint64
}

// simulate runs cfg.Epochs certification rounds end to end against a
// persistent chain, then re-verifies the stored chain from bytes.
func simulate(cfg *Config, threshold multisig.Threshold) error {
	db, err := storage.Open(filepath.Join(cfg.DataPath, "chain"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	store, err := chain.OpenStore(db)
	if err != nil {
		return fmt.Errorf("open certificate store:\n%w", err)
	}
	defer store.Close()

	signers, err := makeSigners(cfg.Signers, cfg.StakeSeed)
	if err != nil {
		return fmt.Errorf("create signers:\n%w", err)
	}

	registry := stake.NewRegistry()

	genesisDist, err := freezeDistribution(signers, 0)
	if err != nil {
		return err
	}

	genesis := chain.Genesis(0, messageDigest(0), genesisDist.Commitment())

	certSvc, err := certifier.New(certifier.Config{
		Threshold:         threshold,
		SecurityParameter: cfg.SecurityParameter,
		Anchor:            genesis.Hash,
	}, registry, store)
	if err != nil {
		return err
	}

	if err := certSvc.Bootstrap(genesis); err != nil {
		return fmt.Errorf("bootstrap:\n%w", err)
	}

	certified := 0

	for e := 1; e <= cfg.Epochs; e++ {
		epoch := stake.Epoch(e)

		dist, err := freezeDistribution(signers, epoch)
		if err != nil {
			return err
		}

		if err := certSvc.InformEpoch(dist); err != nil {
			return err
		}

		message := messageDigest(epoch)

		session, err := certSvc.OpenMessage(epoch, message)
		if err != nil {
			return err
		}

		if err := submitRound(certSvc, signers, dist, message, cfg.SecurityParameter); err != nil {
			return err
		}

		if !session.QuorumReached() {
			if err := certSvc.ExpireMessage(epoch, message); err != nil {
				logger.Warn("round abandoned", "epoch", epoch, "reason", err)
			}
			continue
		}

		if _, err := certSvc.CreateCertificate(epoch, message); err != nil {
			return fmt.Errorf("create certificate for epoch %d:\n%w", epoch, err)
		}

		certified++
	}

	if err := certSvc.VerifyChain(); err != nil {
		return fmt.Errorf("chain verification failed:\n%w", err)
	}

	certs, err := certSvc.LatestCertificates(0)
	if err != nil {
		return err
	}

	logger.Info("simulation complete",
		"rounds", cfg.Epochs,
		"certified", certified,
		"chain_length", len(certs),
	)

	return nil
}

// submitRound has every signer evaluate the lottery and submit its
// signatures concurrently, so arrival order at the certifier is
// arbitrary, as it would be from real network peers.
func submitRound(certSvc *certifier.Certifier, signers []*signer, dist *stake.Distribution, message [32]byte, securityParameter uint64) error {
	var g errgroup.Group

	for _, s := range signers {
		s := s
		g.Go(func() error {
			sigs, err := multisig.Issue(s.keyPair, dist, message, securityParameter)
			if errors.Is(err, multisig.ErrNoWins) {
				return nil
			}
			if err != nil {
				return err
			}

			for _, sig := range sigs {
				// Rejections and duplicates are per-signature outcomes,
				// not round failures.
				_, _ = certSvc.RegisterSignature(sig)
			}

			return nil
		})
	}

	return g.Wait()
}

// makeSigners generates count signers with fresh BLS keys and
// seed-reproducible stakes in [1, 1000].
func makeSigners(count int, seed int64) ([]*signer, error) {
	rng := rand.New(rand.NewSource(seed))
	signers := make([]*signer, count)

	for i := range signers {
		keyPair, err := bls.GenerateKey()
		if err != nil {
			return nil, err
		}

		signers[i] = &signer{
			keyPair: keyPair,
			stakeW:  uint64(rng.Intn(1000) + 1),
		}
	}

	return signers, nil
}

// freezeDistribution registers every signer's key and stake for the epoch.
func freezeDistribution(signers []*signer, epoch stake.Epoch) (*stake.Distribution, error) {
	builder := stake.NewDistributionBuilder()

	for _, s := range signers {
		if err := builder.Register(s.keyPair.PublicKeyBytes(), s.stakeW); err != nil {
			return nil, err
		}
	}

	return builder.Freeze(epoch)
}

// messageDigest stands in for the snapshot digest certified each round.
func messageDigest(epoch stake.Epoch) [32]byte {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], uint64(epoch))

	h := blake3.New()
	h.Write([]byte("StakeCert/simulated-snapshot"))
	h.Write(epochLE[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}
