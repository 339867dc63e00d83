// Package certifier orchestrates certification rounds: it owns the
// collection sessions, buffers signatures that arrive before their round
// opens, and turns quorum aggregates into chained certificates. All
// cryptography is delegated to the multisig and chain packages.
package certifier

import (
	"errors"
	"fmt"
	"sync"

	"StakeCert/internal/chain"
	"StakeCert/internal/logger"
	"StakeCert/internal/multisig"
	"StakeCert/internal/stake"
)

// maxBufferedPerMessage bounds early-arrival buffering per (epoch, message)
// so unsolicited peers cannot grow memory without limit.
const maxBufferedPerMessage = 4096

var (
	// ErrAnchorMismatch is returned when bootstrapping with a genesis
	// certificate that is not the configured trust anchor.
	ErrAnchorMismatch = errors.New("genesis certificate is not the configured anchor")

	// ErrNotBootstrapped is returned when certifying before a genesis
	// certificate exists.
	ErrNotBootstrapped = errors.New("certificate store has no genesis")
)

// Config carries the protocol parameters of a certifier instance.
type Config struct {
	Threshold         multisig.Threshold // Threshold is the quorum fraction of total stake
	SecurityParameter uint64             // SecurityParameter is the lottery index count per message
	Anchor            [32]byte           // Anchor is the trusted genesis certificate hash
}

// messageKey identifies one certification round.
type messageKey struct {
	epoch   stake.Epoch
	message [32]byte
}

// Certifier runs certification rounds over a session arena, an epoch
// registry, and a certificate store. Safe for concurrent use.
type Certifier struct {
	cfg      Config
	registry *stake.Registry
	store    *chain.Store
	arena    *multisig.Arena

	mu       sync.Mutex
	buffered map[messageKey][]*multisig.IndividualSignature
}

// New creates a certifier over the given registry and store.
func New(cfg Config, registry *stake.Registry, store *chain.Store) (*Certifier, error) {
	arena, err := multisig.NewArena(cfg.Threshold, cfg.SecurityParameter)
	if err != nil {
		return nil, err
	}

	return &Certifier{
		cfg:      cfg,
		registry: registry,
		store:    store,
		arena:    arena,
		buffered: make(map[messageKey][]*multisig.IndividualSignature),
	}, nil
}

// Bootstrap installs the genesis certificate into an empty store. The
// certificate must match the configured anchor. A store that already has
// a head is left untouched.
func (c *Certifier) Bootstrap(genesis *chain.Certificate) error {
	if genesis.Hash != c.cfg.Anchor {
		return fmt.Errorf("%w: genesis %x, anchor %x", ErrAnchorMismatch, genesis.Hash[:8], c.cfg.Anchor[:8])
	}

	if _, err := c.store.Head(); err == nil {
		return nil
	} else if !errors.Is(err, chain.ErrStoreEmpty) {
		return err
	}

	if err := c.store.Append(genesis); err != nil {
		return fmt.Errorf("append genesis: %w", err)
	}

	logger.Info("chain bootstrapped", "genesis", fmt.Sprintf("%x", genesis.Hash[:8]), "epoch", genesis.Epoch)

	return nil
}

// InformEpoch records the stake distribution for its epoch.
func (c *Certifier) InformEpoch(dist *stake.Distribution) error {
	if err := c.registry.Record(dist); err != nil {
		return err
	}

	logger.Info("epoch informed",
		"epoch", dist.Epoch(),
		"parties", dist.Len(),
		"total_stake", dist.Total(),
	)

	return nil
}

// OpenMessage starts the collection session for (epoch, message) and
// drains any signatures buffered for it while it was not yet open.
func (c *Certifier) OpenMessage(epoch stake.Epoch, message [32]byte) (*multisig.Session, error) {
	dist, err := c.registry.ForEpoch(epoch)
	if err != nil {
		return nil, err
	}

	session, err := c.arena.Open(dist, message)
	if err != nil {
		return nil, err
	}

	logger.Info("message opened",
		"epoch", epoch,
		"message", fmt.Sprintf("%x", message[:8]),
		"required_stake", session.Required(),
	)

	c.mu.Lock()
	key := messageKey{epoch: epoch, message: message}
	pending := c.buffered[key]
	delete(c.buffered, key)
	c.mu.Unlock()

	for _, sig := range pending {
		if _, err := session.Ingest(sig); err != nil {
			logger.Debug("buffered signature rejected",
				"party", sig.Party,
				"index", sig.Index,
				"reason", err,
			)
		}
	}

	return session, nil
}

// RegisterSignature routes an individual signature to its session. A
// signature for a round that has not opened yet is buffered and replayed
// on open (bounded per round); everything else is verified and ingested
// immediately. Rejections are returned to the caller and are non-fatal.
func (c *Certifier) RegisterSignature(sig *multisig.IndividualSignature) (multisig.IngestResult, error) {
	session, err := c.arena.Get(sig.Epoch, sig.Message)
	if errors.Is(err, multisig.ErrSessionNotFound) {
		c.bufferSignature(sig)
		return multisig.IngestResult{}, nil
	}
	if err != nil {
		return multisig.IngestResult{}, err
	}

	result, err := session.Ingest(sig)
	if err != nil {
		logger.Debug("signature rejected",
			"epoch", sig.Epoch,
			"party", sig.Party,
			"index", sig.Index,
			"reason", err,
		)
		return result, err
	}

	if result.QuorumNow {
		logger.Info("quorum reached",
			"epoch", sig.Epoch,
			"message", fmt.Sprintf("%x", sig.Message[:8]),
			"covered_stake", result.CoveredStake,
		)
	}

	return result, nil
}

// bufferSignature holds an early signature until its round opens.
func (c *Certifier) bufferSignature(sig *multisig.IndividualSignature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := messageKey{epoch: sig.Epoch, message: sig.Message}

	if len(c.buffered[key]) >= maxBufferedPerMessage {
		logger.Warn("signature buffer full, dropping",
			"epoch", sig.Epoch,
			"party", sig.Party,
		)
		return
	}

	c.buffered[key] = append(c.buffered[key], sig)
}

// CreateCertificate turns a quorum-frozen session into a certificate
// appended to the chain. The session is consumed: a second call for the
// same round fails with ErrSessionNotFound, so exactly one certificate
// exists per certified (epoch, message).
func (c *Certifier) CreateCertificate(epoch stake.Epoch, message [32]byte) (*chain.Certificate, error) {
	session, err := c.arena.Get(epoch, message)
	if err != nil {
		return nil, err
	}

	agg, err := session.Aggregate()
	if err != nil {
		return nil, err
	}

	dist, err := c.registry.ForEpoch(epoch)
	if err != nil {
		return nil, err
	}

	head, err := c.store.Head()
	if errors.Is(err, chain.ErrStoreEmpty) {
		return nil, ErrNotBootstrapped
	}
	if err != nil {
		return nil, err
	}

	cert := chain.New(agg, dist.Commitment(), head)

	if err := c.store.Append(cert); err != nil {
		return nil, fmt.Errorf("append certificate: %w", err)
	}

	_ = c.arena.Expire(epoch, message)

	logger.Info("certificate created",
		"epoch", epoch,
		"hash", fmt.Sprintf("%x", cert.Hash[:8]),
		"contributions", len(agg.Contributions),
		"covered_stake", agg.CoveredStake,
		"late_signatures", session.LateCount(),
	)

	return cert, nil
}

// ExpireMessage abandons a round that missed its external deadline. The
// terminal outcome for the round is quorum-not-reached; retrying is the
// scheduler's decision, never done here.
func (c *Certifier) ExpireMessage(epoch stake.Epoch, message [32]byte) error {
	session, err := c.arena.Get(epoch, message)
	if err != nil {
		return err
	}

	covered := session.CoveredStake()
	reached := session.QuorumReached()

	if err := c.arena.Expire(epoch, message); err != nil {
		return err
	}

	if !reached {
		logger.Warn("message expired before quorum",
			"epoch", epoch,
			"message", fmt.Sprintf("%x", message[:8]),
			"covered_stake", covered,
			"required_stake", session.Required(),
		)
		return fmt.Errorf("%w: covered %d, required %d", multisig.ErrQuorumNotReached, covered, session.Required())
	}

	return nil
}

// CertificateByHash loads a certificate from the store.
func (c *Certifier) CertificateByHash(hash [32]byte) (*chain.Certificate, error) {
	return c.store.Get(hash)
}

// LatestCertificates returns up to n certificates ending at the head,
// oldest first.
func (c *Certifier) LatestCertificates(n int) ([]*chain.Certificate, error) {
	return c.store.Latest(n)
}

// VerifyChain re-verifies the full stored chain against the configured
// anchor and the recorded stake distributions.
func (c *Certifier) VerifyChain() error {
	certs, err := c.store.Chain()
	if err != nil {
		return err
	}

	return chain.Verify(certs, c.cfg.Anchor, c.registry, c.cfg.Threshold, c.cfg.SecurityParameter)
}
