package chain

import (
	"errors"
	"fmt"
	"sync"

	"StakeCert/internal/storage"

	"github.com/klauspost/compress/zstd"
)

var (
	// certKeyPrefix is the storage key prefix for certificate records.
	certKeyPrefix = []byte("c:")

	// headKey is the storage key holding the current head hash.
	headKey = []byte("m:head")
)

var (
	// ErrCertNotFound is returned when no certificate exists for a hash.
	ErrCertNotFound = errors.New("certificate not found")

	// ErrNotLinked is returned when appending a certificate whose
	// previous-hash does not match the current head.
	ErrNotLinked = errors.New("certificate does not link to head")

	// ErrStoreEmpty is returned when reading the head of an empty store.
	ErrStoreEmpty = errors.New("certificate store is empty")
)

// Store persists certificates content-addressed by hash, zstd-compressed
// at rest, and tracks the chain head. Appends are single-writer and only
// admitted when the new certificate links to the current head; readers
// always observe complete, immutable certificates.
type Store struct {
	db      *storage.Storage
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu       sync.RWMutex
	head     [32]byte
	haveHead bool
}

// OpenStore opens a certificate store over the given storage and loads
// the persisted head, if any.
func OpenStore(db *storage.Storage) (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder:\n%w", err)
	}

	s := &Store{
		db:      db,
		encoder: encoder,
		decoder: decoder,
	}

	headBytes, err := db.Get(headKey)
	if err != nil {
		return nil, fmt.Errorf("load head:\n%w", err)
	}

	if len(headBytes) == 32 {
		copy(s.head[:], headBytes)
		s.haveHead = true
	}

	return s, nil
}

// Append persists a certificate and advances the head. The first append
// must be a genesis certificate; every later one must link to the
// current head. The certificate record and the head pointer are written
// in one atomic batch.
func (s *Store) Append(cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveHead {
		if !cert.IsGenesis() {
			return fmt.Errorf("%w: store is empty, certificate is not genesis", ErrNotLinked)
		}
	} else if cert.PreviousHash != s.head {
		return fmt.Errorf("%w: previous %x, head %x", ErrNotLinked, cert.PreviousHash[:8], s.head[:8])
	}

	compressed := s.encoder.EncodeAll(cert.Encode(), nil)

	err := s.db.SetBatch([]storage.KeyValue{
		{Key: certKey(cert.Hash), Value: compressed},
		{Key: headKey, Value: cert.Hash[:]},
	})
	if err != nil {
		return fmt.Errorf("persist certificate:\n%w", err)
	}

	s.head = cert.Hash
	s.haveHead = true

	return nil
}

// Get loads the certificate with the given hash. The decoded content is
// checked against the requested hash, so a corrupted record cannot
// impersonate another certificate.
func (s *Store) Get(hash [32]byte) (*Certificate, error) {
	compressed, err := s.db.Get(certKey(hash))
	if err != nil {
		return nil, err
	}

	if compressed == nil {
		return nil, fmt.Errorf("%w: %x", ErrCertNotFound, hash[:8])
	}

	encoded, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress certificate %x:\n%w", hash[:8], err)
	}

	cert, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode certificate %x:\n%w", hash[:8], err)
	}

	if cert.Hash != hash {
		return nil, fmt.Errorf("%w: stored content hashes to %x", ErrHashMismatch, cert.Hash[:8])
	}

	return cert, nil
}

// Head returns the certificate at the chain head.
func (s *Store) Head() (*Certificate, error) {
	s.mu.RLock()
	head, haveHead := s.head, s.haveHead
	s.mu.RUnlock()

	if !haveHead {
		return nil, ErrStoreEmpty
	}

	return s.Get(head)
}

// Chain reconstructs the full chain from stored bytes, genesis first.
// The walk follows previous-hashes from the head and stops at the
// genesis sentinel; a dangling link is an error.
func (s *Store) Chain() ([]*Certificate, error) {
	cert, err := s.Head()
	if err != nil {
		return nil, err
	}

	var reversed []*Certificate
	visited := make(map[[32]byte]bool)

	for {
		if visited[cert.Hash] {
			return nil, fmt.Errorf("%w: cycle at %x", ErrChainLinkage, cert.Hash[:8])
		}
		visited[cert.Hash] = true

		reversed = append(reversed, cert)

		if cert.IsGenesis() {
			break
		}

		cert, err = s.Get(cert.PreviousHash)
		if err != nil {
			return nil, fmt.Errorf("follow chain: %w", err)
		}
	}

	// Reverse into genesis-first order.
	certs := make([]*Certificate, len(reversed))
	for i, c := range reversed {
		certs[len(certs)-1-i] = c
	}

	return certs, nil
}

// Latest returns up to n certificates ending at the head, oldest first.
func (s *Store) Latest(n int) ([]*Certificate, error) {
	certs, err := s.Chain()
	if err != nil {
		return nil, err
	}

	if n > 0 && len(certs) > n {
		certs = certs[len(certs)-n:]
	}

	return certs, nil
}

// Close releases the compression resources. The underlying storage is
// owned by the caller and stays open.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// certKey builds the storage key for a certificate hash.
func certKey(hash [32]byte) []byte {
	key := make([]byte, 0, len(certKeyPrefix)+32)
	key = append(key, certKeyPrefix...)
	key = append(key, hash[:]...)

	return key
}
