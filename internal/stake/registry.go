package stake

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownEpoch is returned when no distribution is recorded for an epoch.
	ErrUnknownEpoch = errors.New("no stake distribution for epoch")

	// ErrEpochConflict is returned when a different distribution is
	// re-registered for an already-recorded epoch.
	ErrEpochConflict = errors.New("conflicting stake distribution for epoch")
)

// Registry maps epochs to their frozen stake distributions.
// Distributions are recorded once per epoch by the ledger-observation
// collaborator and read by chain and aggregate verification.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byNum map[Epoch]*Distribution
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byNum: make(map[Epoch]*Distribution)}
}

// Record stores the distribution for its epoch.
// Recording the identical distribution again is a no-op; recording a
// different one for the same epoch is an error.
func (r *Registry) Record(d *Distribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byNum[d.Epoch()]
	if !ok {
		r.byNum[d.Epoch()] = d
		return nil
	}

	if existing.Commitment() != d.Commitment() {
		return fmt.Errorf("%w: epoch %d", ErrEpochConflict, d.Epoch())
	}

	return nil
}

// ForEpoch returns the distribution recorded for the given epoch.
func (r *Registry) ForEpoch(epoch Epoch) (*Distribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byNum[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: epoch %d", ErrUnknownEpoch, epoch)
	}

	return d, nil
}

// Epochs returns the recorded epochs in unspecified order.
func (r *Registry) Epochs() []Epoch {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Epoch, 0, len(r.byNum))
	for e := range r.byNum {
		out = append(out, e)
	}

	return out
}
