// Package token defines the external token collaborator contract the ledger
// pulls and releases custody through, plus a registry resolving token
// contract addresses to their backends.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken is returned when no backend is registered for an address.
var ErrUnknownToken = errors.New("unknown token")

// Backend is the per-token external collaborator.
// A failed TransferFrom must not have moved any value.
type Backend interface {
	// TransferFrom pulls amount from owner's external holdings into the
	// custodian's. Requires prior authorization from owner to custodian.
	TransferFrom(owner, custodian common.Address, amount *big.Int) error

	// Transfer releases amount from the custodian's holdings to the recipient.
	Transfer(to common.Address, amount *big.Int) error

	// BalanceOf reports the external holding of owner. Read-only.
	BalanceOf(owner common.Address) *big.Int
}

// Registry maps token contract addresses to their backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[common.Address]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[common.Address]Backend)}
}

// Register binds a backend to a token address.
// Returns an error if the address is already bound.
func (r *Registry) Register(addr common.Address, b Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil backend for %s", addr.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[addr]; exists {
		return fmt.Errorf("token %s already registered", addr.Hex())
	}
	r.backends[addr] = b
	return nil
}

// Resolve looks up the backend for a token address.
func (r *Registry) Resolve(addr common.Address) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.backends[addr]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return b, nil
}
