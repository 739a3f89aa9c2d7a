package sigmanager

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/pay"
)

// SignerSet is the allow-list of keys whose signatures authorize intent
// execution. Mutations are gated on the owner; nothing is ever added
// implicitly beyond the initial configured operator key.
type SignerSet struct {
	mu      sync.RWMutex
	owner   common.Address
	signers map[common.Address]struct{}
}

// NewSignerSet seeds the allow-list with the initial operator key.
func NewSignerSet(owner, initial common.Address) *SignerSet {
	s := &SignerSet{
		owner:   owner,
		signers: make(map[common.Address]struct{}),
	}
	if initial != (common.Address{}) {
		s.signers[initial] = struct{}{}
	}
	return s
}

// Add authorizes a signer key. Owner only.
func (s *SignerSet) Add(caller, signer common.Address) error {
	if caller != s.owner {
		return fmt.Errorf("%w: %s cannot manage signers", pay.ErrUnauthorized, caller)
	}
	if signer == (common.Address{}) {
		return fmt.Errorf("%w: zero signer address", pay.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[signer] = struct{}{}
	return nil
}

// Remove revokes a signer key. Owner only.
func (s *SignerSet) Remove(caller, signer common.Address) error {
	if caller != s.owner {
		return fmt.Errorf("%w: %s cannot manage signers", pay.ErrUnauthorized, caller)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signers, signer)
	return nil
}

// Contains reports whether signer is currently authorized.
func (s *SignerSet) Contains(signer common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.signers[signer]
	return ok
}
