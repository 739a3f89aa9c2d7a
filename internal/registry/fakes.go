package registry

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/fees"
	"creatorpay/internal/intentid"
)

// FakeRegistry is an in-memory CreatorRegistry for tests and local runs.
type FakeRegistry struct {
	mu       sync.RWMutex
	creators map[common.Address]fees.CreatorStatus
	content  map[uint64]fees.ContentStatus
}

func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		creators: make(map[common.Address]fees.CreatorStatus),
		content:  make(map[uint64]fees.ContentStatus),
	}
}

func (f *FakeRegistry) SetCreator(creator common.Address, status fees.CreatorStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[creator] = status
}

func (f *FakeRegistry) SetContent(contentID uint64, status fees.ContentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[contentID] = status
}

func (f *FakeRegistry) CreatorStatus(_ context.Context, creator common.Address) (fees.CreatorStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.creators[creator], nil
}

func (f *FakeRegistry) ContentStatus(_ context.Context, contentID uint64) (fees.ContentStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.content[contentID], nil
}

// Grant records one AccessGranter call for later assertions.
type Grant struct {
	Buyer      common.Address
	Creator    common.Address
	ContentID  uint64
	IntentID   intentid.ID
	AmountPaid *big.Int
	Token      common.Address
}

// FakeAccessGranter records grants instead of calling out.
type FakeAccessGranter struct {
	mu            sync.Mutex
	Grants        []Grant
	Subscriptions []Grant
	Err           error
}

func (f *FakeAccessGranter) GrantContentAccess(_ context.Context, buyer common.Address, contentID uint64, intentID intentid.ID, amountPaid *big.Int, token common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Grants = append(f.Grants, Grant{
		Buyer:      buyer,
		ContentID:  contentID,
		IntentID:   intentID,
		AmountPaid: new(big.Int).Set(amountPaid),
		Token:      token,
	})
	return nil
}

func (f *FakeAccessGranter) RecordSubscription(_ context.Context, buyer, creator common.Address, intentID intentid.ID, amountPaid *big.Int, token common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Subscriptions = append(f.Subscriptions, Grant{
		Buyer:      buyer,
		Creator:    creator,
		IntentID:   intentID,
		AmountPaid: new(big.Int).Set(amountPaid),
		Token:      token,
	})
	return nil
}

// FakeLoyaltyNotifier counts notifications and can be made to fail, to
// prove the engine swallows loyalty errors.
type FakeLoyaltyNotifier struct {
	mu       sync.Mutex
	Notified []intentid.ID
	Fail     bool
}

func (f *FakeLoyaltyNotifier) NotifySettlement(_ context.Context, intentID intentid.ID, _ SettlementContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return fmt.Errorf("loyalty backend unavailable")
	}
	f.Notified = append(f.Notified, intentID)
	return nil
}
