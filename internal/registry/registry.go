// Package registry declares the external collaborators the settlement
// engine consults and notifies. All of them live outside this service;
// only the interfaces and test fakes are defined here.
package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/fees"
	"creatorpay/internal/intentid"
)

// CreatorRegistry answers registration and content questions.
type CreatorRegistry interface {
	CreatorStatus(ctx context.Context, creator common.Address) (fees.CreatorStatus, error)
	ContentStatus(ctx context.Context, contentID uint64) (fees.ContentStatus, error)
}

// AccessGranter receives the downstream effect of a successful
// settlement: unlock content or activate a subscription.
type AccessGranter interface {
	GrantContentAccess(ctx context.Context, buyer common.Address, contentID uint64, intentID intentid.ID, amountPaid *big.Int, token common.Address) error
	RecordSubscription(ctx context.Context, buyer, creator common.Address, intentID intentid.ID, amountPaid *big.Int, token common.Address) error
}

// SettlementContext is the loyalty module's view of a settled payment.
type SettlementContext struct {
	Buyer   common.Address
	Creator common.Address
	Kind    string
	Amount  *big.Int // reference micro-units
}

// LoyaltyNotifier is fire-and-forget: the engine swallows failures.
type LoyaltyNotifier interface {
	NotifySettlement(ctx context.Context, intentID intentid.ID, sc SettlementContext) error
}
