// Package fees holds the pure pricing and validation rules for payment
// requests. Nothing here touches stores or the network; every function is
// a plain mapping from inputs to outputs.
package fees

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/pay"
)

// BpsDenominator is the basis-point scale used by every fee computation.
const BpsDenominator = 10000

var bpsDenom = big.NewInt(BpsDenominator)

// ComputeSplit divides total into creator, platform and operator legs.
// Both fees floor-divide; the creator takes the exact remainder, so the
// three legs always sum back to total with no rounding loss.
func ComputeSplit(total *big.Int, platformBps, operatorBps uint32) (pay.Split, error) {
	if total == nil || total.Sign() <= 0 {
		return pay.Split{}, fmt.Errorf("%w: amount must be positive", pay.ErrInvalidRequest)
	}
	// Sum in uint64 so extreme bps values cannot wrap past the check.
	if uint64(platformBps)+uint64(operatorBps) > BpsDenominator {
		return pay.Split{}, fmt.Errorf("%w: fee bps %d+%d exceed %d", pay.ErrInvalidRequest, platformBps, operatorBps, BpsDenominator)
	}

	platform := new(big.Int).Mul(total, big.NewInt(int64(platformBps)))
	platform.Quo(platform, bpsDenom)

	operator := new(big.Int).Mul(total, big.NewInt(int64(operatorBps)))
	operator.Quo(operator, bpsDenom)

	creator := new(big.Int).Sub(total, platform)
	creator.Sub(creator, operator)

	return pay.Split{Creator: creator, Platform: platform, Operator: operator}, nil
}

// Request is the caller-supplied portion of a payment intent, before any
// pricing has been resolved.
type Request struct {
	Buyer     common.Address
	Creator   common.Address
	SubjectID uint64
	Kind      pay.Kind
	PayToken  common.Address
	Amount    *big.Int // reference micro-units; ignored for content purchases
	Deadline  time.Time
}

// CreatorStatus is the registry's view of the counterparty.
type CreatorStatus struct {
	Registered bool
	Active     bool
}

// ContentStatus is the registry's view of a content item.
type ContentStatus struct {
	Exists  bool
	Creator common.Address
	Active  bool
	Price   *big.Int // reference micro-units
}

// ValidateRequest checks a payment request against registry state and the
// clock. Pure: callers fetch creator and content status first and pass
// them in, which keeps every failure path unit-testable without live
// collaborators. Each failure maps to a distinct error kind.
func ValidateRequest(req Request, creator CreatorStatus, content ContentStatus, now time.Time) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown payment kind %d", pay.ErrInvalidRequest, req.Kind)
	}
	if req.Buyer == (common.Address{}) {
		return fmt.Errorf("%w: buyer address is zero", pay.ErrInvalidRequest)
	}
	if req.PayToken == (common.Address{}) {
		return fmt.Errorf("%w: payment token is zero", pay.ErrInvalidRequest)
	}
	if !req.Deadline.After(now) {
		return fmt.Errorf("%w: deadline %s not after %s", pay.ErrDeadlineExpired, req.Deadline.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if !creator.Registered || !creator.Active {
		return fmt.Errorf("%w: creator %s", pay.ErrInvalidCreator, req.Creator)
	}

	if req.Kind == pay.KindContentPurchase {
		if req.SubjectID == 0 || !content.Exists || !content.Active {
			return fmt.Errorf("%w: content %d", pay.ErrInvalidContent, req.SubjectID)
		}
		if content.Creator != req.Creator {
			return fmt.Errorf("%w: content %d belongs to %s", pay.ErrInvalidContent, req.SubjectID, content.Creator)
		}
		if content.Price == nil || content.Price.Sign() <= 0 {
			return fmt.Errorf("%w: content %d has no price", pay.ErrInvalidContent, req.SubjectID)
		}
		return nil
	}

	// Non-content kinds carry their own amount and no subject.
	if req.SubjectID != 0 {
		return fmt.Errorf("%w: subject id set for %s", pay.ErrInvalidRequest, req.Kind)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive for %s", pay.ErrInvalidRequest, req.Kind)
	}
	return nil
}
