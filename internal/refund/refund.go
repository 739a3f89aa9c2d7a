// Package refund validates, records and executes monetary reversals of
// processed payment intents. Requests are one-shot per intent and freeze
// the amounts at request time; a later fee-schedule change cannot alter
// a pending refund.
package refund

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorpay/internal/escrow"
	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
	"creatorpay/internal/store"
)

// Manager owns RefundRequest records. It reads intents but never writes
// them; the processed flag on the refund itself is the only state it
// mutates.
type Manager struct {
	guard   *pay.Guard
	store   store.IntentStore
	escrow  escrow.Authorizer
	issuer  common.Address // engine identity, salts derived refund ids
	opsRole common.Address // operational identity allowed to process refunds
	log     *zap.Logger
	clock   func() time.Time

	mu        sync.Mutex
	processed uint64
	refunded  *big.Int
}

func NewManager(guard *pay.Guard, st store.IntentStore, esc escrow.Authorizer, issuer, opsRole common.Address, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if guard == nil {
		guard = &pay.Guard{}
	}
	return &Manager{
		guard:    guard,
		store:    st,
		escrow:   esc,
		issuer:   issuer,
		opsRole:  opsRole,
		log:      log,
		clock:    time.Now,
		refunded: new(big.Int),
	}
}

// RequestRefund records a buyer's refund ask for a processed intent.
// The caller must be the original buyer, the intent must have consumed
// its execution attempt, and only one request per intent is accepted.
func (m *Manager) RequestRefund(ctx context.Context, id intentid.ID, caller common.Address, reason string) (*pay.RefundRequest, error) {
	release, err := m.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	intent, err := m.store.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != intent.Buyer {
		return nil, fmt.Errorf("%w: only the buyer may request a refund of %s", pay.ErrUnauthorized, id)
	}
	if !intent.Processed {
		return nil, fmt.Errorf("%w: intent %s has not been executed", pay.ErrInvalidRequest, id)
	}

	req := &pay.RefundRequest{
		IntentID:    id,
		Buyer:       intent.Buyer,
		Amount:      intent.Split.Total(),
		Split:       intent.Split.Clone(),
		Reason:      reason,
		EscrowHash:  intent.EscrowHash,
		RequestedAt: m.clock(),
	}
	if err := m.store.PutRefund(ctx, req); err != nil {
		return nil, err
	}

	m.log.Info("refund requested",
		zap.String("intent_id", id.String()),
		zap.String("refund_id", intentid.RefundID(id, caller, reason, m.issuer).String()),
		zap.String("amount", req.Amount.String()),
		zap.String("reason", reason))
	return req.Clone(), nil
}

// ProcessRefund executes a recorded refund: the captured escrow entry is
// reversed to the buyer and the request is marked processed. Restricted
// to the operational role; unreachable for unknown or already-processed
// requests.
func (m *Manager) ProcessRefund(ctx context.Context, id intentid.ID, caller common.Address) error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if caller != m.opsRole {
		return fmt.Errorf("%w: %s may not process refunds", pay.ErrUnauthorized, caller)
	}

	req, err := m.store.GetRefund(ctx, id)
	if err != nil {
		return err
	}
	if req.Processed {
		return fmt.Errorf("%w: refund for intent %s", pay.ErrAlreadyProcessed, id)
	}

	// An intent whose execution failed (or settled out-of-band) has no
	// captured escrow entry; the reversal is then pure record cleanup.
	if req.EscrowHash != (common.Hash{}) {
		if err := m.escrow.Refund(ctx, req.EscrowHash); err != nil {
			return fmt.Errorf("escrow refund: %w", err)
		}
	}

	if err := m.store.MarkRefundProcessed(ctx, id, m.clock()); err != nil {
		return err
	}

	m.mu.Lock()
	m.processed++
	m.refunded.Add(m.refunded, req.Amount)
	m.mu.Unlock()

	m.log.Info("refund processed",
		zap.String("intent_id", id.String()),
		zap.String("buyer", req.Buyer.Hex()),
		zap.String("amount", req.Amount.String()))
	return nil
}

// Refund returns a copy of a recorded refund request.
func (m *Manager) Refund(ctx context.Context, id intentid.ID) (*pay.RefundRequest, error) {
	return m.store.GetRefund(ctx, id)
}

// Counters is a snapshot of refund activity.
type Counters struct {
	RefundsProcessed uint64
	AmountRefunded   *big.Int
}

func (m *Manager) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counters{
		RefundsProcessed: m.processed,
		AmountRefunded:   new(big.Int).Set(m.refunded),
	}
}
