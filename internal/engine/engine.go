// Package engine owns the payment intent lifecycle: creation, signature
// gating, execution against the escrow primitive, asynchronous
// completion, and the operational counters. Intents move strictly
// Created -> Signed -> Executed(success|failure); execution is consumed
// exactly once per intent, even when the escrow backend fails.
package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorpay/internal/escrow"
	"creatorpay/internal/fees"
	"creatorpay/internal/intentid"
	"creatorpay/internal/oracle"
	"creatorpay/internal/pay"
	"creatorpay/internal/registry"
	"creatorpay/internal/sigmanager"
	"creatorpay/internal/store"
)

// DefaultMaxSlippageBps bounds how far a fresh settlement-time quote may
// drift from the quote the intent was priced at, in either direction.
const DefaultMaxSlippageBps = 100

// Config fixes the engine's identity and fee schedule.
type Config struct {
	Issuer         common.Address // salts intent ids and canonical hashes
	Operator       common.Address
	ReferenceToken common.Address
	PlatformFeeBps uint32
	OperatorFeeBps uint32
	MaxSlippageBps uint32 // zero selects DefaultMaxSlippageBps
}

// Engine is the escrow settlement core.
type Engine struct {
	cfg      Config
	guard    *pay.Guard
	intents  store.IntentStore
	pricing  *oracle.Oracle
	sig      *sigmanager.Manager
	escrow   escrow.Authorizer
	registry registry.CreatorRegistry
	access   registry.AccessGranter
	loyalty  registry.LoyaltyNotifier
	log      *zap.Logger
	clock    func() time.Time

	mu             sync.Mutex
	nonce          uint64
	intentsCreated uint64
	processed      uint64
	succeeded      uint64
	feesCollected  *big.Int
}

// Deps collects the injected collaborators.
type Deps struct {
	Guard    *pay.Guard
	Intents  store.IntentStore
	Pricing  *oracle.Oracle
	Sig      *sigmanager.Manager
	Escrow   escrow.Authorizer
	Registry registry.CreatorRegistry
	Access   registry.AccessGranter
	Loyalty  registry.LoyaltyNotifier
	Log      *zap.Logger
	Clock    func() time.Time
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Guard == nil {
		deps.Guard = &pay.Guard{}
	}
	if cfg.MaxSlippageBps == 0 {
		cfg.MaxSlippageBps = DefaultMaxSlippageBps
	}
	return &Engine{
		cfg:           cfg,
		guard:         deps.Guard,
		intents:       deps.Intents,
		pricing:       deps.Pricing,
		sig:           deps.Sig,
		escrow:        deps.Escrow,
		registry:      deps.Registry,
		access:        deps.Access,
		loyalty:       deps.Loyalty,
		log:           deps.Log,
		clock:         deps.Clock,
		feesCollected: new(big.Int),
	}
}

// Guard exposes the mutation guard shared with the refund manager.
func (e *Engine) Guard() *pay.Guard {
	return e.guard
}

// CreateIntent validates a payment request, prices it in the requested
// token, mints the intent id and registers the canonical hash with the
// signature manager. Fails fast: any validation or oracle error leaves
// no partial state behind.
func (e *Engine) CreateIntent(ctx context.Context, req fees.Request) (*pay.PaymentIntent, error) {
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.clock()

	creatorStatus, err := e.registry.CreatorStatus(ctx, req.Creator)
	if err != nil {
		return nil, fmt.Errorf("creator lookup: %w", err)
	}
	var contentStatus fees.ContentStatus
	if req.Kind == pay.KindContentPurchase && req.SubjectID != 0 {
		if contentStatus, err = e.registry.ContentStatus(ctx, req.SubjectID); err != nil {
			return nil, fmt.Errorf("content lookup: %w", err)
		}
	}

	if err := fees.ValidateRequest(req, creatorStatus, contentStatus, now); err != nil {
		return nil, err
	}

	total := req.Amount
	if req.Kind == pay.KindContentPurchase {
		total = contentStatus.Price
	}

	split, err := fees.ComputeSplit(total, e.cfg.PlatformFeeBps, e.cfg.OperatorFeeBps)
	if err != nil {
		return nil, err
	}

	tokenAmount, err := e.pricing.AmountForReferenceUnit(ctx, req.PayToken, total, 0)
	if err != nil {
		return nil, err
	}

	nonce := e.nextNonce()
	intent := &pay.PaymentIntent{
		ID:          intentid.Generate(req.Buyer, req.Creator, req.SubjectID, uint8(req.Kind), nonce, e.cfg.Issuer),
		Buyer:       req.Buyer,
		Creator:     req.Creator,
		SubjectID:   req.SubjectID,
		Kind:        req.Kind,
		PayToken:    req.PayToken,
		TokenAmount: tokenAmount,
		Split:       split,
		Deadline:    req.Deadline,
		CreatedAt:   now,
	}

	// Register the canonical hash before the intent is visible. If the
	// store write below fails, the orphaned unsigned record is inert and
	// a fresh creation attempt mints a new id anyway; the reverse order
	// would leave a stored intent that can never be signed.
	hash, err := e.sig.Prepare(ctx, intent)
	if err != nil {
		return nil, err
	}
	if err := e.intents.PutIntent(ctx, intent); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.intentsCreated++
	e.mu.Unlock()

	e.log.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("buyer", intent.Buyer.Hex()),
		zap.String("creator", intent.Creator.Hex()),
		zap.String("kind", intent.Kind.String()),
		zap.String("total", total.String()),
		zap.String("token_amount", tokenAmount.String()),
		zap.String("canonical_hash", hash.Hex()))

	return intent.Clone(), nil
}

func (e *Engine) nextNonce() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce++
	return e.nonce
}

// ExecutionResult reports the outcome of one execution attempt.
type ExecutionResult struct {
	IntentID      intentid.ID
	Success       bool
	PaymentHash   common.Hash
	FailureReason string
}

// ExecuteWithSignature settles a signed intent. Only the original buyer
// may call it; the intent must hold an operator signature and an unexpired
// deadline. The attempt is consumed whether or not the escrow primitive
// succeeds: a failed settlement leaves the intent processed-with-failure,
// and the buyer's remedy is a refund request, never a silent retry.
func (e *Engine) ExecuteWithSignature(ctx context.Context, id intentid.ID, caller common.Address) (ExecutionResult, error) {
	release, err := e.guard.Enter()
	if err != nil {
		return ExecutionResult{}, err
	}
	defer release()

	intent, err := e.intents.GetIntent(ctx, id)
	if err != nil {
		return ExecutionResult{}, err
	}
	if caller != intent.Buyer {
		return ExecutionResult{}, fmt.Errorf("%w: only the buyer may execute intent %s", pay.ErrUnauthorized, id)
	}
	if intent.Processed {
		return ExecutionResult{}, fmt.Errorf("%w: intent %s", pay.ErrAlreadyProcessed, id)
	}
	if !e.sig.IsReady(ctx, id) {
		return ExecutionResult{}, fmt.Errorf("%w: intent %s", pay.ErrInsufficientAuthorization, id)
	}
	now := e.clock()
	if now.After(intent.Deadline) {
		return ExecutionResult{}, fmt.Errorf("%w: intent %s deadline %s", pay.ErrDeadlineExpired, id, intent.Deadline.UTC().Format(time.RFC3339))
	}
	if err := e.checkSlippage(ctx, intent); err != nil {
		return ExecutionResult{}, err
	}

	payment := escrowPayment(intent)
	result := ExecutionResult{IntentID: id}

	paymentHash, authErr := e.escrow.Authorize(ctx, payment)
	if authErr == nil {
		if capErr := e.escrow.Capture(ctx, paymentHash); capErr == nil {
			result.Success = true
			result.PaymentHash = paymentHash
		} else {
			// Funds are authorized but not captured; release them.
			if voidErr := e.escrow.Void(ctx, paymentHash); voidErr != nil {
				e.log.Error("void after failed capture",
					zap.String("intent_id", id.String()), zap.Error(voidErr))
			}
			result.FailureReason = capErr.Error()
		}
	} else {
		result.FailureReason = authErr.Error()
	}

	if err := e.intents.MarkProcessed(ctx, id, result.Success, result.PaymentHash, now); err != nil {
		return ExecutionResult{}, err
	}
	e.recordOutcome(intent, result.Success)

	if result.Success {
		e.settle(ctx, intent)
		e.log.Info("intent executed",
			zap.String("intent_id", id.String()),
			zap.String("payment_hash", result.PaymentHash.Hex()))
	} else {
		e.log.Warn("intent execution failed, attempt consumed",
			zap.String("intent_id", id.String()),
			zap.String("reason", result.FailureReason))
	}
	return result, nil
}

// checkSlippage re-prices the intent at settlement time and rejects the
// execution when the fresh quote has drifted outside the configured
// tolerance in either direction. Like a deadline rejection, this does
// not consume the attempt: the price may come back.
func (e *Engine) checkSlippage(ctx context.Context, intent *pay.PaymentIntent) error {
	valid, fresh, err := e.pricing.ValidateQuote(ctx, e.cfg.ReferenceToken, intent.PayToken,
		intent.Split.Total(), intent.TokenAmount, e.cfg.MaxSlippageBps, 0)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: intent %s repriced to %s, below tolerance on %s",
			pay.ErrExcessiveSlippage, intent.ID, fresh, intent.TokenAmount)
	}
	ceiling, err := oracle.ApplySlippage(intent.TokenAmount, e.cfg.MaxSlippageBps)
	if err != nil {
		return err
	}
	if fresh.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: intent %s repriced to %s, above tolerance on %s",
			pay.ErrExcessiveSlippage, intent.ID, fresh, intent.TokenAmount)
	}
	return nil
}

// ProcessCompletedPayment is the asynchronous completion hook for flows
// where settlement confirmation arrives out-of-band. Idempotent-guarded:
// an intent already marked processed rejects the callback.
func (e *Engine) ProcessCompletedPayment(ctx context.Context, id intentid.ID, buyer common.Address, token common.Address, amount *big.Int, success bool, reason string) error {
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	intent, err := e.intents.GetIntent(ctx, id)
	if err != nil {
		return err
	}
	if buyer != intent.Buyer {
		return fmt.Errorf("%w: completion buyer %s does not match intent %s", pay.ErrUnauthorized, buyer, id)
	}
	if token != intent.PayToken {
		return fmt.Errorf("%w: completion token %s does not match intent %s", pay.ErrInvalidRequest, token, id)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: completion amount must be positive for intent %s", pay.ErrInvalidRequest, id)
	}
	if success && amount.Cmp(intent.TokenAmount) != 0 {
		return fmt.Errorf("%w: completion amount %s does not match intent %s amount %s",
			pay.ErrInvalidRequest, amount, id, intent.TokenAmount)
	}
	if intent.Processed {
		return fmt.Errorf("%w: intent %s", pay.ErrAlreadyProcessed, id)
	}

	if err := e.intents.MarkProcessed(ctx, id, success, common.Hash{}, e.clock()); err != nil {
		return err
	}
	e.recordOutcome(intent, success)

	if success {
		e.settle(ctx, intent)
		e.log.Info("out-of-band completion processed",
			zap.String("intent_id", id.String()),
			zap.String("amount", amount.String()))
	} else {
		e.log.Warn("out-of-band completion reported failure",
			zap.String("intent_id", id.String()),
			zap.String("reason", reason))
	}
	return nil
}

// settle grants the buyer whatever the intent paid for and pings the
// loyalty module. Loyalty failures are swallowed; grant failures are
// logged but do not unwind the settlement, the funds have moved.
func (e *Engine) settle(ctx context.Context, intent *pay.PaymentIntent) {
	switch intent.Kind {
	case pay.KindContentPurchase:
		if err := e.access.GrantContentAccess(ctx, intent.Buyer, intent.SubjectID, intent.ID, intent.TokenAmount, intent.PayToken); err != nil {
			e.log.Error("grant content access",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
		}
	case pay.KindSubscription:
		if err := e.access.RecordSubscription(ctx, intent.Buyer, intent.Creator, intent.ID, intent.TokenAmount, intent.PayToken); err != nil {
			e.log.Error("record subscription",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
		}
	}

	if e.loyalty != nil {
		sc := registry.SettlementContext{
			Buyer:   intent.Buyer,
			Creator: intent.Creator,
			Kind:    intent.Kind.String(),
			Amount:  intent.Split.Total(),
		}
		if err := e.loyalty.NotifySettlement(ctx, intent.ID, sc); err != nil {
			e.log.Debug("loyalty notification dropped",
				zap.String("intent_id", intent.ID.String()), zap.Error(err))
		}
	}
}

func (e *Engine) recordOutcome(intent *pay.PaymentIntent, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed++
	if success {
		e.succeeded++
		e.feesCollected.Add(e.feesCollected, intent.Split.Platform)
		e.feesCollected.Add(e.feesCollected, intent.Split.Operator)
	}
}

// escrowPayment derives the escrow legs for an intent. The nonce comes
// from the intent id so the payment hash is reproducible per intent.
func escrowPayment(intent *pay.PaymentIntent) escrow.Payment {
	fee := new(big.Int).Add(intent.Split.Platform, intent.Split.Operator)
	return escrow.Payment{
		Payer:     intent.Buyer,
		Receiver:  intent.Creator,
		Amount:    new(big.Int).Set(intent.Split.Creator),
		Fee:       fee,
		Nonce:     binary.BigEndian.Uint64(intent.ID[:8]),
		Timestamp: intent.CreatedAt,
	}
}

// Intent returns a copy of a stored intent.
func (e *Engine) Intent(ctx context.Context, id intentid.ID) (*pay.PaymentIntent, error) {
	return e.intents.GetIntent(ctx, id)
}

// SignatureReady reports whether the intent holds its operator signature.
func (e *Engine) SignatureReady(ctx context.Context, id intentid.ID) bool {
	return e.sig.IsReady(ctx, id)
}

// Counters is a snapshot of the engine's aggregate activity.
type Counters struct {
	IntentsCreated    uint64
	PaymentsProcessed uint64
	PaymentsSucceeded uint64
	FeesCollected     *big.Int // reference micro-units
}

func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counters{
		IntentsCreated:    e.intentsCreated,
		PaymentsProcessed: e.processed,
		PaymentsSucceeded: e.succeeded,
		FeesCollected:     new(big.Int).Set(e.feesCollected),
	}
}
