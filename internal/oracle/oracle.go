// Package oracle prices arbitrary payment tokens against the reference
// stable unit. Quotes come from an external quoting source behind the
// Quoter interface; the oracle layers fee-tier selection, a one-hop
// bridge fallback, slippage bounds and price-impact checks on top.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"creatorpay/internal/pay"
)

// Quoter is the external price-discovery source. Implementations quote
// the amount of tokenOut received for amountIn of tokenIn at a given
// pool fee tier, or fail when the pool has no liquidity.
type Quoter interface {
	QuoteExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier uint32) (*big.Int, error)
}

// Default pool fee tiers, in hundredths of a bip, matching the quoting
// source's pool layout.
const (
	TierStable uint32 = 500
	TierMid    uint32 = 3000
	TierHigh   uint32 = 10000
)

// MaxImpactBps is the price-impact ceiling above which a realized
// conversion is flagged unacceptable.
const MaxImpactBps = 500

const bpsDenominator = 10000

// Config fixes the token topology and tier policy for an Oracle.
type Config struct {
	ReferenceToken common.Address
	BridgeToken    common.Address // one-hop fallback asset; zero disables the fallback
	Tiers          [3]uint32      // tiers consulted by MultiQuote
	StableTier     uint32         // used when either side is the reference token
	DefaultTier    uint32         // used otherwise
	PairOverrides  map[PairKey]uint32
}

// PairKey identifies an unordered token pair for tier overrides.
type PairKey struct {
	A, B common.Address
}

// NewPairKey normalizes the pair so both directions hit the same override.
func NewPairKey(x, y common.Address) PairKey {
	if x.Cmp(y) > 0 {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

// Oracle converts amounts between the reference unit and payment tokens.
type Oracle struct {
	cfg    Config
	quoter Quoter
	log    *zap.Logger
}

func New(cfg Config, quoter Quoter, log *zap.Logger) *Oracle {
	if cfg.StableTier == 0 {
		cfg.StableTier = TierStable
	}
	if cfg.DefaultTier == 0 {
		cfg.DefaultTier = TierMid
	}
	if cfg.Tiers == [3]uint32{} {
		cfg.Tiers = [3]uint32{TierStable, TierMid, TierHigh}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle{cfg: cfg, quoter: quoter, log: log}
}

// resolveTier picks the pool fee tier for a pair: explicit beats the
// per-pair override, which beats the stable tier when the reference
// token is involved, which beats the default mid tier.
func (o *Oracle) resolveTier(tokenIn, tokenOut common.Address, explicit uint32) uint32 {
	if explicit != 0 {
		return explicit
	}
	if tier, ok := o.cfg.PairOverrides[NewPairKey(tokenIn, tokenOut)]; ok {
		return tier
	}
	if tokenIn == o.cfg.ReferenceToken || tokenOut == o.cfg.ReferenceToken {
		return o.cfg.StableTier
	}
	return o.cfg.DefaultTier
}

// Quote converts amountIn of tokenIn into tokenOut units. A zero input
// quotes to zero without touching the quoting source. When the direct
// pool has no liquidity the oracle routes one hop through the bridge
// asset and composes the two legs; if that also fails the pair is
// unpriceable and the caller gets ErrNoLiquidity, never a silent zero.
func (o *Oracle) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier uint32) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or missing amount", pay.ErrInvalidRequest)
	}
	if amountIn.Sign() == 0 {
		return new(big.Int), nil
	}
	if tokenIn == tokenOut {
		return new(big.Int).Set(amountIn), nil
	}

	tier := o.resolveTier(tokenIn, tokenOut, feeTier)
	out, directErr := o.quoter.QuoteExactInput(ctx, tokenIn, tokenOut, amountIn, tier)
	if directErr == nil && out != nil && out.Sign() > 0 {
		return out, nil
	}

	bridged, bridgeErr := o.bridgeQuote(ctx, tokenIn, tokenOut, amountIn)
	if bridgeErr == nil {
		o.log.Debug("quoted via bridge route",
			zap.String("token_in", tokenIn.Hex()),
			zap.String("token_out", tokenOut.Hex()),
			zap.String("amount_in", amountIn.String()))
		return bridged, nil
	}

	return nil, fmt.Errorf("%w: %s/%s direct and bridge routes failed", pay.ErrNoLiquidity, tokenIn, tokenOut)
}

// bridgeQuote composes tokenIn -> bridge -> tokenOut.
func (o *Oracle) bridgeQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	bridge := o.cfg.BridgeToken
	if bridge == (common.Address{}) || bridge == tokenIn || bridge == tokenOut {
		return nil, fmt.Errorf("%w: no bridge route for %s/%s", pay.ErrNoLiquidity, tokenIn, tokenOut)
	}

	leg1, err := o.quoter.QuoteExactInput(ctx, tokenIn, bridge, amountIn, o.resolveTier(tokenIn, bridge, 0))
	if err != nil || leg1 == nil || leg1.Sign() == 0 {
		return nil, fmt.Errorf("%w: bridge leg %s/%s", pay.ErrNoLiquidity, tokenIn, bridge)
	}
	leg2, err := o.quoter.QuoteExactInput(ctx, bridge, tokenOut, leg1, o.resolveTier(bridge, tokenOut, 0))
	if err != nil || leg2 == nil || leg2.Sign() == 0 {
		return nil, fmt.Errorf("%w: bridge leg %s/%s", pay.ErrNoLiquidity, bridge, tokenOut)
	}
	return leg2, nil
}

// AmountForReferenceUnit returns how many units of token match
// referenceAmount of the reference unit. The reference token itself
// converts identically with no oracle call.
func (o *Oracle) AmountForReferenceUnit(ctx context.Context, token common.Address, referenceAmount *big.Int, feeTier uint32) (*big.Int, error) {
	if referenceAmount == nil || referenceAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or missing amount", pay.ErrInvalidRequest)
	}
	if token == o.cfg.ReferenceToken {
		return new(big.Int).Set(referenceAmount), nil
	}
	return o.Quote(ctx, o.cfg.ReferenceToken, token, referenceAmount, feeTier)
}

// TierQuote is one leg of a MultiQuote answer.
type TierQuote struct {
	FeeTier   uint32
	AmountOut *big.Int
	Err       error
}

// MultiQuote prices the same conversion at all three configured tiers.
// Illiquid tiers are reported per-tier instead of failing the whole call.
func (o *Oracle) MultiQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) [3]TierQuote {
	var out [3]TierQuote
	for i, tier := range o.cfg.Tiers {
		amount, err := o.Quote(ctx, tokenIn, tokenOut, amountIn, tier)
		out[i] = TierQuote{FeeTier: tier, AmountOut: amount, Err: err}
	}
	return out
}

// ApplySlippage widens amount upward by bps. Bounds above 100% are
// rejected rather than clamped.
func ApplySlippage(amount *big.Int, bps uint32) (*big.Int, error) {
	if bps > bpsDenominator {
		return nil, fmt.Errorf("%w: slippage %d bps exceeds 100%%", pay.ErrExcessiveSlippage, bps)
	}
	if amount == nil {
		return nil, fmt.Errorf("%w: missing amount", pay.ErrInvalidRequest)
	}
	padding := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	padding.Quo(padding, big.NewInt(bpsDenominator))
	return padding.Add(amount, padding), nil
}

// ValidateQuote re-prices a conversion immediately before settlement and
// reports whether the fresh amount stays within maxSlippageBps below the
// expected amount. The fresh amount is returned either way so callers
// can log the divergence.
func (o *Oracle) ValidateQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, expectedOut *big.Int, maxSlippageBps, feeTier uint32) (bool, *big.Int, error) {
	if maxSlippageBps > bpsDenominator {
		return false, nil, fmt.Errorf("%w: slippage %d bps exceeds 100%%", pay.ErrExcessiveSlippage, maxSlippageBps)
	}
	if expectedOut == nil || expectedOut.Sign() <= 0 {
		return false, nil, fmt.Errorf("%w: expected amount must be positive", pay.ErrInvalidRequest)
	}

	actual, err := o.Quote(ctx, tokenIn, tokenOut, amountIn, feeTier)
	if err != nil {
		return false, nil, err
	}

	// minOut = expected * (10000 - maxSlippageBps) / 10000, truncated.
	minOut := new(big.Int).Mul(expectedOut, big.NewInt(int64(bpsDenominator-maxSlippageBps)))
	minOut.Quo(minOut, big.NewInt(bpsDenominator))

	return actual.Cmp(minOut) >= 0, actual, nil
}

// CheckPriceImpact measures how far a realized conversion strayed from
// the current quote, in basis points, and whether it stays under the
// fixed ceiling.
func (o *Oracle) CheckPriceImpact(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, actualOut *big.Int) (uint32, bool, error) {
	if actualOut == nil || actualOut.Sign() < 0 {
		return 0, false, fmt.Errorf("%w: negative or missing actual amount", pay.ErrInvalidRequest)
	}

	expected, err := o.Quote(ctx, tokenIn, tokenOut, amountIn, 0)
	if err != nil {
		return 0, false, err
	}
	if expected.Sign() == 0 {
		if actualOut.Sign() == 0 {
			return 0, true, nil
		}
		return bpsDenominator, false, nil
	}

	diff := new(big.Int).Sub(expected, actualOut)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(bpsDenominator))
	diff.Quo(diff, expected)

	if !diff.IsUint64() || diff.Uint64() > bpsDenominator {
		return bpsDenominator, false, nil
	}
	impact := uint32(diff.Uint64())
	return impact, impact <= MaxImpactBps, nil
}
