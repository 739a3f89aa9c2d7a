package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/pay"
)

var (
	refToken    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bridgeToken = common.HexToAddress("0x1000000000000000000000000000000000000002")
	payToken    = common.HexToAddress("0x1000000000000000000000000000000000000003")
	otherToken  = common.HexToAddress("0x1000000000000000000000000000000000000004")
)

func newTestOracle(q Quoter) *Oracle {
	return New(Config{
		ReferenceToken: refToken,
		BridgeToken:    bridgeToken,
	}, q, nil)
}

func TestQuoteIdentityAndZero(t *testing.T) {
	o := newTestOracle(NewStaticQuoter())
	ctx := context.Background()

	out, err := o.Quote(ctx, payToken, payToken, big.NewInt(500), 0)
	if err != nil || out.Int64() != 500 {
		t.Fatalf("identity quote: %v %v", out, err)
	}

	// Zero in, zero out without consulting the quoting source.
	out, err = o.Quote(ctx, payToken, refToken, big.NewInt(0), 0)
	if err != nil || out.Sign() != 0 {
		t.Fatalf("zero quote: %v %v", out, err)
	}
}

func TestQuoteDirect(t *testing.T) {
	q := NewStaticQuoter()
	// 1 payToken = 2 reference units at the stable tier.
	q.SetRate(payToken, refToken, TierStable, 2, 1)

	o := newTestOracle(q)
	out, err := o.Quote(context.Background(), payToken, refToken, big.NewInt(1_000_000), 0)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if out.Int64() != 2_000_000 {
		t.Fatalf("quote = %s, want 2000000", out)
	}
}

func TestQuoteBridgeFallback(t *testing.T) {
	q := NewStaticQuoter()
	// No direct pool; pay -> bridge at 3:1 (default tier), bridge -> ref
	// at 5:1 (stable tier, since ref is one side).
	q.SetRate(payToken, bridgeToken, TierMid, 3, 1)
	q.SetRate(bridgeToken, refToken, TierStable, 5, 1)

	o := newTestOracle(q)
	ctx := context.Background()

	out, err := o.Quote(ctx, payToken, refToken, big.NewInt(100), 0)
	if err != nil {
		t.Fatalf("bridge quote failed: %v", err)
	}
	if out.Int64() != 1500 {
		t.Fatalf("bridge quote = %s, want 1500", out)
	}

	// The two-hop result must equal composing the legs by hand.
	leg1, _ := q.QuoteExactInput(ctx, payToken, bridgeToken, big.NewInt(100), TierMid)
	leg2, _ := q.QuoteExactInput(ctx, bridgeToken, refToken, leg1, TierStable)
	if out.Cmp(leg2) != 0 {
		t.Fatalf("bridge composition mismatch: %s vs %s", out, leg2)
	}
}

func TestQuoteNoLiquidity(t *testing.T) {
	o := newTestOracle(NewStaticQuoter())

	_, err := o.Quote(context.Background(), payToken, refToken, big.NewInt(100), 0)
	if !errors.Is(err, pay.ErrNoLiquidity) {
		t.Fatalf("got %v, want ErrNoLiquidity", err)
	}
}

func TestQuoteBridgeLegMissing(t *testing.T) {
	q := NewStaticQuoter()
	q.SetRate(payToken, bridgeToken, TierMid, 3, 1) // second leg absent

	o := newTestOracle(q)
	if _, err := o.Quote(context.Background(), payToken, refToken, big.NewInt(100), 0); !errors.Is(err, pay.ErrNoLiquidity) {
		t.Fatalf("got %v, want ErrNoLiquidity", err)
	}
}

func TestAmountForReferenceUnit(t *testing.T) {
	q := NewStaticQuoter()
	// 1 reference unit buys 4 payToken units.
	q.SetRate(refToken, payToken, TierStable, 4, 1)

	o := newTestOracle(q)
	ctx := context.Background()

	out, err := o.AmountForReferenceUnit(ctx, payToken, big.NewInt(250), 0)
	if err != nil || out.Int64() != 1000 {
		t.Fatalf("conversion: %v %v", out, err)
	}

	// The reference token converts identically, no oracle call.
	out, err = o.AmountForReferenceUnit(ctx, refToken, big.NewInt(250), 0)
	if err != nil || out.Int64() != 250 {
		t.Fatalf("identity conversion: %v %v", out, err)
	}
}

func TestTierResolution(t *testing.T) {
	o := New(Config{
		ReferenceToken: refToken,
		BridgeToken:    bridgeToken,
		PairOverrides: map[PairKey]uint32{
			NewPairKey(payToken, otherToken): TierHigh,
		},
	}, NewStaticQuoter(), nil)

	cases := []struct {
		name     string
		in, out  common.Address
		explicit uint32
		want     uint32
	}{
		{"explicit wins", payToken, otherToken, TierStable, TierStable},
		{"pair override", payToken, otherToken, 0, TierHigh},
		{"override reversed pair", otherToken, payToken, 0, TierHigh},
		{"reference side uses stable", payToken, refToken, 0, TierStable},
		{"plain pair uses default", bridgeToken, otherToken, 0, TierMid},
	}
	for _, tc := range cases {
		if got := o.resolveTier(tc.in, tc.out, tc.explicit); got != tc.want {
			t.Errorf("%s: tier %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestMultiQuote(t *testing.T) {
	q := NewStaticQuoter()
	q.SetRate(payToken, refToken, TierStable, 2, 1)
	q.SetRate(payToken, refToken, TierMid, 3, 1)
	// high tier left dry

	o := newTestOracle(q)
	quotes := o.MultiQuote(context.Background(), payToken, refToken, big.NewInt(100))

	if quotes[0].Err != nil || quotes[0].AmountOut.Int64() != 200 {
		t.Errorf("stable tier: %+v", quotes[0])
	}
	if quotes[1].Err != nil || quotes[1].AmountOut.Int64() != 300 {
		t.Errorf("mid tier: %+v", quotes[1])
	}
	if quotes[2].Err == nil {
		t.Errorf("high tier should fail, got %+v", quotes[2])
	}
}

func TestApplySlippage(t *testing.T) {
	base := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000))

	out, err := ApplySlippage(base, 100)
	if err != nil {
		t.Fatalf("slippage failed: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(1010), big.NewInt(1_000_000))
	if out.Cmp(want) != 0 {
		t.Fatalf("slippage = %s, want %s", out, want)
	}

	if _, err := ApplySlippage(base, 10001); !errors.Is(err, pay.ErrExcessiveSlippage) {
		t.Fatalf("bps over 100%%: got %v", err)
	}

	// 100% doubles the amount and is the upper bound.
	out, err = ApplySlippage(big.NewInt(7), 10000)
	if err != nil || out.Int64() != 14 {
		t.Fatalf("full slippage: %v %v", out, err)
	}

	// Truncating division: 33 * 100 / 10000 = 0.33 -> 0.
	out, err = ApplySlippage(big.NewInt(33), 100)
	if err != nil || out.Int64() != 33 {
		t.Fatalf("truncated slippage: %v %v", out, err)
	}
}

func TestValidateQuote(t *testing.T) {
	q := NewStaticQuoter()
	q.SetRate(payToken, refToken, TierStable, 2, 1)

	o := newTestOracle(q)
	ctx := context.Background()

	// Fresh quote 200, expected 200, within any bound.
	ok, actual, err := o.ValidateQuote(ctx, payToken, refToken, big.NewInt(100), big.NewInt(200), 50, 0)
	if err != nil || !ok || actual.Int64() != 200 {
		t.Fatalf("valid quote: ok=%v actual=%v err=%v", ok, actual, err)
	}

	// Expected 210 with 100 bps tolerance allows >= 207; actual 200 fails.
	ok, actual, err = o.ValidateQuote(ctx, payToken, refToken, big.NewInt(100), big.NewInt(210), 100, 0)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if ok {
		t.Fatalf("expected slippage rejection, actual %s", actual)
	}

	if _, _, err := o.ValidateQuote(ctx, payToken, refToken, big.NewInt(100), big.NewInt(200), 10001, 0); !errors.Is(err, pay.ErrExcessiveSlippage) {
		t.Fatalf("bps over 100%%: got %v", err)
	}
}

func TestCheckPriceImpact(t *testing.T) {
	q := NewStaticQuoter()
	q.SetRate(payToken, refToken, TierStable, 2, 1)

	o := newTestOracle(q)
	ctx := context.Background()
	amountIn := big.NewInt(10_000)

	// Quote is 20000; realized 19900 is 50 bps off, acceptable.
	impact, ok, err := o.CheckPriceImpact(ctx, payToken, refToken, amountIn, big.NewInt(19_900))
	if err != nil || !ok || impact != 50 {
		t.Fatalf("small impact: impact=%d ok=%v err=%v", impact, ok, err)
	}

	// Realized 18000 is 1000 bps off, above the 500 bps ceiling.
	impact, ok, err = o.CheckPriceImpact(ctx, payToken, refToken, amountIn, big.NewInt(18_000))
	if err != nil || ok || impact != 1000 {
		t.Fatalf("large impact: impact=%d ok=%v err=%v", impact, ok, err)
	}

	// Overshoot counts the same as undershoot.
	impact, ok, err = o.CheckPriceImpact(ctx, payToken, refToken, amountIn, big.NewInt(22_000))
	if err != nil || ok || impact != 1000 {
		t.Fatalf("overshoot impact: impact=%d ok=%v err=%v", impact, ok, err)
	}
}
