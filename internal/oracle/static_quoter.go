package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StaticQuoter serves quotes from a fixed rate table. Used in tests and
// as the quoting source when the service runs without an RPC endpoint.
type StaticQuoter struct {
	mu    sync.RWMutex
	rates map[routeKey]Rate
}

type routeKey struct {
	in, out common.Address
	tier    uint32
}

// Rate converts amountIn as amountIn * Num / Den, truncating.
type Rate struct {
	Num *big.Int
	Den *big.Int
}

func NewStaticQuoter() *StaticQuoter {
	return &StaticQuoter{rates: make(map[routeKey]Rate)}
}

// SetRate installs the conversion for a directed pair at one tier.
func (s *StaticQuoter) SetRate(tokenIn, tokenOut common.Address, tier uint32, num, den int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[routeKey{tokenIn, tokenOut, tier}] = Rate{Num: big.NewInt(num), Den: big.NewInt(den)}
}

// DropRate removes a pair, simulating a pool with no liquidity.
func (s *StaticQuoter) DropRate(tokenIn, tokenOut common.Address, tier uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rates, routeKey{tokenIn, tokenOut, tier})
}

func (s *StaticQuoter) QuoteExactInput(_ context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier uint32) (*big.Int, error) {
	s.mu.RLock()
	rate, ok := s.rates[routeKey{tokenIn, tokenOut, feeTier}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no pool for %s/%s at tier %d", tokenIn, tokenOut, feeTier)
	}

	out := new(big.Int).Mul(amountIn, rate.Num)
	return out.Quo(out, rate.Den), nil
}
