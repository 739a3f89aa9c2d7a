package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// quoterABI is the view surface of the on-chain quoter contract. Quotes
// are static calls; nothing here signs or spends.
const quoterABI = `[
  {
    "name": "quoteExactInputSingle",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "tokenIn", "type": "address"},
      {"name": "tokenOut", "type": "address"},
      {"name": "fee", "type": "uint24"},
      {"name": "amountIn", "type": "uint256"}
    ],
    "outputs": [
      {"name": "amountOut", "type": "uint256"}
    ]
  }
]`

// EthQuoter sources quotes from a quoter contract over JSON-RPC.
type EthQuoter struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
}

type EthQuoterConfig struct {
	RPCURL         string
	QuoterContract string
}

func NewEthQuoter(ctx context.Context, cfg EthQuoterConfig) (*EthQuoter, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.QuoterContract == "" {
		return nil, fmt.Errorf("quoter contract address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(quoterABI))
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}

	address := common.HexToAddress(cfg.QuoterContract)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	return &EthQuoter{client: cli, contract: bound, address: address}, nil
}

func (q *EthQuoter) QuoteExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier uint32) (*big.Int, error) {
	var out []interface{}
	err := q.contract.Call(&bind.CallOpts{Context: ctx}, &out, "quoteExactInputSingle",
		tokenIn, tokenOut, big.NewInt(int64(feeTier)), amountIn)
	if err != nil {
		return nil, fmt.Errorf("quote %s/%s tier %d: %w", tokenIn, tokenOut, feeTier, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("quote %s/%s: unexpected output arity %d", tokenIn, tokenOut, len(out))
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("quote %s/%s: unexpected output type %T", tokenIn, tokenOut, out[0])
	}
	return amountOut, nil
}

func (q *EthQuoter) Ping(ctx context.Context) error {
	if q.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := q.client.BlockNumber(ctx)
	return err
}
