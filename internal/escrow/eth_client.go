package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// escrowABI is the transacting surface of the PaymentEscrow contract.
const escrowABI = `[
  {
    "name": "authorize",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "payer", "type": "address"},
      {"name": "receiver", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "fee", "type": "uint256"},
      {"name": "nonce", "type": "uint64"},
      {"name": "timestamp", "type": "uint64"}
    ],
    "outputs": []
  },
  {
    "name": "capture",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "paymentHash", "type": "bytes32"}],
    "outputs": []
  },
  {
    "name": "void",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "paymentHash", "type": "bytes32"}],
    "outputs": []
  },
  {
    "name": "refund",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "paymentHash", "type": "bytes32"}],
    "outputs": []
  }
]`

// EthClient submits escrow transactions to the PaymentEscrow contract.
type EthClient struct {
	client    *ethclient.Client
	contract  *bind.BoundContract
	abi       abi.ABI
	address   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
}

type EthClientConfig struct {
	RPCURL         string
	PrivateKeyHex  string
	EscrowContract string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.EscrowContract == "" {
		return nil, fmt.Errorf("escrow contract address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for escrow transactions")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	address := common.HexToAddress(cfg.EscrowContract)
	return &EthClient{
		client:    cli,
		contract:  bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:       parsedABI,
		address:   address,
		chainID:   chainID,
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Authorize(ctx context.Context, p Payment) (common.Hash, error) {
	opts := *c.transacts
	opts.Context = ctx

	_, err := c.contract.Transact(&opts, "authorize",
		p.Payer, p.Receiver, p.Amount, p.Fee, p.Nonce, uint64(p.Timestamp.Unix()))
	if err != nil {
		return common.Hash{}, fmt.Errorf("authorize tx: %w", err)
	}
	return PaymentHash(p, c.address), nil
}

func (c *EthClient) Capture(ctx context.Context, paymentHash common.Hash) error {
	return c.transactOnHash(ctx, "capture", paymentHash)
}

func (c *EthClient) Void(ctx context.Context, paymentHash common.Hash) error {
	return c.transactOnHash(ctx, "void", paymentHash)
}

func (c *EthClient) Refund(ctx context.Context, paymentHash common.Hash) error {
	return c.transactOnHash(ctx, "refund", paymentHash)
}

func (c *EthClient) transactOnHash(ctx context.Context, method string, paymentHash common.Hash) error {
	opts := *c.transacts
	opts.Context = ctx

	if _, err := c.contract.Transact(&opts, method, [32]byte(paymentHash)); err != nil {
		return fmt.Errorf("%s tx: %w", method, err)
	}
	return nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

// WaitForReceipt polls until the transaction is mined or the context is
// cancelled.
func WaitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
