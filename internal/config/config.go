// Package config aggregates service configuration from the seed file,
// the contract deployment manifest, an optional pool topology file and
// environment overrides. Amount limits are written as human decimal
// strings in the seed and converted to reference micro-units here, so
// nothing downstream ever parses a decimal.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"creatorpay/internal/oracle"
)

// ReferenceDecimals is the reference unit scale: one unit is 1e6
// micro-units.
const ReferenceDecimals = 6

// SeedConfig models seed.json.
type SeedConfig struct {
	ServiceName string `json:"serviceName"`
	Chain       struct {
		ChainID int64  `json:"chainId"`
		RPCURL  string `json:"rpcUrl"`
	} `json:"chain"`
	Fees struct {
		PlatformBps uint32 `json:"platformBps"`
		OperatorBps uint32 `json:"operatorBps"`
	} `json:"fees"`
	Pricing struct {
		MaxSlippageBps uint32 `json:"maxSlippageBps"`
	} `json:"pricing"`
	Secrets struct {
		BuyerHMACSecret    string `json:"buyerHmacSecret"`
		OperatorHMACSecret string `json:"operatorHmacSecret"`
	} `json:"secrets"`
	Limits struct {
		MinPaymentAmount string `json:"minPaymentAmount"` // decimal reference units
		MaxPaymentAmount string `json:"maxPaymentAmount"`
	} `json:"limits"`
	Timeouts struct {
		IntentDeadlineSecs    int `json:"intentDeadlineSeconds"`
		IdempotencyWindowSecs int `json:"idempotencyWindowSeconds"`
	} `json:"timeouts"`
}

// DeploymentConfig models deployments.json: the addresses the service
// acts as and talks to.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Issuer    string `json:"issuer"`
	Owner     string `json:"owner"`
	Operator  string `json:"operator"`
	OpsRole   string `json:"opsRole"`
	Contracts struct {
		ReferenceToken string `json:"ReferenceToken"`
		BridgeToken    string `json:"BridgeToken"`
		Escrow         string `json:"Escrow"`
		Quoter         string `json:"Quoter"`
	} `json:"contracts"`
}

// PoolsConfig models pools.yaml: the fee-tier topology for the oracle.
type PoolsConfig struct {
	StableTier  uint32 `yaml:"stable_tier"`
	DefaultTier uint32 `yaml:"default_tier"`
	Overrides   []struct {
		TokenA string `yaml:"token_a"`
		TokenB string `yaml:"token_b"`
		Tier   uint32 `yaml:"tier"`
	} `yaml:"overrides"`
}

// AppConfig ties everything together.
type AppConfig struct {
	Seed       SeedConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Oracle     oracle.Config

	MinPayment *big.Int // reference micro-units
	MaxPayment *big.Int
}

type ServiceConfig struct {
	HTTPPort          int
	HMACClockSkew     time.Duration
	IntentDeadline    time.Duration
	IdempotencyWindow time.Duration
	PostgresURL       string // empty selects the in-memory stores
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
}

const (
	defaultSeedPath        = "seed.json"
	defaultDeploymentsPath = "deployments.json"
	defaultPoolsPath       = "pools.yaml"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	seedCfg, err := loadJSON[SeedConfig](envOr("SEED_PATH", defaultSeedPath))
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	deployCfg, err := loadJSON[DeploymentConfig](envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	poolsCfg, err := loadPools(envOr("POOLS_PATH", defaultPoolsPath))
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}

	oracleCfg, err := buildOracleConfig(deployCfg, poolsCfg)
	if err != nil {
		return nil, err
	}

	minPay, err := parseAmount(seedCfg.Limits.MinPaymentAmount)
	if err != nil {
		return nil, fmt.Errorf("min payment amount: %w", err)
	}
	maxPay, err := parseAmount(seedCfg.Limits.MaxPaymentAmount)
	if err != nil {
		return nil, fmt.Errorf("max payment amount: %w", err)
	}

	cfg := &AppConfig{
		Seed:       *seedCfg,
		Deployment: *deployCfg,
		Oracle:     oracleCfg,
		MinPayment: minPay,
		MaxPayment: maxPay,
		Service: ServiceConfig{
			HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
			HMACClockSkew:     time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IntentDeadline:    time.Duration(orDefault(seedCfg.Timeouts.IntentDeadlineSecs, 900)) * time.Second,
			IdempotencyWindow: time.Duration(orDefault(seedCfg.Timeouts.IdempotencyWindowSecs, 3600)) * time.Second,
			PostgresURL:       envOr("DATABASE_URL", ""),
		},
		Chain: ChainConfig{
			RPCURL:     envOr("CHAIN_RPC_URL", seedCfg.Chain.RPCURL),
			PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
		},
	}

	// Secrets prefer the environment over the seed file.
	cfg.Seed.Secrets.BuyerHMACSecret = envOr("BUYER_HMAC_SECRET", seedCfg.Secrets.BuyerHMACSecret)
	cfg.Seed.Secrets.OperatorHMACSecret = envOr("OPERATOR_HMAC_SECRET", seedCfg.Secrets.OperatorHMACSecret)

	return cfg, nil
}

func buildOracleConfig(deploy *DeploymentConfig, pools *PoolsConfig) (oracle.Config, error) {
	ref, err := parseAddress("ReferenceToken", deploy.Contracts.ReferenceToken)
	if err != nil {
		return oracle.Config{}, err
	}
	cfg := oracle.Config{
		ReferenceToken: ref,
		PairOverrides:  make(map[oracle.PairKey]uint32),
	}
	// A bridge token is optional; without one the oracle quotes direct
	// pools only.
	if deploy.Contracts.BridgeToken != "" {
		if cfg.BridgeToken, err = parseAddress("BridgeToken", deploy.Contracts.BridgeToken); err != nil {
			return oracle.Config{}, err
		}
	}
	if pools != nil {
		cfg.StableTier = pools.StableTier
		cfg.DefaultTier = pools.DefaultTier
		for _, ov := range pools.Overrides {
			a, err := parseAddress("override token_a", ov.TokenA)
			if err != nil {
				return oracle.Config{}, err
			}
			b, err := parseAddress("override token_b", ov.TokenB)
			if err != nil {
				return oracle.Config{}, err
			}
			cfg.PairOverrides[oracle.NewPairKey(a, b)] = ov.Tier
		}
	}
	return cfg, nil
}

// Address parses one of the manifest's role addresses.
func (d DeploymentConfig) Address(role string) (common.Address, error) {
	switch role {
	case "issuer":
		return parseAddress(role, d.Issuer)
	case "owner":
		return parseAddress(role, d.Owner)
	case "operator":
		return parseAddress(role, d.Operator)
	case "opsRole":
		return parseAddress(role, d.OpsRole)
	}
	return common.Address{}, fmt.Errorf("unknown role %q", role)
}

func parseAddress(name, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("config: %s %q is not a hex address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount converts a human decimal amount of reference units into
// micro-units. "10.50" becomes 10500000. Fractions finer than the
// reference scale are rejected rather than silently truncated.
func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", raw)
	}
	scaled := d.Shift(ReferenceDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q is finer than %d decimals", raw, ReferenceDecimals)
	}
	return scaled.BigInt(), nil
}

func loadJSON[T any](path string) (*T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg T
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadPools tolerates a missing file: the pool topology is optional.
func loadPools(path string) (*PoolsConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg PoolsConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
