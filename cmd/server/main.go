package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"creatorpay/internal/config"
	"creatorpay/internal/engine"
	"creatorpay/internal/escrow"
	"creatorpay/internal/idempotency"
	"creatorpay/internal/oracle"
	"creatorpay/internal/pay"
	"creatorpay/internal/refund"
	"creatorpay/internal/registry"
	"creatorpay/internal/server"
	"creatorpay/internal/sigmanager"
	"creatorpay/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx := context.Background()

	issuer, err := cfg.Deployment.Address("issuer")
	if err != nil {
		logger.Fatal("deployment manifest", zap.Error(err))
	}
	owner, err := cfg.Deployment.Address("owner")
	if err != nil {
		logger.Fatal("deployment manifest", zap.Error(err))
	}
	operator, err := cfg.Deployment.Address("operator")
	if err != nil {
		logger.Fatal("deployment manifest", zap.Error(err))
	}
	opsRole, err := cfg.Deployment.Address("opsRole")
	if err != nil {
		logger.Fatal("deployment manifest", zap.Error(err))
	}

	var (
		intents store.IntentStore
		idem    idempotency.Store
	)
	if cfg.Service.PostgresURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Service.PostgresURL)
		if err != nil {
			logger.Fatal("postgres store", zap.Error(err))
		}
		defer pg.Close()
		pgIdem, err := idempotency.NewPostgresStore(ctx, pg.Pool())
		if err != nil {
			logger.Fatal("postgres idempotency store", zap.Error(err))
		}
		intents, idem = pg, pgIdem
		logger.Info("using postgres stores")
	} else {
		intents = store.NewMemoryStore()
		idem = idempotency.NewMemoryStore()
		logger.Info("using in-memory stores")
	}

	var esc escrow.Authorizer = escrow.NewFakeClient(issuer)
	if cfg.Chain.PrivateKey != "" {
		ethEscrow, err := escrow.NewEthClient(ctx, escrow.EthClientConfig{
			RPCURL:         cfg.Chain.RPCURL,
			PrivateKeyHex:  cfg.Chain.PrivateKey,
			EscrowContract: cfg.Deployment.Contracts.Escrow,
		})
		if err != nil {
			logger.Fatal("escrow client", zap.Error(err))
		}
		esc = ethEscrow
		logger.Info("escrow transactions enabled", zap.String("contract", cfg.Deployment.Contracts.Escrow))
	}

	var quoter oracle.Quoter = oracle.NewStaticQuoter()
	if cfg.Deployment.Contracts.Quoter != "" && cfg.Chain.RPCURL != "" {
		ethQuoter, err := oracle.NewEthQuoter(ctx, oracle.EthQuoterConfig{
			RPCURL:         cfg.Chain.RPCURL,
			QuoterContract: cfg.Deployment.Contracts.Quoter,
		})
		if err != nil {
			logger.Fatal("quoter client", zap.Error(err))
		}
		quoter = ethQuoter
	}

	sig := sigmanager.New(issuer, operator, sigmanager.NewSignerSet(owner, operator), intents)
	guard := &pay.Guard{}

	// In-memory registry until the creator registry service is wired up.
	reg := registry.NewFakeRegistry()

	eng := engine.New(engine.Config{
		Issuer:         issuer,
		Operator:       operator,
		ReferenceToken: cfg.Oracle.ReferenceToken,
		PlatformFeeBps: cfg.Seed.Fees.PlatformBps,
		OperatorFeeBps: cfg.Seed.Fees.OperatorBps,
		MaxSlippageBps: cfg.Seed.Pricing.MaxSlippageBps,
	}, engine.Deps{
		Guard:    guard,
		Intents:  intents,
		Pricing:  oracle.New(cfg.Oracle, quoter, logger),
		Sig:      sig,
		Escrow:   esc,
		Registry: reg,
		Access:   &registry.FakeAccessGranter{},
		Loyalty:  &registry.FakeLoyaltyNotifier{},
		Log:      logger,
	})
	refunds := refund.NewManager(guard, intents, esc, issuer, opsRole, logger)

	apiServer, err := server.NewServer(cfg, server.Deps{
		Engine:  eng,
		Sig:     sig,
		Refunds: refunds,
		Idem:    idem,
		Escrow:  esc,
		Log:     logger,
		DLQPath: os.Getenv("DLQ_PATH"),
	})
	if err != nil {
		logger.Fatal("server setup", zap.Error(err))
	}

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Warn("server stopped", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
