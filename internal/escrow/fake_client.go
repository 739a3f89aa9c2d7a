package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// FakeClient backs the Authorizer interface with an in-memory ledger.
// Used in tests and when the service runs without a chain endpoint.
// Failure of specific payers can be forced to exercise error paths.
type FakeClient struct {
	issuer common.Address
	ledger *Ledger

	// FailPayer makes Authorize fail for this payer, simulating an
	// escrow backend rejection (insufficient funds, frozen account).
	FailPayer common.Address
	// FailCapture makes every Capture fail after a successful Authorize.
	FailCapture bool
}

func NewFakeClient(issuer common.Address) *FakeClient {
	return &FakeClient{issuer: issuer, ledger: NewLedger()}
}

// Ledger exposes the backing ledger so tests can assert on escrow state.
func (f *FakeClient) Ledger() *Ledger {
	return f.ledger
}

func (f *FakeClient) Authorize(_ context.Context, p Payment) (common.Hash, error) {
	if p.Payer == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("missing payer address")
	}
	if f.FailPayer != (common.Address{}) && p.Payer == f.FailPayer {
		return common.Hash{}, fmt.Errorf("escrow backend rejected payer %s", p.Payer)
	}

	hash := PaymentHash(p, f.issuer)
	if err := f.ledger.Authorize(hash, p); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (f *FakeClient) Capture(_ context.Context, paymentHash common.Hash) error {
	if f.FailCapture {
		return fmt.Errorf("escrow backend capture failure")
	}
	return f.ledger.Capture(paymentHash)
}

func (f *FakeClient) Void(_ context.Context, paymentHash common.Hash) error {
	return f.ledger.Void(paymentHash)
}

func (f *FakeClient) Refund(_ context.Context, paymentHash common.Hash) error {
	return f.ledger.Refund(paymentHash)
}

func (f *FakeClient) Ping(context.Context) error {
	return nil
}
