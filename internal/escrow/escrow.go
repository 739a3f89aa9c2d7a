// Package escrow is the capability boundary to the settlement backend
// that actually holds and moves funds. The engine depends only on the
// Authorizer interface; the concrete backend is injected so tests run
// against the in-memory fake.
package escrow

import (
	"context"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Payment describes one escrowed transfer.
type Payment struct {
	Payer     common.Address
	Receiver  common.Address
	Amount    *big.Int // reference micro-units owed to the receiver
	Fee       *big.Int // reference micro-units withheld from the payer
	Nonce     uint64
	Timestamp time.Time
}

// Authorizer is the escrow primitive. Authorize places funds in escrow
// and returns the payment hash that keys the rest of the lifecycle;
// Capture finalizes, Void releases an uncaptured authorization back to
// the payer, Refund reverses a captured payment.
type Authorizer interface {
	Authorize(ctx context.Context, p Payment) (common.Hash, error)
	Capture(ctx context.Context, paymentHash common.Hash) error
	Void(ctx context.Context, paymentHash common.Hash) error
	Refund(ctx context.Context, paymentHash common.Hash) error
}

// HealthChecker is implemented by backends that can report liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PaymentHash derives the escrow key for a payment. Distinct from the
// intent id: it binds the monetary legs, nonce, timestamp and the issuing
// contract identity.
func PaymentHash(p Payment, issuer common.Address) common.Hash {
	var nonce, ts [8]byte
	binary.BigEndian.PutUint64(nonce[:], p.Nonce)
	binary.BigEndian.PutUint64(ts[:], uint64(p.Timestamp.Unix()))

	return crypto.Keccak256Hash(
		p.Payer.Bytes(),
		p.Receiver.Bytes(),
		common.LeftPadBytes(p.Amount.Bytes(), 32),
		common.LeftPadBytes(p.Fee.Bytes(), 32),
		nonce[:],
		ts[:],
		issuer.Bytes(),
	)
}
