// Package store persists payment intents and refund requests. Intents
// are append-only aside from the single processed flip and are never
// deleted; refunds keep the full history for audit.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
)

// Sentinel errors shared across backend implementations.
var (
	ErrDuplicateIntent    = errors.New("intent already stored")
	ErrDuplicateRefund    = errors.New("refund already requested")
	ErrDuplicateSignature = errors.New("signature record already exists")
)

// SignatureStore is the durable home of per-intent signing state. The
// signature manager is its only writer.
type SignatureStore interface {
	PutSignature(ctx context.Context, rec *pay.SignatureRecord) error
	GetSignature(ctx context.Context, id intentid.ID) (*pay.SignatureRecord, error)
	// MarkSigned records the one-shot operator signature; a second call
	// fails with pay.ErrAlreadySigned, an unknown id with pay.ErrNotFound.
	MarkSigned(ctx context.Context, id intentid.ID, signature []byte, signer common.Address, at time.Time) error
}

// IntentStore is the durable home of PaymentIntent, SignatureRecord and
// RefundRequest records. The settlement engine is the only writer of
// intents; the refund manager is the only writer of refund requests.
type IntentStore interface {
	PutIntent(ctx context.Context, intent *pay.PaymentIntent) error
	GetIntent(ctx context.Context, id intentid.ID) (*pay.PaymentIntent, error)
	// MarkProcessed flips the processed flag exactly once, recording the
	// outcome and the escrow hash of the executed payment; a second call
	// fails with pay.ErrAlreadyProcessed.
	MarkProcessed(ctx context.Context, id intentid.ID, success bool, escrowHash common.Hash, at time.Time) error

	SignatureStore

	PutRefund(ctx context.Context, req *pay.RefundRequest) error
	GetRefund(ctx context.Context, id intentid.ID) (*pay.RefundRequest, error)
	MarkRefundProcessed(ctx context.Context, id intentid.ID, at time.Time) error
}
