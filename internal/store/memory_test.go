package store

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
)

func sampleIntent() *pay.PaymentIntent {
	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	creator := common.HexToAddress("0x2222222222222222222222222222222222222222")
	issuer := common.HexToAddress("0x3333333333333333333333333333333333333333")
	return &pay.PaymentIntent{
		ID:          intentid.Generate(buyer, creator, 7, uint8(pay.KindContentPurchase), 1, issuer),
		Buyer:       buyer,
		Creator:     creator,
		SubjectID:   7,
		Kind:        pay.KindContentPurchase,
		PayToken:    common.HexToAddress("0x4444444444444444444444444444444444444444"),
		TokenAmount: big.NewInt(2_000_000),
		Split: pay.Split{
			Creator:  big.NewInt(945_000),
			Platform: big.NewInt(50_000),
			Operator: big.NewInt(5_000),
		},
		Deadline:  time.Unix(1_800_000_000, 0),
		CreatedAt: time.Unix(1_700_000_000, 0),
	}
}

func TestMemoryStoreIntentLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	intent := sampleIntent()

	if _, err := s.GetIntent(ctx, intent.ID); !errors.Is(err, pay.ErrNotFound) {
		t.Fatalf("missing intent: got %v", err)
	}

	if err := s.PutIntent(ctx, intent); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutIntent(ctx, intent); !errors.Is(err, ErrDuplicateIntent) {
		t.Fatalf("duplicate put: got %v", err)
	}

	got, err := s.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Processed {
		t.Fatal("fresh intent reported processed")
	}

	// The store hands out copies; mutating one must not leak back.
	got.Split.Creator.SetInt64(1)
	again, _ := s.GetIntent(ctx, intent.ID)
	if again.Split.Creator.Int64() != 945_000 {
		t.Fatal("stored intent mutated through returned copy")
	}

	at := time.Unix(1_700_000_500, 0)
	escrowHash := common.HexToHash("0xabcdef")
	if err := s.MarkProcessed(ctx, intent.ID, true, escrowHash, at); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := s.MarkProcessed(ctx, intent.ID, true, escrowHash, at); !errors.Is(err, pay.ErrAlreadyProcessed) {
		t.Fatalf("second mark: got %v", err)
	}

	got, _ = s.GetIntent(ctx, intent.ID)
	if !got.Processed || !got.Succeeded || !got.ProcessedAt.Equal(at) || got.EscrowHash != escrowHash {
		t.Fatalf("processed state not recorded: %+v", got)
	}
}

func TestMemoryStoreMarkProcessedUnknown(t *testing.T) {
	s := NewMemoryStore()
	var id intentid.ID
	id[3] = 0x09
	if err := s.MarkProcessed(context.Background(), id, false, common.Hash{}, time.Now()); !errors.Is(err, pay.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestMemoryStoreSignatureLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	intent := sampleIntent()

	rec := &pay.SignatureRecord{
		IntentID: intent.ID,
		Hash:     common.HexToHash("0x5555"),
	}

	if _, err := s.GetSignature(ctx, intent.ID); !errors.Is(err, pay.ErrNotFound) {
		t.Fatalf("missing signature: got %v", err)
	}

	if err := s.PutSignature(ctx, rec); err != nil {
		t.Fatalf("put signature: %v", err)
	}
	if err := s.PutSignature(ctx, rec); !errors.Is(err, ErrDuplicateSignature) {
		t.Fatalf("duplicate signature record: got %v", err)
	}

	signer := common.HexToAddress("0x6666666666666666666666666666666666666666")
	sig := make([]byte, 65)
	sig[64] = 27
	at := time.Unix(1_700_003_000, 0)

	var unknown intentid.ID
	unknown[5] = 0x0c
	if err := s.MarkSigned(ctx, unknown, sig, signer, at); !errors.Is(err, pay.ErrNotFound) {
		t.Fatalf("mark unknown: got %v", err)
	}
	if err := s.MarkSigned(ctx, intent.ID, sig, signer, at); err != nil {
		t.Fatalf("mark signed: %v", err)
	}
	if err := s.MarkSigned(ctx, intent.ID, sig, signer, at); !errors.Is(err, pay.ErrAlreadySigned) {
		t.Fatalf("second mark signed: got %v", err)
	}

	got, err := s.GetSignature(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get signature: %v", err)
	}
	if !got.Ready || got.Signer != signer || len(got.Signature) != 65 || !got.SignedAt.Equal(at) {
		t.Fatalf("signed state: %+v", got)
	}

	// Returned records are copies.
	got.Signature[0] = 0xff
	again, _ := s.GetSignature(ctx, intent.ID)
	if again.Signature[0] != 0 {
		t.Fatal("stored signature mutated through returned copy")
	}
}

func TestMemoryStoreRefundLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	intent := sampleIntent()

	req := &pay.RefundRequest{
		IntentID:    intent.ID,
		Buyer:       intent.Buyer,
		Amount:      intent.Split.Total(),
		Split:       intent.Split.Clone(),
		Reason:      "content unavailable",
		RequestedAt: time.Unix(1_700_001_000, 0),
	}

	if _, err := s.GetRefund(ctx, intent.ID); !errors.Is(err, pay.ErrNotFound) {
		t.Fatalf("missing refund: got %v", err)
	}

	if err := s.PutRefund(ctx, req); err != nil {
		t.Fatalf("put refund: %v", err)
	}
	if err := s.PutRefund(ctx, req); !errors.Is(err, ErrDuplicateRefund) {
		t.Fatalf("duplicate refund: got %v", err)
	}

	at := time.Unix(1_700_002_000, 0)
	if err := s.MarkRefundProcessed(ctx, intent.ID, at); err != nil {
		t.Fatalf("mark refund: %v", err)
	}
	if err := s.MarkRefundProcessed(ctx, intent.ID, at); !errors.Is(err, pay.ErrAlreadyProcessed) {
		t.Fatalf("second mark refund: got %v", err)
	}

	got, err := s.GetRefund(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get refund: %v", err)
	}
	if !got.Processed || got.Amount.Int64() != 1_000_000 {
		t.Fatalf("refund state: %+v", got)
	}
}
