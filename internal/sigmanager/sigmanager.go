// Package sigmanager implements the two-party authorization protocol: an
// intent becomes executable only after the off-chain operator co-signs
// its canonical hash. One signature per intent, never replaced. Signing
// state is persisted through the signature store so a restart picks up
// prepared intents where it left off.
package sigmanager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
	"creatorpay/internal/store"
)

// SignatureLength is the expected [R || S || V] signature size.
const SignatureLength = 65

// hashDomain separates intent hashes from any other signed payload the
// operator key might touch.
const hashDomain = "CREATORPAY_INTENT_V1"

// Manager drives the Unprepared -> Prepared -> Signed state machine for
// every intent, with all state living in the signature store. The
// operator address is the only channel allowed to submit signatures;
// the signer set holds the keys allowed to produce them.
type Manager struct {
	issuer   common.Address
	operator common.Address
	signers  *SignerSet
	store    store.SignatureStore
}

func New(issuer, operator common.Address, signers *SignerSet, st store.SignatureStore) *Manager {
	return &Manager{
		issuer:   issuer,
		operator: operator,
		signers:  signers,
		store:    st,
	}
}

// IntentHash computes the canonical, domain-separated digest the
// operator signs. Every economically relevant field participates, so
// changing any one of them yields a different hash. Amounts are encoded
// as 32-byte big-endian words, times as unix seconds.
func (m *Manager) IntentHash(intent *pay.PaymentIntent) common.Hash {
	var deadline [8]byte
	binary.BigEndian.PutUint64(deadline[:], uint64(intent.Deadline.Unix()))

	total := intent.Split.Total()
	return crypto.Keccak256Hash(
		[]byte(hashDomain),
		m.issuer.Bytes(),
		intent.ID.Bytes(),
		intent.Buyer.Bytes(), // refund destination
		intent.Creator.Bytes(),
		intent.PayToken.Bytes(),
		common.LeftPadBytes(total.Bytes(), 32),
		common.LeftPadBytes(intent.Split.Platform.Bytes(), 32),
		common.LeftPadBytes(intent.Split.Operator.Bytes(), 32),
		deadline[:],
		m.operator.Bytes(),
	)
}

// Prepare registers the canonical hash for a freshly created intent and
// returns it. Re-preparing an intent that already holds an unsigned
// record with the same hash is a no-op, so a creation retry after a
// partial failure converges instead of erroring. A signed record, or a
// record whose hash no longer matches, cannot be re-prepared.
func (m *Manager) Prepare(ctx context.Context, intent *pay.PaymentIntent) (common.Hash, error) {
	hash := m.IntentHash(intent)
	err := m.store.PutSignature(ctx, &pay.SignatureRecord{IntentID: intent.ID, Hash: hash})
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, store.ErrDuplicateSignature) {
		return common.Hash{}, err
	}

	existing, getErr := m.store.GetSignature(ctx, intent.ID)
	if getErr != nil {
		return common.Hash{}, getErr
	}
	if !existing.Ready && existing.Hash == hash {
		return hash, nil
	}
	return common.Hash{}, fmt.Errorf("%w: intent %s already prepared", pay.ErrAlreadySigned, intent.ID)
}

// ProvideSignature records the operator co-signature for a prepared
// intent. The caller must be the designated operator channel, the
// signature must be exactly 65 bytes, the recovered key must be in the
// signer set, and the intent must not already hold a signature. This is
// one-shot authorization, not a mutable field.
func (m *Manager) ProvideSignature(ctx context.Context, id intentid.ID, sig []byte, caller common.Address) error {
	if caller != m.operator {
		return fmt.Errorf("%w: %s is not the operator channel", pay.ErrUnauthorized, caller)
	}
	if len(sig) != SignatureLength {
		return fmt.Errorf("%w: signature length %d, want %d", pay.ErrInvalidRequest, len(sig), SignatureLength)
	}

	rec, err := m.store.GetSignature(ctx, id)
	if err != nil {
		return err
	}
	if rec.Ready {
		return fmt.Errorf("%w: intent %s", pay.ErrAlreadySigned, id)
	}

	signer, err := recoverSigner(rec.Hash, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", pay.ErrUnauthorized, err)
	}
	if !m.signers.Contains(signer) {
		return fmt.Errorf("%w: recovered signer %s not authorized", pay.ErrUnauthorized, signer)
	}

	return m.store.MarkSigned(ctx, id, sig, signer, time.Now().UTC())
}

// IsReady reports whether the intent holds a valid operator signature.
func (m *Manager) IsReady(ctx context.Context, id intentid.ID) bool {
	rec, err := m.store.GetSignature(ctx, id)
	return err == nil && rec.Ready
}

// Signature returns the signing record for an intent.
func (m *Manager) Signature(ctx context.Context, id intentid.ID) (*pay.SignatureRecord, error) {
	return m.store.GetSignature(ctx, id)
}

// recoverSigner extracts the signing address from a 65-byte signature
// over digest. Accepts both 0/1 and 27/28 recovery id encodings.
func recoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
