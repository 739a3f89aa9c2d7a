package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
)

// MemoryStore keeps all records in process memory. Default backend for
// tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[intentid.ID]*pay.PaymentIntent
	sigs    map[intentid.ID]*pay.SignatureRecord
	refunds map[intentid.ID]*pay.RefundRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[intentid.ID]*pay.PaymentIntent),
		sigs:    make(map[intentid.ID]*pay.SignatureRecord),
		refunds: make(map[intentid.ID]*pay.RefundRequest),
	}
}

func (m *MemoryStore) PutIntent(_ context.Context, intent *pay.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIntent, intent.ID)
	}
	m.intents[intent.ID] = intent.Clone()
	return nil
}

func (m *MemoryStore) GetIntent(_ context.Context, id intentid.ID) (*pay.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: intent %s", pay.ErrNotFound, id)
	}
	return intent.Clone(), nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, id intentid.ID, success bool, escrowHash common.Hash, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return fmt.Errorf("%w: intent %s", pay.ErrNotFound, id)
	}
	if intent.Processed {
		return fmt.Errorf("%w: intent %s", pay.ErrAlreadyProcessed, id)
	}
	intent.Processed = true
	intent.Succeeded = success
	intent.EscrowHash = escrowHash
	intent.ProcessedAt = at
	return nil
}

func (m *MemoryStore) PutSignature(_ context.Context, rec *pay.SignatureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sigs[rec.IntentID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSignature, rec.IntentID)
	}
	m.sigs[rec.IntentID] = rec.Clone()
	return nil
}

func (m *MemoryStore) GetSignature(_ context.Context, id intentid.ID) (*pay.SignatureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sigs[id]
	if !ok {
		return nil, fmt.Errorf("%w: signature for intent %s", pay.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) MarkSigned(_ context.Context, id intentid.ID, signature []byte, signer common.Address, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sigs[id]
	if !ok {
		return fmt.Errorf("%w: signature for intent %s", pay.ErrNotFound, id)
	}
	if rec.Ready {
		return fmt.Errorf("%w: intent %s", pay.ErrAlreadySigned, id)
	}
	rec.Signature = append([]byte(nil), signature...)
	rec.Signer = signer
	rec.Ready = true
	rec.SignedAt = at
	return nil
}

func (m *MemoryStore) PutRefund(_ context.Context, req *pay.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[req.IntentID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRefund, req.IntentID)
	}
	m.refunds[req.IntentID] = req.Clone()
	return nil
}

func (m *MemoryStore) GetRefund(_ context.Context, id intentid.ID) (*pay.RefundRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.refunds[id]
	if !ok {
		return nil, fmt.Errorf("%w: refund for intent %s", pay.ErrNotFound, id)
	}
	return req.Clone(), nil
}

func (m *MemoryStore) MarkRefundProcessed(_ context.Context, id intentid.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.refunds[id]
	if !ok {
		return fmt.Errorf("%w: refund for intent %s", pay.ErrNotFound, id)
	}
	if req.Processed {
		return fmt.Errorf("%w: refund for intent %s", pay.ErrAlreadyProcessed, id)
	}
	req.Processed = true
	req.ProcessedAt = at
	return nil
}
