package escrow

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the escrow lifecycle position of a payment.
type Status uint8

const (
	StatusNone Status = iota
	StatusAuthorized
	StatusCaptured
	StatusVoided
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusAuthorized:
		return "authorized"
	case StatusCaptured:
		return "captured"
	case StatusVoided:
		return "voided"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Record is the stored state of one escrowed payment.
type Record struct {
	Payer    common.Address
	Receiver common.Address
	Amount   *big.Int
	Fee      *big.Int
	Status   Status
}

// Ledger tracks escrow records and enforces the legal transitions:
// None -> Authorized -> Captured, plus Authorized -> Voided and
// Captured -> Refunded. Everything else is rejected.
type Ledger struct {
	mu      sync.RWMutex
	records map[common.Hash]*Record
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[common.Hash]*Record)}
}

func (l *Ledger) Authorize(hash common.Hash, p Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[hash]; ok {
		return fmt.Errorf("escrow %s already exists", hash)
	}
	l.records[hash] = &Record{
		Payer:    p.Payer,
		Receiver: p.Receiver,
		Amount:   new(big.Int).Set(p.Amount),
		Fee:      new(big.Int).Set(p.Fee),
		Status:   StatusAuthorized,
	}
	return nil
}

func (l *Ledger) transition(hash common.Hash, from, to Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[hash]
	if !ok {
		return fmt.Errorf("escrow %s not found", hash)
	}
	if rec.Status != from {
		return fmt.Errorf("escrow %s is %s, cannot move to %s", hash, rec.Status, to)
	}
	rec.Status = to
	return nil
}

func (l *Ledger) Capture(hash common.Hash) error {
	return l.transition(hash, StatusAuthorized, StatusCaptured)
}

func (l *Ledger) Void(hash common.Hash) error {
	return l.transition(hash, StatusAuthorized, StatusVoided)
}

func (l *Ledger) Refund(hash common.Hash) error {
	return l.transition(hash, StatusCaptured, StatusRefunded)
}

// Status returns the lifecycle position for a payment hash. Unknown
// hashes report StatusNone.
func (l *Ledger) Status(hash common.Hash) Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[hash]
	if !ok {
		return StatusNone
	}
	return rec.Status
}

// Record returns a copy of the stored record, if any.
func (l *Ledger) Record(hash common.Hash) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[hash]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.Amount = new(big.Int).Set(rec.Amount)
	out.Fee = new(big.Int).Set(rec.Fee)
	return out, true
}
