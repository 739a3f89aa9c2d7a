package pay

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creatorpay/internal/intentid"
)

// Kind classifies what a payment intent buys.
type Kind uint8

const (
	KindContentPurchase Kind = iota + 1
	KindSubscription
	KindTip
	KindDonation
)

// Valid reports whether k is one of the defined kinds. Numeric values
// outside the range are rejected at the boundary rather than propagated.
func (k Kind) Valid() bool {
	return k >= KindContentPurchase && k <= KindDonation
}

func (k Kind) String() string {
	switch k {
	case KindContentPurchase:
		return "content_purchase"
	case KindSubscription:
		return "subscription"
	case KindTip:
		return "tip"
	case KindDonation:
		return "donation"
	default:
		return "unknown"
	}
}

// KindFromString parses the wire representation of a payment kind.
func KindFromString(s string) (Kind, bool) {
	switch s {
	case "content_purchase":
		return KindContentPurchase, true
	case "subscription":
		return KindSubscription, true
	case "tip":
		return KindTip, true
	case "donation":
		return KindDonation, true
	default:
		return 0, false
	}
}

// Split is the three-way division of a settled amount in reference
// micro-units. Creator + Platform + Operator always equals the total the
// split was computed from; the flooring remainder lands on Creator.
type Split struct {
	Creator  *big.Int
	Platform *big.Int
	Operator *big.Int
}

// Total returns the sum of the three legs.
func (s Split) Total() *big.Int {
	total := new(big.Int).Add(s.Creator, s.Platform)
	return total.Add(total, s.Operator)
}

// Clone deep-copies the split so stored intents cannot be mutated through
// shared big.Int pointers.
func (s Split) Clone() Split {
	return Split{
		Creator:  new(big.Int).Set(s.Creator),
		Platform: new(big.Int).Set(s.Platform),
		Operator: new(big.Int).Set(s.Operator),
	}
}

// PaymentIntent is the record describing a requested payment before and
// after settlement. Immutable once created except for the processed flag,
// which flips exactly once. Intents are never deleted; refunds reference
// them long after execution.
type PaymentIntent struct {
	ID          intentid.ID
	Buyer       common.Address
	Creator     common.Address
	SubjectID   uint64 // content id, 0 for subscription/tip/donation
	Kind        Kind
	PayToken    common.Address
	TokenAmount *big.Int // expected amount in PayToken units
	Split       Split    // reference micro-units
	Deadline    time.Time
	CreatedAt   time.Time

	Processed   bool
	Succeeded   bool
	ProcessedAt time.Time
	// EscrowHash keys the escrow record created at execution. Zero for
	// intents settled out-of-band or whose authorization never landed.
	EscrowHash common.Hash
}

// Clone returns a defensive copy safe to hand out of a store.
func (p *PaymentIntent) Clone() *PaymentIntent {
	cp := *p
	cp.TokenAmount = new(big.Int).Set(p.TokenAmount)
	cp.Split = p.Split.Clone()
	return &cp
}

// SignatureRecord is the durable signing state of one intent: the
// canonical hash registered at preparation time and, once the operator
// has co-signed, the signature and recovered signer. Persisted alongside
// the intent so a restart cannot strand a prepared-but-unexecuted intent.
type SignatureRecord struct {
	IntentID  intentid.ID
	Hash      common.Hash
	Signature []byte
	Signer    common.Address
	Ready     bool
	SignedAt  time.Time
}

// Clone returns a defensive copy safe to hand out of a store.
func (s *SignatureRecord) Clone() *SignatureRecord {
	cp := *s
	cp.Signature = append([]byte(nil), s.Signature...)
	return &cp
}

// RefundRequest records a buyer's ask to reverse a processed intent. The
// amount is captured at request time so later fee-schedule changes cannot
// alter a pending refund.
type RefundRequest struct {
	IntentID    intentid.ID
	Buyer       common.Address
	Amount      *big.Int // total reference micro-units captured at request time
	Split       Split
	Reason      string
	EscrowHash  common.Hash // copied from the intent at request time
	RequestedAt time.Time
	Processed   bool
	ProcessedAt time.Time
}

// Clone returns a defensive copy safe to hand out of a store.
func (r *RefundRequest) Clone() *RefundRequest {
	cp := *r
	cp.Amount = new(big.Int).Set(r.Amount)
	cp.Split = r.Split.Clone()
	return &cp
}
