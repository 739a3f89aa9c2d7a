// Package intentid derives the fixed-width identifiers that name payment
// intents. Identifiers are pure functions of their inputs so "was this
// intent already created" checks can be recomputed by any party.
package intentid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Size is the identifier width in bytes.
const Size = 16

// ID is a 16-byte intent identifier: the leading half of a Keccak-256
// digest over the intent's defining fields.
type ID [Size]byte

var zeroID ID

// Valid reports whether the id is usable. Only the all-zero pattern is
// invalid; every other bit pattern, including ones with leading or
// trailing zero bytes, is accepted. Loose on purpose: ids are hash
// outputs, so structure beyond non-zero carries no meaning.
func (id ID) Valid() bool {
	return id != zeroID
}

func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the id as a slice for hashing and wire encoding.
func (id ID) Bytes() []byte {
	return id[:]
}

// Parse decodes a 0x-prefixed 32-hex-digit identifier.
func Parse(s string) (ID, error) {
	if len(s) != 2+Size*2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return ID{}, fmt.Errorf("malformed intent id %q", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return ID{}, fmt.Errorf("malformed intent id %q: %w", s, err)
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// Generate maps the six defining inputs of an intent to its identifier.
// Identical inputs always produce the identical id; changing any single
// input changes the id. The issuer address salts the space so two engine
// deployments cannot mint colliding ids for the same request.
func Generate(buyer, counterparty common.Address, subjectID uint64, kind uint8, nonce uint64, issuer common.Address) ID {
	var subject, n [8]byte
	binary.BigEndian.PutUint64(subject[:], subjectID)
	binary.BigEndian.PutUint64(n[:], nonce)

	digest := crypto.Keccak256(
		buyer.Bytes(),
		counterparty.Bytes(),
		subject[:],
		[]byte{kind},
		n[:],
		issuer.Bytes(),
	)

	var id ID
	copy(id[:], digest[:Size])
	return id
}

// RefundID derives the identifier for a refund of an existing intent.
// Distinct from the original id and from refund ids of any other
// (original, requester, reason) tuple. The fixed tag keeps the refund id
// space disjoint from Generate's even on pathological inputs.
func RefundID(original ID, requester common.Address, reason string, issuer common.Address) ID {
	digest := crypto.Keccak256(
		[]byte("refund"),
		original[:],
		requester.Bytes(),
		[]byte(reason),
		issuer.Bytes(),
	)

	var id ID
	copy(id[:], digest[:Size])
	return id
}
