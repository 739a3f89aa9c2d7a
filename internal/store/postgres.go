package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
)

// PostgresStore persists intents and refunds in PostgreSQL. Monetary
// values travel as decimal strings so 2^128-scale amounts survive intact.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createIntentTablesSQL = `
CREATE TABLE IF NOT EXISTS payment_intents (
    id TEXT PRIMARY KEY,
    buyer TEXT NOT NULL,
    creator TEXT NOT NULL,
    subject_id BIGINT NOT NULL,
    kind SMALLINT NOT NULL,
    pay_token TEXT NOT NULL,
    token_amount TEXT NOT NULL,
    creator_amount TEXT NOT NULL,
    platform_fee TEXT NOT NULL,
    operator_fee TEXT NOT NULL,
    deadline TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    succeeded BOOLEAN NOT NULL DEFAULT FALSE,
    escrow_hash TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS intent_signatures (
    intent_id TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    signer TEXT NOT NULL DEFAULT '',
    ready BOOLEAN NOT NULL DEFAULT FALSE,
    signed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS refund_requests (
    intent_id TEXT PRIMARY KEY REFERENCES payment_intents(id),
    buyer TEXT NOT NULL,
    amount TEXT NOT NULL,
    creator_amount TEXT NOT NULL,
    platform_fee TEXT NOT NULL,
    operator_fee TEXT NOT NULL,
    reason TEXT NOT NULL,
    escrow_hash TEXT NOT NULL DEFAULT '',
    requested_at TIMESTAMPTZ NOT NULL,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    processed_at TIMESTAMPTZ
);
`

// NewPostgresStore connects using the DSN and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createIntentTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the connection pool so other stores can share it.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) PutIntent(ctx context.Context, intent *pay.PaymentIntent) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO payment_intents
  (id, buyer, creator, subject_id, kind, pay_token, token_amount,
   creator_amount, platform_fee, operator_fee, deadline, created_at,
   processed, succeeded)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, FALSE)
`,
		intent.ID.String(), intent.Buyer.Hex(), intent.Creator.Hex(),
		int64(intent.SubjectID), int16(intent.Kind), intent.PayToken.Hex(),
		intent.TokenAmount.String(), intent.Split.Creator.String(),
		intent.Split.Platform.String(), intent.Split.Operator.String(),
		intent.Deadline, intent.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateIntent, intent.ID)
	}
	return err
}

func (p *PostgresStore) GetIntent(ctx context.Context, id intentid.ID) (*pay.PaymentIntent, error) {
	row := p.pool.QueryRow(ctx, `
SELECT buyer, creator, subject_id, kind, pay_token, token_amount,
       creator_amount, platform_fee, operator_fee, deadline, created_at,
       processed, succeeded, escrow_hash, processed_at
FROM payment_intents
WHERE id = $1
`, id.String())

	var (
		buyer, creator, payToken                             string
		subjectID                                            int64
		kind                                                 int16
		tokenAmount, creatorAmount, platformFee, operatorFee string
		escrowHash                                           string
		processedAt                                          *time.Time
	)
	intent := &pay.PaymentIntent{ID: id}
	err := row.Scan(&buyer, &creator, &subjectID, &kind, &payToken,
		&tokenAmount, &creatorAmount, &platformFee, &operatorFee,
		&intent.Deadline, &intent.CreatedAt, &intent.Processed,
		&intent.Succeeded, &escrowHash, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: intent %s", pay.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	intent.Buyer = common.HexToAddress(buyer)
	intent.Creator = common.HexToAddress(creator)
	intent.SubjectID = uint64(subjectID)
	intent.Kind = pay.Kind(kind)
	intent.PayToken = common.HexToAddress(payToken)
	if escrowHash != "" {
		intent.EscrowHash = common.HexToHash(escrowHash)
	}
	if processedAt != nil {
		intent.ProcessedAt = *processedAt
	}

	if intent.TokenAmount, err = parseAmount(tokenAmount); err != nil {
		return nil, err
	}
	if intent.Split.Creator, err = parseAmount(creatorAmount); err != nil {
		return nil, err
	}
	if intent.Split.Platform, err = parseAmount(platformFee); err != nil {
		return nil, err
	}
	if intent.Split.Operator, err = parseAmount(operatorFee); err != nil {
		return nil, err
	}
	return intent, nil
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, id intentid.ID, success bool, escrowHash common.Hash, at time.Time) error {
	hashText := ""
	if escrowHash != (common.Hash{}) {
		hashText = escrowHash.Hex()
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE payment_intents
SET processed = TRUE, succeeded = $2, escrow_hash = $3, processed_at = $4
WHERE id = $1 AND processed = FALSE
`, id.String(), success, hashText, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// classifyMissedUpdate distinguishes "no such intent" from "already
// processed" after a guarded UPDATE matched nothing.
func (p *PostgresStore) classifyMissedUpdate(ctx context.Context, id intentid.ID) error {
	var processed bool
	err := p.pool.QueryRow(ctx,
		`SELECT processed FROM payment_intents WHERE id = $1`, id.String()).Scan(&processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: intent %s", pay.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: intent %s", pay.ErrAlreadyProcessed, id)
}

func (p *PostgresStore) PutSignature(ctx context.Context, rec *pay.SignatureRecord) error {
	sigText := ""
	if len(rec.Signature) > 0 {
		sigText = common.Bytes2Hex(rec.Signature)
	}
	var signedAt *time.Time
	if !rec.SignedAt.IsZero() {
		signedAt = &rec.SignedAt
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO intent_signatures
  (intent_id, hash, signature, signer, ready, signed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`,
		rec.IntentID.String(), rec.Hash.Hex(), sigText,
		rec.Signer.Hex(), rec.Ready, signedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateSignature, rec.IntentID)
	}
	return err
}

func (p *PostgresStore) GetSignature(ctx context.Context, id intentid.ID) (*pay.SignatureRecord, error) {
	row := p.pool.QueryRow(ctx, `
SELECT hash, signature, signer, ready, signed_at
FROM intent_signatures
WHERE intent_id = $1
`, id.String())

	var (
		hash, sigText, signer string
		signedAt              *time.Time
	)
	rec := &pay.SignatureRecord{IntentID: id}
	err := row.Scan(&hash, &sigText, &signer, &rec.Ready, &signedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: signature for intent %s", pay.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rec.Hash = common.HexToHash(hash)
	if sigText != "" {
		rec.Signature = common.Hex2Bytes(sigText)
	}
	if signer != "" {
		rec.Signer = common.HexToAddress(signer)
	}
	if signedAt != nil {
		rec.SignedAt = *signedAt
	}
	return rec, nil
}

func (p *PostgresStore) MarkSigned(ctx context.Context, id intentid.ID, signature []byte, signer common.Address, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE intent_signatures
SET signature = $2, signer = $3, ready = TRUE, signed_at = $4
WHERE intent_id = $1 AND ready = FALSE
`, id.String(), common.Bytes2Hex(signature), signer.Hex(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var ready bool
		err := p.pool.QueryRow(ctx,
			`SELECT ready FROM intent_signatures WHERE intent_id = $1`, id.String()).Scan(&ready)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: signature for intent %s", pay.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: intent %s", pay.ErrAlreadySigned, id)
	}
	return nil
}

func (p *PostgresStore) PutRefund(ctx context.Context, req *pay.RefundRequest) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO refund_requests
  (intent_id, buyer, amount, creator_amount, platform_fee, operator_fee,
   reason, escrow_hash, requested_at, processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
`,
		req.IntentID.String(), req.Buyer.Hex(), req.Amount.String(),
		req.Split.Creator.String(), req.Split.Platform.String(),
		req.Split.Operator.String(), req.Reason, refundHashText(req.EscrowHash), req.RequestedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateRefund, req.IntentID)
	}
	return err
}

func (p *PostgresStore) GetRefund(ctx context.Context, id intentid.ID) (*pay.RefundRequest, error) {
	row := p.pool.QueryRow(ctx, `
SELECT buyer, amount, creator_amount, platform_fee, operator_fee,
       reason, escrow_hash, requested_at, processed, processed_at
FROM refund_requests
WHERE intent_id = $1
`, id.String())

	var (
		buyer                                           string
		amount, creatorAmount, platformFee, operatorFee string
		escrowHash                                      string
		processedAt                                     *time.Time
	)
	req := &pay.RefundRequest{IntentID: id}
	err := row.Scan(&buyer, &amount, &creatorAmount, &platformFee,
		&operatorFee, &req.Reason, &escrowHash, &req.RequestedAt, &req.Processed, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: refund for intent %s", pay.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	req.Buyer = common.HexToAddress(buyer)
	if escrowHash != "" {
		req.EscrowHash = common.HexToHash(escrowHash)
	}
	if processedAt != nil {
		req.ProcessedAt = *processedAt
	}
	if req.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if req.Split.Creator, err = parseAmount(creatorAmount); err != nil {
		return nil, err
	}
	if req.Split.Platform, err = parseAmount(platformFee); err != nil {
		return nil, err
	}
	if req.Split.Operator, err = parseAmount(operatorFee); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *PostgresStore) MarkRefundProcessed(ctx context.Context, id intentid.ID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE refund_requests
SET processed = TRUE, processed_at = $2
WHERE intent_id = $1 AND processed = FALSE
`, id.String(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var processed bool
		err := p.pool.QueryRow(ctx,
			`SELECT processed FROM refund_requests WHERE intent_id = $1`, id.String()).Scan(&processed)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: refund for intent %s", pay.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: refund for intent %s", pay.ErrAlreadyProcessed, id)
	}
	return nil
}

func refundHashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed stored amount %q", s)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
