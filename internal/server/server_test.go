package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"creatorpay/internal/config"
	"creatorpay/internal/engine"
	"creatorpay/internal/escrow"
	"creatorpay/internal/fees"
	"creatorpay/internal/hmacauth"
	"creatorpay/internal/idempotency"
	"creatorpay/internal/intentid"
	"creatorpay/internal/oracle"
	"creatorpay/internal/pay"
	"creatorpay/internal/refund"
	"creatorpay/internal/registry"
	"creatorpay/internal/sigmanager"
	"creatorpay/internal/store"
)

const (
	buyerSecret    = "buyer-secret"
	operatorSecret = "operator-secret"
)

var (
	issuerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	operatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	opsRoleAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	buyerAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	creatorAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	refTokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type testStack struct {
	srv *Server
	sig *sigmanager.Manager
	esc *escrow.FakeClient
	key *ecdsa.PrivateKey
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := &config.AppConfig{
		MinPayment: big.NewInt(1_000),
		MaxPayment: big.NewInt(1_000_000_000_000),
	}
	cfg.Seed.Secrets.BuyerHMACSecret = buyerSecret
	cfg.Seed.Secrets.OperatorHMACSecret = operatorSecret
	cfg.Service.HTTPPort = 0
	cfg.Service.HMACClockSkew = time.Minute
	cfg.Service.IntentDeadline = 15 * time.Minute
	cfg.Service.IdempotencyWindow = time.Hour
	cfg.Deployment.Issuer = issuerAddr.Hex()
	cfg.Deployment.Owner = ownerAddr.Hex()
	cfg.Deployment.Operator = operatorAddr.Hex()
	cfg.Deployment.OpsRole = opsRoleAddr.Hex()

	intents := store.NewMemoryStore()
	sig := sigmanager.New(issuerAddr, operatorAddr,
		sigmanager.NewSignerSet(ownerAddr, crypto.PubkeyToAddress(key.PublicKey)), intents)
	esc := escrow.NewFakeClient(issuerAddr)
	reg := registry.NewFakeRegistry()
	reg.SetCreator(creatorAddr, fees.CreatorStatus{Registered: true, Active: true})

	guard := &pay.Guard{}
	eng := engine.New(engine.Config{
		Issuer:         issuerAddr,
		Operator:       operatorAddr,
		ReferenceToken: refTokenAddr,
		PlatformFeeBps: 500,
		OperatorFeeBps: 50,
	}, engine.Deps{
		Guard:    guard,
		Intents:  intents,
		Pricing:  oracle.New(oracle.Config{ReferenceToken: refTokenAddr}, oracle.NewStaticQuoter(), nil),
		Sig:      sig,
		Escrow:   esc,
		Registry: reg,
		Access:   &registry.FakeAccessGranter{},
		Loyalty:  &registry.FakeLoyaltyNotifier{},
	})
	refunds := refund.NewManager(guard, intents, esc, issuerAddr, opsRoleAddr, nil)

	srv, err := NewServer(cfg, Deps{
		Engine:  eng,
		Sig:     sig,
		Refunds: refunds,
		Idem:    idempotency.NewMemoryStore(),
		Escrow:  esc,
		DLQPath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	return &testStack{srv: srv, sig: sig, esc: esc, key: key}
}

func (ts *testStack) do(t *testing.T, method, path, body, secret, idemKey string, operatorChannel bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if secret != "" {
		tsHeader := strconv.FormatInt(time.Now().Unix(), 10)
		sig := hmacauth.Sign(secret, tsHeader, []byte(body))
		if operatorChannel {
			req.Header.Set("X-Operator-Signature", sig)
			req.Header.Set("X-Operator-Timestamp", tsHeader)
		} else {
			req.Header.Set(hmacauth.DefaultSignatureHeader, sig)
			req.Header.Set(hmacauth.DefaultTimestampHeader, tsHeader)
		}
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testStack) createIntent(t *testing.T, idemKey string) intentid.ID {
	t.Helper()
	body := fmt.Sprintf(`{"buyer":%q,"creator":%q,"kind":"tip","payToken":%q,"amount":"5000000"}`,
		buyerAddr.Hex(), creatorAddr.Hex(), refTokenAddr.Hex())
	rec := ts.do(t, http.MethodPost, "/api/v1/intents", body, buyerSecret, idemKey, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create intent: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		IntentID string `json:"intentId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id, err := intentid.Parse(resp.IntentID)
	if err != nil {
		t.Fatalf("parse intent id: %v", err)
	}
	return id
}

func (ts *testStack) signIntent(t *testing.T, id intentid.ID) {
	t.Helper()
	rec0, err := ts.sig.Signature(context.Background(), id)
	if err != nil {
		t.Fatalf("signature lookup: %v", err)
	}
	raw, err := crypto.Sign(rec0.Hash.Bytes(), ts.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	body := fmt.Sprintf(`{"signature":"0x%x"}`, raw)
	rec := ts.do(t, http.MethodPost, "/api/v1/intents/"+id.String()+"/signature", body, operatorSecret, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("provide signature: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRejectsUnsignedRequests(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/intents", `{}`, "", "key-1", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no HMAC: %d", rec.Code)
	}

	// Operator endpoints reject the buyer secret.
	rec = ts.do(t, http.MethodPost, "/api/v1/completions", `{}`, buyerSecret, "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("buyer secret on operator channel: %d", rec.Code)
	}
}

func TestCreateIntentIdempotency(t *testing.T) {
	ts := newTestStack(t)
	body := fmt.Sprintf(`{"buyer":%q,"creator":%q,"kind":"tip","payToken":%q,"amount":"5000000"}`,
		buyerAddr.Hex(), creatorAddr.Hex(), refTokenAddr.Hex())

	first := ts.do(t, http.MethodPost, "/api/v1/intents", body, buyerSecret, "key-a", false)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}

	// Same key, same body: replayed response, no second intent.
	second := ts.do(t, http.MethodPost, "/api/v1/intents", body, buyerSecret, "key-a", false)
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}

	// Same key, different payload: conflict.
	other := fmt.Sprintf(`{"buyer":%q,"creator":%q,"kind":"donation","payToken":%q,"amount":"7000000"}`,
		buyerAddr.Hex(), creatorAddr.Hex(), refTokenAddr.Hex())
	conflict := ts.do(t, http.MethodPost, "/api/v1/intents", other, buyerSecret, "key-a", false)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("conflict: %d %s", conflict.Code, conflict.Body.String())
	}

	// Missing key is a bad request.
	missing := ts.do(t, http.MethodPost, "/api/v1/intents", body, buyerSecret, "", false)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("missing key: %d", missing.Code)
	}
}

func TestCreateIntentLimits(t *testing.T) {
	ts := newTestStack(t)
	body := fmt.Sprintf(`{"buyer":%q,"creator":%q,"kind":"tip","payToken":%q,"amount":"10"}`,
		buyerAddr.Hex(), creatorAddr.Hex(), refTokenAddr.Hex())
	rec := ts.do(t, http.MethodPost, "/api/v1/intents", body, buyerSecret, "key-low", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("below minimum: %d %s", rec.Code, rec.Body.String())
	}
}

func TestFullPaymentFlow(t *testing.T) {
	ts := newTestStack(t)
	id := ts.createIntent(t, "flow-1")

	// Unsigned execution is rejected.
	execBody := fmt.Sprintf(`{"caller":%q}`, buyerAddr.Hex())
	rec := ts.do(t, http.MethodPost, "/api/v1/intents/"+id.String()+"/execute", execBody, buyerSecret, "", false)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("execute before signature: %d %s", rec.Code, rec.Body.String())
	}

	ts.signIntent(t, id)

	rec = ts.do(t, http.MethodPost, "/api/v1/intents/"+id.String()+"/execute", execBody, buyerSecret, "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: %d %s", rec.Code, rec.Body.String())
	}
	var exec struct {
		Success     bool   `json:"success"`
		PaymentHash string `json:"paymentHash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &exec); err != nil {
		t.Fatalf("decode exec: %v", err)
	}
	if !exec.Success || exec.PaymentHash == "" {
		t.Fatalf("execution result: %+v", exec)
	}
	if ts.esc.Ledger().Status(common.HexToHash(exec.PaymentHash)) != escrow.StatusCaptured {
		t.Fatal("escrow not captured")
	}

	// Read-back shows the processed intent.
	rec = ts.do(t, http.MethodGet, "/api/v1/intents/"+id.String(), "", "", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("get intent: %d", rec.Code)
	}
	var got struct {
		Processed bool `json:"processed"`
		Succeeded bool `json:"succeeded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if !got.Processed || !got.Succeeded {
		t.Fatalf("intent state: %+v", got)
	}

	// Refund round trip.
	refundBody := fmt.Sprintf(`{"intentId":%q,"buyer":%q,"reason":"broken"}`, id, buyerAddr.Hex())
	rec = ts.do(t, http.MethodPost, "/api/v1/refunds", refundBody, buyerSecret, "refund-1", false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request refund: %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/v1/refunds/"+id.String()+"/process", `{}`, operatorSecret, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("process refund: %d %s", rec.Code, rec.Body.String())
	}
	if ts.esc.Ledger().Status(common.HexToHash(exec.PaymentHash)) != escrow.StatusRefunded {
		t.Fatal("escrow not refunded")
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestStack(t)

	unknown := intentid.Generate(buyerAddr, creatorAddr, 0, uint8(pay.KindTip), 99, issuerAddr)

	// Unknown intent: 404.
	rec := ts.do(t, http.MethodGet, "/api/v1/intents/"+unknown.String(), "", "", "", false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown intent: %d", rec.Code)
	}

	// Wrong caller on execute: 403.
	id := ts.createIntent(t, "err-1")
	ts.signIntent(t, id)
	body := fmt.Sprintf(`{"caller":%q}`, creatorAddr.Hex())
	rec = ts.do(t, http.MethodPost, "/api/v1/intents/"+id.String()+"/execute", body, buyerSecret, "", false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong caller: %d %s", rec.Code, rec.Body.String())
	}

	// Malformed id: 400.
	rec = ts.do(t, http.MethodGet, "/api/v1/intents/nonsense", "", "", "", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
}

func TestCompletionCallback(t *testing.T) {
	ts := newTestStack(t)
	id := ts.createIntent(t, "comp-1")
	ts.signIntent(t, id)

	body := fmt.Sprintf(`{"intentId":%q,"buyer":%q,"token":%q,"amount":"5000000","success":true}`,
		id, buyerAddr.Hex(), refTokenAddr.Hex())
	rec := ts.do(t, http.MethodPost, "/api/v1/completions", body, operatorSecret, "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("completion: %d %s", rec.Code, rec.Body.String())
	}

	// A second callback for the same intent conflicts and is not parked
	// in the DLQ.
	rec = ts.do(t, http.MethodPost, "/api/v1/completions", body, operatorSecret, "", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate completion: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndCounters(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", "", "", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}

	id := ts.createIntent(t, "counters-1")
	ts.signIntent(t, id)
	execBody := fmt.Sprintf(`{"caller":%q}`, buyerAddr.Hex())
	if rec := ts.do(t, http.MethodPost, "/api/v1/intents/"+id.String()+"/execute", execBody, buyerSecret, "", false); rec.Code != http.StatusOK {
		t.Fatalf("execute: %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/counters", "", "", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("counters: %d", rec.Code)
	}
	var counters map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &counters); err != nil {
		t.Fatalf("decode counters: %v", err)
	}
	if counters["paymentsSucceeded"] != "1" {
		t.Fatalf("counters: %v", counters)
	}
}
