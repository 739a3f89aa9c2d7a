// Package server exposes the payment engine over HTTP. Two authenticated
// channels share the mux: the buyer channel (intent creation, execution,
// refund requests) and the operator channel (co-signatures, completion
// callbacks, refund processing), each behind its own HMAC secret.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"creatorpay/internal/config"
	"creatorpay/internal/engine"
	"creatorpay/internal/escrow"
	"creatorpay/internal/fees"
	"creatorpay/internal/hmacauth"
	"creatorpay/internal/idempotency"
	"creatorpay/internal/intentid"
	"creatorpay/internal/pay"
	"creatorpay/internal/refund"
	"creatorpay/internal/sigmanager"
	"creatorpay/internal/store"
)

type Server struct {
	cfg          *config.AppConfig
	engine       *engine.Engine
	sig          *sigmanager.Manager
	refunds      *refund.Manager
	idem         idempotency.Store
	buyerHMAC    *hmacauth.Verifier
	operatorHMAC *hmacauth.Verifier
	metrics      *metricsRegistry
	log          *zap.Logger
	httpServer   *http.Server
	dlqPath      string
	operator     common.Address
	opsRole      common.Address
	dbHealthFn   func(context.Context) error
	rpcHealthFn  func(context.Context) error
}

// Deps collects the server's collaborators.
type Deps struct {
	Engine  *engine.Engine
	Sig     *sigmanager.Manager
	Refunds *refund.Manager
	Idem    idempotency.Store
	Escrow  escrow.Authorizer
	Log     *zap.Logger
	DLQPath string
}

func NewServer(cfg *config.AppConfig, deps Deps) (*Server, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	operator, err := cfg.Deployment.Address("operator")
	if err != nil {
		return nil, err
	}
	opsRole, err := cfg.Deployment.Address("opsRole")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		sig:     deps.Sig,
		refunds: deps.Refunds,
		idem:    deps.Idem,
		buyerHMAC: &hmacauth.Verifier{
			Secret:  cfg.Seed.Secrets.BuyerHMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		operatorHMAC: &hmacauth.Verifier{
			Secret:          cfg.Seed.Secrets.OperatorHMACSecret,
			SignatureHeader: "X-Operator-Signature",
			TimestampHeader: "X-Operator-Timestamp",
			MaxSkew:         cfg.Service.HMACClockSkew,
		},
		metrics:  newMetricsRegistry(),
		log:      deps.Log,
		dlqPath:  deps.DLQPath,
		operator: operator,
		opsRole:  opsRole,
	}

	if checker, ok := deps.Idem.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Escrow.(escrow.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/intents", s.buyerHMAC.Middleware(http.HandlerFunc(s.handleCreateIntent)))
	mux.Handle("POST /api/v1/intents/{id}/signature", s.operatorHMAC.Middleware(http.HandlerFunc(s.handleProvideSignature)))
	mux.Handle("POST /api/v1/intents/{id}/execute", s.buyerHMAC.Middleware(http.HandlerFunc(s.handleExecute)))
	mux.Handle("POST /api/v1/completions", s.operatorHMAC.Middleware(http.HandlerFunc(s.handleCompletion)))
	mux.Handle("POST /api/v1/refunds", s.buyerHMAC.Middleware(http.HandlerFunc(s.handleRequestRefund)))
	mux.Handle("POST /api/v1/refunds/{id}/process", s.operatorHMAC.Middleware(http.HandlerFunc(s.handleProcessRefund)))
	mux.HandleFunc("GET /api/v1/intents/{id}", s.handleGetIntent)
	mux.HandleFunc("GET /api/v1/counters", s.handleCounters)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

// Handler exposes the full middleware stack for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createIntentRequest struct {
	Buyer     string `json:"buyer"`
	Creator   string `json:"creator"`
	SubjectID uint64 `json:"subjectId,omitempty"`
	Kind      string `json:"kind"`
	PayToken  string `json:"payToken"`
	Amount    string `json:"amount,omitempty"` // reference micro-units
	Deadline  int64  `json:"deadline,omitempty"`
}

type intentResponse struct {
	IntentID      string `json:"intentId"`
	Buyer         string `json:"buyer"`
	Creator       string `json:"creator"`
	Kind          string `json:"kind"`
	PayToken      string `json:"payToken"`
	TokenAmount   string `json:"tokenAmount"`
	CreatorAmount string `json:"creatorAmount"`
	PlatformFee   string `json:"platformFee"`
	OperatorFee   string `json:"operatorFee"`
	Deadline      int64  `json:"deadline"`
	Processed     bool   `json:"processed"`
	Succeeded     bool   `json:"succeeded"`
	Signed        bool   `json:"signed"`
}

func (s *Server) intentResponse(ctx context.Context, intent *pay.PaymentIntent) intentResponse {
	return intentResponse{
		IntentID:      intent.ID.String(),
		Buyer:         intent.Buyer.Hex(),
		Creator:       intent.Creator.Hex(),
		Kind:          intent.Kind.String(),
		PayToken:      intent.PayToken.Hex(),
		TokenAmount:   intent.TokenAmount.String(),
		CreatorAmount: intent.Split.Creator.String(),
		PlatformFee:   intent.Split.Platform.String(),
		OperatorFee:   intent.Split.Operator.String(),
		Deadline:      intent.Deadline.Unix(),
		Processed:     intent.Processed,
		Succeeded:     intent.Succeeded,
		Signed:        s.engine.SignatureReady(ctx, intent.ID),
	}
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		httpError(w, http.StatusBadRequest, "missing X-Idempotency-Key header")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	ctx := r.Context()

	if cached, err := idempotency.Check(ctx, s.idem, key, idempotency.HashRequest(body)); err != nil {
		s.metrics.incIntent("conflict")
		httpError(w, http.StatusConflict, err.Error())
		return
	} else if cached != nil {
		s.replay(w, cached)
		s.metrics.incIntent("cached")
		return
	}

	var payload createIntentRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	req, err := s.buildRequest(payload)
	if err != nil {
		s.metrics.incIntent("rejected")
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := s.engine.CreateIntent(ctx, req)
	if err != nil {
		s.metrics.incIntent("rejected")
		s.writeError(w, err)
		return
	}

	resp, _ := json.Marshal(s.intentResponse(ctx, intent))
	s.saveIdem(ctx, key, body, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
	s.metrics.incIntent("created")
}

// buildRequest converts the wire payload into a validated engine request.
// Amount limits from the seed file apply to the kinds that carry their
// own amount; content purchases are priced from the registry instead.
func (s *Server) buildRequest(payload createIntentRequest) (fees.Request, error) {
	buyer, err := parseAddr("buyer", payload.Buyer)
	if err != nil {
		return fees.Request{}, err
	}
	creator, err := parseAddr("creator", payload.Creator)
	if err != nil {
		return fees.Request{}, err
	}
	token, err := parseAddr("payToken", payload.PayToken)
	if err != nil {
		return fees.Request{}, err
	}
	kind, ok := pay.KindFromString(payload.Kind)
	if !ok {
		return fees.Request{}, fmt.Errorf("unknown payment kind %q", payload.Kind)
	}

	var amount *big.Int
	if payload.Amount != "" {
		var ok bool
		if amount, ok = new(big.Int).SetString(payload.Amount, 10); !ok {
			return fees.Request{}, fmt.Errorf("amount %q is not an integer", payload.Amount)
		}
		if s.cfg.MinPayment.Sign() > 0 && amount.Cmp(s.cfg.MinPayment) < 0 {
			return fees.Request{}, fmt.Errorf("amount below the minimum of %s", s.cfg.MinPayment)
		}
		if s.cfg.MaxPayment.Sign() > 0 && amount.Cmp(s.cfg.MaxPayment) > 0 {
			return fees.Request{}, fmt.Errorf("amount above the maximum of %s", s.cfg.MaxPayment)
		}
	}

	deadline := time.Now().Add(s.cfg.Service.IntentDeadline)
	if payload.Deadline != 0 {
		deadline = time.Unix(payload.Deadline, 0)
	}

	return fees.Request{
		Buyer:     buyer,
		Creator:   creator,
		SubjectID: payload.SubjectID,
		Kind:      kind,
		PayToken:  token,
		Amount:    amount,
		Deadline:  deadline,
	}, nil
}

type signatureRequest struct {
	Signature string `json:"signature"` // 0x-prefixed 65-byte hex
}

func (s *Server) handleProvideSignature(w http.ResponseWriter, r *http.Request) {
	id, err := intentid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	var payload signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(payload.Signature, "0x"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "signature is not hex")
		return
	}

	// The operator HMAC already authenticated this channel.
	if err := s.sig.ProvideSignature(r.Context(), id, sig, s.operator); err != nil {
		s.writeError(w, err)
		return
	}

	body, _ := json.Marshal(map[string]string{"intentId": id.String(), "status": "signed"})
	writeJSON(w, http.StatusOK, body)
}

type executeRequest struct {
	Caller string `json:"caller"`
}

type executeResponse struct {
	IntentID      string `json:"intentId"`
	Success       bool   `json:"success"`
	PaymentHash   string `json:"paymentHash,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, err := intentid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	var payload executeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	caller, err := parseAddr("caller", payload.Caller)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.ExecuteWithSignature(r.Context(), id, caller)
	if err != nil {
		s.metrics.incExecution("rejected")
		s.writeError(w, err)
		return
	}

	resp := executeResponse{
		IntentID:      result.IntentID.String(),
		Success:       result.Success,
		FailureReason: result.FailureReason,
	}
	if result.Success {
		resp.PaymentHash = result.PaymentHash.Hex()
		s.metrics.incExecution("succeeded")
	} else {
		s.metrics.incExecution("failed")
	}
	body, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, body)
}

type completionRequest struct {
	IntentID string `json:"intentId"`
	Buyer    string `json:"buyer"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var payload completionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	id, err := intentid.Parse(payload.IntentID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := parseAddr("buyer", payload.Buyer)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddr("token", payload.Token)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		httpError(w, http.StatusBadRequest, "amount is not an integer")
		return
	}

	if err := s.engine.ProcessCompletedPayment(r.Context(), id, buyer, token, amount, payload.Success, payload.Reason); err != nil {
		s.metrics.incCompletion("failed")
		if !errors.Is(err, pay.ErrAlreadyProcessed) {
			s.writeDLQ(payload, err)
		}
		s.writeError(w, err)
		return
	}

	body, _ := json.Marshal(map[string]string{"intentId": id.String(), "status": "processed"})
	writeJSON(w, http.StatusOK, body)
	s.metrics.incCompletion("processed")
	s.updateDLQDepth()
}

type refundRequest struct {
	IntentID string `json:"intentId"`
	Buyer    string `json:"buyer"`
	Reason   string `json:"reason"`
}

type refundResponse struct {
	IntentID  string `json:"intentId"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	Processed bool   `json:"processed"`
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		httpError(w, http.StatusBadRequest, "missing X-Idempotency-Key header")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	ctx := r.Context()

	if cached, err := idempotency.Check(ctx, s.idem, key, idempotency.HashRequest(body)); err != nil {
		s.metrics.incRefund("conflict")
		httpError(w, http.StatusConflict, err.Error())
		return
	} else if cached != nil {
		s.replay(w, cached)
		s.metrics.incRefund("cached")
		return
	}

	var payload refundRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	id, err := intentid.Parse(payload.IntentID)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := parseAddr("buyer", payload.Buyer)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := s.refunds.RequestRefund(ctx, id, buyer, payload.Reason)
	if err != nil {
		s.metrics.incRefund("rejected")
		s.writeError(w, err)
		return
	}

	resp, _ := json.Marshal(refundResponse{
		IntentID: req.IntentID.String(),
		Amount:   req.Amount.String(),
		Reason:   req.Reason,
	})
	s.saveIdem(ctx, key, body, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
	s.metrics.incRefund("requested")
}

func (s *Server) handleProcessRefund(w http.ResponseWriter, r *http.Request) {
	id, err := intentid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.refunds.ProcessRefund(r.Context(), id, s.opsRole); err != nil {
		s.metrics.incRefund("failed")
		s.writeError(w, err)
		return
	}

	body, _ := json.Marshal(map[string]string{"intentId": id.String(), "status": "refunded"})
	writeJSON(w, http.StatusOK, body)
	s.metrics.incRefund("processed")
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	id, err := intentid.Parse(r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	intent, err := s.engine.Intent(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body, _ := json.Marshal(s.intentResponse(r.Context(), intent))
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	ec := s.engine.Counters()
	rc := s.refunds.Counters()
	body, _ := json.Marshal(map[string]string{
		"intentsCreated":    strconv.FormatUint(ec.IntentsCreated, 10),
		"paymentsProcessed": strconv.FormatUint(ec.PaymentsProcessed, 10),
		"paymentsSucceeded": strconv.FormatUint(ec.PaymentsSucceeded, 10),
		"feesCollected":     ec.FeesCollected.String(),
		"refundsProcessed":  strconv.FormatUint(rc.RefundsProcessed, 10),
		"amountRefunded":    rc.AmountRefunded.String(),
	})
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	resp, _ := json.Marshal(struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		DLQDepth int         `json:"dlq_depth"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		DLQDepth: s.updateDLQDepth(),
	})
	writeJSON(w, code, resp)
}

// writeDLQ parks a completion callback that could not be applied, so an
// operator can inspect and replay it.
func (s *Server) writeDLQ(payload completionRequest, execErr error) {
	if s.dlqPath == "" {
		return
	}

	entry := struct {
		Timestamp time.Time         `json:"timestamp"`
		Payload   completionRequest `json:"payload"`
		Error     string            `json:"error"`
	}{
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Error:     execErr.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.log.Error("dlq marshal", zap.Error(err))
		return
	}
	if err := os.MkdirAll(s.dlqPath, 0o755); err != nil {
		s.log.Error("dlq mkdir", zap.Error(err))
		return
	}

	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), payload.IntentID)
	if err := os.WriteFile(filepath.Join(s.dlqPath, filename), data, 0o600); err != nil {
		s.log.Error("dlq write", zap.Error(err))
	}
	s.updateDLQDepth()
}

func (s *Server) updateDLQDepth() int {
	if s.dlqPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.dlqPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("dlq read", zap.Error(err))
		}
		return 0
	}
	s.metrics.setDLQDepth(len(entries))
	return len(entries)
}

func (s *Server) saveIdem(ctx context.Context, key string, body []byte, code int, resp []byte) {
	now := time.Now()
	rec := idempotency.Record{
		RequestHash: idempotency.HashRequest(body),
		StatusCode:  code,
		Response:    resp,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
	}
	if err := s.idem.Save(ctx, key, rec); err != nil {
		s.log.Error("idempotency save", zap.String("key", key), zap.Error(err))
	}
}

func (s *Server) replay(w http.ResponseWriter, rec *idempotency.Record) {
	writeJSON(w, rec.StatusCode, rec.Response)
}

// writeError maps engine error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pay.ErrNotFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pay.ErrUnauthorized):
		httpError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, pay.ErrAlreadyProcessed),
		errors.Is(err, pay.ErrAlreadySigned),
		errors.Is(err, store.ErrDuplicateIntent),
		errors.Is(err, store.ErrDuplicateRefund):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pay.ErrCallInProgress):
		httpError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, pay.ErrNoLiquidity),
		errors.Is(err, pay.ErrDeadlineExpired),
		errors.Is(err, pay.ErrInsufficientAuthorization),
		errors.Is(err, pay.ErrExcessiveSlippage):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pay.ErrInvalidRequest),
		errors.Is(err, pay.ErrInvalidCreator),
		errors.Is(err, pay.ErrInvalidContent):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		httpError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
			r.Header.Set("X-Request-Id", reqID)
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

func parseAddr(name, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, mustJSON(map[string]string{"error": msg}))
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
