package apiv1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/security"
	"inapp-token-ledger/internal/usecase"
)

// Server exposes the token ledger use cases over JSON.
type Server struct {
	balance  usecase.BalanceUseCase
	ledger   usecase.LedgerUseCase
	purchase usecase.PurchaseUseCase
	subs     usecase.SubscriptionUseCase
	refill   usecase.RefillUseCase
	tokens   usecase.TokenUseCase
	auth     *security.TokenIssuer // nil disables auth
	log      *zerolog.Logger
}

func NewServer(
	balance usecase.BalanceUseCase,
	ledger usecase.LedgerUseCase,
	purchase usecase.PurchaseUseCase,
	subs usecase.SubscriptionUseCase,
	refill usecase.RefillUseCase,
	tokens usecase.TokenUseCase,
	logger *zerolog.Logger,
) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Server{
		balance:  balance,
		ledger:   ledger,
		purchase: purchase,
		subs:     subs,
		refill:   refill,
		tokens:   tokens,
		log:      logger,
	}
}

// WithAuth requires bearer tokens from issuer on every route.
func (s *Server) WithAuth(issuer *security.TokenIssuer) *Server {
	s.auth = issuer
	return s
}

// RegisterAPIV1 mounts every /api/v1 route on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Use(accountLogContext, s.requireAccount)
			r.Get("/balance", s.getBalance)
			r.Get("/transactions", s.listTransactions)
			r.Post("/transactions/{txID}/refund", s.refundSpend)
			r.Post("/spend", s.spendTokens)
			r.Post("/initial-balance", s.grantInitialBalance)

			r.Post("/purchases", s.initPurchase)
			r.Get("/purchases/{orderID}", s.getOrder)
			r.Post("/purchases/{orderID}/complete", s.completePurchase)
			r.Post("/purchases/{orderID}/refund", s.refundStoreOrder)

			r.Get("/subscriptions", s.listSubscriptions)
			r.Delete("/subscriptions", s.cancelSubscriptions)
			r.Post("/subscriptions/renew", s.renewSubscriptionTokens)
		})
		r.With(s.requireAdmin).Post("/admin/refill-daily", s.batchRefill)
	})
}

// ---- DTOs ----

type BalanceResponse struct {
	AccountID                    int64      `json:"account_id"`
	Total                        int64      `json:"total"`
	DailyTokens                  int64      `json:"daily_tokens"`
	SubscriptionTokens           int64      `json:"subscription_tokens"`
	PermanentTokens              int64      `json:"permanent_tokens"`
	MaxDailyTokens               int64      `json:"max_daily_tokens"`
	MaxSubscriptionTokens        *int64     `json:"max_subscription_tokens"`
	ActiveSubscriptionTitle      string     `json:"active_subscription_title,omitempty"`
	NextSubscriptionTokenRefresh *time.Time `json:"next_subscription_token_refresh,omitempty"`
	NextDailyTokenRefresh        time.Time  `json:"next_daily_token_refresh"`
}

type Transaction struct {
	ID             int64     `json:"id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	CreatedAt      time.Time `json:"created_at"`
	SubscriptionID *int64    `json:"subscription_id,omitempty"`
	OrderID        *string   `json:"order_id,omitempty"`
	Reference      string    `json:"reference,omitempty"`
}

type Order struct {
	ID                   string          `json:"id"`
	OfferKey             string          `json:"offer_key"`
	ClientCurrency       string          `json:"client_currency"`
	ClientPrice          decimal.Decimal `json:"client_price"`
	IsPending            bool            `json:"is_pending"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Platform             string          `json:"platform,omitempty"`
	StoreOrderIdentifier string          `json:"store_order_identifier,omitempty"`
	Environment          string          `json:"environment,omitempty"`
	ErrorCode            string          `json:"error_code,omitempty"`
	WasRefunded          bool            `json:"was_refunded"`
}

type Subscription struct {
	ID               int64      `json:"id"`
	ProductID        int64      `json:"product_id"`
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	DailyAllotment   int64      `json:"daily_allotment"`
	MonthlyAllotment int64      `json:"monthly_allotment"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type initPurchaseRequest struct {
	OfferKey string          `json:"offer_key"`
	Currency string          `json:"currency"`
	Price    decimal.Decimal `json:"price"`
}

type completePurchaseRequest struct {
	Platform        string `json:"platform"`
	TransactionData string `json:"transaction_data"`
}

type spendRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type grantRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func toBalance(accountID int64, v *model.BalanceView) BalanceResponse {
	return BalanceResponse{
		AccountID:                    accountID,
		Total:                        v.Total,
		DailyTokens:                  v.Daily,
		SubscriptionTokens:           v.Subscription,
		PermanentTokens:              v.Permanent,
		MaxDailyTokens:               v.MaxDailyTokens,
		MaxSubscriptionTokens:        v.MaxSubscriptionTokens,
		ActiveSubscriptionTitle:      v.ActiveSubscriptionTitle,
		NextSubscriptionTokenRefresh: v.NextSubscriptionTokenRefresh,
		NextDailyTokenRefresh:        v.NextDailyTokenRefresh,
	}
}

func toOrder(o *model.PendingOrder) Order {
	return Order{
		ID:                   o.ID,
		OfferKey:             o.OfferKey,
		ClientCurrency:       o.ClientCurrency,
		ClientPrice:          o.ClientPrice,
		IsPending:            o.IsPending,
		CreatedAt:            o.CreatedAt,
		CompletedAt:          o.CompletedAt,
		Platform:             string(o.Platform),
		StoreOrderIdentifier: o.StoreOrderIdentifier,
		Environment:          o.Environment,
		ErrorCode:            o.ErrorCode,
		WasRefunded:          o.WasRefunded,
	}
}

// ---- handlers ----

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	v, err := s.balance.GetBalance(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(accountID, v))
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	txs, err := s.ledger.History(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		items = append(items, Transaction{
			ID:             t.ID,
			Kind:           string(t.Kind),
			Amount:         t.Amount,
			CreatedAt:      t.CreatedAt,
			SubscriptionID: t.SubscriptionID,
			OrderID:        t.OrderID,
			Reference:      t.Reference,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) spendTokens(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req spendRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.tokens.Spend(r.Context(), accountID, req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"transaction_id": id})
}

func (s *Server) refundSpend(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil || txID <= 0 {
		s.writeError(w, r, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument))
		return
	}
	id, err := s.tokens.RefundSpend(r.Context(), accountID, txID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"transaction_id": id})
}

func (s *Server) grantInitialBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	granted, err := s.tokens.GrantInitialBalance(r.Context(), accountID, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (s *Server) initPurchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req initPurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	orderID, err := s.purchase.InitPurchase(r.Context(), accountID, req.OfferKey, req.Currency, req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"order_id": orderID})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	o, err := s.purchase.GetOrder(r.Context(), accountID, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (s *Server) completePurchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	var req completePurchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		s.writeError(w, r, domain.NewAppError(domain.CodeInvalidArgument, err))
		return
	}
	ctx := r.Context()
	if err := s.purchase.CompletePurchase(ctx, accountID, chi.URLParam(r, "orderID"), platform, req.TransactionData); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.balance.GetBalance(ctx, accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(accountID, v))
}

func (s *Server) refundStoreOrder(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	id, err := s.tokens.RefundStoreOrder(r.Context(), accountID, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"transaction_id": id})
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	subs, err := s.subs.History(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		items = append(items, Subscription{
			ID:               sub.ID,
			ProductID:        sub.ProductID,
			Title:            sub.Title,
			Status:           string(sub.Status),
			DailyAllotment:   sub.DailyAllotment,
			MonthlyAllotment: sub.MonthlyAllotment,
			StartedAt:        sub.StartedAt,
			CompletedAt:      sub.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) cancelSubscriptions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	if err := s.subs.CancelAllSubscriptions(r.Context(), accountID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renewSubscriptionTokens(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.accountID(w, r)
	if !ok {
		return
	}
	v, err := s.subs.RenewSubscriptionTokens(r.Context(), accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalance(accountID, v))
}

func (s *Server) batchRefill(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	report, err := s.refill.RefillBatch(r.Context(), dryRun)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- helpers ----

func (s *Server) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: domain.CodeInvalidArgument, Error: "invalid account id"})
		return 0, false
	}
	return id, true
}

// accountLogContext tags the request logger with the path account id.
func accountLogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64); err == nil {
			r = r.WithContext(logging.WithAccountID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: domain.CodeInvalidArgument, Error: "missing body"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: domain.CodeInvalidArgument, Error: "invalid request body"})
		return false
	}
	return true
}

// requireAccount admits admin tokens and account tokens minted for the path account.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := s.auth.FromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
		if claims.Role != security.RoleAdmin &&
			strconv.FormatInt(claims.AccountID(), 10) != chi.URLParam(r, "accountID") {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := s.auth.FromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}
		if claims.Role != security.RoleAdmin {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusOf maps a use case error to its HTTP status.
func statusOf(err error) int {
	switch {
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInsufficientTokens):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidPendingOrder),
		errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNotPending),
		errors.Is(err, domain.ErrStoreOrderReused),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrInvalidReceipt),
		errors.Is(err, domain.ErrReceiptProductMatch):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Code: domain.CodeOf(err), Error: err.Error()}
	if status == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
