/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the settlement engine.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gigvault/wallet-service/internal/app"
	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/gigvault/wallet-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateLimiter is the subset of the redis limiter the handlers need. The limiter
// owns its limit and window; handlers only ask for a decision.
type RateLimiter interface {
	Consume(ctx context.Context, scope, subject string) (allowed bool, retryAfterSeconds int, err error)
}

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
	limiter RateLimiter
}

// NewWalletHandlers creates a new instance of WalletHandlers. limiter may be nil,
// in which case lifecycle rate limiting is disabled.
func NewWalletHandlers(service *app.Service, limiter RateLimiter) *WalletHandlers {
	return &WalletHandlers{
		service: service,
		limiter: limiter,
	}
}

type amountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type createOrderRequest struct {
	GroupID     string          `json:"group_id"`
	ServiceType string          `json:"service_type"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type transactionResponse struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Description   string `json:"description"`
}

// authorizeAccount checks that the authenticated caller owns the account in the path.
func (h *WalletHandlers) authorizeAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := chi.URLParam(r, "accountID")
	caller, ok := GetAuthenticatedAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return "", false
	}
	if caller != accountID {
		h.writeError(w, http.StatusForbidden, "You can only access your own wallet")
		return "", false
	}
	return accountID, true
}

// GetBalanceHandler returns the caller's available and escrow balances.
func (h *WalletHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"account_id":        balance.AccountID,
		"available_balance": balance.AvailableBalance.StringFixed(2),
		"escrow_balance":    balance.EscrowBalance.StringFixed(2),
	})
}

// ListTransactionsHandler returns the caller's ledger history, newest first.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	txns, err := h.service.ListTransactions(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// DepositHandler credits the caller's available balance.
func (h *WalletHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	txn, err := h.service.Deposit(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	ObserveTransaction(string(txn.Type))
	h.writeJSON(w, http.StatusCreated, buildTransactionResponse(txn))
}

// WithdrawHandler debits the caller's available balance.
func (h *WalletHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authorizeAccount(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	txn, err := h.service.Withdraw(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	ObserveTransaction(string(txn.Type))
	h.writeJSON(w, http.StatusCreated, buildTransactionResponse(txn))
}

// PreviewSplitHandler computes the fee split for display before order confirmation.
func (h *WalletHandlers) PreviewSplitHandler(w http.ResponseWriter, r *http.Request) {
	totalStr := r.URL.Query().Get("total_amount")
	countStr := r.URL.Query().Get("group_members_count")

	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "total_amount must be a decimal number")
		return
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "group_members_count must be an integer")
		return
	}

	split, err := h.service.PreviewSplit(total, count)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"platform_fee":        split.PlatformFee.StringFixed(2),
		"net_amount":          split.NetAmount.StringFixed(2),
		"leader_commission":   split.LeaderCommission.StringFixed(2),
		"member_distribution": split.MemberDistribution.StringFixed(2),
		"group_members_count": split.GroupMembersCount,
		"per_member_amount":   split.PerMemberAmount.StringFixed(2),
	})
}

// CreateOrderHandler records a new pending order for the authenticated buyer.
func (h *WalletHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := GetAuthenticatedAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	order, err := h.service.CreateOrder(r.Context(), buyerID, req.GroupID, req.ServiceType, req.Quantity, req.TotalAmount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// ListOrdersHandler returns the caller's orders, newest first.
func (h *WalletHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := GetAuthenticatedAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	orders, err := h.service.ListOrders(r.Context(), buyerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// GetOrderHandler returns one of the caller's orders.
func (h *WalletHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := GetAuthenticatedAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if order.BuyerAccountID != buyerID {
		h.writeError(w, http.StatusForbidden, "You can only access your own orders")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// lifecycleOrderID parses the path order id and applies the lifecycle rate limit.
func (h *WalletHandlers) lifecycleOrderID(w http.ResponseWriter, r *http.Request, scope string) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return uuid.Nil, false
	}
	if h.limiter != nil {
		allowed, retryAfter, err := h.limiter.Consume(r.Context(), scope, orderID.String())
		if err != nil {
			// Rate limiting is best-effort; never block settlement on limiter faults.
			log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		} else if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many lifecycle requests for this order")
			return uuid.Nil, false
		}
	}
	return orderID, true
}

// ConfirmPaymentHandler moves a pending order to payment_confirmed.
func (h *WalletHandlers) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.lifecycleOrderID(w, r, "confirm_payment")
	if !ok {
		return
	}
	order, err := h.service.ConfirmPayment(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// MarkInProgressHandler moves a payment_confirmed order to in_progress.
func (h *WalletHandlers) MarkInProgressHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.lifecycleOrderID(w, r, "in_progress")
	if !ok {
		return
	}
	order, err := h.service.MarkInProgress(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// CompleteOrderHandler settles an in_progress order.
func (h *WalletHandlers) CompleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.lifecycleOrderID(w, r, "complete")
	if !ok {
		return
	}
	order, err := h.service.Complete(r.Context(), orderID)
	if err != nil {
		ObserveSettlement("failed")
		h.writeServiceError(w, err)
		return
	}
	ObserveSettlement("settled")
	h.writeJSON(w, http.StatusOK, order)
}

// CancelOrderHandler cancels a pending or payment_confirmed order.
func (h *WalletHandlers) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.lifecycleOrderID(w, r, "cancel")
	if !ok {
		return
	}
	order, err := h.service.Cancel(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// DeactivateAccountHandler marks an account inactive. Inactive accounts keep
// their history and balances but reject new operations.
func (h *WalletHandlers) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "Account id is required")
		return
	}
	if err := h.service.DeactivateAccount(r.Context(), accountID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"account_id": accountID, "status": "deactivated"})
}

func buildTransactionResponse(txn *domain.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: txn.ID.String(),
		AccountID:     txn.AccountID,
		Type:          string(txn.Type),
		Amount:        txn.Amount.StringFixed(2),
		Status:        string(txn.Status),
		Description:   txn.Description,
	}
}

// writeServiceError maps service and store errors to specific HTTP responses. Every
// rejected financial operation gets a specific, non-generic reason.
func (h *WalletHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "Amount must be greater than zero")
	case errors.Is(err, app.ErrInvalidGroupSize):
		h.writeError(w, http.StatusBadRequest, "Group must have at least one member")
	case errors.Is(err, app.ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, "Quantity must be at least one")
	case errors.Is(err, store.ErrNonPositiveAmount):
		h.writeError(w, http.StatusBadRequest, "Amount must be greater than zero")
	case errors.Is(err, store.ErrInsufficientFunds):
		ObserveRejection("insufficient_funds")
		h.writeError(w, http.StatusBadRequest, "Insufficient available balance")
	case errors.Is(err, store.ErrInsufficientEscrow):
		ObserveRejection("insufficient_escrow")
		h.writeError(w, http.StatusBadRequest, "Insufficient escrowed funds")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrAccountInactive):
		h.writeError(w, http.StatusForbidden, "Account is deactivated")
	case errors.Is(err, store.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, store.ErrInvalidStateTransition):
		ObserveRejection("invalid_state_transition")
		h.writeError(w, http.StatusConflict, "Order state does not allow this operation")
	case errors.Is(err, app.ErrGroupDirectoryUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Payment confirmation is unavailable; group directory is not configured")
	case errors.Is(err, store.ErrConcurrencyTimeout):
		ObserveRejection("concurrency_timeout")
		h.writeError(w, http.StatusServiceUnavailable, "Wallet is busy; please retry")
	case errors.Is(err, app.ErrSettlementFailed):
		h.writeError(w, http.StatusInternalServerError, "Settlement could not be applied; the order remains in progress")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
