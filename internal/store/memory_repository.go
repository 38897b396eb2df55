/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface. It is
 * used by the test suite and for local development when no database is configured,
 * and it honors the same concurrency contract as the PostgreSQL implementation:
 * per-account mutual exclusion, canonical lock ordering for multi-account operations,
 * and bounded lock acquisition surfacing ErrConcurrencyTimeout.
 */

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memAccount struct {
	mu   sync.Mutex
	acct domain.Account
	txns []domain.Transaction // oldest first
}

// MemoryRepository is a concurrency-safe, in-process Repository.
type MemoryRepository struct {
	mu          sync.Mutex // guards the maps and all order records
	accounts    map[string]*memAccount
	orders      map[uuid.UUID]*domain.Order
	lockTimeout time.Duration
}

// NewMemoryRepository creates an empty in-memory repository. lockTimeout bounds how
// long a multi-account operation may wait for its lock set.
func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &MemoryRepository{
		accounts:    make(map[string]*memAccount),
		orders:      make(map[uuid.UUID]*domain.Order),
		lockTimeout: lockTimeout,
	}
}

// getOrCreateLocked returns the account record, creating it lazily. Caller holds r.mu.
func (r *MemoryRepository) getOrCreateLocked(accountID string) *memAccount {
	a, ok := r.accounts[accountID]
	if !ok {
		now := time.Now().UTC()
		a = &memAccount{acct: domain.Account{
			ID:               accountID,
			AvailableBalance: decimal.Zero,
			EscrowBalance:    decimal.Zero,
			Active:           true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}}
		r.accounts[accountID] = a
	}
	return a
}

func (r *MemoryRepository) lookup(accountID string) (*memAccount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	return a, ok
}

// GetOrCreateAccount returns the account, creating it on first financial activity.
func (r *MemoryRepository) GetOrCreateAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	r.mu.Lock()
	a := r.getOrCreateLocked(accountID)
	r.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	acct := a.acct
	return &acct, nil
}

// GetBalance returns a point-in-time consistent snapshot of both balances.
func (r *MemoryRepository) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	a, ok := r.lookup(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return &domain.Balance{
		AccountID:        accountID,
		AvailableBalance: a.acct.AvailableBalance,
		EscrowBalance:    a.acct.EscrowBalance,
	}, nil
}

// ListTransactions returns the account's ledger entries, newest first.
func (r *MemoryRepository) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	a, ok := r.lookup(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Transaction, 0, len(a.txns))
	for i := len(a.txns) - 1; i >= 0; i-- {
		out = append(out, a.txns[i])
	}
	return out, nil
}

// DeactivateAccount soft-deactivates an account. Balances and history are retained.
func (r *MemoryRepository) DeactivateAccount(ctx context.Context, accountID string) error {
	a, ok := r.lookup(accountID)
	if !ok {
		return ErrAccountNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acct.Active = false
	a.acct.UpdatedAt = time.Now().UTC()
	return nil
}

// applyLocked mutates one balance and appends the paired transaction row. The caller
// holds a.mu. A precondition failure leaves the account and its log untouched.
func (r *MemoryRepository) applyLocked(a *memAccount, txType domain.TransactionType, amount decimal.Decimal, relatedOrderID *uuid.UUID, description string) (*domain.Transaction, error) {
	if !a.acct.Active {
		return nil, ErrAccountInactive
	}

	switch txType {
	case domain.TransactionDeposit:
		a.acct.AvailableBalance = a.acct.AvailableBalance.Add(amount)
	case domain.TransactionEscrowHold:
		if a.acct.AvailableBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		a.acct.AvailableBalance = a.acct.AvailableBalance.Sub(amount)
		a.acct.EscrowBalance = a.acct.EscrowBalance.Add(amount)
	case domain.TransactionEscrowRelease:
		if a.acct.EscrowBalance.LessThan(amount) {
			return nil, ErrInsufficientEscrow
		}
		a.acct.EscrowBalance = a.acct.EscrowBalance.Sub(amount)
		a.acct.AvailableBalance = a.acct.AvailableBalance.Add(amount)
	case domain.TransactionWithdrawal:
		if a.acct.AvailableBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		a.acct.AvailableBalance = a.acct.AvailableBalance.Sub(amount)
	}

	now := time.Now().UTC()
	a.acct.UpdatedAt = now
	txn := domain.Transaction{
		ID:             uuid.New(),
		AccountID:      a.acct.ID,
		Type:           txType,
		Amount:         amount,
		RelatedOrderID: relatedOrderID,
		Description:    description,
		Status:         domain.TransactionCompleted,
		CreatedAt:      now,
	}
	a.txns = append(a.txns, txn)
	return &txn, nil
}

// ApplyTransaction serializes the mutation on the account's mutex and writes the
// balance change together with its transaction row.
func (r *MemoryRepository) ApplyTransaction(ctx context.Context, accountID string, txType domain.TransactionType, amount decimal.Decimal, relatedOrderID *uuid.UUID, description string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}
	r.mu.Lock()
	a := r.getOrCreateLocked(accountID)
	r.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	return r.applyLocked(a, txType, amount, relatedOrderID, description)
}

// CreateOrder stores a new order record.
func (r *MemoryRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	stored := orderCopy(order)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.orders[stored.ID] = stored
	return nil
}

// GetOrderByID returns a copy of the order.
func (r *MemoryRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return orderCopy(o), nil
}

// ListOrdersByBuyer returns the buyer's orders, newest first.
func (r *MemoryRepository) ListOrdersByBuyer(ctx context.Context, buyerAccountID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.BuyerAccountID == buyerAccountID {
			out = append(out, *orderCopy(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// HoldOrderFunds moves the order to payment_confirmed, placing the buyer's funds in
// escrow and persisting the computed split and group snapshot, all in one unit.
func (r *MemoryRepository) HoldOrderFunds(ctx context.Context, orderID uuid.UUID, split domain.OrderSplit, snapshot domain.GroupSnapshot) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderPaymentConfirmed) {
		return nil, ErrInvalidStateTransition
	}

	buyer := r.getOrCreateLocked(order.BuyerAccountID)
	if err := r.lockAccounts(ctx, []*memAccount{buyer}); err != nil {
		return nil, err
	}
	defer buyer.mu.Unlock()

	if _, err := r.applyLocked(buyer, domain.TransactionEscrowHold, order.TotalAmount, &order.ID, "escrow hold for order "+order.ID.String()); err != nil {
		return nil, err
	}

	splitCopy := split
	snapCopy := domain.GroupSnapshot{
		LeaderAccountID:  snapshot.LeaderAccountID,
		MemberAccountIDs: append([]string(nil), snapshot.MemberAccountIDs...),
	}
	order.Status = domain.OrderPaymentConfirmed
	order.Split = &splitCopy
	order.Snapshot = &snapCopy
	order.UpdatedAt = time.Now().UTC()
	return orderCopy(order), nil
}

// MarkOrderInProgress performs the guarded payment_confirmed -> in_progress move.
func (r *MemoryRepository) MarkOrderInProgress(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderInProgress) {
		return nil, ErrInvalidStateTransition
	}
	order.Status = domain.OrderInProgress
	order.UpdatedAt = time.Now().UTC()
	return orderCopy(order), nil
}

// SettleOrder applies every leg of a settlement and marks the order completed,
// all-or-nothing. Accounts are locked in ascending id order; every leg is validated
// against a working copy before anything is written, so a failing leg leaves no
// partial application behind.
func (r *MemoryRepository) SettleOrder(ctx context.Context, orderID uuid.UUID, legs []SettlementLeg) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderCompleted) {
		return nil, ErrInvalidStateTransition
	}

	// Deduplicate and canonically order the lock set.
	byID := make(map[string]*memAccount)
	var ids []string
	for _, leg := range legs {
		if _, seen := byID[leg.AccountID]; !seen {
			byID[leg.AccountID] = r.getOrCreateLocked(leg.AccountID)
			ids = append(ids, leg.AccountID)
		}
	}
	sort.Strings(ids)
	locked := make([]*memAccount, 0, len(ids))
	for _, id := range ids {
		locked = append(locked, byID[id])
	}
	if err := r.lockAccounts(ctx, locked); err != nil {
		return nil, err
	}
	defer func() {
		for _, a := range locked {
			a.mu.Unlock()
		}
	}()

	// Validate all legs against working copies before mutating anything.
	type working struct{ available, escrow decimal.Decimal }
	scratch := make(map[string]*working, len(byID))
	for id, a := range byID {
		if !a.acct.Active {
			return nil, ErrAccountInactive
		}
		scratch[id] = &working{available: a.acct.AvailableBalance, escrow: a.acct.EscrowBalance}
	}
	for _, leg := range legs {
		w := scratch[leg.AccountID]
		switch leg.Kind {
		case LegEscrowDebit:
			if w.escrow.LessThan(leg.Amount) {
				return nil, ErrInsufficientEscrow
			}
			w.escrow = w.escrow.Sub(leg.Amount)
		case LegDeposit:
			w.available = w.available.Add(leg.Amount)
		}
	}

	// Commit: write back balances and the paired transaction rows.
	now := time.Now().UTC()
	for id, a := range byID {
		a.acct.AvailableBalance = scratch[id].available
		a.acct.EscrowBalance = scratch[id].escrow
		a.acct.UpdatedAt = now
	}
	for _, leg := range legs {
		txType := domain.TransactionDeposit
		if leg.Kind == LegEscrowDebit {
			txType = domain.TransactionEscrowRelease
		}
		a := byID[leg.AccountID]
		a.txns = append(a.txns, domain.Transaction{
			ID:             uuid.New(),
			AccountID:      leg.AccountID,
			Type:           txType,
			Amount:         leg.Amount,
			RelatedOrderID: &order.ID,
			Description:    leg.Description,
			Status:         domain.TransactionCompleted,
			CreatedAt:      now,
		})
	}

	order.Status = domain.OrderCompleted
	order.UpdatedAt = now
	return orderCopy(order), nil
}

// CancelOrder moves the order to cancelled, refunding any held escrow to the buyer's
// available balance in the same unit.
func (r *MemoryRepository) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderCancelled) {
		return nil, ErrInvalidStateTransition
	}

	if order.Status == domain.OrderPaymentConfirmed {
		buyer := r.getOrCreateLocked(order.BuyerAccountID)
		if err := r.lockAccounts(ctx, []*memAccount{buyer}); err != nil {
			return nil, err
		}
		_, err := r.applyLocked(buyer, domain.TransactionEscrowRelease, order.TotalAmount, &order.ID, "escrow refund for cancelled order "+order.ID.String())
		buyer.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	order.Status = domain.OrderCancelled
	order.UpdatedAt = time.Now().UTC()
	return orderCopy(order), nil
}

// lockAccounts acquires every account mutex in the given (already sorted) order,
// bounded by the repository's lock timeout. On failure every acquired lock is
// released and ErrConcurrencyTimeout is returned.
func (r *MemoryRepository) lockAccounts(ctx context.Context, accounts []*memAccount) error {
	deadline := time.Now().Add(r.lockTimeout)
	for i, a := range accounts {
		for {
			if a.mu.TryLock() {
				break
			}
			if time.Now().After(deadline) || ctx.Err() != nil {
				for j := 0; j < i; j++ {
					accounts[j].mu.Unlock()
				}
				return ErrConcurrencyTimeout
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func orderCopy(o *domain.Order) *domain.Order {
	cp := *o
	if o.Split != nil {
		split := *o.Split
		cp.Split = &split
	}
	if o.Snapshot != nil {
		snap := domain.GroupSnapshot{
			LeaderAccountID:  o.Snapshot.LeaderAccountID,
			MemberAccountIDs: append([]string(nil), o.Snapshot.MemberAccountIDs...),
		}
		cp.Snapshot = &snap
	}
	return &cp
}
