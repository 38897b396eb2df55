/**
 * @description
 * This file defines the `Repository` interface: the contract for every durable
 * operation the wallet-service performs. The repository is the only component allowed
 * to mutate account balances, and every balance mutation is paired with an immutable
 * transaction row inside the same atomic unit.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid, github.com/shopspring/decimal: IDs and monetary amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account is deactivated")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNonPositiveAmount      = errors.New("transaction amount must be positive")
	ErrInsufficientEscrow     = errors.New("insufficient escrow")
	ErrInvalidStateTransition = errors.New("order state transition not allowed")
	ErrConcurrencyTimeout     = errors.New("timed out acquiring account locks")
)

// LegKind distinguishes how one settlement leg touches its account.
type LegKind string

const (
	// LegEscrowDebit removes held funds from the account's escrow balance. It is
	// recorded as an escrow_release transaction; the released money leaves the account
	// through the settlement's deposit legs rather than returning to its owner.
	LegEscrowDebit LegKind = "escrow_debit"
	// LegDeposit credits the account's available balance, recorded as a deposit.
	LegDeposit LegKind = "deposit"
)

// SettlementLeg is one account-level credit or debit within a multi-account settlement.
type SettlementLeg struct {
	AccountID   string
	Kind        LegKind
	Amount      decimal.Decimal
	Description string
}

// Repository defines the set of methods for interacting with durable storage.
//
// Concurrency contract: mutations against the same account serialize (at most one
// concurrent mutation per account, no lost updates). The multi-account lifecycle
// operations lock every involved account in ascending account-id order before mutating
// any of them, and apply all of their effects in a single all-or-nothing unit. A lock
// set that cannot be acquired within the configured bound fails with
// ErrConcurrencyTimeout and no mutation.
type Repository interface {
	// Account and ledger methods
	GetOrCreateAccount(ctx context.Context, accountID string) (*domain.Account, error)
	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
	ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)
	DeactivateAccount(ctx context.Context, accountID string) error

	// ApplyTransaction mutates one account balance according to txType and writes the
	// completed transaction row in the same atomic unit. Precondition failures
	// (ErrInsufficientFunds, ErrInsufficientEscrow) leave no row behind.
	ApplyTransaction(ctx context.Context, accountID string, txType domain.TransactionType, amount decimal.Decimal, relatedOrderID *uuid.UUID, description string) (*domain.Transaction, error)

	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerAccountID string) ([]domain.Order, error)

	// Atomic lifecycle operations. Each one combines the order status move, the ledger
	// mutations, and the transaction rows in a single unit, guarded by the lifecycle
	// transition table.
	HoldOrderFunds(ctx context.Context, orderID uuid.UUID, split domain.OrderSplit, snapshot domain.GroupSnapshot) (*domain.Order, error)
	MarkOrderInProgress(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	SettleOrder(ctx context.Context, orderID uuid.UUID, legs []SettlementLeg) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}
