/**
 * @description
 * This file defines the core wallet domain models for the wallet-service: accounts
 * holding an available and an escrowed balance, and the immutable ledger transactions
 * that are the only way either balance ever changes.
 *
 * @notes
 * - Amounts use shopspring/decimal with a fixed scale of 2. Monetary values must never
 *   pass through a float; the conservation checks depend on cent-exact arithmetic.
 * - A Transaction is never mutated once written. Corrections are new compensating
 *   transactions.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates the four ledger mutation kinds.
type TransactionType string

const (
	TransactionDeposit       TransactionType = "deposit"
	TransactionEscrowHold    TransactionType = "escrow_hold"
	TransactionEscrowRelease TransactionType = "escrow_release"
	TransactionWithdrawal    TransactionType = "withdrawal"
)

// TransactionStatus enumerates ledger entry states. Precondition rejections never
// produce a row at all; "failed" is reserved for downstream processing failures.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Account represents a wallet. One exists per product-owner or freelancer identity,
// created lazily on first financial activity and never hard-deleted.
type Account struct {
	ID               string          `json:"id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EscrowBalance    decimal.Decimal `json:"escrow_balance"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Transaction is one immutable ledger entry against a single account.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	AccountID      string            `json:"account_id"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"` // always positive; Type carries the direction
	RelatedOrderID *uuid.UUID        `json:"related_order_id,omitempty"`
	Description    string            `json:"description"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Balance is the point-in-time snapshot returned to external collaborators.
type Balance struct {
	AccountID        string          `json:"account_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EscrowBalance    decimal.Decimal `json:"escrow_balance"`
}
