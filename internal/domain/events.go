package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet event types published for every balance-affecting transition.
const (
	EventBalanceDeposited      = "balance.deposited"
	EventBalanceWithdrawn      = "balance.withdrawn"
	EventOrderPaymentConfirmed = "order.payment_confirmed"
	EventOrderInProgress       = "order.in_progress"
	EventOrderCompleted        = "order.completed"
	EventOrderCancelled        = "order.cancelled"
	EventSettlementCredited    = "settlement.credited"
)

// WalletEvent is the message emitted to the notification dispatcher whenever a
// balance or order state changes. Delivery is entirely the dispatcher's concern.
type WalletEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	AccountID  string          `json:"account_id"`
	OrderID    *uuid.UUID      `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
