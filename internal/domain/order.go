/**
 * @description
 * This file defines the Order model, its lifecycle state machine, and the derived
 * split fields persisted when a buyer's payment is confirmed.
 *
 * @notes
 * - The state machine is an explicit transition table. Any move not listed is rejected;
 *   completed and cancelled are terminal.
 * - The split fields are computed exactly once, at payment confirmation, from a group
 *   membership snapshot taken at the same moment. Later membership or rate changes must
 *   never alter the accounting of an already-split order.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderPending          OrderStatus = "pending"
	OrderPaymentConfirmed OrderStatus = "payment_confirmed"
	OrderInProgress       OrderStatus = "in_progress"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
)

// orderTransitions is the full set of allowed lifecycle moves.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:          {OrderPaymentConfirmed, OrderCancelled},
	OrderPaymentConfirmed: {OrderInProgress, OrderCancelled},
	OrderInProgress:       {OrderCompleted},
	OrderCompleted:        {},
	OrderCancelled:        {},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// OrderSplit carries the derived fee and distribution fields of an order.
// Invariants: PlatformFee + NetAmount == total; LeaderCommission + MemberDistribution
// == NetAmount; residual cents from the per-member division are folded into
// LeaderCommission so the sums stay cent-exact.
type OrderSplit struct {
	PlatformFee        decimal.Decimal `json:"platform_fee"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	LeaderCommission   decimal.Decimal `json:"leader_commission"`
	MemberDistribution decimal.Decimal `json:"member_distribution"`
	GroupMembersCount  int             `json:"group_members_count"`
	PerMemberAmount    decimal.Decimal `json:"per_member_amount"`
}

// GroupSnapshot is the membership view captured at payment confirmation. It is the
// authoritative payee list for settlement regardless of later membership changes.
type GroupSnapshot struct {
	LeaderAccountID  string   `json:"leader_account_id"`
	MemberAccountIDs []string `json:"member_account_ids"`
}

// Order is a purchase of a group's service by a product owner.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	BuyerAccountID string          `json:"buyer_account_id"`
	GroupID        string          `json:"group_id"`
	ServiceType    string          `json:"service_type"`
	Quantity       int             `json:"quantity"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	Split          *OrderSplit     `json:"split,omitempty"`
	Snapshot       *GroupSnapshot  `json:"group_snapshot,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
