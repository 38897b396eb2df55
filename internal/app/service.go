/**
 * @description
 * This file contains the core business logic for the wallet-service. The `Service`
 * struct is the settlement engine: it drives the order lifecycle state machine,
 * coordinates the ledger repository and the fee calculator, and emits wallet events
 * for every balance-affecting transition.
 *
 * Key features:
 * - Order lifecycle: create, confirm payment (escrow hold), mark in progress,
 *   complete (multi-leg settlement), cancel (escrow refund).
 * - Wallet operations: deposit, withdraw, balance and history reads.
 * - Settlement is all-or-nothing: the repository applies every leg in one unit, and
 *   the engine retries bounded lock timeouts. A settlement that cannot be applied
 *   leaves the order in_progress; it is never reported as completed.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: IDs and amounts.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/gigvault/wallet-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("order quantity must be at least one")
	// ErrSettlementFailed is returned when the multi-leg credit step could not be
	// applied within the retry budget. No leg has been applied and the order remains
	// in_progress for a later retry.
	ErrSettlementFailed = errors.New("settlement could not be applied; order remains in progress")
	// ErrGroupDirectoryUnavailable is returned when payment confirmation is requested
	// but no group directory client is configured, so no membership snapshot can be
	// taken. The order stays pending.
	ErrGroupDirectoryUnavailable = errors.New("group directory is not configured; payment confirmation unavailable")
)

// GroupDirectory supplies the membership snapshot for an order's group at payment
// confirmation time. Membership changes after that point never affect the split.
type GroupDirectory interface {
	GroupSnapshot(ctx context.Context, groupID string) (*domain.GroupSnapshot, error)
}

// Notifier is the call contract of the notification dispatcher. Delivery and retry
// are entirely the dispatcher's concern; the engine never blocks or fails a
// settlement because a notification could not be delivered.
type Notifier interface {
	Notify(ctx context.Context, accountID, eventType string, event domain.WalletEvent) error
}

// Service provides the core business logic for the wallet ledger and settlement.
type Service struct {
	repo              store.Repository
	groups            GroupDirectory
	notifier          Notifier
	rates             SplitRates
	platformAccountID string
	settleRetries     int
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, groups GroupDirectory, notifier Notifier, rates SplitRates, platformAccountID string, settleRetries int) *Service {
	if settleRetries < 1 {
		settleRetries = 3
	}
	return &Service{
		repo:              repo,
		groups:            groups,
		notifier:          notifier,
		rates:             rates,
		platformAccountID: platformAccountID,
		settleRetries:     settleRetries,
	}
}

// notify emits a wallet event, fire-and-forget. Failures are logged and swallowed;
// ledger correctness never depends on notification delivery.
func (s *Service) notify(ctx context.Context, accountID, eventType string, orderID *uuid.UUID, amount decimal.Decimal, reason string) {
	if s.notifier == nil {
		return
	}
	event := domain.WalletEvent{
		EventID:    uuid.New(),
		EventType:  eventType,
		AccountID:  accountID,
		OrderID:    orderID,
		Amount:     amount,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, accountID, eventType, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"wallet event publish failed\" event_type=%s account_id=%s err=%v", eventType, accountID, err)
	}
}

// Deposit credits an account's available balance.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "wallet deposit"
	}
	txn, err := s.repo.ApplyTransaction(ctx, accountID, domain.TransactionDeposit, amount.Round(2), nil, description)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, accountID, domain.EventBalanceDeposited, nil, txn.Amount, description)
	return txn, nil
}

// Withdraw debits an account's available balance.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "wallet withdrawal"
	}
	txn, err := s.repo.ApplyTransaction(ctx, accountID, domain.TransactionWithdrawal, amount.Round(2), nil, description)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, accountID, domain.EventBalanceWithdrawn, nil, txn.Amount, description)
	return txn, nil
}

// GetBalance returns a consistent snapshot of an account's balances.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	return s.repo.GetBalance(ctx, accountID)
}

// ListTransactions returns an account's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, accountID)
}

// PreviewSplit computes the fee split for display before order confirmation.
func (s *Service) PreviewSplit(totalAmount decimal.Decimal, groupMembersCount int) (domain.OrderSplit, error) {
	return ComputeSplit(totalAmount, groupMembersCount, s.rates)
}

// CreateOrder records a new pending order. No funds move until payment confirmation.
func (s *Service) CreateOrder(ctx context.Context, buyerAccountID, groupID, serviceType string, quantity int, totalAmount decimal.Decimal) (*domain.Order, error) {
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.repo.GetOrCreateAccount(ctx, buyerAccountID); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:             uuid.New(),
		BuyerAccountID: buyerAccountID,
		GroupID:        groupID,
		ServiceType:    serviceType,
		Quantity:       quantity,
		TotalAmount:    totalAmount.Round(2),
		Status:         domain.OrderPending,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder returns one order by id.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// ListOrders returns all of a buyer's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, buyerAccountID string) ([]domain.Order, error) {
	return s.repo.ListOrdersByBuyer(ctx, buyerAccountID)
}

// ConfirmPayment moves a pending order to payment_confirmed. It snapshots the group
// membership, computes and persists the split, and escrows the buyer's funds in one
// atomic unit. The snapshot taken here is authoritative for the eventual settlement.
func (s *Service) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderPaymentConfirmed) {
		return nil, store.ErrInvalidStateTransition
	}
	if s.groups == nil {
		return nil, ErrGroupDirectoryUnavailable
	}

	snapshot, err := s.groups.GroupSnapshot(ctx, order.GroupID)
	if err != nil {
		return nil, fmt.Errorf("group snapshot fetch failed: %w", err)
	}
	split, err := ComputeSplit(order.TotalAmount, len(snapshot.MemberAccountIDs), s.rates)
	if err != nil {
		return nil, err
	}

	confirmed, err := s.repo.HoldOrderFunds(ctx, orderID, split, *snapshot)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, confirmed.BuyerAccountID, domain.EventOrderPaymentConfirmed, &confirmed.ID, confirmed.TotalAmount, "buyer funds held in escrow")
	s.notify(ctx, snapshot.LeaderAccountID, domain.EventOrderPaymentConfirmed, &confirmed.ID, confirmed.TotalAmount, "order funded")
	return confirmed, nil
}

// MarkInProgress moves a payment_confirmed order to in_progress.
func (s *Service) MarkInProgress(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.MarkOrderInProgress(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Snapshot != nil {
		s.notify(ctx, order.Snapshot.LeaderAccountID, domain.EventOrderInProgress, &order.ID, order.TotalAmount, "work started")
	}
	return order, nil
}

// Complete settles an in_progress order: the buyer's escrow is debited once and the
// split is credited to the platform, the leader, and every member, all-or-nothing.
// Completing an already-completed order is a no-op returning the stored result.
func (s *Service) Complete(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderCompleted {
		return order, nil
	}
	if !order.Status.CanTransitionTo(domain.OrderCompleted) {
		return nil, store.ErrInvalidStateTransition
	}
	if order.Split == nil || order.Snapshot == nil {
		return nil, fmt.Errorf("order %s has no persisted split: %w", orderID, store.ErrInvalidStateTransition)
	}

	legs := s.buildSettlementLegs(order)

	var settled *domain.Order
	for attempt := 1; ; attempt++ {
		settled, err = s.repo.SettleOrder(ctx, orderID, legs)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrInvalidStateTransition) {
			// Lost a race with a concurrent completion; re-read and treat as no-op.
			current, getErr := s.repo.GetOrderByID(ctx, orderID)
			if getErr == nil && current.Status == domain.OrderCompleted {
				return current, nil
			}
			return nil, err
		}
		if !errors.Is(err, store.ErrConcurrencyTimeout) || attempt >= s.settleRetries {
			log.Printf("level=error component=settlement msg=\"settlement fault recovered by rollback; no leg applied, order left in progress\" order_id=%s attempt=%d err=%v", orderID, attempt, err)
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
		log.Printf("level=warn component=settlement msg=\"settlement lock timeout; retrying\" order_id=%s attempt=%d", orderID, attempt)
	}

	for _, leg := range legs {
		if leg.Kind == store.LegDeposit {
			s.notify(ctx, leg.AccountID, domain.EventSettlementCredited, &settled.ID, leg.Amount, leg.Description)
		}
	}
	s.notify(ctx, settled.BuyerAccountID, domain.EventOrderCompleted, &settled.ID, settled.TotalAmount, "order settled")
	return settled, nil
}

// buildSettlementLegs derives the N+2 settlement legs from the order's persisted
// split and group snapshot. Zero-amount legs are omitted.
func (s *Service) buildSettlementLegs(order *domain.Order) []store.SettlementLeg {
	split := order.Split
	snapshot := order.Snapshot
	ref := "order " + order.ID.String()

	legs := []store.SettlementLeg{{
		AccountID:   order.BuyerAccountID,
		Kind:        store.LegEscrowDebit,
		Amount:      order.TotalAmount,
		Description: "escrow settled for " + ref,
	}}
	if split.PlatformFee.GreaterThan(decimal.Zero) {
		legs = append(legs, store.SettlementLeg{
			AccountID:   s.platformAccountID,
			Kind:        store.LegDeposit,
			Amount:      split.PlatformFee,
			Description: "platform fee for " + ref,
		})
	}
	if split.LeaderCommission.GreaterThan(decimal.Zero) {
		legs = append(legs, store.SettlementLeg{
			AccountID:   snapshot.LeaderAccountID,
			Kind:        store.LegDeposit,
			Amount:      split.LeaderCommission,
			Description: "leader commission for " + ref,
		})
	}
	if split.PerMemberAmount.GreaterThan(decimal.Zero) {
		for _, memberID := range snapshot.MemberAccountIDs {
			legs = append(legs, store.SettlementLeg{
				AccountID:   memberID,
				Kind:        store.LegDeposit,
				Amount:      split.PerMemberAmount,
				Description: "member share for " + ref,
			})
		}
	}
	return legs
}

// Cancel moves a pending or payment_confirmed order to cancelled. Escrow held for
// the order, if any, is returned to the buyer's available balance exactly.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	cancelled, err := s.repo.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, cancelled.BuyerAccountID, domain.EventOrderCancelled, &cancelled.ID, cancelled.TotalAmount, "order cancelled")
	return cancelled, nil
}

// DeactivateAccount soft-deactivates a wallet. History is retained.
func (s *Service) DeactivateAccount(ctx context.Context, accountID string) error {
	return s.repo.DeactivateAccount(ctx, accountID)
}
