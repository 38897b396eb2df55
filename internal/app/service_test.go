package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/gigvault/wallet-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stubGroups struct {
	snapshot *domain.GroupSnapshot
	err      error
}

func (s *stubGroups) GroupSnapshot(ctx context.Context, groupID string) (*domain.GroupSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	snap := domain.GroupSnapshot{
		LeaderAccountID:  s.snapshot.LeaderAccountID,
		MemberAccountIDs: append([]string(nil), s.snapshot.MemberAccountIDs...),
	}
	return &snap, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.WalletEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, accountID, eventType string, event domain.WalletEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) countByType(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

func newTestService(groups GroupDirectory, notifier Notifier) (*Service, *store.MemoryRepository) {
	repo := store.NewMemoryRepository(2 * time.Second)
	svc := NewService(repo, groups, notifier, DefaultSplitRates(), "platform", 3)
	return svc, repo
}

func mustBalance(t *testing.T, repo store.Repository, accountID string) *domain.Balance {
	t.Helper()
	balance, err := repo.GetBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("balance read for %s failed: %v", accountID, err)
	}
	return balance
}

func assertBalance(t *testing.T, repo store.Repository, accountID, wantAvailable, wantEscrow string) {
	t.Helper()
	balance := mustBalance(t, repo, accountID)
	if got := balance.AvailableBalance.StringFixed(2); got != wantAvailable {
		t.Fatalf("account %s: expected available=%s, got %s", accountID, wantAvailable, got)
	}
	if got := balance.EscrowBalance.StringFixed(2); got != wantEscrow {
		t.Fatalf("account %s: expected escrow=%s, got %s", accountID, wantEscrow, got)
	}
}

func TestOrderLifecycleSettlesExactly(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2", "m3"},
	}}
	notifier := &recordingNotifier{}
	svc, repo := newTestService(groups, notifier)

	if _, err := svc.Deposit(ctx, "buyer", d("200.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("100.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if order.Status != domain.OrderPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}

	confirmed, err := svc.ConfirmPayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if confirmed.Status != domain.OrderPaymentConfirmed {
		t.Fatalf("expected payment_confirmed, got %s", confirmed.Status)
	}
	if confirmed.Split == nil || confirmed.Snapshot == nil {
		t.Fatal("expected split and snapshot persisted on confirmation")
	}
	assertBalance(t, repo, "buyer", "100.00", "100.00")

	if _, err := svc.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}

	settled, err := svc.Complete(ctx, order.ID)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if settled.Status != domain.OrderCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}

	assertBalance(t, repo, "buyer", "100.00", "0.00")
	assertBalance(t, repo, "platform", "10.00", "0.00")
	assertBalance(t, repo, "leader", "2.70", "0.00")
	assertBalance(t, repo, "m1", "29.10", "0.00")
	assertBalance(t, repo, "m2", "29.10", "0.00")
	assertBalance(t, repo, "m3", "29.10", "0.00")

	// Every unit that entered the system is still in it.
	total := decimal.Zero
	for _, id := range []string{"buyer", "platform", "leader", "m1", "m2", "m3"} {
		b := mustBalance(t, repo, id)
		total = total.Add(b.AvailableBalance).Add(b.EscrowBalance)
	}
	if !total.Equal(d("200.00")) {
		t.Fatalf("expected system total 200.00, got %s", total)
	}

	if got := notifier.countByType(domain.EventSettlementCredited); got != 5 {
		t.Fatalf("expected 5 settlement.credited events, got %d", got)
	}
	if got := notifier.countByType(domain.EventOrderCompleted); got != 1 {
		t.Fatalf("expected 1 order completed event, got %d", got)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2"},
	}}
	svc, repo := newTestService(groups, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("100.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("100.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if _, err := svc.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}
	if _, err := svc.Complete(ctx, order.ID); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}

	leaderAfterFirst := mustBalance(t, repo, "leader").AvailableBalance

	again, err := svc.Complete(ctx, order.ID)
	if err != nil {
		t.Fatalf("second complete failed: %v", err)
	}
	if again.Status != domain.OrderCompleted {
		t.Fatalf("expected completed, got %s", again.Status)
	}
	if got := mustBalance(t, repo, "leader").AvailableBalance; !got.Equal(leaderAfterFirst) {
		t.Fatalf("second complete moved money: leader %s -> %s", leaderAfterFirst, got)
	}
}

func TestCancelRefundsEscrowExactly(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2"},
	}}
	svc, repo := newTestService(groups, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("150.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("100.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	assertBalance(t, repo, "buyer", "50.00", "100.00")

	cancelled, err := svc.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	assertBalance(t, repo, "buyer", "150.00", "0.00")
}

func TestCancelPendingOrderMovesNoMoney(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(&stubGroups{}, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("80.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("50.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.Cancel(ctx, order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	assertBalance(t, repo, "buyer", "80.00", "0.00")
}

func TestLifecycleRejectsInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1"},
	}}
	svc, _ := newTestService(groups, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("100.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("40.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// pending -> in_progress skips payment confirmation.
	if _, err := svc.MarkInProgress(ctx, order.ID); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	// pending -> completed skips the whole chain.
	if _, err := svc.Complete(ctx, order.ID); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	if _, err := svc.ConfirmPayment(ctx, order.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if _, err := svc.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}

	// in_progress orders can no longer be cancelled.
	if _, err := svc.Cancel(ctx, order.ID); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on late cancel, got %v", err)
	}
	// Confirming twice double-holds nothing.
	if _, err := svc.ConfirmPayment(ctx, order.ID); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition on second confirm, got %v", err)
	}
}

func TestConfirmPaymentWithoutGroupDirectory(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository(2 * time.Second)
	svc := NewService(repo, nil, nil, DefaultSplitRates(), "platform", 3)

	if _, err := svc.Deposit(ctx, "buyer", d("100.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("60.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.ConfirmPayment(ctx, order.ID); !errors.Is(err, ErrGroupDirectoryUnavailable) {
		t.Fatalf("expected ErrGroupDirectoryUnavailable, got %v", err)
	}

	// The rejected confirmation changed nothing.
	current, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != domain.OrderPending {
		t.Fatalf("expected order still pending, got %s", current.Status)
	}
	assertBalance(t, repo, "buyer", "100.00", "0.00")
}

// timeoutSettleRepo fails every settlement with a lock timeout while delegating
// all other operations to the wrapped repository.
type timeoutSettleRepo struct {
	store.Repository
	attempts int
}

func (r *timeoutSettleRepo) SettleOrder(ctx context.Context, orderID uuid.UUID, legs []store.SettlementLeg) (*domain.Order, error) {
	r.attempts++
	return nil, store.ErrConcurrencyTimeout
}

func TestCompleteExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2"},
	}}
	notifier := &recordingNotifier{}
	inner := store.NewMemoryRepository(2 * time.Second)
	repo := &timeoutSettleRepo{Repository: inner}
	svc := NewService(repo, groups, notifier, DefaultSplitRates(), "platform", 3)

	if _, err := svc.Deposit(ctx, "buyer", d("100.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("100.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if _, err := svc.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}

	_, err = svc.Complete(ctx, order.ID)
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected ErrSettlementFailed, got %v", err)
	}
	if repo.attempts != 3 {
		t.Fatalf("expected 3 settlement attempts, got %d", repo.attempts)
	}

	// The order stays in_progress and no leg was applied.
	current, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != domain.OrderInProgress {
		t.Fatalf("expected order still in_progress, got %s", current.Status)
	}
	assertBalance(t, repo, "buyer", "0.00", "100.00")
	assertBalance(t, repo, "platform", "0.00", "0.00")
	assertBalance(t, repo, "leader", "0.00", "0.00")

	if got := notifier.countByType(domain.EventOrderCompleted); got != 0 {
		t.Fatalf("expected no completion event, got %d", got)
	}
	if got := notifier.countByType(domain.EventSettlementCredited); got != 0 {
		t.Fatalf("expected no credit events, got %d", got)
	}
}

func TestConfirmPaymentRequiresSufficientFunds(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2"},
	}}
	svc, repo := newTestService(groups, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("50.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("100.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.ConfirmPayment(ctx, order.ID); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// The failed hold changed nothing: order still pending, balances intact.
	current, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if current.Status != domain.OrderPending {
		t.Fatalf("expected order still pending, got %s", current.Status)
	}
	assertBalance(t, repo, "buyer", "50.00", "0.00")
}

func TestSoloGroupSettlement(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "solo",
		MemberAccountIDs: []string{"solo"},
	}}
	svc, repo := newTestService(groups, nil)

	if _, err := svc.Deposit(ctx, "buyer", d("50.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	order, err := svc.CreateOrder(ctx, "buyer", "group-1", "design", 1, d("50.00"))
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, order.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if _, err := svc.MarkInProgress(ctx, order.ID); err != nil {
		t.Fatalf("mark in progress failed: %v", err)
	}
	if _, err := svc.Complete(ctx, order.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// No leader commission for a solo freelancer; the whole net amount is theirs.
	assertBalance(t, repo, "solo", "45.00", "0.00")
	assertBalance(t, repo, "platform", "5.00", "0.00")
	assertBalance(t, repo, "buyer", "0.00", "0.00")
}

func TestDepositAndWithdrawValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubGroups{}, nil)

	if _, err := svc.Deposit(ctx, "acct", d("-1.00"), ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative deposit, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, "acct", decimal.Zero, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero withdrawal, got %v", err)
	}

	if _, err := svc.Deposit(ctx, "acct", d("25.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "acct", d("25.01"), ""); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDeactivatedAccountRejectsOperations(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&stubGroups{}, nil)

	if _, err := svc.Deposit(ctx, "acct", d("10.00"), ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := svc.DeactivateAccount(ctx, "acct"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := svc.Deposit(ctx, "acct", d("10.00"), ""); !errors.Is(err, store.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	// History survives deactivation.
	txns, err := svc.ListTransactions(ctx, "acct")
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 retained transaction, got %d", len(txns))
	}
}

// TestConcurrentSettlementsConserveMoney drives many orders from distinct buyers to
// completion in parallel and checks that the system-wide total never drifts.
func TestConcurrentSettlementsConserveMoney(t *testing.T) {
	ctx := context.Background()
	groups := &stubGroups{snapshot: &domain.GroupSnapshot{
		LeaderAccountID:  "leader",
		MemberAccountIDs: []string{"m1", "m2", "m3"},
	}}
	svc, repo := newTestService(groups, nil)

	const orders = 20
	buyers := make([]string, orders)
	for i := range buyers {
		buyers[i] = "buyer-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		if _, err := svc.Deposit(ctx, buyers[i], d("100.00"), ""); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			order, err := svc.CreateOrder(ctx, buyer, "group-1", "design", 1, d("100.00"))
			if err == nil {
				_, err = svc.ConfirmPayment(ctx, order.ID)
			}
			if err == nil {
				_, err = svc.MarkInProgress(ctx, order.ID)
			}
			if err == nil {
				_, err = svc.Complete(ctx, order.ID)
			}
			if err != nil {
				errCh <- err
			}
		}(buyers[i])
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("lifecycle failed under concurrency: %v", err)
	}

	total := decimal.Zero
	accounts := append([]string{"platform", "leader", "m1", "m2", "m3"}, buyers...)
	for _, id := range accounts {
		b := mustBalance(t, repo, id)
		total = total.Add(b.AvailableBalance).Add(b.EscrowBalance)
	}
	want := d("100.00").Mul(decimal.NewFromInt(orders))
	if !total.Equal(want) {
		t.Fatalf("expected system total %s, got %s", want, total)
	}
	assertBalance(t, repo, "platform", "200.00", "0.00")
}
