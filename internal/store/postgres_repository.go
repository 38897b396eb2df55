/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Balance mutations run inside a database transaction together with their ledger row,
 * serialized per account through `SELECT ... FOR UPDATE`. Multi-account lifecycle
 * operations lock every involved account row in ascending account-id order so that
 * concurrently settling orders sharing a platform or leader account cannot deadlock.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Monetary amounts; numeric columns travel as text.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository creates a new instance of PostgresRepository. lockTimeout
// bounds row-lock waits inside lifecycle transactions.
func NewPostgresRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

// isLockTimeoutError reports whether err is Postgres signalling that a row lock could
// not be acquired within lock_timeout.
func isLockTimeoutError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

func scanDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return d, nil
}

// setLocalLockTimeout bounds lock waits for the current transaction.
func (r *PostgresRepository) setLocalLockTimeout(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
	return err
}

// GetOrCreateAccount returns the wallet account, creating it lazily on first use.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, available_balance, escrow_balance, active)
		VALUES ($1, 0, 0, TRUE)
		ON CONFLICT (id) DO NOTHING
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("account upsert failed: %w", err)
	}
	return r.fetchAccount(ctx, r.db, accountID, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// fetchAccount reads one account, optionally taking a row lock.
func (r *PostgresRepository) fetchAccount(ctx context.Context, q rowQuerier, accountID string, forUpdate bool) (*domain.Account, error) {
	query := `
		SELECT id, available_balance::text, escrow_balance::text, active, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		acct                domain.Account
		availableS, escrowS string
	)
	err := q.QueryRow(ctx, query, accountID).Scan(&acct.ID, &availableS, &escrowS, &acct.Active, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		if isLockTimeoutError(err) {
			return nil, ErrConcurrencyTimeout
		}
		return nil, err
	}
	if acct.AvailableBalance, err = scanDecimal(availableS); err != nil {
		return nil, err
	}
	if acct.EscrowBalance, err = scanDecimal(escrowS); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetBalance returns a point-in-time consistent snapshot of both balances.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	acct, err := r.fetchAccount(ctx, r.db, accountID, false)
	if err != nil {
		return nil, err
	}
	return &domain.Balance{
		AccountID:        acct.ID,
		AvailableBalance: acct.AvailableBalance,
		EscrowBalance:    acct.EscrowBalance,
	}, nil
}

// ListTransactions returns the account's ledger entries, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	if _, err := r.fetchAccount(ctx, r.db, accountID, false); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, type, amount::text, related_order_id, description, status, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			txn     domain.Transaction
			amountS string
		)
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &amountS, &txn.RelatedOrderID, &txn.Description, &txn.Status, &txn.CreatedAt); err != nil {
			return nil, err
		}
		if txn.Amount, err = scanDecimal(amountS); err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// DeactivateAccount soft-deactivates an account; balances and history are retained.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, accountID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET active = FALSE, updated_at = NOW() WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ApplyTransaction mutates one account balance and writes the paired transaction row
// in a single database transaction. Precondition failures roll back with no row.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, accountID string, txType domain.TransactionType, amount decimal.Decimal, relatedOrderID *uuid.UUID, description string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrNonPositiveAmount
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLocalLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	// Ensure the account exists before locking; wallets are created lazily.
	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, available_balance, escrow_balance, active)
		VALUES ($1, 0, 0, TRUE)
		ON CONFLICT (id) DO NOTHING
	`, accountID); err != nil {
		return nil, err
	}

	acct, err := r.fetchAccount(ctx, tx, accountID, true)
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}

	available, escrow := acct.AvailableBalance, acct.EscrowBalance
	switch txType {
	case domain.TransactionDeposit:
		available = available.Add(amount)
	case domain.TransactionEscrowHold:
		if available.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		available = available.Sub(amount)
		escrow = escrow.Add(amount)
	case domain.TransactionEscrowRelease:
		if escrow.LessThan(amount) {
			return nil, ErrInsufficientEscrow
		}
		escrow = escrow.Sub(amount)
		available = available.Add(amount)
	case domain.TransactionWithdrawal:
		if available.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		available = available.Sub(amount)
	}

	txn, err := r.writeMutation(ctx, tx, accountID, available, escrow, txType, amount, relatedOrderID, description)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return txn, nil
}

// writeMutation persists new balances plus the transaction row inside an open tx.
func (r *PostgresRepository) writeMutation(ctx context.Context, tx pgx.Tx, accountID string, available, escrow decimal.Decimal, txType domain.TransactionType, amount decimal.Decimal, relatedOrderID *uuid.UUID, description string) (*domain.Transaction, error) {
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET available_balance = $2::numeric, escrow_balance = $3::numeric, updated_at = NOW()
		WHERE id = $1
	`, accountID, available.StringFixed(2), escrow.StringFixed(2)); err != nil {
		return nil, err
	}

	txn := &domain.Transaction{
		ID:             uuid.New(),
		AccountID:      accountID,
		Type:           txType,
		Amount:         amount,
		RelatedOrderID: relatedOrderID,
		Description:    description,
		Status:         domain.TransactionCompleted,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, related_order_id, description, status)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING created_at
	`, txn.ID, txn.AccountID, txn.Type, txn.Amount.StringFixed(2), txn.RelatedOrderID, txn.Description, txn.Status).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// CreateOrder stores a new pending order.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_account_id, group_id, service_type, quantity, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING created_at, updated_at
	`, order.ID, order.BuyerAccountID, order.GroupID, order.ServiceType, order.Quantity,
		order.TotalAmount.StringFixed(2), order.Status).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("order insert failed: %w", err)
	}
	return nil
}

const orderColumns = `
	id, buyer_account_id, group_id, service_type, quantity, total_amount::text, status,
	platform_fee::text, net_amount::text, leader_commission::text, member_distribution::text,
	group_members_count, per_member_amount::text, leader_account_id, member_account_ids,
	created_at, updated_at
`

// scanOrder reads one order row including the optional split and snapshot fields.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                domain.Order
		totalS           string
		platformFeeS     *string
		netS             *string
		leaderCommS      *string
		memberDistS      *string
		membersCount     *int
		perMemberS       *string
		leaderAccountID  *string
		memberAccountIDs []byte
	)
	err := row.Scan(&o.ID, &o.BuyerAccountID, &o.GroupID, &o.ServiceType, &o.Quantity, &totalS, &o.Status,
		&platformFeeS, &netS, &leaderCommS, &memberDistS, &membersCount, &perMemberS,
		&leaderAccountID, &memberAccountIDs, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.TotalAmount, err = scanDecimal(totalS); err != nil {
		return nil, err
	}

	if platformFeeS != nil && netS != nil && leaderCommS != nil && memberDistS != nil && membersCount != nil && perMemberS != nil {
		split := domain.OrderSplit{GroupMembersCount: *membersCount}
		if split.PlatformFee, err = scanDecimal(*platformFeeS); err != nil {
			return nil, err
		}
		if split.NetAmount, err = scanDecimal(*netS); err != nil {
			return nil, err
		}
		if split.LeaderCommission, err = scanDecimal(*leaderCommS); err != nil {
			return nil, err
		}
		if split.MemberDistribution, err = scanDecimal(*memberDistS); err != nil {
			return nil, err
		}
		if split.PerMemberAmount, err = scanDecimal(*perMemberS); err != nil {
			return nil, err
		}
		o.Split = &split
	}
	if leaderAccountID != nil {
		snap := domain.GroupSnapshot{LeaderAccountID: *leaderAccountID}
		if len(memberAccountIDs) > 0 {
			if err := json.Unmarshal(memberAccountIDs, &snap.MemberAccountIDs); err != nil {
				return nil, fmt.Errorf("group snapshot decode failed: %w", err)
			}
		}
		o.Snapshot = &snap
	}
	return &o, nil
}

// GetOrderByID retrieves one order.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// fetchOrderForUpdate loads and row-locks an order inside an open transaction.
func fetchOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if err != nil && isLockTimeoutError(err) {
		return nil, ErrConcurrencyTimeout
	}
	return o, err
}

// ListOrdersByBuyer returns the buyer's orders, newest first.
func (r *PostgresRepository) ListOrdersByBuyer(ctx context.Context, buyerAccountID string) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_account_id = $1 ORDER BY created_at DESC`, buyerAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// HoldOrderFunds moves the order to payment_confirmed: it escrows the buyer's funds,
// persists the computed split and the group snapshot, and flips the status, all in
// one database transaction.
func (r *PostgresRepository) HoldOrderFunds(ctx context.Context, orderID uuid.UUID, split domain.OrderSplit, snapshot domain.GroupSnapshot) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLocalLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	order, err := fetchOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderPaymentConfirmed) {
		return nil, ErrInvalidStateTransition
	}

	buyer, err := r.fetchAccount(ctx, tx, order.BuyerAccountID, true)
	if err != nil {
		return nil, err
	}
	if !buyer.Active {
		return nil, ErrAccountInactive
	}
	if buyer.AvailableBalance.LessThan(order.TotalAmount) {
		return nil, ErrInsufficientFunds
	}

	available := buyer.AvailableBalance.Sub(order.TotalAmount)
	escrow := buyer.EscrowBalance.Add(order.TotalAmount)
	if _, err := r.writeMutation(ctx, tx, buyer.ID, available, escrow, domain.TransactionEscrowHold, order.TotalAmount, &order.ID, "escrow hold for order "+order.ID.String()); err != nil {
		return nil, err
	}

	memberIDs, err := json.Marshal(snapshot.MemberAccountIDs)
	if err != nil {
		return nil, fmt.Errorf("group snapshot encode failed: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET
			status = $2,
			platform_fee = $3::numeric,
			net_amount = $4::numeric,
			leader_commission = $5::numeric,
			member_distribution = $6::numeric,
			group_members_count = $7,
			per_member_amount = $8::numeric,
			leader_account_id = $9,
			member_account_ids = $10,
			updated_at = NOW()
		WHERE id = $1
	`, order.ID, domain.OrderPaymentConfirmed,
		split.PlatformFee.StringFixed(2), split.NetAmount.StringFixed(2),
		split.LeaderCommission.StringFixed(2), split.MemberDistribution.StringFixed(2),
		split.GroupMembersCount, split.PerMemberAmount.StringFixed(2),
		snapshot.LeaderAccountID, memberIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	order.Status = domain.OrderPaymentConfirmed
	order.Split = &split
	order.Snapshot = &snapshot
	return order, nil
}

// MarkOrderInProgress performs the guarded payment_confirmed -> in_progress move.
func (r *PostgresRepository) MarkOrderInProgress(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+orderColumns,
		orderID, domain.OrderInProgress, domain.OrderPaymentConfirmed)
	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return nil, err
	}
	// Distinguish a missing order from a disallowed transition.
	if _, getErr := r.GetOrderByID(ctx, orderID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidStateTransition
}

// SettleOrder applies every settlement leg and marks the order completed in a single
// database transaction. Account rows are locked in ascending id order; any failing
// precondition or infrastructure fault rolls the whole unit back.
func (r *PostgresRepository) SettleOrder(ctx context.Context, orderID uuid.UUID, legs []SettlementLeg) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLocalLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	order, err := fetchOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderCompleted) {
		return nil, ErrInvalidStateTransition
	}

	// Payee wallets may not exist yet; create them before taking locks.
	ids := make([]string, 0, len(legs))
	seen := make(map[string]bool, len(legs))
	for _, leg := range legs {
		if !seen[leg.AccountID] {
			seen[leg.AccountID] = true
			ids = append(ids, leg.AccountID)
			if _, err := tx.Exec(ctx, `
				INSERT INTO accounts (id, available_balance, escrow_balance, active)
				VALUES ($1, 0, 0, TRUE)
				ON CONFLICT (id) DO NOTHING
			`, leg.AccountID); err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(ids)

	// Deterministic lock order across all involved accounts.
	balances := make(map[string]*domain.Account, len(ids))
	for _, id := range ids {
		acct, err := r.fetchAccount(ctx, tx, id, true)
		if err != nil {
			return nil, err
		}
		if !acct.Active {
			return nil, ErrAccountInactive
		}
		balances[id] = acct
	}

	// Validate every leg against in-memory working balances before writing anything.
	for _, leg := range legs {
		acct := balances[leg.AccountID]
		switch leg.Kind {
		case LegEscrowDebit:
			if acct.EscrowBalance.LessThan(leg.Amount) {
				return nil, ErrInsufficientEscrow
			}
			acct.EscrowBalance = acct.EscrowBalance.Sub(leg.Amount)
		case LegDeposit:
			acct.AvailableBalance = acct.AvailableBalance.Add(leg.Amount)
		}
	}

	for _, leg := range legs {
		txType := domain.TransactionDeposit
		if leg.Kind == LegEscrowDebit {
			txType = domain.TransactionEscrowRelease
		}
		txn := domain.Transaction{
			ID:             uuid.New(),
			AccountID:      leg.AccountID,
			Type:           txType,
			Amount:         leg.Amount,
			RelatedOrderID: &order.ID,
			Description:    leg.Description,
			Status:         domain.TransactionCompleted,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (id, account_id, type, amount, related_order_id, description, status)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		`, txn.ID, txn.AccountID, txn.Type, txn.Amount.StringFixed(2), txn.RelatedOrderID, txn.Description, txn.Status); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		acct := balances[id]
		if _, err := tx.Exec(ctx, `
			UPDATE accounts SET available_balance = $2::numeric, escrow_balance = $3::numeric, updated_at = NOW()
			WHERE id = $1
		`, id, acct.AvailableBalance.StringFixed(2), acct.EscrowBalance.StringFixed(2)); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, order.ID, domain.OrderCompleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	order.Status = domain.OrderCompleted
	return order, nil
}

// CancelOrder moves the order to cancelled, refunding any held escrow to the buyer's
// available balance in the same transaction.
func (r *PostgresRepository) CancelOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.setLocalLockTimeout(ctx, tx); err != nil {
		return nil, err
	}

	order, err := fetchOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderCancelled) {
		return nil, ErrInvalidStateTransition
	}

	if order.Status == domain.OrderPaymentConfirmed {
		buyer, err := r.fetchAccount(ctx, tx, order.BuyerAccountID, true)
		if err != nil {
			return nil, err
		}
		if buyer.EscrowBalance.LessThan(order.TotalAmount) {
			return nil, ErrInsufficientEscrow
		}
		escrow := buyer.EscrowBalance.Sub(order.TotalAmount)
		available := buyer.AvailableBalance.Add(order.TotalAmount)
		if _, err := r.writeMutation(ctx, tx, buyer.ID, available, escrow, domain.TransactionEscrowRelease, order.TotalAmount, &order.ID, "escrow refund for cancelled order "+order.ID.String()); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, order.ID, domain.OrderCancelled); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	order.Status = domain.OrderCancelled
	return order, nil
}
