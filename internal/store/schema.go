/**
 * @description
 * This file holds the DDL for the wallet-service tables and a bootstrap helper that
 * applies it idempotently at startup. Balance columns are NUMERIC with database-level
 * non-negativity checks as a second line of defense behind the repository logic.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS accounts (
	    id TEXT PRIMARY KEY,
	    available_balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
	    escrow_balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (escrow_balance >= 0),
	    active BOOLEAN NOT NULL DEFAULT TRUE,
	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS transactions (
	    id UUID PRIMARY KEY,
	    account_id TEXT NOT NULL REFERENCES accounts(id),
	    type TEXT NOT NULL,
	    amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
	    related_order_id UUID,
	    description TEXT NOT NULL DEFAULT '',
	    status TEXT NOT NULL,
	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_created
	    ON transactions (account_id, created_at DESC);
	CREATE TABLE IF NOT EXISTS orders (
	    id UUID PRIMARY KEY,
	    buyer_account_id TEXT NOT NULL,
	    group_id TEXT NOT NULL,
	    service_type TEXT NOT NULL,
	    quantity INT NOT NULL CHECK (quantity >= 1),
	    total_amount NUMERIC(20,2) NOT NULL CHECK (total_amount > 0),
	    status TEXT NOT NULL,
	    platform_fee NUMERIC(20,2),
	    net_amount NUMERIC(20,2),
	    leader_commission NUMERIC(20,2),
	    member_distribution NUMERIC(20,2),
	    group_members_count INT,
	    per_member_amount NUMERIC(20,2),
	    leader_account_id TEXT,
	    member_account_ids JSONB,
	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_account_id, created_at DESC);
`

// EnsureSchema creates the wallet tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaDDL)
	return err
}
