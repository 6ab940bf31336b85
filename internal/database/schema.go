package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect selects the few DDL fragments that differ between MySQL in
// production and SQLite in tests.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

func (d Dialect) primaryKey() string {
	if d == SQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGINT AUTO_INCREMENT PRIMARY KEY"
}

func (d Dialect) tableOptions() string {
	if d == SQLite {
		return ""
	}
	return " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// schema is applied in order; referenced tables come first.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		customer_id VARCHAR(32) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'customer',
		referred_by BIGINT NULL,
		wallet_balance BIGINT NOT NULL DEFAULT 0,
		referral_balance BIGINT NOT NULL DEFAULT 0,
		credits_balance BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id {{pk}},
		user_id BIGINT NOT NULL,
		ledger VARCHAR(20) NOT NULL,
		direction VARCHAR(10) NOT NULL,
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reason VARCHAR(1000) NOT NULL DEFAULT '',
		ref_type VARCHAR(20) NOT NULL,
		ref_id BIGINT NULL,
		actor_id BIGINT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS products (
		id {{pk}},
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		kind VARCHAR(30) NOT NULL,
		description TEXT NULL,
		price BIGINT NOT NULL,
		requires_player_id BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS orders (
		id {{pk}},
		user_id BIGINT NOT NULL,
		payment_method VARCHAR(50) NOT NULL,
		payment_status VARCHAR(30) NOT NULL,
		order_status VARCHAR(30) NOT NULL,
		subtotal BIGINT NOT NULL,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL,
		coupon_code VARCHAR(64) NULL,
		proof_transaction_id VARCHAR(255) NULL,
		proof_screenshot_url VARCHAR(1024) NULL,
		proof_note VARCHAR(1000) NULL,
		invoice_id VARCHAR(255) NULL,
		invoice_url VARCHAR(1024) NULL,
		delivery_details TEXT NULL,
		delivered_at DATETIME NULL,
		completed_without_delivery BOOLEAN NOT NULL DEFAULT FALSE,
		admin_notes VARCHAR(1000) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id {{pk}},
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INT NOT NULL,
		unit_price BIGINT NOT NULL,
		player_id VARCHAR(255) NULL,
		credentials TEXT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS coupons (
		id {{pk}},
		code VARCHAR(64) NOT NULL UNIQUE,
		discount_type VARCHAR(10) NOT NULL,
		discount_value BIGINT NOT NULL,
		min_order_amount BIGINT NOT NULL DEFAULT 0,
		usage_limit INT NULL,
		used_count INT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS coupon_redemptions (
		id {{pk}},
		coupon_id BIGINT NOT NULL,
		order_id BIGINT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (coupon_id) REFERENCES coupons(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS crypto_transactions (
		id {{pk}},
		user_id BIGINT NOT NULL,
		trade_type VARCHAR(10) NOT NULL,
		chain VARCHAR(30) NOT NULL,
		amount_usd BIGINT NOT NULL,
		amount_crypto VARCHAR(64) NOT NULL DEFAULT '',
		payment_method VARCHAR(50) NOT NULL,
		funded_from_wallet BOOLEAN NOT NULL DEFAULT FALSE,
		payout_method VARCHAR(20) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL,
		wallet_address VARCHAR(255) NULL,
		receiving_info VARCHAR(1000) NULL,
		proof_reference VARCHAR(255) NULL,
		tx_hash VARCHAR(255) NULL,
		invoice_id VARCHAR(255) NULL,
		invoice_url VARCHAR(1024) NULL,
		admin_notes VARCHAR(1000) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS wallet_topups (
		id {{pk}},
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		total BIGINT NOT NULL,
		payment_method VARCHAR(50) NOT NULL,
		payment_status VARCHAR(30) NOT NULL,
		proof_transaction_id VARCHAR(255) NULL,
		proof_screenshot_url VARCHAR(1024) NULL,
		invoice_id VARCHAR(255) NULL,
		invoice_url VARCHAR(1024) NULL,
		admin_notes VARCHAR(1000) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS minutes_transfers (
		id {{pk}},
		user_id BIGINT NOT NULL,
		phone_number VARCHAR(32) NOT NULL,
		carrier VARCHAR(64) NOT NULL,
		amount BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		total BIGINT NOT NULL,
		payment_method VARCHAR(50) NOT NULL,
		payment_status VARCHAR(30) NOT NULL,
		transfer_status VARCHAR(30) NOT NULL,
		proof_transaction_id VARCHAR(255) NULL,
		proof_screenshot_url VARCHAR(1024) NULL,
		admin_notes VARCHAR(1000) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS withdrawals (
		id {{pk}},
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		method VARCHAR(20) NOT NULL,
		destination VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		admin_notes VARCHAR(1000) NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id {{pk}},
		user_id BIGINT NOT NULL,
		message VARCHAR(1000) NOT NULL,
		link VARCHAR(255) NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL
	){{opts}}`,

	`CREATE TABLE IF NOT EXISTS assistant_logs (
		id {{pk}},
		user_id BIGINT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		tokens_used INT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	){{opts}}`,
}

// Migrate creates any missing tables. It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	r := strings.NewReplacer("{{pk}}", d.primaryKey(), "{{opts}}", d.tableOptions())
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
