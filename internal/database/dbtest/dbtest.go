// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/money"
	_ "github.com/mattn/go-sqlite3"
)

var seq atomic.Int64

// New returns a fresh, migrated database private to the calling test.
// The pool holds a single connection, so concurrent callers queue the same
// way row locks would serialize them in MySQL. Code under test must never
// use the pool while it holds an open transaction.
func New(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// User describes a seeded account.
type User struct {
	Email      string
	Role       string
	Wallet     money.Amount
	Referral   money.Amount
	Credits    int64
	ReferredBy int64
}

// SeedUser inserts a user with the given balances and returns its id.
func SeedUser(t *testing.T, db *sql.DB, u User) int64 {
	t.Helper()

	if u.Role == "" {
		u.Role = "customer"
	}
	n := seq.Add(1)
	if u.Email == "" {
		u.Email = fmt.Sprintf("user%d@example.com", n)
	}
	var referredBy interface{}
	if u.ReferredBy != 0 {
		referredBy = u.ReferredBy
	}

	now := time.Now().UTC()
	res, err := db.Exec(`
		INSERT INTO users
		(customer_id, email, password_hash, full_name, role, referred_by,
		 wallet_balance, referral_balance, credits_balance, created_at, updated_at)
		VALUES (?, ?, 'x', 'Test User', ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("CUS-T%07d", n), u.Email, u.Role, referredBy,
		int64(u.Wallet), int64(u.Referral), u.Credits, now, now)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// SeedProduct inserts an active product and returns its id.
func SeedProduct(t *testing.T, db *sql.DB, name string, price money.Amount, requiresPlayerID bool) int64 {
	t.Helper()

	now := time.Now().UTC()
	slug := fmt.Sprintf("%s-%d", strings.ToLower(strings.ReplaceAll(name, " ", "-")), seq.Add(1))
	res, err := db.Exec(`
		INSERT INTO products (name, slug, kind, description, price, requires_player_id, active, created_at, updated_at)
		VALUES (?, ?, 'gift_card', '', ?, ?, TRUE, ?, ?)`,
		name, slug, int64(price), requiresPlayerID, now, now)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// Balance reads a materialized balance column straight from users.
func Balance(t *testing.T, db *sql.DB, userID int64, column string) int64 {
	t.Helper()

	var v int64
	if err := db.QueryRow("SELECT "+column+" FROM users WHERE id = ?", userID).Scan(&v); err != nil {
		t.Fatalf("read %s: %v", column, err)
	}
	return v
}

// Count runs a COUNT(*) query.
func Count(t *testing.T, db *sql.DB, query string, args ...interface{}) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
