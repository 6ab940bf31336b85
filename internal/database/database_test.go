package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db := dbtest.New(t)

	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM users"); n != 0 {
		t.Errorf("users = %d, want 0", n)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, db, dbtest.User{})

	boom := errors.New("boom")
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE users SET wallet_balance = 500 WHERE id = ?", userID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if got := dbtest.Balance(t, db, userID, "wallet_balance"); got != 0 {
		t.Errorf("wallet_balance = %d, want 0 after rollback", got)
	}

	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE users SET wallet_balance = 500 WHERE id = ?", userID)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if got := dbtest.Balance(t, db, userID, "wallet_balance"); got != 500 {
		t.Errorf("wallet_balance = %d, want 500", got)
	}
}

func TestIsDuplicate(t *testing.T) {
	db := dbtest.New(t)
	dbtest.SeedUser(t, db, dbtest.User{Email: "dup@example.com"})

	_, err := db.Exec(`INSERT INTO users (customer_id, email, password_hash, created_at, updated_at)
		VALUES ('CUS-DUP', 'dup@example.com', 'x', '2024-01-01', '2024-01-01')`)
	if !database.IsDuplicate(err) {
		t.Fatalf("IsDuplicate(%v) = false", err)
	}
	if database.IsDuplicate(errors.New("boom")) || database.IsDuplicate(nil) {
		t.Error("unrelated errors reported as duplicates")
	}
}
