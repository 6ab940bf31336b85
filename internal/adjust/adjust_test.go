package adjust

import (
	"context"
	"testing"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/money"
)

func TestAdjust(t *testing.T) {
	db := dbtest.New(t)
	log := logger.NewNop()
	svc := NewService(db, ledger.NewStore(log), log)
	ctx := context.Background()

	alice := dbtest.SeedUser(t, db, dbtest.User{Email: "alice@example.com", Wallet: money.FromUnits(10)})
	dbtest.SeedUser(t, db, dbtest.User{Email: "bob@example.com"})

	res, err := svc.Adjust(ctx, 99, Input{Identifier: "ALICE@example.com", Ledger: "wallet", Action: "add", Amount: "5.50", Reason: "goodwill <i>credit</i>"})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if res.UserID != alice || res.NewBalance != "15.50" {
		t.Fatalf("unexpected result %+v", res)
	}
	var reason string
	if err := db.QueryRow("SELECT reason FROM ledger_entries WHERE user_id = ? AND ref_type = 'admin'", alice).Scan(&reason); err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if reason != "goodwill credit" {
		t.Fatalf("reason = %q", reason)
	}

	res, err = svc.Adjust(ctx, 99, Input{Identifier: res.CustomerID, Ledger: "credits", Action: "add", Amount: "3", Reason: "promo"})
	if err != nil {
		t.Fatalf("credits: %v", err)
	}
	if res.NewBalance != "3" {
		t.Fatalf("credits balance = %s", res.NewBalance)
	}
}

func TestAdjustActionSpellings(t *testing.T) {
	db := dbtest.New(t)
	log := logger.NewNop()
	svc := NewService(db, ledger.NewStore(log), log)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{Email: "dave@example.com", Wallet: money.FromUnits(10)})

	tests := []struct {
		action     string
		want       string
		newBalance string
	}{
		{"credit", ActionCredit, "11.00"},
		{"add", ActionCredit, "12.00"},
		{"debit", ActionDebit, "11.00"},
		{"subtract", ActionDebit, "10.00"},
		{"DEBIT", ActionDebit, "9.00"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			res, err := svc.Adjust(ctx, 1, Input{Identifier: "dave@example.com", Ledger: "wallet", Action: tt.action, Amount: "1.00", Reason: "correction"})
			if err != nil {
				t.Fatalf("Adjust(%s): %v", tt.action, err)
			}
			if res.Action != tt.want || res.NewBalance != tt.newBalance {
				t.Fatalf("result = %+v, want action %s balance %s", res, tt.want, tt.newBalance)
			}
		})
	}
	if got := dbtest.Balance(t, db, user, "wallet_balance"); got != 900 {
		t.Fatalf("wallet = %d, want 900", got)
	}
	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM ledger_entries WHERE ref_type = 'admin' AND direction = 'debit'"); n != 3 {
		t.Fatalf("debit entries = %d, want 3", n)
	}

	if _, err := svc.Adjust(ctx, 1, Input{Identifier: "dave@example.com", Ledger: "wallet", Action: "refund", Amount: "1.00", Reason: "x"}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("unknown action error = %v", err)
	}
}

func TestAdjustRejects(t *testing.T) {
	db := dbtest.New(t)
	log := logger.NewNop()
	svc := NewService(db, ledger.NewStore(log), log)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{Email: "carol@example.com", Wallet: money.FromUnits(1)})

	tests := []struct {
		name string
		in   Input
		kind apperr.Kind
	}{
		{"blank reason", Input{Identifier: "carol@example.com", Ledger: "wallet", Action: "add", Amount: "1.00", Reason: " <b></b> "}, apperr.KindValidation},
		{"unknown user", Input{Identifier: "nobody@example.com", Ledger: "wallet", Action: "add", Amount: "1.00", Reason: "x"}, apperr.KindAmbiguousOrNotFound},
		{"bad ledger", Input{Identifier: "carol@example.com", Ledger: "points", Action: "add", Amount: "1.00", Reason: "x"}, apperr.KindValidation},
		{"fractional credits", Input{Identifier: "carol@example.com", Ledger: "credits", Action: "add", Amount: "1.5", Reason: "x"}, apperr.KindValidation},
		{"overdraw", Input{Identifier: "carol@example.com", Ledger: "wallet", Action: "subtract", Amount: "2.00", Reason: "x"}, apperr.KindInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Adjust(ctx, 1, tt.in)
			if apperr.KindOf(err) != tt.kind {
				t.Fatalf("error = %v, want %s", err, tt.kind)
			}
		})
	}

	res, err := svc.Adjust(ctx, 1, Input{Identifier: "carol@example.com", Ledger: "wallet", Action: "subtract", Amount: "2.00", Reason: "chargeback", Override: true})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if res.NewBalance != "-1.00" {
		t.Fatalf("balance = %s, want -1.00", res.NewBalance)
	}
	if got := dbtest.Balance(t, db, user, "wallet_balance"); got != -100 {
		t.Fatalf("wallet = %d", got)
	}
}
