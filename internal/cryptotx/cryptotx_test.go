package cryptotx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/payment"
)

const address = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

type stubInvoices struct{ calls int }

func (s *stubInvoices) CreateInvoice(_ context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	s.calls++
	return &payment.Invoice{ID: "INV-" + req.OrderNumber, URL: "https://pay.example/" + req.OrderNumber}, nil
}

func newService(t *testing.T, invoices payment.InvoiceProvider) (*Service, *sql.DB) {
	t.Helper()
	db := dbtest.New(t)
	log := logger.NewNop()
	svc := NewService(db, ledger.NewStore(log), payment.NewGateways([]string{"paypal"}, true), invoices, nil, log)
	return svc, db
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if apperr.KindOf(err) != kind {
		t.Fatalf("error = %v, want %s", err, kind)
	}
}

func TestWalletBuyDebitsAndRefundsOnReject(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{Wallet: money.FromUnits(100)})

	tx, err := svc.Buy(ctx, user, BuyInput{Chain: "btc", AmountUSD: money.FromUnits(40), PaymentMethod: "wallet", WalletAddress: address})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !tx.FundedFromWallet || tx.Status != models.CryptoPending || tx.Chain != "BTC" {
		t.Fatalf("unexpected buy %+v", tx)
	}
	if got := dbtest.Balance(t, db, user, "wallet_balance"); got != 6000 {
		t.Fatalf("wallet after buy = %d, want 6000", got)
	}

	if _, err := svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "rejected", AdminNotes: "<b>bad</b> address"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := dbtest.Balance(t, db, user, "wallet_balance"); got != 10000 {
		t.Fatalf("wallet after reject = %d, want 10000", got)
	}
	got, _ := svc.Get(ctx, tx.ID)
	if got.AdminNotes == nil || *got.AdminNotes != "bad address" {
		t.Fatalf("admin notes = %v", got.AdminNotes)
	}

	// Rejecting again is a no-op and must not refund twice.
	if _, err := svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "rejected"}); err != nil {
		t.Fatalf("repeat reject: %v", err)
	}
	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM ledger_entries WHERE ref_type = 'crypto'"); n != 2 {
		t.Fatalf("crypto ledger entries = %d, want 2", n)
	}
}

func TestBuyRejectsBadInput(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{Wallet: money.FromUnits(10)})

	_, err := svc.Buy(ctx, user, BuyInput{Chain: "BTC", AmountUSD: money.FromUnits(5), PaymentMethod: "crypto_plisio", WalletAddress: address})
	wantKind(t, err, apperr.KindValidation)

	_, err = svc.Buy(ctx, user, BuyInput{Chain: "BTC", AmountUSD: money.FromUnits(5), PaymentMethod: "wallet", WalletAddress: "short"})
	wantKind(t, err, apperr.KindValidation)

	_, err = svc.Buy(ctx, user, BuyInput{Chain: "BTC", AmountUSD: money.FromUnits(50), PaymentMethod: "wallet", WalletAddress: address})
	wantKind(t, err, apperr.KindInsufficientFunds)

	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM crypto_transactions"); n != 0 {
		t.Fatalf("rows persisted = %d, want 0", n)
	}
}

func TestManualBuyLifecycle(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{})

	tx, err := svc.Buy(ctx, user, BuyInput{Chain: "ETH", AmountUSD: money.FromUnits(20), PaymentMethod: "PayPal", WalletAddress: address, ProofReference: "PP-1"})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if tx.FundedFromWallet || tx.PaymentMethod != "paypal" {
		t.Fatalf("unexpected buy %+v", tx)
	}

	_, err = svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "completed"})
	wantKind(t, err, apperr.KindIllegalTransition)

	if _, err := svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "processing"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	done, err := svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "completed", TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.TxHash == nil || *done.TxHash != "0xabc" {
		t.Fatalf("tx hash = %v", done.TxHash)
	}

	_, err = svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "failed"})
	wantKind(t, err, apperr.KindIllegalTransition)
	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM ledger_entries"); n != 0 {
		t.Fatalf("ledger entries = %d, want 0", n)
	}
}

func TestSellConfirmReceiptIsIdempotent(t *testing.T) {
	inv := &stubInvoices{}
	svc, db := newService(t, inv)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{})

	tx, err := svc.Sell(ctx, user, SellInput{Chain: "USDT", AmountUSD: money.FromUnits(75), PayoutMethod: "wallet"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if tx.PaymentMethod != methodCryptoTransfer || tx.InvoiceID == nil || *tx.InvoiceID != "INV-crypto-1" {
		t.Fatalf("unexpected sell %+v", tx)
	}

	for i := 0; i < 2; i++ {
		applied, err := svc.ApplyPaymentEvent(ctx, tx.ID, payment.EventConfirmed)
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		if applied != (i == 0) {
			t.Fatalf("confirm %d applied = %v", i, applied)
		}
	}
	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != models.CryptoCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if b := dbtest.Balance(t, db, user, "wallet_balance"); b != 7500 {
		t.Fatalf("wallet = %d, want 7500", b)
	}
}

func TestExternalSell(t *testing.T) {
	svc, db := newService(t, nil)
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{})

	_, err := svc.Sell(ctx, user, SellInput{Chain: "BTC", AmountUSD: money.FromUnits(10), PayoutMethod: "external"})
	wantKind(t, err, apperr.KindValidation)

	tx, err := svc.Sell(ctx, user, SellInput{Chain: "BTC", AmountUSD: money.FromUnits(10), PayoutMethod: "external", ReceivingInfo: "paypal: me@example.com"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if applied, err := svc.ConfirmReceipt(ctx, 1, tx.ID); err != nil || !applied {
		t.Fatalf("ConfirmReceipt = %v, %v", applied, err)
	}
	if applied, _ := svc.ConfirmReceipt(ctx, 1, tx.ID); applied {
		t.Fatal("second confirm applied")
	}
	if _, err := svc.UpdateStatus(ctx, 1, tx.ID, StatusInput{Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b := dbtest.Balance(t, db, user, "wallet_balance"); b != 0 {
		t.Fatalf("wallet = %d, want 0 for external payout", b)
	}
}

func TestFailedInvoiceEvent(t *testing.T) {
	svc, db := newService(t, &stubInvoices{})
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{})

	tx, err := svc.Sell(ctx, user, SellInput{Chain: "LTC", AmountUSD: money.FromUnits(5), PayoutMethod: "wallet"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if applied, err := svc.ApplyPaymentEvent(ctx, tx.ID, payment.EventFailed); err != nil || !applied {
		t.Fatalf("failed event = %v, %v", applied, err)
	}
	if applied, _ := svc.ApplyPaymentEvent(ctx, tx.ID, payment.EventConfirmed); applied {
		t.Fatal("confirm after failure applied")
	}
	list, err := svc.List(ctx, Filter{UserID: user, Status: "failed"})
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d, %v", len(list), err)
	}
}

func TestWebhookLosingRaceIsNoOp(t *testing.T) {
	svc, db := newService(t, &stubInvoices{})
	ctx := context.Background()
	user := dbtest.SeedUser(t, db, dbtest.User{})

	sell, err := svc.Sell(ctx, user, SellInput{Chain: "BTC", AmountUSD: money.FromUnits(20), PayoutMethod: "wallet"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}

	// An admin rejects the trade after the webhook read it as pending.
	svc.beforeMove = func(ctx context.Context, tx *sql.Tx, id int64) {
		if _, err := tx.ExecContext(ctx, "UPDATE crypto_transactions SET status = ? WHERE id = ?", string(models.CryptoRejected), id); err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}
	for _, ev := range []payment.Event{payment.EventConfirmed, payment.EventFailed} {
		applied, err := svc.ApplyPaymentEvent(ctx, sell.ID, ev)
		if err != nil || applied {
			t.Fatalf("%s event = %v, %v, want no-op", ev, applied, err)
		}
	}
	svc.beforeMove = nil

	if b := dbtest.Balance(t, db, user, "wallet_balance"); b != 0 {
		t.Fatalf("wallet = %d, want 0", b)
	}

	// Admin requests that lose the same race still report the conflict.
	svc.beforeMove = func(ctx context.Context, tx *sql.Tx, id int64) {
		if _, err := tx.ExecContext(ctx, "UPDATE crypto_transactions SET status = ? WHERE id = ?", string(models.CryptoFailed), id); err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}
	other, err := svc.Sell(ctx, user, SellInput{Chain: "BTC", AmountUSD: money.FromUnits(5), PayoutMethod: "wallet"})
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	_, err = svc.UpdateStatus(ctx, 1, other.ID, StatusInput{Status: "processing"})
	wantKind(t, err, apperr.KindIllegalTransition)
}
