package orders

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/payment"
)

type fakeInvoices struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeInvoices) CreateInvoice(_ context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, apperr.New(apperr.KindExternalGateway, "Crypto payment provider is unavailable, please retry")
	}
	return &payment.Invoice{ID: "INV-" + req.OrderNumber, URL: "https://pay.example/" + req.OrderNumber}, nil
}

type fixture struct {
	db       *sql.DB
	svc      *Service
	coupons  *coupon.Engine
	invoices *fakeInvoices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	log := logger.NewNop()
	coupons := coupon.NewEngine(db, log)
	inv := &fakeInvoices{}
	svc := NewService(Deps{
		DB:              db,
		Ledger:          ledger.NewStore(log),
		Coupons:         coupons,
		Gateways:        payment.NewGateways([]string{"paypal", "zelle"}, true),
		Invoices:        inv,
		Log:             log,
		ReferralRateBPS: 500,
	})
	return &fixture{db: db, svc: svc, coupons: coupons, invoices: inv}
}

func (f *fixture) checkout(t *testing.T, userID, productID int64, method, couponCode string) *models.Order {
	t.Helper()
	o, err := f.svc.Checkout(context.Background(), userID, CheckoutInput{
		Items:         []CheckoutItem{{ProductID: productID, Quantity: 1}},
		PaymentMethod: method,
		CouponCode:    couponCode,
	})
	if err != nil {
		t.Fatalf("Checkout(%s): %v", method, err)
	}
	return o
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if apperr.KindOf(err) != kind {
		t.Fatalf("error = %v, want %s", err, kind)
	}
}

func TestWalletCheckoutEndToEnd(t *testing.T) {
	f := newFixture(t)
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(30)})
	productID := dbtest.SeedProduct(t, f.db, "Steam Card", money.FromUnits(25), false)

	o := f.checkout(t, userID, productID, "wallet", "")

	if o.PaymentStatus != models.PaymentPaid || o.OrderStatus != models.OrderProcessing {
		t.Fatalf("state = %s, want paid/processing", o.State())
	}
	if o.TotalAmount != money.FromUnits(25) || len(o.Items) != 1 || o.Items[0].UnitPrice != money.FromUnits(25) {
		t.Errorf("order = %+v", o)
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 500 {
		t.Errorf("wallet_balance = %d, want 500", got)
	}
	if n := dbtest.Count(t, f.db,
		"SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND ledger = 'wallet' AND ref_type = 'order' AND ref_id = ?",
		userID, o.ID); n != 1 {
		t.Errorf("order ledger entries = %d, want 1", n)
	}
}

func TestWalletCheckoutInsufficientFundsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(10)})
	productID := dbtest.SeedProduct(t, f.db, "Netflix", money.FromUnits(25), false)

	_, err := f.svc.Checkout(context.Background(), userID, CheckoutInput{
		Items:         []CheckoutItem{{ProductID: productID, Quantity: 1}},
		PaymentMethod: "wallet",
	})
	if !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want InsufficientFunds", err)
	}
	if n := dbtest.Count(t, f.db, "SELECT COUNT(*) FROM orders"); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
	if n := dbtest.Count(t, f.db, "SELECT COUNT(*) FROM order_items"); n != 0 {
		t.Errorf("order items = %d, want 0", n)
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 1000 {
		t.Errorf("wallet_balance = %d, want 1000", got)
	}
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100)})
	game := dbtest.SeedProduct(t, f.db, "Game Coins", money.FromUnits(5), true)

	_, err := f.svc.Checkout(ctx, userID, CheckoutInput{Items: []CheckoutItem{{ProductID: game, Quantity: 1}}, PaymentMethod: "wallet"})
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Checkout(ctx, userID, CheckoutInput{Items: []CheckoutItem{{ProductID: 999, Quantity: 1}}, PaymentMethod: "wallet"})
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Checkout(ctx, userID, CheckoutInput{Items: []CheckoutItem{{ProductID: game, Quantity: 1, PlayerID: "p1"}}, PaymentMethod: "bitcoin_atm"})
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Checkout(ctx, userID, CheckoutInput{Items: []CheckoutItem{{ProductID: game, Quantity: 1, PlayerID: "p1"}}, PaymentMethod: "wallet", CouponCode: "NOPE"})
	wantKind(t, err, apperr.KindCouponInvalid)

	if n := dbtest.Count(t, f.db, "SELECT COUNT(*) FROM orders"); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
}

func TestCheckoutWithCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100)})
	productID := dbtest.SeedProduct(t, f.db, "Gift Card", money.FromUnits(50), false)
	if _, err := f.coupons.Create(ctx, coupon.CreateInput{Code: "TEN", DiscountType: models.DiscountPercent, DiscountValue: money.FromUnits(10)}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	q, err := f.svc.Quote(ctx, []CheckoutItem{{ProductID: productID, Quantity: 1}}, "ten")
	if err != nil || q.DiscountAmount != money.FromUnits(5) {
		t.Fatalf("Quote = %+v, %v", q, err)
	}
	if n := dbtest.Count(t, f.db, "SELECT used_count FROM coupons WHERE code = 'TEN'"); n != 0 {
		t.Fatalf("used_count after quote = %d, want 0", n)
	}

	o := f.checkout(t, userID, productID, "wallet", "ten")
	if o.DiscountAmount != money.FromUnits(5) || o.TotalAmount != money.FromUnits(45) {
		t.Errorf("discount %s total %s", o.DiscountAmount, o.TotalAmount)
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 5500 {
		t.Errorf("wallet_balance = %d, want 5500", got)
	}
	if n := dbtest.Count(t, f.db, "SELECT used_count FROM coupons WHERE code = 'TEN'"); n != 1 {
		t.Errorf("used_count = %d, want 1", n)
	}
}

func TestFullDiscountIsPaidImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Cheap Card", money.FromUnits(15), false)
	if _, err := f.coupons.Create(ctx, coupon.CreateInput{Code: "TWENTY", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(20)}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	o := f.checkout(t, userID, productID, "paypal", "TWENTY")
	if o.TotalAmount != 0 || o.DiscountAmount != money.FromUnits(15) {
		t.Fatalf("discount %s total %s", o.DiscountAmount, o.TotalAmount)
	}
	if o.State() != stateProcessing {
		t.Errorf("state = %s, want paid/processing", o.State())
	}
	if n := dbtest.Count(t, f.db, "SELECT COUNT(*) FROM ledger_entries"); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestDeliveryLegalityAndWriteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100)})
	productID := dbtest.SeedProduct(t, f.db, "Code", money.FromUnits(10), false)

	manual := f.checkout(t, userID, productID, "paypal", "")
	_, err := f.svc.Deliver(ctx, adminID, manual.ID, DeliveryInput{Details: "CODE-1"})
	wantKind(t, err, apperr.KindIllegalTransition)

	paid := f.checkout(t, userID, productID, "wallet", "")
	first, err := f.svc.Deliver(ctx, adminID, paid.ID, DeliveryInput{Details: "CODE-2"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if first.State() != stateCompleted || first.DeliveryInfo == nil || first.DeliveryInfo.Details != "CODE-2" {
		t.Fatalf("delivered order = %+v", first)
	}

	_, err = f.svc.Deliver(ctx, adminID, paid.ID, DeliveryInput{Details: "CODE-3"})
	wantKind(t, err, apperr.KindIllegalTransition)

	again, err := f.svc.Get(ctx, paid.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !again.DeliveryInfo.DeliveredAt.Equal(first.DeliveryInfo.DeliveredAt) || again.DeliveryInfo.Details != "CODE-2" {
		t.Errorf("delivery changed: %+v -> %+v", first.DeliveryInfo, again.DeliveryInfo)
	}

	_, err = f.svc.Deliver(ctx, adminID, paid.ID, DeliveryInput{Details: "  "})
	wantKind(t, err, apperr.KindValidation)
}

func TestManualProofFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	other := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(20), false)

	o := f.checkout(t, userID, productID, "zelle", "")
	if o.State() != statePending {
		t.Fatalf("state = %s, want pending/pending", o.State())
	}

	_, err := f.svc.SubmitProof(ctx, other, o.ID, ProofInput{TransactionID: "TX1"})
	wantKind(t, err, apperr.KindNotFound)

	o, err = f.svc.SubmitProof(ctx, userID, o.ID, ProofInput{TransactionID: "TX1", Note: "<b>sent</b>"})
	if err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	if o.State() != stateVerifying || o.PaymentProof == nil || o.PaymentProof.Note != "sent" {
		t.Fatalf("order after proof = %+v", o)
	}

	o, err = f.svc.SubmitProof(ctx, userID, o.ID, ProofInput{TransactionID: "TX2"})
	if err != nil || o.PaymentProof.TransactionID != "TX2" {
		t.Fatalf("replace proof: %+v, %v", o.PaymentProof, err)
	}

	o, err = f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{PaymentStatus: "paid"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if o.State() != stateProcessing {
		t.Errorf("state = %s, want paid/processing", o.State())
	}

	_, err = f.svc.SubmitProof(ctx, userID, o.ID, ProofInput{TransactionID: "TX3"})
	wantKind(t, err, apperr.KindIllegalTransition)
}

func TestAdminReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(20), false)

	o := f.checkout(t, userID, productID, "paypal", "")
	if _, err := f.svc.SubmitProof(ctx, userID, o.ID, ProofInput{TransactionID: "T"}); err != nil {
		t.Fatalf("SubmitProof: %v", err)
	}
	o, err := f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{PaymentStatus: "failed", AdminNotes: "no such payment"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if o.State() != stateFailed || o.AdminNotes == nil || *o.AdminNotes != "no such payment" {
		t.Fatalf("rejected order = %+v", o)
	}

	// Same state again is a no-op, anything else is illegal.
	if _, err := f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{PaymentStatus: "failed"}); err != nil {
		t.Errorf("repeat reject: %v", err)
	}
	_, err = f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{PaymentStatus: "paid"})
	wantKind(t, err, apperr.KindIllegalTransition)
}

func TestMarkCompleteRequiresOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(50)})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(20), false)
	o := f.checkout(t, userID, productID, "wallet", "")

	_, err := f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{OrderStatus: "completed"})
	wantKind(t, err, apperr.KindIllegalTransition)

	o, err = f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{OrderStatus: "completed", Override: true})
	if err != nil {
		t.Fatalf("override complete: %v", err)
	}
	if o.State() != stateCompleted || !o.CompletedWithoutDelivery || o.DeliveryInfo != nil {
		t.Errorf("order = %+v", o)
	}

	_, err = f.svc.Deliver(ctx, adminID, o.ID, DeliveryInput{Details: "late code"})
	wantKind(t, err, apperr.KindIllegalTransition)
}

func TestAdminCancelPaidOrderRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(30)})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)
	o := f.checkout(t, userID, productID, "wallet", "")

	_, err := f.svc.Cancel(ctx, userID, o.ID)
	wantKind(t, err, apperr.KindIllegalTransition)

	o, err = f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{OrderStatus: "cancelled"})
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if o.State() != stateRefunded {
		t.Fatalf("state = %s, want refunded/cancelled", o.State())
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 3000 {
		t.Errorf("wallet_balance = %d, want 3000", got)
	}

	// A second cancel request resolves to the current state.
	if _, err := f.svc.AdminSetStatus(ctx, adminID, o.ID, StatusInput{OrderStatus: "cancelled"}); err != nil {
		t.Errorf("repeat cancel: %v", err)
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 3000 {
		t.Errorf("wallet_balance after repeat = %d, want 3000", got)
	}
}

func TestRefundReversesReferralCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminID := dbtest.SeedUser(t, f.db, dbtest.User{Role: "admin"})
	referrer := dbtest.SeedUser(t, f.db, dbtest.User{})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100), ReferredBy: referrer})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(40), false)

	first := f.checkout(t, userID, productID, "wallet", "")
	second := f.checkout(t, userID, productID, "wallet", "")
	if got := dbtest.Balance(t, f.db, referrer, "referral_balance"); got != 400 {
		t.Fatalf("referral_balance = %d, want 400", got)
	}

	if _, err := f.svc.AdminSetStatus(ctx, adminID, first.ID, StatusInput{OrderStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if got := dbtest.Balance(t, f.db, referrer, "referral_balance"); got != 200 {
		t.Errorf("referral_balance = %d, want 200", got)
	}
	if got := dbtest.Balance(t, f.db, userID, "wallet_balance"); got != 6000 {
		t.Errorf("wallet_balance = %d, want 6000", got)
	}

	// The referrer already spent the rest; the reversal still lands.
	if _, err := f.db.Exec("UPDATE users SET referral_balance = 0 WHERE id = ?", referrer); err != nil {
		t.Fatalf("drain referral: %v", err)
	}
	if _, err := f.svc.AdminSetStatus(ctx, adminID, second.ID, StatusInput{OrderStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel second: %v", err)
	}
	if got := dbtest.Balance(t, f.db, referrer, "referral_balance"); got != -200 {
		t.Errorf("referral_balance = %d, want -200", got)
	}
	if n := dbtest.Count(t, f.db, "SELECT COUNT(*) FROM ledger_entries WHERE ref_type = 'referral' AND direction = 'debit'"); n != 2 {
		t.Errorf("reversal entries = %d, want 2", n)
	}
}

func TestCustomerCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)
	o := f.checkout(t, userID, productID, "paypal", "")

	for i := 0; i < 2; i++ {
		got, err := f.svc.Cancel(ctx, userID, o.ID)
		if err != nil {
			t.Fatalf("Cancel #%d: %v", i+1, err)
		}
		if got.State() != stateCancelled {
			t.Fatalf("state = %s", got.State())
		}
	}
}

func TestReferralCommission(t *testing.T) {
	f := newFixture(t)
	referrer := dbtest.SeedUser(t, f.db, dbtest.User{})
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100), ReferredBy: referrer})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(40), false)

	f.checkout(t, userID, productID, "wallet", "")

	// 5% of 40.00
	if got := dbtest.Balance(t, f.db, referrer, "referral_balance"); got != 200 {
		t.Errorf("referral_balance = %d, want 200", got)
	}
	if got := dbtest.Balance(t, f.db, referrer, "wallet_balance"); got != 0 {
		t.Errorf("referrer wallet_balance = %d, want 0", got)
	}
}

func TestCryptoCheckoutAndWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)

	o := f.checkout(t, userID, productID, "crypto_plisio", "")
	if o.State() != statePending || o.InvoiceID == nil || *o.InvoiceID != "INV-order-1" {
		t.Fatalf("crypto order = %+v", o)
	}

	// A stale invoice id is ignored.
	applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventConfirmed, "INV-other")
	if err != nil || applied {
		t.Fatalf("foreign invoice: applied=%v err=%v", applied, err)
	}

	for i := 0; i < 2; i++ {
		applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventConfirmed, *o.InvoiceID)
		if err != nil {
			t.Fatalf("confirm #%d: %v", i+1, err)
		}
		if applied != (i == 0) {
			t.Errorf("confirm #%d applied = %v", i+1, applied)
		}
	}

	// A late failure after payment is ignored too.
	if applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventFailed, ""); err != nil || applied {
		t.Errorf("late failure: applied=%v err=%v", applied, err)
	}

	got, err := f.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State() != stateProcessing {
		t.Errorf("state = %s, want paid/processing", got.State())
	}
}

func TestCryptoWebhookFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)
	o := f.checkout(t, userID, productID, "crypto_plisio", "")

	if applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventIgnored, ""); err != nil || applied {
		t.Fatalf("ignored event: applied=%v err=%v", applied, err)
	}
	if applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventFailed, ""); err != nil || !applied {
		t.Fatalf("failure: applied=%v err=%v", applied, err)
	}
	if applied, err := f.svc.ApplyPaymentEvent(ctx, o.ID, payment.EventConfirmed, ""); err != nil || applied {
		t.Fatalf("confirm after failure: applied=%v err=%v", applied, err)
	}
	got, _ := f.svc.Get(ctx, o.ID)
	if got.State() != stateFailed {
		t.Errorf("state = %s, want failed/cancelled", got.State())
	}
}

func TestInvoiceEmailLookupFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	f.svc.log = &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)
	f.invoices.fail = true

	o, err := f.svc.Checkout(ctx, userID, CheckoutInput{
		Items:         []CheckoutItem{{ProductID: productID, Quantity: 1}},
		PaymentMethod: "crypto_plisio",
	})
	if !errors.Is(err, apperr.ErrExternalGateway) {
		t.Fatalf("error = %v, want ExternalGatewayError", err)
	}
	if n := logs.FilterMessage("load email for invoice").Len(); n != 0 {
		t.Fatalf("email warnings before breakage = %d", n)
	}

	if _, err := f.db.Exec("ALTER TABLE users RENAME COLUMN email TO contact_email"); err != nil {
		t.Fatalf("rename column: %v", err)
	}
	f.invoices.fail = false
	o, err = f.svc.CreateInvoice(ctx, userID, o.ID)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if o.InvoiceID == nil {
		t.Fatal("invoice id not stored")
	}
	entries := logs.FilterMessage("load email for invoice").All()
	if len(entries) != 1 || entries[0].ContextMap()["order_id"] != o.ID {
		t.Fatalf("email warnings = %+v", entries)
	}
}

func TestInvoiceProviderFailureKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(25), false)
	f.invoices.fail = true

	o, err := f.svc.Checkout(ctx, userID, CheckoutInput{
		Items:         []CheckoutItem{{ProductID: productID, Quantity: 1}},
		PaymentMethod: "crypto_plisio",
	})
	if !errors.Is(err, apperr.ErrExternalGateway) {
		t.Fatalf("error = %v, want ExternalGatewayError", err)
	}
	if o == nil || o.State() != statePending || o.InvoiceID != nil {
		t.Fatalf("order = %+v", o)
	}

	f.invoices.fail = false
	o, err = f.svc.CreateInvoice(ctx, userID, o.ID)
	if err != nil {
		t.Fatalf("retry CreateInvoice: %v", err)
	}
	if o.InvoiceID == nil {
		t.Fatal("invoice id not stored")
	}

	// Asking again returns the stored invoice.
	if _, err := f.svc.CreateInvoice(ctx, userID, o.ID); err != nil {
		t.Fatalf("CreateInvoice again: %v", err)
	}
	if f.invoices.calls != 2 {
		t.Errorf("provider calls = %d, want 2", f.invoices.calls)
	}
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100)})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(10), false)

	old := f.checkout(t, userID, productID, "paypal", "")
	fresh := f.checkout(t, userID, productID, "paypal", "")
	paid := f.checkout(t, userID, productID, "wallet", "")

	backdated := time.Now().UTC().Add(-3 * time.Hour)
	for _, id := range []int64{old.ID, paid.ID} {
		if _, err := f.db.Exec("UPDATE orders SET created_at = ? WHERE id = ?", backdated, id); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	if n, err := f.svc.ExpirePending(ctx, 0); err != nil || n != 0 {
		t.Fatalf("disabled expiry: n=%d err=%v", n, err)
	}
	n, err := f.svc.ExpirePending(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	states := map[int64]models.OrderState{old.ID: stateCancelled, fresh.ID: statePending, paid.ID: stateProcessing}
	for id, want := range states {
		got, err := f.svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%d): %v", id, err)
		}
		if got.State() != want {
			t.Errorf("order %d state = %s, want %s", id, got.State(), want)
		}
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := dbtest.SeedUser(t, f.db, dbtest.User{Wallet: money.FromUnits(100)})
	other := dbtest.SeedUser(t, f.db, dbtest.User{})
	productID := dbtest.SeedProduct(t, f.db, "Card", money.FromUnits(10), false)
	f.checkout(t, userID, productID, "wallet", "")
	f.checkout(t, userID, productID, "paypal", "")
	f.checkout(t, other, productID, "paypal", "")

	mine, err := f.svc.ListForUser(ctx, userID, 10, 0)
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListForUser = %d orders, %v", len(mine), err)
	}
	if len(mine[0].Items) != 1 {
		t.Errorf("items not loaded: %+v", mine[0])
	}

	pending, err := f.svc.ListAll(ctx, Filter{PaymentStatus: "pending"})
	if err != nil || len(pending) != 2 {
		t.Fatalf("ListAll(pending) = %d orders, %v", len(pending), err)
	}

	if _, err := f.svc.GetForUser(ctx, other, mine[0].ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("GetForUser by other user error = %v", err)
	}
}
