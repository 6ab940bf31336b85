// Package topups handles wallet top-ups and mobile minutes transfers.
package topups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/notify"
	"github.com/01moynul/storefront-ledger/internal/payment"
	"github.com/01moynul/storefront-ledger/internal/security"
)

type Deps struct {
	DB             *sql.DB
	Ledger         *ledger.Store
	Gateways       *payment.Gateways
	Invoices       payment.InvoiceProvider
	Notifier       notify.Notifier
	Log            *logger.Logger
	TopupFeeBPS    int64
	TransferFeeBPS int64
}

type Service struct {
	db             *sql.DB
	ledger         *ledger.Store
	gateways       *payment.Gateways
	invoices       payment.InvoiceProvider
	notifier       notify.Notifier
	log            *logger.Logger
	topupFeeBPS    int64
	transferFeeBPS int64
	now            func() time.Time
}

func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notify.Discard
	}
	return &Service{
		db:             d.DB,
		ledger:         d.Ledger,
		gateways:       d.Gateways,
		invoices:       d.Invoices,
		notifier:       d.Notifier,
		log:            d.Log,
		topupFeeBPS:    d.TopupFeeBPS,
		transferFeeBPS: d.TransferFeeBPS,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ProofInput is the proof a customer submits for a manual payment.
type ProofInput struct {
	TransactionID string `json:"transaction_id" binding:"required,max=255"`
	ScreenshotURL string `json:"screenshot_url" binding:"omitempty,url,max=1024"`
}

func (in ProofInput) clean() (*models.PaymentProof, error) {
	p := &models.PaymentProof{
		TransactionID: security.CleanText(in.TransactionID),
		ScreenshotURL: strings.TrimSpace(in.ScreenshotURL),
	}
	if p.TransactionID == "" {
		return nil, apperr.Validation("Transaction ID is required")
	}
	return p, nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func buildProof(txnID, screenshot *string) *models.PaymentProof {
	if txnID == nil {
		return nil
	}
	p := &models.PaymentProof{TransactionID: *txnID}
	if screenshot != nil {
		p.ScreenshotURL = *screenshot
	}
	return p
}

// --- Wallet top-ups ---

// topupEdges lists the payment moves a top-up can make.
var topupEdges = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending:             {models.PaymentPendingVerification, models.PaymentPaid, models.PaymentFailed},
	models.PaymentPendingVerification: {models.PaymentPaid, models.PaymentFailed},
}

func canMoveTopup(from, to models.PaymentStatus) bool {
	for _, next := range topupEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

type TopupInput struct {
	Amount        money.Amount `json:"amount" binding:"required,gt=0"`
	PaymentMethod string       `json:"payment_method" binding:"required"`
}

const topupColumns = `id, user_id, amount, fee, total, payment_method, payment_status,
	proof_transaction_id, proof_screenshot_url, invoice_id, invoice_url, admin_notes, created_at, updated_at`

func scanTopup(row interface{ Scan(...interface{}) error }) (*models.WalletTopup, error) {
	var (
		t                 models.WalletTopup
		txnID, screenshot *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Fee, &t.Total, &t.PaymentMethod, &t.PaymentStatus,
		&txnID, &screenshot, &t.InvoiceID, &t.InvoiceURL, &t.AdminNotes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.PaymentProof = buildProof(txnID, screenshot)
	return &t, nil
}

func (s *Service) loadTopup(ctx context.Context, q database.Querier, id int64) (*models.WalletTopup, error) {
	t, err := scanTopup(q.QueryRowContext(ctx, "SELECT "+topupColumns+" FROM wallet_topups WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Top-up not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load topup: %w", err)
	}
	return t, nil
}

func (s *Service) GetTopup(ctx context.Context, id int64) (*models.WalletTopup, error) {
	return s.loadTopup(ctx, s.db, id)
}

// CreateTopup records a request to add funds to the wallet. The fee is
// charged on top; only the requested amount is credited once paid. A
// crypto top-up gets a hosted invoice; when the provider fails the top-up
// is returned along with the error and stays pending.
func (s *Service) CreateTopup(ctx context.Context, userID int64, in TopupInput) (*models.WalletTopup, error) {
	if in.Amount <= 0 {
		return nil, apperr.Validation("Amount must be greater than zero")
	}
	method, err := s.gateways.Resolve(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if method.Kind == payment.KindWallet {
		return nil, apperr.Validation("Wallet top-ups cannot be paid from the wallet")
	}

	fee := in.Amount.MulBasisPoints(s.topupFeeBPS)
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_topups (user_id, amount, fee, total, payment_method, payment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, in.Amount, fee, in.Amount+fee, method.Name, string(models.PaymentPending), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert topup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert topup: %w", err)
	}
	s.log.Infow("topup created", "topup_id", id, "user_id", userID, "method", method.Name, "total", (in.Amount + fee).String())

	t, err := s.GetTopup(ctx, id)
	if err != nil {
		return nil, err
	}
	if method.Kind != payment.KindCryptoPlisio || s.invoices == nil {
		return t, nil
	}

	inv, err := s.invoices.CreateInvoice(ctx, payment.InvoiceRequest{
		OrderNumber: payment.OrderNumber(payment.RefTopup, id),
		OrderName:   fmt.Sprintf("Wallet top-up #%d", id),
		Amount:      t.Total,
	})
	if err != nil {
		s.log.Warnw("topup invoice failed", "topup_id", id, "error", err)
		return t, err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE wallet_topups SET invoice_id = ?, invoice_url = ?, updated_at = ? WHERE id = ? AND payment_status = ?",
		inv.ID, inv.URL, s.now(), id, string(models.PaymentPending)); err != nil {
		return nil, fmt.Errorf("store topup invoice: %w", err)
	}
	return s.GetTopup(ctx, id)
}

// moveTopup swaps the payment status and credits the wallet on paid.
func (s *Service) moveTopup(ctx context.Context, tx *sql.Tx, t *models.WalletTopup, to models.PaymentStatus, notes string, proof *models.PaymentProof, actorID int64) error {
	if !canMoveTopup(t.PaymentStatus, to) {
		return apperr.IllegalTransitionf("Cannot move top-up #%d from %s to %s", t.ID, t.PaymentStatus, to)
	}
	set := []string{"payment_status = ?", "updated_at = ?"}
	args := []interface{}{string(to), s.now()}
	if notes != "" {
		set = append(set, "admin_notes = ?")
		args = append(args, notes)
	}
	if proof != nil {
		set = append(set, "proof_transaction_id = ?", "proof_screenshot_url = ?")
		args = append(args, proof.TransactionID, nullString(proof.ScreenshotURL))
	}
	args = append(args, t.ID, string(t.PaymentStatus))

	res, err := tx.ExecContext(ctx,
		"UPDATE wallet_topups SET "+strings.Join(set, ", ")+" WHERE id = ? AND payment_status = ?", args...)
	if err != nil {
		return fmt.Errorf("update topup status: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}

	from := t.PaymentStatus
	t.PaymentStatus = to
	if to == models.PaymentPaid {
		if _, err := s.ledger.Credit(ctx, tx, t.UserID, ledger.Wallet, t.Amount,
			fmt.Sprintf("Wallet top-up #%d", t.ID), ledger.Ref{Type: ledger.RefTopup, ID: t.ID, ActorID: actorID}); err != nil {
			return err
		}
	}
	s.log.Infow("topup transition", "topup_id", t.ID, "from", from, "to", to, "actor_id", actorID)
	return nil
}

// SubmitTopupProof moves a manual top-up to pending_verification.
func (s *Service) SubmitTopupProof(ctx context.Context, userID, id int64, in ProofInput) (*models.WalletTopup, error) {
	proof, err := in.clean()
	if err != nil {
		return nil, err
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.loadTopup(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.UserID != userID {
			return apperr.NotFound("Top-up not found")
		}
		if t.PaymentMethod == payment.MethodCryptoPlisio {
			return apperr.Validation("This top-up does not take payment proof")
		}
		return s.moveTopup(ctx, tx, t, models.PaymentPendingVerification, "", proof, 0)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Payment proof submitted for top-up #%d (transaction %s)", id, proof.TransactionID))
	return s.GetTopup(ctx, id)
}

type TopupStatusInput struct {
	PaymentStatus string `json:"payment_status" binding:"required,oneof=paid failed"`
	AdminNotes    string `json:"admin_notes" binding:"max=1000"`
}

// SetTopupStatus is the admin approve/reject action.
func (s *Service) SetTopupStatus(ctx context.Context, actorID, id int64, in TopupStatusInput) (*models.WalletTopup, error) {
	to := models.PaymentStatus(in.PaymentStatus)
	var (
		changed bool
		userID  int64
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.loadTopup(ctx, tx, id)
		if err != nil {
			return err
		}
		userID = t.UserID
		if t.PaymentStatus == to {
			return nil
		}
		if err := s.moveTopup(ctx, tx, t, to, security.CleanText(in.AdminNotes), nil, actorID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your wallet top-up #%d is now %s", id, to), "/wallet")
	}
	return s.GetTopup(ctx, id)
}

// ApplyPaymentEvent handles an invoice callback for a top-up. Events that
// cannot move the top-up are ignored.
func (s *Service) ApplyPaymentEvent(ctx context.Context, id int64, ev payment.Event, invoiceID string) (bool, error) {
	applied := false
	var userID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.loadTopup(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoiceID != "" && t.InvoiceID != nil && *t.InvoiceID != invoiceID {
			s.log.Warnw("topup callback for another invoice", "topup_id", id, "invoice_id", invoiceID)
			return nil
		}
		userID = t.UserID

		var to models.PaymentStatus
		switch {
		case ev == payment.EventConfirmed && (t.PaymentStatus == models.PaymentPending || t.PaymentStatus == models.PaymentPendingVerification):
			to = models.PaymentPaid
		case ev == payment.EventFailed && t.PaymentStatus == models.PaymentPending:
			to = models.PaymentFailed
		default:
			return nil
		}
		err = s.moveTopup(ctx, tx, t, to, "", nil, 0)
		if err == errStale {
			return nil
		}
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your wallet top-up #%d was updated", id), "/wallet")
	}
	return applied, nil
}

// Filter narrows the top-up and transfer listings.
type Filter struct {
	UserID int64
	Status string
	Limit  int
	Offset int
}

func (f Filter) clause(statusColumn string) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, statusColumn+" = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := ""
	if len(where) > 0 {
		q = " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	return q, append(args, limit, f.Offset)
}

func (s *Service) ListTopups(ctx context.Context, f Filter) ([]models.WalletTopup, error) {
	clause, args := f.clause("payment_status")
	rows, err := s.db.QueryContext(ctx, "SELECT "+topupColumns+" FROM wallet_topups"+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list topups: %w", err)
	}
	defer rows.Close()

	list := []models.WalletTopup{}
	for rows.Next() {
		t, err := scanTopup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topup: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}
