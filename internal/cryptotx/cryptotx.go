// Package cryptotx handles customer requests to buy or sell crypto against
// the store. Buys collect fiat and deliver coins; sells receive coins and
// pay fiat to the wallet or to an external account.
package cryptotx

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

// methodCryptoTransfer is the payment method recorded on sells: the customer
// sends coins to the store.
const methodCryptoTransfer = "crypto_transfer"

// adminEdges are the moves an admin may make.
var adminEdges = map[models.CryptoStatus][]models.CryptoStatus{
	models.CryptoPending:    {models.CryptoProcessing, models.CryptoRejected, models.CryptoFailed},
	models.CryptoProcessing: {models.CryptoCompleted, models.CryptoFailed},
}

func canMove(from, to models.CryptoStatus) bool {
	for _, next := range adminEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isTerminal(s models.CryptoStatus) bool {
	switch s {
	case models.CryptoCompleted, models.CryptoRejected, models.CryptoFailed:
		return true
	}
	return false
}

type Service struct {
	db       *sql.DB
	ledger   *ledger.Store
	gateways *payment.Gateways
	invoices payment.InvoiceProvider
	notifier notify.Notifier
	log      *logger.Logger
	now      func() time.Time

	// beforeMove runs inside the transaction just ahead of a status swap.
	beforeMove func(ctx context.Context, tx *sql.Tx, id int64)
}

// errStale means the row left the expected status between read and write.
var errStale = apperr.IllegalTransition("Crypto transaction was updated by another request, please retry")

func NewService(db *sql.DB, l *ledger.Store, gateways *payment.Gateways, invoices payment.InvoiceProvider, n notify.Notifier, log *logger.Logger) *Service {
	if n == nil {
		n = notify.Discard
	}
	return &Service{
		db:       db,
		ledger:   l,
		gateways: gateways,
		invoices: invoices,
		notifier: n,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type BuyInput struct {
	Chain          string       `json:"chain" binding:"required,max=30"`
	AmountUSD      money.Amount `json:"amount_usd" binding:"required,gt=0"`
	AmountCrypto   string       `json:"amount_crypto" binding:"max=64"`
	PaymentMethod  string       `json:"payment_method" binding:"required"`
	WalletAddress  string       `json:"wallet_address" binding:"required,max=255"`
	ProofReference string       `json:"proof_reference" binding:"max=255"`
}

type SellInput struct {
	Chain          string       `json:"chain" binding:"required,max=30"`
	AmountUSD      money.Amount `json:"amount_usd" binding:"required,gt=0"`
	AmountCrypto   string       `json:"amount_crypto" binding:"max=64"`
	PayoutMethod   string       `json:"payout_method" binding:"required,oneof=wallet external"`
	ReceivingInfo  string       `json:"receiving_info" binding:"max=1000"`
	ProofReference string       `json:"proof_reference" binding:"max=255"`
}

const columns = `id, user_id, trade_type, chain, amount_usd, amount_crypto, payment_method, funded_from_wallet,
	payout_method, status, wallet_address, receiving_info, proof_reference, tx_hash, invoice_id, invoice_url,
	admin_notes, created_at, updated_at`

func scan(row interface{ Scan(...interface{}) error }) (*models.CryptoTransaction, error) {
	var t models.CryptoTransaction
	err := row.Scan(&t.ID, &t.UserID, &t.TradeType, &t.Chain, &t.AmountUSD, &t.AmountCrypto, &t.PaymentMethod,
		&t.FundedFromWallet, &t.PayoutMethod, &t.Status, &t.WalletAddress, &t.ReceivingInfo, &t.ProofReference,
		&t.TxHash, &t.InvoiceID, &t.InvoiceURL, &t.AdminNotes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) load(ctx context.Context, q database.Querier, id int64) (*models.CryptoTransaction, error) {
	t, err := scan(q.QueryRowContext(ctx, "SELECT "+columns+" FROM crypto_transactions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Crypto transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load crypto transaction: %w", err)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.CryptoTransaction, error) {
	return s.load(ctx, s.db, id)
}

func nullString(v string) interface{} {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}

func (s *Service) insert(ctx context.Context, tx *sql.Tx, t *models.CryptoTransaction) (int64, error) {
	now := s.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO crypto_transactions
		(user_id, trade_type, chain, amount_usd, amount_crypto, payment_method, funded_from_wallet, payout_method,
		 status, wallet_address, receiving_info, proof_reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.TradeType, t.Chain, t.AmountUSD, t.AmountCrypto, t.PaymentMethod, t.FundedFromWallet, t.PayoutMethod,
		string(models.CryptoPending), t.WalletAddress, t.ReceivingInfo, t.ProofReference, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert crypto transaction: %w", err)
	}
	return res.LastInsertId()
}

func optional(v string) *string {
	v = security.CleanText(v)
	if v == "" {
		return nil
	}
	return &v
}

// Buy records a request to buy coins. Wallet-funded buys are debited in the
// same transaction; manual payments wait for admin review.
func (s *Service) Buy(ctx context.Context, userID int64, in BuyInput) (*models.CryptoTransaction, error) {
	if in.AmountUSD <= 0 {
		return nil, apperr.Validation("Amount must be greater than zero")
	}
	method, err := s.gateways.Resolve(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if method.Kind == payment.KindCryptoPlisio {
		return nil, apperr.Validation("Crypto purchases cannot be paid with crypto")
	}
	address := strings.TrimSpace(in.WalletAddress)
	if !security.ValidateWalletAddress(address) {
		return nil, apperr.Validation("Invalid wallet address")
	}

	t := &models.CryptoTransaction{
		UserID:           userID,
		TradeType:        models.TradeBuy,
		Chain:            strings.ToUpper(strings.TrimSpace(in.Chain)),
		AmountUSD:        in.AmountUSD,
		AmountCrypto:     strings.TrimSpace(in.AmountCrypto),
		PaymentMethod:    method.Name,
		FundedFromWallet: method.Kind == payment.KindWallet,
		WalletAddress:    &address,
		ProofReference:   optional(in.ProofReference),
	}

	var id int64
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		id, err = s.insert(ctx, tx, t)
		if err != nil {
			return err
		}
		if t.FundedFromWallet {
			_, err = s.ledger.Debit(ctx, tx, userID, ledger.Wallet, t.AmountUSD,
				fmt.Sprintf("Crypto buy #%d", id), ledger.Ref{Type: ledger.RefCrypto, ID: id}, false)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("crypto buy created", "id", id, "user_id", userID, "chain", t.Chain, "amount_usd", t.AmountUSD.String())
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("New crypto buy #%d: %s %s via %s", id, t.AmountUSD, t.Chain, t.PaymentMethod))
	return s.Get(ctx, id)
}

// Sell records a request to sell coins. When an invoice provider is
// configured the customer pays a hosted invoice, otherwise the admin
// confirms receipt by hand.
func (s *Service) Sell(ctx context.Context, userID int64, in SellInput) (*models.CryptoTransaction, error) {
	if in.AmountUSD <= 0 {
		return nil, apperr.Validation("Amount must be greater than zero")
	}
	payout := strings.TrimSpace(in.PayoutMethod)
	if payout != models.PayoutWallet && payout != models.PayoutExternal {
		return nil, apperr.Validation("Payout method must be wallet or external")
	}
	receiving := optional(in.ReceivingInfo)
	if payout == models.PayoutExternal && receiving == nil {
		return nil, apperr.Validation("Receiving info is required for external payouts")
	}

	t := &models.CryptoTransaction{
		UserID:         userID,
		TradeType:      models.TradeSell,
		Chain:          strings.ToUpper(strings.TrimSpace(in.Chain)),
		AmountUSD:      in.AmountUSD,
		AmountCrypto:   strings.TrimSpace(in.AmountCrypto),
		PaymentMethod:  methodCryptoTransfer,
		PayoutMethod:   payout,
		ReceivingInfo:  receiving,
		ProofReference: optional(in.ProofReference),
	}

	var id int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		id, err = s.insert(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("crypto sell created", "id", id, "user_id", userID, "chain", t.Chain, "payout", payout)
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("New crypto sell #%d: %s %s, payout %s", id, t.AmountUSD, t.Chain, payout))

	if s.invoices != nil {
		inv, err := s.invoices.CreateInvoice(ctx, payment.InvoiceRequest{
			OrderNumber: payment.OrderNumber(payment.RefCrypto, id),
			OrderName:   fmt.Sprintf("Crypto sell #%d", id),
			Amount:      t.AmountUSD,
		})
		if err != nil {
			s.log.Warnw("sell invoice failed, falling back to manual receipt", "id", id, "error", err)
		} else if _, err := s.db.ExecContext(ctx,
			"UPDATE crypto_transactions SET invoice_id = ?, invoice_url = ?, updated_at = ? WHERE id = ?",
			inv.ID, inv.URL, s.now(), id); err != nil {
			return nil, fmt.Errorf("store invoice: %w", err)
		}
	}
	return s.Get(ctx, id)
}

// Filter narrows List.
type Filter struct {
	UserID    int64
	Status    string
	TradeType string
	Limit     int
	Offset    int
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.CryptoTransaction, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.TradeType != "" {
		where = append(where, "trade_type = ?")
		args = append(args, f.TradeType)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	query := "SELECT " + columns + " FROM crypto_transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list crypto transactions: %w", err)
	}
	defer rows.Close()

	list := []models.CryptoTransaction{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crypto transaction: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

type StatusInput struct {
	Status     string `json:"status" binding:"required,oneof=pending processing completed rejected failed"`
	TxHash     string `json:"tx_hash" binding:"max=255"`
	AdminNotes string `json:"admin_notes" binding:"max=1000"`
}

// UpdateStatus is the admin Process/Complete/Fail/Reject action. Asking for
// the current status is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id int64, in StatusInput) (*models.CryptoTransaction, error) {
	to := models.CryptoStatus(in.Status)
	var (
		changed bool
		userID  int64
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		userID = t.UserID
		if t.Status == to {
			return nil
		}
		if !canMove(t.Status, to) {
			return apperr.IllegalTransitionf("Cannot move crypto transaction #%d from %s to %s", t.ID, t.Status, to)
		}
		if err := s.move(ctx, tx, t, to, strings.TrimSpace(in.TxHash), security.CleanText(in.AdminNotes), actorID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your crypto transaction #%d is now %s", id, to), "/crypto")
	}
	return s.Get(ctx, id)
}

// move swaps the status and applies ledger effects of the new status.
func (s *Service) move(ctx context.Context, tx *sql.Tx, t *models.CryptoTransaction, to models.CryptoStatus, txHash, notes string, actorID int64) error {
	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), s.now()}
	if txHash != "" {
		set = append(set, "tx_hash = ?")
		args = append(args, txHash)
	}
	if notes != "" {
		set = append(set, "admin_notes = ?")
		args = append(args, notes)
	}
	args = append(args, t.ID, string(t.Status))

	if s.beforeMove != nil {
		s.beforeMove(ctx, tx, t.ID)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE crypto_transactions SET "+strings.Join(set, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("update crypto status: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}
	from := t.Status
	t.Status = to

	ref := ledger.Ref{Type: ledger.RefCrypto, ID: t.ID, ActorID: actorID}
	switch {
	case (to == models.CryptoRejected || to == models.CryptoFailed) && t.TradeType == models.TradeBuy && t.FundedFromWallet:
		if _, err := s.ledger.Credit(ctx, tx, t.UserID, ledger.Wallet, t.AmountUSD,
			fmt.Sprintf("Refund for crypto buy #%d", t.ID), ref); err != nil {
			return err
		}
	case to == models.CryptoCompleted && t.TradeType == models.TradeSell && t.PayoutMethod == models.PayoutWallet:
		if _, err := s.ledger.Credit(ctx, tx, t.UserID, ledger.Wallet, t.AmountUSD,
			fmt.Sprintf("Payout for crypto sell #%d", t.ID), ref); err != nil {
			return err
		}
	}

	s.log.Infow("crypto transition", "id", t.ID, "from", from, "to", to, "actor_id", actorID)
	return nil
}

// ConfirmReceipt records that the store received a seller's coins.
// A wallet payout completes the sell; an external payout moves it to
// processing for the admin to pay. Confirming a finished sell is a no-op.
func (s *Service) ConfirmReceipt(ctx context.Context, actorID, id int64) (bool, error) {
	applied := false
	var (
		userID int64
		to     models.CryptoStatus
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.TradeType != models.TradeSell {
			return apperr.Validation("Only sell transactions can be confirmed")
		}
		userID = t.UserID
		if isTerminal(t.Status) {
			return nil
		}

		to = models.CryptoProcessing
		if t.PayoutMethod == models.PayoutWallet {
			to = models.CryptoCompleted
		}
		if t.Status == to {
			return nil
		}
		if err := s.move(ctx, tx, t, to, "", "", actorID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err == errStale {
		s.log.Infow("crypto receipt already handled", "id", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if applied {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("We received the coins for sell #%d, status %s", id, to), "/crypto")
	}
	return applied, nil
}

// ApplyPaymentEvent handles an invoice callback for a sell.
func (s *Service) ApplyPaymentEvent(ctx context.Context, id int64, ev payment.Event) (bool, error) {
	switch ev {
	case payment.EventConfirmed:
		return s.ConfirmReceipt(ctx, 0, id)
	case payment.EventFailed:
		applied := false
		err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			t, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if t.Status != models.CryptoPending {
				return nil
			}
			if err := s.move(ctx, tx, t, models.CryptoFailed, "", "Invoice expired or failed", 0); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err == errStale {
			s.log.Infow("crypto invoice event already handled", "id", id)
			return false, nil
		}
		return applied, err
	}
	return false, nil
}
