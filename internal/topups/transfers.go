package topups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/payment"
	"github.com/01moynul/storefront-ledger/internal/security"
)

var errStale = apperr.IllegalTransition("Request was updated by another request, please retry")

var (
	xferPending   = models.TransferState{Payment: models.PaymentPending, Transfer: models.TransferPending}
	xferVerifying = models.TransferState{Payment: models.PaymentPendingVerification, Transfer: models.TransferPending}
	xferPaid      = models.TransferState{Payment: models.PaymentPaid, Transfer: models.TransferPending}
	xferSending   = models.TransferState{Payment: models.PaymentPaid, Transfer: models.TransferProcessing}
	xferDone      = models.TransferState{Payment: models.PaymentPaid, Transfer: models.TransferCompleted}
	xferRejected  = models.TransferState{Payment: models.PaymentFailed, Transfer: models.TransferCancelled}
	xferRefunded  = models.TransferState{Payment: models.PaymentRefunded, Transfer: models.TransferFailed}
)

var transferEdges = map[models.TransferState][]models.TransferState{
	xferPending:   {xferVerifying, xferPaid, xferRejected},
	xferVerifying: {xferPaid, xferRejected},
	xferPaid:      {xferSending, xferDone, xferRefunded},
	xferSending:   {xferDone, xferRefunded},
}

func canMoveTransfer(from, to models.TransferState) bool {
	for _, next := range transferEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// resolveTransfer turns an admin request naming either axis into a joint
// state. A failed payment cancels the transfer and a failed transfer of a
// paid request refunds it.
func resolveTransfer(current models.TransferState, p models.PaymentStatus, t models.TransferStatus) (models.TransferState, error) {
	if p == "" && t == "" {
		return current, apperr.Validation("payment_status or transfer_status is required")
	}
	target := current
	if p != "" {
		target.Payment = p
	}
	if t != "" {
		target.Transfer = t
	}
	switch {
	case target.Payment == models.PaymentFailed || target.Transfer == models.TransferCancelled:
		if current.Payment == models.PaymentPaid {
			return xferRefunded, nil
		}
		return xferRejected, nil
	case target.Transfer == models.TransferFailed || target.Payment == models.PaymentRefunded:
		if current.Payment != models.PaymentPaid {
			return xferRejected, nil
		}
		return xferRefunded, nil
	case t != "" && p == "" && current.Payment != models.PaymentPaid && t != models.TransferPending:
		return target, apperr.IllegalTransitionf("Transfer cannot be %s before payment", t)
	}
	return target, nil
}

type TransferInput struct {
	PhoneNumber   string       `json:"phone_number" binding:"required,max=32"`
	Carrier       string       `json:"carrier" binding:"required,max=64"`
	Amount        money.Amount `json:"amount" binding:"required,gt=0"`
	PaymentMethod string       `json:"payment_method" binding:"required"`
}

const transferColumns = `id, user_id, phone_number, carrier, amount, fee, total, payment_method, payment_status,
	transfer_status, proof_transaction_id, proof_screenshot_url, admin_notes, created_at, updated_at`

func scanTransfer(row interface{ Scan(...interface{}) error }) (*models.MinutesTransfer, error) {
	var (
		m                 models.MinutesTransfer
		txnID, screenshot *string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.PhoneNumber, &m.Carrier, &m.Amount, &m.Fee, &m.Total, &m.PaymentMethod,
		&m.PaymentStatus, &m.TransferStatus, &txnID, &screenshot, &m.AdminNotes, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.PaymentProof = buildProof(txnID, screenshot)
	return &m, nil
}

func (s *Service) loadTransfer(ctx context.Context, q database.Querier, id int64) (*models.MinutesTransfer, error) {
	m, err := scanTransfer(q.QueryRowContext(ctx, "SELECT "+transferColumns+" FROM minutes_transfers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Transfer not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load transfer: %w", err)
	}
	return m, nil
}

func (s *Service) GetTransfer(ctx context.Context, id int64) (*models.MinutesTransfer, error) {
	return s.loadTransfer(ctx, s.db, id)
}

// CreateTransfer records a minutes top-up to a phone number. Wallet
// payment is debited with the insert, so the request starts out paid.
func (s *Service) CreateTransfer(ctx context.Context, userID int64, in TransferInput) (*models.MinutesTransfer, error) {
	if in.Amount <= 0 {
		return nil, apperr.Validation("Amount must be greater than zero")
	}
	phone := security.NormalizePhoneNumber(strings.TrimSpace(in.PhoneNumber))
	if !security.ValidatePhoneNumber(phone) {
		return nil, apperr.Validation("Invalid phone number")
	}
	carrier := strings.TrimSpace(in.Carrier)
	if !security.ValidateCarrier(carrier) {
		return nil, apperr.Validation("Invalid carrier")
	}
	method, err := s.gateways.Resolve(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if method.Kind == payment.KindCryptoPlisio {
		return nil, apperr.Validation("Transfers cannot be paid with crypto")
	}

	fee := in.Amount.MulBasisPoints(s.transferFeeBPS)
	total := in.Amount + fee
	state := xferPending
	if method.Kind == payment.KindWallet {
		state = xferPaid
	}

	var id int64
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO minutes_transfers
			(user_id, phone_number, carrier, amount, fee, total, payment_method, payment_status, transfer_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, phone, carrier, in.Amount, fee, total, method.Name,
			string(state.Payment), string(state.Transfer), now, now)
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		if method.Kind == payment.KindWallet {
			_, err = s.ledger.Debit(ctx, tx, userID, ledger.Wallet, total,
				fmt.Sprintf("Minutes transfer #%d to %s", id, phone), ledger.Ref{Type: ledger.RefTransfer, ID: id}, false)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("transfer created", "transfer_id", id, "user_id", userID, "method", method.Name, "state", state.String())
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("New minutes transfer #%d: %s to %s (%s), %s", id, in.Amount, phone, carrier, state))
	return s.GetTransfer(ctx, id)
}

func (s *Service) moveTransfer(ctx context.Context, tx *sql.Tx, m *models.MinutesTransfer, to models.TransferState, notes string, proof *models.PaymentProof, actorID int64) error {
	from := m.State()
	if !canMoveTransfer(from, to) {
		return apperr.IllegalTransitionf("Cannot move transfer #%d from %s to %s", m.ID, from, to)
	}
	set := []string{"payment_status = ?", "transfer_status = ?", "updated_at = ?"}
	args := []interface{}{string(to.Payment), string(to.Transfer), s.now()}
	if notes != "" {
		set = append(set, "admin_notes = ?")
		args = append(args, notes)
	}
	if proof != nil {
		set = append(set, "proof_transaction_id = ?", "proof_screenshot_url = ?")
		args = append(args, proof.TransactionID, nullString(proof.ScreenshotURL))
	}
	args = append(args, m.ID, string(from.Payment), string(from.Transfer))

	res, err := tx.ExecContext(ctx,
		"UPDATE minutes_transfers SET "+strings.Join(set, ", ")+" WHERE id = ? AND payment_status = ? AND transfer_status = ?",
		args...)
	if err != nil {
		return fmt.Errorf("update transfer state: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}
	m.PaymentStatus, m.TransferStatus = to.Payment, to.Transfer

	if to == xferRefunded {
		if _, err := s.ledger.Credit(ctx, tx, m.UserID, ledger.Wallet, m.Total,
			fmt.Sprintf("Refund for minutes transfer #%d", m.ID),
			ledger.Ref{Type: ledger.RefTransfer, ID: m.ID, ActorID: actorID}); err != nil {
			return err
		}
	}
	s.log.Infow("transfer transition", "transfer_id", m.ID, "from", from.String(), "to", to.String(), "actor_id", actorID)
	return nil
}

// SubmitTransferProof moves a manually paid transfer to pending_verification.
func (s *Service) SubmitTransferProof(ctx context.Context, userID, id int64, in ProofInput) (*models.MinutesTransfer, error) {
	proof, err := in.clean()
	if err != nil {
		return nil, err
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		m, err := s.loadTransfer(ctx, tx, id)
		if err != nil {
			return err
		}
		if m.UserID != userID {
			return apperr.NotFound("Transfer not found")
		}
		if m.PaymentMethod == payment.MethodWallet {
			return apperr.Validation("This transfer does not take payment proof")
		}
		return s.moveTransfer(ctx, tx, m, xferVerifying, "", proof, 0)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Payment proof submitted for transfer #%d (transaction %s)", id, proof.TransactionID))
	return s.GetTransfer(ctx, id)
}

type TransferStatusInput struct {
	PaymentStatus  string `json:"payment_status" binding:"omitempty,oneof=paid failed refunded"`
	TransferStatus string `json:"transfer_status" binding:"omitempty,oneof=pending processing completed failed cancelled"`
	AdminNotes     string `json:"admin_notes" binding:"max=1000"`
}

// SetTransferStatus is the admin action on a transfer. Asking for the
// current state is a no-op.
func (s *Service) SetTransferStatus(ctx context.Context, actorID, id int64, in TransferStatusInput) (*models.MinutesTransfer, error) {
	var (
		changed bool
		userID  int64
		to      models.TransferState
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		m, err := s.loadTransfer(ctx, tx, id)
		if err != nil {
			return err
		}
		userID = m.UserID
		to, err = resolveTransfer(m.State(), models.PaymentStatus(in.PaymentStatus), models.TransferStatus(in.TransferStatus))
		if err != nil {
			return err
		}
		if to == m.State() {
			return nil
		}
		if err := s.moveTransfer(ctx, tx, m, to, security.CleanText(in.AdminNotes), nil, actorID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your minutes transfer #%d is now %s", id, to), "/transfers")
	}
	return s.GetTransfer(ctx, id)
}

func (s *Service) ListTransfers(ctx context.Context, f Filter) ([]models.MinutesTransfer, error) {
	clause, args := f.clause("transfer_status")
	rows, err := s.db.QueryContext(ctx, "SELECT "+transferColumns+" FROM minutes_transfers"+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	list := []models.MinutesTransfer{}
	for rows.Next() {
		m, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}
