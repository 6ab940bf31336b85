package orders

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/payment"
	"github.com/01moynul/storefront-ledger/internal/security"
)

// errStale means the row left the expected state between read and write.
var errStale = apperr.IllegalTransition("Order was updated by another request, please retry")

type moveOpts struct {
	enforceCouponLimit       bool
	completedWithoutDelivery bool
	adminNotes               string
	proof                    *models.PaymentProof
	actorID                  int64
}

// move applies one legal transition with a compare-and-swap on both status
// columns, then runs the side effects of entering the new state.
func (s *Service) move(ctx context.Context, tx *sql.Tx, o *models.Order, to models.OrderState, opts moveOpts) error {
	from := o.State()
	if !CanTransition(from, to) {
		return apperr.IllegalTransitionf("Cannot move order #%d from %s to %s", o.ID, from, to)
	}

	now := s.now()
	set := []string{"payment_status = ?", "order_status = ?", "updated_at = ?"}
	args := []interface{}{string(to.Payment), string(to.Order), now}
	if opts.completedWithoutDelivery {
		set = append(set, "completed_without_delivery = TRUE")
	}
	if opts.adminNotes != "" {
		set = append(set, "admin_notes = ?")
		args = append(args, opts.adminNotes)
	}
	if opts.proof != nil {
		set = append(set, "proof_transaction_id = ?", "proof_screenshot_url = ?", "proof_note = ?")
		args = append(args, opts.proof.TransactionID, nullString(opts.proof.ScreenshotURL), nullString(opts.proof.Note))
	}
	args = append(args, o.ID, string(from.Payment), string(from.Order))

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET "+strings.Join(set, ", ")+" WHERE id = ? AND payment_status = ? AND order_status = ?",
		args...)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}

	o.PaymentStatus, o.OrderStatus, o.UpdatedAt = to.Payment, to.Order, now
	if opts.completedWithoutDelivery {
		o.CompletedWithoutDelivery = true
	}
	if opts.proof != nil {
		o.PaymentProof = opts.proof
	}

	switch {
	case from.Payment != models.PaymentPaid && to.Payment == models.PaymentPaid:
		if err := s.onPaid(ctx, tx, o, opts.enforceCouponLimit); err != nil {
			return err
		}
	case from.Payment == models.PaymentPaid && to.Payment == models.PaymentRefunded:
		if err := s.refund(ctx, tx, o, opts.actorID); err != nil {
			return err
		}
	}

	s.log.Infow("order transition", "order_id", o.ID, "from", from.String(), "to", to.String())
	return nil
}

// onPaid runs once when an order first reaches paid: the coupon use is
// recorded and the referrer earns a commission on the total.
func (s *Service) onPaid(ctx context.Context, tx *sql.Tx, o *models.Order, enforceCouponLimit bool) error {
	if o.CouponCode != nil {
		if err := s.coupons.Redeem(ctx, tx, *o.CouponCode, o.ID, enforceCouponLimit); err != nil {
			return err
		}
	}

	if s.referralBPS <= 0 || o.TotalAmount <= 0 {
		return nil
	}
	var referrer *int64
	if err := tx.QueryRowContext(ctx, "SELECT referred_by FROM users WHERE id = ?", o.UserID).Scan(&referrer); err != nil {
		return fmt.Errorf("load referrer: %w", err)
	}
	if referrer == nil || *referrer == o.UserID {
		return nil
	}
	commission := o.TotalAmount.MulBasisPoints(s.referralBPS)
	if commission <= 0 {
		return nil
	}
	_, err := s.ledger.Credit(ctx, tx, *referrer, ledger.Referral, commission,
		fmt.Sprintf("Referral commission for order #%d", o.ID), ledger.Ref{Type: ledger.RefReferral, ID: o.ID})
	return err
}

// refund returns the order total to the customer's wallet and takes back
// any referral commission paid on the order.
func (s *Service) refund(ctx context.Context, tx *sql.Tx, o *models.Order, actorID int64) error {
	if o.TotalAmount > 0 {
		if _, err := s.ledger.Credit(ctx, tx, o.UserID, ledger.Wallet, o.TotalAmount,
			fmt.Sprintf("Refund for order #%d", o.ID), ledger.Ref{Type: ledger.RefOrder, ID: o.ID, ActorID: actorID}); err != nil {
			return err
		}
	}
	return s.reverseCommission(ctx, tx, o, actorID)
}

// reverseCommission debits the outstanding referral commission for o from
// the referrer. The referrer may already have withdrawn it, so the debit is
// allowed to take the referral balance below zero.
func (s *Service) reverseCommission(ctx context.Context, tx *sql.Tx, o *models.Order, actorID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END)
		FROM ledger_entries
		WHERE ref_type = ? AND ref_id = ? AND ledger = ?
		GROUP BY user_id`,
		string(ledger.RefReferral), o.ID, string(ledger.Referral))
	if err != nil {
		return fmt.Errorf("load referral commission: %w", err)
	}
	type owed struct {
		userID int64
		amount money.Amount
	}
	var due []owed
	for rows.Next() {
		var (
			userID int64
			cents  int64
		)
		if err := rows.Scan(&userID, &cents); err != nil {
			rows.Close()
			return fmt.Errorf("scan referral commission: %w", err)
		}
		if cents > 0 {
			due = append(due, owed{userID: userID, amount: money.FromCents(cents)})
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range due {
		if _, err := s.ledger.Debit(ctx, tx, d.userID, ledger.Referral, d.amount,
			fmt.Sprintf("Referral commission reversed for refunded order #%d", o.ID),
			ledger.Ref{Type: ledger.RefReferral, ID: o.ID, ActorID: actorID}, true); err != nil {
			return err
		}
		s.log.Warnw("referral commission reversed", "order_id", o.ID, "referrer_id", d.userID, "amount", d.amount.String())
	}
	return nil
}

// ProofInput is the body of POST /orders/:id/proof.
type ProofInput struct {
	TransactionID string `json:"transaction_id" binding:"required,max=255"`
	ScreenshotURL string `json:"screenshot_url" binding:"omitempty,url,max=1024"`
	Note          string `json:"note" binding:"max=1000"`
}

// SubmitProof records proof of a manual payment and moves the order to
// pending_verification. Proof may be replaced while it awaits review.
func (s *Service) SubmitProof(ctx context.Context, userID, orderID int64, in ProofInput) (*models.Order, error) {
	proof := &models.PaymentProof{
		TransactionID: security.CleanText(in.TransactionID),
		ScreenshotURL: strings.TrimSpace(in.ScreenshotURL),
		Note:          security.CleanText(in.Note),
	}
	if proof.TransactionID == "" {
		return nil, apperr.Validation("Transaction ID is required")
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return apperr.NotFound("Order not found")
		}
		if o.PaymentMethod == payment.MethodWallet || o.PaymentMethod == payment.MethodCryptoPlisio {
			return apperr.Validation("This order does not take payment proof")
		}

		switch o.State() {
		case statePending:
			return s.move(ctx, tx, o, stateVerifying, moveOpts{proof: proof})
		case stateVerifying:
			res, err := tx.ExecContext(ctx, `
				UPDATE orders SET proof_transaction_id = ?, proof_screenshot_url = ?, proof_note = ?, updated_at = ?
				WHERE id = ? AND payment_status = ? AND order_status = ?`,
				proof.TransactionID, nullString(proof.ScreenshotURL), nullString(proof.Note), s.now(),
				o.ID, string(stateVerifying.Payment), string(stateVerifying.Order))
			if err != nil {
				return fmt.Errorf("update proof: %w", err)
			}
			if n, err := database.RowsChanged(res); err != nil || n == 0 {
				if err != nil {
					return err
				}
				return errStale
			}
			return nil
		default:
			return apperr.IllegalTransitionf("Cannot submit proof for an order in state %s", o.State())
		}
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Payment proof submitted for order #%d (transaction %s)", orderID, proof.TransactionID))
	return s.Get(ctx, orderID)
}

// Cancel lets a customer drop an unpaid order. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return apperr.NotFound("Order not found")
		}
		switch o.State() {
		case stateCancelled:
			return nil
		case statePending, stateVerifying:
			return s.move(ctx, tx, o, stateCancelled, moveOpts{})
		default:
			return apperr.IllegalTransitionf("Only unpaid orders can be cancelled, order is %s", o.State())
		}
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// StatusInput is the body of PUT /orders/:id/status.
type StatusInput struct {
	PaymentStatus string `json:"payment_status"`
	OrderStatus   string `json:"order_status"`
	// Override allows completing an order without recording a delivery.
	Override   bool   `json:"override"`
	AdminNotes string `json:"admin_notes" binding:"max=1000"`
}

// AdminSetStatus applies an admin transition. A request for the current
// state is a no-op; any other illegal move fails with IllegalTransition.
func (s *Service) AdminSetStatus(ctx context.Context, actorID, orderID int64, in StatusInput) (*models.Order, error) {
	var (
		changed bool
		target  models.OrderState
		userID  int64
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		userID = o.UserID
		current := o.State()

		target, err = resolveTarget(current, models.PaymentStatus(in.PaymentStatus), models.OrderStatus(in.OrderStatus))
		if err != nil {
			return err
		}
		if target == current {
			return nil
		}
		if !IsLegal(target) {
			return apperr.IllegalTransitionf("%s is not a valid order state", target)
		}

		opts := moveOpts{adminNotes: security.CleanText(in.AdminNotes), actorID: actorID}
		if current == stateProcessing && target == stateCompleted {
			if !in.Override {
				return apperr.IllegalTransition("Record a delivery to complete this order, or set override to complete it without one")
			}
			opts.completedWithoutDelivery = true
			s.log.Warnw("order completed without delivery", "order_id", o.ID, "actor_id", actorID)
		}

		if err := s.move(ctx, tx, o, target, opts); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your order #%d is now %s", orderID, describe(target)), orderLink(orderID))
	}
	return s.Get(ctx, orderID)
}

// DeliveryInput is the body of PUT /orders/:id/delivery.
type DeliveryInput struct {
	Details string `json:"details" binding:"required,max=10000"`
}

// Deliver records the fulfilment payload and completes the order. It only
// succeeds once, and only for paid orders that are processing.
func (s *Service) Deliver(ctx context.Context, actorID, orderID int64, in DeliveryInput) (*models.Order, error) {
	details := strings.TrimSpace(in.Details)
	if details == "" {
		return nil, apperr.Validation("Delivery details are required")
	}

	var userID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		userID = o.UserID
		if o.DeliveryInfo != nil {
			return apperr.IllegalTransitionf("Order #%d has already been delivered", o.ID)
		}
		if o.State() != stateProcessing {
			return apperr.IllegalTransitionf("Order #%d cannot be delivered while %s", o.ID, o.State())
		}

		now := s.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET order_status = ?, delivery_details = ?, delivered_at = ?, updated_at = ?
			WHERE id = ? AND payment_status = ? AND order_status = ? AND delivered_at IS NULL`,
			string(models.OrderCompleted), details, now, now,
			o.ID, string(models.PaymentPaid), string(models.OrderProcessing))
		if err != nil {
			return fmt.Errorf("deliver order: %w", err)
		}
		n, err := database.RowsChanged(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return errStale
		}
		s.log.Infow("order delivered", "order_id", o.ID, "actor_id", actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your order #%d has been delivered", orderID), orderLink(orderID))
	return s.Get(ctx, orderID)
}

// ApplyPaymentEvent applies an automatic payment confirmation or failure.
// Events that no longer apply to the order's state are ignored, so
// duplicate and out of order deliveries are harmless.
func (s *Service) ApplyPaymentEvent(ctx context.Context, orderID int64, ev payment.Event, invoiceID string) (bool, error) {
	if ev == payment.EventIgnored {
		return false, nil
	}

	applied := false
	var userID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		userID = o.UserID
		if invoiceID != "" && o.InvoiceID != nil && *o.InvoiceID != invoiceID {
			s.log.Warnw("payment event for a different invoice", "order_id", o.ID, "invoice_id", invoiceID)
			return nil
		}

		var to models.OrderState
		switch st := o.State(); {
		case ev == payment.EventConfirmed && (st == statePending || st == stateVerifying):
			to = stateProcessing
		case ev == payment.EventFailed && st == statePending:
			to = stateFailed
		default:
			s.log.Infow("payment event ignored", "order_id", o.ID, "event", ev.String(), "state", st.String())
			return nil
		}

		if err := s.move(ctx, tx, o, to, moveOpts{}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err == errStale {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if applied {
		if ev == payment.EventConfirmed {
			s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Payment received for order #%d", orderID), orderLink(orderID))
			s.notifier.NotifyAdmins(ctx, fmt.Sprintf("Crypto payment confirmed for order #%d", orderID))
		} else {
			s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Payment for order #%d failed", orderID), orderLink(orderID))
		}
	}
	return applied, nil
}

// MarkPaid is an admin confirmation of payment.
func (s *Service) MarkPaid(ctx context.Context, actorID, orderID int64) (*models.Order, error) {
	return s.AdminSetStatus(ctx, actorID, orderID, StatusInput{PaymentStatus: string(models.PaymentPaid)})
}

// ExpirePending cancels unpaid, non-wallet orders older than ttl and
// returns how many were cancelled. A zero ttl disables expiry.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-ttl)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM orders
		WHERE payment_status = ? AND order_status = ? AND payment_method <> ? AND created_at < ?
		ORDER BY id`,
		string(models.PaymentPending), string(models.OrderPending), payment.MethodWallet, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query stale orders: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale order: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		var userID int64
		moved := false
		err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			o, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if o.State() != statePending {
				return nil
			}
			userID = o.UserID
			if err := s.move(ctx, tx, o, stateCancelled, moveOpts{adminNotes: "Expired unpaid"}); err != nil {
				return err
			}
			moved = true
			return nil
		})
		if err == errStale {
			continue
		}
		if err != nil {
			return expired, err
		}
		if moved {
			expired++
			s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Order #%d was cancelled because it was not paid in time", id), orderLink(id))
		}
	}

	if expired > 0 {
		s.log.Infow("expired pending orders", "count", expired, "older_than", ttl.String())
	}
	return expired, nil
}

func orderLink(id int64) string {
	return fmt.Sprintf("/orders/%d", id)
}

func describe(st models.OrderState) string {
	switch st {
	case stateVerifying:
		return "awaiting payment verification"
	case stateProcessing:
		return "paid and being processed"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "cancelled because the payment failed"
	case stateRefunded:
		return "cancelled and refunded to your wallet"
	case stateCancelled:
		return "cancelled"
	}
	return st.String()
}
