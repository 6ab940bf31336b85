// Package withdrawals pays out referral earnings. Funds are taken from the
// referral balance when the request is made and returned if it is rejected.
package withdrawals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/notify"
	"github.com/01moynul/storefront-ledger/internal/security"
)

var edges = map[models.WithdrawalStatus][]models.WithdrawalStatus{
	models.WithdrawalPending:    {models.WithdrawalProcessing, models.WithdrawalRejected},
	models.WithdrawalProcessing: {models.WithdrawalCompleted, models.WithdrawalRejected},
}

func canMove(from, to models.WithdrawalStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Service struct {
	db       *sql.DB
	ledger   *ledger.Store
	notifier notify.Notifier
	log      *logger.Logger
	validate *validator.Validate
	minimum  money.Amount
	now      func() time.Time
}

func NewService(db *sql.DB, l *ledger.Store, n notify.Notifier, log *logger.Logger, minimum money.Amount) *Service {
	if n == nil {
		n = notify.Discard
	}
	return &Service{
		db:       db,
		ledger:   l,
		notifier: n,
		log:      log,
		validate: validator.New(),
		minimum:  minimum,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RequestInput struct {
	Amount      money.Amount `json:"amount" binding:"required,gt=0"`
	Method      string       `json:"method" binding:"required,oneof=crypto paypal"`
	Destination string       `json:"destination" binding:"required,max=255"`
}

func (s *Service) checkDestination(method, dest string) error {
	switch method {
	case models.WithdrawalPayPal:
		if s.validate.Var(dest, "required,email") != nil {
			return apperr.Validation("A valid PayPal email is required")
		}
	case models.WithdrawalCrypto:
		if !security.ValidateWalletAddress(dest) {
			return apperr.Validation("A valid wallet address is required")
		}
	default:
		return apperr.Validation("Withdrawal method must be crypto or paypal")
	}
	return nil
}

// Request debits the referral balance and records a pending withdrawal in
// one transaction.
func (s *Service) Request(ctx context.Context, userID int64, in RequestInput) (*models.Withdrawal, error) {
	method := strings.ToLower(strings.TrimSpace(in.Method))
	dest := strings.TrimSpace(in.Destination)
	if in.Amount <= 0 {
		return nil, apperr.Validation("Amount must be greater than zero")
	}
	if in.Amount < s.minimum {
		return nil, apperr.Validationf("Minimum withdrawal is %s", s.minimum)
	}
	if err := s.checkDestination(method, dest); err != nil {
		return nil, err
	}

	var id int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawals (user_id, amount, method, destination, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, in.Amount, method, dest, string(models.WithdrawalPending), now, now)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		_, err = s.ledger.Debit(ctx, tx, userID, ledger.Referral, in.Amount,
			fmt.Sprintf("Pending withdrawal #%d", id), ledger.Ref{Type: ledger.RefWithdrawal, ID: id}, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("withdrawal requested", "withdrawal_id", id, "user_id", userID, "amount", in.Amount.String(), "method", method)
	s.notifier.NotifyAdmins(ctx, fmt.Sprintf("New withdrawal request #%d: %s via %s", id, in.Amount, method))
	return s.Get(ctx, id)
}

const columns = `w.id, w.user_id, w.amount, w.method, w.destination, w.status, w.admin_notes,
	w.created_at, w.updated_at, u.email`

func scan(row interface{ Scan(...interface{}) error }) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Method, &w.Destination, &w.Status, &w.AdminNotes,
		&w.CreatedAt, &w.UpdatedAt, &w.UserEmail); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Service) load(ctx context.Context, q database.Querier, id int64) (*models.Withdrawal, error) {
	w, err := scan(q.QueryRowContext(ctx,
		"SELECT "+columns+" FROM withdrawals w JOIN users u ON w.user_id = u.id WHERE w.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Withdrawal request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	return w, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Withdrawal, error) {
	return s.load(ctx, s.db, id)
}

// List returns withdrawals, newest first. A zero userID lists everyone's.
func (s *Service) List(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Withdrawal, error) {
	var (
		where []string
		args  []interface{}
	)
	if userID != 0 {
		where = append(where, "w.user_id = ?")
		args = append(args, userID)
	}
	if status != "" {
		where = append(where, "w.status = ?")
		args = append(args, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := "SELECT " + columns + " FROM withdrawals w JOIN users u ON w.user_id = u.id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY w.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	list := []models.Withdrawal{}
	for rows.Next() {
		w, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		list = append(list, *w)
	}
	return list, rows.Err()
}

type StatusInput struct {
	Status     string `json:"status" binding:"required,oneof=processing completed rejected"`
	AdminNotes string `json:"admin_notes" binding:"max=1000"`
}

// UpdateStatus moves a withdrawal along pending, processing, completed.
// Rejection needs a reason and returns the funds to the referral balance.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id int64, in StatusInput) (*models.Withdrawal, error) {
	to := models.WithdrawalStatus(in.Status)
	notes := security.CleanText(in.AdminNotes)
	if to == models.WithdrawalRejected && notes == "" {
		return nil, apperr.Validation("A reason is required when rejecting a withdrawal")
	}

	var (
		changed bool
		userID  int64
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		w, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		userID = w.UserID
		if w.Status == to {
			return nil
		}
		if !canMove(w.Status, to) {
			return apperr.IllegalTransitionf("Cannot move withdrawal #%d from %s to %s", w.ID, w.Status, to)
		}

		query := "UPDATE withdrawals SET status = ?, updated_at = ?"
		args := []interface{}{string(to), s.now()}
		if notes != "" {
			query += ", admin_notes = ?"
			args = append(args, notes)
		}
		args = append(args, w.ID, string(w.Status))
		res, err := tx.ExecContext(ctx, query+" WHERE id = ? AND status = ?", args...)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		n, err := database.RowsChanged(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.IllegalTransition("Withdrawal was updated by another request, please retry")
		}

		if to == models.WithdrawalRejected {
			if _, err := s.ledger.Credit(ctx, tx, w.UserID, ledger.Referral, w.Amount,
				fmt.Sprintf("Refund for rejected withdrawal #%d", w.ID),
				ledger.Ref{Type: ledger.RefWithdrawal, ID: w.ID, ActorID: actorID}); err != nil {
				return err
			}
		}
		s.log.Infow("withdrawal transition", "withdrawal_id", w.ID, "from", w.Status, "to", to, "actor_id", actorID)
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.NotifyUser(ctx, userID, fmt.Sprintf("Your withdrawal #%d is now %s", id, to), "/withdrawals")
	}
	return s.Get(ctx, id)
}
