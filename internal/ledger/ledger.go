// Package ledger owns every balance change. Each credit or debit updates the
// materialized balance on users and appends one ledger_entries row in the
// caller's transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
)

type Ledger string

const (
	Wallet   Ledger = "wallet"
	Referral Ledger = "referral"
	Credits  Ledger = "credits"
)

func Parse(s string) (Ledger, error) {
	l := Ledger(s)
	if !l.Valid() {
		return "", apperr.Validationf("Unknown ledger %q", s)
	}
	return l, nil
}

func (l Ledger) Valid() bool {
	switch l {
	case Wallet, Referral, Credits:
		return true
	}
	return false
}

// column is the users column holding the materialized balance.
func (l Ledger) column() string {
	switch l {
	case Referral:
		return "referral_balance"
	case Credits:
		return "credits_balance"
	default:
		return "wallet_balance"
	}
}

type RefType string

const (
	RefOrder      RefType = "order"
	RefTopup      RefType = "topup"
	RefTransfer   RefType = "transfer"
	RefWithdrawal RefType = "withdrawal"
	RefCrypto     RefType = "crypto"
	RefReferral   RefType = "referral"
	RefAdmin      RefType = "admin"
)

// Ref points at the event that caused an entry.
type Ref struct {
	Type    RefType
	ID      int64 // 0 when there is no originating row
	ActorID int64 // admin who made the change, 0 for the system
}

func OrderRef(id int64) Ref { return Ref{Type: RefOrder, ID: id} }

func AdminRef(actorID int64) Ref { return Ref{Type: RefAdmin, ActorID: actorID} }

const (
	directionCredit = "credit"
	directionDebit  = "debit"
)

// Balances is a snapshot of all three ledgers for one user.
type Balances struct {
	Wallet   money.Amount `json:"wallet_balance"`
	Referral money.Amount `json:"referral_balance"`
	Credits  int64        `json:"credits_balance"`
}

type Store struct {
	log *logger.Logger
	now func() time.Time
}

func NewStore(log *logger.Logger) *Store {
	return &Store{log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Credit adds amount to the user's ledger and returns the new balance.
func (s *Store) Credit(ctx context.Context, tx *sql.Tx, userID int64, l Ledger, amount money.Amount, reason string, ref Ref) (money.Amount, error) {
	return s.apply(ctx, tx, userID, l, directionCredit, amount, reason, ref, false)
}

// Debit removes amount from the user's ledger. Without override the debit
// fails with InsufficientFunds when the balance cannot cover it.
func (s *Store) Debit(ctx context.Context, tx *sql.Tx, userID int64, l Ledger, amount money.Amount, reason string, ref Ref, override bool) (money.Amount, error) {
	return s.apply(ctx, tx, userID, l, directionDebit, amount, reason, ref, override)
}

// Apply runs a single credit or debit in its own transaction.
func (s *Store) Apply(ctx context.Context, db *sql.DB, userID int64, l Ledger, debit bool, amount money.Amount, reason string, ref Ref, override bool) (money.Amount, error) {
	var balance money.Amount
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		if debit {
			balance, err = s.Debit(ctx, tx, userID, l, amount, reason, ref, override)
		} else {
			balance, err = s.Credit(ctx, tx, userID, l, amount, reason, ref)
		}
		return err
	})
	return balance, err
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, userID int64, l Ledger, direction string, amount money.Amount, reason string, ref Ref, override bool) (money.Amount, error) {
	if !l.Valid() {
		return 0, apperr.Validationf("Unknown ledger %q", l)
	}
	if amount <= 0 {
		return 0, apperr.Validation("Amount must be greater than zero")
	}

	col := l.column()
	now := s.now()

	// 1. --- Atomic balance update ---
	// The floor check lives in the WHERE clause so concurrent debits
	// serialize on the row and only the ones that fit succeed.
	var (
		res sql.Result
		err error
	)
	switch {
	case direction == directionCredit:
		res, err = tx.ExecContext(ctx,
			"UPDATE users SET "+col+" = "+col+" + ?, updated_at = ? WHERE id = ?",
			amount, now, userID)
	case override:
		res, err = tx.ExecContext(ctx,
			"UPDATE users SET "+col+" = "+col+" - ?, updated_at = ? WHERE id = ?",
			amount, now, userID)
	default:
		res, err = tx.ExecContext(ctx,
			"UPDATE users SET "+col+" = "+col+" - ?, updated_at = ? WHERE id = ? AND "+col+" >= ?",
			amount, now, userID, amount)
	}
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", col, err)
	}

	n, err := database.RowsChanged(res)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if err := userExists(ctx, tx, userID); err != nil {
			return 0, err
		}
		return 0, apperr.New(apperr.KindInsufficientFunds, insufficientMessage(l))
	}

	// 2. --- Read the new balance ---
	var balance money.Amount
	if err := tx.QueryRowContext(ctx, "SELECT "+col+" FROM users WHERE id = ?", userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read %s: %w", col, err)
	}

	// 3. --- Append the ledger entry ---
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(user_id, ledger, direction, amount, balance_after, reason, ref_type, ref_id, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, string(l), direction, amount, balance, reason, string(ref.Type), nullID(ref.ID), nullID(ref.ActorID), now)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	if override && direction == directionDebit {
		s.log.Warnw("ledger debit with override", "user_id", userID, "ledger", l, "amount", amount.String(), "balance_after", balance.String())
	} else {
		s.log.Debugw("ledger entry", "user_id", userID, "ledger", l, "direction", direction, "amount", amount.String(), "ref_type", ref.Type, "ref_id", ref.ID)
	}
	return balance, nil
}

func insufficientMessage(l Ledger) string {
	switch l {
	case Referral:
		return "Insufficient referral balance"
	case Credits:
		return "Insufficient credits"
	default:
		return "Insufficient wallet balance"
	}
}

func userExists(ctx context.Context, q database.Querier, userID int64) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("User not found")
	}
	return err
}

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// Balance returns the current balance of one ledger.
func (s *Store) Balance(ctx context.Context, q database.Querier, userID int64, l Ledger) (money.Amount, error) {
	if !l.Valid() {
		return 0, apperr.Validationf("Unknown ledger %q", l)
	}
	var balance money.Amount
	err := q.QueryRowContext(ctx, "SELECT "+l.column()+" FROM users WHERE id = ?", userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("User not found")
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// Balances returns all three balances for a user.
func (s *Store) Balances(ctx context.Context, q database.Querier, userID int64) (Balances, error) {
	var b Balances
	err := q.QueryRowContext(ctx,
		"SELECT wallet_balance, referral_balance, credits_balance FROM users WHERE id = ?", userID,
	).Scan(&b.Wallet, &b.Referral, &b.Credits)
	if errors.Is(err, sql.ErrNoRows) {
		return Balances{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return Balances{}, fmt.Errorf("read balances: %w", err)
	}
	return b, nil
}

// Entries lists a user's ledger entries, newest first. An empty ledger
// filter returns entries from every ledger.
func (s *Store) Entries(ctx context.Context, q database.Querier, userID int64, l Ledger, limit, offset int) ([]models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, ledger, direction, amount, balance_after, reason, ref_type, ref_id, actor_id, created_at
		FROM ledger_entries
		WHERE user_id = ?`
	args := []interface{}{userID}
	if l != "" {
		if !l.Valid() {
			return nil, apperr.Validationf("Unknown ledger %q", l)
		}
		query += " AND ledger = ?"
		args = append(args, string(l))
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Ledger, &e.Direction, &e.Amount, &e.BalanceAfter,
			&e.Reason, &e.RefType, &e.RefID, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
