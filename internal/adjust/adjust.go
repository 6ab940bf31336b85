// Package adjust lets an admin credit or debit any user's ledger by hand.
package adjust

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/security"
)

const (
	ActionCredit = "credit"
	ActionDebit  = "debit"
)

// actions maps accepted spellings onto credit or debit.
var actions = map[string]string{
	ActionCredit: ActionCredit,
	"add":        ActionCredit,
	ActionDebit:  ActionDebit,
	"subtract":   ActionDebit,
}

// Input is the body of the admin adjust endpoints. Amount is a decimal
// string for wallet and referral and a whole number for credits.
type Input struct {
	Identifier string `json:"identifier" binding:"required,max=255"`
	Ledger     string `json:"ledger"`
	Action     string `json:"action" binding:"required,oneof=credit debit add subtract"`
	Amount     string `json:"amount" binding:"required"`
	Reason     string `json:"reason" binding:"required,max=1000"`
	Override   bool   `json:"override"`
}

type Result struct {
	UserID     int64         `json:"user_id"`
	CustomerID string        `json:"customer_id"`
	Ledger     ledger.Ledger `json:"ledger"`
	Action     string        `json:"action"`
	Amount     string        `json:"amount"`
	NewBalance string        `json:"new_balance"`
}

type Service struct {
	db     *sql.DB
	ledger *ledger.Store
	log    *logger.Logger
}

func NewService(db *sql.DB, l *ledger.Store, log *logger.Logger) *Service {
	return &Service{db: db, ledger: l, log: log}
}

type target struct {
	id         int64
	customerID string
}

// resolve finds the single user matching identifier by numeric id, email
// or customer_id.
func (s *Service) resolve(ctx context.Context, identifier string) (*target, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.Validation("Identifier is required")
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		id = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id FROM users
		WHERE id = ? OR LOWER(email) = LOWER(?) OR UPPER(customer_id) = UPPER(?)
		LIMIT 2`, id, identifier, identifier)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	defer rows.Close()

	var found []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.customerID); err != nil {
			return nil, fmt.Errorf("resolve user: %w", err)
		}
		found = append(found, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if len(found) != 1 {
		return nil, apperr.New(apperr.KindAmbiguousOrNotFound, "No single user matches that identifier")
	}
	return &found[0], nil
}

func parseAmount(l ledger.Ledger, raw string) (money.Amount, error) {
	raw = strings.TrimSpace(raw)
	if l == ledger.Credits {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return 0, apperr.Validation("Credits must be a whole number greater than zero")
		}
		return money.Amount(n), nil
	}
	a, err := money.Parse(raw)
	if err != nil || a <= 0 {
		return 0, apperr.Validation("Amount must be greater than zero")
	}
	return a, nil
}

func format(l ledger.Ledger, a money.Amount) string {
	if l == ledger.Credits {
		return strconv.FormatInt(a.Cents(), 10)
	}
	return a.String()
}

// Adjust applies one admin credit or debit. The reason is required after
// markup is stripped. Debits past zero need override.
func (s *Service) Adjust(ctx context.Context, actorID int64, in Input) (*Result, error) {
	l, err := ledger.Parse(strings.ToLower(strings.TrimSpace(in.Ledger)))
	if err != nil {
		return nil, err
	}
	action, ok := actions[strings.ToLower(strings.TrimSpace(in.Action))]
	if !ok {
		return nil, apperr.Validation("Action must be credit or debit")
	}
	reason := security.CleanText(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("A reason is required")
	}
	amount, err := parseAmount(l, in.Amount)
	if err != nil {
		return nil, err
	}

	user, err := s.resolve(ctx, in.Identifier)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Apply(ctx, s.db, user.id, l, action == ActionDebit, amount, reason,
		ledger.AdminRef(actorID), in.Override)
	if err != nil {
		return nil, err
	}

	if in.Override {
		s.log.Warnw("admin adjustment with override", "actor_id", actorID, "user_id", user.id, "ledger", l, "action", action, "amount", format(l, amount))
	} else {
		s.log.Infow("admin adjustment", "actor_id", actorID, "user_id", user.id, "ledger", l, "action", action, "amount", format(l, amount))
	}
	return &Result{
		UserID:     user.id,
		CustomerID: user.customerID,
		Ledger:     l,
		Action:     action,
		Amount:     format(l, amount),
		NewBalance: format(l, balance),
	}, nil
}
