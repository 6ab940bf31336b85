package models

import (
	"errors"
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is the model for the 'users' table. The three balances are
// materialized sums of the user's ledger entries.
type User struct {
	ID           int64  `json:"id" db:"id"`
	CustomerID   string `json:"customer_id" db:"customer_id"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`
	FullName     string `json:"full_name" db:"full_name"`
	Role         string `json:"role" db:"role"`
	ReferredBy   *int64 `json:"referred_by,omitempty" db:"referred_by"`

	WalletBalance   money.Amount `json:"wallet_balance" db:"wallet_balance"`
	ReferralBalance money.Amount `json:"referral_balance" db:"referral_balance"`
	CreditsBalance  int64        `json:"credits_balance" db:"credits_balance"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Password Helper (Standard)
type Password struct {
	Plaintext *string
	Hash      string
}

func (p *Password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.Hash = string(hash)
	p.Plaintext = &plaintextPassword
	return nil
}

func (p *Password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte(plaintextPassword))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
