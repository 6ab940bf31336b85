// Package users handles registration, login and account lookups.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/auth"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
)

type Service struct {
	db     *sql.DB
	tokens *auth.TokenManager
	log    *logger.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, tokens *auth.TokenManager, log *logger.Logger) *Service {
	return &Service{db: db, tokens: tokens, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterInput is the body of POST /auth/register. ReferralCode is the
// referrer's customer_id.
type RegisterInput struct {
	FullName     string `json:"full_name" binding:"required,max=255"`
	Email        string `json:"email" binding:"required,email,max=255"`
	Password     string `json:"password" binding:"required,min=8,max=72"`
	ReferralCode string `json:"referral_code" binding:"max=32"`
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Session is returned by Login.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// NewCustomerID returns a public account id such as CUS-1A2B3C4D.
func NewCustomerID() string {
	return "CUS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

const columns = `id, customer_id, email, password_hash, full_name, role, referred_by,
	wallet_balance, referral_balance, credits_balance, created_at, updated_at`

func scan(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CustomerID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.ReferredBy,
		&u.WalletBalance, &u.ReferralBalance, &u.CreditsBalance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) one(ctx context.Context, q database.Querier, where string, arg interface{}) (*models.User, error) {
	u, err := scan(q.QueryRowContext(ctx, "SELECT "+columns+" FROM users WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.one(ctx, s.db, "id = ?", id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.one(ctx, s.db, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

// Role reads the stored role, so a demoted admin loses access even while
// holding an old token.
func (s *Service) Role(ctx context.Context, id int64) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = ?", id).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.New(apperr.KindUnauthorized, "Account no longer exists")
	}
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	return role, nil
}

func (s *Service) insert(ctx context.Context, email, hash, fullName, role string, referredBy *int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		now := s.now()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO users (customer_id, email, password_hash, full_name, role, referred_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			NewCustomerID(), email, hash, fullName, role, referredBy, now, now)
		if err == nil {
			return res.LastInsertId()
		}
		if !database.IsDuplicate(err) {
			return 0, fmt.Errorf("insert user: %w", err)
		}
		if _, err := s.GetByEmail(ctx, email); err == nil {
			return 0, apperr.New(apperr.KindAlreadyExists, "An account with this email already exists")
		}
		// customer_id collided; draw another.
		lastErr = err
	}
	return 0, fmt.Errorf("insert user: %w", lastErr)
}

// Register creates a customer account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if len(in.Password) < 8 {
		return nil, apperr.Validation("Password must be at least 8 characters")
	}

	var referredBy *int64
	if code := strings.ToUpper(strings.TrimSpace(in.ReferralCode)); code != "" {
		ref, err := s.one(ctx, s.db, "customer_id = ?", code)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.Validation("Unknown referral code")
			}
			return nil, err
		}
		referredBy = &ref.ID
	}

	var password models.Password
	if err := password.Set(in.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.insert(ctx, email, password.Hash, strings.TrimSpace(in.FullName), models.RoleCustomer, referredBy)
	if err != nil {
		return nil, err
	}
	s.log.Infow("user registered", "user_id", id, "referred", referredBy != nil)
	return s.Get(ctx, id)
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	invalid := apperr.New(apperr.KindUnauthorized, "Invalid email or password")

	u, err := s.GetByEmail(ctx, in.Email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, invalid
		}
		return nil, err
	}
	ok, err := (&models.Password{Hash: u.PasswordHash}).Matches(in.Password)
	if err != nil || !ok {
		return nil, invalid
	}

	token, err := s.tokens.GenerateToken(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: token, User: u}, nil
}

// EnsureAdmin creates an admin account, or promotes and resets the
// password of an existing one with the same email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, fullName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 8 {
		return nil, apperr.Validation("Admin needs an email and a password of at least 8 characters")
	}
	var p models.Password
	if err := p.Set(password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	existing, err := s.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx,
			"UPDATE users SET role = ?, password_hash = ?, updated_at = ? WHERE id = ?",
			models.RoleAdmin, p.Hash, s.now(), existing.ID); err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
		s.log.Warnw("existing user promoted to admin", "user_id", existing.ID)
		return s.Get(ctx, existing.ID)
	case apperr.KindOf(err) != apperr.KindNotFound:
		return nil, err
	}

	if fullName == "" {
		fullName = "Administrator"
	}
	id, err := s.insert(ctx, email, p.Hash, fullName, models.RoleAdmin, nil)
	if err != nil {
		return nil, err
	}
	s.log.Infow("admin created", "user_id", id)
	return s.Get(ctx, id)
}
