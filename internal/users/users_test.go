package users

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/auth"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(dbtest.New(t), auth.NewTokenManager("0123456789abcdef", time.Hour), logger.NewNop())
}

func TestCustomerIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^CUS-[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		if id := NewCustomerID(); !re.MatchString(id) {
			t.Fatalf("customer id %q", id)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	referrer, err := svc.Register(ctx, RegisterInput{FullName: "Ref", Email: "ref@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("Register referrer: %v", err)
	}
	u, err := svc.Register(ctx, RegisterInput{FullName: "New", Email: "New@Example.com", Password: "password2", ReferralCode: referrer.CustomerID})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "new@example.com" || u.Role != models.RoleCustomer || u.ReferredBy == nil || *u.ReferredBy != referrer.ID {
		t.Fatalf("unexpected user %+v", u)
	}

	_, err = svc.Register(ctx, RegisterInput{FullName: "Dup", Email: "new@example.com", Password: "password3"})
	if apperr.KindOf(err) != apperr.KindAlreadyExists {
		t.Fatalf("duplicate email error = %v", err)
	}
	_, err = svc.Register(ctx, RegisterInput{FullName: "X", Email: "x@example.com", Password: "password4", ReferralCode: "CUS-NOPE"})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad referral error = %v", err)
	}

	sess, err := svc.Login(ctx, LoginInput{Email: "new@example.com", Password: "password2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.tokens.ValidateToken(sess.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id, _ := claims.UserID(); id != u.ID {
		t.Fatalf("token subject = %d, want %d", id, u.ID)
	}

	if _, err := svc.Login(ctx, LoginInput{Email: "new@example.com", Password: "wrong-pass"}); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("wrong password error = %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "password2"}); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("unknown email error = %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, "boss@example.com", "supersecret", "")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !admin.IsAdmin() {
		t.Fatalf("role = %s", admin.Role)
	}

	again, err := svc.EnsureAdmin(ctx, "boss@example.com", "newsecret1", "")
	if err != nil || again.ID != admin.ID {
		t.Fatalf("EnsureAdmin again = %v, %v", again, err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "boss@example.com", Password: "newsecret1"}); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
	role, err := svc.Role(ctx, admin.ID)
	if err != nil || role != models.RoleAdmin {
		t.Fatalf("Role = %q, %v", role, err)
	}
	if _, err := svc.Role(ctx, 9999); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("missing user role error = %v", err)
	}
}
