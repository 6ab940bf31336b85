package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("checkout: %w", New(KindInsufficientFunds, "Insufficient wallet balance"))

	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatal("expected wrapped error to match ErrInsufficientFunds")
	}
	if errors.Is(err, ErrCouponInvalid) {
		t.Fatal("did not expect match with ErrCouponInvalid")
	}
	if KindOf(err) != KindInsufficientFunds {
		t.Errorf("KindOf = %s", KindOf(err))
	}
}

func TestDetailHidesInternalCause(t *testing.T) {
	err := Internal(sql.ErrConnDone)
	if got := Detail(err); got != "Internal server error" {
		t.Errorf("Detail = %q", got)
	}
	if got := Detail(errors.New("boom")); got != "Internal server error" {
		t.Errorf("Detail(foreign) = %q", got)
	}
	if got := Detail(Validation("amount must be positive")); got != "amount must be positive" {
		t.Errorf("Detail(validation) = %q", got)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Error("Internal should unwrap to its cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindInsufficientFunds, http.StatusPaymentRequired},
		{KindCouponInvalid, http.StatusUnprocessableEntity},
		{KindIllegalTransition, http.StatusConflict},
		{KindAmbiguousOrNotFound, http.StatusNotFound},
		{KindExternalGateway, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
