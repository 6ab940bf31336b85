package money

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"25", 2500, false},
		{"25.5", 2550, false},
		{"25.50", 2550, false},
		{"0.05", 5, false},
		{".75", 75, false},
		{"-3.10", -310, false},
		{" 7.00 ", 700, false},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1e3", 0, true},
		{".", 0, true},
		{"1.230", 123, false},
		{"184467440737095517.00", 0, true},
		{"-92233720368547758.08", -9223372036854775808, false},
		{"92233720368547758.08", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := Amount(500).String(); got != "5.00" {
		t.Errorf("String() = %q, want 5.00", got)
	}
	if got := Amount(-1205).String(); got != "-12.05" {
		t.Errorf("String() = %q, want -12.05", got)
	}
	if got := Amount(-5).String(); got != "-0.05" {
		t.Errorf("String() = %q, want -0.05", got)
	}
}

func TestMulBasisPoints(t *testing.T) {
	tests := []struct {
		amount Amount
		bps    int64
		want   Amount
	}{
		{5000, 1000, 500},
		{2500, 500, 125},
		{333, 1000, 33},
		{335, 1000, 34},
		{100, 0, 0},
		{-335, 1000, -34},
	}
	for _, tt := range tests {
		if got := tt.amount.MulBasisPoints(tt.bps); got != tt.want {
			t.Errorf("%d.MulBasisPoints(%d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestJSON(t *testing.T) {
	var body struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 25.5, "b": "10"}`), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body.A != 2550 || body.B != 1000 {
		t.Fatalf("got a=%d b=%d", body.A, body.B)
	}

	out, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"a":"25.50","b":"10.00"}` {
		t.Errorf("Marshal = %s", out)
	}
}
