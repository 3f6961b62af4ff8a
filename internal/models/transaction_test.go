package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TxnPending, TxnProcessing, true},
		{TxnPending, TxnSuccess, false},
		{TxnProcessing, TxnSuccess, true},
		{TxnProcessing, TxnFailed, true},
		{TxnFailed, TxnProcessing, true},
		{TxnFailed, TxnSuccess, false},
		{TxnSuccess, TxnPartialRefund, true},
		{TxnSuccess, TxnRefunded, true},
		{TxnSuccess, TxnFailed, false},
		{TxnPartialRefund, TxnPartialRefund, true},
		{TxnPartialRefund, TxnRefunded, true},
		{TxnRefunded, TxnPartialRefund, false},
		{TxnRefunded, TxnProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v; want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidTransactionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"TXN_ABCDEFGHIJ", true},
		{"TXN_ABC_123_XYZ_0", true},
		{"TXN_" + "A234567890123456789012345678901"[:30], true},
		{"TXN_ABCDEFGHI", false},                          // 9 chars
		{"TXN_" + "A234567890123456789012345678901", false}, // 31 chars
		{"TXN_abcdefghij", false},
		{"txn_ABCDEFGHIJ", false},
		{"TXN-ABCDEFGHIJ", false},
		{"TXN_ABCDEFGHIJ\n", false},
		{" TXN_ABCDEFGHIJ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTransactionID(tt.id); got != tt.want {
			t.Errorf("ValidTransactionID(%q) = %v; want %v", tt.id, got, tt.want)
		}
	}
}

func TestNewTransactionIDIsValid(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := NewTransactionID(time.Now())
		if !ValidTransactionID(id) {
			t.Fatalf("generated id %q does not match pattern", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRefundStatusFor(t *testing.T) {
	tx := Transaction{Amount: decimal.NewFromInt(1000)}
	if got := tx.RefundStatusFor(decimal.NewFromInt(400)); got != TxnPartialRefund {
		t.Errorf("got %s; want partial_refund", got)
	}
	if got := tx.RefundStatusFor(decimal.NewFromInt(1000)); got != TxnRefunded {
		t.Errorf("got %s; want refunded", got)
	}
}

func TestDiscountApply(t *testing.T) {
	price := decimal.NewFromInt(1000)
	pct := Discount{Percent: decimal.NewFromInt(20)}
	if got := pct.Apply(price); !got.Equal(decimal.NewFromInt(800)) {
		t.Errorf("percent discount = %s; want 800", got)
	}
	flat := Discount{Flat: decimal.NewFromInt(1500)}
	if got := flat.Apply(price); !got.IsZero() {
		t.Errorf("flat discount larger than price = %s; want 0", got)
	}
}

func TestGatewayConfigMasked(t *testing.T) {
	c := GatewayConfig{APIKey: "key_live_abcd1234", APISecret: "sec"}
	m := c.Masked()
	if m.APIKey != "****1234" || m.APISecret != "****" {
		t.Errorf("masked = %q / %q", m.APIKey, m.APISecret)
	}
	if c.APISecret != "sec" {
		t.Error("Masked must not mutate the receiver")
	}
}
