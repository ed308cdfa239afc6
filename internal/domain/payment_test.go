package domain

import (
	"errors"
	"testing"
)

func validNotification() PaymentNotification {
	return PaymentNotification{
		Reference:        "cs_test_1",
		EventID:          "evt_1",
		BuyerID:          "user-1",
		RecipientEmail:   "buyer@example.com",
		ProductID:        "prod-1",
		Quantity:         2,
		AmountTotalMinor: 5000,
	}
}

func TestPaymentNotification_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(n *PaymentNotification)
		wantErr error
	}{
		{name: "valid", mut: func(*PaymentNotification) {}},
		{name: "zero quantity", mut: func(n *PaymentNotification) { n.Quantity = 0 }, wantErr: ErrQuantityInvalid},
		{name: "negative quantity", mut: func(n *PaymentNotification) { n.Quantity = -3 }, wantErr: ErrQuantityInvalid},
		{name: "blank reference", mut: func(n *PaymentNotification) { n.Reference = "  " }, wantErr: ErrReferenceRequired},
		{name: "no product", mut: func(n *PaymentNotification) { n.ProductID = "" }, wantErr: ErrProductRequired},
		{name: "no buyer", mut: func(n *PaymentNotification) { n.BuyerID = "" }, wantErr: ErrBuyerRequired},
		{name: "negative amount", mut: func(n *PaymentNotification) { n.AmountTotalMinor = -1 }, wantErr: ErrAmountNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNotification()
			tt.mut(&n)
			errs := n.Validate()
			if tt.wantErr == nil {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if !errors.Is(errors.Join(errs...), tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, errs)
			}
		})
	}
}

func TestPaymentNotification_PayloadHash(t *testing.T) {
	a := validNotification()
	b := validNotification()
	b.EventID = "evt_redelivered"

	if a.PayloadHash() != b.PayloadHash() {
		t.Fatal("event id must not affect payload hash")
	}

	b.Quantity = 3
	if a.PayloadHash() == b.PayloadHash() {
		t.Fatal("quantity change must change payload hash")
	}
}
