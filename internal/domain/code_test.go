package domain

import (
	"errors"
	"testing"
)

func TestGiftCode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		code    GiftCode
		wantErr error
	}{
		{
			name: "available without order",
			code: GiftCode{ProductID: "p-1", Value: "AAAA", Status: CodeStatusAvailable},
		},
		{
			name: "sold with order",
			code: GiftCode{ProductID: "p-1", Value: "AAAA", Status: CodeStatusSold, OrderID: "o-1"},
		},
		{
			name:    "sold without order",
			code:    GiftCode{ProductID: "p-1", Value: "AAAA", Status: CodeStatusSold},
			wantErr: ErrCodeOwnershipInvalid,
		},
		{
			name:    "available bound to order",
			code:    GiftCode{ProductID: "p-1", Value: "AAAA", Status: CodeStatusAvailable, OrderID: "o-1"},
			wantErr: ErrCodeOwnershipInvalid,
		},
		{
			name:    "unknown status",
			code:    GiftCode{ProductID: "p-1", Value: "AAAA", Status: "reserved"},
			wantErr: ErrCodeStatusInvalid,
		},
		{
			name:    "missing product",
			code:    GiftCode{Value: "AAAA", Status: CodeStatusAvailable},
			wantErr: ErrProductRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.code.Validate()
			if tt.wantErr == nil {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if !errors.Is(errors.Join(errs...), tt.wantErr) {
				t.Fatalf("expected %v among %v", tt.wantErr, errs)
			}
		})
	}
}

func TestMaskCode(t *testing.T) {
	tests := map[string]string{
		"ABCD1234EFGH5678": "************5678",
		"AB":               "**",
		"  WXYZ  ":         "****",
		"":                 "",
	}
	for in, want := range tests {
		if got := MaskCode(in); got != want {
			t.Errorf("MaskCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCodeValues_KeepsOrder(t *testing.T) {
	codes := []GiftCode{{Value: "B"}, {Value: "A"}, {Value: "C"}}
	got := CodeValues(codes)
	if len(got) != 3 || got[0] != "B" || got[1] != "A" || got[2] != "C" {
		t.Fatalf("unexpected values: %v", got)
	}
}
