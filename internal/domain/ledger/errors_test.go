package ledger

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidMobile, KindValidation},
		{fmt.Errorf("wrapped: %w", ErrInvalidDistance), KindValidation},
		{ErrNotFound, KindNotFound},
		{ErrOverpayment, KindInvariant},
		{ErrInvalidFeeChange, KindInvariant},
		{ErrPatientInactive, KindInvariant},
		{ErrMalformedIdentifier, KindStore},
		{errors.New("boom"), KindStore},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStoreErr(t *testing.T) {
	if storeErr("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if err := storeErr("op", ErrNotFound); err != ErrNotFound {
		t.Errorf("expected sentinel to pass through, got %v", err)
	}

	inner := storeErr("inner", errors.New("boom"))
	if err := storeErr("outer", inner); err != inner {
		t.Errorf("expected existing store error to pass through, got %v", err)
	}

	err := storeErr("read rows", fmt.Errorf("open: %w", syscall.ECONNRESET))
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StoreError, got %T", err)
	}
	if !se.Transient || se.Op != "read rows" {
		t.Errorf("unexpected store error: %+v", se)
	}

	err = storeErr("save", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected deadline to stay visible through the wrapper")
	}

	errors.As(storeErr("save", errors.New("permission denied")), &se)
	if se.Transient {
		t.Error("expected permanent failure")
	}
}

func TestPartialPaymentError(t *testing.T) {
	inner := storeErr("append payment", errors.New("disk full"))
	err := &PartialPaymentError{PatientID: "P001", Stage: StagePaidAmountUpdated, Err: inner}

	if got := err.Error(); got != "payment for P001 stopped after PaidAmountUpdated: append payment: disk full" {
		t.Errorf("unexpected message: %s", got)
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Error("expected wrapped store error")
	}
}
