package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "validation", err: NewValidationError("branch_id", ErrBranchRequired), kind: ErrValidation},
		{name: "validation keeps reason", err: NewValidationError("branch_id", ErrBranchRequired), kind: ErrBranchRequired},
		{name: "shortage", err: &ShortageError{ItemID: "bun", Requested: 2, Available: 1}, kind: ErrInsufficientStock},
		{name: "insufficient stock", err: &InsufficientStockError{}, kind: ErrInsufficientStock},
		{name: "item not found", err: &ItemNotFoundError{ItemIDs: []string{"bun"}}, kind: ErrItemNotFound},
		{name: "transition", err: &TransitionError{From: OrderStatusSubmitted, To: OrderStatusDelivered}, kind: ErrInvalidTransition},
		{name: "wrapped transition", err: fmt.Errorf("apply: %w", &TransitionError{}), kind: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("expected %v to be %v", tt.err, tt.kind)
			}
		})
	}
}

func TestInsufficientStockErrorNamesEveryLine(t *testing.T) {
	err := &InsufficientStockError{Shortages: []StockShortage{
		{Line: 0, ItemID: "croissant", Requested: 3, Available: 1},
		{Line: 2, ItemID: "baguette", Requested: 1, Available: 0},
	}}
	want := "insufficient stock: croissant (requested 3, available 1), baguette (requested 1, available 0)"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("commit: %w", ErrCheckoutTimeout)) {
		t.Fatal("timeout must be retryable")
	}
	if !IsRetryable(ErrPaymentNotConfirmed) {
		t.Fatal("missing payment confirmation must be retryable")
	}
	if IsRetryable(ErrReconciliationRequired) {
		t.Fatal("reconciliation is not retryable")
	}
	if IsRetryable(&InsufficientStockError{}) {
		t.Fatal("insufficient stock is not retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
