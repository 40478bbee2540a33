package services

import (
	"context"
	"errors"
	"math"
	"testing"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories/memory"
)

func newTestCartValidator(t *testing.T, logger func(context.Context, string, map[string]any), products ...domain.Product) CartValidator {
	t.Helper()
	store := memory.New(memory.WithProducts(products...))
	validator, err := NewCartValidator(CartValidatorDeps{Inventory: store.Inventory(), Logger: logger})
	if err != nil {
		t.Fatalf("NewCartValidator: %v", err)
	}
	return validator
}

func TestCartValidatorUsesLedgerPrices(t *testing.T) {
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}
	validator := newTestCartValidator(t, logger, teeProduct(5))

	cart, err := validator.Validate(context.Background(), []CartLine{
		{ProductID: "remera-sol", VariantKey: "M", Quantity: 2, ClaimedPrice: 1},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cart.Subtotal != 2000 {
		t.Fatalf("expected subtotal from ledger price 2000, got %d", cart.Subtotal)
	}
	line := cart.Lines[0]
	if line.UnitPrice != 1000 || line.LineTotal != 2000 || line.ProductName != "Remera Sol" {
		t.Fatalf("unexpected line %+v", line)
	}
	if len(events) != 1 || events[0] != "cart.price_mismatch" {
		t.Fatalf("expected price mismatch to be logged, got %v", events)
	}
}

func TestCartValidatorMergesDuplicateLinesBeforeStockCheck(t *testing.T) {
	validator := newTestCartValidator(t, nil, teeProduct(3))

	_, err := validator.Validate(context.Background(), []CartLine{
		{ProductID: "remera-sol", VariantKey: "M", Quantity: 2},
		{ProductID: "remera-sol", VariantKey: "M", Quantity: 2},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for 2+2 against 3, got %v", err)
	}
	var cartErr *CartValidationError
	if !errors.As(err, &cartErr) || len(cartErr.Issues) != 1 || cartErr.Issues[0].Line != 0 {
		t.Fatalf("expected one issue on the first line, got %+v", cartErr)
	}

	cart, err := validator.Validate(context.Background(), []CartLine{
		{ProductID: "remera-sol", VariantKey: "M", Quantity: 1},
		{ProductID: "remera-sol", VariantKey: "L", Quantity: 3},
		{ProductID: "remera-sol", VariantKey: "M", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cart.Lines) != 2 || cart.Lines[0].Quantity != 3 || cart.Subtotal != 6000 {
		t.Fatalf("expected merged lines, got %+v", cart)
	}
}

func TestCartValidatorRejectsUnknownAndUnavailable(t *testing.T) {
	validator := newTestCartValidator(t, nil, teeProduct(3))

	cases := []struct {
		name string
		line CartLine
		want error
	}{
		{"unknown product", CartLine{ProductID: "gorra", VariantKey: "U", Quantity: 1}, ErrProductNotFound},
		{"unknown variant", CartLine{ProductID: "remera-sol", VariantKey: "XXL", Quantity: 1}, ErrVariantUnavailable},
		{"unavailable variant", CartLine{ProductID: "remera-sol", VariantKey: "XL", Quantity: 1}, ErrVariantUnavailable},
		{"zero quantity", CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: 0}, ErrInvalidCart},
		{"negative quantity", CartLine{ProductID: "remera-sol", VariantKey: "M", Quantity: -1}, ErrInvalidCart},
		{"blank variant", CartLine{ProductID: "remera-sol", Quantity: 1}, ErrInvalidCart},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(context.Background(), []CartLine{
				{ProductID: "remera-sol", VariantKey: "L", Quantity: 1},
				tc.line,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var cartErr *CartValidationError
			if !errors.As(err, &cartErr) || cartErr.Issues[0].Line != 1 {
				t.Fatalf("expected issue attributed to line 1, got %+v", cartErr)
			}
		})
	}
}

func TestCartValidatorRejectsEmptyCart(t *testing.T) {
	validator := newTestCartValidator(t, nil, teeProduct(3))
	_, err := validator.Validate(context.Background(), nil)
	if !errors.Is(err, ErrInvalidCart) {
		t.Fatalf("expected ErrInvalidCart, got %v", err)
	}
	if issues := describeCartIssues(err); len(issues) != 1 {
		t.Fatalf("expected one described issue, got %v", issues)
	}
}

func TestNewCartValidatorRequiresInventory(t *testing.T) {
	if _, err := NewCartValidator(CartValidatorDeps{}); err == nil {
		t.Fatalf("expected error without inventory")
	}
}

func TestCartValidatorCapsMergedQuantity(t *testing.T) {
	validator := newTestCartValidator(t, nil, teeProduct(3))

	cases := map[string][]CartLine{
		"overflowing merge": {
			{ProductID: "remera-sol", VariantKey: "M", Quantity: math.MaxInt},
			{ProductID: "remera-sol", VariantKey: "M", Quantity: math.MaxInt},
		},
		"single line over cap": {
			{ProductID: "remera-sol", VariantKey: "M", Quantity: MaxLineQuantity + 1},
		},
		"merge over cap": {
			{ProductID: "remera-sol", VariantKey: "M", Quantity: MaxLineQuantity},
			{ProductID: "remera-sol", VariantKey: "M", Quantity: 1},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			cart, err := validator.Validate(context.Background(), lines)
			if !errors.Is(err, ErrInvalidCart) {
				t.Fatalf("expected ErrInvalidCart, got cart=%+v err=%v", cart, err)
			}
		})
	}
}
