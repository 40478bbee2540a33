package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

// MaxLineQuantity caps the units of one product variant in a cart, after merging duplicates.
const MaxLineQuantity = 1000

// CartValidatorDeps bundles collaborators required by the cart validator.
type CartValidatorDeps struct {
	Inventory repositories.InventoryRepository
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type cartValidator struct {
	inventory repositories.InventoryRepository
	logger    func(context.Context, string, map[string]any)
}

// NewCartValidator constructs a CartValidator backed by the inventory ledger.
func NewCartValidator(deps CartValidatorDeps) (CartValidator, error) {
	if deps.Inventory == nil {
		return nil, errors.New("cart validator: inventory repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartValidator{inventory: deps.Inventory, logger: logger}, nil
}

type mergedLine struct {
	productID  string
	variantKey string
	quantity   int
	claimed    int64
	firstLine  int
}

// Validate merges duplicate lines, checks each against the ledger and prices it with the
// authoritative price. Any issue fails the whole cart.
func (v *cartValidator) Validate(ctx context.Context, lines []CartLine) (ValidatedCart, error) {
	if len(lines) == 0 {
		return ValidatedCart{}, &CartValidationError{Issues: []CartLineIssue{{Line: -1, Reason: ErrInvalidCart}}}
	}

	var issues []CartLineIssue
	merged := make([]*mergedLine, 0, len(lines))
	index := make(map[[2]string]*mergedLine, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		variantKey := strings.TrimSpace(line.VariantKey)
		if productID == "" || variantKey == "" || line.Quantity <= 0 || line.Quantity > MaxLineQuantity {
			issues = append(issues, CartLineIssue{Line: i, ProductID: productID, VariantKey: variantKey, Reason: ErrInvalidCart})
			continue
		}
		key := [2]string{productID, variantKey}
		if existing, ok := index[key]; ok {
			if existing.quantity > MaxLineQuantity-line.Quantity {
				issues = append(issues, CartLineIssue{Line: i, ProductID: productID, VariantKey: variantKey, Reason: ErrInvalidCart})
				continue
			}
			existing.quantity += line.Quantity
			continue
		}
		m := &mergedLine{productID: productID, variantKey: variantKey, quantity: line.Quantity, claimed: line.ClaimedPrice, firstLine: i}
		index[key] = m
		merged = append(merged, m)
	}
	if len(issues) > 0 {
		return ValidatedCart{}, &CartValidationError{Issues: issues}
	}

	ids := make([]string, 0, len(merged))
	seen := make(map[string]bool, len(merged))
	for _, m := range merged {
		if !seen[m.productID] {
			seen[m.productID] = true
			ids = append(ids, m.productID)
		}
	}

	products, err := v.inventory.GetProducts(ctx, ids)
	if err != nil {
		return ValidatedCart{}, mapRepositoryError(err)
	}

	cart := ValidatedCart{Lines: make([]domain.OrderLineItem, 0, len(merged))}
	for _, m := range merged {
		product, ok := products[m.productID]
		if !ok {
			issues = append(issues, CartLineIssue{Line: m.firstLine, ProductID: m.productID, Reason: ErrProductNotFound})
			continue
		}
		variant, ok := product.Variants[m.variantKey]
		if !ok || !variant.Available {
			issues = append(issues, CartLineIssue{Line: m.firstLine, ProductID: m.productID, VariantKey: m.variantKey, Reason: ErrVariantUnavailable})
			continue
		}
		if m.quantity > variant.Stock {
			issues = append(issues, CartLineIssue{Line: m.firstLine, ProductID: m.productID, VariantKey: m.variantKey, Reason: ErrInsufficientStock})
			continue
		}
		if m.claimed != 0 && m.claimed != product.Price {
			v.logger(ctx, "cart.price_mismatch", map[string]any{
				"productId":    m.productID,
				"claimedPrice": m.claimed,
				"price":        product.Price,
			})
		}
		lineTotal := product.Price * int64(m.quantity)
		cart.Lines = append(cart.Lines, domain.OrderLineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			VariantKey:  m.variantKey,
			Quantity:    m.quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		})
		cart.Subtotal += lineTotal
	}
	if len(issues) > 0 {
		return ValidatedCart{}, &CartValidationError{Issues: issues}
	}
	return cart, nil
}

func describeCartIssues(err error) []string {
	var cartErr *CartValidationError
	if !errors.As(err, &cartErr) {
		return nil
	}
	out := make([]string, 0, len(cartErr.Issues))
	for _, issue := range cartErr.Issues {
		out = append(out, fmt.Sprintf("line %d: %v", issue.Line, issue.Reason))
	}
	return out
}
