package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates a decrement would drive stock below zero.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product has no catalog record.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorVariantNotFound indicates the product has no such variant key.
	InventoryErrorVariantNotFound InventoryErrorCode = "inventory_variant_not_found"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op         string
	Code       InventoryErrorCode
	ProductID  string
	VariantKey string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error for one product variant.
func NewInventoryError(code InventoryErrorCode, productID, variantKey string, err error) *InventoryError {
	message := string(code)
	switch code {
	case InventoryErrorInsufficientStock:
		message = fmt.Sprintf("insufficient stock for %s/%s", productID, variantKey)
	case InventoryErrorProductNotFound:
		message = fmt.Sprintf("product %s not found", productID)
	case InventoryErrorVariantNotFound:
		message = fmt.Sprintf("variant %s/%s not found", productID, variantKey)
	}
	return &InventoryError{
		Code:       code,
		ProductID:  productID,
		VariantKey: variantKey,
		Message:    message,
		Err:        err,
	}
}
