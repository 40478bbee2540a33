package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lunaroja/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the requested transition is not allowed from the current state.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderContention accompanies ErrOrderConflict when the move is still legal but
	// concurrent writers kept it from being recorded. Retrying may succeed.
	ErrOrderContention = errors.New("order: contention")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")

	// ErrProductNotFound indicates a cart line references an unknown product.
	ErrProductNotFound = errors.New("cart: product not found")
	// ErrVariantUnavailable indicates the variant is missing or not for sale.
	ErrVariantUnavailable = errors.New("cart: variant unavailable")
	// ErrInsufficientStock indicates the requested quantity exceeds stock.
	ErrInsufficientStock = errors.New("cart: insufficient stock")
	// ErrInvalidCart indicates an empty cart or a quantity outside 1..MaxLineQuantity.
	ErrInvalidCart = errors.New("cart: invalid cart")

	// ErrGatewayUnavailable indicates the payment gateway failed or timed out.
	ErrGatewayUnavailable = errors.New("gateway: unavailable")
	// ErrCallbackSignature indicates a webhook payload failed signature verification.
	ErrCallbackSignature = errors.New("gateway: invalid callback signature")
)

// CartLineIssue describes why one cart line was refused.
type CartLineIssue struct {
	Line       int
	ProductID  string
	VariantKey string
	Reason     error
}

// CartValidationError aggregates per-line issues. It unwraps to the reason of every issue.
type CartValidationError struct {
	Issues []CartLineIssue
}

func (e *CartValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ErrInvalidCart.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		switch {
		case issue.VariantKey != "":
			parts = append(parts, fmt.Sprintf("%s (%s/%s)", issue.Reason, issue.ProductID, issue.VariantKey))
		case issue.ProductID != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", issue.Reason, issue.ProductID))
		default:
			parts = append(parts, issue.Reason.Error())
		}
	}
	return strings.Join(parts, "; ")
}

func (e *CartValidationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, len(e.Issues))
	for _, issue := range e.Issues {
		errs = append(errs, issue.Reason)
	}
	return errs
}

// GatewayError reports a failed call to the payment gateway.
type GatewayError struct {
	Op        string
	SessionID string
	Timeout   bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("gateway: %s", e.Op)
	if e.SessionID != "" {
		msg += " session " + e.SessionID
	}
	if e.Timeout {
		msg += " timed out"
	} else {
		msg += " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrGatewayUnavailable}
	}
	return []error{ErrGatewayUnavailable, e.Err}
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repositories.InventoryErrorVariantNotFound:
			return fmt.Errorf("%w: %v", ErrVariantUnavailable, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}
