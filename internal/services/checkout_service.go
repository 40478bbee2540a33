package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/payments"
)

const (
	// Redirect URLs may carry this placeholder; it is replaced with the order id.
	orderIDPlaceholder = "{ORDER_ID}"

	checkoutSessionFailedReason = "checkout_session_failed"
	maxCheckoutTextLength       = 200
)

type checkoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Validator  CartValidator
	Orders     OrderService
	Shipping   ShippingRates
	Payments   checkoutSessionCreator
	SuccessURL string
	FailureURL string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	validator  CartValidator
	orders     OrderService
	shipping   ShippingRates
	payments   checkoutSessionCreator
	successURL string
	failureURL string
	policy     *bluemonday.Policy
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Validator == nil {
		return nil, errors.New("checkout service: cart validator is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping rates are required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		validator:  deps.Validator,
		orders:     deps.Orders,
		shipping:   deps.Shipping,
		payments:   deps.Payments,
		successURL: strings.TrimSpace(deps.SuccessURL),
		failureURL: strings.TrimSpace(deps.FailureURL),
		policy:     bluemonday.StrictPolicy(),
		logger:     logger,
	}, nil
}

// Checkout validates the cart against the ledger, creates the order and starts payment.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if !cmd.PaymentMethod.Valid() {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	customer, err := s.customer(cmd.Customer)
	if err != nil {
		return CheckoutResult{}, err
	}
	quote, err := s.shipping.Quote(strings.TrimSpace(cmd.Shipping.MethodID))
	if err != nil {
		return CheckoutResult{}, err
	}
	shipping, err := s.shippingInfo(cmd.Shipping, quote)
	if err != nil {
		return CheckoutResult{}, err
	}

	cart, err := s.validator.Validate(ctx, cmd.Lines)
	if err != nil {
		s.logger(ctx, "checkout.cart_rejected", map[string]any{
			"issues": describeCartIssues(err),
		})
		return CheckoutResult{}, err
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		Customer:      customer,
		Cart:          cart,
		Shipping:      shipping,
		PaymentMethod: cmd.PaymentMethod,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if order.PaymentMethod == domain.PaymentMethodTransfer {
		return CheckoutResult{Order: order, Transfer: order.Transfer}, nil
	}

	session, err := s.payments.CreateCheckoutSession(ctx, s.sessionRequest(order, quote))
	if err != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		// Gateway orders hold no stock yet, so cancelling leaves nothing to restore.
		if _, cancelErr := s.orders.Transition(ctx, TransitionCommand{
			OrderID: order.ID,
			Target:  domain.OrderStatusCancelled,
			Actor:   domain.ActorGateway,
			Reason:  checkoutSessionFailedReason,
		}); cancelErr != nil {
			s.logger(ctx, "checkout.cancel_failed", map[string]any{
				"orderId": order.ID,
				"error":   cancelErr.Error(),
			})
		}
		return CheckoutResult{}, &GatewayError{Op: "create_session", Err: err}
	}

	s.logger(ctx, "checkout.session_created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
	})
	return CheckoutResult{
		Order:       order,
		RedirectURL: session.RedirectURL,
		SessionID:   session.ID,
	}, nil
}

func (s *checkoutService) sessionRequest(order Order, quote ShippingQuote) payments.CheckoutSessionRequest {
	lines := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, payments.CheckoutLineItem{
			Name:       item.ProductName,
			SKU:        item.ProductID + "/" + item.VariantKey,
			Quantity:   int64(item.Quantity),
			UnitAmount: item.UnitPrice,
		})
	}
	return payments.CheckoutSessionRequest{
		Lines:             lines,
		ShippingCost:      order.Totals.Shipping,
		ShippingLabel:     quote.Label,
		SuccessURL:        strings.ReplaceAll(s.successURL, orderIDPlaceholder, order.ID),
		FailureURL:        strings.ReplaceAll(s.failureURL, orderIDPlaceholder, order.ID),
		ExternalReference: order.ID,
		CustomerEmail:     order.Customer.Email,
		IdempotencyKey:    "checkout-" + order.ID,
	}
}

func (s *checkoutService) customer(in CustomerInput) (domain.OrderCustomer, error) {
	customer := domain.OrderCustomer{
		Name:           s.clean(in.Name),
		Email:          strings.TrimSpace(in.Email),
		Phone:          s.clean(in.Phone),
		DocumentNumber: s.clean(in.DocumentNumber),
	}
	if customer.Name == "" {
		return domain.OrderCustomer{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if customer.Email == "" {
		return domain.OrderCustomer{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	addr, err := mail.ParseAddress(customer.Email)
	if err != nil || addr.Address != customer.Email {
		return domain.OrderCustomer{}, fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
	}
	return customer, nil
}

func (s *checkoutService) shippingInfo(in ShippingInput, quote ShippingQuote) (domain.ShippingInfo, error) {
	address := domain.Address{
		Street:     s.clean(in.Address.Street),
		Number:     s.clean(in.Address.Number),
		Unit:       s.clean(in.Address.Unit),
		City:       s.clean(in.Address.City),
		Region:     s.clean(in.Address.Region),
		PostalCode: s.clean(in.Address.PostalCode),
		Country:    s.clean(in.Address.Country),
	}
	if quote.RequiresAddress && (address.Street == "" || address.City == "") {
		return domain.ShippingInfo{}, fmt.Errorf("%w: shipping address street and city are required", ErrOrderInvalidInput)
	}
	detail := s.clean(in.Detail)
	if detail == "" {
		detail = describeShipping(quote, address)
	}
	return domain.ShippingInfo{
		Address:  address,
		MethodID: quote.MethodID,
		Detail:   detail,
		Cost:     quote.Cost,
	}, nil
}

func describeShipping(quote ShippingQuote, address domain.Address) string {
	if !quote.RequiresAddress {
		return quote.Label
	}
	parts := []string{strings.TrimSpace(address.Street + " " + address.Number)}
	if address.Unit != "" {
		parts = append(parts, address.Unit)
	}
	parts = append(parts, address.City)
	if address.PostalCode != "" {
		parts = append(parts, address.PostalCode)
	}
	return quote.Label + ": " + strings.Join(parts, ", ")
}

// clean strips markup from free-text input. Entities produced by the policy are decoded
// again so names like O'Neill survive.
func (s *checkoutService) clean(value string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(strings.TrimSpace(value))))
	if runes := []rune(cleaned); len(runes) > maxCheckoutTextLength {
		cleaned = string(runes[:maxCheckoutTextLength])
	}
	return cleaned
}
