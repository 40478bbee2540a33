package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	transitionOutcomeApplied  = "applied"
	transitionOutcomeNoop     = "noop"
	transitionOutcomeConflict = "conflict"

	// Bound on re-planning after the store reports a concurrent status change.
	maxTransitionAttempts = 3

	orderMeterName = "github.com/lunaroja/api/internal/services"

	defaultTransferWindow = 15 * time.Minute
)

type transitionEdge struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

type actorRule struct {
	actor   domain.Actor
	methods []domain.PaymentMethod
}

var (
	anyMethod    = []domain.PaymentMethod{domain.PaymentMethodGateway, domain.PaymentMethodTransfer}
	transferOnly = []domain.PaymentMethod{domain.PaymentMethodTransfer}
	gatewayOnly  = []domain.PaymentMethod{domain.PaymentMethodGateway}
	adminAny     = []actorRule{{actor: domain.ActorAdmin, methods: anyMethod}}
)

var orderStateTransitions = map[transitionEdge][]actorRule{
	{domain.OrderStatusPending, domain.OrderStatusAwaitingConfirmation}: {
		{actor: domain.ActorCustomer, methods: transferOnly},
	},
	{domain.OrderStatusPending, domain.OrderStatusPaid}: {
		{actor: domain.ActorGateway, methods: gatewayOnly},
		{actor: domain.ActorAdmin, methods: anyMethod},
	},
	{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusPaid}: adminAny,
	{domain.OrderStatusPending, domain.OrderStatusCancelled}: {
		{actor: domain.ActorWatchdog, methods: transferOnly},
		{actor: domain.ActorGateway, methods: gatewayOnly},
		{actor: domain.ActorAdmin, methods: anyMethod},
	},
	{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusCancelled}: adminAny,
	{domain.OrderStatusPaid, domain.OrderStatusShipped}:                  adminAny,
	{domain.OrderStatusPaid, domain.OrderStatusDelivered}:                adminAny,
	{domain.OrderStatusShipped, domain.OrderStatusDelivered}:             adminAny,
	{domain.OrderStatusPaid, domain.OrderStatusCancelled}:                adminAny,
	{domain.OrderStatusShipped, domain.OrderStatusCancelled}:             adminAny,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Notifications NotificationDispatcher
	// Queue moves notification delivery off the request path when set. A full queue
	// falls back to delivering inline.
	Queue         jobSubmitter
	Conversions   ConversionTracker
	Transfer      TransferAccount

	// TransferWindow is how long a transfer order may stay pending. Defaults to 15 minutes.
	TransferWindow          time.Duration
	// TransferDiscountPercent is taken off the subtotal of transfer orders.
	TransferDiscountPercent int

	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// TransferAccount is the bank account shown on transfer orders.
type TransferAccount struct {
	BankName      string
	AccountHolder string
	AccountNumber string
	Alias         string
}

type orderService struct {
	orders         repositories.OrderRepository
	notifications  NotificationDispatcher
	queue          jobSubmitter
	conversions    ConversionTracker
	transfer       TransferAccount
	transferWindow time.Duration
	discount       int
	transitions    metric.Int64Counter
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	window := deps.TransferWindow
	if window <= 0 {
		window = defaultTransferWindow
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderMeterName)
	}
	counter, err := meter.Int64Counter(
		"orders.transitions",
		metric.WithDescription("Count of order status transition requests by outcome"),
	)
	if err != nil {
		logger(context.Background(), "order.metrics_unavailable", map[string]any{"error": err.Error()})
	}

	return &orderService{
		orders:         deps.Orders,
		notifications:  deps.Notifications,
		queue:          deps.Queue,
		conversions:    deps.Conversions,
		transfer:       deps.Transfer,
		transferWindow: window,
		discount:       deps.TransferDiscountPercent,
		transitions:    counter,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder freezes the validated cart into a pending order. Transfer orders reserve
// stock in the same write.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if len(cmd.Cart.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order has no lines", ErrOrderInvalidInput)
	}
	for _, line := range cmd.Cart.Lines {
		if line.Quantity <= 0 || line.Quantity > MaxLineQuantity || line.LineTotal < 0 {
			return Order{}, fmt.Errorf("%w: line %s/%s has quantity %d", ErrOrderInvalidInput, line.ProductID, line.VariantKey, line.Quantity)
		}
	}
	emailKey := domain.NormalizeEmail(cmd.Customer.Email)
	if emailKey == "" {
		return Order{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Customer.Name) == "" {
		return Order{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}

	now := s.now()
	discount := 0
	if cmd.PaymentMethod == domain.PaymentMethodTransfer {
		discount = s.discount
	}

	order := Order{
		ID:            s.newID(),
		Customer:      cmd.Customer,
		Items:         slices.Clone(cmd.Cart.Lines),
		Totals:        domain.PriceOrder(cmd.Cart.Subtotal, cmd.Shipping.Cost, discount),
		Status:        domain.OrderStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		Shipping:      cmd.Shipping,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var reserve []domain.StockAdjustment
	if cmd.PaymentMethod.ReservesAtCreation() {
		reserve = order.StockAdjustments(-1)
		order.Transfer = &domain.TransferDetails{
			BankName:      s.transfer.BankName,
			AccountHolder: s.transfer.AccountHolder,
			AccountNumber: s.transfer.AccountNumber,
			Alias:         s.transfer.Alias,
			Reference:     order.ID,
			ExpiresAt:     now.Add(s.transferWindow),
		}
	}

	result, err := s.orders.Create(ctx, repositories.OrderCreateRequest{
		Order: order,
		Customer: repositories.CustomerUpsert{
			EmailKey: emailKey,
			NewID:    s.newID(),
			Name:     cmd.Customer.Name,
			Email:    strings.TrimSpace(cmd.Customer.Email),
			Phone:    cmd.Customer.Phone,
		},
		Reserve: reserve,
		Change: domain.StatusChange{
			ID:         s.newID(),
			OrderID:    order.ID,
			To:         domain.OrderStatusPending,
			Actor:      domain.ActorCheckout,
			OccurredAt: now,
		},
		Now: now,
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":       result.Order.ID,
		"customerId":    result.Customer.ID,
		"paymentMethod": string(result.Order.PaymentMethod),
		"total":         result.Order.Totals.Total,
	})
	s.recordTransition(ctx, "", domain.OrderStatusPending, domain.ActorCheckout, transitionOutcomeApplied)
	s.dispatch(ctx, LifecycleEvent{
		ID:         s.newID(),
		OrderID:    result.Order.ID,
		NewStatus:  domain.OrderStatusPending,
		Actor:      domain.ActorCheckout,
		Order:      result.Order,
		OccurredAt: now,
	})
	return result.Order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, filter.PaymentMethod)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListStatusChanges(ctx context.Context, orderID string) ([]StatusChange, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	changes, err := s.orders.ListStatusChanges(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return changes, nil
}

// ReportTransferPayment records the customer's claim that the bank transfer was sent.
func (s *orderService) ReportTransferPayment(ctx context.Context, orderID string) (TransitionResult, error) {
	return s.Transition(ctx, TransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusAwaitingConfirmation,
		Actor:   domain.ActorCustomer,
		Reason:  "transfer_reported",
	})
}

// Transition applies one lifecycle move. Side effects are planned from the observed status
// and the store applies them only if that status is still current; otherwise the plan is
// rebuilt from the fresh order.
func (s *orderService) Transition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	if !validActor(cmd.Actor) {
		return TransitionResult{}, fmt.Errorf("%w: unknown actor %q", ErrOrderInvalidInput, cmd.Actor)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TransitionResult{}, mapRepositoryError(err)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		plan, err := planTransition(order, cmd.Target, cmd.Actor)
		if err != nil {
			s.recordTransition(ctx, order.Status, cmd.Target, cmd.Actor, transitionOutcomeConflict)
			return TransitionResult{Order: order}, err
		}
		if plan.noop {
			s.recordTransition(ctx, order.Status, cmd.Target, cmd.Actor, transitionOutcomeNoop)
			return TransitionResult{Order: order}, nil
		}

		now := s.now()
		res, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
			OrderID:        order.ID,
			ExpectedStatus: order.Status,
			NextStatus:     cmd.Target,
			Stock:          plan.stock,
			CustomerID:     order.Customer.CustomerID,
			SpendDelta:     plan.spend,
			Change: domain.StatusChange{
				ID:                s.newID(),
				OrderID:           order.ID,
				From:              order.Status,
				To:                cmd.Target,
				Actor:             cmd.Actor,
				Reason:            strings.TrimSpace(cmd.Reason),
				ExternalPaymentID: strings.TrimSpace(cmd.ExternalPaymentID),
				OccurredAt:        now,
			},
			Now: now,
		})
		if err != nil {
			err = mapRepositoryError(err)
			if errors.Is(err, ErrOrderConflict) {
				err = fmt.Errorf("%w: %w", ErrOrderContention, err)
			}
			return TransitionResult{Order: order}, err
		}
		if !res.Applied {
			s.logger(ctx, "order.transition_retry", map[string]any{
				"orderId":  order.ID,
				"expected": string(order.Status),
				"current":  string(res.Order.Status),
				"attempt":  attempt + 1,
			})
			order = res.Order
			continue
		}

		s.recordTransition(ctx, order.Status, cmd.Target, cmd.Actor, transitionOutcomeApplied)
		s.logger(ctx, orderEventStatusChanged, map[string]any{
			"orderId":   order.ID,
			"from":      string(order.Status),
			"to":        string(cmd.Target),
			"actor":     string(cmd.Actor),
			"restocked": plan.restock,
		})
		s.dispatch(ctx, LifecycleEvent{
			ID:         s.newID(),
			OrderID:    order.ID,
			OldStatus:  order.Status,
			NewStatus:  res.Order.Status,
			Actor:      cmd.Actor,
			Order:      res.Order,
			OccurredAt: now,
		})
		if res.Order.Status == domain.OrderStatusPaid && s.conversions != nil {
			s.conversions.TrackPaid(ctx, res.Order)
		}
		return TransitionResult{Order: res.Order, Applied: true}, nil
	}

	s.recordTransition(ctx, order.Status, cmd.Target, cmd.Actor, transitionOutcomeConflict)
	return TransitionResult{Order: order}, fmt.Errorf("%w: %w: order %s kept changing concurrently", ErrOrderContention, ErrOrderConflict, order.ID)
}

type transitionPlan struct {
	noop    bool
	restock bool
	stock   []domain.StockAdjustment
	spend   int64
}

func planTransition(order Order, target domain.OrderStatus, actor domain.Actor) (transitionPlan, error) {
	current := order.Status
	if isSatisfied(current, target) {
		return transitionPlan{noop: true}, nil
	}

	rules, ok := orderStateTransitions[transitionEdge{from: current, to: target}]
	if !ok {
		return transitionPlan{}, fmt.Errorf("%w: cannot move order %s from %s to %s", ErrOrderConflict, order.ID, current, target)
	}
	if !actorAllowed(rules, actor, order.PaymentMethod) {
		return transitionPlan{}, fmt.Errorf("%w: %s may not move %s order %s from %s to %s", ErrOrderConflict, actor, order.PaymentMethod, order.ID, current, target)
	}

	var plan transitionPlan
	switch target {
	case domain.OrderStatusPaid:
		plan.spend = order.Totals.Total
		if !order.PaymentMethod.ReservesAtCreation() {
			plan.stock = order.StockAdjustments(-1)
		}
	case domain.OrderStatusCancelled:
		if order.PaymentMethod.ReservesAtCreation() && isPrePayment(current) {
			plan.stock = order.StockAdjustments(1)
			plan.restock = true
		}
	}
	return plan, nil
}

// isSatisfied reports whether the order already reflects the requested target.
func isSatisfied(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	switch target {
	case domain.OrderStatusPaid:
		return current == domain.OrderStatusShipped || current == domain.OrderStatusDelivered
	case domain.OrderStatusAwaitingConfirmation:
		return current == domain.OrderStatusPaid || current == domain.OrderStatusShipped || current == domain.OrderStatusDelivered
	}
	return false
}

func isPrePayment(status domain.OrderStatus) bool {
	return status == domain.OrderStatusPending || status == domain.OrderStatusAwaitingConfirmation
}

func actorAllowed(rules []actorRule, actor domain.Actor, method domain.PaymentMethod) bool {
	for _, rule := range rules {
		if rule.actor == actor && slices.Contains(rule.methods, method) {
			return true
		}
	}
	return false
}

func validActor(actor domain.Actor) bool {
	switch actor {
	case domain.ActorCustomer, domain.ActorGateway, domain.ActorWatchdog, domain.ActorAdmin:
		return true
	}
	return false
}

func (s *orderService) dispatch(ctx context.Context, event LifecycleEvent) {
	if s.notifications == nil {
		return
	}
	deliver := func(ctx context.Context) error {
		err := s.notifications.Dispatch(ctx, event)
		if err != nil {
			s.logger(ctx, "order.notification_failed", map[string]any{
				"orderId":   event.OrderID,
				"eventId":   event.ID,
				"newStatus": string(event.NewStatus),
				"error":     err.Error(),
			})
		}
		return err
	}
	if s.queue != nil && s.queue.Submit("order.notification", deliver) {
		return
	}
	_ = deliver(ctx)
}

func (s *orderService) recordTransition(ctx context.Context, from, to domain.OrderStatus, actor domain.Actor, outcome string) {
	if s.transitions == nil {
		return
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("actor", string(actor)),
		attribute.String("outcome", outcome),
	))
}

func (s *orderService) now() time.Time {
	return s.clock()
}
