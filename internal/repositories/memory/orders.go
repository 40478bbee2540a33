package memory

import (
	"context"
	"errors"
	"strings"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/pagination"
	"github.com/lunaroja/api/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r *orderRepository) Create(_ context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("memory orders: order id is required")
	}
	if req.Customer.EmailKey == "" || req.Customer.NewID == "" {
		return repositories.OrderCreateResult{}, errors.New("memory orders: customer email key and id are required")
	}
	now := req.Now.UTC()

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return repositories.OrderCreateResult{}, repositories.ConflictError("order.create", "order %s already exists", order.ID)
	}
	if err := s.applyAdjustments("order.create", req.Reserve, now); err != nil {
		return repositories.OrderCreateResult{}, err
	}

	customer := s.upsertCustomer(req.Customer, now)
	order.Customer.CustomerID = customer.ID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	stored := cloneOrder(order)
	s.orders[order.ID] = stored

	change := req.Change
	change.OrderID = order.ID
	s.changes[order.ID] = append(s.changes[order.ID], change)

	return repositories.OrderCreateResult{Order: cloneOrder(stored), Customer: customer}, nil
}

func (r *orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFoundError("order.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Clamp(filter.Pagination.PageSize, pagination.DefaultMaxPageSize)

	r.store.mu.Lock()
	matches := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.PaymentMethod != "" && order.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		if !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, cloneOrder(order))
	}
	r.store.mu.Unlock()

	sortOrders(matches)
	page := domain.CursorPage[domain.Order]{Items: matches}
	if len(matches) > pageSize {
		page.Items = matches[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *orderRepository) Transition(_ context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	now := req.Now.UTC()

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[req.OrderID]
	if !ok {
		return repositories.OrderTransitionResult{}, repositories.NotFoundError("order.transition", "order %s not found", req.OrderID)
	}
	if order.Status != req.ExpectedStatus {
		return repositories.OrderTransitionResult{Order: cloneOrder(order), Applied: false}, nil
	}

	if err := s.applyAdjustments("order.transition", req.Stock, now); err != nil {
		return repositories.OrderTransitionResult{Order: cloneOrder(order)}, err
	}
	if req.SpendDelta != 0 && req.CustomerID != "" {
		if customer, ok := s.customers[req.CustomerID]; ok {
			customer.TotalSpent += req.SpendDelta
			customer.UpdatedAt = now
			s.customers[req.CustomerID] = customer
		}
	}

	order.Status = req.NextStatus
	order.UpdatedAt = now
	s.orders[order.ID] = order

	change := req.Change
	change.OrderID = order.ID
	s.changes[order.ID] = append(s.changes[order.ID], change)

	return repositories.OrderTransitionResult{Order: cloneOrder(order), Applied: true}, nil
}

func (r *orderRepository) ListStatusChanges(_ context.Context, orderID string) ([]domain.StatusChange, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.orders[orderID]; !ok {
		return nil, repositories.NotFoundError("order.changes", "order %s not found", orderID)
	}
	return append([]domain.StatusChange(nil), r.store.changes[orderID]...), nil
}
