package memory

import (
	"context"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

type customerRepository struct {
	store *Store
}

func (r *customerRepository) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	customer, ok := r.store.customers[customerID]
	if !ok {
		return domain.Customer{}, repositories.NotFoundError("customer.find", "customer %s not found", customerID)
	}
	return customer, nil
}

func (r *customerRepository) FindByEmail(_ context.Context, email string) (domain.Customer, error) {
	key := domain.NormalizeEmail(email)

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, ok := r.store.emailIndex[key]
	if !ok {
		return domain.Customer{}, repositories.NotFoundError("customer.findByEmail", "customer with email %q not found", key)
	}
	return r.store.customers[id], nil
}

// upsertCustomer finds the customer for the email key or creates it, then counts the order.
// Callers hold s.mu.
func (s *Store) upsertCustomer(req repositories.CustomerUpsert, now time.Time) domain.Customer {
	if id, ok := s.emailIndex[req.EmailKey]; ok {
		customer := s.customers[id]
		customer.OrderCount++
		customer.UpdatedAt = now
		s.customers[id] = customer
		return customer
	}
	customer := domain.Customer{
		ID:         req.NewID,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		OrderCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.customers[customer.ID] = customer
	s.emailIndex[req.EmailKey] = customer.ID
	return customer
}
