package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lunaroja/api/internal/domain"
	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
	"github.com/lunaroja/api/internal/repositories"
)

// CustomerRepository reads customer aggregates. Writes happen in OrderRepository transactions.
type CustomerRepository struct {
	provider *pfirestore.Provider
}

func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{provider: provider}, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Customer{}, repositories.NotFoundError("customer.find", "customer id is required")
	}
	coll, err := r.provider.Collection(ctx, customersCollection)
	if err != nil {
		return domain.Customer{}, err
	}
	snap, err := coll.Doc(customerID).Get(ctx)
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("customer.find", err)
	}
	var doc customerDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Customer{}, fmt.Errorf("decode customer %s: %w", customerID, err)
	}
	return doc.toDomain(customerID), nil
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	key := domain.NormalizeEmail(email)
	if key == "" {
		return domain.Customer{}, repositories.NotFoundError("customer.findByEmail", "email is required")
	}
	coll, err := r.provider.Collection(ctx, customerEmailsCollection)
	if err != nil {
		return domain.Customer{}, err
	}
	snap, err := coll.Doc(emailDocID(key)).Get(ctx)
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("customer.findByEmail", err)
	}
	var index customerEmailDocument
	if err := snap.DataTo(&index); err != nil {
		return domain.Customer{}, fmt.Errorf("decode customer email index: %w", err)
	}
	return r.FindByID(ctx, index.CustomerID)
}
