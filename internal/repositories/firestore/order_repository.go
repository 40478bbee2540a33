package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/lunaroja/api/internal/domain"
	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
	"github.com/lunaroja/api/internal/platform/pagination"
	"github.com/lunaroja/api/internal/repositories"
)

// OrderRepository stores orders, their status history and the customer aggregates they touch.
type OrderRepository struct {
	provider *pfirestore.Provider
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

type collections struct {
	orders, products, customers, emails *firestore.CollectionRef
}

func (r *OrderRepository) collections(ctx context.Context) (collections, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return collections{}, err
	}
	return collections{
		orders:    client.Collection(ordersCollection),
		products:  client.Collection(productsCollection),
		customers: client.Collection(customersCollection),
		emails:    client.Collection(customerEmailsCollection),
	}, nil
}

func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if strings.TrimSpace(req.Order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: order id is required")
	}
	if req.Customer.EmailKey == "" || req.Customer.NewID == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: customer email key and id are required")
	}
	cols, err := r.collections(ctx)
	if err != nil {
		return repositories.OrderCreateResult{}, err
	}
	now := req.Now.UTC()

	var result repositories.OrderCreateResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := cols.orders.Doc(req.Order.ID)
		if _, err := tx.Get(orderRef); err == nil {
			return repositories.ConflictError("order.create", "order %s already exists", req.Order.ID)
		} else if !pfirestore.IsNotFound(err) {
			return err
		}

		ledger, err := readLedger(tx, cols.products, req.Reserve)
		if err != nil {
			return err
		}

		emailRef := cols.emails.Doc(emailDocID(req.Customer.EmailKey))
		customerID := req.Customer.NewID
		var customer customerDocument
		existing := false
		if snap, err := tx.Get(emailRef); err == nil {
			var index customerEmailDocument
			if err := snap.DataTo(&index); err != nil {
				return fmt.Errorf("decode customer email index: %w", err)
			}
			custSnap, err := tx.Get(cols.customers.Doc(index.CustomerID))
			if err != nil {
				return err
			}
			if err := custSnap.DataTo(&customer); err != nil {
				return fmt.Errorf("decode customer %s: %w", index.CustomerID, err)
			}
			customerID = index.CustomerID
			existing = true
		} else if !pfirestore.IsNotFound(err) {
			return err
		}

		if err := ledger.write(tx, now); err != nil {
			return err
		}

		if existing {
			customer.OrderCount++
		} else {
			customer = customerDocument{
				Name:       req.Customer.Name,
				Email:      req.Customer.Email,
				EmailKey:   req.Customer.EmailKey,
				Phone:      req.Customer.Phone,
				OrderCount: 1,
				CreatedAt:  now,
			}
			if err := tx.Create(emailRef, customerEmailDocument{CustomerID: customerID}); err != nil {
				return err
			}
		}
		customer.UpdatedAt = now
		if err := tx.Set(cols.customers.Doc(customerID), customer); err != nil {
			return err
		}

		order := req.Order
		order.Customer.CustomerID = customerID
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		if err := writeStatusChange(tx, orderRef, req.Change); err != nil {
			return err
		}

		result = repositories.OrderCreateResult{Order: order, Customer: customer.toDomain(customerID)}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapInventoryError("order.create", err)
	}
	return result, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, repositories.NotFoundError("order.find", "order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := coll.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("order.find", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Clamp(filter.Pagination.PageSize, pagination.DefaultMaxPageSize)

	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Query
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		query = query.Where("paymentMethod", "==", string(filter.PaymentMethod))
	}
	if filter.CreatedBefore != nil {
		query = query.Where("createdAt", "<", filter.CreatedBefore.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	query = query.Limit(pageSize + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	orders := make([]domain.Order, 0, pageSize)
	hasMore := false
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("order.list", err)
		}
		if len(orders) == pageSize {
			hasMore = true
			break
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if hasMore {
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	cols, err := r.collections(ctx)
	if err != nil {
		return repositories.OrderTransitionResult{}, err
	}
	now := req.Now.UTC()

	var result repositories.OrderTransitionResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderTransitionResult{}
		orderRef := cols.orders.Doc(req.OrderID)
		snap, err := tx.Get(orderRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NotFoundError("order.transition", "order %s not found", req.OrderID)
			}
			return err
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		result.Order = order
		if order.Status != req.ExpectedStatus {
			return nil
		}

		ledger, err := readLedger(tx, cols.products, req.Stock)
		if err != nil {
			return err
		}
		var customerRef *firestore.DocumentRef
		if req.SpendDelta != 0 && req.CustomerID != "" {
			customerRef = cols.customers.Doc(req.CustomerID)
		}

		if err := ledger.write(tx, now); err != nil {
			return err
		}
		if customerRef != nil {
			if err := tx.Update(customerRef, []firestore.Update{
				{Path: "totalSpent", Value: firestore.Increment(req.SpendDelta)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(req.NextStatus)},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if err := writeStatusChange(tx, orderRef, req.Change); err != nil {
			return err
		}

		order.Status = req.NextStatus
		order.UpdatedAt = now
		result = repositories.OrderTransitionResult{Order: order, Applied: true}
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{Order: result.Order}, wrapInventoryError("order.transition", err)
	}
	return result, nil
}

func (r *OrderRepository) ListStatusChanges(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	orderRef := coll.Doc(orderID)
	if _, err := orderRef.Get(ctx); err != nil {
		return nil, pfirestore.WrapError("order.changes", err)
	}

	iter := orderRef.Collection(statusChangesCollection).OrderBy("occurredAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var changes []domain.StatusChange
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order.changes", err)
		}
		var doc statusChangeDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode status change %s: %w", snap.Ref.ID, err)
		}
		changes = append(changes, doc.toDomain(snap.Ref.ID, orderID))
	}
	return changes, nil
}

func writeStatusChange(tx *firestore.Transaction, orderRef *firestore.DocumentRef, change domain.StatusChange) error {
	if change.ID == "" {
		return errors.New("status change id is required")
	}
	return tx.Create(orderRef.Collection(statusChangesCollection).Doc(change.ID), newStatusChangeDocument(change))
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}
