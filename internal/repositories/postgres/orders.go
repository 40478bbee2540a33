package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/platform/pagination"
	"github.com/lunaroja/api/internal/repositories"
)

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if strings.TrimSpace(req.Order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: order id is required")
	}
	if req.Customer.EmailKey == "" || req.Customer.NewID == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: customer email key and id are required")
	}
	now := req.Now.UTC()

	var result repositories.OrderCreateResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := applyAdjustments(tx, req.Reserve); err != nil {
			return err
		}

		// Insert or count the order against the existing customer in one statement.
		upsert := customerRow{
			ID:         req.Customer.NewID,
			EmailKey:   req.Customer.EmailKey,
			Name:       req.Customer.Name,
			Email:      req.Customer.Email,
			Phone:      req.Customer.Phone,
			OrderCount: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"order_count": gorm.Expr("customers.order_count + 1"),
				"updated_at":  now,
			}),
		}).Create(&upsert).Error; err != nil {
			return err
		}
		var customer customerRow
		if err := tx.First(&customer, "email_key = ?", req.Customer.EmailKey).Error; err != nil {
			return err
		}

		order := req.Order
		order.Customer.CustomerID = customer.ID
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		row := newOrderRow(order)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return repositories.ConflictError("order.create", "order %s already exists", order.ID)
			}
			return err
		}
		change := newStatusChangeRow(order.ID, req.Change)
		if err := tx.Create(&change).Error; err != nil {
			return err
		}

		result = repositories.OrderCreateResult{Order: order, Customer: customer.toDomain()}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapError("order.create", err)
	}
	return result, nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", orderID).Error; err != nil {
		return domain.Order{}, wrapError("order.find", err)
	}
	return row.toDomain(), nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.Clamp(filter.Pagination.PageSize, pagination.DefaultMaxPageSize)

	query := listQuery(r.db.WithContext(ctx), filter, cursor).Limit(pageSize + 1)

	var rows []orderRow
	if err := query.Find(&rows).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("order.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(rows))}
	for i, row := range rows {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, row.toDomain())
	}
	if len(rows) > pageSize {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func listQuery(db *gorm.DB, filter repositories.OrderListFilter, cursor pagination.Cursor) *gorm.DB {
	query := db.Model(&orderRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		query = query.Where("payment_method = ?", string(filter.PaymentMethod))
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", filter.CreatedBefore.UTC())
	}
	if !cursor.IsZero() {
		at := cursor.CreatedAt.UTC()
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", at, at, cursor.ID)
	}
	return query.Order("created_at ASC").Order("id ASC")
}

func (r *orderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	now := req.Now.UTC()

	var result repositories.OrderTransitionResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row orderRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", req.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.NotFoundError("order.transition", "order %s not found", req.OrderID)
			}
			return err
		}
		result.Order = row.toDomain()
		if domain.OrderStatus(row.Status) != req.ExpectedStatus {
			return nil
		}

		if err := applyAdjustments(tx, req.Stock); err != nil {
			return err
		}
		if req.SpendDelta != 0 && req.CustomerID != "" {
			if err := tx.Model(&customerRow{}).Where("id = ?", req.CustomerID).Updates(map[string]any{
				"total_spent": gorm.Expr("total_spent + ?", req.SpendDelta),
				"updated_at":  now,
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&orderRow{}).Where("id = ?", req.OrderID).Updates(map[string]any{
			"status":     string(req.NextStatus),
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		change := newStatusChangeRow(req.OrderID, req.Change)
		if err := tx.Create(&change).Error; err != nil {
			return err
		}

		result.Order.Status = req.NextStatus
		result.Order.UpdatedAt = now
		result.Applied = true
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{Order: result.Order}, wrapError("order.transition", err)
	}
	return result, nil
}

func (r *orderRepository) ListStatusChanges(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&orderRow{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return nil, wrapError("order.changes", err)
	}
	if count == 0 {
		return nil, repositories.NotFoundError("order.changes", "order %s not found", orderID)
	}
	var rows []statusChangeRow
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("occurred_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapError("order.changes", err)
	}
	changes := make([]domain.StatusChange, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, row.toDomain())
	}
	return changes, nil
}
