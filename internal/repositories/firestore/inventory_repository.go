package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lunaroja/api/internal/domain"
	pfirestore "github.com/lunaroja/api/internal/platform/firestore"
	"github.com/lunaroja/api/internal/repositories"
)

// InventoryRepository stores products with per-variant stock in the products collection.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

func (r *InventoryRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		refs = append(refs, coll.Doc(id))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("inventory.getProducts", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		result[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return result, nil
}

func (r *InventoryRepository) SaveProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("inventory save: product id is required")
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return err
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	if _, err := coll.Doc(product.ID).Set(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("inventory.saveProduct", err)
	}
	return nil
}

func (r *InventoryRepository) Adjust(ctx context.Context, adjustments []domain.StockAdjustment) error {
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		pending, err := readLedger(tx, coll, adjustments)
		if err != nil {
			return err
		}
		return pending.write(tx, now)
	})
	return wrapInventoryError("inventory.adjust", err)
}

// ledgerWrite holds product documents already validated against a set of adjustments.
type ledgerWrite struct {
	refs map[string]*firestore.DocumentRef
	docs map[string]productDocument
	ids  []string
}

// readLedger reads every product touched by the adjustments and applies them in memory.
// It must run before any write in the surrounding transaction.
func readLedger(tx *firestore.Transaction, coll *firestore.CollectionRef, adjustments []domain.StockAdjustment) (*ledgerWrite, error) {
	merged := domain.MergeAdjustments(adjustments)
	pending := &ledgerWrite{
		refs: make(map[string]*firestore.DocumentRef),
		docs: make(map[string]productDocument),
	}
	for _, adj := range merged {
		doc, ok := pending.docs[adj.ProductID]
		if !ok {
			ref := coll.Doc(adj.ProductID)
			snap, err := tx.Get(ref)
			if err != nil {
				if pfirestore.IsNotFound(err) {
					return nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, adj.ProductID, adj.VariantKey, err)
				}
				return nil, err
			}
			if err := snap.DataTo(&doc); err != nil {
				return nil, fmt.Errorf("decode product %s: %w", adj.ProductID, err)
			}
			pending.refs[adj.ProductID] = ref
			pending.ids = append(pending.ids, adj.ProductID)
		}
		variant, ok := doc.Variants[adj.VariantKey]
		if !ok {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, adj.ProductID, adj.VariantKey, nil)
		}
		if variant.Stock+adj.Delta < 0 {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, adj.ProductID, adj.VariantKey, nil)
		}
		variant.Stock += adj.Delta
		doc.Variants[adj.VariantKey] = variant
		pending.docs[adj.ProductID] = doc
	}
	return pending, nil
}

func (l *ledgerWrite) write(tx *firestore.Transaction, now time.Time) error {
	for _, id := range l.ids {
		doc := l.docs[id]
		doc.UpdatedAt = now
		if err := tx.Set(l.refs[id], doc); err != nil {
			return err
		}
	}
	return nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
