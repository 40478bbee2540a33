package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/lunaroja/api/internal/domain"
)

type recordingInventory struct {
	saved []domain.Product
	err   error
}

func (r *recordingInventory) GetProducts(context.Context, []string) (map[string]domain.Product, error) {
	return nil, nil
}

func (r *recordingInventory) SaveProduct(_ context.Context, product domain.Product) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, product)
	return nil
}

func (r *recordingInventory) Adjust(context.Context, []domain.StockAdjustment) error { return nil }

const sampleCatalog = `
products:
  - id: remera-sol
    name: " Remera Sol "
    price: 12000
    variants:
      M: {stock: 4}
      L: {stock: 0, available: false}
  - id: buzo-luna
    name: Buzo Luna
    price: 30000
    variants:
      U: {stock: 2}
`

func TestDecodeCatalogParsesProducts(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	products, err := DecodeCatalog(strings.NewReader(sampleCatalog), now)
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	sol := products[0]
	if sol.ID != "remera-sol" || sol.Name != "Remera Sol" || sol.Price != 12000 || !sol.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected product %+v", sol)
	}
	if v := sol.Variants["M"]; v.Stock != 4 || !v.Available {
		t.Fatalf("expected M available with 4, got %+v", v)
	}
	if v := sol.Variants["L"]; v.Available {
		t.Fatalf("expected L unavailable, got %+v", v)
	}
}

func TestDecodeCatalogRejectsBadSeeds(t *testing.T) {
	cases := map[string]string{
		"missing id":     "products:\n  - name: x\n    price: 1\n    variants: {M: {stock: 1}}\n",
		"duplicate":      "products:\n  - {id: a, price: 1, variants: {M: {stock: 1}}}\n  - {id: a, price: 1, variants: {M: {stock: 1}}}\n",
		"negative price": "products:\n  - {id: a, price: -1, variants: {M: {stock: 1}}}\n",
		"no variants":    "products:\n  - {id: a, price: 1}\n",
		"negative stock": "products:\n  - {id: a, price: 1, variants: {M: {stock: -2}}}\n",
		"unknown field":  "products:\n  - {id: a, price: 1, colour: red, variants: {M: {stock: 1}}}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeCatalog(strings.NewReader(doc), time.Now()); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestDecodeCatalogAcceptsEmptyDocument(t *testing.T) {
	products, err := DecodeCatalog(strings.NewReader(""), time.Now())
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no products, got %d", len(products))
	}
}

func TestSeedCatalogSavesEveryProduct(t *testing.T) {
	inv := &recordingInventory{}
	products := []domain.Product{{ID: "a"}, {ID: "b"}}
	if err := SeedCatalog(context.Background(), inv, products); err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}
	if len(inv.saved) != 2 {
		t.Fatalf("expected 2 saves, got %d", len(inv.saved))
	}

	failing := &recordingInventory{err: errors.New("db down")}
	if err := SeedCatalog(context.Background(), failing, products); err == nil || !strings.Contains(err.Error(), "save a") {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
}
