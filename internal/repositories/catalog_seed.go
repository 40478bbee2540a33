package repositories

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/lunaroja/api/internal/domain"
)

// catalogFile is the YAML layout of a catalog seed:
//
//	products:
//	  - id: remera-sol
//	    name: Remera Sol
//	    price: 12000
//	    variants:
//	      M: {stock: 4}
//	      L: {stock: 0, available: false}
type catalogFile struct {
	Products []catalogProduct `yaml:"products"`
}

type catalogProduct struct {
	ID       string                    `yaml:"id"`
	Name     string                    `yaml:"name"`
	Price    int64                     `yaml:"price"`
	Variants map[string]catalogVariant `yaml:"variants"`
}

type catalogVariant struct {
	Stock     int   `yaml:"stock"`
	Available *bool `yaml:"available"`
}

// LoadCatalogFile reads a YAML catalog seed from path.
func LoadCatalogFile(path string) ([]domain.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog seed: open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeCatalog(f, time.Now())
}

// DecodeCatalog parses a YAML catalog seed. Variants default to available.
func DecodeCatalog(r io.Reader, now time.Time) ([]domain.Product, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog seed: decode: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	products := make([]domain.Product, 0, len(file.Products))
	for i, p := range file.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog seed: product %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("catalog seed: duplicate product %q", id)
		}
		seen[id] = struct{}{}
		if p.Price < 0 {
			return nil, fmt.Errorf("catalog seed: product %q has a negative price", id)
		}
		if len(p.Variants) == 0 {
			return nil, fmt.Errorf("catalog seed: product %q has no variants", id)
		}
		variants := make(map[string]domain.Variant, len(p.Variants))
		for key, v := range p.Variants {
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("catalog seed: product %q has an unnamed variant", id)
			}
			if v.Stock < 0 {
				return nil, fmt.Errorf("catalog seed: variant %s/%s has negative stock", id, key)
			}
			available := true
			if v.Available != nil {
				available = *v.Available
			}
			variants[key] = domain.Variant{Stock: v.Stock, Available: available}
		}
		products = append(products, domain.Product{
			ID:        id,
			Name:      strings.TrimSpace(p.Name),
			Price:     p.Price,
			Variants:  variants,
			UpdatedAt: now.UTC(),
		})
	}
	return products, nil
}

// SeedCatalog upserts every product into the inventory ledger.
func SeedCatalog(ctx context.Context, inventory InventoryRepository, products []domain.Product) error {
	if inventory == nil {
		return errors.New("catalog seed: inventory repository is required")
	}
	for _, product := range products {
		if err := inventory.SaveProduct(ctx, product); err != nil {
			return fmt.Errorf("catalog seed: save %s: %w", product.ID, err)
		}
	}
	return nil
}
