package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog product as served by the backend.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int64           `json:"stock"`
	IsActive  bool            `json:"is_active"`
}

// Supplier is a catalog supplier as served by the backend.
type Supplier struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Selection tells callers why a selectable list is empty.
type Selection string

const (
	SelectionNotLoaded Selection = "not_loaded"
	SelectionEmpty     Selection = "empty"
	SelectionAvailable Selection = "available"
)

// Snapshot is an immutable projection over fetched catalog data.
type Snapshot struct {
	products  []Product
	suppliers []Supplier
	loaded    bool
	loadedAt  time.Time
}

// NewSnapshot builds a loaded snapshot. The input slices are copied.
func NewSnapshot(products []Product, suppliers []Supplier, loadedAt time.Time) Snapshot {
	return Snapshot{
		products:  append([]Product(nil), products...),
		suppliers: append([]Supplier(nil), suppliers...),
		loaded:    true,
		loadedAt:  loadedAt,
	}
}

// Loaded reports whether data was fetched.
func (s Snapshot) Loaded() bool { return s.loaded }

// LoadedAt is when the data was fetched.
func (s Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Counts returns how many products and suppliers the snapshot holds,
// inactive ones included.
func (s Snapshot) Counts() (products, suppliers int) {
	return len(s.products), len(s.suppliers)
}

// ResolveUnitPrice returns the price of an active product, zero otherwise.
func (s Snapshot) ResolveUnitPrice(productID int64) decimal.Decimal {
	p, ok := s.Product(productID)
	if !ok || !p.IsActive {
		return decimal.Zero
	}
	return p.UnitPrice
}

// Product looks a product up regardless of its active flag.
func (s Snapshot) Product(id int64) (Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// Supplier looks a supplier up regardless of its active flag.
func (s Snapshot) Supplier(id int64) (Supplier, bool) {
	for _, sup := range s.suppliers {
		if sup.ID == id {
			return sup, true
		}
	}
	return Supplier{}, false
}

// SelectableProducts returns active products in catalog order.
func (s Snapshot) SelectableProducts() ([]Product, Selection) {
	if !s.loaded {
		return nil, SelectionNotLoaded
	}
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, selectionOf(len(out))
}

// SelectableSuppliers returns active suppliers in catalog order.
func (s Snapshot) SelectableSuppliers() ([]Supplier, Selection) {
	if !s.loaded {
		return nil, SelectionNotLoaded
	}
	out := make([]Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		if sup.IsActive {
			out = append(out, sup)
		}
	}
	return out, selectionOf(len(out))
}

func selectionOf(n int) Selection {
	if n == 0 {
		return SelectionEmpty
	}
	return SelectionAvailable
}
