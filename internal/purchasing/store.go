package purchasing

import (
	"sync"
	"time"
)

// OrderSnapshot is an immutable view of the locally cached orders.
type OrderSnapshot struct {
	orders   []PurchaseOrder
	loaded   bool
	syncedAt time.Time
}

// Orders returns a copy of the cached orders, newest local patches first.
func (s OrderSnapshot) Orders() []PurchaseOrder {
	out := make([]PurchaseOrder, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.clone()
	}
	return out
}

// Loaded reports whether a full list was fetched at least once.
func (s OrderSnapshot) Loaded() bool { return s.loaded }

// SyncedAt is the time of the last full refresh.
func (s OrderSnapshot) SyncedAt() time.Time { return s.syncedAt }

// Len returns the number of cached orders.
func (s OrderSnapshot) Len() int { return len(s.orders) }

// Find looks an order up by id.
func (s OrderSnapshot) Find(id int64) (PurchaseOrder, bool) {
	for _, o := range s.orders {
		if o.ID == id {
			return o.clone(), true
		}
	}
	return PurchaseOrder{}, false
}

func (s OrderSnapshot) withUpsert(order PurchaseOrder) OrderSnapshot {
	out := OrderSnapshot{loaded: s.loaded, syncedAt: s.syncedAt, orders: make([]PurchaseOrder, 0, len(s.orders)+1)}
	replaced := false
	for _, o := range s.orders {
		if o.ID == order.ID {
			out.orders = append(out.orders, order.clone())
			replaced = true
			continue
		}
		out.orders = append(out.orders, o)
	}
	if !replaced {
		out.orders = append([]PurchaseOrder{order.clone()}, out.orders...)
	}
	return out
}

func (s OrderSnapshot) withoutOrder(id int64) OrderSnapshot {
	out := OrderSnapshot{loaded: s.loaded, syncedAt: s.syncedAt, orders: make([]PurchaseOrder, 0, len(s.orders))}
	for _, o := range s.orders {
		if o.ID != id {
			out.orders = append(out.orders, o)
		}
	}
	return out
}

// OrderStore holds the current OrderSnapshot. Local patches applied after
// create, update and delete may diverge from the backend until the next
// Replace.
type OrderStore struct {
	mu      sync.Mutex
	current OrderSnapshot
	tempSeq int64
}

// NewOrderStore returns an empty, not yet loaded store.
func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

// Snapshot returns the current snapshot.
func (s *OrderStore) Snapshot() OrderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Replace installs a freshly fetched list.
func (s *OrderStore) Replace(orders []PurchaseOrder, at time.Time) OrderSnapshot {
	next := OrderSnapshot{loaded: true, syncedAt: at, orders: make([]PurchaseOrder, 0, len(orders))}
	for _, o := range orders {
		next.orders = append(next.orders, o.clone())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	return next
}

// Upsert patches a single order into the snapshot. An order without an id
// receives a negative temporary id.
func (s *OrderStore) Upsert(order PurchaseOrder) (PurchaseOrder, OrderSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == 0 {
		s.tempSeq--
		order.ID = s.tempSeq
	}
	s.current = s.current.withUpsert(order)
	return order.clone(), s.current
}

// Remove drops an order from the snapshot.
func (s *OrderStore) Remove(id int64) OrderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.current.withoutOrder(id)
	return s.current
}
