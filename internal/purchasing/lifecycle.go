package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Gateway is the boundary to the backend purchase API. No call is assumed
// idempotent.
type Gateway interface {
	List(ctx context.Context) ([]PurchaseOrder, error)
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	Create(ctx context.Context, order ValidatedOrder) (PurchaseOrder, error)
	Update(ctx context.Context, id int64, order ValidatedOrder) (PurchaseOrder, error)
	Delete(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) (PurchaseOrder, error)
	Cancel(ctx context.Context, id int64) (PurchaseOrder, error)
	Stats(ctx context.Context) (json.RawMessage, error)
}

// CatalogInvalidator drops cached catalog data so the next read refetches.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshEnqueuer schedules an asynchronous catalog reload.
type RefreshEnqueuer interface {
	EnqueueCatalogRefresh(ctx context.Context, reason string) error
}

// TransitionObserver records lifecycle outcomes.
type TransitionObserver interface {
	ObserveTransition(action, result string)
}

// Lifecycle actions, used for logging and metrics labels.
const (
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionDelete   = "delete"
)

// Manager owns the purchase state machine. Preconditions are checked against
// the locally held copy of each order; the backend stays the source of truth
// and its rejections are returned unchanged.
type Manager struct {
	gateway   Gateway
	store     *OrderStore
	catalog   CatalogInvalidator
	refresher RefreshEnqueuer
	metrics   TransitionObserver
	logger    *slog.Logger
	now       func() time.Time

	viewsMu sync.Mutex
	views   map[int64][]*DetailView
}

// NewManager constructs a Manager. catalog, refresher and metrics may be nil.
func NewManager(gateway Gateway, store *OrderStore, catalog CatalogInvalidator, refresher RefreshEnqueuer, metrics TransitionObserver, logger *slog.Logger) *Manager {
	if store == nil {
		store = NewOrderStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gateway:   gateway,
		store:     store,
		catalog:   catalog,
		refresher: refresher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		views:     make(map[int64][]*DetailView),
	}
}

// Store exposes the local order cache.
func (m *Manager) Store() *OrderStore { return m.store }

// Refresh reloads every order from the backend, discarding local patches.
func (m *Manager) Refresh(ctx context.Context) (OrderSnapshot, error) {
	orders, err := m.gateway.List(ctx)
	if err != nil {
		return m.store.Snapshot(), fmt.Errorf("list purchases: %w", err)
	}
	return m.store.Replace(orders, m.now()), nil
}

// Load fetches one order from the backend and patches it into the cache.
func (m *Manager) Load(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := m.gateway.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("get purchase %d: %w", id, err)
	}
	order, _ = m.store.Upsert(withDerivedTotal(order))
	return order, nil
}

// Current returns the locally held order, loading it when not cached.
func (m *Manager) Current(ctx context.Context, id int64) (PurchaseOrder, error) {
	if order, ok := m.store.Snapshot().Find(id); ok {
		return order, nil
	}
	return m.Load(ctx, id)
}

// Stats passes the backend aggregate through for display.
func (m *Manager) Stats(ctx context.Context) (json.RawMessage, error) {
	stats, err := m.gateway.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("purchase stats: %w", err)
	}
	return stats, nil
}

// Create persists a validated order. The result starts in Pending.
func (m *Manager) Create(ctx context.Context, order ValidatedOrder) (PurchaseOrder, error) {
	created, err := m.gateway.Create(ctx, order)
	if err != nil {
		m.observe(ActionCreate, err)
		return PurchaseOrder{}, fmt.Errorf("create purchase: %w", err)
	}
	if created.Status == "" {
		created.Status = StatusPending
	}
	if len(created.Lines) == 0 {
		created.Lines = append([]Line(nil), order.Lines...)
	}
	if created.SupplierID == 0 {
		created.SupplierID = order.SupplierID
	}
	created, _ = m.store.Upsert(withDerivedTotal(created))
	m.observe(ActionCreate, nil)
	m.logger.Info("purchase created", slog.Int64("order_id", created.ID), slog.String("total", created.TotalAmount.StringFixed(CurrencyPlaces)))
	return created, nil
}

// Edit replaces the fields of a Pending order.
func (m *Manager) Edit(ctx context.Context, order PurchaseOrder, update ValidatedOrder) (PurchaseOrder, error) {
	if !order.Status.Editable() {
		err := preconditionError(ActionEdit, order)
		m.observe(ActionEdit, err)
		return PurchaseOrder{}, err
	}
	updated, err := m.gateway.Update(ctx, order.ID, update)
	if err != nil {
		m.observe(ActionEdit, err)
		return PurchaseOrder{}, fmt.Errorf("update purchase %d: %w", order.ID, err)
	}
	if updated.ID == 0 {
		updated.ID = order.ID
	}
	if updated.Status == "" {
		updated.Status = order.Status
	}
	if len(updated.Lines) == 0 {
		updated.Lines = append([]Line(nil), update.Lines...)
	}
	if updated.SupplierID == 0 {
		updated.SupplierID = update.SupplierID
		updated.SupplierName = order.SupplierName
	}
	if updated.PurchaseDate.IsZero() {
		updated.PurchaseDate = update.PurchaseDate
	}
	updated, _ = m.store.Upsert(withDerivedTotal(updated))
	m.observe(ActionEdit, nil)
	m.logger.Info("purchase edited", slog.Int64("order_id", updated.ID), slog.String("total", updated.TotalAmount.StringFixed(CurrencyPlaces)))
	return updated, nil
}

// Complete moves a Pending order to Completed. Stock is adjusted by the
// backend; locally only the catalog is invalidated.
func (m *Manager) Complete(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := m.transition(ctx, id, ActionComplete, StatusCompleted, m.gateway.Complete)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if m.catalog != nil {
		if err := m.catalog.Invalidate(ctx); err != nil {
			m.logger.Warn("invalidate catalog", slog.Int64("order_id", id), slog.Any("error", err))
		}
	}
	if m.refresher != nil {
		if err := m.refresher.EnqueueCatalogRefresh(ctx, fmt.Sprintf("purchase %d completed", id)); err != nil {
			m.logger.Warn("enqueue catalog refresh", slog.Int64("order_id", id), slog.Any("error", err))
		}
	}
	return order, nil
}

// Cancel moves a Pending order to Cancelled. Stock is untouched.
func (m *Manager) Cancel(ctx context.Context, id int64) (PurchaseOrder, error) {
	return m.transition(ctx, id, ActionCancel, StatusCancelled, m.gateway.Cancel)
}

// Delete removes a Pending order.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	order, err := m.Current(ctx, id)
	if err != nil {
		return err
	}
	if !order.Status.Deletable() {
		err := preconditionError(ActionDelete, order)
		m.observe(ActionDelete, err)
		return err
	}
	if err := m.gateway.Delete(ctx, id); err != nil {
		m.observe(ActionDelete, err)
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}
	m.store.Remove(id)
	m.closeViews(id)
	m.observe(ActionDelete, nil)
	m.logger.Info("purchase deleted", slog.Int64("order_id", id))
	return nil
}

// OpenDetail registers a detail view that is dismissed after the order
// transitions out of Pending through this Manager. Callers release it with
// CloseDetail.
func (m *Manager) OpenDetail(order PurchaseOrder, onDismiss func(orderID int64), opts ...DetailOption) *DetailView {
	var view *DetailView
	view = NewDetailView(order, func(id int64) {
		m.forgetView(view)
		if onDismiss != nil {
			onDismiss(id)
		}
	}, opts...)
	m.viewsMu.Lock()
	m.views[order.ID] = append(m.views[order.ID], view)
	m.viewsMu.Unlock()
	return view
}

// CloseDetail closes view and stops tracking it. Other views on the same
// order stay open.
func (m *Manager) CloseDetail(view *DetailView) {
	if view == nil {
		return
	}
	m.forgetView(view)
	view.Close()
}

func (m *Manager) transition(ctx context.Context, id int64, action string, target Status, call func(context.Context, int64) (PurchaseOrder, error)) (PurchaseOrder, error) {
	order, err := m.Current(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !order.Status.CanTransitionTo(target) {
		err := preconditionError(action, order)
		m.observe(action, err)
		return PurchaseOrder{}, err
	}
	result, err := call(ctx, id)
	if err != nil {
		m.observe(action, err)
		return PurchaseOrder{}, fmt.Errorf("%s purchase %d: %w", action, id, err)
	}
	if result.ID == 0 {
		result = order
	}
	// a successful call means the backend applied target even when the body
	// does not echo it
	if !result.Status.IsTerminal() {
		result.Status = target
	}
	if len(result.Lines) == 0 {
		result.Lines = order.Lines
	}
	result, _ = m.store.Upsert(withDerivedTotal(result))
	m.observe(action, nil)
	m.logger.Info("purchase transitioned", slog.Int64("order_id", id), slog.String("from", string(order.Status)), slog.String("to", string(result.Status)))
	m.notifyViews(result)
	return result, nil
}

func (m *Manager) notifyViews(order PurchaseOrder) {
	m.viewsMu.Lock()
	views := append([]*DetailView(nil), m.views[order.ID]...)
	m.viewsMu.Unlock()
	for _, view := range views {
		view.Observe(order)
	}
}

func (m *Manager) closeViews(id int64) {
	m.viewsMu.Lock()
	views := m.views[id]
	delete(m.views, id)
	m.viewsMu.Unlock()
	for _, view := range views {
		view.Close()
	}
}

func (m *Manager) forgetView(view *DetailView) {
	m.viewsMu.Lock()
	defer m.viewsMu.Unlock()
	id := view.OrderID()
	views := m.views[id]
	for i, open := range views {
		if open == view {
			views = append(views[:i:i], views[i+1:]...)
			break
		}
	}
	if len(views) == 0 {
		delete(m.views, id)
		return
	}
	m.views[id] = views
}

func (m *Manager) observe(action string, err error) {
	if m.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrPrecondition):
		result = "precondition"
	default:
		result = "error"
	}
	m.metrics.ObserveTransition(action, result)
}

// withDerivedTotal recomputes the total from the lines when lines are known.
func withDerivedTotal(order PurchaseOrder) PurchaseOrder {
	if len(order.Lines) == 0 {
		return order
	}
	order.Lines = append([]Line(nil), order.Lines...)
	for i := range order.Lines {
		order.Lines[i].Subtotal = LineSubtotal(order.Lines[i].Quantity, order.Lines[i].UnitPrice)
	}
	order.TotalAmount = ComputeTotal(order.Lines)
	return order
}
