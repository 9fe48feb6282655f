// Package console exposes the purchasing workflow as a JSON API for the
// operator UI.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/platform/httpx"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

// Catalog is the read side of the catalog store.
type Catalog interface {
	Load(ctx context.Context) (catalog.Snapshot, error)
	Snapshot() catalog.Snapshot
}

// Handler serves draft editing and the purchase lifecycle.
type Handler struct {
	logger    *slog.Logger
	manager   *purchasing.Manager
	catalog   Catalog
	drafts    *DraftStore
	validator *validator.Validate
	now       func() time.Time
	grace     time.Duration
}

// NewHandler builds a Handler. grace is reported to the UI as the delay
// before a finished order's detail view closes.
func NewHandler(logger *slog.Logger, manager *purchasing.Manager, catalog Catalog, drafts *DraftStore, grace time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = purchasing.DefaultDismissGrace
	}
	return &Handler{
		logger:    logger,
		manager:   manager,
		catalog:   catalog,
		drafts:    drafts,
		validator: validator.New(),
		now:       time.Now,
		grace:     grace,
	}
}

// MountRoutes registers console routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", h.createDraft)
		r.Get("/{draftID}", h.showDraft)
		r.Patch("/{draftID}", h.updateDraftHeader)
		r.Post("/{draftID}/lines", h.addLine)
		r.Delete("/{draftID}/lines/{index}", h.removeLine)
		r.Put("/{draftID}/lines/{index}/product", h.setLineProduct)
		r.Put("/{draftID}/lines/{index}/quantity", h.setLineQuantity)
		r.Post("/{draftID}/submit", h.submitDraft)
		r.Post("/{draftID}/save", h.saveDraft)
	})
	r.Route("/purchases", func(r chi.Router) {
		r.Get("/", h.listPurchases)
		r.Get("/stats", h.purchaseStats)
		r.Get("/{id}", h.showPurchase)
		r.Get("/{id}/watch", h.watchPurchase)
		r.Post("/{id}/draft", h.editPurchase)
		r.Patch("/{id}/complete", h.completePurchase)
		r.Patch("/{id}/cancel", h.cancelPurchase)
		r.Delete("/{id}", h.deletePurchase)
	})
	r.Route("/catalog", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/suppliers", h.listSuppliers)
	})
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req headerRequest
	if !h.decode(w, r, &req) {
		return
	}
	draft := purchasing.NewDraft(req.apply(purchasing.Header{}))
	rec, err := h.drafts.Create(r.Context(), draft, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newDraftResponse(rec, h.catalog.Snapshot()))
}

func (h *Handler) showDraft(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	h.respondDraft(w, r, rec)
}

func (h *Handler) updateDraftHeader(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	var req headerRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec.Draft = rec.Draft.WithHeader(req.apply(rec.Draft.Header()))
	h.saveAndRespond(w, r, rec)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	rec.Draft = rec.Draft.AddLine()
	h.saveAndRespond(w, r, rec)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	index, ok := h.lineIndex(w, r, rec)
	if !ok {
		return
	}
	rec.Draft = rec.Draft.RemoveLine(index)
	h.saveAndRespond(w, r, rec)
}

func (h *Handler) setLineProduct(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	index, ok := h.lineIndex(w, r, rec)
	if !ok {
		return
	}
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	var prices purchasing.PriceResolver
	if req.ProductID > 0 {
		snap, err := h.catalog.Load(r.Context())
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
			return
		}
		prices = snap
	}
	rec.Draft = rec.Draft.SetProduct(index, req.ProductID, prices)
	h.saveAndRespond(w, r, rec)
}

func (h *Handler) setLineQuantity(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	index, ok := h.lineIndex(w, r, rec)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec.Draft = rec.Draft.SetQuantity(index, *req.Quantity)
	h.saveAndRespond(w, r, rec)
}

// submitDraft creates a purchase. The draft is kept on any failure so the
// operator can correct and retry.
func (h *Handler) submitDraft(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	if rec.SourceOrderID != 0 {
		h.respondError(w, r, fmt.Errorf("%w: draft edits purchase %d, use save", httpx.ErrBadRequest, rec.SourceOrderID))
		return
	}
	validated, err := purchasing.ValidateForSubmit(rec.Draft, h.now())
	err = h.checkSupplierActive(r.Context(), rec.Draft.Header().SupplierID, err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	order, err := h.manager.Create(r.Context(), validated)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.discardDraft(r.Context(), rec.ID)
	httpx.JSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadDraft(w, r)
	if !ok {
		return
	}
	if rec.SourceOrderID == 0 {
		h.respondError(w, r, fmt.Errorf("%w: draft has no source purchase, use submit", httpx.ErrBadRequest))
		return
	}
	validated, err := purchasing.ValidateForSubmit(rec.Draft, h.now())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	current, err := h.manager.Current(r.Context(), rec.SourceOrderID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	order, err := h.manager.Edit(r.Context(), current, validated)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.discardDraft(r.Context(), rec.ID)
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) editPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.manager.Current(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !order.Status.Editable() {
		h.respondError(w, r, fmt.Errorf("%w: cannot edit order %d in status %q", purchasing.ErrPrecondition, id, order.Status))
		return
	}
	rec, err := h.drafts.Create(r.Context(), purchasing.DraftFromOrder(order), order.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newDraftResponse(rec, h.catalog.Snapshot()))
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Refresh(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	filter := purchasing.ParseStatus(r.URL.Query().Get("status"))
	resp := orderListResponse{Data: []orderResponse{}, SyncedAt: snap.SyncedAt()}
	for _, order := range snap.Orders() {
		if filter != "" && order.Status != filter {
			continue
		}
		resp.Data = append(resp.Data, newOrderResponse(order))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) purchaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(stats)
}

func (h *Handler) showPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.manager.Load(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) completePurchase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Complete)
}

func (h *Handler) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action func(context.Context, int64) (purchasing.PurchaseOrder, error)) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := action(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := newOrderResponse(order)
	if order.Status.IsTerminal() {
		resp.AutoDismissMS = h.grace.Milliseconds()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) deletePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	snap := h.loadCatalog(r.Context())
	products, selection := snap.SelectableProducts()
	if products == nil {
		products = []catalog.Product{}
	}
	httpx.JSON(w, http.StatusOK, productListResponse{Selection: selection, Data: products})
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	snap := h.loadCatalog(r.Context())
	suppliers, selection := snap.SelectableSuppliers()
	if suppliers == nil {
		suppliers = []catalog.Supplier{}
	}
	httpx.JSON(w, http.StatusOK, supplierListResponse{Selection: selection, Data: suppliers})
}

// loadCatalog falls back to whatever is held when the backend cannot be
// reached; an unloaded snapshot surfaces as the not_loaded selection state.
func (h *Handler) loadCatalog(ctx context.Context) catalog.Snapshot {
	snap, err := h.catalog.Load(ctx)
	if err != nil {
		h.logger.Warn("load catalog", slog.Any("error", err))
	}
	return snap
}

// checkSupplierActive adds the inactive-supplier message to err. Only new
// purchases are checked.
func (h *Handler) checkSupplierActive(ctx context.Context, supplierID int64, err error) error {
	if supplierID <= 0 {
		return err
	}
	supplier, found := h.loadCatalog(ctx).Supplier(supplierID)
	if !found || supplier.IsActive {
		return err
	}
	var verr *purchasing.ValidationError
	if errors.As(err, &verr) {
		return purchasing.NewValidationError(append(verr.Messages, purchasing.MsgSupplierInactive)...)
	}
	if err != nil {
		return err
	}
	return purchasing.NewValidationError(purchasing.MsgSupplierInactive)
}

func (h *Handler) loadDraft(w http.ResponseWriter, r *http.Request) (DraftRecord, bool) {
	rec, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		h.respondError(w, r, err)
		return DraftRecord{}, false
	}
	return rec, true
}

func (h *Handler) saveAndRespond(w http.ResponseWriter, r *http.Request, rec DraftRecord) {
	if err := h.drafts.Save(r.Context(), &rec); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondDraft(w, r, rec)
}

func (h *Handler) respondDraft(w http.ResponseWriter, _ *http.Request, rec DraftRecord) {
	httpx.JSON(w, http.StatusOK, newDraftResponse(rec, h.catalog.Snapshot()))
}

func (h *Handler) discardDraft(ctx context.Context, id string) {
	if err := h.drafts.Delete(ctx, id); err != nil {
		h.logger.Warn("discard draft", slog.String("draft_id", id), slog.Any("error", err))
	}
}

func (h *Handler) lineIndex(w http.ResponseWriter, r *http.Request, rec DraftRecord) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: invalid line index", httpx.ErrBadRequest))
		return 0, false
	}
	if _, ok := rec.Draft.Line(index); !ok {
		h.respondError(w, r, fmt.Errorf("%w: line %d", httpx.ErrNotFound, index))
		return 0, false
	}
	return index, true
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		h.respondError(w, r, fmt.Errorf("%w: invalid purchase id", httpx.ErrBadRequest))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			h.respondError(w, r, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			fields[fieldErr.Field()] = fieldErr.Error()
		}
		httpx.ProblemWithErrors(w, http.StatusBadRequest, "Bad Request", "invalid request body", fields)
		return false
	}
	return true
}
