package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/gateway"
	"github.com/odyssey-erp/purchasing/internal/platform/httpx"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

var today = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]purchasing.PurchaseOrder
	created   []purchasing.ValidatedOrder
	updated   []purchasing.ValidatedOrder
	deleteErr error
}

func newFakeGateway(orders ...purchasing.PurchaseOrder) *fakeGateway {
	g := &fakeGateway{nextID: 100, orders: make(map[int64]purchasing.PurchaseOrder)}
	for _, order := range orders {
		g.orders[order.ID] = order
	}
	return g
}

func (g *fakeGateway) List(context.Context) ([]purchasing.PurchaseOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]purchasing.PurchaseOrder, 0, len(g.orders))
	for _, order := range g.orders {
		out = append(out, order)
	}
	return out, nil
}

func (g *fakeGateway) Get(_ context.Context, id int64) (purchasing.PurchaseOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[id]
	if !ok {
		return purchasing.PurchaseOrder{}, &gateway.TransportError{Method: http.MethodGet, Path: fmt.Sprintf("/purchases/%d", id), StatusCode: http.StatusNotFound}
	}
	return order, nil
}

func (g *fakeGateway) Create(_ context.Context, order purchasing.ValidatedOrder) (purchasing.PurchaseOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.created = append(g.created, order)
	created := purchasing.PurchaseOrder{ID: g.nextID, SupplierID: order.SupplierID, PurchaseDate: order.PurchaseDate, Status: purchasing.StatusPending, Lines: order.Lines, TotalAmount: order.Total}
	g.orders[created.ID] = created
	return created, nil
}

func (g *fakeGateway) Update(_ context.Context, id int64, order purchasing.ValidatedOrder) (purchasing.PurchaseOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updated = append(g.updated, order)
	updated := g.orders[id]
	updated.SupplierID = order.SupplierID
	updated.PurchaseDate = order.PurchaseDate
	updated.Notes = order.Notes
	updated.Lines = order.Lines
	updated.TotalAmount = order.Total
	g.orders[id] = updated
	return updated, nil
}

func (g *fakeGateway) Delete(_ context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.orders, id)
	return nil
}

func (g *fakeGateway) Complete(_ context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return g.setStatus(id, purchasing.StatusCompleted)
}

func (g *fakeGateway) Cancel(_ context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return g.setStatus(id, purchasing.StatusCancelled)
}

func (g *fakeGateway) setStatus(id int64, status purchasing.Status) (purchasing.PurchaseOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order := g.orders[id]
	order.Status = status
	g.orders[id] = order
	return order, nil
}

func (g *fakeGateway) Stats(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"pending":1}`), nil
}

type fixedCatalog struct {
	snap catalog.Snapshot
	err  error
}

func (c fixedCatalog) Load(context.Context) (catalog.Snapshot, error) { return c.snap, c.err }
func (c fixedCatalog) Snapshot() catalog.Snapshot { return c.snap }

func testCatalog() catalog.Snapshot {
	return catalog.NewSnapshot(
		[]catalog.Product{
			{ID: 10, Name: "Paper A4", UnitPrice: decimal.RequireFromString("15.00"), Stock: 4, IsActive: true},
			{ID: 11, Name: "Stapler", UnitPrice: decimal.RequireFromString("7.25"), Stock: 0, IsActive: true},
		},
		[]catalog.Supplier{
			{ID: 3, Name: "Acme", IsActive: true},
			{ID: 4, Name: "Gone Ltd", IsActive: false},
		},
		today,
	)
}

type harness struct {
	router  http.Handler
	gateway *fakeGateway
	drafts  *DraftStore
}

func newHarness(t *testing.T, cat Catalog, orders ...purchasing.PurchaseOrder) *harness {
	t.Helper()
	return newHarnessWithGrace(t, 2*time.Second, cat, orders...)
}

func newHarnessWithGrace(t *testing.T, grace time.Duration, cat Catalog, orders ...purchasing.PurchaseOrder) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := newFakeGateway(orders...)
	manager := purchasing.NewManager(gw, purchasing.NewOrderStore(), nil, nil, nil, logger)
	drafts := NewDraftStore(client, time.Hour)
	handler := NewHandler(logger, manager, cat, drafts, grace)
	handler.now = func() time.Time { return today }

	r := chi.NewRouter()
	handler.MountRoutes(r)
	return &harness{router: r, gateway: gw, drafts: drafts}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func problemErrors(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Errors
}

func pendingOrder(id int64) purchasing.PurchaseOrder {
	return purchasing.PurchaseOrder{
		ID:           id,
		SupplierID:   3,
		PurchaseDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		Status:       purchasing.StatusPending,
		Lines: []purchasing.Line{{
			ProductID: 10,
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("15.00"),
			Subtotal:  decimal.RequireFromString("30.00"),
		}},
		TotalAmount: decimal.RequireFromString("30.00"),
	}
}

func TestDraftEditingAndSubmit(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	rr := h.do(t, http.MethodPost, "/drafts", `{"supplier_id":3,"purchase_date":"2024-06-15","notes":"restock"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	draft := decodeBody[draftResponse](t, rr)
	require.NotEmpty(t, draft.ID)
	require.Equal(t, "Acme", draft.SupplierName)
	require.Len(t, draft.Lines, 1)
	base := "/drafts/" + draft.ID

	rr = h.do(t, http.MethodPut, base+"/lines/0/product", `{"product_id":10}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	draft = decodeBody[draftResponse](t, rr)
	require.Equal(t, "Paper A4", draft.Lines[0].ProductName)
	require.True(t, draft.Lines[0].UnitPrice.Equal(decimal.RequireFromString("15.00")))

	rr = h.do(t, http.MethodPut, base+"/lines/0/quantity", `{"quantity":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	draft = decodeBody[draftResponse](t, rr)
	require.True(t, draft.Total.Equal(decimal.RequireFromString("30")))
	require.Equal(t, "30.00", draft.TotalDisplay)

	rr = h.do(t, http.MethodPost, base+"/lines", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = h.do(t, http.MethodPut, base+"/lines/1/product", `{"product_id":10}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	draft = decodeBody[draftResponse](t, rr)
	require.Equal(t, []int{0, 1}, draft.DuplicateIndexes)
	require.True(t, draft.HasBlockingErrors)

	rr = h.do(t, http.MethodDelete, base+"/lines/1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	draft = decodeBody[draftResponse](t, rr)
	require.Empty(t, draft.DuplicateIndexes)
	require.False(t, draft.HasBlockingErrors)

	rr = h.do(t, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	order := decodeBody[orderResponse](t, rr)
	require.Equal(t, "pending", order.Status)
	require.True(t, order.Editable)
	require.Equal(t, "30.00", order.TotalDisplay)

	require.Len(t, h.gateway.created, 1)
	require.Equal(t, "restock", h.gateway.created[0].Notes)
	require.Len(t, h.gateway.created[0].Lines, 1)

	rr = h.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitValidationKeepsDraft(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	rr := h.do(t, http.MethodPost, "/drafts", `{"supplier_id":3,"purchase_date":"2024-06-15"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	draft := decodeBody[draftResponse](t, rr)

	rr = h.do(t, http.MethodPost, "/drafts/"+draft.ID+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	require.Contains(t, problemErrors(t, rr), purchasing.MsgProductRequired)
	require.Empty(t, h.gateway.created)

	rr = h.do(t, http.MethodGet, "/drafts/"+draft.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSubmitRejectsFutureDateAndInactiveSupplier(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	rr := h.do(t, http.MethodPost, "/drafts", `{"supplier_id":4,"purchase_date":"2024-06-16"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	draft := decodeBody[draftResponse](t, rr)
	base := "/drafts/" + draft.ID
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, base+"/lines/0/product", `{"product_id":11}`).Code)

	rr = h.do(t, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	messages := problemErrors(t, rr)
	require.Contains(t, messages, purchasing.MsgDateInFuture)
	require.Contains(t, messages, purchasing.MsgSupplierInactive)

	rr = h.do(t, http.MethodPatch, base, `{"supplier_id":3,"purchase_date":"2024-06-14"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = h.do(t, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestQuantityBelowOneIsProvisional(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	draft := decodeBody[draftResponse](t, h.do(t, http.MethodPost, "/drafts", `{}`))
	base := "/drafts/" + draft.ID
	h.do(t, http.MethodPut, base+"/lines/0/product", `{"product_id":10}`)

	rr := h.do(t, http.MethodPut, base+"/lines/0/quantity", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	draft = decodeBody[draftResponse](t, rr)
	require.True(t, draft.Lines[0].Provisional)
	require.Equal(t, int64(1), draft.Lines[0].Quantity)
	require.True(t, draft.HasBlockingErrors)
}

func TestDraftRequestErrors(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/drafts/not-a-uuid", "").Code)

	draft := decodeBody[draftResponse](t, h.do(t, http.MethodPost, "/drafts", `{}`))
	base := "/drafts/" + draft.ID

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, base+"/lines/x/quantity", `{"quantity":1}`).Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPut, base+"/lines/4/quantity", `{"quantity":1}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, base+"/lines/0/quantity", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPatch, base, `{"purchase_date":"15/06/2024"}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPatch, base, `{"unknown":true}`).Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, base+"/save", "").Code)
}

func TestSetProductWithUnreachableCatalog(t *testing.T) {
	h := newHarness(t, fixedCatalog{err: fmt.Errorf("backend down")})

	draft := decodeBody[draftResponse](t, h.do(t, http.MethodPost, "/drafts", `{}`))
	rr := h.do(t, http.MethodPut, "/drafts/"+draft.ID+"/lines/0/product", `{"product_id":10}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)

	rr = h.do(t, http.MethodGet, "/catalog/products", "")
	require.Equal(t, http.StatusOK, rr.Code)
	products := decodeBody[productListResponse](t, rr)
	require.Equal(t, catalog.SelectionNotLoaded, products.Selection)
	require.Empty(t, products.Data)
}

func TestCatalogSelection(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	suppliers := decodeBody[supplierListResponse](t, h.do(t, http.MethodGet, "/catalog/suppliers", ""))
	require.Equal(t, catalog.SelectionAvailable, suppliers.Selection)
	require.Len(t, suppliers.Data, 1)
	require.Equal(t, "Acme", suppliers.Data[0].Name)

	products := decodeBody[productListResponse](t, h.do(t, http.MethodGet, "/catalog/products", ""))
	require.Len(t, products.Data, 2)
}

func TestCompleteThenRepeatConflicts(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()}, pendingOrder(5))

	rr := h.do(t, http.MethodPatch, "/purchases/5/complete", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	order := decodeBody[orderResponse](t, rr)
	require.Equal(t, "completed", order.Status)
	require.Equal(t, int64(2000), order.AutoDismissMS)
	require.False(t, order.Editable)
	require.Empty(t, order.Transitions)

	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPatch, "/purchases/5/complete", "").Code)
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPatch, "/purchases/5/cancel", "").Code)
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodDelete, "/purchases/5", "").Code)
	require.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/purchases/5/draft", "").Code)
}

func TestCancelAndDelete(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()}, pendingOrder(6), pendingOrder(7))

	rr := h.do(t, http.MethodPatch, "/purchases/6/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "cancelled", decodeBody[orderResponse](t, rr).Status)

	rr = h.do(t, http.MethodDelete, "/purchases/7", "")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/purchases/7", "").Code)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/purchases/abc", "").Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, "/purchases/0", "").Code)
}

func TestBackendRejectionKeepsMessage(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()}, pendingOrder(9))
	h.gateway.deleteErr = &gateway.TransportError{Method: http.MethodDelete, Path: "/purchases/9", StatusCode: http.StatusUnprocessableEntity, Message: "Only pending purchases can be deleted"}

	rr := h.do(t, http.MethodDelete, "/purchases/9", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, []string{"Only pending purchases can be deleted"}, problemErrors(t, rr))

	h.gateway.deleteErr = &gateway.TransportError{Method: http.MethodDelete, Path: "/purchases/9", Err: fmt.Errorf("connection refused")}
	rr = h.do(t, http.MethodDelete, "/purchases/9", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestEditPendingOrderThroughDraft(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()}, pendingOrder(8))

	rr := h.do(t, http.MethodPost, "/purchases/8/draft", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	draft := decodeBody[draftResponse](t, rr)
	require.Equal(t, int64(8), draft.SourceOrderID)
	require.Len(t, draft.Lines, 1)
	base := "/drafts/" + draft.ID

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, base+"/submit", "").Code)

	rr = h.do(t, http.MethodPut, base+"/lines/0/quantity", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = h.do(t, http.MethodPost, base+"/save", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	order := decodeBody[orderResponse](t, rr)
	require.Equal(t, int64(8), order.ID)
	require.Equal(t, "45.00", order.TotalDisplay)

	require.Len(t, h.gateway.updated, 1)
	require.Equal(t, int64(3), h.gateway.updated[0].Lines[0].Quantity)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, base, "").Code)
}

func TestListPurchasesFiltersByStatus(t *testing.T) {
	completed := pendingOrder(2)
	completed.Status = purchasing.StatusCompleted
	h := newHarness(t, fixedCatalog{snap: testCatalog()}, pendingOrder(1), completed)

	list := decodeBody[orderListResponse](t, h.do(t, http.MethodGet, "/purchases", ""))
	require.Len(t, list.Data, 2)

	list = decodeBody[orderListResponse](t, h.do(t, http.MethodGet, "/purchases?status=completed", ""))
	require.Len(t, list.Data, 1)
	require.Equal(t, int64(2), list.Data[0].ID)

	rr := h.do(t, http.MethodGet, "/purchases/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"pending":1}`, rr.Body.String())
}

func TestRespondErrorPassesHTTPSentinels(t *testing.T) {
	h := NewHandler(nil, nil, fixedCatalog{}, nil, 0)
	rr := httptest.NewRecorder()
	h.respondError(rr, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("%w: nope", httpx.ErrBadRequest))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, purchasing.DefaultDismissGrace, h.grace)
}
