package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

const (
	maxBodyBytes = 4 << 20
	maxPages     = 200
)

// Client talks to the backend purchasing API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a new client.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// List returns every purchase, following pagination when the backend pages.
func (c *Client) List(ctx context.Context) ([]purchasing.PurchaseOrder, error) {
	dtos, err := collectPages[purchaseDTO](ctx, c, "/purchases")
	if err != nil {
		return nil, err
	}
	orders := make([]purchasing.PurchaseOrder, 0, len(dtos))
	for _, dto := range dtos {
		orders = append(orders, dto.toDomain())
	}
	return orders, nil
}

// Get returns a single purchase.
func (c *Client) Get(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return c.purchase(ctx, http.MethodGet, purchasePath(id, ""), nil)
}

// Create posts a validated order.
func (c *Client) Create(ctx context.Context, order purchasing.ValidatedOrder) (purchasing.PurchaseOrder, error) {
	return c.purchase(ctx, http.MethodPost, "/purchases", newPurchaseRequest(order))
}

// Update replaces a pending purchase.
func (c *Client) Update(ctx context.Context, id int64, order purchasing.ValidatedOrder) (purchasing.PurchaseOrder, error) {
	return c.purchase(ctx, http.MethodPut, purchasePath(id, ""), newPurchaseRequest(order))
}

// Delete removes a pending purchase.
func (c *Client) Delete(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, purchasePath(id, ""), nil, nil)
	return err
}

// Complete asks the backend to complete the purchase and adjust stock.
func (c *Client) Complete(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return c.purchase(ctx, http.MethodPatch, purchasePath(id, "complete"), nil)
}

// Cancel asks the backend to cancel the purchase.
func (c *Client) Cancel(ctx context.Context, id int64) (purchasing.PurchaseOrder, error) {
	return c.purchase(ctx, http.MethodPatch, purchasePath(id, "cancel"), nil)
}

// Stats returns the backend aggregate as-is.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/purchases/stats", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Products returns the whole product catalog across pages.
func (c *Client) Products(ctx context.Context) ([]catalog.Product, error) {
	dtos, err := collectPages[productDTO](ctx, c, "/products")
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Product, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// Suppliers returns the whole supplier catalog across pages.
func (c *Client) Suppliers(ctx context.Context) ([]catalog.Supplier, error) {
	dtos, err := collectPages[supplierDTO](ctx, c, "/suppliers")
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Supplier, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, dto.toDomain())
	}
	return out, nil
}

// Ping checks if the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/purchases/stats", nil, nil)
	return err
}

// collectPages reads path page by page until last_page. Unpaged responses
// stop after the first request.
func collectPages[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	for page := 1; page <= maxPages; page++ {
		target := path
		if page > 1 {
			target += "?page=" + strconv.Itoa(page)
		}
		var batch []T
		env, err := c.do(ctx, http.MethodGet, target, nil, &batch)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if env.lastPage() <= page {
			break
		}
	}
	return out, nil
}

func (c *Client) purchase(ctx context.Context, method, path string, body any) (purchasing.PurchaseOrder, error) {
	var dto purchaseDTO
	if _, err := c.do(ctx, method, path, body, &dto); err != nil {
		return purchasing.PurchaseOrder{}, err
	}
	return dto.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) (envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("gateway: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed", slog.String("method", method), slog.String("path", path), slog.Any("error", err))
		return envelope{}, &TransportError{Method: method, Path: path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return envelope{}, &TransportError{Method: method, Path: path, Err: err}
	}
	if resp.StatusCode >= 400 {
		terr := &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errorMessage(payload)}
		c.logger.Warn("backend rejected request", slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode), slog.String("message", terr.Message))
		return envelope{}, terr
	}
	if dest == nil || len(bytes.TrimSpace(payload)) == 0 {
		return envelope{}, nil
	}
	data, env, err := unwrap(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("gateway: decode %s %s: %w", method, path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return envelope{}, fmt.Errorf("gateway: decode %s %s: %w", method, path, err)
	}
	return env, nil
}

func purchasePath(id int64, action string) string {
	path := "/purchases/" + url.PathEscape(strconv.FormatInt(id, 10))
	if action != "" {
		path += "/" + action
	}
	return path
}
