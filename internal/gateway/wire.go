package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

const dateLayout = "2006-01-02"

// flexBool accepts true/false, 1/0 and their quoted forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("gateway: invalid boolean %s", data)
	}
	return nil
}

// flexInt accepts integral numbers and numeric strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// "2.0" is accepted, "2.5" is not
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return fmt.Errorf("gateway: invalid integer %s", data)
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}

// flexTime accepts a date, a SQL timestamp or RFC 3339.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*t = flexTime(time.Time{})
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", dateLayout} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("gateway: invalid time %s", data)
}

type namedRef struct {
	ID   flexInt `json:"id"`
	Name string  `json:"name"`
}

type detailDTO struct {
	ProductID     flexInt         `json:"product_id"`
	Product       *namedRef       `json:"product,omitempty"`
	Quantity      flexInt         `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

type purchaseDTO struct {
	ID           flexInt         `json:"id"`
	SupplierID   flexInt         `json:"supplier_id"`
	Supplier     *namedRef       `json:"supplier,omitempty"`
	PurchaseDate flexTime        `json:"purchase_date"`
	Status       string          `json:"status"`
	Notes        *string         `json:"notes"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Details      []detailDTO     `json:"details"`
	CreatedAt    flexTime        `json:"created_at"`
	UpdatedAt    flexTime        `json:"updated_at"`
}

func (p purchaseDTO) toDomain() purchasing.PurchaseOrder {
	order := purchasing.PurchaseOrder{
		ID:           int64(p.ID),
		SupplierID:   int64(p.SupplierID),
		PurchaseDate: time.Time(p.PurchaseDate),
		Status:       purchasing.ParseStatus(p.Status),
		TotalAmount:  p.TotalAmount,
		CreatedAt:    time.Time(p.CreatedAt),
		UpdatedAt:    time.Time(p.UpdatedAt),
	}
	if p.Supplier != nil {
		order.SupplierName = p.Supplier.Name
		if order.SupplierID == 0 {
			order.SupplierID = int64(p.Supplier.ID)
		}
	}
	if p.Notes != nil {
		order.Notes = *p.Notes
	}
	for _, d := range p.Details {
		line := purchasing.Line{
			ProductID: int64(d.ProductID),
			Quantity:  int64(d.Quantity),
			UnitPrice: d.PurchasePrice,
			Subtotal:  d.Subtotal,
		}
		if d.Product != nil {
			line.ProductName = d.Product.Name
		}
		order.Lines = append(order.Lines, line)
	}
	return order
}

// purchaseRequest is the create/update body. user_id and total_amount are
// derived by the backend and must not be sent.
type purchaseRequest struct {
	SupplierID   int64           `json:"supplier_id"`
	PurchaseDate string          `json:"purchase_date"`
	Notes        *string         `json:"notes"`
	Status       string          `json:"status"`
	Details      []detailRequest `json:"details"`
}

type detailRequest struct {
	ProductID     int64           `json:"product_id"`
	Quantity      int64           `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

func newPurchaseRequest(order purchasing.ValidatedOrder) purchaseRequest {
	req := purchaseRequest{
		SupplierID:   order.SupplierID,
		PurchaseDate: order.PurchaseDate.Format(dateLayout),
		Status:       string(order.Status),
		Details:      make([]detailRequest, 0, len(order.Lines)),
	}
	if req.Status == "" {
		req.Status = string(purchasing.StatusPending)
	}
	if order.Notes != "" {
		notes := order.Notes
		req.Notes = &notes
	}
	for _, line := range order.Lines {
		req.Details = append(req.Details, detailRequest{
			ProductID:     line.ProductID,
			Quantity:      line.Quantity,
			PurchasePrice: line.UnitPrice.Round(purchasing.CurrencyPlaces),
			Subtotal:      line.Subtotal.Round(purchasing.CurrencyPlaces),
		})
	}
	return req
}

type productDTO struct {
	ID        flexInt         `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     flexInt         `json:"stock"`
	IsActive  flexBool        `json:"is_active"`
}

func (p productDTO) toDomain() catalog.Product {
	return catalog.Product{ID: int64(p.ID), Name: p.Name, UnitPrice: p.UnitPrice, Stock: int64(p.Stock), IsActive: bool(p.IsActive)}
}

type supplierDTO struct {
	ID       flexInt  `json:"id"`
	Name     string   `json:"name"`
	IsActive flexBool `json:"is_active"`
}

func (s supplierDTO) toDomain() catalog.Supplier {
	return catalog.Supplier{ID: int64(s.ID), Name: s.Name, IsActive: bool(s.IsActive)}
}

// envelope covers both bare payloads and {"data": ..., "meta": {...}}
// pagination wrappers.
type envelope struct {
	Data        json.RawMessage `json:"data"`
	LastPage    flexInt         `json:"last_page"`
	CurrentPage flexInt         `json:"current_page"`
	Meta        *struct {
		LastPage    flexInt `json:"last_page"`
		CurrentPage flexInt `json:"current_page"`
	} `json:"meta"`
}

func (e envelope) lastPage() int {
	if e.Meta != nil && e.Meta.LastPage > 0 {
		return int(e.Meta.LastPage)
	}
	return int(e.LastPage)
}

// unwrap returns the payload inside a data envelope, or body itself.
func unwrap(body []byte) (json.RawMessage, envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, envelope{}, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, envelope{}, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return trimmed, envelope{}, nil
	}
	return env.Data, env, nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

func errorMessage(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case parsed.Detail != "":
			return parsed.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
