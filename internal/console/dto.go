package console

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

const dateLayout = "2006-01-02"

type headerRequest struct {
	SupplierID   *int64  `json:"supplier_id" validate:"omitempty,gte=0"`
	PurchaseDate *string `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	Notes        *string `json:"notes" validate:"omitempty,max=2000"`
}

func (r headerRequest) apply(header purchasing.Header) purchasing.Header {
	if r.SupplierID != nil {
		header.SupplierID = *r.SupplierID
	}
	if r.PurchaseDate != nil {
		// validated by the datetime tag
		header.PurchaseDate, _ = time.Parse(dateLayout, *r.PurchaseDate)
	}
	if r.Notes != nil {
		header.Notes = *r.Notes
	}
	return header
}

type productRequest struct {
	ProductID int64 `json:"product_id" validate:"gte=0"`
}

// quantityRequest accepts any integer. Values below one are kept out of the
// line and reported as a blocking issue.
type quantityRequest struct {
	Quantity *int64 `json:"quantity" validate:"required"`
}

type issueResponse struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

type draftLineResponse struct {
	Index       int             `json:"index"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Provisional bool            `json:"provisional"`
	Issues      []issueResponse `json:"issues"`
}

type draftResponse struct {
	ID                string              `json:"id"`
	SourceOrderID     int64               `json:"source_order_id,omitempty"`
	SupplierID        int64               `json:"supplier_id"`
	SupplierName      string              `json:"supplier_name,omitempty"`
	PurchaseDate      string              `json:"purchase_date,omitempty"`
	Notes             string              `json:"notes"`
	Lines             []draftLineResponse `json:"lines"`
	Total             decimal.Decimal     `json:"total"`
	TotalDisplay      string              `json:"total_display"`
	HasBlockingErrors bool                `json:"has_blocking_errors"`
	DuplicateIndexes  []int               `json:"duplicate_indexes"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func newDraftResponse(rec DraftRecord, snap catalog.Snapshot) draftResponse {
	header := rec.Draft.Header()
	total := rec.Draft.Total()
	resp := draftResponse{
		ID:                rec.ID,
		SourceOrderID:     rec.SourceOrderID,
		SupplierID:        header.SupplierID,
		Notes:             header.Notes,
		Total:             total,
		TotalDisplay:      purchasing.FormatAmount(total),
		HasBlockingErrors: rec.Draft.HasBlockingErrors(),
		DuplicateIndexes:  rec.Draft.DuplicateIndexes(),
		UpdatedAt:         rec.UpdatedAt,
	}
	if resp.DuplicateIndexes == nil {
		resp.DuplicateIndexes = []int{}
	}
	if !header.PurchaseDate.IsZero() {
		resp.PurchaseDate = header.PurchaseDate.Format(dateLayout)
	}
	if sup, ok := snap.Supplier(header.SupplierID); ok {
		resp.SupplierName = sup.Name
	}
	for i, line := range rec.Draft.Lines() {
		lr := draftLineResponse{
			Index:       i,
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
			Provisional: line.Provisional,
			Issues:      make([]issueResponse, 0, len(line.Issues)),
		}
		if p, ok := snap.Product(line.ProductID); ok {
			lr.ProductName = p.Name
		}
		for _, issue := range line.Issues {
			lr.Issues = append(lr.Issues, issueResponse{Field: string(issue.Field), Message: issue.Message, Blocking: issue.Blocking})
		}
		resp.Lines = append(resp.Lines, lr)
	}
	return resp
}

type orderLineResponse struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type orderResponse struct {
	ID            int64               `json:"id"`
	Temporary     bool                `json:"temporary,omitempty"`
	SupplierID    int64               `json:"supplier_id"`
	SupplierName  string              `json:"supplier_name,omitempty"`
	PurchaseDate  string              `json:"purchase_date,omitempty"`
	Status        string              `json:"status"`
	Notes         string              `json:"notes"`
	Lines         []orderLineResponse `json:"lines"`
	Total         decimal.Decimal     `json:"total"`
	TotalDisplay  string              `json:"total_display"`
	Editable      bool                `json:"editable"`
	Deletable     bool                `json:"deletable"`
	Transitions   []string            `json:"transitions"`
	AutoDismissMS int64               `json:"auto_dismiss_ms,omitempty"`
	CreatedAt     *time.Time          `json:"created_at,omitempty"`
	UpdatedAt     *time.Time          `json:"updated_at,omitempty"`
}

func newOrderResponse(order purchasing.PurchaseOrder) orderResponse {
	resp := orderResponse{
		ID:           order.ID,
		Temporary:    order.Temporary(),
		SupplierID:   order.SupplierID,
		SupplierName: order.SupplierName,
		Status:       order.Status.String(),
		Notes:        order.Notes,
		Lines:        make([]orderLineResponse, 0, len(order.Lines)),
		Total:        order.TotalAmount,
		TotalDisplay: purchasing.FormatAmount(order.TotalAmount),
		Editable:     order.Status.Editable(),
		Deletable:    order.Status.Deletable(),
		Transitions:  []string{},
	}
	if !order.PurchaseDate.IsZero() {
		resp.PurchaseDate = order.PurchaseDate.Format(dateLayout)
	}
	for _, target := range order.Status.Transitions() {
		resp.Transitions = append(resp.Transitions, target.String())
	}
	for _, line := range order.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
		})
	}
	if !order.CreatedAt.IsZero() {
		created := order.CreatedAt
		resp.CreatedAt = &created
	}
	if !order.UpdatedAt.IsZero() {
		updated := order.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

type orderListResponse struct {
	Data     []orderResponse `json:"data"`
	SyncedAt time.Time       `json:"synced_at"`
}

type productListResponse struct {
	Selection catalog.Selection `json:"selection"`
	Data      []catalog.Product `json:"data"`
}

type supplierListResponse struct {
	Selection catalog.Selection  `json:"selection"`
	Data      []catalog.Supplier `json:"data"`
}
