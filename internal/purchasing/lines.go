package purchasing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PriceResolver returns the current unit price of a product, or zero when the
// product is unknown or inactive.
type PriceResolver interface {
	ResolveUnitPrice(productID int64) decimal.Decimal
}

// Field names a line attribute an Issue is attached to.
type Field string

const (
	FieldProduct  Field = "product_id"
	FieldQuantity Field = "quantity"
)

// Issue is a per-line, per-field problem. Non-blocking issues describe
// incomplete lines that are dropped on submit.
type Issue struct {
	Field    Field
	Message  string
	Blocking bool
}

const msgProductIncomplete = "select a product"

// DraftLine is an editable purchase line.
type DraftLine struct {
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	// Provisional is set while the last quantity input was rejected. Quantity
	// and Subtotal then still hold the last accepted values.
	Provisional bool
	Issues      []Issue
}

// Duplicate reports whether the line shares its product with another line.
func (l DraftLine) Duplicate() bool {
	for _, issue := range l.Issues {
		if issue.Field == FieldProduct && issue.Message == MsgDuplicateProduct {
			return true
		}
	}
	return false
}

// Blocking reports whether any issue on the line blocks submission.
func (l DraftLine) Blocking() bool {
	for _, issue := range l.Issues {
		if issue.Blocking {
			return true
		}
	}
	return false
}

func blankLine() DraftLine {
	return DraftLine{Quantity: 1, UnitPrice: decimal.Zero, Subtotal: decimal.Zero}
}

// Header carries the order-level fields of a draft.
type Header struct {
	SupplierID   int64
	PurchaseDate time.Time
	Notes        string
	// Status overrides the submitted status; empty means pending.
	Status Status
}

// Draft is an in-progress purchase order. It is a value: every mutating
// method returns a new Draft and leaves the receiver untouched.
type Draft struct {
	header Header
	lines  []DraftLine
}

// NewDraft returns a draft holding a single blank line.
func NewDraft(header Header) Draft {
	d := Draft{header: header, lines: []DraftLine{blankLine()}}
	return d.revalidate()
}

// DraftFromOrder loads a persisted order into a draft for editing. Unit
// prices keep the values snapshotted on the order.
func DraftFromOrder(order PurchaseOrder) Draft {
	d := Draft{header: Header{
		SupplierID:   order.SupplierID,
		PurchaseDate: order.PurchaseDate,
		Notes:        order.Notes,
	}}
	for _, line := range order.Lines {
		d.lines = append(d.lines, DraftLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  LineSubtotal(line.Quantity, line.UnitPrice),
		})
	}
	if len(d.lines) == 0 {
		d.lines = []DraftLine{blankLine()}
	}
	return d.revalidate()
}

// Header returns the draft header.
func (d Draft) Header() Header { return d.header }

// Len returns the number of lines.
func (d Draft) Len() int { return len(d.lines) }

// Lines returns a copy of the lines.
func (d Draft) Lines() []DraftLine {
	out := make([]DraftLine, len(d.lines))
	for i, line := range d.lines {
		line.Issues = append([]Issue(nil), line.Issues...)
		out[i] = line
	}
	return out
}

// Line returns the line at index.
func (d Draft) Line(index int) (DraftLine, bool) {
	if index < 0 || index >= len(d.lines) {
		return DraftLine{}, false
	}
	return d.Lines()[index], true
}

// WithHeader replaces the header.
func (d Draft) WithHeader(header Header) Draft {
	out := d.copy()
	out.header = header
	return out
}

// AddLine appends a blank line.
func (d Draft) AddLine() Draft {
	out := d.copy()
	out.lines = append(out.lines, blankLine())
	return out.revalidate()
}

// RemoveLine drops the line at index. Removing the only line, or an index out
// of range, leaves the draft unchanged.
func (d Draft) RemoveLine(index int) Draft {
	if len(d.lines) <= 1 || index < 0 || index >= len(d.lines) {
		return d
	}
	out := d.copy()
	out.lines = append(out.lines[:index], out.lines[index+1:]...)
	return out.revalidate()
}

// SetProduct binds a product to the line and snapshots its price. A zero id
// clears price and subtotal.
func (d Draft) SetProduct(index int, productID int64, prices PriceResolver) Draft {
	if index < 0 || index >= len(d.lines) {
		return d
	}
	out := d.copy()
	line := out.lines[index]
	if productID <= 0 {
		line.ProductID = 0
		line.UnitPrice = decimal.Zero
		line.Subtotal = decimal.Zero
	} else {
		line.ProductID = productID
		line.UnitPrice = decimal.Zero
		if prices != nil {
			line.UnitPrice = prices.ResolveUnitPrice(productID)
		}
		line.Subtotal = LineSubtotal(line.Quantity, line.UnitPrice)
	}
	out.lines[index] = line
	return out.revalidate()
}

// SetQuantity applies a positive quantity. Non-positive input is not applied;
// the line turns provisional until a valid value arrives.
func (d Draft) SetQuantity(index int, quantity int64) Draft {
	if index < 0 || index >= len(d.lines) {
		return d
	}
	out := d.copy()
	line := out.lines[index]
	if quantity < 1 {
		line.Provisional = true
	} else {
		line.Provisional = false
		line.Quantity = quantity
		line.Subtotal = LineSubtotal(quantity, line.UnitPrice)
	}
	out.lines[index] = line
	return out.revalidate()
}

// Total sums the line subtotals at full precision.
func (d Draft) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// HasBlockingErrors gates submission.
func (d Draft) HasBlockingErrors() bool {
	for _, line := range d.lines {
		if line.Blocking() {
			return true
		}
	}
	return false
}

// DuplicateIndexes lists the indexes currently flagged as duplicates.
func (d Draft) DuplicateIndexes() []int {
	var out []int
	for i, line := range d.lines {
		if line.Duplicate() {
			out = append(out, i)
		}
	}
	return out
}

func (d Draft) copy() Draft {
	out := Draft{header: d.header, lines: make([]DraftLine, len(d.lines))}
	copy(out.lines, d.lines)
	return out
}

// revalidate recomputes every line issue from scratch.
func (d Draft) revalidate() Draft {
	counts := make(map[int64]int, len(d.lines))
	for _, line := range d.lines {
		if line.ProductID > 0 {
			counts[line.ProductID]++
		}
	}
	for i := range d.lines {
		line := &d.lines[i]
		line.Issues = nil
		switch {
		case line.ProductID <= 0:
			line.Issues = append(line.Issues, Issue{Field: FieldProduct, Message: msgProductIncomplete})
		case counts[line.ProductID] > 1:
			line.Issues = append(line.Issues, Issue{Field: FieldProduct, Message: MsgDuplicateProduct, Blocking: true})
		}
		if line.Provisional {
			line.Issues = append(line.Issues, Issue{Field: FieldQuantity, Message: MsgQuantityInvalid, Blocking: true})
		}
	}
	return d
}

type draftLineJSON struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Provisional bool            `json:"provisional,omitempty"`
}

type draftJSON struct {
	SupplierID   int64           `json:"supplier_id"`
	PurchaseDate *time.Time      `json:"purchase_date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Status       Status          `json:"status,omitempty"`
	Lines        []draftLineJSON `json:"lines"`
}

// MarshalJSON encodes the draft for storage. Issues are derived state and are
// not encoded.
func (d Draft) MarshalJSON() ([]byte, error) {
	payload := draftJSON{
		SupplierID: d.header.SupplierID,
		Notes:      d.header.Notes,
		Status:     d.header.Status,
		Lines:      make([]draftLineJSON, 0, len(d.lines)),
	}
	if !d.header.PurchaseDate.IsZero() {
		date := d.header.PurchaseDate
		payload.PurchaseDate = &date
	}
	for _, line := range d.lines {
		payload.Lines = append(payload.Lines, draftLineJSON{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
			Provisional: line.Provisional,
		})
	}
	return json.Marshal(payload)
}

// UnmarshalJSON restores a stored draft and re-derives its issues.
func (d *Draft) UnmarshalJSON(data []byte) error {
	var payload draftJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	out := Draft{header: Header{SupplierID: payload.SupplierID, Notes: payload.Notes, Status: payload.Status}}
	if payload.PurchaseDate != nil {
		out.header.PurchaseDate = *payload.PurchaseDate
	}
	for _, line := range payload.Lines {
		out.lines = append(out.lines, DraftLine{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.Subtotal,
			Provisional: line.Provisional,
		})
	}
	if len(out.lines) == 0 {
		out.lines = []DraftLine{blankLine()}
	}
	*d = out.revalidate()
	return nil
}
