package purchasing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// CurrencyPlaces is the rounding scale applied on submission and display.
const CurrencyPlaces = 2

// LineSubtotal returns quantity × unitPrice at full precision.
func LineSubtotal(quantity int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(quantity))
}

// ComputeTotal sums quantity × unitPrice over lines without rounding.
func ComputeTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(LineSubtotal(line.Quantity, line.UnitPrice))
	}
	return total
}

// FormatAmount renders an amount rounded to currency places with digit
// grouping, e.g. 1234.5 -> "1,234.50".
func FormatAmount(amount decimal.Decimal) string {
	rounded := amount.Round(CurrencyPlaces)
	whole := rounded.Abs().Truncate(0)
	cents := rounded.Abs().Sub(whole).Shift(CurrencyPlaces).IntPart()

	var units string
	if whole.LessThanOrEqual(maxGroupedUnits) {
		units = message.NewPrinter(language.English).Sprint(number.Decimal(whole.IntPart()))
	} else {
		units = groupThousands(whole.String())
	}

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%02d", sign, units, cents)
}

// maxGroupedUnits bounds the integer part that fits an int64.
var maxGroupedUnits = decimal.NewFromInt(math.MaxInt64)

func groupThousands(digits string) string {
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidatedOrder is the normalized payload handed to the gateway.
type ValidatedOrder struct {
	SupplierID   int64
	PurchaseDate time.Time
	Status       Status
	Notes        string
	Lines        []Line
	Total        decimal.Decimal
}

// ValidateForSubmit checks a draft and normalizes it for submission. It does
// no I/O. Dates are compared by calendar day.
func ValidateForSubmit(d Draft, today time.Time) (ValidatedOrder, error) {
	var messages []string
	header := d.Header()

	if header.SupplierID <= 0 {
		messages = append(messages, MsgSupplierRequired)
	}
	if header.PurchaseDate.IsZero() {
		messages = append(messages, MsgDateRequired)
	} else if dateOnly(header.PurchaseDate, today.Location()).After(dateOnly(today, today.Location())) {
		messages = append(messages, MsgDateInFuture)
	}
	status := StatusPending
	if header.Status != "" {
		if !header.Status.IsKnown() {
			messages = append(messages, MsgStatusUnknown)
		} else {
			status = header.Status
		}
	}

	var selected []DraftLine
	for _, line := range d.Lines() {
		if line.ProductID > 0 {
			selected = append(selected, line)
		}
	}
	if len(selected) == 0 {
		messages = append(messages, MsgProductRequired)
		return ValidatedOrder{}, NewValidationError(messages...)
	}

	seen := make(map[int64]struct{}, len(selected))
	duplicate := false
	provisional := false
	for _, line := range selected {
		if _, ok := seen[line.ProductID]; ok {
			duplicate = true
		}
		seen[line.ProductID] = struct{}{}
		if line.Provisional || line.Quantity < 1 {
			provisional = true
		}
	}
	if duplicate {
		messages = append(messages, MsgDuplicateProduct)
	}
	if provisional {
		messages = append(messages, MsgQuantityInvalid)
	}

	lines := make([]Line, 0, len(selected))
	for _, line := range selected {
		lines = append(lines, Line{ProductID: line.ProductID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	total := ComputeTotal(lines)
	if !total.IsPositive() {
		messages = append(messages, MsgTotalNotPositive)
	}
	if len(messages) > 0 {
		return ValidatedOrder{}, NewValidationError(messages...)
	}

	for i := range lines {
		lines[i].Subtotal = LineSubtotal(lines[i].Quantity, lines[i].UnitPrice).Round(CurrencyPlaces)
		lines[i].UnitPrice = lines[i].UnitPrice.Round(CurrencyPlaces)
	}
	return ValidatedOrder{
		SupplierID:   header.SupplierID,
		PurchaseDate: dateOnly(header.PurchaseDate, today.Location()),
		Status:       status,
		Notes:        header.Notes,
		Lines:        lines,
		Total:        total.Round(CurrencyPlaces),
	}, nil
}

// dateOnly keeps the calendar date of t as written and places it in loc.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
