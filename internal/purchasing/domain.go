package purchasing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a purchase order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus maps a backend status string onto Status. Values outside the
// closed vocabulary are kept verbatim so they can still be displayed, but
// they never report IsKnown or IsPending.
func ParseStatus(raw string) Status {
	return Status(strings.TrimSpace(raw))
}

// IsKnown reports whether s belongs to the closed status vocabulary.
func (s Status) IsKnown() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsPending reports whether the order may still be mutated.
func (s Status) IsPending() bool {
	return s == StatusPending
}

// IsTerminal reports whether the order reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Editable reports whether header and lines may be replaced.
func (s Status) Editable() bool { return s.IsPending() }

// Deletable reports whether the order may be deleted.
func (s Status) Deletable() bool { return s.IsPending() }

// CanTransitionTo checks the state table.
func (s Status) CanTransitionTo(target Status) bool {
	if s != StatusPending {
		return false
	}
	return target == StatusCompleted || target == StatusCancelled
}

// Transitions lists the statuses reachable from s.
func (s Status) Transitions() []Status {
	if s != StatusPending {
		return nil
	}
	return []Status{StatusCompleted, StatusCancelled}
}

func (s Status) String() string {
	return string(s)
}

// Line is a persisted purchase line.
type Line struct {
	ProductID   int64
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// PurchaseOrder is the locally cached copy of a backend purchase record.
type PurchaseOrder struct {
	ID           int64
	SupplierID   int64
	SupplierName string
	PurchaseDate time.Time
	Status       Status
	Notes        string
	Lines        []Line
	TotalAmount  decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Temporary reports whether the id was assigned locally and still awaits
// reconciliation with the backend.
func (o PurchaseOrder) Temporary() bool {
	return o.ID < 0
}

func (o PurchaseOrder) clone() PurchaseOrder {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}

// Validation messages surfaced to callers.
const (
	MsgProductRequired  = "at least one product required"
	MsgDuplicateProduct = "duplicate product in order"
	MsgTotalNotPositive = "total must exceed zero"
	MsgQuantityInvalid  = "quantity must be at least 1"
	MsgSupplierRequired = "supplier is required"
	MsgSupplierInactive = "supplier is not active"
	MsgDateRequired     = "purchase date is required"
	MsgDateInFuture     = "purchase date cannot be in the future"
	MsgStatusUnknown    = "unknown status"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("purchasing: validation failed")
	// ErrPrecondition reports an action attempted outside the Pending state.
	ErrPrecondition = errors.New("purchasing: order is not pending")
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("purchasing: order not found")
)

// ValidationError collects the messages of a rejected submission.
type ValidationError struct {
	Messages []string
}

// NewValidationError builds a ValidationError from messages.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: append([]string(nil), messages...)}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return "purchasing: " + strings.Join(e.Messages, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Has reports whether msg is among the collected messages.
func (e *ValidationError) Has(msg string) bool {
	if e == nil {
		return false
	}
	for _, m := range e.Messages {
		if m == msg {
			return true
		}
	}
	return false
}

func preconditionError(action string, order PurchaseOrder) error {
	return fmt.Errorf("%w: cannot %s order %d in status %q", ErrPrecondition, action, order.ID, order.Status)
}
