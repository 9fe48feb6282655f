package purchasing

import (
	"sync"
	"time"
)

// DefaultDismissGrace is how long a detail view stays open after a terminal
// transition.
const DefaultDismissGrace = 2 * time.Second

// Timer is the part of *time.Timer a DetailView needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DetailView tracks one open order detail and dismisses it once, a grace
// period after the order leaves Pending.
type DetailView struct {
	mu        sync.Mutex
	orderID   int64
	status    Status
	grace     time.Duration
	after     AfterFunc
	onDismiss func(orderID int64)
	onChange  func(PurchaseOrder)
	timer     Timer
	armed     bool
	dismissed bool
	closed    bool
	done      chan struct{}
}

// DetailOption customises a DetailView.
type DetailOption func(*DetailView)

// WithGrace overrides DefaultDismissGrace.
func WithGrace(grace time.Duration) DetailOption {
	return func(v *DetailView) {
		if grace >= 0 {
			v.grace = grace
		}
	}
}

// WithAfterFunc replaces the scheduler, mainly for tests.
func WithAfterFunc(after AfterFunc) DetailOption {
	return func(v *DetailView) {
		if after != nil {
			v.after = after
		}
	}
}

// WithChangeHook runs fn with the new state whenever an observed order
// changes status. fn must not block.
func WithChangeHook(fn func(PurchaseOrder)) DetailOption {
	return func(v *DetailView) {
		v.onChange = fn
	}
}

// NewDetailView opens a view on order. onDismiss runs at most once.
func NewDetailView(order PurchaseOrder, onDismiss func(orderID int64), opts ...DetailOption) *DetailView {
	v := &DetailView{
		orderID:   order.ID,
		status:    order.Status,
		grace:     DefaultDismissGrace,
		after:     stdAfterFunc,
		onDismiss: onDismiss,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// OrderID returns the id the view is bound to.
func (v *DetailView) OrderID() int64 { return v.orderID }

// Observe feeds the latest order state. It reports whether this call armed
// the dismiss timer, which only happens on a Pending to terminal transition.
func (v *DetailView) Observe(order PurchaseOrder) bool {
	v.mu.Lock()
	if order.ID != v.orderID || v.closed {
		v.mu.Unlock()
		return false
	}
	previous := v.status
	v.status = order.Status
	arm := !v.armed && previous.IsPending() && order.Status.IsTerminal()
	if arm {
		v.armed = true
	}
	hook := v.onChange
	v.mu.Unlock()

	// the hook sees the change before the dismiss timer can fire
	if hook != nil && previous != order.Status {
		hook(order)
	}
	if !arm {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.timer = v.after(v.grace, v.fire)
	}
	return true
}

// Armed reports whether the dismiss timer was started.
func (v *DetailView) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

// Dismissed reports whether onDismiss already ran.
func (v *DetailView) Dismissed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dismissed
}

// Done is closed once the view is dismissed or closed.
func (v *DetailView) Done() <-chan struct{} { return v.done }

// Close stops a pending timer. A closed view never dismisses.
func (v *DetailView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.finish()
	v.closed = true
}

func (v *DetailView) fire() {
	v.mu.Lock()
	if v.dismissed || v.closed {
		v.mu.Unlock()
		return
	}
	v.dismissed = true
	v.finish()
	cb := v.onDismiss
	v.mu.Unlock()
	if cb != nil {
		cb(v.orderID)
	}
}

// finish closes done once. Callers hold mu.
func (v *DetailView) finish() {
	select {
	case <-v.done:
	default:
		close(v.done)
	}
}
