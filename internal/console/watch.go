package console

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

// Server-sent event names on the watch stream.
const (
	eventSnapshot = "snapshot"
	eventStatus   = "status"
	eventDismiss  = "dismiss"
)

const watchHeartbeat = 15 * time.Second

type dismissEvent struct {
	OrderID int64 `json:"order_id"`
}

// watchPurchase streams one purchase to an open detail view. The first event
// is the current state; a pending order then gets a status event for every
// transition and a dismiss event once the grace period after a terminal
// status has passed. Orders that are already terminal end the stream right
// after the snapshot.
func (h *Handler) watchPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	order, err := h.manager.Current(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seq := 0
	send := func(event string, payload any) bool {
		seq++
		if err := writeEvent(w, event, seq, payload); err != nil {
			h.logger.Debug("watch stream closed", slog.Int64("order_id", id), slog.Any("error", err))
			return false
		}
		return rc.Flush() == nil
	}

	if !send(eventSnapshot, newOrderResponse(order)) || !order.Status.IsPending() {
		return
	}

	changes := make(chan purchasing.PurchaseOrder, 4)
	view := h.manager.OpenDetail(order, nil,
		purchasing.WithGrace(h.grace),
		purchasing.WithChangeHook(func(changed purchasing.PurchaseOrder) {
			select {
			case changes <- changed:
			default:
			}
		}))
	defer h.manager.CloseDetail(view)

	// catches a transition or delete that landed before the view was registered
	latest, err := h.manager.Current(r.Context(), id)
	if err != nil {
		h.logger.Debug("watch stream closed", slog.Int64("order_id", id), slog.Any("error", err))
		return
	}
	view.Observe(latest)

	heartbeat := time.NewTicker(watchHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case changed := <-changes:
			if !send(eventStatus, newOrderResponse(changed)) {
				return
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		case <-view.Done():
			for drained := false; !drained; {
				select {
				case changed := <-changes:
					if !send(eventStatus, newOrderResponse(changed)) {
						return
					}
				default:
					drained = true
				}
			}
			if view.Dismissed() {
				send(eventDismiss, dismissEvent{OrderID: id})
			}
			return
		}
	}
}

func writeEvent(w io.Writer, event string, id int, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}
