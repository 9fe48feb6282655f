package console

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/purchasing/internal/gateway"
	"github.com/odyssey-erp/purchasing/internal/platform/httpx"
	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

// respondError translates domain and transport failures into problem
// responses. Backend rejections keep the backend's message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *purchasing.ValidationError
	var terr *gateway.TransportError
	switch {
	case errors.As(err, &verr):
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Validation Failed", verr.Error(), verr.Messages)
	case errors.Is(err, ErrDraftNotFound), errors.Is(err, purchasing.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, purchasing.ErrPrecondition):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	case errors.As(err, &terr) && terr.Rejected():
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Rejected", terr.Message, []string{terr.Message})
	case errors.As(err, &terr):
		h.logger.Error("backend failure", slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUpstream, err))
	case errors.Is(err, httpx.ErrBadRequest), errors.Is(err, httpx.ErrNotFound), errors.Is(err, httpx.ErrUpstream):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("console request failed", slog.String("path", r.URL.Path), slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
