package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches/{branchID}/records", h.listBranch)
	r.Get("/branches/{branchID}/records/{sku}", h.getRecord)
	r.Get("/movements", h.listMovements)
	r.Post("/adjustments", h.adjust)
	r.Put("/bins", h.setBin)
}

func (h *Handler) listBranch(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.ListBranch(r.Context(), branchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.GetRecord(r.Context(), branchID, chi.URLParam(r, "sku"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		SKU:  q.Get("sku"),
		Kind: MovementKind(q.Get("kind")),
		Page: shared.Page{Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)},
	}
	filter.BranchID = int64(httpx.QueryInt(r, "branch_id", 0))
	if since := q.Get("since"); since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = ts
		}
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input AdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Adjust(r.Context(), input, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) setBin(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input BinInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetBinStock(r.Context(), input, actor); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.ErrorCode(err) == "" {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
