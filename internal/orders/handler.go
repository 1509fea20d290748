package orders

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Shared secret headers of the webhook routes.
const (
	CarrierTokenHeader = "X-Carrier-Token"
	PaymentTokenHeader = "X-Payment-Token"
)

// Handler exposes order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers actor-authenticated order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Get("/status", h.status)
		r.Post("/status", h.updateStatus)
		r.Post("/branch", h.assignBranch)
		r.Post("/cancel", h.cancel)
		r.Post("/payment", h.payment)
	})
}

// MountWebhooks registers routes authenticated by shared secret instead of actor.
func (h *Handler) MountWebhooks(r chi.Router) {
	r.Post("/carrier", h.carrierWebhook)
	r.Post("/payment", h.paymentWebhook)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input CreateOrderInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.CreateOrder(r.Context(), input, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", httpx.Location("/api/v1/orders", order.ID))
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		BranchID:   int64(httpx.QueryInt(r, "branch_id", 0)),
		CustomerID: int64(httpx.QueryInt(r, "customer_id", 0)),
		Page:       shared.Page{Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)},
	}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = status
	}
	orders, err := h.service.ListOrders(r.Context(), filter, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetOrderStatus(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type statusRequest struct {
	Status string `json:"status"`
	StatusExtras
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.UpdateStatus(r.Context(), id, req.Status, actor, req.StatusExtras)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) assignBranch(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		BranchID int64 `json:"branch_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.BranchID <= 0 {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "INVALID_ID", "branch_id is required"))
		return
	}
	order, err := h.service.AssignBranch(r.Context(), id, req.BranchID, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.CancelOrder(r.Context(), id, actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var res PaymentResult
	if err := httpx.DecodeJSON(r, &res); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res.OrderID = id
	order, duplicate, err := h.service.ApplyPaymentResult(r.Context(), res, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": order, "duplicate": duplicate})
}

func (h *Handler) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	var evt CarrierEvent
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.HandleCarrierWebhook(r.Context(), r.Header.Get(CarrierTokenHeader), evt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var res PaymentResult
	if err := httpx.DecodeJSON(r, &res); err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, duplicate, err := h.service.HandlePaymentCallback(r.Context(), r.Header.Get(PaymentTokenHeader), res)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": order.ID, "status": order.Status, "duplicate": duplicate})
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	id, err := httpx.IDParam(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.ErrorCode(err) == "" {
		h.logger.Error("order request failed",
			slog.String("path", r.URL.Path),
			slog.String("order_id", chi.URLParam(r, "orderID")),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
