package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Handler exposes transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.request)
	r.Get("/", h.list)
	r.Route("/{transferID}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Post("/approve", h.approve)
		r.Post("/reject", h.reject)
		r.Post("/ship", h.ship)
		r.Post("/receive", h.receive)
		r.Post("/complete", h.complete)
		r.Post("/cancel", h.cancel)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input RequestInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Request(r.Context(), input, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", httpx.Location("/api/v1/transfers", t.ID))
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status:   Status(r.URL.Query().Get("status")),
		BranchID: int64(httpx.QueryInt(r, "branch_id", 0)),
		Page:     shared.Page{Limit: httpx.QueryInt(r, "limit", 50), Offset: httpx.QueryInt(r, "offset", 0)},
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": list})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var input ApproveInput
	h.run(w, r, &input, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Approve(r.Context(), id, input, actor)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	h.run(w, r, &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Reject(r.Context(), id, req.Reason, actor)
	})
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Ship(r.Context(), id, actor)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var input ReceiveInput
	h.run(w, r, &input, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Receive(r.Context(), id, input, actor)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Complete(r.Context(), id, actor)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	h.run(w, r, &req, func(actor shared.Actor, id int64) (Transfer, error) {
		return h.service.Cancel(r.Context(), id, req.Reason, actor)
	})
}

// run resolves the actor and id, decodes body into dst when given, and writes
// the resulting transfer.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, dst any, fn func(shared.Actor, int64) (Transfer, error)) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if dst != nil {
		if err := httpx.DecodeJSON(r, dst); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	t, err := fn(actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.ErrorCode(err) == "" {
		h.logger.Error("transfer request failed",
			slog.String("path", r.URL.Path),
			slog.String("transfer_id", chi.URLParam(r, "transferID")),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
