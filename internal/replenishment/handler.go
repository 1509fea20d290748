package replenishment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// TriggerFunc runs a snapshot on demand.
type TriggerFunc func(ctx context.Context, trigger Trigger) (Snapshot, error)

// Handler exposes snapshot endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	run     TriggerFunc
}

// NewHandler constructs Handler. run is usually Scheduler.RunNow so manual
// runs share the in-progress guard with scheduled ones.
func NewHandler(logger *slog.Logger, service *Service, run TriggerFunc) *Handler {
	if run == nil {
		run = service.RunSnapshot
	}
	return &Handler{logger: logger, service: service, run: run}
}

// MountRoutes registers replenishment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/snapshots", h.runSnapshot)
	r.Get("/snapshots/latest", h.latest)
	r.Get("/snapshots/{date}", h.byDate)
}

func (h *Handler) runSnapshot(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !actor.Role.IsElevated() && actor.Role != shared.RoleSystem {
		httpx.RespondError(w, ErrNotPermitted)
		return
	}
	snap, err := h.run(r.Context(), TriggerManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.LatestSnapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) byDate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.SnapshotFor(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.ErrorCode(err) == "" {
		h.logger.Error("replenishment request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
