package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Store is the persistence port used by Service.
type Store interface {
	Get(ctx context.Context, sku string) (Variant, error)
	Upsert(ctx context.Context, v Variant) (Variant, error)
}

// Service maintains catalog variants.
type Service struct {
	store Store
}

// NewService builds Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a variant.
func (s *Service) Get(ctx context.Context, sku string) (Variant, error) {
	return s.store.Get(ctx, strings.TrimSpace(sku))
}

// Save validates and stores a variant.
func (s *Service) Save(ctx context.Context, v Variant, actor shared.Actor) (Variant, error) {
	if !actor.Role.IsElevated() {
		return Variant{}, shared.NewError(shared.ErrForbidden, "ROLE_NOT_PERMITTED", "only managers may edit the catalog")
	}
	v.SKU = strings.TrimSpace(v.SKU)
	if err := shared.ValidateStruct(v); err != nil {
		return Variant{}, err
	}
	if v.Price.IsNegative() {
		return Variant{}, ErrInvalidPrice
	}
	return s.store.Upsert(ctx, v)
}

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{sku}", h.show)
	r.Put("/{sku}", h.save)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Get(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.RequireActor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var v Variant
	if err := httpx.DecodeJSON(r, &v); err != nil {
		httpx.RespondError(w, err)
		return
	}
	v.SKU = chi.URLParam(r, "sku")
	saved, err := h.service.Save(r.Context(), v, actor)
	if err != nil {
		if shared.ErrorCode(err) == "" {
			h.logger.Error("save variant", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
