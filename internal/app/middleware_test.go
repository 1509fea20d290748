package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

func TestActorMiddleware(t *testing.T) {
	var got *shared.Actor
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := shared.ActorFromContext(r.Context()); ok {
			got = &actor
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(headers map[string]string) int {
		got = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call(nil))
	assert.Nil(t, got)

	assert.Equal(t, http.StatusNoContent, call(map[string]string{ActorIDHeader: "21", ActorRoleHeader: "staff", ActorBranchHeader: "3"}))
	require.NotNil(t, got)
	assert.Equal(t, shared.Actor{ID: 21, Role: shared.RoleStaff, BranchID: 3}, *got)

	assert.Equal(t, http.StatusNoContent, call(map[string]string{ActorIDHeader: "9", ActorRoleHeader: "MANAGER"}))
	require.NotNil(t, got)
	assert.Zero(t, got.BranchID)

	for name, headers := range map[string]map[string]string{
		"bad id":     {ActorIDHeader: "abc", ActorRoleHeader: "STAFF"},
		"zero id":    {ActorIDHeader: "0", ActorRoleHeader: "STAFF"},
		"no role":    {ActorIDHeader: "5"},
		"unknown":    {ActorIDHeader: "5", ActorRoleHeader: "JANITOR"},
		"bad branch": {ActorIDHeader: "5", ActorRoleHeader: "STAFF", ActorBranchHeader: "x"},
	} {
		assert.Equal(t, http.StatusUnauthorized, call(headers), name)
		assert.Nil(t, got, name)
	}
}

func TestRouterServesHealthAndReadiness(t *testing.T) {
	ready := error(nil)
	router := NewRouter(RouterParams{
		Logger: discardLogger(),
		Config: &Config{AppEnv: "test"},
		Ready:  func(*http.Request) error { return ready },
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	ready = assert.AnError
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get("/api/v1/orders").Code)
}
