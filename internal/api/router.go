package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/manager"
	"github.com/starford/dagaz/internal/metrics"
	"github.com/starford/dagaz/internal/source"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth
// group. metr may be nil.
func NewRouter(mgr *manager.Manager, states *source.MemoryStateStore, events StateEvents, metr *metrics.Metrics, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(mgr, states, events, metr)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Slot CRUD plus evaluated snapshots.
	r.Get("/slots", h.ListSlots)
	r.Put("/slots/{slotID}", h.UpsertSlot)
	r.Get("/slots/{slotID}", h.GetSlot)
	r.Get("/slots/{slotID}/evaluated", h.EvaluatedSlot)
	r.Delete("/slots/{slotID}", h.DeleteSlot)

	// Host state store.
	r.Get("/state", h.GetState)
	r.Get("/state/{key}", h.GetStateKey)
	r.Put("/state/{key}", h.PutStateKey)
	r.Delete("/state/{key}", h.DeleteStateKey)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
