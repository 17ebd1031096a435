package httpserver

import (
	"context"
	"net/http"
	"time"

	"canonical_cutover/internal/db"
)

type HealthHandler struct {
	Store *db.Handle
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "canonical store unreachable")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Store:  h.Store.Name(),
	})
}
