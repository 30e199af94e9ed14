package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/infrastructure/postgres"
)

// Archive reads back archived predictions
type Archive interface {
	Get(ctx context.Context, predictionID string) (*demo.ServedPrediction, error)
	Recent(ctx context.Context, limit int) ([]postgres.Summary, error)
}

// ArchiveHandler serves the prediction archive
type ArchiveHandler struct {
	archive Archive
	logger  *zap.Logger
}

// NewArchiveHandler creates a new archive handler
func NewArchiveHandler(archive Archive, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{archive: archive, logger: logger}
}

// Routes returns the archive routes
func (h *ArchiveHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{predictionID}", h.Get)
	return r
}

// List handles GET /archive?limit=N
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeDetail(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.archive.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list archive failed", zap.Error(err))
		writeDetail(w, "failed to list archived predictions", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []postgres.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": items})
}

// Get handles GET /archive/{predictionID}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "predictionID")

	p, err := h.archive.Get(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		writeDetail(w, "prediction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("load archived prediction failed", zap.String("prediction_id", id), zap.Error(err))
		writeDetail(w, "failed to load archived prediction", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"detail": message})
}
