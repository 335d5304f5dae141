package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// RouteExport names the export route.
const RouteExport = "ExportRecords"

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHTTPHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts GET {prefix}/records/export.
func (h *Handler) Register(router *mux.Router, prefix string) {
	router.HandleFunc(prefix+"/records/export", h.handleExport).Methods(http.MethodGet).Name(RouteExport)
}

// GET /bulk-upload/records/export?format=xlsx|csv
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"statusCode": http.StatusBadRequest,
			"message":    err.Error(),
			"error":      http.StatusText(http.StatusBadRequest),
		})
		return
	}

	// rendered in memory so a failure can still become a JSON error
	var buf bytes.Buffer
	rows, err := h.service.Write(r.Context(), &buf, format)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return
		}
		h.logger.Error("export failed", "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"statusCode": http.StatusInternalServerError,
			"message":    "Internal server error",
			"error":      http.StatusText(http.StatusInternalServerError),
		})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.service.FileName(format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
