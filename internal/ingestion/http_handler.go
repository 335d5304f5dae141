package ingestion

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Route names; the auth guard lets the public ones through without an API key.
const (
	RouteUpload      = "BulkUpload"
	RouteStats       = "GetStats"
	RouteListRecords = "ListRecords"
	RouteGetRecord   = "GetRecord"
	RouteClear       = "ClearRecords"
	RouteListLogs    = "ListIngestionLogs"
)

// PublicRoutes lists the routes that do not require an API key.
var PublicRoutes = []string{RouteStats, RouteListRecords}

// Handler exposes the ingestion service over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHTTPHandler wraps the service with the bulk-upload endpoints.
func NewHTTPHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the endpoints under prefix (e.g. "/bulk-upload").
func (h *Handler) Register(router *mux.Router, prefix string) {
	sub := router.PathPrefix(prefix).Subrouter()
	sub.HandleFunc("/upload", h.upload).Methods(http.MethodPost).Name(RouteUpload)
	sub.HandleFunc("/stats", h.stats).Methods(http.MethodGet).Name(RouteStats)
	sub.HandleFunc("/records", h.listRecords).Methods(http.MethodGet).Name(RouteListRecords)
	sub.HandleFunc("/records", h.clearRecords).Methods(http.MethodDelete).Name(RouteClear)
	sub.HandleFunc("/records/{id:[0-9a-fA-F-]+}", h.getRecord).Methods(http.MethodGet).Name(RouteGetRecord)
	sub.HandleFunc("/logs", h.listLogs).Methods(http.MethodGet).Name(RouteListLogs)
}

// POST /bulk-upload/upload?batchSize=N
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	opts := h.service.Options()

	if opts.MaxFileSize > 0 {
		// leave room for the multipart envelope; the service enforces the exact limit
		r.Body = http.MaxBytesReader(w, r.Body, opts.MaxFileSize+(1<<20))
	}

	upload := Upload{}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		upload.FileName = header.Filename
		upload.ContentType = header.Header.Get("Content-Type")
		upload.Size = header.Size
		upload.Body = file
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// upload.Body stays nil and the service reports the missing file
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, &PayloadTooLargeError{Limit: opts.MaxFileSize})
			return
		}
		writeErrorStatus(w, http.StatusBadRequest, "invalid form data: "+err.Error(), nil)
		return
	}

	batchSize := intQuery(r, "batchSize", opts.DefaultBatchSize)
	if batchSize < 1 {
		batchSize = opts.DefaultBatchSize
	}

	result, err := h.service.Ingest(r.Context(), upload, batchSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /bulk-upload/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /bulk-upload/records?limit=&offset=
func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	opts := h.service.Options()
	limit := intQuery(r, "limit", opts.DefaultLimit)
	offset := intQuery(r, "offset", opts.DefaultOffset)

	page, err := h.service.ListRecords(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /bulk-upload/records/{id}
func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	notFound := map[string]any{"success": false, "message": "Record not found"}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusOK, notFound)
		return
	}

	rec, ok, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, notFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "record": rec})
}

// DELETE /bulk-upload/records
func (h *Handler) clearRecords(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "All records cleared"})
}

// GET /bulk-upload/logs?file=&limit=&offset=
func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	opts := h.service.Options()
	limit := intQuery(r, "limit", opts.DefaultLimit)
	offset := intQuery(r, "offset", 0)

	entries, err := h.service.ListIngestionLogs(r.Context(), r.URL.Query().Get("file"), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// intQuery parses a query parameter, falling back to def when it is absent,
// unparseable or zero.
func intQuery(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v == 0 {
		return def
	}
	return v
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if status := writeError(w, err); status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
}

// writeError renders err with the status its kind maps to and returns that status.
func writeError(w http.ResponseWriter, err error) int {
	var (
		missing   *MissingFileError
		tooLarge  *PayloadTooLargeError
		mediaType *UnsupportedMediaTypeError
		tooMany   *TooManyRowsError
		empty     *EmptyUploadError
	)

	var (
		status = http.StatusInternalServerError
		extra  map[string]any
	)
	switch {
	case errors.As(err, &missing), errors.As(err, &empty), errors.Is(err, ErrInvalidCSV):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
		extra = map[string]any{"limit": tooLarge.Limit}
	case errors.As(err, &mediaType):
		status = http.StatusUnsupportedMediaType
		extra = map[string]any{"allowedTypes": mediaType.Allowed}
	case errors.As(err, &tooMany):
		status = http.StatusRequestEntityTooLarge
		extra = map[string]any{"limit": tooMany.Limit}
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	writeErrorStatus(w, status, message, extra)
	return status
}

func writeErrorStatus(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{
		"statusCode": status,
		"message":    message,
		"error":      http.StatusText(status),
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
