package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/domain"
)

// Submitter queues a tracked file for another ingestion attempt.
type Submitter interface {
	Submit(ctx context.Context, fileID uuid.UUID) (string, error)
}

type Handler struct {
	service   *Service
	submitter Submitter
	mux       *http.ServeMux
}

// NewHTTPHandler routes the read API. upload, when set, receives
// POST /api/files.
func NewHTTPHandler(service *Service, submitter Submitter, upload http.Handler) http.Handler {
	h := &Handler{service: service, submitter: submitter, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /api/observations", h.handleListObservations)
	h.mux.HandleFunc("GET /api/observations/latest", h.handleLatest)
	h.mux.HandleFunc("GET /api/observations/export.csv", h.handleExport)
	h.mux.HandleFunc("GET /api/files", h.handleListFiles)
	h.mux.HandleFunc("GET /api/files/{id}", h.handleGetFile)
	h.mux.HandleFunc("GET /api/files/{id}/download", h.handleDownload)
	h.mux.HandleFunc("GET /api/files/{id}/logs", h.handleListLogs)
	h.mux.HandleFunc("POST /api/files/{id}/reprocess", h.handleReprocess)
	if upload != nil {
		h.mux.Handle("POST /api/files", upload)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func (h *Handler) handleListObservations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records, total, err := h.service.Observations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.ObservationRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ObservationRecord]{Items: records, Total: int(total)})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.ObservationRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ObservationRecord]{Items: records, Total: len(records)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="observations.csv"`)
	if _, err := h.service.WriteCSV(r.Context(), w, filter); err != nil {
		// Headers are gone once rows were flushed; the truncated body is all we can signal.
		h.service.log.Error("observation export failed", "error", err)
	}
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r, 50)
	if !ok {
		return
	}
	files, total, err := h.service.Files(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []domain.TrackedFile{}
	}
	writeJSON(w, http.StatusOK, listResponse[domain.TrackedFile]{Items: files, Total: total})
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.File(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	file, rc, err := h.service.OpenFile(r.Context(), id, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	if _, err := io.Copy(w, rc); err != nil {
		h.service.log.Warn("file download interrupted", "file_id", id, "error", err)
	}
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r, 200)
	if !ok {
		return
	}
	logs, total, err := h.service.Logs(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.IngestionLogEntry]{Items: logs, Total: total})
}

func pagination(w http.ResponseWriter, r *http.Request, defaultLimit int) (int, int, bool) {
	query := r.URL.Query()
	limit := defaultLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return 0, 0, false
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

type reprocessResponse struct {
	FileID uuid.UUID `json:"file_id"`
	JobID  string    `json:"job_id"`
}

func (h *Handler) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	file, err := h.service.files.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if file.Processed {
		http.Error(w, fmt.Sprintf("file %s is already loaded", id), http.StatusConflict)
		return
	}
	if h.submitter == nil {
		http.Error(w, "reprocessing is not available", http.StatusServiceUnavailable)
		return
	}
	jobID, err := h.submitter.Submit(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to queue file: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, reprocessResponse{FileID: id, JobID: jobID})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid file identifier: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (domain.ObservationFilter, error) {
	query := r.URL.Query()
	filter := domain.ObservationFilter{
		CountryRegion: strings.TrimSpace(query.Get("country")),
		ProvinceState: strings.TrimSpace(query.Get("province")),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := parseTime(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from: %w", err)
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := parseTime(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to: %w", err)
		}
		if isDateOnly(raw) {
			// A bare date includes the whole day.
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, errors.New("from must be before to")
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return filter, errors.New("offset must be zero or positive")
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func isDateOnly(raw string) bool {
	_, err := time.Parse(time.DateOnly, raw)
	return err == nil
}

func parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrIO):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
