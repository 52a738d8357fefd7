package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/registry"
)

const maxUploadBytes = 32 << 20

// Registrar registers uploaded files.
type Registrar interface {
	Register(ctx context.Context, req registry.RegisterRequest) (domain.TrackedFile, error)
}

// Submitter hands a registered file to the work queue and returns the job
// handle.
type Submitter interface {
	Submit(ctx context.Context, fileID uuid.UUID) (string, error)
}

// Handler exposes manual file upload as an HTTP endpoint.
type Handler struct {
	registrar Registrar
	submitter Submitter
}

// NewHTTPHandler accepts multipart uploads on POST, registers them and
// queues them for ingestion.
func NewHTTPHandler(registrar Registrar, submitter Submitter) http.Handler {
	return &Handler{registrar: registrar, submitter: submitter}
}

type uploadResponse struct {
	File  domain.TrackedFile `json:"file"`
	JobID string             `json:"job_id,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := filepath.Base(strings.TrimSpace(header.Filename))
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		http.Error(w, "only .csv files are accepted", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	tracked, err := h.registrar.Register(r.Context(), registry.RegisterRequest{Name: name, Data: data})
	if errors.Is(err, domain.ErrDuplicateContent) {
		writeJSON(w, http.StatusConflict, uploadResponse{File: tracked})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jobID, err := h.submitter.Submit(r.Context(), tracked.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("file registered as %s but not queued: %v", tracked.ID, err), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{File: tracked, JobID: jobID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
