package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tomibot/ragserver/internal/ingest"
	"github.com/tomibot/ragserver/internal/log"
)

// Uploader stores raw upload bytes and returns the object key.
type Uploader interface {
	Save(ctx context.Context, tenantID, agentID, fileName string, data []byte) (string, error)
}

// Submitter enqueues ingestion requests.
type Submitter interface {
	Submit(req ingest.Request) error
}

// Tenant and agent ids end up in object keys and collection names, so the
// charset is restricted up front.
var idRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// UploadResponse acknowledges an accepted ingestion request. Ingestion
// itself runs asynchronously. ObjectKey is null for prompt-only uploads.
type UploadResponse struct {
	Message   string  `json:"message"`
	ObjectKey *string `json:"object_key"`
}

// DocumentHandler accepts documents and prompt updates for ingestion.
type DocumentHandler struct {
	blobs    Uploader
	queue    Submitter
	maxBytes int64
	token    string
	logger   log.Logger
}

// NewDocumentHandler creates the upload handler. token is the shared
// upload token; empty disables the check. logger may be nil.
func NewDocumentHandler(blobs Uploader, queue Submitter, maxBytes int64, token string, logger log.Logger) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &DocumentHandler{
		blobs:    blobs,
		queue:    queue,
		maxBytes: maxBytes,
		token:    token,
		logger:   logger,
	}
}

// RegisterRoutes registers document routes on the given mux.
func (h *DocumentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.upload)
}

// upload handles a multipart request carrying a document, a prompt, or
// both. The work is queued; the response only acknowledges acceptance.
func (h *DocumentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	if h.token != "" && r.FormValue("token_auth") != h.token {
		writeError(w, http.StatusUnauthorized, "invalid upload token", "")
		return
	}

	tenantID := r.FormValue("tenant_id")
	agentID := r.FormValue("agent_id")
	if !idRe.MatchString(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid tenant_id", "")
		return
	}
	if !idRe.MatchString(agentID) {
		writeError(w, http.StatusBadRequest, "invalid agent_id", "")
		return
	}

	// A prompt that is blank after trimming counts as absent.
	prompt, hasPrompt := formField(r, "prompt")
	if hasPrompt && strings.TrimSpace(prompt) == "" {
		hasPrompt = false
	}

	data, fileName, hasFile, err := h.readFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading file", err.Error())
		return
	}
	if !hasFile && !hasPrompt {
		writeError(w, http.StatusBadRequest, "nothing to ingest", "provide a file, a prompt, or both")
		return
	}

	req := ingest.Request{
		TenantID:     tenantID,
		AgentID:      agentID,
		Prompt:       prompt,
		UpdatePrompt: hasPrompt,
	}

	if hasFile {
		key, err := h.blobs.Save(r.Context(), tenantID, agentID, fileName, data)
		if err != nil {
			h.logger.Error("storing upload failed",
				"client_id", tenantID, "agent_id", agentID, "error", err)
			writeError(w, http.StatusInternalServerError, "storing upload failed", "")
			return
		}
		req.ObjectKey = key
		req.FileName = fileName
	}

	if err := h.queue.Submit(req); err != nil {
		if errors.Is(err, ingest.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "ingestion queue is full", "retry later")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	resp := UploadResponse{Message: "accepted for ingestion"}
	if req.ObjectKey != "" {
		resp.ObjectKey = &req.ObjectKey
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// readFile pulls the uploaded file out of the form. A missing file part
// is not an error; prompt-only requests are valid.
func (h *DocumentHandler) readFile(r *http.Request) (data []byte, fileName string, ok bool, err error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", false, err
	}

	fileName = r.FormValue("file_name")
	if fileName == "" {
		fileName = header.Filename
	}
	return data, fileName, true, nil
}

// formField returns the field value and whether the field was present at
// all, distinguishing an absent prompt from an empty one.
func formField(r *http.Request, name string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	values, ok := r.MultipartForm.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}
