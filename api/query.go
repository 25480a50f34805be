package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/query"
)

// QueryProcessor answers one question.
type QueryProcessor interface {
	Process(ctx context.Context, req query.Request) (query.Response, error)
}

// QueryRequest is the JSON body of a query call. Timestamp is accepted for
// client bookkeeping and currently unused.
type QueryRequest struct {
	Message   string `json:"message"`
	TenantID  string `json:"tenant_id"`
	AgentID   string `json:"agent_id"`
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"timestamp,omitempty"`
}

// QueryResponse is the JSON answer.
type QueryResponse struct {
	Answer     string `json:"answer"`
	Collection string `json:"collection,omitempty"`
	Matches    int    `json:"matches"`
}

// QueryHandler answers questions over HTTP.
type QueryHandler struct {
	service QueryProcessor
	logger  log.Logger
}

// NewQueryHandler creates the query handler. logger may be nil.
func NewQueryHandler(service QueryProcessor, logger log.Logger) *QueryHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &QueryHandler{service: service, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/query", h.handle)
}

func (h *QueryHandler) handle(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}

	resp, err := h.service.Process(r.Context(), query.Request{
		TenantID:  body.TenantID,
		AgentID:   body.AgentID,
		ChannelID: body.ChannelID,
		Query:     body.Message,
	})
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
		// Pipeline details stay in the logs; the client gets a generic
		// failure.
		h.logger.Error("query failed",
			"client_id", body.TenantID, "agent_id", body.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed", "")
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:     resp.Answer,
		Collection: resp.Collection,
		Matches:    resp.Matches,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, query.ErrMissingTenant) ||
		errors.Is(err, query.ErrMissingAgent) ||
		errors.Is(err, query.ErrMissingQuery)
}
