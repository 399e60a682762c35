package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/doqmate/internal/core/query"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type QueryService interface {
	Progress(ctx context.Context, req query.Request) (*models.QueryResult, error)
}

type QueryHandler struct {
	queries QueryService
	log     *slog.Logger
}

func NewQueryHandler(queries QueryService, log *slog.Logger) *QueryHandler {
	return &QueryHandler{queries: queries, log: logger.Or(log)}
}

type QueryRequest struct {
	Question  string `json:"question"`
	UserGroup string `json:"user_group"`
	TopK      int    `json:"top_k"`
	Debug     bool   `json:"debug"`
}

// Query answers a question against the chatbot's documents. Model and
// retrieval failures still produce a 200 with a degraded answer.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	res, err := h.queries.Progress(r.Context(), query.Request{
		ChatbotID: chatbotID,
		Question:  req.Question,
		UserGroup: req.UserGroup,
		TopK:      req.TopK,
		Debug:     req.Debug,
	})
	if errors.Is(err, query.ErrEmptyQuestion) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error("query failed", "chatbot_id", chatbotID, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
