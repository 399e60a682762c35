package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
	"github.com/markdave123-py/doqmate/internal/services"
)

// MaxUploadBytes caps a single PDF upload.
const MaxUploadBytes = 64 << 20

type DocumentService interface {
	Upload(ctx context.Context, chatbotID, filename string, r io.Reader, tags []string, debug bool) (*models.Document, error)
	Get(ctx context.Context, chatbotID, documentID string) (*models.Document, error)
	Delete(ctx context.Context, chatbotID, documentID string) (*models.DeleteSummary, error)
}

type DocumentHandler struct {
	docs DocumentService
	log  *slog.Logger
}

func NewDocumentHandler(docs DocumentService, log *slog.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, log: logger.Or(log)}
}

// UploadDocument stores the PDF and schedules indexing. It answers 202 with
// the pending document; progress is visible through GetDocument.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	debug, _ := strconv.ParseBool(r.FormValue("debug"))
	doc, err := h.docs.Upload(r.Context(), chatbotID, header.Filename, file, splitTags(r.FormValue("user_group_tags")), debug)
	switch {
	case errors.Is(err, services.ErrNotPDF):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, ingestion_engine.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("upload failed", "chatbot_id", chatbotID, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	chatbotID, documentID := chi.URLParam(r, "chatbotID"), chi.URLParam(r, "documentID")
	doc, err := h.docs.Get(r.Context(), chatbotID, documentID)
	if err != nil {
		h.log.Error("document lookup failed", "chatbot_id", chatbotID, "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "document lookup failed")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	chatbotID, documentID := chi.URLParam(r, "chatbotID"), chi.URLParam(r, "documentID")
	sum, err := h.docs.Delete(r.Context(), chatbotID, documentID)
	if errors.Is(err, ingestion_engine.ErrDocumentBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error("delete failed", "chatbot_id", chatbotID, "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
