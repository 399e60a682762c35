package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

var ErrNotPDF = errors.New("file is not a PDF")

// pdfMagic opens every PDF file.
var pdfMagic = []byte("%PDF-")

// Deleter retires an indexed document.
type Deleter interface {
	DeleteDocument(ctx context.Context, chatbotID, documentID string) (*models.DeleteSummary, error)
}

// DocumentService stores uploaded manuals and hands them to indexing.
type DocumentService struct {
	status    core.StatusRecorder
	scheduler ingestion_engine.IndexScheduler
	deleter   Deleter
	uploadDir string
	log       *slog.Logger
}

func NewDocumentService(status core.StatusRecorder, scheduler ingestion_engine.IndexScheduler, deleter Deleter, uploadDir string, log *slog.Logger) *DocumentService {
	return &DocumentService{
		status:    status,
		scheduler: scheduler,
		deleter:   deleter,
		uploadDir: uploadDir,
		log:       logger.Or(log),
	}
}

// Upload saves the PDF, records it as pending and schedules indexing. The
// call returns once the document is queued.
func (s *DocumentService) Upload(ctx context.Context, chatbotID, filename string, r io.Reader, tags []string, debug bool) (*models.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, ErrNotPDF
	}

	docID := uuid.NewString()
	pdfPath := s.pdfPath(chatbotID, docID)
	if err := os.MkdirAll(filepath.Dir(pdfPath), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	doc := &models.Document{
		ID:        docID,
		ChatbotID: chatbotID,
		FileName:  cleanFilename(filename),
		Status:    models.StatusPending,
	}
	if err := s.status.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(pdfPath)
		return nil, fmt.Errorf("record document: %w", err)
	}

	err = s.scheduler.Schedule(ctx, models.IndexRequest{
		ChatbotID:     chatbotID,
		DocumentID:    docID,
		PDFPath:       pdfPath,
		FileName:      doc.FileName,
		UserGroupTags: tags,
		Debug:         debug,
	})
	if err != nil {
		_ = s.status.UpdateDocumentStatus(ctx, chatbotID, docID, models.StatusFailed, err.Error())
		return nil, fmt.Errorf("schedule indexing: %w", err)
	}

	s.log.Info("document uploaded", "chatbot_id", chatbotID, "document_id", docID, "filename", doc.FileName, "bytes", len(data))
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, chatbotID, documentID string) (*models.Document, error) {
	return s.status.GetDocument(ctx, chatbotID, documentID)
}

// Delete removes the document from the index and drops the uploaded file.
func (s *DocumentService) Delete(ctx context.Context, chatbotID, documentID string) (*models.DeleteSummary, error) {
	sum, err := s.deleter.DeleteDocument(ctx, chatbotID, documentID)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(s.pdfPath(chatbotID, documentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove uploaded pdf", "chatbot_id", chatbotID, "document_id", documentID, "error", err)
	}
	return sum, nil
}

func (s *DocumentService) pdfPath(chatbotID, documentID string) string {
	return filepath.Join(s.uploadDir, filepath.Base(chatbotID), filepath.Base(documentID)+".pdf")
}

// cleanFilename strips any path components and replaces spaces.
func cleanFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return "document.pdf"
	}
	return strings.ReplaceAll(name, " ", "_")
}
