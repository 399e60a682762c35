package core

import (
	"context"
	"io"

	"github.com/markdave123-py/doqmate/internal/models"
)

// VectorStore persists chunk embeddings in one collection per chatbot.
// It abstracts pgvector so higher layers never depend on a specific DB.
type VectorStore interface {
	// Upsert writes chunks with their embeddings; len(chunks) must equal len(embeddings).
	Upsert(ctx context.Context, chatbotID, documentID string, chunks []models.TextChunk, embeddings [][]float32) (int, error)
	// Search returns the topK nearest chunks with score = 1/(1+distance).
	// An empty userGroup disables group filtering.
	Search(ctx context.Context, chatbotID string, query []float32, userGroup string, topK int) ([]models.ScoredChunk, error)
	// FetchNeighbors returns the chunks of one document whose order index lies in [from, to].
	FetchNeighbors(ctx context.Context, chatbotID, documentID string, from, to int) ([]models.ScoredChunk, error)
	DeleteByDocument(ctx context.Context, chatbotID, documentID string) (int64, error)
}

// StatusRecorder keeps the pending/indexing/ready/failed state of documents.
type StatusRecorder interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, chatbotID, documentID string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, chatbotID, documentID string, status models.DocumentStatus, lastErr string) error
	DeleteDocument(ctx context.Context, chatbotID, documentID string) error
}

// ObjectClient defines interactions with S3 or any object storage.
// Keys are slash separated, e.g. "{documentId}/p1_img1.png".
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix and reports how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
}
