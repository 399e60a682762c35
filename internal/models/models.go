package models

import (
	"time"
)

// DocumentStatus is the indexing state of a document as seen by its owner.
type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusIndexing DocumentStatus = "indexing"
	StatusReady    DocumentStatus = "ready"
	StatusFailed   DocumentStatus = "failed"
)

// Document is the status row kept for an uploaded manual.
type Document struct {
	ID        string         `db:"document_id" json:"document_id"`
	ChatbotID string         `db:"chatbot_id" json:"chatbot_id"`
	FileName  string         `db:"file_name" json:"file_name"`
	Status    DocumentStatus `db:"status" json:"status"`
	LastError string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// IndexRequest is the input of ProcessDocument.
type IndexRequest struct {
	ChatbotID     string   `json:"chatbot_id"`
	DocumentID    string   `json:"document_id"`
	PDFPath       string   `json:"pdf_path"`
	FileName      string   `json:"filename"`
	UserGroupTags []string `json:"user_group_tags,omitempty"`
	Debug         bool     `json:"debug"`
}

// IngestSummary reports what one ingestion run produced.
type IngestSummary struct {
	ChatbotID     string  `json:"chatbot_id"`
	DocumentID    string  `json:"document_id"`
	Pages         int     `json:"pages"`
	NativeBlocks  int     `json:"native_blocks"`
	ImageBlocks   int     `json:"image_blocks"`
	OCRBlocks     int     `json:"ocr_blocks"`
	CleanedBlocks int     `json:"cleaned_blocks"`
	FallbackPages []int   `json:"fallback_pages"`
	Chunks        int     `json:"chunks"`
	Upserted      int     `json:"upserted"`
	ElapsedMs     float64 `json:"elapsed_ms"`
}

// DeleteSummary is returned by DeleteDocument.
type DeleteSummary struct {
	ChatbotID      string `json:"chatbot_id"`
	DocumentID     string `json:"document_id"`
	DeletedVectors int64  `json:"deleted_vectors"`
	DeletedImages  int    `json:"deleted_images"`
}
