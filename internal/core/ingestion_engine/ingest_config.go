package ingestion_engine

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/chunker"
	"github.com/markdave123-py/doqmate/internal/core/refine"
	"github.com/markdave123-py/doqmate/internal/models"
)

// IngestConfig tunes the pipeline and the in-process worker pool.
//
// EmbedBatchSize: chunks sent per embedding request.
// Workers:        number of index workers started by Start.
// QueueSize:      capacity of the jobs channel.
type IngestConfig struct {
	EmbedBatchSize int
	Workers        int
	QueueSize      int
}

var DefaultIngestConfig = IngestConfig{EmbedBatchSize: 16, Workers: 2, QueueSize: 64}

type PDFExtractor interface {
	Extract(ctx context.Context, pdfPath, documentID string) (*models.Extraction, error)
}

type PageMasker interface {
	Mask(ctx context.Context, pdfPath string, ext *models.Extraction) ([]models.MaskedPage, error)
}

type TextRecognizer interface {
	Run(ctx context.Context, pages []models.MaskedPage) []models.TextBlock
}

type BlockCleaner interface {
	CleanBlocks(ctx context.Context, blocks []models.TextBlock) ([]models.TextBlock, int)
}

type PageMerger interface {
	Merge(ctx context.Context, native, ocr []models.TextBlock) ([]models.MergedTextBlock, refine.MergeReport)
}

// Stages are the steps of processDocument. Masker and OCR may be nil, in
// which case only the text layer is indexed. A nil Cleaner passes OCR text
// through unchanged.
type Stages struct {
	Extractor PDFExtractor
	Masker    PageMasker
	OCR       TextRecognizer
	Cleaner   BlockCleaner
	Merger    PageMerger
	Chunker   *chunker.Chunker
}

// DocumentIngestor runs the ingestion pipeline and owns the in-process
// worker pool:
//
// stages:   extraction, OCR and refinement steps.
// embedder: embedding provider for chunk text.
// store:    per-chatbot vector collections.
// status:   pending/indexing/ready/failed rows.
// objects:  saved page images, removed on delete.
// jobs:     bounded queue of index requests.
// owners:   documents queued, running or being deleted.
type DocumentIngestor struct {
	stages   Stages
	embedder core.EmbeddingProvider
	store    core.VectorStore
	status   core.StatusRecorder
	objects  core.ObjectClient
	cfg      IngestConfig
	log      *slog.Logger

	jobs    chan models.IndexRequest
	workers errgroup.Group

	mu     sync.Mutex
	owners map[string]struct{}
}
