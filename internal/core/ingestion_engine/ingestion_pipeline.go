package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/doqmate/internal/core/chunker"
	"github.com/markdave123-py/doqmate/internal/models"
	"github.com/markdave123-py/doqmate/internal/telemetry"
)

// ProcessDocument indexes one PDF: extract → mask → OCR → cleanup → merge →
// chunk → embed → upsert. Page, OCR and refinement failures are absorbed by
// their stages; embedding and vector store failures abort the document.
func (i *DocumentIngestor) ProcessDocument(ctx context.Context, req models.IndexRequest) (*models.IngestSummary, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.process_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatbot_id", req.ChatbotID),
		attribute.String("document_id", req.DocumentID),
	)
	log := i.log.With("chatbot_id", req.ChatbotID, "document_id", req.DocumentID)
	log.Info("ingestion started", "pdf_path", req.PDFPath, "filename", req.FileName)

	ext, err := i.extract(ctx, req)
	if err != nil {
		return nil, err
	}
	ocrBlocks := i.recognize(ctx, req, ext, log)
	cleaned, changed := i.clean(ctx, ocrBlocks)
	merged, report := i.stages.Merger.Merge(ctx, ext.TextBlocks, cleaned)

	sum := &models.IngestSummary{
		ChatbotID:     req.ChatbotID,
		DocumentID:    req.DocumentID,
		Pages:         ext.PageCount,
		NativeBlocks:  len(ext.TextBlocks),
		ImageBlocks:   len(ext.ImageBlocks),
		OCRBlocks:     len(ocrBlocks),
		CleanedBlocks: changed,
		FallbackPages: append([]int{}, report.FallbackPages...),
	}

	chunks := i.stages.Chunker.Chunk(chunker.Document{
		ChatbotID:     req.ChatbotID,
		DocumentID:    req.DocumentID,
		Filename:      req.FileName,
		UserGroupTags: req.UserGroupTags,
		ImagePaths:    imagePathsByPage(ext.ImageBlocks),
	}, merged)
	sum.Chunks = len(chunks)

	if len(chunks) > 0 {
		vecs, err := i.embedChunks(ctx, chunks)
		if err != nil {
			return nil, err
		}
		n, err := i.store.Upsert(ctx, req.ChatbotID, req.DocumentID, chunks, vecs)
		if err != nil {
			return nil, fmt.Errorf("upsert chunks: %w", err)
		}
		sum.Upserted = n
	} else {
		log.Warn("document produced no chunks")
	}

	sum.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000
	span.SetAttributes(
		attribute.Int("ingest.pages", sum.Pages),
		attribute.Int("ingest.chunks", sum.Chunks),
		attribute.Int("ingest.fallback_pages", len(sum.FallbackPages)),
	)
	log.Info("ingestion done",
		"pages", sum.Pages,
		"native_blocks", sum.NativeBlocks,
		"image_blocks", sum.ImageBlocks,
		"ocr_blocks", sum.OCRBlocks,
		"cleaned_blocks", sum.CleanedBlocks,
		"fallback_pages", sum.FallbackPages,
		"chunks", sum.Chunks,
		"upserted", sum.Upserted,
		"elapsed_ms", sum.ElapsedMs,
	)
	if req.Debug {
		dumpIngestion(log, merged, chunks)
	}
	return sum, nil
}

// dumpIngestion logs a preview of every merged page and its chunk count.
func dumpIngestion(log *slog.Logger, merged []models.MergedTextBlock, chunks []models.TextChunk) {
	text := make(map[int]string)
	for _, b := range merged {
		if text[b.Page] != "" {
			text[b.Page] += "\n"
		}
		text[b.Page] += b.Text
	}
	perPage := make(map[int]int)
	for _, c := range chunks {
		perPage[c.Page]++
	}
	pages := make([]int, 0, len(text))
	for p := range text {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, p := range pages {
		preview := []rune(text[p])
		if len(preview) > 300 {
			preview = preview[:300]
		}
		log.Info("ingestion page", "page", p, "chunks", perPage[p], "merged_preview", string(preview))
	}
}
