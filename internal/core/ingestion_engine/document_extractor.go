package ingestion_engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/doqmate/internal/models"
)

func (i *DocumentIngestor) extract(ctx context.Context, req models.IndexRequest) (*models.Extraction, error) {
	ext, err := i.stages.Extractor.Extract(ctx, req.PDFPath, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", req.PDFPath, err)
	}
	return ext, nil
}

// recognize masks the extracted regions and runs OCR over what is left.
// Masking errors leave the document with its native text only.
func (i *DocumentIngestor) recognize(ctx context.Context, req models.IndexRequest, ext *models.Extraction, log *slog.Logger) []models.TextBlock {
	if i.stages.Masker == nil || i.stages.OCR == nil {
		return nil
	}
	pages, err := i.stages.Masker.Mask(ctx, req.PDFPath, ext)
	if err != nil {
		log.Warn("page masking failed, skipping OCR", "error", err)
		return nil
	}
	return i.stages.OCR.Run(ctx, pages)
}

func (i *DocumentIngestor) clean(ctx context.Context, blocks []models.TextBlock) ([]models.TextBlock, int) {
	if i.stages.Cleaner == nil || len(blocks) == 0 {
		return blocks, 0
	}
	return i.stages.Cleaner.CleanBlocks(ctx, blocks)
}

// imagePathsByPage lists the saved image keys of each page in extraction order.
func imagePathsByPage(images []models.ImageBlock) map[int][]string {
	out := make(map[int][]string)
	for _, img := range images {
		if img.ImagePath != "" {
			out[img.Page] = append(out[img.Page], img.ImagePath)
		}
	}
	return out
}
