package ingestion_engine

import (
	"context"
	"fmt"

	"github.com/markdave123-py/doqmate/internal/models"
)

// embedChunks embeds chunk text in batches of cfg.EmbedBatchSize. The
// returned vectors line up with chunks.
func (i *DocumentIngestor) embedChunks(ctx context.Context, chunks []models.TextChunk) ([][]float32, error) {
	size := i.cfg.EmbedBatchSize
	out := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(texts))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
