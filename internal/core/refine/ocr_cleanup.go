package refine

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

var cleanupOptions = core.GenerateOptions{Temperature: 0.0, MaxTokens: 2048}

// Cleaner normalizes raw OCR text through the cleanup task. It never loses
// text: any failure keeps the original.
type Cleaner struct {
	tasks       *llm.Tasks
	concurrency int
	log         *slog.Logger
}

func NewCleaner(tasks *llm.Tasks, concurrency int, log *slog.Logger) *Cleaner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Cleaner{tasks: tasks, concurrency: concurrency, log: logger.Or(log)}
}

// CleanText returns the cleaned form of raw, or raw itself on any failure.
func (c *Cleaner) CleanText(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	out := llm.RunTask[cleanupResult](ctx, c.tasks, llm.TaskOCRCleanup, map[string]string{"raw_text": raw}, cleanupOptions)
	if !out.OK {
		c.log.Warn("ocr cleanup failed, keeping original", "reason", out.Reason, "raw_len", len(raw))
		return raw
	}
	cleaned := strings.TrimSpace(out.Value.CleanedText)
	if cleaned == "" {
		c.log.Warn("ocr cleanup returned empty text, keeping original", "raw_len", len(raw))
		return raw
	}
	return cleaned
}

// CleanBlocks cleans every block's text and reports how many changed. The
// result has the same length and order as blocks.
func (c *Cleaner) CleanBlocks(ctx context.Context, blocks []models.TextBlock) ([]models.TextBlock, int) {
	if len(blocks) == 0 {
		return blocks, 0
	}
	c.log.Info("ocr cleanup started", "total_blocks", len(blocks))

	out := make([]models.TextBlock, len(blocks))
	copy(out, blocks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range out {
		if strings.TrimSpace(out[i].Text) == "" {
			continue
		}
		g.Go(func() error {
			out[i].Text = c.CleanText(gctx, out[i].Text)
			return nil
		})
	}
	_ = g.Wait()

	changed := 0
	for i := range out {
		if out[i].Text != blocks[i].Text {
			changed++
		}
	}
	c.log.Info("ocr cleanup done", "total", len(blocks), "changed", changed)
	return out, changed
}
