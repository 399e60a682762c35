package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

// Detection is one recognized region in pixel space.
type Detection struct {
	Points     [][2]float64
	Text       string
	Confidence float64
}

// Engine detects and recognizes text in an image. Implementations need not
// be safe for concurrent use.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]Detection, error)
	Close() error
}

// pinger is implemented by engines that can report readiness.
type pinger interface {
	Ping(ctx context.Context) error
}

// Runner owns one long-lived engine and serializes access to it.
type Runner struct {
	mu     sync.Mutex
	engine Engine
	log    *slog.Logger
}

func NewRunner(engine Engine, log *slog.Logger) *Runner {
	return &Runner{engine: engine, log: logger.Or(log)}
}

// Run recognizes text on every page. A failing page is logged and skipped,
// so the result may be partial.
func (r *Runner) Run(ctx context.Context, pages []models.MaskedPage) []models.TextBlock {
	if len(pages) == 0 || r.engine == nil {
		return nil
	}
	if p, ok := r.engine.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			r.log.Error("ocr engine not ready, skipping ocr", "error", err)
			return nil
		}
	}

	var all []models.TextBlock
	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		blocks, err := r.RunPage(ctx, page)
		if err != nil {
			r.log.Warn("ocr page failed", "page", page.Page, "error", err)
			continue
		}
		all = append(all, blocks...)
	}
	r.log.Info("ocr done", "pages", len(pages), "blocks", len(all))
	return all
}

// RunPage recognizes one page and maps the results back into PDF points.
func (r *Runner) RunPage(ctx context.Context, page models.MaskedPage) (blocks []models.TextBlock, err error) {
	if page.Image == nil || page.Image.Bounds().Empty() || page.ScaleX == 0 || page.ScaleY == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ocr page %d: %v", page.Page, rec)
		}
	}()

	dets, err := r.engine.Recognize(ctx, page.Image)
	if err != nil {
		return nil, err
	}

	n := 0
	for _, d := range dets {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		box, ok := models.BBoxFromPoints(d.Points, page.ScaleX, page.ScaleY)
		if !ok {
			continue
		}
		n++
		prob := d.Confidence
		blocks = append(blocks, models.TextBlock{
			Page:    page.Page,
			BlockID: fmt.Sprintf("p%d_ocr_b%d", page.Page, n),
			BBox:    box,
			Text:    text,
			Prob:    &prob,
		})
	}
	return blocks, nil
}

// Close releases the engine.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil
	}
	return r.engine.Close()
}
