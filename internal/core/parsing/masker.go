package parsing

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

const DefaultRenderDPI = 300

// Masker renders pages, paints already-extracted regions white and
// binarizes what is left for OCR.
type Masker struct {
	open OpenRenderer
	dpi  float64
	log  *slog.Logger
}

func NewMasker(open OpenRenderer, dpi float64, log *slog.Logger) *Masker {
	if dpi <= 0 {
		dpi = DefaultRenderDPI
	}
	return &Masker{open: open, dpi: dpi, log: logger.Or(log)}
}

// Mask returns one MaskedPage per page that could be rendered. Pages that
// fail to render are skipped.
func (m *Masker) Mask(ctx context.Context, pdfPath string, ext *models.Extraction) ([]models.MaskedPage, error) {
	r, err := m.open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open renderer: %w", err)
	}
	defer r.Close()

	boxes := make(map[int][]models.BBox)
	if ext != nil {
		for _, b := range ext.TextBlocks {
			boxes[b.Page] = append(boxes[b.Page], b.BBox)
		}
		for _, b := range ext.ImageBlocks {
			boxes[b.Page] = append(boxes[b.Page], b.BBox)
		}
	}

	var pages []models.MaskedPage
	for num := 1; num <= r.NumPage(); num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mp, err := m.maskPage(r, num, boxes[num])
		if err != nil {
			m.log.Warn("page mask failed", "page", num, "error", err)
			continue
		}
		if mp.Degraded {
			m.log.Warn("page preprocessing degraded", "page", num)
		}
		pages = append(pages, mp)
	}
	return pages, nil
}

func (m *Masker) maskPage(r Renderer, num int, boxes []models.BBox) (mp models.MaskedPage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", num, rec)
		}
	}()

	img, err := r.Render(num, m.dpi)
	if err != nil {
		return mp, err
	}
	rect, err := r.PageRect(num)
	if err != nil {
		return mp, err
	}
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return mp, fmt.Errorf("page %d has no size", num)
	}

	canvas := toRGBA(img)
	b := canvas.Bounds()
	sx := float64(b.Dx()) / rect.Width()
	sy := float64(b.Dy()) / rect.Height()
	MaskRegions(canvas, boxes, sx, sy)

	out, degraded := Preprocess(canvas)
	return models.MaskedPage{
		Page:     num,
		Image:    out,
		ScaleX:   sx,
		ScaleY:   sy,
		PageRect: rect,
		Degraded: degraded,
	}, nil
}

// MaskRegions paints each point-space box white on img.
func MaskRegions(img draw.Image, boxes []models.BBox, scaleX, scaleY float64) {
	b := img.Bounds()
	for _, box := range boxes {
		r := box.PixelRect(scaleX, scaleY).Add(b.Min).Intersect(b)
		if r.Empty() {
			continue
		}
		draw.Draw(img, r, image.White, image.Point{}, draw.Src)
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}
