package parsing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

const (
	DefaultMinImageSize = 100
	// crops for saved images do not need OCR resolution
	DefaultCropDPI = 150
)

type ExtractorConfig struct {
	MinImageWidth  int
	MinImageHeight int
	CropDPI        float64
}

// Extractor pulls native text blocks and embedded images out of a PDF.
type Extractor struct {
	cfg     ExtractorConfig
	render  OpenRenderer
	objects core.ObjectClient
	log     *slog.Logger
}

// NewExtractor builds an extractor. render supplies the pixels of saved
// images; objects receives them. Either may be nil, in which case image
// blocks are still returned but without a saved file.
func NewExtractor(cfg ExtractorConfig, render OpenRenderer, objects core.ObjectClient, log *slog.Logger) *Extractor {
	if cfg.MinImageWidth <= 0 {
		cfg.MinImageWidth = DefaultMinImageSize
	}
	if cfg.MinImageHeight <= 0 {
		cfg.MinImageHeight = DefaultMinImageSize
	}
	if cfg.CropDPI <= 0 {
		cfg.CropDPI = DefaultCropDPI
	}
	return &Extractor{cfg: cfg, render: render, objects: objects, log: logger.Or(log)}
}

type pageExtraction struct {
	text   []models.TextBlock
	images []imageCandidate
}

// Extract reads every page of the PDF. A page that fails to parse is logged
// and skipped; only failing to open the file is an error.
func (e *Extractor) Extract(ctx context.Context, pdfPath, documentID string) (*models.Extraction, error) {
	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", pdfPath, err)
	}
	defer f.Close()

	log := e.log.With("document_id", documentID)
	res := &models.Extraction{PageCount: r.NumPage()}
	crops := newCropper(e.render, pdfPath, e.cfg.CropDPI, log)
	defer crops.close()

	seq := 0
	for num := 1; num <= res.PageCount; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg, next, err := e.extractPage(r, num, seq)
		if err != nil {
			log.Warn("skipping page", "page", num, "error", err)
			res.SkippedPages = append(res.SkippedPages, num)
			continue
		}
		seq = next
		res.TextBlocks = append(res.TextBlocks, pg.text...)
		res.ImageBlocks = append(res.ImageBlocks, e.saveImages(ctx, crops, documentID, num, pg.images, log)...)
	}

	log.Info("pdf extracted",
		"pages", res.PageCount,
		"text_blocks", len(res.TextBlocks),
		"image_blocks", len(res.ImageBlocks),
		"skipped_pages", len(res.SkippedPages),
	)
	return res, nil
}

// extractPage parses one page. seq is the document-wide block counter; the
// advanced value is returned only when the page succeeds.
func (e *Extractor) extractPage(r *pdf.Reader, num, seq int) (pg pageExtraction, next int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", num, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return pg, seq, fmt.Errorf("page %d not found", num)
	}
	space := pageSpaceOf(p.V)

	content := p.Content()
	glyphs := make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{x: t.X, y: t.Y, w: t.W, size: t.FontSize, s: t.S})
	}
	for _, run := range buildBlocks(buildLines(glyphs)) {
		text := collapseSpace(run.text)
		if text == "" {
			continue
		}
		seq++
		pg.text = append(pg.text, models.TextBlock{
			Page:    num,
			BlockID: fmt.Sprintf("p%d_b%d", num, seq),
			BBox:    run.toPageBBox(space),
			Text:    text,
		})
	}

	var cands []imageCandidate
	for _, pl := range collectPlacements(p.V.Key("Contents"), p.Resources()) {
		cands = append(cands, imageCandidate{
			bbox:   space.rect(pl.box),
			width:  pl.width,
			height: pl.height,
		})
	}
	before := len(cands)
	pg.images = selectImages(cands, e.cfg.MinImageWidth, e.cfg.MinImageHeight)
	e.log.Debug("image candidates filtered", "page", num, "before", before, "after", len(pg.images))

	return pg, seq, nil
}

func (e *Extractor) saveImages(ctx context.Context, crops *cropper, documentID string, page int, cands []imageCandidate, log *slog.Logger) []models.ImageBlock {
	out := make([]models.ImageBlock, 0, len(cands))
	for i, c := range cands {
		imageID := fmt.Sprintf("p%d_img%d", page, i+1)
		blk := models.ImageBlock{
			Page:    page,
			ImageID: imageID,
			BBox:    c.bbox,
			Width:   c.width,
			Height:  c.height,
			Ext:     "png",
		}

		data, err := crops.crop(page, c.bbox)
		if err != nil {
			log.Warn("image crop failed", "page", page, "image_id", imageID, "error", err)
			out = append(out, blk)
			continue
		}
		blk.Data = data

		if e.objects != nil {
			key := documentID + "/" + imageID + "." + blk.Ext
			if _, err := e.objects.UploadFile(ctx, key, data, "image/png"); err != nil {
				log.Warn("image save failed", "page", page, "image_id", imageID, "key", key, "error", err)
			} else {
				blk.ImagePath = key
			}
		}
		out = append(out, blk)
	}
	return out
}

// cropper lazily renders pages and cuts image regions out of them.
type cropper struct {
	open   OpenRenderer
	path   string
	dpi    float64
	log    *slog.Logger
	r      Renderer
	failed bool
	page   int
	img    image.Image
	rect   models.BBox
}

func newCropper(open OpenRenderer, path string, dpi float64, log *slog.Logger) *cropper {
	return &cropper{open: open, path: path, dpi: dpi, log: log}
}

func (c *cropper) crop(page int, box models.BBox) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("crop page %d: %v", page, rec)
		}
	}()

	if c.open == nil || c.failed {
		return nil, fmt.Errorf("no renderer")
	}
	if c.r == nil {
		r, err := c.open(c.path)
		if err != nil {
			c.failed = true
			return nil, err
		}
		c.r = r
	}
	if c.page != page {
		img, err := c.r.Render(page, c.dpi)
		if err != nil {
			return nil, err
		}
		rect, err := c.r.PageRect(page)
		if err != nil {
			return nil, err
		}
		c.page, c.img, c.rect = page, img, rect
	}
	if c.rect.Width() <= 0 || c.rect.Height() <= 0 {
		return nil, fmt.Errorf("page %d has no size", page)
	}

	b := c.img.Bounds()
	sx := float64(b.Dx()) / c.rect.Width()
	sy := float64(b.Dy()) / c.rect.Height()
	r := box.PixelRect(sx, sy).Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("image region outside page")
	}

	sub, ok := c.img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("raster %T cannot be cropped", c.img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *cropper) close() {
	if c.r != nil {
		if err := c.r.Close(); err != nil {
			c.log.Warn("renderer close failed", "error", err)
		}
	}
}
