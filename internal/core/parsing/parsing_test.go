package parsing

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type fakeRenderer struct {
	pages int
	rect  models.BBox
	fill  color.Color
	fail  map[int]bool
}

func (f *fakeRenderer) NumPage() int { return f.pages }

func (f *fakeRenderer) Render(page int, dpi float64) (image.Image, error) {
	if f.fail[page] {
		return nil, errors.New("render failed")
	}
	scale := dpi / 72
	w := int(math.Round(f.rect.Width() * scale))
	h := int(math.Round(f.rect.Height() * scale))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, f.fill)
		}
	}
	return img, nil
}

func (f *fakeRenderer) PageRect(int) (models.BBox, error) { return f.rect, nil }
func (f *fakeRenderer) Close() error                        { return nil }

type memObjects struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memObjects) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[key] = data
	return "/" + key, nil
}

func (m *memObjects) DeleteFile(context.Context, string) error { return nil }

func (m *memObjects) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (m *memObjects) GetObjectReader(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func TestFilterByContainmentKeepsOuter(t *testing.T) {
	outer := imageCandidate{bbox: models.BBox{0, 0, 300, 300}, width: 500, height: 500}
	inner := imageCandidate{bbox: models.BBox{50, 50, 100, 100}, width: 200, height: 200}
	other := imageCandidate{bbox: models.BBox{400, 400, 500, 500}, width: 200, height: 200}

	for _, order := range [][]imageCandidate{{inner, outer, other}, {outer, inner, other}} {
		got := filterByContainment(order)
		if len(got) != 2 {
			t.Fatalf("got %d candidates, want 2", len(got))
		}
		for _, c := range got {
			if c.bbox == inner.bbox {
				t.Fatalf("inner box survived: %v", got)
			}
		}
	}
}

func TestSelectImages(t *testing.T) {
	cands := []imageCandidate{
		{bbox: models.BBox{0, 0, 100, 100}, width: 99, height: 400},
		{bbox: models.BBox{10, 10, 200, 200}, width: 100, height: 100},
		{bbox: models.BBox{10.02, 10.01, 199.98, 200}, width: 150, height: 150},
		{bbox: models.BBox{300, 300, 400, 400}, width: 640, height: 480},
	}
	got := selectImages(cands, 100, 100)
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[1].bbox != cands[3].bbox {
		t.Fatalf("unexpected survivor %v", got[1].bbox)
	}
}

func TestDedupByBBox(t *testing.T) {
	cands := []imageCandidate{
		{bbox: models.BBox{1.01, 2, 3, 4}},
		{bbox: models.BBox{1.04, 2, 3, 4}},
		{bbox: models.BBox{1.2, 2, 3, 4}},
	}
	if got := dedupByBBox(cands); len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
}

func TestMatrixUnitSquare(t *testing.T) {
	ctm := matrix{200, 0, 0, 150, 100, 300}
	if got := ctm.unitSquare(); got != (models.BBox{100, 300, 300, 450}) {
		t.Fatalf("unitSquare = %v", got)
	}
	// a translate followed by a scale
	m := matrix{2, 0, 0, 2, 0, 0}.mul(matrix{1, 0, 0, 1, 10, 20})
	if got := m.unitSquare(); got != (models.BBox{10, 20, 12, 22}) {
		t.Fatalf("composed unitSquare = %v", got)
	}
}

func TestPageSpace(t *testing.T) {
	user := models.BBox{100, 300, 300, 450}
	tests := []struct {
		name   string
		space  pageSpace
		want   models.BBox
		bounds models.BBox
	}{
		{"media only", pageSpace{box: letter}, models.BBox{100, 342, 300, 492}, models.BBox{0, 0, 612, 792}},
		{"cropped", pageSpace{box: models.BBox{100, 100, 512, 692}}, models.BBox{0, 242, 200, 392}, models.BBox{0, 0, 412, 592}},
		{"rotate 90", pageSpace{box: letter, rotate: 90}, models.BBox{300, 100, 450, 300}, models.BBox{0, 0, 792, 612}},
		{"rotate 180", pageSpace{box: letter, rotate: 180}, models.BBox{312, 300, 512, 450}, models.BBox{0, 0, 612, 792}},
		{"rotate 270", pageSpace{box: letter, rotate: 270}, models.BBox{342, 312, 492, 512}, models.BBox{0, 0, 792, 612}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.space.rect(user); got != tc.want {
				t.Errorf("rect = %v, want %v", got, tc.want)
			}
			if got := tc.space.bounds(); got != tc.bounds {
				t.Errorf("bounds = %v, want %v", got, tc.bounds)
			}
		})
	}
}

func TestNormalizeRotation(t *testing.T) {
	for in, want := range map[float64]int{0: 0, 90: 90, -90: 270, 450: 90, 180: 180, 44: 0, 46: 90, 359: 0} {
		if got := normalizeRotation(in); got != want {
			t.Errorf("normalizeRotation(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestBuildBlocks(t *testing.T) {
	word := func(x, y float64, s string) []glyph {
		var gs []glyph
		for i, r := range s {
			gs = append(gs, glyph{x: x + float64(i)*6, y: y, w: 6, size: 10, s: string(r)})
		}
		return gs
	}
	var glyphs []glyph
	glyphs = append(glyphs, word(72, 700, "First")...)
	glyphs = append(glyphs, word(110, 700, "line")...)
	glyphs = append(glyphs, word(72, 688, "second")...)
	// far below: new block
	glyphs = append(glyphs, word(72, 500, "Footer")...)
	// same baseline as the first line but in another column
	glyphs = append(glyphs, word(400, 700, "Right")...)

	blocks := buildBlocks(buildLines(glyphs))
	var texts []string
	for _, b := range blocks {
		texts = append(texts, collapseSpace(b.text))
	}
	want := []string{"First line second", "Right", "Footer"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Fatalf("blocks = %q, want %q", texts, want)
	}
	if blocks[0].x0 != 72 || blocks[0].top != 710 {
		t.Fatalf("first block geometry = %+v", blocks[0])
	}
}

func TestExtractGeneratedPDF(t *testing.T) {
	path := writeTestPDF(t)
	objects := &memObjects{}
	render := func(string) (Renderer, error) {
		return &fakeRenderer{pages: 1, rect: models.BBox{0, 0, 612, 792}, fill: color.White}, nil
	}
	ex := NewExtractor(ExtractorConfig{}, render, objects, logger.Discard())

	res, err := ex.Extract(context.Background(), path, "doc-1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.PageCount != 1 || len(res.SkippedPages) != 0 {
		t.Fatalf("pages = %d skipped = %v", res.PageCount, res.SkippedPages)
	}
	if len(res.TextBlocks) != 1 {
		t.Fatalf("text blocks = %+v", res.TextBlocks)
	}
	tb := res.TextBlocks[0]
	if tb.BlockID != "p1_b1" || !strings.Contains(tb.Text, "Hello") || tb.Prob != nil {
		t.Fatalf("text block = %+v", tb)
	}
	if tb.BBox[1] < 70 || tb.BBox[3] > 100 {
		t.Fatalf("text bbox not flipped to top-left origin: %v", tb.BBox)
	}

	if len(res.ImageBlocks) != 1 {
		t.Fatalf("image blocks = %+v", res.ImageBlocks)
	}
	img := res.ImageBlocks[0]
	if img.ImageID != "p1_img1" || img.BBox != (models.BBox{100, 342, 300, 492}) {
		t.Fatalf("image block = %+v", img)
	}
	if img.ImagePath != "doc-1/p1_img1.png" || len(objects.files[img.ImagePath]) == 0 {
		t.Fatalf("image not saved: path=%q files=%d", img.ImagePath, len(objects.files))
	}
}

func TestExtractMissingFile(t *testing.T) {
	ex := NewExtractor(ExtractorConfig{}, nil, nil, logger.Discard())
	if _, err := ex.Extract(context.Background(), "/nonexistent/file.pdf", "doc"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMaskRegionsPaintsWhite(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for i := range img.Pix {
		img.Pix[i] = 0
	}
	MaskRegions(img, []models.BBox{{5, 5, 10, 10}}, 2, 2)
	if got := img.RGBAAt(15, 15); got != (color.RGBA{255, 255, 255, 255}) {
		t.Fatalf("inside pixel = %v", got)
	}
	if got := img.RGBAAt(25, 25); got.R != 0 {
		t.Fatalf("outside pixel = %v", got)
	}
}

func TestMaskerScalesAndSkipsFailedPages(t *testing.T) {
	fr := &fakeRenderer{pages: 2, rect: models.BBox{0, 0, 72, 36}, fill: color.Black, fail: map[int]bool{2: true}}
	m := NewMasker(func(string) (Renderer, error) { return fr, nil }, 144, logger.Discard())
	ext := &models.Extraction{TextBlocks: []models.TextBlock{{Page: 1, BBox: models.BBox{0, 0, 10, 10}}}}

	pages, err := m.Mask(context.Background(), "x.pdf", ext)
	if err != nil {
		t.Fatalf("Mask: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	p := pages[0]
	if p.Page != 1 || p.ScaleX != 2 || p.ScaleY != 2 {
		t.Fatalf("masked page = %+v", p)
	}
	gray, ok := p.Image.(*image.Gray)
	if !ok {
		t.Fatalf("image type %T, want *image.Gray", p.Image)
	}
	for _, v := range gray.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("non-binary pixel %d", v)
		}
	}
}
