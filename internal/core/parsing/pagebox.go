package parsing

import (
	"math"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/doqmate/internal/models"
)

// letter is the MediaBox assumed when a page declares none.
var letter = models.BBox{0, 0, 612, 792}

// pageSpace maps PDF user space onto the page as MuPDF displays it: the
// visible box (CropBox clipped to MediaBox) with /Rotate applied, origin at
// the top-left and y growing down. Extraction, masking and cropping all use
// these coordinates.
type pageSpace struct {
	box    models.BBox
	rotate int // 0, 90, 180 or 270
}

func pageSpaceOf(page pdf.Value) pageSpace {
	media, ok := inheritedBox(page, "MediaBox")
	if !ok {
		media = letter
	}
	box := media
	if crop, ok := inheritedBox(page, "CropBox"); ok {
		if in := intersect(crop, media); in.Width() > 0 && in.Height() > 0 {
			box = in
		}
	}
	rotate := 0
	if v := inherited(page, "Rotate"); !v.IsNull() {
		rotate = normalizeRotation(v.Float64())
	}
	return pageSpace{box: box, rotate: rotate}
}

// normalizeRotation snaps deg to the nearest quarter turn in [0, 360).
func normalizeRotation(deg float64) int {
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	r = 90 * ((r + 45) / 90)
	if r >= 360 {
		r = 0
	}
	return r
}

// size is the displayed page size in points.
func (s pageSpace) size() (w, h float64) {
	if s.rotate == 90 || s.rotate == 270 {
		return s.box.Height(), s.box.Width()
	}
	return s.box.Width(), s.box.Height()
}

func (s pageSpace) bounds() models.BBox {
	w, h := s.size()
	return models.BBox{0, 0, w, h}
}

func (s pageSpace) point(x, y float64) (float64, float64) {
	b := s.box
	switch s.rotate {
	case 90:
		return y - b[1], x - b[0]
	case 180:
		return b[2] - x, y - b[1]
	case 270:
		return b[3] - y, b[2] - x
	default:
		return x - b[0], b[3] - y
	}
}

// rect maps a user-space box into page coordinates.
func (s pageSpace) rect(u models.BBox) models.BBox {
	x0, y0 := s.point(u[0], u[1])
	x1, y1 := s.point(u[2], u[3])
	return models.BBox{x0, y0, x1, y1}.Normalize()
}

// inherited looks key up on the page and then its Parent chain.
func inherited(page pdf.Value, key string) pdf.Value {
	for v, depth := page, 0; !v.IsNull() && depth < 32; v, depth = v.Key("Parent"), depth+1 {
		if val := v.Key(key); !val.IsNull() {
			return val
		}
	}
	return pdf.Value{}
}

func inheritedBox(page pdf.Value, key string) (models.BBox, bool) {
	v := inherited(page, key)
	if v.Kind() != pdf.Array || v.Len() != 4 {
		return models.BBox{}, false
	}
	return models.BBox{
		v.Index(0).Float64(), v.Index(1).Float64(),
		v.Index(2).Float64(), v.Index(3).Float64(),
	}.Normalize(), true
}

func intersect(a, b models.BBox) models.BBox {
	return models.BBox{
		math.Max(a[0], b[0]), math.Max(a[1], b[1]),
		math.Min(a[2], b[2]), math.Min(a[3], b[3]),
	}
}

// pageBounds reads the displayed size of page num straight from the PDF.
func pageBounds(r *pdf.Reader, num int) (b models.BBox, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return models.BBox{}, false
	}
	return pageSpaceOf(p.V).bounds(), true
}
