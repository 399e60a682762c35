package models

import (
	"image"
	"math"
)

// BBox is (x0, y0, x1, y1) with a top-left origin.
// Values are PDF points unless the caller says otherwise.
type BBox [4]float64

func (b BBox) X0() float64 { return b[0] }
func (b BBox) Y0() float64 { return b[1] }
func (b BBox) X1() float64 { return b[2] }
func (b BBox) Y1() float64 { return b[3] }

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

// Normalize orders the corners so that x0 <= x1 and y0 <= y1.
func (b BBox) Normalize() BBox {
	x0, x1 := math.Min(b[0], b[2]), math.Max(b[0], b[2])
	y0, y1 := math.Min(b[1], b[3]), math.Max(b[1], b[3])
	return BBox{x0, y0, x1, y1}
}

// Empty reports whether the box has no area.
func (b BBox) Empty() bool {
	n := b.Normalize()
	return n.Width() <= 0 || n.Height() <= 0
}

// Contains reports whether o lies wholly inside b. Shared edges count as inside.
func (b BBox) Contains(o BBox) bool {
	b, o = b.Normalize(), o.Normalize()
	return o[0] >= b[0] && o[1] >= b[1] && o[2] <= b[2] && o[3] <= b[3]
}

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	b, o = b.Normalize(), o.Normalize()
	return BBox{
		math.Min(b[0], o[0]), math.Min(b[1], o[1]),
		math.Max(b[2], o[2]), math.Max(b[3], o[3]),
	}
}

// Scale multiplies x by sx and y by sy. Points to pixels uses the
// render scale, pixels to points uses its inverse.
func (b BBox) Scale(sx, sy float64) BBox {
	return BBox{b[0] * sx, b[1] * sy, b[2] * sx, b[3] * sy}
}

// RoundKey rounds every coordinate to one decimal place for dedup.
func (b BBox) RoundKey() [4]float64 {
	var k [4]float64
	for i, v := range b {
		k[i] = math.Round(v*10) / 10
	}
	return k
}

// PixelRect maps a point-space box onto raster pixels, rounding outwards so
// the rectangle always covers the box.
func (b BBox) PixelRect(scaleX, scaleY float64) image.Rectangle {
	s := b.Normalize().Scale(scaleX, scaleY)
	return image.Rect(
		int(math.Floor(s[0])), int(math.Floor(s[1])),
		int(math.Ceil(s[2])), int(math.Ceil(s[3])),
	)
}

// BBoxFromPoints reduces a pixel-space polygon to its min/max box and
// converts it to points. ok is false for empty input or a zero scale.
func BBoxFromPoints(points [][2]float64, scaleX, scaleY float64) (BBox, bool) {
	if len(points) == 0 || scaleX == 0 || scaleY == 0 {
		return BBox{}, false
	}
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		x0 = math.Min(x0, p[0])
		y0 = math.Min(y0, p[1])
		x1 = math.Max(x1, p[0])
		y1 = math.Max(y1, p[1])
	}
	return BBox{x0 / scaleX, y0 / scaleY, x1 / scaleX, y1 / scaleY}, true
}
