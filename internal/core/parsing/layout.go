package parsing

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/markdave123-py/doqmate/internal/models"
)

// glyph is one positioned text run in PDF user space (origin bottom-left,
// y is the baseline).
type glyph struct {
	x, y, w, size float64
	s             string
}

type line struct {
	glyphs   []glyph
	baseline float64
	size     float64
}

// textRun is a block of lines in user space.
type textRun struct {
	x0, bottom, x1, top float64
	size                float64
	text                string
}

const (
	// glyphs whose baselines differ by less than this share a line
	sameLineRatio = 0.35
	// a horizontal gap wider than this splits a line into separate runs
	columnGapRatio = 3.0
	// inter-word gap that implies a missing space
	wordGapRatio = 0.2
	// lines closer than this (in font sizes) join one block
	blockGapRatio = 0.7
)

func (l line) x0() float64 { return l.glyphs[0].x }

func (l line) x1() float64 {
	g := l.glyphs[len(l.glyphs)-1]
	return g.x + g.w
}

func (l line) top() float64    { return l.baseline + l.size }
func (l line) bottom() float64 { return l.baseline - 0.25*l.size }

func (l line) text() string {
	var b strings.Builder
	for i, g := range l.glyphs {
		if i > 0 {
			prev := l.glyphs[i-1]
			gap := g.x - (prev.x + prev.w)
			if prev.w > 0 && gap > wordGapRatio*l.size && !endsWithSpace(prev.s) && !startsWithSpace(g.s) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.s)
	}
	return b.String()
}

// buildLines groups glyphs into lines ordered top to bottom, left to right.
func buildLines(glyphs []glyph) []line {
	if len(glyphs) == 0 {
		return nil
	}
	gs := make([]glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if g.s == "" {
			continue
		}
		if g.size <= 0 {
			g.size = 1
		}
		gs = append(gs, g)
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].y > gs[j].y })

	var rows []line
	for _, g := range gs {
		n := len(rows)
		if n > 0 {
			cur := &rows[n-1]
			tol := sameLineRatio * math.Max(cur.size, g.size)
			if math.Abs(cur.baseline-g.y) <= tol {
				cur.glyphs = append(cur.glyphs, g)
				cur.size = math.Max(cur.size, g.size)
				continue
			}
		}
		rows = append(rows, line{glyphs: []glyph{g}, baseline: g.y, size: g.size})
	}

	var out []line
	for _, r := range rows {
		sort.SliceStable(r.glyphs, func(i, j int) bool { return r.glyphs[i].x < r.glyphs[j].x })
		out = append(out, splitColumns(r)...)
	}
	return out
}

func splitColumns(l line) []line {
	var out []line
	start := 0
	for i := 1; i < len(l.glyphs); i++ {
		prev := l.glyphs[i-1]
		if prev.w > 0 && l.glyphs[i].x-(prev.x+prev.w) > columnGapRatio*l.size {
			out = append(out, line{glyphs: l.glyphs[start:i], baseline: l.baseline, size: l.size})
			start = i
		}
	}
	return append(out, line{glyphs: l.glyphs[start:], baseline: l.baseline, size: l.size})
}

// buildBlocks merges vertically adjacent, horizontally overlapping lines of
// similar size. Blocks come back in reading order.
func buildBlocks(lines []line) []textRun {
	type open struct {
		run  textRun
		last line
	}
	var blocks []open

	for _, l := range lines {
		t := l.text()
		joined := false
		for i := len(blocks) - 1; i >= 0; i-- {
			b := &blocks[i]
			if !joins(b.last, l) {
				continue
			}
			b.run.text += "\n" + t
			b.run.x0 = math.Min(b.run.x0, l.x0())
			b.run.x1 = math.Max(b.run.x1, l.x1())
			b.run.bottom = math.Min(b.run.bottom, l.bottom())
			b.last = l
			joined = true
			break
		}
		if !joined {
			blocks = append(blocks, open{
				run: textRun{
					x0: l.x0(), x1: l.x1(), top: l.top(), bottom: l.bottom(),
					size: l.size, text: t,
				},
				last: l,
			})
		}
	}

	runs := make([]textRun, len(blocks))
	for i, b := range blocks {
		runs[i] = b.run
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if math.Abs(runs[i].top-runs[j].top) > sameLineRatio*math.Max(runs[i].size, runs[j].size) {
			return runs[i].top > runs[j].top
		}
		return runs[i].x0 < runs[j].x0
	})
	return runs
}

func joins(prev, next line) bool {
	size := math.Max(prev.size, next.size)
	if math.Abs(prev.size-next.size) > 0.25*size {
		return false
	}
	gap := prev.bottom() - next.top()
	if gap > blockGapRatio*size || gap < -size {
		return false
	}
	return next.x0() < prev.x1() && prev.x0() < next.x1()
}

// toPageBBox maps a user-space run into page coordinates.
func (r textRun) toPageBBox(space pageSpace) models.BBox {
	return space.rect(models.BBox{r.x0, r.bottom, r.x1, r.top})
}

// collapseSpace turns newlines and runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func endsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func startsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[0]))
}
