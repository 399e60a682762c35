package parsing

import (
	"math"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/doqmate/internal/models"
)

const maxFormDepth = 4

// matrix is a PDF transformation [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m followed by n, i.e. the PDF product m × n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// unitSquare maps the image space unit square through m and returns its
// user-space bounds as (x0, y0, x1, y1).
func (m matrix) unitSquare() models.BBox {
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	for _, p := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := m.apply(p[0], p[1])
		x0, y0 = math.Min(x0, x), math.Min(y0, y)
		x1, y1 = math.Max(x1, x), math.Max(y1, y)
	}
	return models.BBox{x0, y0, x1, y1}
}

func matrixOf(v pdf.Value) (matrix, bool) {
	if v.Kind() != pdf.Array || v.Len() != 6 {
		return identity, false
	}
	var m matrix
	for i := range m {
		m[i] = v.Index(i).Float64()
	}
	return m, true
}

// placement is an image XObject drawn on a page, in user space.
type placement struct {
	name          string
	width, height int
	box           models.BBox
}

// imageWalker follows q/Q/cm through a content stream and records every
// image XObject painted with Do.
type imageWalker struct {
	ctm   matrix
	saved []matrix
	out   []placement
	depth int
	forms map[string]bool
}

func collectPlacements(contents, resources pdf.Value) []placement {
	w := &imageWalker{ctm: identity, forms: map[string]bool{}}
	w.walk(contents, resources)
	return w.out
}

func (w *imageWalker) walk(contents, resources pdf.Value) {
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			w.interpret(contents.Index(i), resources)
		}
		return
	}
	if contents.Kind() == pdf.Stream {
		w.interpret(contents, resources)
	}
}

func (w *imageWalker) interpret(strm, resources pdf.Value) {
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "q":
			w.saved = append(w.saved, w.ctm)
		case "Q":
			if k := len(w.saved); k > 0 {
				w.ctm = w.saved[k-1]
				w.saved = w.saved[:k-1]
			}
		case "cm":
			if n != 6 {
				return
			}
			var m matrix
			for i := range m {
				m[i] = args[i].Float64()
			}
			w.ctm = m.mul(w.ctm)
		case "Do":
			if n < 1 {
				return
			}
			w.do(args[0].Name(), resources)
		}
	})
}

func (w *imageWalker) do(name string, resources pdf.Value) {
	xo := resources.Key("XObject").Key(name)
	if xo.IsNull() {
		return
	}
	switch xo.Key("Subtype").Name() {
	case "Image":
		w.out = append(w.out, placement{
			name:   name,
			width:  int(xo.Key("Width").Int64()),
			height: int(xo.Key("Height").Int64()),
			box:    w.ctm.unitSquare(),
		})
	case "Form":
		if w.depth >= maxFormDepth || w.forms[name] {
			return
		}
		formRes := xo.Key("Resources")
		if formRes.IsNull() {
			formRes = resources
		}
		fm, _ := matrixOf(xo.Key("Matrix"))

		outer, outerSaved := w.ctm, w.saved
		w.ctm, w.saved = fm.mul(w.ctm), nil
		w.depth++
		w.forms[name] = true
		w.interpret(xo, formRes)
		delete(w.forms, name)
		w.depth--
		w.ctm, w.saved = outer, outerSaved
	}
}
