package parsing

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/doqmate/internal/models"
)

// Renderer rasterizes PDF pages. Page numbers are 1-based.
type Renderer interface {
	NumPage() int
	Render(page int, dpi float64) (image.Image, error)
	// PageRect is the page size in points with a top-left origin.
	PageRect(page int) (models.BBox, error)
	Close() error
}

// OpenRenderer opens a renderer for the PDF at path.
type OpenRenderer func(path string) (Renderer, error)

// FitzRenderer renders with MuPDF through go-fitz. A MuPDF document is not
// safe for concurrent use, so calls are serialized.
//
// Page sizes come from the page dictionary through the same transform the
// extractor uses; MuPDF only reports whole points.
type FitzRenderer struct {
	mu   sync.Mutex
	doc  *fitz.Document
	file *os.File
	dict *pdf.Reader
}

func OpenFitz(path string) (Renderer, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("fitz open %s: %w", path, err)
	}
	r := &FitzRenderer{doc: doc}
	if f, dict, err := openDict(path); err == nil {
		r.file, r.dict = f, dict
	}
	return r, nil
}

func (r *FitzRenderer) NumPage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.NumPage()
}

func (r *FitzRenderer) Render(page int, dpi float64) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, err := r.doc.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	return img, nil
}

func (r *FitzRenderer) PageRect(page int) (models.BBox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dict != nil {
		if b, ok := pageBounds(r.dict, page); ok {
			return b, nil
		}
	}
	b, err := r.doc.Bound(page - 1)
	if err != nil {
		return models.BBox{}, fmt.Errorf("bound page %d: %w", page, err)
	}
	return models.BBox{0, 0, float64(b.Dx()), float64(b.Dy())}, nil
}

func (r *FitzRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		_ = r.file.Close()
	}
	return r.doc.Close()
}

func openDict(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				_ = f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("parse %s: %v", path, rec)
		}
	}()
	return pdf.Open(path)
}
