package models

import (
	"image"
	"sort"
)

// Block sources as sent to the page merge stage.
const (
	SourceNative = "native"
	SourceOCR    = "ocr"
)

// TextBlock is a run of text with its location on a page.
// Prob is nil for native text and the recognizer confidence for OCR text.
type TextBlock struct {
	Page    int      `json:"page"`
	BlockID string   `json:"block_id"`
	BBox    BBox     `json:"bbox"`
	Text    string   `json:"text"`
	Prob    *float64 `json:"prob"`
}

// Source reports whether the block came from the text layer or from OCR.
func (b TextBlock) Source() string {
	if b.Prob != nil {
		return SourceOCR
	}
	return SourceNative
}

// ImageBlock is an embedded image kept after filtering. Data lives only for
// the ingestion run; ImagePath is the store key once saved.
type ImageBlock struct {
	Page      int    `json:"page"`
	ImageID   string `json:"image_id"`
	BBox      BBox   `json:"bbox"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Ext       string `json:"ext"`
	Data      []byte `json:"-"`
	ImagePath string `json:"image_path"`
}

// Extraction is what the PDF extractor returns for a whole document.
type Extraction struct {
	PageCount   int
	TextBlocks  []TextBlock
	ImageBlocks []ImageBlock
	// SkippedPages lists pages that failed and were left out.
	SkippedPages []int
}

// MaskedPage is a page raster prepared for OCR.
// ScaleX and ScaleY are pixels per point.
type MaskedPage struct {
	Page     int
	Image    image.Image
	ScaleX   float64
	ScaleY   float64
	PageRect BBox
	// Degraded is set when preprocessing failed and Image is a fallback.
	Degraded bool
}

// MergeLogEntry is one line of the merge model's explanation.
type MergeLogEntry struct {
	SrcBlockID string `json:"src_block_id"`
	Action     string `json:"action"`
	Reason     string `json:"reason"`
}

// MergedTextBlock is a page-level block built from native and OCR sources.
type MergedTextBlock struct {
	Page        int             `json:"page"`
	BlockID     string          `json:"block_id"`
	Text        string          `json:"text"`
	SrcBlockIDs []string        `json:"src_block_ids"`
	DebugLog    []MergeLogEntry `json:"debug_log,omitempty"`
	Fallback    bool            `json:"fallback"`
}

// PagesOf returns the pages referenced by blocks in ascending order.
func PagesOf(blocks []TextBlock) []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, b := range blocks {
		if _, ok := seen[b.Page]; ok {
			continue
		}
		seen[b.Page] = struct{}{}
		pages = append(pages, b.Page)
	}
	sort.Ints(pages)
	return pages
}
