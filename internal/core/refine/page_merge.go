package refine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

var mergeOptions = core.GenerateOptions{Temperature: 0.0, MaxTokens: 1024}

// Merger combines native and OCR text page by page through the merge task.
type Merger struct {
	tasks *llm.Tasks
	// strict rejects merged text containing tokens found in neither source.
	strict bool
	log    *slog.Logger
}

func NewMerger(tasks *llm.Tasks, strict bool, log *slog.Logger) *Merger {
	return &Merger{tasks: tasks, strict: strict, log: logger.Or(log)}
}

// MergeReport summarizes a document merge.
type MergeReport struct {
	Pages         int
	FallbackPages []int
}

type pageSources struct {
	native []string
	ocr    []string
	ids    []string
	blocks []blockInput
}

func (p *pageSources) add(b models.TextBlock) {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		return
	}
	src := b.Source()
	if src == models.SourceOCR {
		p.ocr = append(p.ocr, text)
	} else {
		p.native = append(p.native, text)
	}
	p.ids = append(p.ids, b.BlockID)
	p.blocks = append(p.blocks, blockInput{
		Source:  src,
		BlockID: b.BlockID,
		Text:    text,
		BBox:    b.BBox,
		Prob:    b.Prob,
	})
}

// Merge returns merged blocks ordered by page. Pages with text in neither
// source produce nothing.
func (m *Merger) Merge(ctx context.Context, native, ocr []models.TextBlock) ([]models.MergedTextBlock, MergeReport) {
	byPage := make(map[int]*pageSources)
	get := func(page int) *pageSources {
		p, ok := byPage[page]
		if !ok {
			p = &pageSources{}
			byPage[page] = p
		}
		return p
	}
	for _, b := range native {
		get(b.Page).add(b)
	}
	for _, b := range ocr {
		get(b.Page).add(b)
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var report MergeReport
	var out []models.MergedTextBlock
	for _, page := range pages {
		src := byPage[page]
		nativeText := strings.TrimSpace(strings.Join(src.native, "\n"))
		ocrText := strings.TrimSpace(strings.Join(src.ocr, "\n"))
		if nativeText == "" && ocrText == "" {
			continue
		}
		report.Pages++

		blocks, reason := m.mergePage(ctx, page, nativeText, ocrText, src.blocks)
		if len(blocks) == 0 {
			m.log.Warn("page merge fell back to concatenation", "page", page, "reason", reason)
			report.FallbackPages = append(report.FallbackPages, page)
			blocks = []models.MergedTextBlock{fallbackBlock(page, nativeText, ocrText, src.ids)}
		}
		out = append(out, blocks...)
	}
	m.log.Info("page merge done", "pages", report.Pages, "fallback_pages", len(report.FallbackPages), "blocks", len(out))
	return out, report
}

func (m *Merger) mergePage(ctx context.Context, page int, nativeText, ocrText string, blocks []blockInput) ([]models.MergedTextBlock, string) {
	in := mergeInput{
		Page:           page,
		NativeText:     nativeText,
		OCRTextCleaned: ocrText,
		Blocks:         blocks,
	}
	if in.Blocks == nil {
		in.Blocks = []blockInput{}
	}
	res := llm.RunTask[mergeResult](ctx, m.tasks, llm.TaskPageMerge, in, mergeOptions)
	if !res.OK {
		return nil, res.Reason
	}
	if len(res.Value.MergedBlocks) == 0 {
		return nil, "empty merged_blocks"
	}

	var log []models.MergeLogEntry
	for _, e := range res.Value.MergeLog {
		log = append(log, models.MergeLogEntry{
			SrcBlockID: string(e.SrcBlockID),
			Action:     string(e.Action),
			Reason:     string(e.Reason),
		})
	}

	sources := nativeText + "\n" + ocrText
	var out []models.MergedTextBlock
	for idx, mb := range res.Value.MergedBlocks {
		text := strings.TrimSpace(mb.Text)
		if text == "" {
			continue
		}
		if m.strict {
			if tok, ok := unknownToken(text, sources); ok {
				return nil, fmt.Sprintf("merged block %d introduces token %q", idx+1, tok)
			}
		}
		ids := []string(mb.SrcBlockIDs)
		if ids == nil {
			ids = []string{}
		}
		out = append(out, models.MergedTextBlock{
			Page:        page,
			BlockID:     fmt.Sprintf("p%d_m%d", page, len(out)+1),
			Text:        text,
			SrcBlockIDs: ids,
			DebugLog:    log,
		})
	}
	if len(out) == 0 {
		return nil, "merged_blocks had no text"
	}
	return out, ""
}

func fallbackBlock(page int, nativeText, ocrText string, ids []string) models.MergedTextBlock {
	var text string
	switch {
	case nativeText != "" && ocrText != "":
		text = nativeText + "\n" + ocrText
	case nativeText != "":
		text = nativeText
	default:
		text = ocrText
	}
	return models.MergedTextBlock{
		Page:        page,
		BlockID:     fmt.Sprintf("p%d_m1", page),
		Text:        text,
		SrcBlockIDs: append([]string{}, ids...),
		Fallback:    true,
	}
}

// unknownToken returns the first whitespace-separated token of text, with
// surrounding punctuation removed, that does not occur in sources.
func unknownToken(text, sources string) (string, bool) {
	for _, f := range strings.Fields(text) {
		tok := strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if tok == "" {
			continue
		}
		if !strings.Contains(sources, tok) {
			return tok, true
		}
	}
	return "", false
}
