package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markdave123-py/doqmate/internal/core/chunker"
	db "github.com/markdave123-py/doqmate/internal/core/database"
	objectclient "github.com/markdave123-py/doqmate/internal/core/object-client"
	"github.com/markdave123-py/doqmate/internal/core/refine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type fakeExtractor struct {
	ext *models.Extraction
	err error
}

func (f *fakeExtractor) Extract(context.Context, string, string) (*models.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ext, nil
}

type fakeMasker struct{ calls int }

func (f *fakeMasker) Mask(_ context.Context, _ string, ext *models.Extraction) ([]models.MaskedPage, error) {
	f.calls++
	pages := make([]models.MaskedPage, 0, ext.PageCount)
	for p := 1; p <= ext.PageCount; p++ {
		pages = append(pages, models.MaskedPage{Page: p, ScaleX: 1, ScaleY: 1})
	}
	return pages, nil
}

type fakeOCR struct {
	blocks []models.TextBlock
	pages  int
}

func (f *fakeOCR) Run(_ context.Context, pages []models.MaskedPage) []models.TextBlock {
	f.pages += len(pages)
	return f.blocks
}

type upperCleaner struct{}

func (upperCleaner) CleanBlocks(_ context.Context, blocks []models.TextBlock) ([]models.TextBlock, int) {
	out := append([]models.TextBlock(nil), blocks...)
	for i := range out {
		out[i].Text = strings.ToUpper(out[i].Text)
	}
	return out, len(out)
}

// joinMerger concatenates native then OCR text per page.
type joinMerger struct{}

func (joinMerger) Merge(_ context.Context, native, ocr []models.TextBlock) ([]models.MergedTextBlock, refine.MergeReport) {
	text := make(map[int][]string)
	for _, b := range append(append([]models.TextBlock(nil), native...), ocr...) {
		text[b.Page] = append(text[b.Page], b.Text)
	}
	var out []models.MergedTextBlock
	for _, p := range models.PagesOf(append(append([]models.TextBlock(nil), native...), ocr...)) {
		out = append(out, models.MergedTextBlock{Page: p, BlockID: fmt.Sprintf("p%d_m1", p), Text: strings.Join(text[p], "\n")})
	}
	return out, refine.MergeReport{Pages: len(out), FallbackPages: []int{2}}
}

type batchEmbedder struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (f *batchEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i)}
	}
	return out, nil
}

func sampleExtraction() *models.Extraction {
	return &models.Extraction{
		PageCount: 2,
		TextBlocks: []models.TextBlock{
			{Page: 1, BlockID: "p1_b1", Text: strings.Repeat("가", 30)},
			{Page: 2, BlockID: "p2_b2", Text: "second page"},
		},
		ImageBlocks: []models.ImageBlock{
			{Page: 1, ImageID: "p1_img1", ImagePath: "doc1/p1_img1.png"},
			{Page: 2, ImageID: "p2_img1"},
		},
	}
}

func newTestIngestor(t *testing.T, stages Stages, emb *batchEmbedder, store *db.MemoryStore, status *db.MemoryStatusStore, objects *objectclient.LocalClient) *DocumentIngestor {
	t.Helper()
	ch, err := chunker.New(chunker.Config{MaxChars: 20, Overlap: 5}, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	stages.Chunker = ch
	if stages.Merger == nil {
		stages.Merger = joinMerger{}
	}
	cfg := IngestConfig{EmbedBatchSize: 2, Workers: 1, QueueSize: 4}
	ing := NewDocumentIngestor(stages, emb, store, status, nil, cfg, logger.Discard())
	if objects != nil {
		ing.objects = objects
	}
	return ing
}

func TestProcessDocument(t *testing.T) {
	ocr := &fakeOCR{blocks: []models.TextBlock{{Page: 2, BlockID: "p2_ocr_b1", Text: "scanned"}}}
	masker := &fakeMasker{}
	emb := &batchEmbedder{}
	store := db.NewMemoryStore()
	ing := newTestIngestor(t, Stages{
		Extractor: &fakeExtractor{ext: sampleExtraction()},
		Masker:    masker,
		OCR:       ocr,
		Cleaner:   upperCleaner{},
	}, emb, store, nil, nil)

	sum, err := ing.ProcessDocument(context.Background(), models.IndexRequest{
		ChatbotID: "bot", DocumentID: "doc1", PDFPath: "x.pdf", FileName: "manual.pdf", Debug: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if masker.calls != 1 || ocr.pages != 2 {
		t.Fatalf("mask calls %d, ocr pages %d", masker.calls, ocr.pages)
	}
	if sum.Pages != 2 || sum.NativeBlocks != 2 || sum.ImageBlocks != 2 || sum.OCRBlocks != 1 || sum.CleanedBlocks != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.FallbackPages) != 1 || sum.FallbackPages[0] != 2 {
		t.Fatalf("fallback pages = %v", sum.FallbackPages)
	}
	// page 1: 30 runes, window 20/5 → 2 chunks; page 2: "second page\nSCANNED" (19 runes) → 1 chunk
	if sum.Chunks != 3 || sum.Upserted != 3 {
		t.Fatalf("chunks %d upserted %d", sum.Chunks, sum.Upserted)
	}
	if fmt.Sprint(emb.batches) != "[2 1]" {
		t.Fatalf("embed batches = %v", emb.batches)
	}

	hits, err := store.FetchNeighbors(context.Background(), "bot", "doc1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("stored %d chunks", len(hits))
	}
	for _, h := range hits {
		want := 0
		if h.Meta.Page == 1 {
			want = 1
		}
		if len(h.Meta.ImagePaths) != want {
			t.Fatalf("chunk %s image paths = %v", h.ChunkID, h.Meta.ImagePaths)
		}
		if h.Meta.Page == 2 && !strings.Contains(h.Text, "SCANNED") {
			t.Fatalf("cleaned OCR text missing: %q", h.Text)
		}
	}
}

func TestProcessDocumentWithoutOCR(t *testing.T) {
	emb := &batchEmbedder{}
	ing := newTestIngestor(t, Stages{Extractor: &fakeExtractor{ext: sampleExtraction()}}, emb, db.NewMemoryStore(), nil, nil)
	sum, err := ing.ProcessDocument(context.Background(), models.IndexRequest{ChatbotID: "bot", DocumentID: "doc1"})
	if err != nil {
		t.Fatal(err)
	}
	if sum.OCRBlocks != 0 || sum.CleanedBlocks != 0 || sum.Chunks != 3 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestProcessDocumentFailures(t *testing.T) {
	tests := []struct {
		name    string
		extract *fakeExtractor
		embErr  error
		want    string
	}{
		{"extraction", &fakeExtractor{err: errors.New("not a pdf")}, nil, "not a pdf"},
		{"embedding", &fakeExtractor{ext: sampleExtraction()}, errors.New("connection refused"), "embed chunks 0-2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := db.NewMemoryStore()
			ing := newTestIngestor(t, Stages{Extractor: tc.extract}, &batchEmbedder{err: tc.embErr}, store, nil, nil)
			_, err := ing.ProcessDocument(context.Background(), models.IndexRequest{ChatbotID: "bot", DocumentID: "doc1"})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
			if hits, _ := store.FetchNeighbors(context.Background(), "bot", "doc1", 0, 10); len(hits) != 0 {
				t.Fatalf("partial upsert: %d chunks", len(hits))
			}
		})
	}
}

func TestProcessDocumentNoText(t *testing.T) {
	emb := &batchEmbedder{}
	ing := newTestIngestor(t, Stages{Extractor: &fakeExtractor{ext: &models.Extraction{PageCount: 1}}}, emb, db.NewMemoryStore(), nil, nil)
	sum, err := ing.ProcessDocument(context.Background(), models.IndexRequest{ChatbotID: "bot", DocumentID: "empty"})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Chunks != 0 || len(emb.batches) != 0 {
		t.Fatalf("summary = %+v, batches = %v", sum, emb.batches)
	}
}

func TestScheduleRejectsDuplicates(t *testing.T) {
	ing := newTestIngestor(t, Stages{Extractor: &fakeExtractor{ext: sampleExtraction()}}, &batchEmbedder{}, db.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	req := models.IndexRequest{ChatbotID: "bot", DocumentID: "doc1"}

	if err := ing.Schedule(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := ing.Schedule(ctx, req); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("duplicate schedule: %v", err)
	}
	if _, err := ing.Index(ctx, req); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("index while queued: %v", err)
	}
	if _, err := ing.DeleteDocument(ctx, "bot", "doc1"); !errors.Is(err, ErrDocumentBusy) {
		t.Fatalf("delete while queued: %v", err)
	}
	if err := ing.Schedule(ctx, models.IndexRequest{ChatbotID: "other", DocumentID: "doc1"}); err != nil {
		t.Fatalf("same document id under another chatbot: %v", err)
	}
}

func TestScheduleHonoursContextWhenFull(t *testing.T) {
	ing := newTestIngestor(t, Stages{}, &batchEmbedder{}, db.NewMemoryStore(), nil, nil)
	for n := 0; n < 4; n++ {
		if err := ing.Schedule(context.Background(), models.IndexRequest{ChatbotID: "bot", DocumentID: fmt.Sprint(n)}); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := models.IndexRequest{ChatbotID: "bot", DocumentID: "late"}
	if err := ing.Schedule(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if !ing.claim("bot", "late") {
		t.Fatal("a timed-out schedule must release its claim")
	}
}

func waitStatus(t *testing.T, status *db.MemoryStatusStore, chatbotID, documentID string, want models.DocumentStatus) *models.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, _ := status.GetDocument(context.Background(), chatbotID, documentID)
		if doc != nil && doc.Status == want {
			return doc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s/%s never reached %s", chatbotID, documentID, want)
	return nil
}

func TestWorkersRecordStatus(t *testing.T) {
	status := db.NewMemoryStatusStore()
	ctx := context.Background()
	for _, id := range []string{"good", "bad"} {
		if err := status.CreateDocument(ctx, &models.Document{ID: id, ChatbotID: "bot", Status: models.StatusPending}); err != nil {
			t.Fatal(err)
		}
	}

	extractor := &routingExtractor{fail: map[string]bool{"bad": true}}
	ing := newTestIngestor(t, Stages{Extractor: extractor}, &batchEmbedder{}, db.NewMemoryStore(), status, nil)

	runCtx, cancel := context.WithCancel(ctx)
	ing.Start(runCtx)
	for _, id := range []string{"good", "bad"} {
		if err := ing.Schedule(ctx, models.IndexRequest{ChatbotID: "bot", DocumentID: id}); err != nil {
			t.Fatal(err)
		}
	}

	waitStatus(t, status, "bot", "good", models.StatusReady)
	failed := waitStatus(t, status, "bot", "bad", models.StatusFailed)
	if !strings.Contains(failed.LastError, "corrupt") {
		t.Fatalf("last error = %q", failed.LastError)
	}

	cancel()
	if err := ing.Wait(); err != nil {
		t.Fatal(err)
	}
	// once finished the document can be scheduled again
	if !ing.claim("bot", "good") {
		t.Fatal("owner not released after indexing")
	}
}

type routingExtractor struct{ fail map[string]bool }

func (r *routingExtractor) Extract(_ context.Context, _ string, documentID string) (*models.Extraction, error) {
	if r.fail[documentID] {
		return nil, errors.New("corrupt xref table")
	}
	return sampleExtraction(), nil
}

func TestIndexCreatesMissingStatusRow(t *testing.T) {
	status := db.NewMemoryStatusStore()
	ing := newTestIngestor(t, Stages{Extractor: &fakeExtractor{ext: sampleExtraction()}}, &batchEmbedder{}, db.NewMemoryStore(), status, nil)
	sum, err := ing.Index(context.Background(), models.IndexRequest{ChatbotID: "bot", DocumentID: "cli", FileName: "a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Upserted != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	doc, _ := status.GetDocument(context.Background(), "bot", "cli")
	if doc == nil || doc.Status != models.StatusReady || doc.FileName != "a.pdf" {
		t.Fatalf("status row = %+v", doc)
	}
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	objects, err := objectclient.NewLocalClient(root, "/pdf_images")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"doc1/p1_img1.png", "doc1/p2_img1.png", "doc2/p1_img1.png"} {
		if _, err := objects.UploadFile(ctx, key, []byte("png"), "image/png"); err != nil {
			t.Fatal(err)
		}
	}
	store := db.NewMemoryStore()
	status := db.NewMemoryStatusStore()
	ing := newTestIngestor(t, Stages{Extractor: &fakeExtractor{ext: sampleExtraction()}}, &batchEmbedder{}, store, status, objects)

	if _, err := ing.Index(ctx, models.IndexRequest{ChatbotID: "bot", DocumentID: "doc1"}); err != nil {
		t.Fatal(err)
	}
	sum, err := ing.DeleteDocument(ctx, "bot", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.DeletedVectors != 3 || sum.DeletedImages != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if hits, _ := store.FetchNeighbors(ctx, "bot", "doc1", 0, 10); len(hits) != 0 {
		t.Fatalf("vectors left: %d", len(hits))
	}
	if _, err := os.Stat(filepath.Join(root, "doc2", "p1_img1.png")); err != nil {
		t.Fatalf("other document's image removed: %v", err)
	}
	if doc, _ := status.GetDocument(ctx, "bot", "doc1"); doc != nil {
		t.Fatalf("status row left: %+v", doc)
	}

	again, err := ing.DeleteDocument(ctx, "bot", "doc1")
	if err != nil || again.DeletedVectors != 0 || again.DeletedImages != 0 {
		t.Fatalf("second delete = %+v, %v", again, err)
	}
}
