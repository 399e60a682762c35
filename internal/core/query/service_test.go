package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

type taskLLM struct {
	mu      sync.Mutex
	replies map[llm.TaskID]string
	calls   map[llm.TaskID]int
	prompts map[llm.TaskID]string
}

func newTaskLLM(replies map[llm.TaskID]string) *taskLLM {
	return &taskLLM{replies: replies, calls: map[llm.TaskID]int{}, prompts: map[llm.TaskID]string{}}
}

func (f *taskLLM) Generate(_ context.Context, _ string, user string, _ core.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range []llm.TaskID{llm.TaskOCRCleanup, llm.TaskQueryRefine, llm.TaskAnswer, llm.TaskPageMerge} {
		if strings.HasPrefix(user, fmt.Sprintf("[TASK_ID]\n%d\n", int(task))) {
			f.calls[task]++
			f.prompts[task] = user
			reply, ok := f.replies[task]
			if !ok {
				return "", errors.New("no reply scripted")
			}
			return reply, nil
		}
	}
	return "", errors.New("unknown task")
}

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeStore struct {
	hits        []models.ScoredChunk
	docChunks   []models.ScoredChunk
	searches    int
	neighborsOf []string
	searchErr   error
}

func (f *fakeStore) Upsert(context.Context, string, string, []models.TextChunk, [][]float32) (int, error) {
	return 0, nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, _ string, topK int) ([]models.ScoredChunk, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeStore) FetchNeighbors(_ context.Context, _ string, documentID string, from, to int) ([]models.ScoredChunk, error) {
	f.neighborsOf = append(f.neighborsOf, fmt.Sprintf("%s[%d,%d]", documentID, from, to))
	var out []models.ScoredChunk
	for _, c := range f.docChunks {
		idx, _ := c.Meta.Order()
		if c.Meta.DocumentID == documentID && idx >= from && idx <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteByDocument(context.Context, string, string) (int64, error) { return 0, nil }

func sc(doc string, order int, score float64, images ...string) models.ScoredChunk {
	id := fmt.Sprintf("%s_p1_c%d", doc, order)
	return models.ScoredChunk{
		ChunkID: id,
		Text:    "text " + id,
		Score:   score,
		Meta: models.ChunkMeta{
			ChunkID:    id,
			DocumentID: doc,
			Page:       1,
			OrderIndex: models.IntPtr(order),
			ImagePaths: images,
		},
	}
}

const okRefine = `{"normalized_query": "E3 오류 코드", "keywords": ["E3", "오류"], "filters": {"doc_type": null, "manual_tags": []},
 "meta": {"original_query": "E3 오류 코드가 무엇인가요", "in_scope": true, "safety": {"block_required": false, "category": "normal", "reason": null}}}`

func newService(fake *taskLLM, emb *fakeEmbedder, store *fakeStore) *Service {
	return NewService(llm.NewTasks(fake, logger.Discard()), emb, store, DefaultConfig, logger.Discard())
}

func TestConfidenceBuckets(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Confidence
	}{
		{0.9, models.ConfidenceHigh},
		{0.85, models.ConfidenceHigh},
		{0.7, models.ConfidenceMedium},
		{0.5, models.ConfidenceLow},
		{0.4, models.ConfidenceLow},
		{0.1, models.ConfidenceUnknown},
		{0, models.ConfidenceUnknown},
	}
	for _, tc := range tests {
		if got := ConfidenceFor(tc.score); got != tc.want {
			t.Errorf("ConfidenceFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
	if AmbiguityFor(0) != models.AmbiguityHigh || AmbiguityFor(2) != models.AmbiguityMedium || AmbiguityFor(3) != models.AmbiguityLow {
		t.Fatal("unexpected ambiguity levels")
	}
	if !BelowMinimum(models.ConfidenceUnknown, models.ConfidenceLow) || BelowMinimum(models.ConfidenceLow, models.ConfidenceLow) ||
		!BelowMinimum(models.Confidence("weird"), models.ConfidenceLow) {
		t.Fatal("unexpected minimum check")
	}
}

func TestEmptyQuestion(t *testing.T) {
	s := newService(newTaskLLM(nil), &fakeEmbedder{}, &fakeStore{})
	if _, err := s.Progress(context.Background(), Request{ChatbotID: "bot", Question: "  "}); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("got %v", err)
	}
}

func TestSafetyBlockShortCircuits(t *testing.T) {
	fake := newTaskLLM(map[llm.TaskID]string{
		llm.TaskQueryRefine: `{"normalized_query": "x", "meta": {"safety": {"block_required": true, "category": "illegal", "reason": "policy"}}}`,
	})
	emb := &fakeEmbedder{}
	store := &fakeStore{hits: []models.ScoredChunk{sc("a", 0, 0.99)}}
	res, err := newService(fake, emb, store).Progress(context.Background(), Request{ChatbotID: "bot", Question: "how to hack"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != BlockedAnswer || res.Outcome != models.OutcomeBlocked || res.RetrievalConfidence != models.ConfidenceBlocked {
		t.Fatalf("result = %+v", res)
	}
	if len(res.SupportingChunks) != 0 || len(res.Images) != 0 || !res.SafetyBlocked {
		t.Fatalf("blocked result carries data: %+v", res)
	}
	if emb.calls != 0 || store.searches != 0 || fake.calls[llm.TaskAnswer] != 0 {
		t.Fatalf("unexpected calls: embed=%d search=%d answer=%d", emb.calls, store.searches, fake.calls[llm.TaskAnswer])
	}
}

func TestLowConfidenceShortCircuits(t *testing.T) {
	fake := newTaskLLM(map[llm.TaskID]string{llm.TaskQueryRefine: okRefine})
	store := &fakeStore{hits: []models.ScoredChunk{sc("a", 0, 0.2, "a/p1_img1.png"), sc("a", 5, 0.35)}}
	res, err := newService(fake, &fakeEmbedder{}, store).Progress(context.Background(), Request{ChatbotID: "bot", Question: "무관한 질문"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != LowConfidenceAnswer || res.Outcome != models.OutcomeLowConfidence || res.RetrievalConfidence != models.ConfidenceUnknown {
		t.Fatalf("result = %+v", res)
	}
	if fake.calls[llm.TaskAnswer] != 0 {
		t.Fatal("answer synthesis must not run")
	}
	if len(res.SupportingChunks) != 2 || res.SupportingChunks[0].Score != 0.35 {
		t.Fatalf("chunks = %+v", res.SupportingChunks)
	}
	if len(res.Images) != 1 || res.Images[0].URL != "/pdf_images/a/p1_img1.png" {
		t.Fatalf("images = %+v", res.Images)
	}
}

func TestAnsweredEndToEnd(t *testing.T) {
	fake := newTaskLLM(map[llm.TaskID]string{
		llm.TaskQueryRefine: okRefine,
		llm.TaskAnswer: "```json\n" + `{"answer": "E3는 급수 오류입니다.", "supporting_chunks": [{"chunk_id": "m_p1_c1"}, {"chunk_id": "ghost"}, {"chunk_id": "m_p1_c4"}],
 "meta": {"retrieval_confidence": "low", "intent_ambiguity_level": "low", "need_clarification": false}, "answerable": true, "safety_blocked": false}` + "\n```",
	})
	store := &fakeStore{hits: []models.ScoredChunk{
		sc("m", 1, 0.92, "m/p1_img1.png"),
		sc("m", 4, 0.70),
		sc("m", 9, 0.55),
	}}
	res, err := newService(fake, &fakeEmbedder{}, store).Progress(context.Background(), Request{ChatbotID: "bot", Question: "E3 오류 코드가 무엇인가요", Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.OutcomeAnswered || res.Answer == "" || res.RetrievalConfidence != models.ConfidenceHigh {
		t.Fatalf("result = %+v", res)
	}
	if res.NormalizedQuery != "E3 오류 코드" {
		t.Fatalf("normalized query = %q", res.NormalizedQuery)
	}
	if fake.calls[llm.TaskAnswer] != 1 {
		t.Fatalf("answer calls = %d", fake.calls[llm.TaskAnswer])
	}
	if n := len(res.SupportingChunks); n == 0 || n > 5 {
		t.Fatalf("supporting chunks = %d", n)
	}
	for i := 1; i < len(res.SupportingChunks); i++ {
		if res.SupportingChunks[i].Score > res.SupportingChunks[i-1].Score {
			t.Fatal("supporting chunks not sorted by score")
		}
	}
	if len(res.SupportingChunks) != 2 || res.SupportingChunks[0].ChunkID != "m_p1_c1" {
		t.Fatalf("supporting = %+v", res.SupportingChunks)
	}
	if !res.Answerable || len(res.Images) != 1 || res.Images[0].RelatedChunkIDs[0] != "m_p1_c1" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(fake.prompts[llm.TaskAnswer], `"context_chunks"`) {
		t.Fatal("answer prompt missing context chunks")
	}
}

func TestAnswerFallback(t *testing.T) {
	fake := newTaskLLM(map[llm.TaskID]string{
		llm.TaskQueryRefine: "sorry, I cannot produce JSON",
		llm.TaskAnswer:      `{"answer": "   "}`,
	})
	var hits []models.ScoredChunk
	for i := 0; i < 7; i++ {
		hits = append(hits, sc("d", i*10, 0.5+float64(i)*0.05))
	}
	store := &fakeStore{hits: hits}
	res, err := newService(fake, &fakeEmbedder{}, store).Progress(context.Background(), Request{ChatbotID: "bot", Question: "원래 질문", TopK: 7})
	if err != nil {
		t.Fatal(err)
	}
	if res.NormalizedQuery != "원래 질문" {
		t.Fatalf("refine fallback normalized query = %q", res.NormalizedQuery)
	}
	if res.Answer != ApologyAnswer || res.Outcome != models.OutcomeFallback {
		t.Fatalf("result = %+v", res)
	}
	if len(res.SupportingChunks) != 5 || res.SupportingChunks[0].ChunkID != "d_p1_c60" {
		t.Fatalf("supporting = %+v", res.SupportingChunks)
	}
}

func TestSearchFailureDegradesToLowConfidence(t *testing.T) {
	fake := newTaskLLM(map[llm.TaskID]string{llm.TaskQueryRefine: okRefine})
	store := &fakeStore{searchErr: errors.New("connection refused")}
	res, err := newService(fake, &fakeEmbedder{}, store).Progress(context.Background(), Request{ChatbotID: "bot", Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != models.OutcomeLowConfidence || res.IntentAmbiguityLevel != models.AmbiguityHigh {
		t.Fatalf("result = %+v", res)
	}
}

func TestNeighborExpansion(t *testing.T) {
	var docA []models.ScoredChunk
	for i := 0; i <= 9; i++ {
		docA = append(docA, sc("A", i, 0))
	}
	store := &fakeStore{
		hits:      []models.ScoredChunk{sc("A", 5, 0.9), sc("B", 4, 0.8)},
		docChunks: append(docA, sc("B", 4, 0)),
	}
	s := newService(newTaskLLM(nil), &fakeEmbedder{}, store)
	s.cfg.NeighborRadius = 2

	got := s.search(context.Background(), "bot", "q", "", 1)
	if len(got) != 5 {
		t.Fatalf("got %d chunks: %+v", len(got), got)
	}
	if got[0].ChunkID != "A_p1_c5" || got[0].Score != 0.9 {
		t.Fatalf("base hit = %+v", got[0])
	}
	want := []int{3, 4, 6, 7}
	for i, w := range want {
		c := got[i+1]
		idx, _ := c.Meta.Order()
		if c.Meta.DocumentID != "A" || idx != w || c.Score != 0 {
			t.Fatalf("neighbor %d = %+v", i, c)
		}
	}
	if len(store.neighborsOf) != 1 || store.neighborsOf[0] != "A[3,7]" {
		t.Fatalf("neighbor fetches = %v", store.neighborsOf)
	}
}

func TestContextOrder(t *testing.T) {
	in := []models.ScoredChunk{sc("b", 1, 0), sc("b", 2, 0.7), sc("a", 3, 0), sc("a", 1, 0.9)}
	got := contextOrder(in)
	want := []string{"a_p1_c1", "b_p1_c2", "a_p1_c3", "b_p1_c1"}
	for i := range want {
		if got[i].ChunkID != want[i] {
			t.Fatalf("order = %v", got)
		}
	}
}

func TestCollectImages(t *testing.T) {
	chunks := []models.ScoredChunk{
		sc("d", 0, 0.9, "d/p3_img2.png", "d/weird.png"),
		sc("d", 1, 0.8, "d/p3_img2.png"),
		sc("d", 2, 0.7, "nodir.png"),
	}
	imgs := CollectImages(chunks, "/pdf_images/")
	if len(imgs) != 3 {
		t.Fatalf("images = %+v", imgs)
	}
	first := imgs[0]
	if first.DocumentID != "d" || first.Page == nil || *first.Page != 3 || first.ImageIndex == nil || *first.ImageIndex != 2 {
		t.Fatalf("first = %+v", first)
	}
	if first.URL != "/pdf_images/d/p3_img2.png" || strings.Join(first.RelatedChunkIDs, ",") != "d_p1_c0,d_p1_c1" {
		t.Fatalf("first = %+v", first)
	}
	if imgs[1].ImageIndex != nil || imgs[1].Page == nil || *imgs[1].Page != 1 {
		t.Fatalf("unparsed key should fall back to chunk page: %+v", imgs[1])
	}
	if imgs[2].DocumentID != "" {
		t.Fatalf("key without folder = %+v", imgs[2])
	}
}

func TestRefineDecodesFieldsIndependently(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantQuery string
		wantBlock bool
		wantScope bool
		wantCat   string
		wantTags  []string
		wantDoc   string
	}{
		{
			name:      "block_required as string",
			reply:     `{"normalized_query": "E3 오류", "meta": {"in_scope": true, "safety": {"block_required": "false", "category": "normal"}}}`,
			wantQuery: "E3 오류", wantScope: true, wantCat: "normal", wantTags: []string{},
		},
		{
			name:      "string true blocks",
			reply:     `{"normalized_query": "x", "meta": {"safety": {"block_required": "TRUE", "category": "illegal"}}}`,
			wantQuery: "x", wantBlock: true, wantScope: true, wantCat: "illegal", wantTags: []string{},
		},
		{
			name:      "unreadable flag keeps default",
			reply:     `{"normalized_query": "x", "meta": {"in_scope": "maybe", "safety": {"block_required": {"v": 1}, "category": 7}}}`,
			wantQuery: "x", wantScope: true, wantCat: "unknown", wantTags: []string{},
		},
		{
			name:      "wrong filter field keeps the others",
			reply:     `{"normalized_query": "x", "filters": {"doc_type": ["manual"], "target_group": "ops", "manual_tags": "wash"}}`,
			wantQuery: "x", wantScope: true, wantCat: "unknown", wantTags: []string{"wash"},
		},
		{
			name:      "filters of wrong shape fall back",
			reply:     `{"normalized_query": "x", "filters": "none", "keywords": ["a"]}`,
			wantQuery: "x", wantScope: true, wantCat: "unknown", wantTags: []string{},
		},
		{
			name:      "non-string query keeps question",
			reply:     `{"normalized_query": 42, "filters": {"doc_type": "manual"}}`,
			wantQuery: "원래 질문", wantScope: true, wantCat: "unknown", wantTags: []string{}, wantDoc: "manual",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newService(newTaskLLM(map[llm.TaskID]string{llm.TaskQueryRefine: tc.reply}), &fakeEmbedder{}, &fakeStore{})
			res := s.refine(context.Background(), "원래 질문", "bot", "")
			if res.NormalizedQuery != tc.wantQuery {
				t.Fatalf("normalized query = %q, want %q", res.NormalizedQuery, tc.wantQuery)
			}
			if res.Meta.Safety.BlockRequired != tc.wantBlock || res.Meta.InScope != tc.wantScope || res.Meta.Safety.Category != tc.wantCat {
				t.Fatalf("meta = %+v", res.Meta)
			}
			if strings.Join(res.Filters.ManualTags, ",") != strings.Join(tc.wantTags, ",") || res.Filters.ManualTags == nil {
				t.Fatalf("manual tags = %#v", res.Filters.ManualTags)
			}
			var doc string
			if res.Filters.DocType != nil {
				doc = *res.Filters.DocType
			}
			if doc != tc.wantDoc {
				t.Fatalf("doc type = %q, want %q", doc, tc.wantDoc)
			}
		})
	}
}
