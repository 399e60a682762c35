package db

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/doqmate/internal/models"
)

// MemoryStore is an in-process vector store with exact L2 search.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, chatbotID, documentID string, chunks []models.TextChunk, embeddings [][]float32) (int, error) {
	records, err := toRecords(chatbotID, documentID, chunks, embeddings)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[chatbotID]
	if !ok {
		col = make(map[string]Record)
		s.collections[chatbotID] = col
	}
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		col[r.ID] = r
	}
	return len(records), nil
}

func (s *MemoryStore) Search(_ context.Context, chatbotID string, query []float32, userGroup string, topK int) ([]models.ScoredChunk, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScoredChunk
	for _, r := range s.collections[chatbotID] {
		if asString(r.Metadata[KeyChatbotID]) != chatbotID {
			continue
		}
		if userGroup != "" && asString(r.Metadata[KeyUserGroup]) != userGroup {
			continue
		}
		d, ok := l2(query, r.Embedding)
		if !ok {
			continue
		}
		out = append(out, models.ScoredChunk{ChunkID: r.ID, Text: r.Document, Score: Score(d), Meta: MetaFromRecord(r.Metadata)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *MemoryStore) FetchNeighbors(_ context.Context, chatbotID, documentID string, from, to int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScoredChunk
	for _, r := range s.collections[chatbotID] {
		if asString(r.Metadata[KeyDocumentID]) != documentID {
			continue
		}
		idx, ok := asInt(r.Metadata[KeyOrderIndex])
		if !ok || idx < from || idx > to {
			continue
		}
		out = append(out, models.ScoredChunk{ChunkID: r.ID, Text: r.Document, Meta: MetaFromRecord(r.Metadata)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].Meta.Order()
		b, _ := out[j].Meta.Order()
		return a < b
	})
	return out, nil
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, chatbotID, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	col := s.collections[chatbotID]
	for id, r := range col {
		if asString(r.Metadata[KeyDocumentID]) == documentID {
			delete(col, id)
			n++
		}
	}
	return n, nil
}

func l2(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), true
}
