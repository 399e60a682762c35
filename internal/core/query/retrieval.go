package query

import (
	"context"
	"sort"

	"github.com/markdave123-py/doqmate/internal/models"
)

// search embeds the query and returns the scored top-K hits followed by
// their neighbors. Store failures degrade to fewer results.
func (s *Service) search(ctx context.Context, chatbotID, query, userGroup string, topK int) []models.ScoredChunk {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		s.log.Error("query embedding failed", "chatbot_id", chatbotID, "error", err)
		return nil
	}
	base, err := s.store.Search(ctx, chatbotID, vecs[0], userGroup, topK)
	if err != nil {
		s.log.Error("vector search failed", "chatbot_id", chatbotID, "error", err)
		return nil
	}
	if len(base) == 0 || s.cfg.NeighborRadius <= 0 {
		return base
	}
	return append(base, s.neighbors(ctx, chatbotID, base)...)
}

// neighbors fetches chunks within NeighborRadius of each hit's order index in
// the same document. They get score 0 and are ordered by document and order.
func (s *Service) neighbors(ctx context.Context, chatbotID string, base []models.ScoredChunk) []models.ScoredChunk {
	seen := make(map[string]bool, len(base))
	targets := make(map[string]map[int]bool)
	var docs []string
	for _, hit := range base {
		seen[hit.ChunkID] = true
		idx, ok := hit.Meta.Order()
		if !ok || hit.Meta.DocumentID == "" {
			continue
		}
		set, ok := targets[hit.Meta.DocumentID]
		if !ok {
			set = make(map[int]bool)
			targets[hit.Meta.DocumentID] = set
			docs = append(docs, hit.Meta.DocumentID)
		}
		for d := -s.cfg.NeighborRadius; d <= s.cfg.NeighborRadius; d++ {
			if d != 0 {
				set[idx+d] = true
			}
		}
	}

	var out []models.ScoredChunk
	for _, doc := range docs {
		set := targets[doc]
		lo, hi := bounds(set)
		found, err := s.store.FetchNeighbors(ctx, chatbotID, doc, lo, hi)
		if err != nil {
			s.log.Warn("neighbor fetch failed", "chatbot_id", chatbotID, "document_id", doc, "error", err)
			continue
		}
		for _, ch := range found {
			idx, ok := ch.Meta.Order()
			if !ok || !set[idx] || ch.Meta.DocumentID != doc || seen[ch.ChunkID] {
				continue
			}
			seen[ch.ChunkID] = true
			ch.Score = 0
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Meta.DocumentID != out[j].Meta.DocumentID {
			return out[i].Meta.DocumentID < out[j].Meta.DocumentID
		}
		a, _ := out[i].Meta.Order()
		b, _ := out[j].Meta.Order()
		return a < b
	})
	return out
}

func bounds(set map[int]bool) (int, int) {
	first := true
	var lo, hi int
	for v := range set {
		if first || v < lo {
			lo = v
		}
		if first || v > hi {
			hi = v
		}
		first = false
	}
	return lo, hi
}

func byScoreDesc(chunks []models.ScoredChunk) []models.ScoredChunk {
	out := append([]models.ScoredChunk(nil), chunks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// contextOrder puts scored hits first, then groups by document and order.
func contextOrder(chunks []models.ScoredChunk) []models.ScoredChunk {
	out := append([]models.ScoredChunk(nil), chunks...)
	rank := func(c models.ScoredChunk) int {
		if c.Score > 0 {
			return 0
		}
		return 1
	}
	order := func(c models.ScoredChunk) int {
		if idx, ok := c.Meta.Order(); ok {
			return idx
		}
		return 1 << 30
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := rank(out[i]), rank(out[j]); ri != rj {
			return ri < rj
		}
		if out[i].Meta.DocumentID != out[j].Meta.DocumentID {
			return out[i].Meta.DocumentID < out[j].Meta.DocumentID
		}
		return order(out[i]) < order(out[j])
	})
	return out
}

func maxScore(chunks []models.ScoredChunk) float64 {
	best := 0.0
	for _, c := range chunks {
		if c.Score > best {
			best = c.Score
		}
	}
	return best
}
