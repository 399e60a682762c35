package query

import (
	"context"
	"strings"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/models"
)

var answerOptions = core.GenerateOptions{Temperature: 0.1, MaxTokens: 2048}

type answerInput struct {
	Question             string               `json:"question"`
	NormalizedQuery      string               `json:"normalized_query"`
	Keywords             []string             `json:"keywords"`
	Filters              models.QueryFilters  `json:"filters"`
	RetrievalConfidence  models.Confidence    `json:"retrieval_confidence"`
	IntentAmbiguityLevel models.Ambiguity     `json:"intent_ambiguity_level"`
	ContextChunks        []models.ScoredChunk `json:"context_chunks"`
}

type answerReply struct {
	Answer           string `json:"answer"`
	SupportingChunks []struct {
		ChunkID string `json:"chunk_id"`
	} `json:"supporting_chunks"`
	Meta struct {
		IntentAmbiguityLevel string `json:"intent_ambiguity_level"`
		NeedClarification    bool   `json:"need_clarification"`
	} `json:"meta"`
	Answerable    *bool `json:"answerable"`
	SafetyBlocked *bool `json:"safety_blocked"`
}

// answer is the outcome of answer synthesis.
type answer struct {
	text              string
	supporting        []models.ScoredChunk
	ambiguity         models.Ambiguity
	needClarification bool
	answerable        bool
	safetyBlocked     bool
	fallback          bool
}

// synthesize runs the answer task over the context chunks. A failed call or
// an empty answer yields the fixed apology with the top chunks by score.
func (s *Service) synthesize(ctx context.Context, question string, refined models.QueryRefineResult,
	conf models.Confidence, amb models.Ambiguity, contextChunks []models.ScoredChunk,
) answer {
	in := answerInput{
		Question:             question,
		NormalizedQuery:      refined.NormalizedQuery,
		Keywords:             refined.Keywords,
		Filters:              refined.Filters,
		RetrievalConfidence:  conf,
		IntentAmbiguityLevel: amb,
		ContextChunks:        contextChunks,
	}
	if in.Keywords == nil {
		in.Keywords = []string{}
	}

	out := llm.RunTask[answerReply](ctx, s.tasks, llm.TaskAnswer, in, answerOptions)
	text := ""
	if out.OK {
		text = strings.TrimSpace(out.Value.Answer)
	}
	if text == "" {
		reason := out.Reason
		if out.OK {
			reason = "empty answer"
		}
		s.log.Warn("answer synthesis fell back", "reason", reason)
		return answer{
			text:       ApologyAnswer,
			supporting: s.topSupporting(contextChunks),
			ambiguity:  amb,
			fallback:   true,
		}
	}

	r := out.Value
	res := answer{
		text:              text,
		ambiguity:         amb,
		needClarification: r.Meta.NeedClarification,
		answerable:        true,
	}
	if a := models.Ambiguity(r.Meta.IntentAmbiguityLevel); a.Valid() {
		res.ambiguity = a
	}
	if r.Answerable != nil {
		res.answerable = *r.Answerable
	}
	if r.SafetyBlocked != nil {
		res.safetyBlocked = *r.SafetyBlocked
	}

	byID := make(map[string]models.ScoredChunk, len(contextChunks))
	for _, c := range contextChunks {
		byID[c.ChunkID] = c
	}
	var used []models.ScoredChunk
	seen := make(map[string]bool)
	for _, sc := range r.SupportingChunks {
		c, ok := byID[sc.ChunkID]
		if !ok || seen[sc.ChunkID] {
			continue
		}
		seen[sc.ChunkID] = true
		used = append(used, c)
	}
	if len(used) == 0 {
		used = contextChunks
	}
	res.supporting = s.topSupporting(used)
	return res
}

func (s *Service) topSupporting(chunks []models.ScoredChunk) []models.ScoredChunk {
	out := byScoreDesc(chunks)
	if n := s.cfg.MaxSupportingChunks; n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
