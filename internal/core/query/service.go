package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
	"github.com/markdave123-py/doqmate/internal/telemetry"
)

var ErrEmptyQuestion = errors.New("question must not be empty")

// Fixed user-facing answers.
const (
	BlockedAnswer = "이 챗봇은 업로드된 문서를 기반으로 한 업무 질의응답용입니다.\n" +
		"해당 질문은 서비스 정책상 답변하지 않습니다."
	LowConfidenceAnswer = "이 챗봇은 업로드된 문서를 기반으로만 답변합니다.\n" +
		"현재 질문과 직접적으로 연관된 문서 내용을 찾지 못해, 임의로 추측해서 답변하지 않겠습니다."
	ApologyAnswer = "답변 생성 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요.\n" +
		"이 챗봇은 문서에 근거하지 않은 내용을 임의로 생성하지 않습니다."
)

type Config struct {
	MinConfidence       models.Confidence
	MaxContextChunks    int
	MaxSupportingChunks int
	NeighborRadius      int
	DefaultTopK         int
	ImageURLPrefix      string
}

var DefaultConfig = Config{
	MinConfidence:       models.ConfidenceLow,
	MaxContextChunks:    10,
	MaxSupportingChunks: 5,
	NeighborRadius:      2,
	DefaultTopK:         5,
	ImageURLPrefix:      "/pdf_images",
}

// Request is one question against a chatbot's documents.
type Request struct {
	ChatbotID string
	Question  string
	UserGroup string
	TopK      int
	Debug     bool
}

// Service answers questions: refine, safety check, search, confidence gate,
// answer synthesis.
type Service struct {
	tasks    *llm.Tasks
	embedder core.EmbeddingProvider
	store    core.VectorStore
	cfg      Config
	log      *slog.Logger
}

func NewService(tasks *llm.Tasks, embedder core.EmbeddingProvider, store core.VectorStore, cfg Config, log *slog.Logger) *Service {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultConfig.DefaultTopK
	}
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = DefaultConfig.MaxContextChunks
	}
	if cfg.MinConfidence == "" {
		cfg.MinConfidence = DefaultConfig.MinConfidence
	}
	return &Service{tasks: tasks, embedder: embedder, store: store, cfg: cfg, log: logger.Or(log)}
}

// Progress runs the query pipeline. Only an empty question is an error;
// every other failure degrades the answer instead.
func (s *Service) Progress(ctx context.Context, req Request) (*models.QueryResult, error) {
	start := time.Now()
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	ctx, span := telemetry.Tracer().Start(ctx, "query.progress")
	defer span.End()
	log := s.log.With("request_id", uuid.NewString(), "chatbot_id", req.ChatbotID, "user_group", req.UserGroup)

	refined := s.refine(ctx, q, req.ChatbotID, req.UserGroup)
	result := &models.QueryResult{
		Question:         q,
		NormalizedQuery:  refined.NormalizedQuery,
		SupportingChunks: []models.ScoredChunk{},
		Images:           []models.ImageRef{},
	}
	finish := func(outcome models.QueryOutcome, chunks []models.ScoredChunk, best float64) *models.QueryResult {
		result.Outcome = outcome
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
		span.SetAttributes(
			attribute.String("query.outcome", string(outcome)),
			attribute.String("query.confidence", string(result.RetrievalConfidence)),
			attribute.Int("query.chunks", len(chunks)),
		)
		log.Info("query done",
			"outcome", outcome,
			"top_k", topK,
			"latency_ms", result.LatencyMs,
			"max_score", best,
		)
		if req.Debug {
			s.dump(log, result, refined, chunks)
		}
		return result
	}

	if refined.Meta.Safety.BlockRequired {
		result.Answer = BlockedAnswer
		result.RetrievalConfidence = models.ConfidenceBlocked
		result.IntentAmbiguityLevel = models.AmbiguityHigh
		result.SafetyBlocked = true
		reason := "policy_block"
		if r := refined.Meta.Safety.Reason; r != nil && *r != "" {
			reason = *r
		}
		log.Info("query blocked by safety policy", "reason", reason, "category", refined.Meta.Safety.Category)
		return finish(models.OutcomeBlocked, nil, 0), nil
	}

	chunks := byScoreDesc(s.search(ctx, req.ChatbotID, refined.NormalizedQuery, req.UserGroup, topK))
	best := maxScore(chunks)
	conf := ConfidenceFor(best)
	amb := AmbiguityFor(len(chunks))
	result.RetrievalConfidence = conf
	result.IntentAmbiguityLevel = amb

	if BelowMinimum(conf, s.cfg.MinConfidence) {
		result.Answer = LowConfidenceAnswer
		if len(chunks) > 0 {
			result.SupportingChunks = chunks
		}
		result.Images = CollectImages(chunks, s.cfg.ImageURLPrefix)
		return finish(models.OutcomeLowConfidence, chunks, best), nil
	}

	contextChunks := contextOrder(chunks)
	if len(contextChunks) > s.cfg.MaxContextChunks {
		contextChunks = contextChunks[:s.cfg.MaxContextChunks]
	}
	result.Images = CollectImages(contextChunks, s.cfg.ImageURLPrefix)

	ans := s.synthesize(ctx, q, refined, conf, amb, contextChunks)
	result.Answer = ans.text
	if len(ans.supporting) > 0 {
		result.SupportingChunks = ans.supporting
	}
	result.IntentAmbiguityLevel = ans.ambiguity
	result.NeedClarification = ans.needClarification
	result.Answerable = ans.answerable
	result.SafetyBlocked = ans.safetyBlocked
	if ans.fallback {
		return finish(models.OutcomeFallback, chunks, best), nil
	}
	return finish(models.OutcomeAnswered, chunks, best), nil
}

// dump logs the whole pipeline state for one query.
func (s *Service) dump(log *slog.Logger, res *models.QueryResult, refined models.QueryRefineResult, chunks []models.ScoredChunk) {
	items := make([]map[string]any, 0, len(chunks))
	for i, c := range chunks {
		snippet := []rune(c.Text)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		items = append(items, map[string]any{
			"rank":     i + 1,
			"chunk_id": c.ChunkID,
			"score":    c.Score,
			"page":     c.Meta.Page,
			"snippet":  string(snippet),
		})
	}
	log.Info("query pipeline",
		"question", res.Question,
		"normalized_query", res.NormalizedQuery,
		"keywords", refined.Keywords,
		"filters", refined.Filters,
		"retrieval_confidence", res.RetrievalConfidence,
		"intent_ambiguity_level", res.IntentAmbiguityLevel,
		"need_clarification", res.NeedClarification,
		"latency_ms", res.LatencyMs,
		"chunks", items,
		"answer", res.Answer,
	)
}
