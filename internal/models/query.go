package models

// Confidence is the retrieval confidence bucket. Blocked is only used on
// the safety refusal path.
type Confidence string

const (
	ConfidenceUnknown Confidence = "unknown"
	ConfidenceLow     Confidence = "low"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceHigh    Confidence = "high"
	ConfidenceBlocked Confidence = "blocked"
)

var confidenceRank = map[Confidence]int{
	ConfidenceUnknown: 0,
	ConfidenceLow:     1,
	ConfidenceMedium:  2,
	ConfidenceHigh:    3,
}

// Rank orders confidence levels unknown < low < medium < high.
// ok is false for anything outside that order.
func (c Confidence) Rank() (int, bool) {
	r, ok := confidenceRank[c]
	return r, ok
}

// Ambiguity is the intent ambiguity level of a question.
type Ambiguity string

const (
	AmbiguityLow    Ambiguity = "low"
	AmbiguityMedium Ambiguity = "medium"
	AmbiguityHigh   Ambiguity = "high"
)

func (a Ambiguity) Valid() bool {
	switch a {
	case AmbiguityLow, AmbiguityMedium, AmbiguityHigh:
		return true
	}
	return false
}

// QueryOutcome names the terminal state reached by a query.
type QueryOutcome string

const (
	OutcomeAnswered      QueryOutcome = "answered"
	OutcomeBlocked       QueryOutcome = "blocked"
	OutcomeLowConfidence QueryOutcome = "low_confidence"
	OutcomeFallback      QueryOutcome = "answer_fallback"
)

type QueryFilters struct {
	DocType     *string  `json:"doc_type"`
	SectionHint *string  `json:"section_hint"`
	TargetGroup *string  `json:"target_group"`
	ManualTags  []string `json:"manual_tags"`
}

type SafetyMeta struct {
	BlockRequired bool    `json:"block_required"`
	Category      string  `json:"category"`
	Reason        *string `json:"reason"`
}

type QueryRefineMeta struct {
	OriginalQuery string     `json:"original_query"`
	InScope       bool       `json:"in_scope"`
	Safety        SafetyMeta `json:"safety"`
}

// QueryRefineResult is the validated output of the query refine task.
type QueryRefineResult struct {
	NormalizedQuery string          `json:"normalized_query"`
	Keywords        []string        `json:"keywords"`
	Filters         QueryFilters    `json:"filters"`
	Meta            QueryRefineMeta `json:"meta"`
}

// ImageRef is an image surfaced with an answer.
type ImageRef struct {
	ImageKey        string   `json:"image_key"`
	DocumentID      string   `json:"document_id"`
	Page            *int     `json:"page"`
	ImageIndex      *int     `json:"image_index"`
	URL             string   `json:"url"`
	RelatedChunkIDs []string `json:"related_chunk_ids"`
}

// QueryResult is returned by every query, whichever terminal state it reached.
type QueryResult struct {
	Question             string        `json:"question"`
	NormalizedQuery      string        `json:"normalized_query"`
	Answer               string        `json:"answer"`
	SupportingChunks     []ScoredChunk `json:"supporting_chunks"`
	RetrievalConfidence  Confidence    `json:"retrieval_confidence"`
	IntentAmbiguityLevel Ambiguity     `json:"intent_ambiguity_level"`
	NeedClarification    bool          `json:"need_clarification"`
	Answerable           bool          `json:"answerable"`
	SafetyBlocked        bool          `json:"safety_blocked"`
	LatencyMs            float64       `json:"latency_ms"`
	Images               []ImageRef    `json:"images"`
	Outcome              QueryOutcome  `json:"outcome"`
}
