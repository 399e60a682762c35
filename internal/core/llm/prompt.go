package llm

import (
	"fmt"
	"strings"
)

// TaskID selects the instructions and output schema of a model call.
type TaskID int

const (
	TaskOCRCleanup  TaskID = 0
	TaskQueryRefine TaskID = 1
	TaskAnswer      TaskID = 2
	TaskPageMerge   TaskID = 3
)

func (t TaskID) String() string {
	switch t {
	case TaskOCRCleanup:
		return "ocr_cleanup"
	case TaskQueryRefine:
		return "query_refine"
	case TaskAnswer:
		return "answer"
	case TaskPageMerge:
		return "page_merge"
	}
	return fmt.Sprintf("task_%d", int(t))
}

// SystemPrompt is sent with every task.
const SystemPrompt = `You are an assistant model running inside a retrieval system for product manuals and documents.

- Always read TASK_ID and TASK_DESC first and do only what they describe.
- Your output must follow the JSON structure given in OUTPUT_FORMAT.
- Never output explanations, comments, code fences, markdown or prose outside the JSON.
- The response must contain exactly one JSON object.
- Never invent facts that are not present in the documents or the input.
- Korean and English may be mixed in values, but JSON keys must match OUTPUT_FORMAT exactly.`

var taskDescriptions = map[TaskID]string{
	TaskOCRCleanup: `[OCR cleanup]

Role:
- Clean up raw OCR output (raw_text) so that it reads naturally.

Rules:
- Never change the meaning, content or sentence order.
- Fix line breaks, spacing and encoding artifacts (for example 'ﬁ' -> 'fi').
- Correct only obvious recognition errors in spelling, spacing and punctuation.
- Do not summarize or shorten. Do not delete meaningful content.
- Do not add information or fill gaps by guessing.

Input:
- raw_text: the string produced by the OCR engine, possibly multi-line.

Output:
- cleaned_text: the full cleaned text.`,

	TaskQueryRefine: `[Query refinement and keyword extraction]

Role:
- Rewrite the user's question into a form suited for search and produce keywords, filters and a safety judgment.

Rules:
- normalized_query only removes honorifics and redundant phrasing. Do not change the intent.
- Never introduce dates, versions, feature names or policies that the question does not contain.
- keywords holds 3 to 10 key nouns or terms.
- filters holds document type, section and target group only when certain; otherwise null or an empty list.
- meta.in_scope is false when the question is unrelated to work documents.
- meta.safety.block_required is true only for requests that must be refused by policy.`,

	TaskAnswer: `[Final answer generation]

Role:
- Answer the question using the retrieved context_chunks and the meta information
  (retrieval_confidence, intent_ambiguity_level).

Rules:
- Base the answer only on context_chunks.
- When the documents do not support an answer, say so plainly instead of guessing.
- Never invent policies, features, numbers or dates that do not appear in the documents.
- Merge repeated content from several chunks naturally.
- Summaries that aid understanding are allowed but must not distort meaning or drop important limitations.
- supporting_chunks lists the few chunks actually used, identified by chunk_id.

Output:
- answer: the natural-language answer, in Korean unless the question is in another language.
- supporting_chunks: the chunks used, with text, score and meta.
- meta.retrieval_confidence, meta.intent_ambiguity_level and meta.need_clarification.`,

	TaskPageMerge: `[Native text and OCR merge]

Role:
- For one page, combine the native text layer (native_text), the cleaned OCR text (ocr_text_cleaned)
  and their block metadata (blocks) into merged_blocks with a merge_log.

Input fields:
- page: 1-based page number
- native_text: text extracted from the PDF text layer
- ocr_text_cleaned: OCR text after cleanup
- blocks: per-block metadata
  - source: "native" or "ocr"
  - block_id: source block id (for example "p1_b3", "p1_ocr_b2")
  - text, bbox [x0, y0, x1, y1] in PDF points, prob (null for native text)

Hard rules:
1) No summarizing. Never shorten or compress sentences or paragraphs.
2) No hallucination. Never produce sentences, words, numbers or examples absent from the input.
3) No added explanations. The final text must consist only of substrings of native_text and ocr_text_cleaned.
4) Only deduplicate and keep reading order. Do not paraphrase. Text present in both sources is kept once.
5) Source choice: when both sources contain the same content, prefer native text if the OCR prob is low
   or the OCR text is noisy; prefer OCR if the native text is visibly broken. Content present in only one
   source is kept unless it is clearly garbage.
6) JSON only.

Output:
- merged_blocks: merged text blocks used for indexing.
- merge_log: what was done with each input block_id.`,
}

var outputFormats = map[TaskID]string{
	TaskOCRCleanup: `{
  "cleaned_text": "string"
}`,
	TaskQueryRefine: `{
  "normalized_query": "string",
  "keywords": ["string"],
  "filters": {
    "doc_type": "string|null",
    "section_hint": "string|null",
    "target_group": "string|null",
    "manual_tags": ["string"]
  },
  "meta": {
    "original_query": "string",
    "in_scope": true,
    "safety": {
      "block_required": false,
      "category": "string",
      "reason": "string|null"
    }
  }
}`,
	TaskAnswer: `{
  "answer": "string",
  "supporting_chunks": [
    {
      "chunk_id": "string",
      "text": "string",
      "score": 0.0,
      "meta": {
        "filename": "string|null",
        "page": 0,
        "document_id": "string|null",
        "chatbot_id": "string|null",
        "process_tag": "string|null",
        "image_paths": ["string"]
      }
    }
  ],
  "meta": {
    "retrieval_confidence": "high|medium|low|unknown",
    "intent_ambiguity_level": "low|medium|high",
    "need_clarification": true
  },
  "answerable": true,
  "safety_blocked": false
}`,
	TaskPageMerge: `{
  "merged_blocks": [
    {
      "text": "string, built only from substrings of the input texts",
      "src_block_ids": ["string, some of blocks[*].block_id"]
    }
  ],
  "merge_log": [
    {
      "src_block_id": "string",
      "action": "kept|dropped|merged",
      "reason": "string"
    }
  ]
}`,
}

// BuildPrompt assembles the user message for a task.
func BuildPrompt(task TaskID, input string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[TASK_ID]\n%d\n\n", int(task))
	fmt.Fprintf(&b, "[TASK_DESC]\n%s\n\n", taskDescriptions[task])
	fmt.Fprintf(&b, "[INPUT]\n%s\n\n", input)
	fmt.Fprintf(&b, "[OUTPUT_FORMAT]\n%s", outputFormats[task])
	return b.String()
}
