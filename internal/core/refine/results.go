package refine

import (
	"encoding/json"
	"fmt"
)

// cleanupResult is the task 0 reply.
type cleanupResult struct {
	CleanedText string `json:"cleaned_text"`
}

// mergeInput is the task 3 request for one page.
type mergeInput struct {
	Page           int          `json:"page"`
	NativeText     string       `json:"native_text"`
	OCRTextCleaned string       `json:"ocr_text_cleaned"`
	Blocks         []blockInput `json:"blocks"`
}

type blockInput struct {
	Source  string     `json:"source"`
	BlockID string     `json:"block_id"`
	Text    string     `json:"text"`
	BBox    [4]float64 `json:"bbox"`
	Prob    *float64   `json:"prob"`
}

// mergeResult is the task 3 reply.
type mergeResult struct {
	MergedBlocks []mergedBlock `json:"merged_blocks"`
	MergeLog     []logEntry    `json:"merge_log"`
}

type mergedBlock struct {
	Text        string `json:"text"`
	SrcBlockIDs idList `json:"src_block_ids"`
}

// logEntry tolerates non-string values in the model's merge log.
type logEntry struct {
	SrcBlockID flexString `json:"src_block_id"`
	Action     flexString `json:"action"`
	Reason     flexString `json:"reason"`
}

// idList accepts either a JSON array or a single scalar.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*l = nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, scalarString(item))
		}
		*l = out
	default:
		*l = idList{scalarString(v)}
	}
	return nil
}

// flexString accepts any JSON scalar and keeps its text form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = ""
		return nil
	}
	*s = flexString(scalarString(raw))
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
