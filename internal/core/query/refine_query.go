package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	"github.com/markdave123-py/doqmate/internal/models"
)

var refineOptions = core.GenerateOptions{Temperature: 0.0, MaxTokens: 1024}

type refineInput struct {
	Question  string  `json:"question"`
	ChatbotID string  `json:"chatbot_id"`
	UserGroup *string `json:"user_group"`
}

// refineReply mirrors the task 1 output. Every field decodes on its own:
// a value of the wrong shape leaves that field at its default and keeps
// the rest of the reply.
type refineReply struct {
	NormalizedQuery field[string]        `json:"normalized_query"`
	Keywords        stringList           `json:"keywords"`
	Filters         field[refineFilters] `json:"filters"`
	Meta            field[refineMeta]    `json:"meta"`
}

type refineFilters struct {
	DocType     field[string] `json:"doc_type"`
	SectionHint field[string] `json:"section_hint"`
	TargetGroup field[string] `json:"target_group"`
	ManualTags  stringList    `json:"manual_tags"`
}

type refineMeta struct {
	OriginalQuery field[string]       `json:"original_query"`
	InScope       field[flexBool]     `json:"in_scope"`
	Safety        field[refineSafety] `json:"safety"`
}

type refineSafety struct {
	BlockRequired field[flexBool] `json:"block_required"`
	Category      field[string]   `json:"category"`
	Reason        field[string]   `json:"reason"`
}

// field holds an optional value. Null or an undecodable value leaves it
// unset without failing the enclosing object.
type field[T any] struct {
	V   T
	Set bool
}

func (f *field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	f.V, f.Set = v, true
	return nil
}

func (f field[T]) ptr() *T {
	if !f.Set {
		return nil
	}
	v := f.V
	return &v
}

// flexBool accepts a JSON bool or its string form ("true", "False", "1").
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = flexBool(v)
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*b = flexBool(parsed)
	default:
		return fmt.Errorf("not a boolean: %s", data)
	}
	return nil
}

// stringList accepts a JSON array or a single scalar.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
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
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		*l = out
	default:
		*l = stringList{fmt.Sprint(v)}
	}
	return nil
}

func defaultRefine(question string) models.QueryRefineResult {
	return models.QueryRefineResult{
		NormalizedQuery: question,
		Keywords:        []string{},
		Filters:         models.QueryFilters{ManualTags: []string{}},
		Meta: models.QueryRefineMeta{
			OriginalQuery: question,
			InScope:       true,
			Safety:        models.SafetyMeta{Category: "unknown"},
		},
	}
}

// refine runs the query refine task. It never fails: a broken reply yields
// the raw question with default filters.
func (s *Service) refine(ctx context.Context, question, chatbotID, userGroup string) models.QueryRefineResult {
	in := refineInput{Question: question, ChatbotID: chatbotID}
	if userGroup != "" {
		in.UserGroup = &userGroup
	}
	res := defaultRefine(question)

	out := llm.RunTask[refineReply](ctx, s.tasks, llm.TaskQueryRefine, in, refineOptions)
	if !out.OK {
		s.log.Warn("query refine fell back to raw question", "chatbot_id", chatbotID, "reason", out.Reason)
		return res
	}
	r := out.Value
	if r.NormalizedQuery.Set && r.NormalizedQuery.V != "" {
		res.NormalizedQuery = r.NormalizedQuery.V
	}
	if r.Keywords != nil {
		res.Keywords = []string(r.Keywords)
	}
	if f := r.Filters; f.Set {
		res.Filters = models.QueryFilters{
			DocType:     f.V.DocType.ptr(),
			SectionHint: f.V.SectionHint.ptr(),
			TargetGroup: f.V.TargetGroup.ptr(),
			ManualTags:  []string(f.V.ManualTags),
		}
		if res.Filters.ManualTags == nil {
			res.Filters.ManualTags = []string{}
		}
	}
	if m := r.Meta; m.Set {
		if m.V.OriginalQuery.Set {
			res.Meta.OriginalQuery = m.V.OriginalQuery.V
		}
		if m.V.InScope.Set {
			res.Meta.InScope = bool(m.V.InScope.V)
		}
		if sf := m.V.Safety; sf.Set {
			if sf.V.BlockRequired.Set {
				res.Meta.Safety.BlockRequired = bool(sf.V.BlockRequired.V)
			}
			if sf.V.Category.Set && sf.V.Category.V != "" {
				res.Meta.Safety.Category = sf.V.Category.V
			}
			res.Meta.Safety.Reason = sf.V.Reason.ptr()
		}
	}
	s.log.Info("query refined",
		"chatbot_id", chatbotID,
		"user_group", userGroup,
		"orig_len", len([]rune(question)),
		"norm_len", len([]rune(res.NormalizedQuery)),
	)
	return res
}
