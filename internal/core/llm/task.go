package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/telemetry"
)

// Tasks runs prompt-contract tasks against an LLM provider.
type Tasks struct {
	provider core.LLMProvider
	log      *slog.Logger
}

func NewTasks(provider core.LLMProvider, log *slog.Logger) *Tasks {
	return &Tasks{provider: provider, log: logger.Or(log)}
}

// Call sends input, JSON-encoded, as the INPUT section of task and returns
// the raw model output.
func (t *Tasks) Call(ctx context.Context, task TaskID, input any, opts core.GenerateOptions) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.task")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.task_id", int(task)))

	payload, err := encodeInput(input)
	if err != nil {
		return "", &ClientError{Kind: ErrLLM, Op: "encode task input", Err: err}
	}
	user := BuildPrompt(task, payload)

	start := time.Now()
	out, err := t.provider.Generate(ctx, SystemPrompt, user, opts)
	if err != nil {
		t.log.Error("llm task failed", "task_id", int(task), "task", task.String(), "error", err)
		return "", err
	}
	t.log.Info("llm task done",
		"task_id", int(task),
		"elapsed_ms", float64(time.Since(start).Microseconds())/1000,
		"req_len", len(user),
		"resp_len", len(out),
	)
	return out, nil
}

// RunTask calls task and decodes the reply into T. Every failure becomes a
// Fallback outcome; callers decide what the fallback is.
func RunTask[T any](ctx context.Context, t *Tasks, task TaskID, input any, opts core.GenerateOptions) Outcome[T] {
	raw, err := t.Call(ctx, task, input, opts)
	if err != nil {
		return Fallback[T]("llm call: " + err.Error())
	}
	v, err := DecodeJSON[T](raw)
	if err != nil {
		t.log.Warn("llm output not parseable", "task_id", int(task), "error", err, "preview", preview(raw, 300))
		return Fallback[T]("parse: " + err.Error())
	}
	return Ok(v)
}

// encodeInput marshals without HTML escaping so text reaches the model as written.
func encodeInput(input any) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(input); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
