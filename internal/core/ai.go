package core

import "context"

// GenerateOptions are the sampling settings for one completion.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// DefaultGenerateOptions applies when a caller has no task-specific settings.
var DefaultGenerateOptions = GenerateOptions{Temperature: 0.2, MaxTokens: 4096}

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string, opts GenerateOptions) (string, error)
}
