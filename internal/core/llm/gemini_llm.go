package llm

import (
	"context"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/doqmate/internal/core"
)

// GeminiLLM serves the same prompt contract through the Gemini API.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
	guard     *Guard
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string, guard *Guard) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName, guard: guard}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, opts core.GenerateOptions) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	m.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	m.ResponseMIMEType = "application/json"

	var resp *genai.GenerateContentResponse
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.GenerateContent(ctx, genai.Text(userPrompt))
		if err != nil {
			return &ClientError{Kind: ErrLLM, Op: "gemini generate", Err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
