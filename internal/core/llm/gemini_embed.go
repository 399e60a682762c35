package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/doqmate/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	guard     *Guard
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, guard *Guard) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, guard: guard}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts batches all texts in one request via EmbeddingBatch.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	var resp *genai.BatchEmbedContentsResponse
	err := g.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return &ClientError{Kind: ErrEmbedding, Op: "gemini batch embed", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &ClientError{
			Kind: ErrEmbedding,
			Op:   "gemini batch embed",
			Err:  fmt.Errorf("%w: got %d embeddings for %d inputs", errDecode, len(resp.Embeddings), len(texts)),
		}
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
