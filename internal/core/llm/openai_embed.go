package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/logger"
)

// Embedder calls an OpenAI-compatible /v1/embeddings endpoint.
type Embedder struct {
	url    string
	model  string
	apiKey string
	http   *http.Client
	guard  *Guard
	log    *slog.Logger
}

func NewEmbedder(cfg EndpointConfig, guard *Guard, log *slog.Logger) *Embedder {
	if cfg.APIPath == "" {
		cfg.APIPath = "/v1/embeddings"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Embedder{
		url:    cfg.url(),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		guard:  guard,
		log:    logger.Or(log),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse accepts the OpenAI shape and the older {"embeddings": [...]} shape.
type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedText embeds a single non-empty text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed", Err: fmt.Errorf("empty text")}
	}
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts returns one vector per input, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed encode", Err: err}
	}

	var vecs [][]float32
	err = e.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = e.post(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, &ClientError{
			Kind: ErrEmbedding,
			Op:   "embed",
			Err:  fmt.Errorf("%w: got %d embeddings for %d inputs", errDecode, len(vecs), len(texts)),
		}
	}
	return vecs, nil
}

func (e *Embedder) post(ctx context.Context, body []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed request", Err: err}
	}
	setJSONHeaders(req, e.apiKey)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed request", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed read", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		e.log.Error("embedding server returned non-200", "status", resp.StatusCode, "body", preview(string(payload), 500))
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed", StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ClientError{Kind: ErrEmbedding, Op: "embed decode", Err: fmt.Errorf("%w: %v", errDecode, err)}
	}
	if len(out.Data) > 0 {
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		vecs := make([][]float32, len(out.Data))
		for i, d := range out.Data {
			vecs[i] = d.Embedding
		}
		return vecs, nil
	}
	if out.Embeddings != nil {
		return out.Embeddings, nil
	}
	return nil, &ClientError{Kind: ErrEmbedding, Op: "embed decode", Err: fmt.Errorf("%w: no data or embeddings field", errDecode)}
}

var _ core.EmbeddingProvider = (*Embedder)(nil)
