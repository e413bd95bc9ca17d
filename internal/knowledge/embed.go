package knowledge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ollama "github.com/ollama/ollama/api"
)

// DefaultEmbeddingModel is the Ollama model used for rulebook vectors.
const DefaultEmbeddingModel = "nomic-embed-text"

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaEmbedder generates embeddings with Ollama's /api/embed.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

// NewOllamaEmbedder creates an embedder for the server at baseURL.
func NewOllamaEmbedder(baseURL, model string, httpClient *http.Client) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OllamaEmbedder{client: ollama.NewClient(u, httpClient), model: model}, nil
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed with %s: %w", e.model, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed with %s: got %d vectors for %d inputs", e.model, len(res.Embeddings), len(texts))
	}
	for i, v := range res.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("embed with %s: empty vector at index %d", e.model, i)
		}
	}
	return res.Embeddings, nil
}
