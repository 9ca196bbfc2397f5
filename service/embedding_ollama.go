package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(rawURL, model string, timeout time.Duration) (*OllamaEmbedder, error) {
	if rawURL == "" {
		rawURL = "http://localhost:11434"
	}
	ollamaURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	httpClient := &http.Client{Timeout: timeout}
	return &OllamaEmbedder{
		client: api.NewClient(ollamaURL, httpClient),
		model:  model,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	vector := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}
