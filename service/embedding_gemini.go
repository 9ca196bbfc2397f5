package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// geminiModel is the part of *genai.EmbeddingModel the embedder calls.
type geminiModel interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder calls the Gemini embedding API, moving to the next API key
// after a failed request. Every key has its own client for the lifetime of
// the embedder, so rotating never disturbs requests already in flight.
type GeminiEmbedder struct {
	models     []geminiModel
	clients    []*genai.Client
	currentKey int
	mu         sync.Mutex
}

func NewGeminiEmbedder(ctx context.Context, apiKeys []string, modelName string) (*GeminiEmbedder, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("no API keys provided")
	}

	clients := make([]*genai.Client, 0, len(apiKeys))
	models := make([]geminiModel, 0, len(apiKeys))
	for _, key := range apiKeys {
		client, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, err
		}
		em := client.EmbeddingModel(modelName)
		em.TaskType = genai.TaskTypeRetrievalDocument
		clients = append(clients, client)
		models = append(models, em)
	}
	return &GeminiEmbedder{models: models, clients: clients}, nil
}

func (e *GeminiEmbedder) current() (int, geminiModel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentKey, e.models[e.currentKey]
}

// rotateFrom moves to the key after failed, unless another request already
// moved past it.
func (e *GeminiEmbedder) rotateFrom(failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.models) < 2 || e.currentKey != failed {
		return
	}
	e.currentKey = (failed + 1) % len(e.models)
	zap.S().Warnf("Gemini API key %d failed, switching to key %d", failed, e.currentKey)
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key, model := e.current()
	res, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		e.rotateFrom(key)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return res.Embedding.Values, nil
}

func (e *GeminiEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.clients = nil
	return errors.Join(errs...)
}
