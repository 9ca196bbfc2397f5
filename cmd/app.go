/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/database"
	"github.com/tieubaoca/docrag/repository"
	"github.com/tieubaoca/docrag/service"
)

// app holds the wired pipeline shared by the server and the CLI commands.
type app struct {
	store     database.VectorStore
	documents *service.DocumentService
	events    *service.WebSocketService
	closers   []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	provider, err := newEmbeddingProvider(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if closer, ok := provider.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	}
	embedder := service.NewEmbeddingService(provider, service.EmbeddingConfig{
		BatchSize:         cfg.Embedding.BatchSize,
		Workers:           cfg.Embedding.Workers,
		MaxAttempts:       cfg.Embedding.MaxAttempts,
		RetryDelay:        cfg.Embedding.RetryDelay,
		MaxTextChars:      cfg.Embedding.MaxTextChars,
		DefaultDimension:  cfg.Embedding.DefaultDimension,
		AllowDegraded:     cfg.Embedding.AllowDegraded,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	splitter, err := service.NewTextSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	store, err := database.NewVectorStore(ctx, cfg.VectorStore)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	history, err := newHistoryRepo(ctx, cfg, a)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	extractors := service.NewExtractors(service.NewPDFService(service.PDFConfig{
		OCR:          cfg.PDF.OCR,
		OCRLanguages: cfg.PDF.OCRLanguages,
	}, nil))

	zap.S().Infof("Using %s embeddings and %s vector store, chunks of %d runes with %d overlap",
		cfg.Embedding.Provider, cfg.VectorStore.Type, splitter.ChunkSize(), splitter.ChunkOverlap())

	a.events = service.NewWebSocketService()
	a.documents = service.NewDocumentService(
		service.DocumentServiceConfig{
			UploadDir:       cfg.UploadDir,
			MaxChunksPerDoc: cfg.Chunking.MaxChunksPerDoc,
		},
		store,
		embedder,
		splitter,
		extractors,
	).WithHistory(history).WithEvents(a.events)

	return a, nil
}

func newEmbeddingProvider(ctx context.Context, cfg config.EmbeddingConfig) (service.EmbeddingProvider, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderGemini:
		embedder, err := service.NewGeminiEmbedder(ctx, cfg.APIKeys, cfg.Model)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case config.EmbeddingProviderOpenAI:
		apiKey := ""
		if len(cfg.APIKeys) > 0 {
			apiKey = cfg.APIKeys[0]
		}
		return service.NewOpenAIEmbedder(cfg.BaseURL, apiKey, cfg.Model), nil
	case config.EmbeddingProviderOllama:
		embedder, err := service.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// newHistoryRepo uses MongoDB when a URI is configured and process memory otherwise.
func newHistoryRepo(ctx context.Context, cfg *config.Config, a *app) (repository.IngestionRepo, error) {
	if cfg.MongoDBURI == "" {
		return repository.NewMemoryIngestionRepo(), nil
	}

	client, err := database.ConnectMongo(ctx, cfg.MongoDBURI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Disconnect)
	return repository.NewIngestionRepo(ctx, client.Database(cfg.MongoDatabase))
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			zap.S().Warnf("Failed to release resource: %v", err)
		}
	}
	a.closers = nil
}
