package database

import (
	"context"
	"fmt"
	"math"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/types"
)

// VectorStore keeps document chunks with their embeddings. Certainty is
// (1 + cosine similarity) / 2 for every implementation.
type VectorStore interface {
	// EnsureSchema creates the chunk collection when missing. Safe to call on every start.
	EnsureSchema(ctx context.Context) error
	// ResetSchema drops every chunk and recreates the collection.
	ResetSchema(ctx context.Context) error

	UpsertChunks(ctx context.Context, batch types.ChunkBatch) ([]string, error)
	DeleteDocument(ctx context.Context, documentID string) error
	// PruneDocument deletes the chunks of documentID whose revision differs from keepRevision.
	PruneDocument(ctx context.Context, documentID, keepRevision string) error

	QueryWithinDocument(ctx context.Context, vector []float32, documentID string, limit int) ([]types.ChunkMatch, error)
	QueryAcrossDocuments(ctx context.Context, vector []float32, limit int, fileType string) ([]types.ChunkMatch, error)

	// GetDocumentMetadata returns nil without error when the document has no chunks.
	GetDocumentMetadata(ctx context.Context, documentID string) (*types.DocumentInfo, error)
	ListDocuments(ctx context.Context) ([]types.DocumentInfo, error)

	Close() error
}

// NewVectorStore builds the store selected by cfg.Type.
func NewVectorStore(ctx context.Context, cfg config.VectorStoreConfig) (VectorStore, error) {
	switch cfg.Type {
	case config.VectorStoreWeaviate:
		store, err := NewWeaviateStore(cfg.Weaviate, cfg.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.VectorStoreQdrant:
		store, err := NewQdrantStore(ctx, cfg.Qdrant, cfg.SimilarityThreshold)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.VectorStoreMemory:
		return NewMemoryStore(cfg.SimilarityThreshold), nil
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}

// cosineToCertainty maps cosine similarity in [-1, 1] onto [0, 1].
func cosineToCertainty(cosine float64) float64 {
	return (1 + cosine) / 2
}

func certaintyToCosine(certainty float64) float64 {
	return 2*certainty - 1
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func decodeMetadata(op, raw string) (types.DocumentMetadata, error) {
	meta, err := types.DecodeMetadata(raw)
	if err != nil {
		return types.DocumentMetadata{}, &types.StoreError{Op: op, Err: err}
	}
	return meta, nil
}
