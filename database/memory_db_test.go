package database

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/types"
)

func vec(values ...float32) []float32 { return values }

func batch(docID, revision, fileType string, vectors ...[]float32) types.ChunkBatch {
	chunks := make([]types.ChunkInput, len(vectors))
	for i, v := range vectors {
		chunks[i] = types.ChunkInput{Content: docID + " chunk", Vector: v}
	}
	return types.ChunkBatch{
		DocumentID: docID,
		Revision:   revision,
		FileType:   fileType,
		Metadata:   types.DocumentMetadata{FileType: fileType, ChunkCount: len(vectors)},
		Chunks:     chunks,
	}
}

func TestMemoryStore_UpsertAssignsIndexes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0.7)

	ids, err := store.UpsertChunks(ctx, batch("doc", "r1", "txt", vec(1, 0), vec(0.9, 0.1), vec(0.8, 0.2)))
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.NotEqual(t, ids[0], ids[1])

	matches, err := store.QueryWithinDocument(ctx, vec(1, 0), "doc", 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, 0, matches[0].ChunkIndex)
	assert.InDelta(t, 1.0, matches[0].Certainty, 1e-6)
	assert.GreaterOrEqual(t, matches[0].Certainty, matches[1].Certainty)
	assert.GreaterOrEqual(t, matches[1].Certainty, matches[2].Certainty)
}

func TestMemoryStore_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0.7)

	dec := json.NewDecoder(strings.NewReader(`[{"name":"a","tags":["x","y"],"nested":{"n":1.5,"deep":[1,{"k":"v"}]}}]`))
	dec.UseNumber()
	var structured any
	require.NoError(t, dec.Decode(&structured))

	meta := types.DocumentMetadata{
		FileType:       types.FileTypeJSON,
		Filename:       "data.json",
		ChunkCount:     1,
		Truncated:      true,
		DegradedChunks: 1,
		StructuredData: structured,
		Aggregation: &types.AggregationMetadata{
			NumericFields:     map[string]types.NumericSummary{"n": {Min: 1, Max: 2, Sum: 3, Avg: 1.5, Count: 2}},
			CategoricalFields: map[string]map[string]int{"name": {"a": 1}},
		},
	}
	b := batch("doc", "r1", types.FileTypeJSON, vec(1, 0))
	b.Metadata = meta
	_, err := store.UpsertChunks(ctx, b)
	require.NoError(t, err)

	info, err := store.GetDocumentMetadata(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, types.FileTypeJSON, info.FileType)
	assert.Equal(t, meta, info.Metadata)

	matches, err := store.QueryWithinDocument(ctx, vec(1, 0), "doc", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, meta, *matches[0].Metadata)
}

func TestMemoryStore_DeleteCompleteness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0.7)

	_, err := store.UpsertChunks(ctx, batch("a", "r1", "txt", vec(1, 0), vec(0, 1)))
	require.NoError(t, err)
	_, err = store.UpsertChunks(ctx, batch("b", "r1", "pdf", vec(1, 0)))
	require.NoError(t, err)

	require.NoError(t, store.DeleteDocument(ctx, "a"))
	require.NoError(t, store.DeleteDocument(ctx, "never-existed"))

	info, err := store.GetDocumentMetadata(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, info)
	matches, err := store.QueryWithinDocument(ctx, vec(1, 0), "a", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].DocumentID)
}

func TestMemoryStore_PruneKeepsRevision(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	_, err := store.UpsertChunks(ctx, batch("doc", "old", "txt", vec(1, 0), vec(0, 1)))
	require.NoError(t, err)
	_, err = store.UpsertChunks(ctx, batch("doc", "new", "txt", vec(1, 1)))
	require.NoError(t, err)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "two revisions still list as one document")

	require.NoError(t, store.PruneDocument(ctx, "doc", "new"))
	matches, err := store.QueryWithinDocument(ctx, vec(1, 0), "doc", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].ChunkIndex)
}

func TestMemoryStore_ThresholdAndFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0.7)

	_, err := store.UpsertChunks(ctx, batch("a", "r", "txt", vec(1, 0), vec(-1, 0)))
	require.NoError(t, err)
	_, err = store.UpsertChunks(ctx, batch("b", "r", "pdf", vec(0.9, 0.1)))
	require.NoError(t, err)
	degraded := batch("c", "r", "txt", vec(0, 0))
	degraded.Chunks[0].Degraded = true
	_, err = store.UpsertChunks(ctx, degraded)
	require.NoError(t, err)

	matches, err := store.QueryAcrossDocuments(ctx, vec(1, 0), 10, "")
	require.NoError(t, err)
	require.Len(t, matches, 2, "opposite and zero vectors fall under the threshold")
	assert.Equal(t, "a", matches[0].DocumentID)
	assert.Equal(t, "b", matches[1].DocumentID)

	matches, err = store.QueryAcrossDocuments(ctx, vec(1, 0), 10, "pdf")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].DocumentID)

	matches, err = store.QueryAcrossDocuments(ctx, vec(1, 0), 1, "")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMemoryStore_ResetSchema(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0.7)
	_, err := store.UpsertChunks(ctx, batch("a", "r", "txt", vec(1, 0)))
	require.NoError(t, err)

	require.NoError(t, store.ResetSchema(ctx))
	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCertaintyConversion(t *testing.T) {
	assert.InDelta(t, 0.7, cosineToCertainty(certaintyToCosine(0.7)), 1e-12)
	assert.InDelta(t, 0.4, certaintyToCosine(0.7), 1e-12)
	assert.InDelta(t, 0.5, cosineToCertainty(cosine(vec(1, 0), vec(0, 1))), 1e-12)
	assert.Equal(t, 0.0, cosine(vec(1, 0), vec(1, 0, 0)))
}

func TestNewVectorStore(t *testing.T) {
	cfg := config.DefaultConfig().VectorStore
	cfg.Type = config.VectorStoreMemory
	store, err := NewVectorStore(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg.Type = "chroma"
	_, err = NewVectorStore(context.Background(), cfg)
	assert.Error(t, err)
}
