package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tieubaoca/docrag/types"
)

type memoryChunk struct {
	id         string
	seq        int
	documentID string
	revision   string
	chunkIndex int
	content    string
	fileType   string
	metadata   string
	vector     []float32
	degraded   bool
}

// MemoryStore keeps chunks in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    map[string]*memoryChunk
	seq       int
	threshold float64
}

func NewMemoryStore(threshold float64) *MemoryStore {
	return &MemoryStore{
		chunks:    make(map[string]*memoryChunk),
		threshold: threshold,
	}
}

func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (s *MemoryStore) ResetSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]*memoryChunk)
	return nil
}

func (s *MemoryStore) UpsertChunks(_ context.Context, batch types.ChunkBatch) ([]string, error) {
	metadata, err := types.EncodeMetadata(batch.Metadata)
	if err != nil {
		return nil, &types.StoreError{Op: "upsert", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(batch.Chunks))
	for i, chunk := range batch.Chunks {
		s.seq++
		id := uuid.NewString()
		s.chunks[id] = &memoryChunk{
			id:         id,
			seq:        s.seq,
			documentID: batch.DocumentID,
			revision:   batch.Revision,
			chunkIndex: i,
			content:    chunk.Content,
			fileType:   batch.FileType,
			metadata:   metadata,
			vector:     append([]float32(nil), chunk.Vector...),
			degraded:   chunk.Degraded,
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.documentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) PruneDocument(_ context.Context, documentID, keepRevision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.documentID == documentID && c.revision != keepRevision {
			delete(s.chunks, id)
		}
	}
	return nil
}

func (s *MemoryStore) QueryWithinDocument(_ context.Context, vector []float32, documentID string, limit int) ([]types.ChunkMatch, error) {
	return s.search(vector, limit, func(c *memoryChunk) bool { return c.documentID == documentID })
}

func (s *MemoryStore) QueryAcrossDocuments(_ context.Context, vector []float32, limit int, fileType string) ([]types.ChunkMatch, error) {
	return s.search(vector, limit, func(c *memoryChunk) bool { return fileType == "" || c.fileType == fileType })
}

func (s *MemoryStore) search(vector []float32, limit int, keep func(*memoryChunk) bool) ([]types.ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]types.ChunkMatch, 0)
	for _, c := range s.chunks {
		if !keep(c) {
			continue
		}
		certainty := cosineToCertainty(cosine(vector, c.vector))
		if certainty < s.threshold {
			continue
		}
		meta, err := decodeMetadata("query", c.metadata)
		if err != nil {
			return nil, err
		}
		matches = append(matches, types.ChunkMatch{
			ChunkID:           c.id,
			DocumentID:        c.documentID,
			ChunkIndex:        c.chunkIndex,
			Content:           c.content,
			FileType:          c.fileType,
			Certainty:         certainty,
			EmbeddingDegraded: c.degraded,
			Metadata:          &meta,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Certainty != matches[j].Certainty {
			return matches[i].Certainty > matches[j].Certainty
		}
		if matches[i].DocumentID != matches[j].DocumentID {
			return matches[i].DocumentID < matches[j].DocumentID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) GetDocumentMetadata(_ context.Context, documentID string) (*types.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *memoryChunk
	for _, c := range s.chunks {
		if c.documentID != documentID || c.chunkIndex != 0 {
			continue
		}
		if first == nil || c.seq < first.seq {
			first = c
		}
	}
	if first == nil {
		return nil, nil
	}
	meta, err := decodeMetadata("get metadata", first.metadata)
	if err != nil {
		return nil, err
	}
	return &types.DocumentInfo{DocumentID: documentID, FileType: first.fileType, Metadata: meta}, nil
}

func (s *MemoryStore) ListDocuments(context.Context) ([]types.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var firsts []*memoryChunk
	for _, c := range s.chunks {
		if c.chunkIndex == 0 {
			firsts = append(firsts, c)
		}
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i].seq < firsts[j].seq })

	seen := make(map[string]bool)
	docs := make([]types.DocumentInfo, 0, len(firsts))
	for _, c := range firsts {
		if seen[c.documentID] {
			continue
		}
		seen[c.documentID] = true
		meta, err := decodeMetadata("list", c.metadata)
		if err != nil {
			return nil, err
		}
		docs = append(docs, types.DocumentInfo{DocumentID: c.documentID, FileType: c.fileType, Metadata: meta})
	}
	return docs, nil
}

func (s *MemoryStore) Close() error { return nil }
