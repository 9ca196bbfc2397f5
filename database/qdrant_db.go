package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/types"
)

const qdrantScrollPage = 256

// QdrantStore talks to Qdrant over gRPC. Payload keys mirror the weaviate
// properties in snake case.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	collection  string
	dimension   uint64
	apiKey      string
	threshold   float64
}

func NewQdrantStore(_ context.Context, cfg config.QdrantConfig, threshold float64) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "document_chunks"
	}
	return &QdrantStore{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		collection:  collection,
		dimension:   uint64(cfg.Dimension),
		apiKey:      cfg.APIKey,
		threshold:   threshold,
	}, nil
}

func (s *QdrantStore) withKey(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *QdrantStore) exists(ctx context.Context) (bool, error) {
	collections, err := s.collections.List(s.withKey(ctx), &qdrant.ListCollectionsRequest{})
	if err != nil {
		return false, err
	}
	for _, col := range collections.GetCollections() {
		if col.GetName() == s.collection {
			return true, nil
		}
	}
	return false, nil
}

func (s *QdrantStore) create(ctx context.Context) error {
	ctx = s.withKey(ctx)
	_, err := s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     s.dimension,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return err
	}

	wait := true
	for _, field := range []struct {
		name string
		kind qdrant.FieldType
	}{
		{"document_id", qdrant.FieldType_FieldTypeKeyword},
		{"file_type", qdrant.FieldType_FieldTypeKeyword},
		{"revision", qdrant.FieldType_FieldTypeKeyword},
		{"chunk_index", qdrant.FieldType_FieldTypeInteger},
	} {
		_, err := s.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field.name,
			FieldType:      field.kind.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", field.name, err)
		}
	}
	zap.S().Infof("Created qdrant collection %s", s.collection)
	return nil
}

func (s *QdrantStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.exists(ctx)
	if err != nil {
		return &types.StoreError{Op: "list collections", Err: err}
	}
	if exists {
		return nil
	}
	if err := s.create(ctx); err != nil {
		return &types.StoreError{Op: "create collection", Err: err}
	}
	return nil
}

func (s *QdrantStore) ResetSchema(ctx context.Context) error {
	exists, err := s.exists(ctx)
	if err != nil {
		return &types.StoreError{Op: "list collections", Err: err}
	}
	if exists {
		if _, err := s.collections.Delete(s.withKey(ctx), &qdrant.DeleteCollection{CollectionName: s.collection}); err != nil {
			return &types.StoreError{Op: "delete collection", Err: err}
		}
	}
	if err := s.create(ctx); err != nil {
		return &types.StoreError{Op: "create collection", Err: err}
	}
	return nil
}

func (s *QdrantStore) UpsertChunks(ctx context.Context, batch types.ChunkBatch) ([]string, error) {
	meta, err := types.EncodeMetadata(batch.Metadata)
	if err != nil {
		return nil, &types.StoreError{Op: "upsert", Err: err}
	}

	ids := make([]string, len(batch.Chunks))
	points := make([]*qdrant.PointStruct, 0, len(batch.Chunks))
	for i, chunk := range batch.Chunks {
		ids[i] = uuid.NewString()
		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: ids[i]},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: chunk.Vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"content":            stringValue(chunk.Content),
				"document_id":        stringValue(batch.DocumentID),
				"chunk_index":        {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(i)}},
				"file_type":          stringValue(batch.FileType),
				"metadata":           stringValue(meta),
				"revision":           stringValue(batch.Revision),
				"embedding_degraded": {Kind: &qdrant.Value_BoolValue{BoolValue: chunk.Degraded}},
			},
		})
	}

	wait := true
	for start := 0; start < len(points); start += BATCH_SIZE {
		end := min(start+BATCH_SIZE, len(points))
		_, err := s.points.Upsert(s.withKey(ctx), &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points[start:end],
		})
		if err != nil {
			rollbackCtx := context.WithoutCancel(ctx)
			if rerr := s.deleteByFilter(rollbackCtx, &qdrant.Filter{
				Must: []*qdrant.Condition{keywordCondition("document_id", batch.DocumentID), keywordCondition("revision", batch.Revision)},
			}); rerr != nil {
				zap.S().Errorf("Failed to roll back revision %s of document %s: %v", batch.Revision, batch.DocumentID, rerr)
			}
			return nil, &types.StoreError{Op: "upsert", Err: err}
		}
	}
	return ids, nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.deleteByFilter(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition("document_id", documentID)},
	})
	if err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (s *QdrantStore) PruneDocument(ctx context.Context, documentID, keepRevision string) error {
	err := s.deleteByFilter(ctx, &qdrant.Filter{
		Must:    []*qdrant.Condition{keywordCondition("document_id", documentID)},
		MustNot: []*qdrant.Condition{keywordCondition("revision", keepRevision)},
	})
	if err != nil {
		return &types.StoreError{Op: "prune", Err: err}
	}
	return nil
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	wait := true
	_, err := s.points.Delete(s.withKey(ctx), &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	return err
}

func (s *QdrantStore) QueryWithinDocument(ctx context.Context, vector []float32, documentID string, limit int) ([]types.ChunkMatch, error) {
	return s.search(ctx, vector, limit, &qdrant.Filter{
		Must: []*qdrant.Condition{keywordCondition("document_id", documentID)},
	})
}

func (s *QdrantStore) QueryAcrossDocuments(ctx context.Context, vector []float32, limit int, fileType string) ([]types.ChunkMatch, error) {
	var filter *qdrant.Filter
	if fileType != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition("file_type", fileType)}}
	}
	return s.search(ctx, vector, limit, filter)
}

func (s *QdrantStore) search(ctx context.Context, vector []float32, limit int, filter *qdrant.Filter) ([]types.ChunkMatch, error) {
	scoreThreshold := float32(certaintyToCosine(s.threshold))
	resp, err := s.points.Search(s.withKey(ctx), &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         filter,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
		ScoreThreshold: &scoreThreshold,
	})
	if err != nil {
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	matches := make([]types.ChunkMatch, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		payload := point.GetPayload()
		meta, err := decodeMetadata("query", payload["metadata"].GetStringValue())
		if err != nil {
			return nil, err
		}
		matches = append(matches, types.ChunkMatch{
			ChunkID:           point.GetId().GetUuid(),
			DocumentID:        payload["document_id"].GetStringValue(),
			ChunkIndex:        int(payload["chunk_index"].GetIntegerValue()),
			Content:           payload["content"].GetStringValue(),
			FileType:          payload["file_type"].GetStringValue(),
			Certainty:         cosineToCertainty(float64(point.GetScore())),
			EmbeddingDegraded: payload["embedding_degraded"].GetBoolValue(),
			Metadata:          &meta,
		})
	}
	return matches, nil
}

func (s *QdrantStore) GetDocumentMetadata(ctx context.Context, documentID string) (*types.DocumentInfo, error) {
	limit := uint32(1)
	resp, err := s.points.Scroll(s.withKey(ctx), &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{keywordCondition("document_id", documentID), integerCondition("chunk_index", 0)},
		},
		Limit:       &limit,
		WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &types.StoreError{Op: "get metadata", Err: err}
	}
	if len(resp.GetResult()) == 0 {
		return nil, nil
	}
	info, err := payloadInfo(resp.GetResult()[0].GetPayload())
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *QdrantStore) ListDocuments(ctx context.Context) ([]types.DocumentInfo, error) {
	limit := uint32(qdrantScrollPage)
	seen := make(map[string]bool)
	docs := make([]types.DocumentInfo, 0)

	var offset *qdrant.PointId
	for {
		resp, err := s.points.Scroll(s.withKey(ctx), &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         &qdrant.Filter{Must: []*qdrant.Condition{integerCondition("chunk_index", 0)}},
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, &types.StoreError{Op: "list", Err: err}
		}
		for _, point := range resp.GetResult() {
			info, err := payloadInfo(point.GetPayload())
			if err != nil {
				return nil, err
			}
			if seen[info.DocumentID] {
				continue
			}
			seen[info.DocumentID] = true
			docs = append(docs, info)
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return docs, nil
		}
	}
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func payloadInfo(payload map[string]*qdrant.Value) (types.DocumentInfo, error) {
	meta, err := decodeMetadata("read metadata", payload["metadata"].GetStringValue())
	if err != nil {
		return types.DocumentInfo{}, err
	}
	return types.DocumentInfo{
		DocumentID: payload["document_id"].GetStringValue(),
		FileType:   payload["file_type"].GetStringValue(),
		Metadata:   meta,
	}, nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func integerCondition(key string, value int64) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: value}},
			},
		},
	}
}
