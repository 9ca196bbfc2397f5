package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/config"
	"github.com/tieubaoca/docrag/types"
)

const (
	BATCH_SIZE = 200
	// page size used when listing documents
	LIST_PAGE_SIZE = 100
)

var matchFields = []graphql.Field{
	{Name: "content"},
	{Name: "documentId"},
	{Name: "chunkIndex"},
	{Name: "fileType"},
	{Name: "metadata"},
	{Name: "embeddingDegraded"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}}},
}

var listFields = []graphql.Field{
	{Name: "documentId"},
	{Name: "chunkIndex"},
	{Name: "fileType"},
	{Name: "metadata"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
}

func chunkClass(name string) *models.Class {
	notIndexed := false
	return &models.Class{
		Class:           name,
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "fileType", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "metadata", DataType: []string{"text"}, IndexFilterable: &notIndexed, IndexSearchable: &notIndexed},
			{Name: "revision", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "embeddingDegraded", DataType: []string{"boolean"}},
		},
	}
}

type WeaviateStore struct {
	client    *weaviate.Client
	className string
	threshold float64
}

func NewWeaviateStore(config config.WeaviateConfig, threshold float64) (*WeaviateStore, error) {
	var scheme string
	if strings.HasPrefix(config.Host, "https") {
		scheme = "https"
	} else {
		scheme = "http"
	}
	host := strings.TrimPrefix(config.Host, scheme+"://")
	cfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if config.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{
			Value: config.APIKey,
		}
		cfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     config.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	className := config.ClassName
	if className == "" {
		className = "DocumentChunk"
	}
	return &WeaviateStore{
		client:    client,
		className: className,
		threshold: threshold,
	}, nil
}

func (s *WeaviateStore) classExists(ctx context.Context) (bool, error) {
	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return false, err
	}
	for _, class := range schema.Classes {
		if class.Class == s.className {
			return true, nil
		}
	}
	return false, nil
}

func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	exists, err := s.classExists(ctx)
	if err != nil {
		return &types.StoreError{Op: "get schema", Err: err}
	}
	if exists {
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.className)).Do(ctx); err != nil {
		return &types.StoreError{Op: "create class", Err: err}
	}
	zap.S().Infof("Created weaviate class %s", s.className)
	return nil
}

func (s *WeaviateStore) ResetSchema(ctx context.Context) error {
	exists, err := s.classExists(ctx)
	if err != nil {
		return &types.StoreError{Op: "get schema", Err: err}
	}
	if exists {
		if err := s.client.Schema().ClassDeleter().WithClassName(s.className).Do(ctx); err != nil {
			return &types.StoreError{Op: "delete class", Err: err}
		}
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.className)).Do(ctx); err != nil {
		return &types.StoreError{Op: "create class", Err: err}
	}
	return nil
}

func (s *WeaviateStore) UpsertChunks(ctx context.Context, batch types.ChunkBatch) ([]string, error) {
	metadata, err := types.EncodeMetadata(batch.Metadata)
	if err != nil {
		return nil, &types.StoreError{Op: "upsert", Err: err}
	}

	ids := make([]string, len(batch.Chunks))
	total := len(batch.Chunks)
	for i := 0; i < total; i += BATCH_SIZE {
		end := min(i+BATCH_SIZE, total)

		batcher := s.client.Batch().ObjectsBatcher()
		for j := i; j < end; j++ {
			ids[j] = uuid.NewString()
			batcher = batcher.WithObjects(&models.Object{
				Class: s.className,
				ID:    strfmt.UUID(ids[j]),
				Properties: map[string]interface{}{
					"content":           batch.Chunks[j].Content,
					"documentId":        batch.DocumentID,
					"chunkIndex":        j,
					"fileType":          batch.FileType,
					"metadata":          metadata,
					"revision":          batch.Revision,
					"embeddingDegraded": batch.Chunks[j].Degraded,
				},
				Vector: batch.Chunks[j].Vector,
			})
		}

		if err := checkBatch(batcher.Do(ctx)); err != nil {
			s.rollback(ctx, batch)
			return nil, &types.StoreError{Op: "upsert", Err: fmt.Errorf("batch %d-%d: %w", i, end, err)}
		}
		zap.S().Debugf("Inserted chunks %d-%d of %d for document %s", i, end, total, batch.DocumentID)
	}
	return ids, nil
}

func checkBatch(results []models.ObjectsGetResponse, err error) error {
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Result != nil && res.Result.Errors != nil && len(res.Result.Errors.Error) > 0 {
			return errors.New(res.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// rollback removes whatever part of batch's revision made it into the store.
func (s *WeaviateStore) rollback(ctx context.Context, batch types.ChunkBatch) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			documentFilter(batch.DocumentID),
			filters.Where().WithPath([]string{"revision"}).WithOperator(filters.Equal).WithValueText(batch.Revision),
		})
	if err := s.deleteWhere(context.WithoutCancel(ctx), where); err != nil {
		zap.S().Errorf("Failed to roll back revision %s of document %s: %v", batch.Revision, batch.DocumentID, err)
	}
}

func (s *WeaviateStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.deleteWhere(ctx, documentFilter(documentID)); err != nil {
		return &types.StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (s *WeaviateStore) PruneDocument(ctx context.Context, documentID, keepRevision string) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			documentFilter(documentID),
			filters.Where().WithPath([]string{"revision"}).WithOperator(filters.NotEqual).WithValueText(keepRevision),
		})
	if err := s.deleteWhere(ctx, where); err != nil {
		return &types.StoreError{Op: "prune", Err: err}
	}
	return nil
}

func (s *WeaviateStore) deleteWhere(ctx context.Context, where *filters.WhereBuilder) error {
	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return err
	}
	if res != nil && res.Results != nil && res.Results.Failed > 0 {
		return fmt.Errorf("%d objects could not be deleted", res.Results.Failed)
	}
	return nil
}

func (s *WeaviateStore) QueryWithinDocument(ctx context.Context, vector []float32, documentID string, limit int) ([]types.ChunkMatch, error) {
	return s.search(ctx, vector, limit, documentFilter(documentID))
}

func (s *WeaviateStore) QueryAcrossDocuments(ctx context.Context, vector []float32, limit int, fileType string) ([]types.ChunkMatch, error) {
	var where *filters.WhereBuilder
	if fileType != "" {
		where = filters.Where().WithPath([]string{"fileType"}).WithOperator(filters.Equal).WithValueText(fileType)
	}
	return s.search(ctx, vector, limit, where)
}

func (s *WeaviateStore) search(ctx context.Context, vector []float32, limit int, where *filters.WhereBuilder) ([]types.ChunkMatch, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(s.threshold))

	getBuilder := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(matchFields...).
		WithNearVector(nearVector)
	if limit > 0 {
		getBuilder = getBuilder.WithLimit(limit)
	}
	if where != nil {
		getBuilder = getBuilder.WithWhere(where)
	}

	rows, err := s.get(ctx, getBuilder)
	if err != nil {
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	matches := make([]types.ChunkMatch, 0, len(rows))
	for _, row := range rows {
		match, err := parseMatch(row)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *WeaviateStore) GetDocumentMetadata(ctx context.Context, documentID string) (*types.DocumentInfo, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{documentFilter(documentID), firstChunkFilter()})

	rows, err := s.get(ctx, s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "documentId"}, graphql.Field{Name: "fileType"}, graphql.Field{Name: "metadata"}).
		WithWhere(where).
		WithLimit(1))
	if err != nil {
		return nil, &types.StoreError{Op: "get metadata", Err: err}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	info, err := parseInfo(rows[0])
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListDocuments walks the class with the cursor API, which has no result
// ceiling but cannot be combined with a where filter, so first chunks are
// picked out client-side.
func (s *WeaviateStore) ListDocuments(ctx context.Context) ([]types.DocumentInfo, error) {
	seen := make(map[string]bool)
	docs := make([]types.DocumentInfo, 0)
	after := ""
	for {
		builder := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithFields(listFields...).
			WithLimit(LIST_PAGE_SIZE)
		if after != "" {
			builder = builder.WithAfter(after)
		}
		rows, err := s.get(ctx, builder)
		if err != nil {
			return nil, &types.StoreError{Op: "list", Err: err}
		}
		page, err := firstChunkInfos(rows, seen)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page...)
		if len(rows) < LIST_PAGE_SIZE {
			return docs, nil
		}
		after = objectID(rows[len(rows)-1])
		if after == "" {
			return nil, &types.StoreError{Op: "list", Err: errors.New("cursor row without id")}
		}
	}
}

// firstChunkInfos keeps the rows holding chunk 0 of a document not yet in seen.
func firstChunkInfos(rows []map[string]interface{}, seen map[string]bool) ([]types.DocumentInfo, error) {
	var docs []types.DocumentInfo
	for _, row := range rows {
		if _, ok := row["chunkIndex"].(float64); !ok || numberField(row, "chunkIndex") != 0 {
			continue
		}
		info, err := parseInfo(row)
		if err != nil {
			return nil, err
		}
		if seen[info.DocumentID] {
			continue
		}
		seen[info.DocumentID] = true
		docs = append(docs, info)
	}
	return docs, nil
}

func objectID(row map[string]interface{}) string {
	additional, _ := row["_additional"].(map[string]interface{})
	return stringField(additional, "id")
}

func (s *WeaviateStore) Close() error { return nil }

func (s *WeaviateStore) get(ctx context.Context, builder *graphql.GetBuilder) ([]map[string]interface{}, error) {
	result, err := builder.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %v", result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	data, ok := get[s.className].([]interface{})
	if !ok {
		return nil, nil
	}
	rows := make([]map[string]interface{}, 0, len(data))
	for _, item := range data {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func documentFilter(documentID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueText(documentID)
}

func firstChunkFilter() *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"chunkIndex"}).
		WithOperator(filters.Equal).
		WithValueInt(0)
}

func parseMatch(row map[string]interface{}) (types.ChunkMatch, error) {
	meta, err := decodeMetadata("query", stringField(row, "metadata"))
	if err != nil {
		return types.ChunkMatch{}, err
	}
	match := types.ChunkMatch{
		DocumentID: stringField(row, "documentId"),
		ChunkIndex: int(numberField(row, "chunkIndex")),
		Content:    stringField(row, "content"),
		FileType:   stringField(row, "fileType"),
		Metadata:   &meta,
	}
	if degraded, ok := row["embeddingDegraded"].(bool); ok {
		match.EmbeddingDegraded = degraded
	}
	if additional, ok := row["_additional"].(map[string]interface{}); ok {
		match.ChunkID = objectID(row)
		match.Certainty = numberField(additional, "certainty")
	}
	return match, nil
}

func parseInfo(row map[string]interface{}) (types.DocumentInfo, error) {
	meta, err := decodeMetadata("read metadata", stringField(row, "metadata"))
	if err != nil {
		return types.DocumentInfo{}, err
	}
	return types.DocumentInfo{
		DocumentID: stringField(row, "documentId"),
		FileType:   stringField(row, "fileType"),
		Metadata:   meta,
	}, nil
}

func stringField(row map[string]interface{}, key string) string {
	s, _ := row[key].(string)
	return s
}

func numberField(row map[string]interface{}, key string) float64 {
	f, _ := row[key].(float64)
	return f
}
