package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/database"
	"github.com/tieubaoca/docrag/repository"
	"github.com/tieubaoca/docrag/types"
	"github.com/tieubaoca/docrag/utils"
)

// Embedder is the part of EmbeddingService the pipeline depends on.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([]types.Embedding, error)
}

type DocumentServiceConfig struct {
	UploadDir       string
	MaxChunksPerDoc int
}

// DocumentService runs ingestion and retrieval for documents. Upload,
// update and delete on the same document id are serialized.
type DocumentService struct {
	store      database.VectorStore
	embedder   Embedder
	splitter   *TextSplitter
	extractors *Extractors
	history    repository.IngestionRepo
	events     EventPublisher
	locks      *utils.KeyedMutex
	uploadDir  string
	maxChunks  int
}

func NewDocumentService(
	config DocumentServiceConfig,
	store database.VectorStore,
	embedder Embedder,
	splitter *TextSplitter,
	extractors *Extractors,
) *DocumentService {
	uploadDir := config.UploadDir
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &DocumentService{
		store:      store,
		embedder:   embedder,
		splitter:   splitter,
		extractors: extractors,
		locks:      utils.NewKeyedMutex(),
		uploadDir:  uploadDir,
		maxChunks:  config.MaxChunksPerDoc,
	}
}

// WithHistory records every upload, update and delete in repo.
func (s *DocumentService) WithHistory(repo repository.IngestionRepo) *DocumentService {
	s.history = repo
	return s
}

// WithEvents publishes pipeline progress to publisher.
func (s *DocumentService) WithEvents(publisher EventPublisher) *DocumentService {
	s.events = publisher
	return s
}

// Upload ingests a new document read from r. The file type comes from the
// extension of filename.
func (s *DocumentService) Upload(ctx context.Context, r io.Reader, filename string) (*types.UploadResult, error) {
	fileType, err := types.FileTypeFromName(filename)
	if err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	unlock := s.locks.Lock(documentID)
	defer unlock()

	record := s.newRecord(documentID, types.OperationUpload, filename, fileType)
	result, err := s.ingest(ctx, record, r)
	s.finish(ctx, record, err)
	return result, err
}

// Update replaces the content of an existing document. The new chunk set
// is stored before the old one is removed, so a failed update leaves the
// previous version in place.
func (s *DocumentService) Update(ctx context.Context, documentID string, r io.Reader, filename string) (*types.UploadResult, error) {
	fileType, err := types.FileTypeFromName(filename)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(documentID)
	defer unlock()

	if _, err := s.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}

	record := s.newRecord(documentID, types.OperationUpdate, filename, fileType)
	result, err := s.ingest(ctx, record, r)
	if err == nil {
		if err = s.store.PruneDocument(ctx, documentID, record.Revision); err != nil {
			zap.S().Errorf("Document %s keeps stale chunks next to revision %s: %v", documentID, record.Revision, err)
			result = nil
		}
	}
	s.finish(ctx, record, err)
	return result, err
}

func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	info, err := s.requireDocument(ctx, documentID)
	if err != nil {
		return err
	}

	record := s.newRecord(documentID, types.OperationDelete, info.Metadata.Filename, info.FileType)
	err = s.store.DeleteDocument(ctx, documentID)
	if err == nil {
		s.publish(record, types.StageDeleted, 1, "")
	}
	s.finish(ctx, record, err)
	return err
}

func (s *DocumentService) Query(ctx context.Context, req types.QueryRequest) (*types.QueryResult, error) {
	limit, err := validateQuery(req.Query, req.Limit)
	if err != nil {
		return nil, err
	}

	info, err := s.requireDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.QueryWithinDocument(ctx, vector, req.DocumentID, limit)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i].Metadata = nil
	}

	return &types.QueryResult{
		DocumentID: req.DocumentID,
		Matches:    matches,
		Metadata:   info,
	}, nil
}

// CrossQuery searches every document and groups matches by document, in
// order of each document's best match.
func (s *DocumentService) CrossQuery(ctx context.Context, req types.CrossQueryRequest) (*types.CrossQueryResponse, error) {
	limit, err := validateQuery(req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	fileType := strings.ToLower(strings.TrimSpace(req.FileType))
	if fileType != "" && !types.IsSupportedFileType(fileType) {
		return nil, types.NewValidationError("unknown file type filter %q", req.FileType)
	}

	vector, err := s.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.QueryAcrossDocuments(ctx, vector, limit, fileType)
	if err != nil {
		return nil, err
	}

	results := make([]types.DocumentMatches, 0)
	position := make(map[string]int)
	for _, m := range matches {
		i, ok := position[m.DocumentID]
		if !ok {
			i = len(results)
			position[m.DocumentID] = i
			results = append(results, types.DocumentMatches{DocumentID: m.DocumentID})
		}
		results[i].Matches = append(results[i].Matches, m)
	}
	return &types.CrossQueryResponse{Results: results}, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context) ([]types.DocumentInfo, error) {
	return s.store.ListDocuments(ctx)
}

func (s *DocumentService) GetDocument(ctx context.Context, documentID string) (*types.DocumentInfo, error) {
	return s.requireDocument(ctx, documentID)
}

// Aggregate answers min, max, sum, avg or count over a numeric field of a
// JSON document, from extraction-time statistics when they exist.
func (s *DocumentService) Aggregate(ctx context.Context, req types.AggregationRequest) (*types.AggregationResult, error) {
	op := strings.ToLower(strings.TrimSpace(req.Operation))
	if !isAggregationOperation(op) {
		return nil, types.NewValidationError("unsupported operation %q, expected one of %s", req.Operation, strings.Join(AggregationOperations, ", "))
	}
	if req.Field == "" {
		return nil, types.NewValidationError("field is required")
	}

	info, err := s.requireDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if info.FileType != types.FileTypeJSON {
		return nil, types.NewValidationError("document %s is %s, aggregation needs a json document", req.DocumentID, info.FileType)
	}

	result := &types.AggregationResult{
		DocumentID: req.DocumentID,
		Field:      req.Field,
		Operation:  op,
	}
	if agg := info.Metadata.Aggregation; agg != nil {
		if summary, ok := agg.NumericFields[req.Field]; ok {
			result.Result = pick(summary, op)
			result.Source = types.AggregationSourcePrecomputed
			return result, nil
		}
	}

	value, ok := computeAggregation(info.Metadata.StructuredData, req.Field, op)
	if !ok {
		return nil, types.NewValidationError("field %q has no numeric values in document %s", req.Field, req.DocumentID)
	}
	result.Result = value
	result.Source = types.AggregationSourceComputed
	return result, nil
}

// History lists past ingestion runs of a document, newest first.
func (s *DocumentService) History(ctx context.Context, documentID string, limit int) ([]*types.IngestionRecord, error) {
	if s.history == nil {
		return []*types.IngestionRecord{}, nil
	}
	return s.history.ListByDocument(ctx, documentID, limit)
}

func (s *DocumentService) ingest(ctx context.Context, record *types.IngestionRecord, r io.Reader) (*types.UploadResult, error) {
	path, err := utils.StageUpload(r, s.uploadDir, record.Filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			zap.S().Warnf("Failed to remove staged file %s: %v", path, err)
		}
	}()
	s.publish(record, types.StageStaged, 0.1, "")

	extractor, err := s.extractors.ExtractorFor(record.FileType)
	if err != nil {
		return nil, err
	}
	extraction, err := extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	chunks := s.splitter.Split(extraction.Text)
	if len(chunks) == 0 {
		return nil, &types.ExtractionError{FileType: record.FileType, Err: errors.New("no text could be extracted")}
	}
	truncated := false
	if s.maxChunks > 0 && len(chunks) > s.maxChunks {
		zap.S().Warnf("Document %s produced %d chunks, keeping the first %d", record.DocumentID, len(chunks), s.maxChunks)
		chunks = chunks[:s.maxChunks]
		truncated = true
	}
	s.publish(record, types.StageExtracted, 0.3, "")

	embeddings, err := s.embedder.EmbedMany(ctx, chunks)
	if err != nil {
		return nil, err
	}
	inputs := make([]types.ChunkInput, len(chunks))
	degraded := 0
	for i, chunk := range chunks {
		inputs[i] = types.ChunkInput{Content: chunk, Vector: embeddings[i].Vector, Degraded: embeddings[i].Degraded}
		if embeddings[i].Degraded {
			degraded++
		}
	}
	s.publish(record, types.StageEmbedded, 0.7, "")

	metadata := types.DocumentMetadata{
		FileType:       record.FileType,
		Filename:       record.Filename,
		ChunkCount:     len(chunks),
		Truncated:      truncated,
		DegradedChunks: degraded,
		StructuredData: extraction.StructuredData,
		Aggregation:    extraction.Aggregation,
	}
	ids, err := s.store.UpsertChunks(ctx, types.ChunkBatch{
		DocumentID: record.DocumentID,
		Revision:   record.Revision,
		FileType:   record.FileType,
		Metadata:   metadata,
		Chunks:     inputs,
	})
	if err != nil {
		return nil, err
	}

	record.ChunkCount = len(chunks)
	record.DegradedChunks = degraded
	record.Truncated = truncated
	s.publish(record, types.StageStored, 1, "")
	zap.S().Infof("Stored %d chunks for document %s (%s)", len(ids), record.DocumentID, record.Filename)

	return &types.UploadResult{
		DocumentID: record.DocumentID,
		Metadata:   metadata,
		ChunkIDs:   ids,
	}, nil
}

func (s *DocumentService) requireDocument(ctx context.Context, documentID string) (*types.DocumentInfo, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, types.NewValidationError("document_id is required")
	}
	info, err := s.store.GetDocumentMetadata(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, types.NewNotFoundError(documentID)
	}
	return info, nil
}

func (s *DocumentService) newRecord(documentID, operation, filename, fileType string) *types.IngestionRecord {
	return &types.IngestionRecord{
		DocumentID: documentID,
		Operation:  operation,
		Filename:   filepath.Base(filename),
		FileType:   fileType,
		Revision:   uuid.NewString(),
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// finish stamps the outcome on record, stores it and reports failures.
func (s *DocumentService) finish(ctx context.Context, record *types.IngestionRecord, err error) {
	record.DurationMs = time.Now().UnixMilli() - record.CreatedAt
	if err != nil {
		record.Status = types.IngestionStatusFailed
		record.Error = err.Error()
		s.publish(record, types.StageFailed, 1, err.Error())
		zap.S().Warnf("%s of document %s failed: %v", record.Operation, record.DocumentID, err)
	} else {
		record.Status = types.IngestionStatusSucceeded
	}

	if s.history == nil {
		return
	}
	if herr := s.history.Record(context.WithoutCancel(ctx), record); herr != nil {
		zap.S().Warnf("Failed to record ingestion history for %s: %v", record.DocumentID, herr)
	}
}

func (s *DocumentService) publish(record *types.IngestionRecord, stage string, progress float64, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(types.ProgressEvent{
		DocumentID: record.DocumentID,
		Operation:  record.Operation,
		Stage:      stage,
		Message:    message,
		Progress:   progress,
		Time:       time.Now(),
	})
}

func validateQuery(query string, limit int) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, types.NewValidationError("query is required")
	}
	if limit == 0 {
		return types.DefaultQueryLimit, nil
	}
	if limit < 1 || limit > types.MaxQueryLimit {
		return 0, types.NewValidationError("limit must be between 1 and %d, got %d", types.MaxQueryLimit, limit)
	}
	return limit, nil
}
