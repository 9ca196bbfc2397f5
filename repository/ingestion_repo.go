package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tieubaoca/docrag/types"
)

const ingestionCollection = "ingestions"

// IngestionRepo stores the history of upload, update and delete runs.
type IngestionRepo interface {
	Record(ctx context.Context, record *types.IngestionRecord) error
	// ListByDocument returns the newest records first.
	ListByDocument(ctx context.Context, documentID string, limit int) ([]*types.IngestionRecord, error)
}

type ingestionRepo struct {
	collection *mongo.Collection
}

func NewIngestionRepo(ctx context.Context, db *mongo.Database) (IngestionRepo, error) {
	collection := db.Collection(ingestionCollection)
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "document_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
			},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, err
	}
	return &ingestionRepo{collection: collection}, nil
}

func (r *ingestionRepo) Record(ctx context.Context, record *types.IngestionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	_, err := r.collection.InsertOne(ctx, record)
	return err
}

func (r *ingestionRepo) ListByDocument(ctx context.Context, documentID string, limit int) ([]*types.IngestionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]*types.IngestionRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// memoryIngestionRepo keeps history in process memory when no MongoDB is configured.
type memoryIngestionRepo struct {
	mu      sync.Mutex
	records []*types.IngestionRecord
}

func NewMemoryIngestionRepo() IngestionRepo {
	return &memoryIngestionRepo{}
}

func (r *memoryIngestionRepo) Record(_ context.Context, record *types.IngestionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	stored := *record
	r.records = append(r.records, &stored)
	return nil
}

func (r *memoryIngestionRepo) ListByDocument(_ context.Context, documentID string, limit int) ([]*types.IngestionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*types.IngestionRecord, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].DocumentID == documentID {
			rec := *r.records[i]
			records = append(records, &rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt > records[j].CreatedAt })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
