// Package quarantine keeps quarantined messages in MongoDB so operators can
// inspect and replay them.
package quarantine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"labflow/internal/constants"
	"labflow/pkg/migrations"
	"labflow/pkg/models"
)

type ListFilter struct {
	Reason string
	Limit  int64
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = constants.DefaultQuarantineCollection
	}
	return &MongoStore{collection: db.Collection(collection)}
}

// EnsureIndexes is idempotent.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return migrations.EnsureQuarantineCollection(ctx, s.collection.Database(), s.collection.Name())
}

// Quarantine upserts on message id, so replaying the same message keeps one
// document carrying the latest reason.
func (s *MongoStore) Quarantine(ctx context.Context, record models.QuarantineRecord) error {
	if record.MessageID == "" {
		return fmt.Errorf("quarantine record has no message id")
	}

	filter := bson.M{"_id": record.MessageID}
	opts := options.Replace().SetUpsert(true)

	if _, err := s.collection.ReplaceOne(ctx, filter, record, opts); err != nil {
		return fmt.Errorf("failed to quarantine message %s: %w", record.MessageID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, messageID string) (*models.QuarantineRecord, error) {
	var record models.QuarantineRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quarantined message: %w", err)
	}
	return &record, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) ([]models.QuarantineRecord, error) {
	query := bson.M{}
	if filter.Reason != "" {
		query["reason"] = filter.Reason
	}

	opts := options.Find().SetSort(bson.D{{Key: "quarantined_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantined messages: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.QuarantineRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode quarantined messages: %w", err)
	}
	return records, nil
}

// Release removes a record once the message has been corrected and replayed.
func (s *MongoStore) Release(ctx context.Context, messageID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": messageID})
	if err != nil {
		return fmt.Errorf("failed to release quarantined message: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("quarantined message %s not found", messageID)
	}
	return nil
}
