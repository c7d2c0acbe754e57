package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureQuarantineCollection creates the indexes used by the quarantine store.
// The collection itself is created on first insert.
func EnsureQuarantineCollection(ctx context.Context, db *mongo.Database, name string) error {
	collection := db.Collection(name)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "quarantined_at", Value: -1}},
			Options: options.Index().SetName("idx_quarantine_quarantined_at"),
		},
		{
			Keys:    bson.D{{Key: "reason", Value: 1}, {Key: "quarantined_at", Value: -1}},
			Options: options.Index().SetName("idx_quarantine_reason_quarantined_at"),
		},
		{
			Keys:    bson.D{{Key: "sending_facility", Value: 1}},
			Options: options.Index().SetName("idx_quarantine_sending_facility"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
