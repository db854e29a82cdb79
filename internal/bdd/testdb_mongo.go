package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/resume-chat/internal/config"
	mongoplugin "github.com/chirino/resume-chat/internal/plugin/store/mongo"
	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoTestDB implements cucumber.TestDB for MongoDB.
type MongoTestDB struct {
	Config *config.Config
}

var _ cucumber.TestDB = (*MongoTestDB)(nil)

func (m *MongoTestDB) ClearAll(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.Config.DBURL))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(mongoplugin.DatabaseName(m.Config))
	for _, coll := range resumeTables {
		if _, err := db.Collection(coll).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("cleanup: failed to clear %s: %w", coll, err)
		}
	}
	return nil
}

// ExecSQL returns nil so SQL assertions are skipped on MongoDB.
func (m *MongoTestDB) ExecSQL(_ context.Context, _ string) ([]map[string]interface{}, error) {
	return nil, nil
}
