package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const defaultMongoDatabase = "kindred"

// MongoConnection owns a connected client and the database named by the URI path.
type MongoConnection struct {
	Client   *mongodriver.Client
	Database *mongodriver.Database
}

// Close disconnects the client.
func (c *MongoConnection) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

// OpenMongo connects to uri and pings the primary within timeout.
func OpenMongo(ctx context.Context, uri string, timeout time.Duration, logger *zap.Logger) (*MongoConnection, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongodriver.Connect(connectCtx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	name := databaseFromURI(uri)
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", name))
	}
	return &MongoConnection{Client: client, Database: client.Database(name)}, nil
}

// databaseFromURI extracts the database name from the URI path, falling back to the default.
func databaseFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(parsed.Path, "/"); name != "" {
			return name
		}
	}
	return defaultMongoDatabase
}
