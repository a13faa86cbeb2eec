package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/domain"
)

const defaultConnectTimeout = 15 * time.Second

// MongoConnector opens a MongoDB source from resolved credentials.
type MongoConnector struct {
	Mode           string
	Scheme         string
	Options        string
	ConnectTimeout time.Duration
}

func NewMongoConnector(cfg *config.MongoConfig) *MongoConnector {
	return &MongoConnector{
		Mode:           cfg.Mode,
		Scheme:         cfg.Scheme,
		Options:        cfg.Options,
		ConnectTimeout: defaultConnectTimeout,
	}
}

// URI builds the connection string. Admin mode authenticates against the
// admin database; scoped mode embeds the target database so no
// administrative privileges are needed.
func (c *MongoConnector) URI(creds domain.Credentials) (string, error) {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "mongodb"
	}

	query, err := url.ParseQuery(strings.TrimPrefix(c.Options, "?"))
	if err != nil {
		return "", fmt.Errorf("failed to parse mongo options: %w", err)
	}

	u := &url.URL{
		Scheme: scheme,
		Host:   creds.Host,
		Path:   "/",
	}
	if creds.Username != "" {
		u.User = url.UserPassword(creds.Username, creds.Password)
	}

	switch c.Mode {
	case config.ModeScoped:
		if creds.Database == "" {
			return "", fmt.Errorf("scoped mode requires a database name")
		}
		u.Path = "/" + creds.Database
	default:
		query.Set("authSource", "admin")
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *MongoConnector) Connect(ctx context.Context, creds domain.Credentials) (domain.Source, error) {
	uri, err := c.URI(creds)
	if err != nil {
		return nil, err
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB at %s: %w", creds.Host, err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB at %s: %w", creds.Host, err)
	}

	return &MongoSource{client: client}, nil
}

type MongoSource struct {
	client *mongo.Client
}

func (s *MongoSource) DatabaseNames(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	return names, nil
}

func (s *MongoSource) CollectionNames(ctx context.Context, database string) ([]string, error) {
	names, err := s.client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections of %s: %w", database, err)
	}
	return names, nil
}

func (s *MongoSource) Indexes(ctx context.Context, database, collection string) ([]domain.IndexDefinition, error) {
	cursor, err := s.client.Database(database).Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s.%s: %w", database, collection, err)
	}
	defer cursor.Close(ctx)

	var indexes []domain.IndexDefinition
	for cursor.Next(ctx) {
		indexes = append(indexes, cloneRaw(cursor.Current))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error reading indexes of %s.%s: %w", database, collection, err)
	}

	return indexes, nil
}

func (s *MongoSource) CountDocuments(ctx context.Context, database, collection string) (int64, error) {
	count, err := s.client.Database(database).Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents in %s.%s: %w", database, collection, err)
	}
	return count, nil
}

func (s *MongoSource) Documents(ctx context.Context, database, collection string) (domain.DocumentCursor, error) {
	cursor, err := s.client.Database(database).Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", database, collection, err)
	}
	return &mongoCursor{cursor: cursor}, nil
}

func (s *MongoSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

type mongoCursor struct {
	cursor *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool   { return c.cursor.Next(ctx) }
func (c *mongoCursor) Current() bson.Raw               { return c.cursor.Current }
func (c *mongoCursor) Err() error                      { return c.cursor.Err() }
func (c *mongoCursor) Close(ctx context.Context) error { return c.cursor.Close(ctx) }

// cloneRaw copies a document out of the cursor's batch buffer.
func cloneRaw(raw bson.Raw) bson.Raw {
	out := make(bson.Raw, len(raw))
	copy(out, raw)
	return out
}
