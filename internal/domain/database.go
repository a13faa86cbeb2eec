package domain

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

type Source interface {
	DatabaseNames(ctx context.Context) ([]string, error)
	CollectionNames(ctx context.Context, database string) ([]string, error)
	Indexes(ctx context.Context, database, collection string) ([]IndexDefinition, error)
	CountDocuments(ctx context.Context, database, collection string) (int64, error)
	Documents(ctx context.Context, database, collection string) (DocumentCursor, error)
	Close(ctx context.Context) error
}

// DocumentCursor yields one raw document at a time. Current is only valid
// until the next call to Next.
type DocumentCursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}
