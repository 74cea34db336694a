package storemgr

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Query is a validated find request against one collection.
type Query struct {
	Filter     bson.D
	Projection bson.D
	Limit      int64
}

// CollectionInfo describes a collection as reported by the store.
type CollectionInfo struct {
	Name string
}

// Store is the capability set the server needs from a document store. The
// manager owns the lifecycle of a Store; handlers only borrow it.
type Store interface {
	// ListCollections returns the database's collections in the order the
	// store reports them.
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	// Find runs q against collection and returns the matching documents
	// with their fields in stored order.
	Find(ctx context.Context, collection string, q Query) ([]bson.D, error)
	// Ping completes the handshake with the store.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Dialer creates a Store handle. It should not wait for the server; the
// Manager calls Ping afterwards to complete the handshake.
type Dialer func(ctx context.Context, uri string, opts ClientOptions) (Store, error)
