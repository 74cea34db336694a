// Package mongostore implements storemgr.Store on top of the official MongoDB
// Go driver.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

// DefaultDatabase is used when neither the options nor the connection string
// name a database.
const DefaultDatabase = "test"

// Store is a storemgr.Store backed by one *mongo.Client and database.
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	pingTimeout time.Duration
}

var _ storemgr.Store = (*Store)(nil)

// NewDialer returns a storemgr.Dialer that connects with the MongoDB driver.
// When opts.MonitorCommands is set, driver commands are reported to logger.
func NewDialer(logger *slog.Logger) storemgr.Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, uri string, opts storemgr.ClientOptions) (storemgr.Store, error) {
		return Dial(ctx, uri, opts, logger)
	}
}

// Dial creates a client for uri. The driver connects in the background, so
// Dial does not wait for the server; call Ping to complete the handshake.
func Dial(ctx context.Context, uri string, opts storemgr.ClientOptions, logger *slog.Logger) (*Store, error) {
	dbName, err := databaseName(uri, opts.Database)
	if err != nil {
		return nil, err
	}
	clientOpts := clientOptions(uri, opts, logger)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	return &Store{
		client:      client,
		db:          client.Database(dbName),
		pingTimeout: opts.ServerSelectionTimeout,
	}, nil
}

// Ping waits for a server matching the connection string's read preference,
// bounded by the server selection timeout.
func (s *Store) Ping(ctx context.Context) error {
	if s.pingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pingTimeout)
		defer cancel()
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongostore: ping: %w", err)
	}
	return nil
}

func clientOptions(uri string, opts storemgr.ClientOptions, logger *slog.Logger) *options.ClientOptions {
	co := options.Client().
		ApplyURI(uri).
		SetRetryWrites(opts.RetryWrites).
		SetRetryReads(opts.RetryReads)
	if opts.ConnectTimeout > 0 {
		co.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.SocketTimeout > 0 {
		co.SetSocketTimeout(opts.SocketTimeout)
	}
	if opts.ServerSelectionTimeout > 0 {
		co.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}
	if opts.AppName != "" {
		co.SetAppName(opts.AppName)
	}
	if opts.MonitorCommands && logger != nil {
		co.SetMonitor(commandMonitor(logger))
	}
	return co
}

func commandMonitor(logger *slog.Logger) *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(_ context.Context, evt *event.CommandStartedEvent) {
			logger.Debug("mongo command started",
				slog.String("command", evt.CommandName),
				slog.String("database", evt.DatabaseName),
				slog.Int64("request_id", evt.RequestID))
		},
		Succeeded: func(_ context.Context, evt *event.CommandSucceededEvent) {
			logger.Debug("mongo command succeeded",
				slog.String("command", evt.CommandName),
				slog.Int64("request_id", evt.RequestID),
				slog.Duration("duration", evt.Duration))
		},
		Failed: func(_ context.Context, evt *event.CommandFailedEvent) {
			logger.Warn("mongo command failed",
				slog.String("command", evt.CommandName),
				slog.Int64("request_id", evt.RequestID),
				slog.String("failure", evt.Failure))
		},
	}
}

// databaseName resolves which database to expose: an explicit override
// first, then the path of the connection string, then DefaultDatabase.
func databaseName(uri, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return "", fmt.Errorf("mongostore: parse connection string: %w", err)
	}
	if cs.Database != "" {
		return cs.Database, nil
	}
	return DefaultDatabase, nil
}

// Database reports the name of the exposed database.
func (s *Store) Database() string { return s.db.Name() }

// ListCollections returns collection names in the order the server reports
// them.
func (s *Store) ListCollections(ctx context.Context) ([]storemgr.CollectionInfo, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, mongoerr.Operation("listCollections", err)
	}
	out := make([]storemgr.CollectionInfo, 0, len(names))
	for _, name := range names {
		out = append(out, storemgr.CollectionInfo{Name: name})
	}
	return out, nil
}

// Find runs q against collection. Documents decode as bson.D so their fields
// keep the order the server returned.
func (s *Store) Find(ctx context.Context, collection string, q storemgr.Query) ([]bson.D, error) {
	filter := q.Filter
	if filter == nil {
		filter = bson.D{}
	}
	findOpts := options.Find().SetLimit(q.Limit)
	if len(q.Projection) > 0 {
		findOpts.SetProjection(q.Projection)
	}
	cursor, err := s.db.Collection(collection).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, mongoerr.Operation("find", err)
	}
	docs := []bson.D{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoerr.Operation("find", err)
	}
	return docs, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("mongostore: disconnect: %w", err)
	}
	return nil
}
